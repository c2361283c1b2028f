package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnthropicRequiresKey(t *testing.T) {
	c, err := NewAnthropic("")
	require.Error(t, err)
	assert.Nil(t, c)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestNewAnthropicWithKey(t *testing.T) {
	c, err := NewAnthropic("sk-test")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{InputTokens: 100, OutputTokens: 50}
	u.Add(TokenUsage{InputTokens: 200, OutputTokens: 75})
	assert.Equal(t, int64(300), u.InputTokens)
	assert.Equal(t, int64(125), u.OutputTokens)
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		name  string
		usage TokenUsage
		model string
		want  float64
	}{
		{"sonnet", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, "claude-sonnet-4-5-20250929", 18.00},
		{"haiku", TokenUsage{InputTokens: 2_000_000, OutputTokens: 500_000}, "claude-haiku-4-5-20251001", 3.60},
		{"unknown model", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, "mystery-model", 0},
		{"zero usage", TokenUsage{}, "claude-sonnet-4-5-20250929", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.usage.EstimateCost(tt.model), 0.001)
		})
	}
}
