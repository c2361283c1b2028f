package resilience

import (
	"errors"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/medmatch-ai/medmatch/pkg/llm"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"upstream", llm.ErrUpstream, true},
		{"wrapped upstream", eris.Wrap(llm.ErrUpstream, "match: completion"), true},
		{"malformed output", llm.ErrMalformedOutput, false},
		{"wrapped malformed", eris.Wrap(llm.ErrMalformedOutput, "extract: parse"), false},
		{"unavailable", llm.ErrUnavailable, false},
		{"empty profile", llm.ErrEmptyProfile, false},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"rate limit text", errors.New("429 rate limit exceeded"), true},
		{"overloaded text", errors.New("api_error: Overloaded"), true},
		{"io timeout text", errors.New("read tcp: i/o timeout"), true},
		{"ordinary error", errors.New("invalid argument"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
