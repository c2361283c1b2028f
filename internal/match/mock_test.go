package match

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/medmatch-ai/medmatch/pkg/llm"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.CompletionResponse), args.Error(1)
}
