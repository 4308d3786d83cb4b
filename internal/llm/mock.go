package llm

import (
	"context"

	"github.com/Harshitk-cp/mnemo/internal/domain"
)

// MockClient is a configurable LLM client for testing.
// Set the response fields to control what each method returns.
type MockClient struct {
	CompleteResponse *domain.Completion
	CompleteError    error
	// CompleteResponses, when set, is consumed one element per call; useful
	// for scripting multi-iteration tool loops.
	CompleteResponses []*domain.Completion

	CoreferenceResponse string
	CoreferenceError    error

	// Call tracking for assertions
	CompleteCalls    []string
	CoreferenceCalls []string
}

func NewMockClient() *MockClient {
	return &MockClient{
		CompleteResponse:    &domain.Completion{Text: "Mock reply"},
		CoreferenceResponse: domain.CoreferenceUnknown,
	}
}

func (c *MockClient) Complete(ctx context.Context, prompt string, tools []domain.ToolDef) (*domain.Completion, error) {
	c.CompleteCalls = append(c.CompleteCalls, prompt)
	if c.CompleteError != nil {
		return nil, c.CompleteError
	}
	if len(c.CompleteResponses) > 0 {
		resp := c.CompleteResponses[0]
		c.CompleteResponses = c.CompleteResponses[1:]
		return resp, nil
	}
	return c.CompleteResponse, nil
}

func (c *MockClient) ResolveCoreference(ctx context.Context, mention string, candidates []domain.CoreferenceCandidate) (string, error) {
	c.CoreferenceCalls = append(c.CoreferenceCalls, mention)
	if c.CoreferenceError != nil {
		return "", c.CoreferenceError
	}
	return c.CoreferenceResponse, nil
}
