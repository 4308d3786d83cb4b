package embedding

import (
	"context"
	"crypto/sha256"
)

// MockClient produces deterministic pseudo-embeddings derived from the
// input text, at the same width as the real provider. Identical inputs
// yield identical vectors, so similarity comparisons behave consistently
// in tests and local development.
type MockClient struct {
	EmbedError error

	// Call tracking for assertions
	EmbedCalls []string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.EmbedCalls = append(c.EmbedCalls, text)
	if c.EmbedError != nil {
		return nil, c.EmbedError
	}

	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, Dimensions)
	for i := 0; i < Dimensions; i++ {
		b := sum[i%len(sum)]
		vec[i] = (float32(b)/255)*2 - 1
	}
	return vec, nil
}
