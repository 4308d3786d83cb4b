package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	openAIEmbeddingURL = "https://api.openai.com/v1/embeddings"

	// DefaultModel is the embedding model used when none is configured.
	DefaultModel = "text-embedding-3-small"
	// Dimensions is the vector width every provider must produce. The
	// vector columns in the schema are sized to this; a model that emits a
	// different width would silently break inserts, so the client requests
	// this width explicitly and rejects anything else.
	Dimensions = 1536
)

type OpenAIClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIClient builds a client for the given model. An empty model
// selects DefaultModel.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{
		Model:      c.model,
		Input:      text,
		Dimensions: Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIEmbeddingURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}

	return parseEmbeddingResponse(resp.StatusCode, respBody, Dimensions)
}

// parseEmbeddingResponse validates an API reply and enforces the expected
// vector width.
func parseEmbeddingResponse(status int, body []byte, want int) ([]float32, error) {
	var result embeddingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		if status != http.StatusOK {
			return nil, fmt.Errorf("embedding API returned status %d: %s", status, string(body))
		}
		return nil, fmt.Errorf("unmarshal embedding response: %w", err)
	}

	if result.Error != nil {
		return nil, fmt.Errorf("embedding API error: %s", result.Error.Message)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status %d: %s", status, string(body))
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embedding API returned no data")
	}

	vec := result.Data[0].Embedding
	if len(vec) != want {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vec), want)
	}
	return vec, nil
}
