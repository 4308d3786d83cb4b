package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func embeddingBody(t *testing.T, width int) []byte {
	t.Helper()
	vec := make([]float32, width)
	for i := range vec {
		vec[i] = float32(i)
	}
	body, err := json.Marshal(map[string]any{
		"data": []map[string]any{{"embedding": vec}},
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func TestParseEmbeddingResponse_EnforcesDimensions(t *testing.T) {
	body := embeddingBody(t, 3)

	if _, err := parseEmbeddingResponse(http.StatusOK, body, 3); err != nil {
		t.Fatalf("expected matching width to pass, got %v", err)
	}

	_, err := parseEmbeddingResponse(http.StatusOK, body, Dimensions)
	if err == nil {
		t.Fatal("expected a width mismatch to be rejected")
	}
	if !strings.Contains(err.Error(), "dimensions") {
		t.Fatalf("expected a dimensions error, got %v", err)
	}
}

func TestParseEmbeddingResponse_Errors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"api error", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, "bad key"},
		{"non-json failure", http.StatusInternalServerError, "boom", "status 500"},
		{"empty data", http.StatusOK, `{"data":[]}`, "no data"},
	}
	for _, tc := range cases {
		_, err := parseEmbeddingResponse(tc.status, []byte(tc.body), Dimensions)
		if err == nil {
			t.Fatalf("%s: expected an error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestRequestCarriesModelAndDimensions(t *testing.T) {
	body, err := json.Marshal(embeddingRequest{
		Model:      DefaultModel,
		Input:      "hello",
		Dimensions: Dimensions,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if decoded["model"] != DefaultModel {
		t.Fatalf("expected model %q, got %v", DefaultModel, decoded["model"])
	}
	if int(decoded["dimensions"].(float64)) != Dimensions {
		t.Fatalf("expected dimensions %d, got %v", Dimensions, decoded["dimensions"])
	}
}

func TestMockClient_MatchesProviderWidth(t *testing.T) {
	c := NewMockClient()

	vec, err := c.Embed(context.Background(), "Acme Corporation")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != Dimensions {
		t.Fatalf("expected %d dimensions, got %d", Dimensions, len(vec))
	}

	again, _ := c.Embed(context.Background(), "Acme Corporation")
	for i := range vec {
		if vec[i] != again[i] {
			t.Fatal("expected deterministic vectors for identical input")
		}
	}
}
