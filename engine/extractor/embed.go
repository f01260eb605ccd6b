package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EmbeddingDims is the vector width produced by the configured embedding
// service (Jina v3, per original_source/Agent/vector_search.py).
const EmbeddingDims = 1536

// Embedder turns text into a fixed-width embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPEmbedder calls an external embedding service (EMBED_ENDPOINT) shaped
// like the original's Jina v3 wrapper: POST {"text": ...} -> {"embedding": [...]}.
type HTTPEmbedder struct {
	Endpoint   string
	HTTPClient *http.Client
}

// NewHTTPEmbedder creates an embedder targeting endpoint.
func NewHTTPEmbedder(endpoint string) *HTTPEmbedder {
	return &HTTPEmbedder{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extractor: embed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("extractor: embed service returned %d", resp.StatusCode)
	}
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("extractor: decode embedding: %w", err)
	}
	return out.Embedding, nil
}
