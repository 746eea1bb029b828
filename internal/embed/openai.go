// Package embed provides the embedding client the repair executor uses to
// regenerate vectors. The model itself is an external service reached over
// an OpenAI-compatible API.
package embed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultDimension = 1536

// OpenAI implements the engine's Embedder interface.
type OpenAI struct {
	client    *openai.Client
	model     string
	dimension int
}

func NewOpenAI(apiKey, baseURL, model string, dimension int) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}

	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	if dimension <= 0 {
		dimension = defaultDimension
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		dimension: dimension,
	}
}

func (o *OpenAI) Dimension() int {
	return o.dimension
}

// Embed turns text chunks into vectors, one per input, in input order.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// The API does not guarantee response order; place by index.
	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
