package openai

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/fleetsense/fleetsense/rag/embedder"
)

// Embedder produces embeddings via the OpenAI embeddings API. A custom
// base URL allows pointing at any OpenAI-compatible endpoint.
type Embedder struct {
	client     openaisdk.Client
	model      openaisdk.EmbeddingModel
	dimensions int
}

// New creates an OpenAI embedder.
func New(apiKey, baseURL string, model openaisdk.EmbeddingModel, dimensions int) *Embedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Embedder{
		client:     openaisdk.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}
}

func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openaisdk.EmbeddingNewParams{
		Model: e.model,
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float64, len(resp.Data))
	for i, emb := range resp.Data {
		out[i] = clipVector(emb.Embedding, e.dimensions)
	}
	return out, nil
}

func clipVector(input []float64, expected int) []float64 {
	vec := make([]float64, expected)
	for i := 0; i < len(input) && i < expected; i++ {
		vec[i] = input[i]
	}
	return vec
}

var _ embedder.Embedder = (*Embedder)(nil)
