package openai

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/user/issue-stream/internal/domain"
)

// Embedder implements domain.Embedder on the OpenAI embeddings API.
type Embedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewEmbedder creates an OpenAI-backed embedder for the given model.
func NewEmbedder(apiKey, model string) *Embedder {
	return &Embedder{
		client: openai.NewClient(apiKey),
		model:  openai.EmbeddingModel(model),
	}
}

// Embed returns the embedding vector for text. Errors are classified into
// the pipeline taxonomy: retryable for transient backend trouble, permanent
// for rejections redelivery cannot fix.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	rsp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, classify(err)
	}

	if len(rsp.Data) == 0 || len(rsp.Data[0].Embedding) == 0 {
		return nil, &domain.RetryableEnrichmentError{Err: errEmptyResponse}
	}

	return rsp.Data[0].Embedding, nil
}

var _ domain.Embedder = (*Embedder)(nil)
