package openai

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/user/issue-stream/internal/adapter/enrich"
	"github.com/user/issue-stream/internal/domain"
)

// Summarizer implements domain.Summarizer on the OpenAI chat completion API.
type Summarizer struct {
	client *openai.Client
	model  string
}

// NewSummarizer creates an OpenAI-backed summarizer for the given model.
func NewSummarizer(apiKey, model string) *Summarizer {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Summarizer{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Summarize asks the model for a short summary and category label of the
// issue text, as JSON.
func (s *Summarizer) Summarize(ctx context.Context, text string) (domain.Digest, error) {
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: enrich.DigestPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	rsp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Digest{}, classify(err)
	}

	if len(rsp.Choices) == 0 || len(rsp.Choices[0].Message.Content) == 0 {
		return domain.Digest{}, &domain.RetryableEnrichmentError{Err: errEmptyResponse}
	}

	return enrich.ParseDigest(rsp.Choices[0].Message.Content)
}

var _ domain.Summarizer = (*Summarizer)(nil)
