package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/user/issue-stream/internal/adapter/enrich"
	"github.com/user/issue-stream/internal/domain"
)

// Summarizer implements domain.Summarizer on the Anthropic Messages API.
// Selected with GENERATOR_PROVIDER=anthropic.
type Summarizer struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewSummarizer creates an Anthropic-backed summarizer for the given model.
func NewSummarizer(apiKey, model string) *Summarizer {
	if model == "" {
		model = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	return &Summarizer{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Summarize asks the model for a short summary and category label of the
// issue text, as JSON.
func (s *Summarizer) Summarize(ctx context.Context, text string) (domain.Digest, error) {
	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: enrich.DigestPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return domain.Digest{}, classify(err)
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	if reply.Len() == 0 {
		return domain.Digest{}, &domain.RetryableEnrichmentError{Err: errors.New("no response from Anthropic")}
	}

	return enrich.ParseDigest(reply.String())
}

// classify maps an Anthropic client error onto the enrichment error
// taxonomy, mirroring the OpenAI adapter.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return &domain.RetryableEnrichmentError{Err: err}
		}
		return &domain.PermanentEnrichmentError{Reason: "backend rejected request", Err: err}
	}
	return &domain.RetryableEnrichmentError{Err: err}
}

var _ domain.Summarizer = (*Summarizer)(nil)
