package openai

import (
	"errors"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/user/issue-stream/internal/domain"
)

var errEmptyResponse = errors.New("no response from OpenAI")

// classify maps an OpenAI client error onto the enrichment error taxonomy.
// Rate limits, server errors and network failures are transient; any other
// API rejection is permanent since redelivery will not change the request.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return &domain.RetryableEnrichmentError{Err: err}
		}
		return &domain.PermanentEnrichmentError{Reason: "backend rejected request", Err: err}
	}
	// Transport-level failure (timeout, connection reset, DNS).
	return &domain.RetryableEnrichmentError{Err: err}
}
