package enrich

import (
	"errors"
	"testing"

	"github.com/user/issue-stream/internal/domain"
)

func TestParseDigest(t *testing.T) {
	tests := []struct {
		name         string
		reply        string
		wantSummary  string
		wantCategory string
		wantRetry    bool
	}{
		{
			name:         "plain json",
			reply:        `{"summary": "Login is broken.", "category": "bug"}`,
			wantSummary:  "Login is broken.",
			wantCategory: "bug",
		},
		{
			name:         "fenced json",
			reply:        "```json\n{\"summary\": \"Login is broken.\", \"category\": \"bug\"}\n```",
			wantSummary:  "Login is broken.",
			wantCategory: "bug",
		},
		{
			name:         "missing category defaults to other",
			reply:        `{"summary": "Login is broken."}`,
			wantSummary:  "Login is broken.",
			wantCategory: "other",
		},
		{
			name:      "not json",
			reply:     "Sure! Here is the summary you asked for.",
			wantRetry: true,
		},
		{
			name:      "empty summary",
			reply:     `{"summary": "", "category": "bug"}`,
			wantRetry: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			digest, err := ParseDigest(tt.reply)

			if tt.wantRetry {
				var retryable *domain.RetryableEnrichmentError
				if !errors.As(err, &retryable) {
					t.Fatalf("ParseDigest() error = %v, want RetryableEnrichmentError", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseDigest() error = %v", err)
			}
			if digest.Summary != tt.wantSummary {
				t.Errorf("Summary = %q, want %q", digest.Summary, tt.wantSummary)
			}
			if digest.Category != tt.wantCategory {
				t.Errorf("Category = %q, want %q", digest.Category, tt.wantCategory)
			}
		})
	}
}
