// Package enrich holds what the summarizer providers share: the digest
// prompt and the parsing of the model's JSON reply.
package enrich

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/user/issue-stream/internal/domain"
)

// DigestPrompt instructs the generation backend to reply with a JSON digest.
const DigestPrompt = `You summarize issue-tracker tickets. Given the ticket text, respond with a JSON object with exactly two keys: "summary", a single sentence describing the ticket, and "category", one of: bug, feature, task, question, incident, other. Respond with the JSON object only.`

// ParseDigest decodes the model's reply into a Digest. Models occasionally
// fence the JSON in markdown; strip that before decoding. An undecodable or
// empty reply is classified retryable, since regeneration usually fixes it.
func ParseDigest(reply string) (domain.Digest, error) {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var digest domain.Digest
	if err := json.Unmarshal([]byte(cleaned), &digest); err != nil {
		return domain.Digest{}, &domain.RetryableEnrichmentError{Err: err}
	}
	if digest.Summary == "" {
		return domain.Digest{}, &domain.RetryableEnrichmentError{Err: errNoSummary}
	}
	if digest.Category == "" {
		digest.Category = "other"
	}
	return digest, nil
}

var errNoSummary = errors.New("digest reply has no summary")
