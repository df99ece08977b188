package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/user/issue-stream/internal/adapter/metrics"
	"github.com/user/issue-stream/internal/domain"
)

// eventKeyHeader carries the change type on Jira webhook deliveries.
const eventKeyHeader = "X-Event-Key"

// Ingestor is the slice of the ingest use case the handler needs.
type Ingestor interface {
	Ingest(ctx context.Context, issueID, eventKey string) (domain.Event, error)
}

// WebhookHandler accepts issue-tracker webhook notifications and enqueues
// them on the raw channel.
//
// Responses follow webhook retry semantics: 200 once the event is on the raw
// channel, 4xx for a body the tracker should not re-send, 5xx when the fetch
// or publish failed and a re-send may succeed.
type WebhookHandler struct {
	useCase Ingestor
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
	maxBody int64
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(uc Ingestor, logger *slog.Logger, m *metrics.PipelineMetrics, maxBody int64) *WebhookHandler {
	return &WebhookHandler{
		useCase: uc,
		logger:  logger,
		metrics: m,
		maxBody: maxBody,
	}
}

// webhookBody is the minimal shape of a Jira webhook notification.
type webhookBody struct {
	WebhookEvent string `json:"webhookEvent"`
	Issue        struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	} `json:"issue"`
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var body webhookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.metrics.WebhookRequests.WithLabelValues("malformed").Inc()
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	issueID := body.Issue.ID
	if issueID == "" {
		issueID = body.Issue.Key
	}
	if issueID == "" {
		h.metrics.WebhookRequests.WithLabelValues("malformed").Inc()
		http.Error(w, "no issue data found in payload", http.StatusBadRequest)
		return
	}

	eventKey := r.Header.Get(eventKeyHeader)
	if eventKey == "" {
		eventKey = body.WebhookEvent
	}

	ev, err := h.useCase.Ingest(r.Context(), issueID, eventKey)
	if err != nil {
		var malformed *domain.MalformedEventError
		if errors.As(err, &malformed) {
			h.metrics.WebhookRequests.WithLabelValues("malformed").Inc()
			http.Error(w, malformed.Error(), http.StatusBadRequest)
			return
		}

		// Fetch or publish failure: answer 5xx so the tracker re-sends.
		h.logger.Error("failed to ingest webhook notification", "issue_id", issueID, "error", err)
		h.metrics.WebhookRequests.WithLabelValues("publish_error").Inc()
		http.Error(w, "failed to enqueue event", http.StatusBadGateway)
		return
	}

	h.metrics.WebhookRequests.WithLabelValues("accepted").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "success",
		"entity_id": ev.EntityID,
	})
}
