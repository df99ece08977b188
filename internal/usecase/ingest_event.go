package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/issue-stream/internal/adapter/source/jira"
	"github.com/user/issue-stream/internal/domain"
)

// IngestEvent handles the live webhook path: fetch the full issue from the
// source tracker, normalize it, and publish the canonical event to the raw
// channel. Webhook payloads are thin, so the full document is always fetched
// before normalization.
type IngestEvent struct {
	transport domain.Transport
	source    domain.IssueSource
	logger    *slog.Logger
}

// NewIngestEvent creates the webhook ingestion use case.
func NewIngestEvent(transport domain.Transport, source domain.IssueSource, logger *slog.Logger) *IngestEvent {
	return &IngestEvent{
		transport: transport,
		source:    source,
		logger:    logger.With("stage", StageIngest),
	}
}

// Ingest converts one webhook notification into a raw-channel event.
// A *domain.MalformedEventError means the notification itself is bad; any
// other error is a downstream failure the caller should surface as a server
// error so the tracker's webhook retry re-sends the notification.
func (uc *IngestEvent) Ingest(ctx context.Context, issueID, eventKey string) (domain.Event, error) {
	raw, err := uc.source.IssueDetail(ctx, issueID)
	if err != nil {
		uc.logger.Error("failed to fetch issue detail", "issue_id", issueID, "error", err)
		return domain.Event{}, fmt.Errorf("fetch issue %s: %w", issueID, err)
	}

	ev, err := jira.Normalize(raw, jira.MapEventKind(eventKey))
	if err != nil {
		return domain.Event{}, err
	}

	if err := uc.transport.Publish(ctx, domain.ChannelRaw, ev.EntityID, ev); err != nil {
		uc.logger.Error("failed to publish raw event", "entity_id", ev.EntityID, "error", err)
		return domain.Event{}, fmt.Errorf("publish event for %s: %w", ev.EntityID, err)
	}

	uc.logAttempt(ctx, ev)
	return ev, nil
}

func (uc *IngestEvent) logAttempt(ctx context.Context, ev domain.Event) {
	entry := domain.StageLog{
		Stage:     StageIngest,
		EventID:   ev.ID,
		EntityID:  ev.EntityID,
		Status:    domain.StatusOK,
		Timestamp: time.Now().UTC(),
	}
	if err := uc.transport.PublishLog(ctx, entry); err != nil {
		uc.logger.Warn("failed to publish stage log", "entity_id", ev.EntityID, "error", err)
	}
}
