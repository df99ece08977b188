package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/issue-stream/internal/adapter/metrics"
	"github.com/user/issue-stream/internal/adapter/source/jira"
	"github.com/user/issue-stream/internal/domain"
)

// Stage names as they appear on the log channel and in metrics.
const (
	StageIngest   = "ingest"
	StageEnrich   = "enrich"
	StagePersist  = "persist"
	StageBackfill = "backfill"
)

const receiveErrorPause = 1 * time.Second

// EnrichStage consumes raw events, derives an embedding vector plus a
// summary/category digest, and republishes to the enriched channel.
//
// Settlement rules: the enriched record is published before the raw message
// is acked, so a crash between the two steps loses no enrichment work at the
// cost of a possible duplicate on the enriched channel. Transient backend
// failures are nacked up to the attempt budget, then acked anyway and logged
// permanently-failed so one poison message cannot stall the channel.
type EnrichStage struct {
	transport  domain.Transport
	embedder   domain.Embedder
	summarizer domain.Summarizer
	logger     *slog.Logger
	metrics    *metrics.PipelineMetrics

	maxAttempts   int
	maxInputChars int
	batchSize     int
}

// NewEnrichStage creates the enrichment stage.
func NewEnrichStage(
	transport domain.Transport,
	embedder domain.Embedder,
	summarizer domain.Summarizer,
	logger *slog.Logger,
	m *metrics.PipelineMetrics,
	maxAttempts, maxInputChars, batchSize int,
) *EnrichStage {
	return &EnrichStage{
		transport:     transport,
		embedder:      embedder,
		summarizer:    summarizer,
		logger:        logger.With("stage", StageEnrich),
		metrics:       m,
		maxAttempts:   maxAttempts,
		maxInputChars: maxInputChars,
		batchSize:     batchSize,
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// in-flight handlers have finished. Cancellation stops pulling new messages
// immediately; the message currently in hand is always settled first.
func (s *EnrichStage) Run(ctx context.Context, workers int) {
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop(ctx)
		}()
	}
	wg.Wait()
}

func (s *EnrichStage) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		deliveries, err := s.transport.Receive(ctx, domain.ChannelRaw, s.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("failed to receive from raw channel", "error", err)
			select {
			case <-time.After(receiveErrorPause):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, d := range deliveries {
			// Finish-then-stop: the handler runs to completion even if
			// shutdown begins while it holds the message.
			s.ProcessDelivery(context.WithoutCancel(ctx), d)
		}
	}
}

// ProcessDelivery handles one delivered raw message end to end, including
// settlement and logging of the attempt.
func (s *EnrichStage) ProcessDelivery(ctx context.Context, d domain.Delivery) {
	start := time.Now()
	defer func() {
		s.metrics.StageDuration.WithLabelValues(StageEnrich).Observe(time.Since(start).Seconds())
	}()

	var ev domain.Event
	if err := json.Unmarshal(d.Value, &ev); err != nil || ev.EntityID == "" {
		// Redelivery cannot fix an undecodable message.
		s.settlePermanent(ctx, d.Token, d.Key, "", "undecodable event payload")
		return
	}

	rec, err := s.Handle(ctx, ev)
	if err != nil {
		s.settleFailure(ctx, d.Token, ev, err)
		return
	}

	if err := s.transport.Publish(ctx, domain.ChannelEnriched, rec.EntityID, rec); err != nil {
		// Transport fault: leave the delivery unsettled so lease expiry
		// redelivers it without consuming the attempt budget.
		s.logger.Error("failed to publish enriched record", "entity_id", ev.EntityID, "error", err)
		s.metrics.EventsTotal.WithLabelValues(StageEnrich, "error").Inc()
		return
	}

	if err := s.transport.Ack(ctx, d.Token); err != nil {
		// The record is already on the enriched channel; a redelivery of the
		// raw message just produces a duplicate, which persistence absorbs.
		s.logger.Warn("failed to ack raw message", "entity_id", ev.EntityID, "error", err)
	}

	s.logAttempt(ctx, ev.ID, ev.EntityID, domain.StatusOK, "")
	s.metrics.EventsTotal.WithLabelValues(StageEnrich, "ok").Inc()
}

// Handle computes the enriched record for one event. It is a pure function
// of its input: the same event always yields an identical record, so
// redelivered messages re-enrich safely.
func (s *EnrichStage) Handle(ctx context.Context, ev domain.Event) (domain.EnrichedRecord, error) {
	text := EmbeddingText(ev.Payload, s.maxInputChars)
	if strings.TrimSpace(text) == "" {
		return domain.EnrichedRecord{}, &domain.PermanentEnrichmentError{Reason: "no embeddable text in payload"}
	}

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return domain.EnrichedRecord{}, err
	}

	digest, err := s.summarizer.Summarize(ctx, text)
	if err != nil {
		return domain.EnrichedRecord{}, err
	}

	return domain.EnrichedRecord{
		EntityID:   ev.EntityID,
		Vector:     vector,
		Summary:    digest.Summary,
		Category:   digest.Category,
		RawPayload: ev.Payload,
		// Mirrors the event time rather than the wall clock so that
		// re-enriching a redelivered event reproduces the record exactly.
		EnrichedAt: ev.OccurredAt,
	}, nil
}

func (s *EnrichStage) settleFailure(ctx context.Context, token domain.DeliveryToken, ev domain.Event, err error) {
	var permErr *domain.PermanentEnrichmentError
	if errors.As(err, &permErr) {
		s.settlePermanent(ctx, token, ev.EntityID, ev.ID, permErr.Error())
		return
	}

	// Everything else is treated as transient and retried under backoff.
	if token.Attempt >= s.maxAttempts {
		if ackErr := s.transport.Ack(ctx, token); ackErr != nil {
			s.logger.Warn("failed to ack exhausted message", "entity_id", ev.EntityID, "error", ackErr)
		}
		s.logAttempt(ctx, ev.ID, ev.EntityID, domain.StatusPermanentlyFailed,
			fmt.Sprintf("gave up after %d attempts: %v", token.Attempt, err))
		s.logger.Error("enrichment permanently failed", "entity_id", ev.EntityID, "attempts", token.Attempt, "error", err)
		s.metrics.PermanentFailures.WithLabelValues(StageEnrich).Inc()
		return
	}

	if nackErr := s.transport.Nack(ctx, token); nackErr != nil {
		// Leave it pending; lease expiry will redeliver.
		s.logger.Warn("failed to nack message", "entity_id", ev.EntityID, "error", nackErr)
	}
	s.logAttempt(ctx, ev.ID, ev.EntityID, domain.StatusError, err.Error())
	s.logger.Warn("enrichment attempt failed, scheduled for retry",
		"entity_id", ev.EntityID, "attempt", token.Attempt, "error", err)
	s.metrics.EventsTotal.WithLabelValues(StageEnrich, "error").Inc()
	s.metrics.RetriesTotal.WithLabelValues(StageEnrich).Inc()
}

func (s *EnrichStage) settlePermanent(ctx context.Context, token domain.DeliveryToken, entityID, eventID, detail string) {
	if err := s.transport.Ack(ctx, token); err != nil {
		s.logger.Warn("failed to ack permanently failed message", "entity_id", entityID, "error", err)
	}
	s.logAttempt(ctx, eventID, entityID, domain.StatusError, detail)
	s.logger.Warn("dropping unenrichable event", "entity_id", entityID, "detail", detail)
	s.metrics.PermanentFailures.WithLabelValues(StageEnrich).Inc()
}

func (s *EnrichStage) logAttempt(ctx context.Context, eventID, entityID, status, detail string) {
	entry := domain.StageLog{
		Stage:     StageEnrich,
		EventID:   eventID,
		EntityID:  entityID,
		Status:    status,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	if err := s.transport.PublishLog(ctx, entry); err != nil {
		s.logger.Warn("failed to publish stage log", "entity_id", entityID, "error", err)
	}
}

// EmbeddingText assembles the enrichment input: issue title, description and
// comment bodies, truncated to maxChars runes.
func EmbeddingText(payload map[string]any, maxChars int) string {
	fields, _ := payload["fields"].(map[string]any)

	var parts []string
	if title, _ := fields["summary"].(string); strings.TrimSpace(title) != "" {
		parts = append(parts, title)
	}
	if desc, _ := fields["description"].(string); strings.TrimSpace(desc) != "" {
		parts = append(parts, desc)
	}
	parts = append(parts, jira.CommentBodies(payload)...)

	text := strings.Join(parts, "\n\n")
	if maxChars > 0 {
		if runes := []rune(text); len(runes) > maxChars {
			text = string(runes[:maxChars])
		}
	}
	return text
}
