package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/issue-stream/internal/adapter/metrics"
	"github.com/user/issue-stream/internal/domain"
)

// PersistStage consumes enriched records and upserts them into the vector
// store. The upsert is keyed strictly by entity ID and fully replaces the
// prior row, so redelivered records are harmless and the last record to
// arrive wins regardless of its original event time.
type PersistStage struct {
	transport domain.Transport
	store     domain.VectorStore
	logger    *slog.Logger
	metrics   *metrics.PipelineMetrics

	vectorDim   int
	maxAttempts int
	batchSize   int
}

// NewPersistStage creates the persistence stage. vectorDim is the fixed
// embedding dimension every record must carry.
func NewPersistStage(
	transport domain.Transport,
	store domain.VectorStore,
	logger *slog.Logger,
	m *metrics.PipelineMetrics,
	vectorDim, maxAttempts, batchSize int,
) *PersistStage {
	return &PersistStage{
		transport:   transport,
		store:       store,
		logger:      logger.With("stage", StagePersist),
		metrics:     m,
		vectorDim:   vectorDim,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// in-flight handlers have finished.
func (s *PersistStage) Run(ctx context.Context, workers int) {
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

func (s *PersistStage) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		deliveries, err := s.transport.Receive(ctx, domain.ChannelEnriched, s.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("failed to receive from enriched channel", "error", err)
			select {
			case <-time.After(receiveErrorPause):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, d := range deliveries {
			// Never abort mid-write: an upsert in progress always completes.
			s.ProcessDelivery(context.WithoutCancel(ctx), d)
		}
	}
}

// ProcessDelivery handles one delivered enriched record, including
// settlement and logging of the attempt.
func (s *PersistStage) ProcessDelivery(ctx context.Context, d domain.Delivery) {
	start := time.Now()
	defer func() {
		s.metrics.StageDuration.WithLabelValues(StagePersist).Observe(time.Since(start).Seconds())
	}()

	var rec domain.EnrichedRecord
	if err := json.Unmarshal(d.Value, &rec); err != nil || rec.EntityID == "" {
		s.settlePermanent(ctx, d.Token, d.Key, "undecodable enriched record")
		return
	}

	if err := s.Handle(ctx, rec); err != nil {
		s.settleFailure(ctx, d.Token, rec, err)
		return
	}

	if err := s.transport.Ack(ctx, d.Token); err != nil {
		// The row is written; a redelivery just repeats the same upsert.
		s.logger.Warn("failed to ack enriched message", "entity_id", rec.EntityID, "error", err)
	}

	s.logAttempt(ctx, rec.EntityID, domain.StatusOK, "")
	s.metrics.EventsTotal.WithLabelValues(StagePersist, "ok").Inc()
}

// Handle validates and upserts one enriched record. Idempotent: applying the
// same record N times leaves the store identical to applying it once.
func (s *PersistStage) Handle(ctx context.Context, rec domain.EnrichedRecord) error {
	if len(rec.Vector) != s.vectorDim {
		return &domain.PermanentStoreError{
			Reason: fmt.Sprintf("vector dimension %d, store requires %d", len(rec.Vector), s.vectorDim),
		}
	}

	return s.store.Upsert(ctx, domain.StoreEntry{
		EntityID:  rec.EntityID,
		Vector:    rec.Vector,
		Summary:   rec.Summary,
		Category:  rec.Category,
		Payload:   rec.RawPayload,
		UpdatedAt: time.Now().UTC(),
	})
}

func (s *PersistStage) settleFailure(ctx context.Context, token domain.DeliveryToken, rec domain.EnrichedRecord, err error) {
	var retryErr *domain.RetryableStoreError
	if errors.As(err, &retryErr) {
		if token.Attempt >= s.maxAttempts {
			if ackErr := s.transport.Ack(ctx, token); ackErr != nil {
				s.logger.Warn("failed to ack exhausted record", "entity_id", rec.EntityID, "error", ackErr)
			}
			s.logAttempt(ctx, rec.EntityID, domain.StatusPermanentlyFailed,
				fmt.Sprintf("gave up after %d attempts: %v", token.Attempt, err))
			s.logger.Error("persistence permanently failed", "entity_id", rec.EntityID, "attempts", token.Attempt, "error", err)
			s.metrics.PermanentFailures.WithLabelValues(StagePersist).Inc()
			return
		}

		if nackErr := s.transport.Nack(ctx, token); nackErr != nil {
			s.logger.Warn("failed to nack record", "entity_id", rec.EntityID, "error", nackErr)
		}
		s.logAttempt(ctx, rec.EntityID, domain.StatusError, err.Error())
		s.logger.Warn("store write failed, scheduled for retry",
			"entity_id", rec.EntityID, "attempt", token.Attempt, "error", err)
		s.metrics.EventsTotal.WithLabelValues(StagePersist, "error").Inc()
		s.metrics.RetriesTotal.WithLabelValues(StagePersist).Inc()
		return
	}

	// Dimension mismatches and other structural rejections: redelivery
	// cannot fix the record, so settle it now.
	s.settlePermanent(ctx, token, rec.EntityID, err.Error())
}

func (s *PersistStage) settlePermanent(ctx context.Context, token domain.DeliveryToken, entityID, detail string) {
	if err := s.transport.Ack(ctx, token); err != nil {
		s.logger.Warn("failed to ack permanently failed record", "entity_id", entityID, "error", err)
	}
	s.logAttempt(ctx, entityID, domain.StatusError, detail)
	s.logger.Warn("dropping unpersistable record", "entity_id", entityID, "detail", detail)
	s.metrics.PermanentFailures.WithLabelValues(StagePersist).Inc()
}

func (s *PersistStage) logAttempt(ctx context.Context, entityID, status, detail string) {
	entry := domain.StageLog{
		Stage:     StagePersist,
		EntityID:  entityID,
		Status:    status,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	if err := s.transport.PublishLog(ctx, entry); err != nil {
		s.logger.Warn("failed to publish stage log", "entity_id", entityID, "error", err)
	}
}
