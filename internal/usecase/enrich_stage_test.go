package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/user/issue-stream/internal/adapter/metrics"
	"github.com/user/issue-stream/internal/domain"
	"github.com/user/issue-stream/internal/domain/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *metrics.PipelineMetrics {
	return metrics.New(prometheus.NewRegistry())
}

func testEvent() domain.Event {
	return domain.Event{
		ID:       "evt-1",
		EntityID: "TES-10",
		Kind:     "updated",
		Payload: map[string]any{
			"key": "TES-10",
			"fields": map[string]any{
				"summary":     "Login button unresponsive",
				"description": "Clicking login does nothing on Firefox.",
			},
		},
	}
}

func newEnrichStage(transport *mocks.MockTransport, embedder *mocks.MockEmbedder, summarizer *mocks.MockSummarizer) *EnrichStage {
	return NewEnrichStage(transport, embedder, summarizer, testLogger(), testMetrics(), 5, 8000, 10)
}

func receiveOne(t *testing.T, transport *mocks.MockTransport, channel domain.Channel) domain.Delivery {
	t.Helper()
	deliveries, err := transport.Receive(context.Background(), channel, 1)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("Receive() returned %d deliveries, want 1", len(deliveries))
	}
	return deliveries[0]
}

func TestEnrichPublishesBeforeAck(t *testing.T) {
	transport := mocks.NewMockTransport()
	stage := newEnrichStage(transport, &mocks.MockEmbedder{}, &mocks.MockSummarizer{})
	ctx := context.Background()

	if err := transport.Publish(ctx, domain.ChannelRaw, "TES-10", testEvent()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	stage.ProcessDelivery(ctx, receiveOne(t, transport, domain.ChannelRaw))

	var publishAt, ackAt = -1, -1
	for i, op := range transport.Ops {
		switch op {
		case "publish:enriched":
			publishAt = i
		case "ack:raw":
			ackAt = i
		}
	}
	if publishAt == -1 || ackAt == -1 {
		t.Fatalf("ops = %v, want both publish:enriched and ack:raw", transport.Ops)
	}
	if publishAt > ackAt {
		t.Errorf("enriched record published after ack: ops = %v", transport.Ops)
	}

	if got := transport.QueueLen(domain.ChannelEnriched); got != 1 {
		t.Errorf("enriched queue length = %d, want 1", got)
	}
	if logs := transport.LogsWithStatus(domain.StatusOK); len(logs) != 1 {
		t.Errorf("ok logs = %d, want 1", len(logs))
	}
}

func TestEnrichRedeliveryIsReproducible(t *testing.T) {
	transport := mocks.NewMockTransport()
	stage := newEnrichStage(transport, &mocks.MockEmbedder{}, &mocks.MockSummarizer{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := transport.Publish(ctx, domain.ChannelRaw, "TES-10", testEvent()); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		stage.ProcessDelivery(ctx, receiveOne(t, transport, domain.ChannelRaw))
	}

	first := receiveOne(t, transport, domain.ChannelEnriched)
	second := receiveOne(t, transport, domain.ChannelEnriched)
	if !bytes.Equal(first.Value, second.Value) {
		t.Errorf("re-enrichment diverged:\nfirst  = %s\nsecond = %s", first.Value, second.Value)
	}
}

func TestEnrichEmptyTextIsPermanent(t *testing.T) {
	transport := mocks.NewMockTransport()
	embedder := &mocks.MockEmbedder{}
	stage := newEnrichStage(transport, embedder, &mocks.MockSummarizer{})
	ctx := context.Background()

	ev := testEvent()
	ev.Payload = map[string]any{"key": "TES-10", "fields": map[string]any{"summary": "   "}}
	if err := transport.Publish(ctx, domain.ChannelRaw, "TES-10", ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	stage.ProcessDelivery(ctx, receiveOne(t, transport, domain.ChannelRaw))

	if embedder.Calls != 0 {
		t.Errorf("embedder called %d times for empty text, want 0", embedder.Calls)
	}
	if got := transport.QueueLen(domain.ChannelEnriched); got != 0 {
		t.Errorf("enriched queue length = %d, want 0", got)
	}
	if len(transport.Acked) != 1 {
		t.Errorf("acks = %d, want 1 (no retry for permanent failures)", len(transport.Acked))
	}
	if len(transport.Nacked) != 0 {
		t.Errorf("nacks = %d, want 0", len(transport.Nacked))
	}
}

func TestEnrichRetryableFailureIsNacked(t *testing.T) {
	transport := mocks.NewMockTransport()
	embedder := &mocks.MockEmbedder{
		Errs: []error{&domain.RetryableEnrichmentError{Err: errors.New("429 too many requests")}},
	}
	stage := newEnrichStage(transport, embedder, &mocks.MockSummarizer{})
	ctx := context.Background()

	if err := transport.Publish(ctx, domain.ChannelRaw, "TES-10", testEvent()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	stage.ProcessDelivery(ctx, receiveOne(t, transport, domain.ChannelRaw))

	if len(transport.Nacked) != 1 {
		t.Fatalf("nacks = %d, want 1", len(transport.Nacked))
	}
	if logs := transport.LogsWithStatus(domain.StatusError); len(logs) != 1 {
		t.Errorf("error logs = %d, want 1", len(logs))
	}

	// The requeued delivery carries the incremented attempt count and now
	// succeeds, since the embedder fault was transient.
	d := receiveOne(t, transport, domain.ChannelRaw)
	if d.Token.Attempt != 2 {
		t.Errorf("redelivered attempt = %d, want 2", d.Token.Attempt)
	}
	stage.ProcessDelivery(ctx, d)
	if got := transport.QueueLen(domain.ChannelEnriched); got != 1 {
		t.Errorf("enriched queue length = %d, want 1 after successful retry", got)
	}
}

func TestEnrichAttemptBudgetExhaustion(t *testing.T) {
	transport := mocks.NewMockTransport()
	embedder := &mocks.MockEmbedder{Err: &domain.RetryableEnrichmentError{Err: errors.New("backend down")}}
	stage := newEnrichStage(transport, embedder, &mocks.MockSummarizer{})
	ctx := context.Background()

	if err := transport.Publish(ctx, domain.ChannelRaw, "TES-10", testEvent()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	for i := 0; i < 10; i++ {
		deliveries, err := transport.Receive(ctx, domain.ChannelRaw, 1)
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		if len(deliveries) == 0 {
			break
		}
		stage.ProcessDelivery(ctx, deliveries[0])
	}

	if got := transport.QueueLen(domain.ChannelRaw); got != 0 {
		t.Fatalf("raw queue length = %d, want 0 after exhaustion", got)
	}
	if logs := transport.LogsWithStatus(domain.StatusPermanentlyFailed); len(logs) != 1 {
		t.Errorf("permanently-failed logs = %d, want exactly 1", len(logs))
	}
	// Attempts 1 through 4 are nacked; attempt 5 hits the budget and is acked.
	if len(transport.Nacked) != 4 {
		t.Errorf("nacks = %d, want 4", len(transport.Nacked))
	}
	if len(transport.Acked) != 1 {
		t.Errorf("acks = %d, want 1", len(transport.Acked))
	}
	if got := transport.QueueLen(domain.ChannelEnriched); got != 0 {
		t.Errorf("enriched queue length = %d, want 0", got)
	}
}

func TestEnrichPublishFailureLeavesDeliveryUnsettled(t *testing.T) {
	transport := mocks.NewMockTransport()
	stage := newEnrichStage(transport, &mocks.MockEmbedder{}, &mocks.MockSummarizer{})
	ctx := context.Background()

	if err := transport.Publish(ctx, domain.ChannelRaw, "TES-10", testEvent()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	d := receiveOne(t, transport, domain.ChannelRaw)

	transport.PublishErr = &domain.TransportUnavailableError{Err: errors.New("connection refused")}
	stage.ProcessDelivery(ctx, d)

	if len(transport.Acked) != 0 {
		t.Errorf("acks = %d, want 0 when the enriched publish fails", len(transport.Acked))
	}
	if len(transport.Nacked) != 0 {
		t.Errorf("nacks = %d, want 0 (transport faults do not consume the budget)", len(transport.Nacked))
	}
}

func TestEnrichUndecodableDeliveryIsAcked(t *testing.T) {
	transport := mocks.NewMockTransport()
	embedder := &mocks.MockEmbedder{}
	stage := newEnrichStage(transport, embedder, &mocks.MockSummarizer{})
	ctx := context.Background()

	stage.ProcessDelivery(ctx, domain.Delivery{
		Key:   "TES-10",
		Value: []byte("{not json"),
		Token: domain.DeliveryToken{Channel: domain.ChannelRaw, MessageID: "raw-1", Attempt: 1},
	})

	if len(transport.Acked) != 1 {
		t.Errorf("acks = %d, want 1", len(transport.Acked))
	}
	if embedder.Calls != 0 {
		t.Errorf("embedder called %d times for undecodable payload, want 0", embedder.Calls)
	}
}

func TestEmbeddingText(t *testing.T) {
	payload := map[string]any{
		"fields": map[string]any{
			"summary":     "A title",
			"description": "A body",
			"comment": map[string]any{
				"comments": []any{
					map[string]any{"body": "first comment"},
					map[string]any{"body": "  "},
				},
			},
		},
	}

	got := EmbeddingText(payload, 0)
	want := "A title\n\nA body\n\nfirst comment"
	if got != want {
		t.Errorf("EmbeddingText() = %q, want %q", got, want)
	}

	if got := EmbeddingText(payload, 7); got != "A title" {
		t.Errorf("EmbeddingText() truncated = %q, want %q", got, "A title")
	}

	if got := EmbeddingText(map[string]any{}, 100); got != "" {
		t.Errorf("EmbeddingText() on empty payload = %q, want empty", got)
	}
}
