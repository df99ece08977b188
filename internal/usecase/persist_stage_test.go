package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/user/issue-stream/internal/domain"
	"github.com/user/issue-stream/internal/domain/mocks"
)

func testRecord(dim int) domain.EnrichedRecord {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(i) / 10
	}
	return domain.EnrichedRecord{
		EntityID: "TES-10",
		Vector:   vec,
		Summary:  "Login button does nothing on Firefox.",
		Category: "bug",
		RawPayload: map[string]any{
			"key": "TES-10",
		},
	}
}

func newPersistStage(transport *mocks.MockTransport, store *mocks.MockVectorStore) *PersistStage {
	return NewPersistStage(transport, store, testLogger(), testMetrics(), 8, 5, 10)
}

func TestPersistWritesAndAcks(t *testing.T) {
	transport := mocks.NewMockTransport()
	store := mocks.NewMockVectorStore()
	stage := newPersistStage(transport, store)
	ctx := context.Background()

	if err := transport.Publish(ctx, domain.ChannelEnriched, "TES-10", testRecord(8)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	stage.ProcessDelivery(ctx, receiveOne(t, transport, domain.ChannelEnriched))

	entry, ok := store.Entries["TES-10"]
	if !ok {
		t.Fatal("no store entry written for TES-10")
	}
	if entry.Summary != "Login button does nothing on Firefox." || entry.Category != "bug" {
		t.Errorf("stored entry = %+v", entry)
	}
	if len(transport.Acked) != 1 {
		t.Errorf("acks = %d, want 1", len(transport.Acked))
	}
	if logs := transport.LogsWithStatus(domain.StatusOK); len(logs) != 1 {
		t.Errorf("ok logs = %d, want 1", len(logs))
	}
}

func TestPersistIsIdempotent(t *testing.T) {
	transport := mocks.NewMockTransport()
	store := mocks.NewMockVectorStore()
	stage := newPersistStage(transport, store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := transport.Publish(ctx, domain.ChannelEnriched, "TES-10", testRecord(8)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		stage.ProcessDelivery(ctx, receiveOne(t, transport, domain.ChannelEnriched))
	}

	if len(store.Entries) != 1 {
		t.Fatalf("store holds %d entries after 3 identical records, want 1", len(store.Entries))
	}
	if store.UpsertCalls != 3 {
		t.Errorf("upsert calls = %d, want 3", store.UpsertCalls)
	}

	entry := store.Entries["TES-10"]
	want := testRecord(8)
	if !reflect.DeepEqual(entry.Vector, want.Vector) || entry.Summary != want.Summary {
		t.Errorf("final entry diverged from the record: %+v", entry)
	}
}

func TestPersistDimensionMismatchIsPermanent(t *testing.T) {
	transport := mocks.NewMockTransport()
	store := mocks.NewMockVectorStore()
	stage := newPersistStage(transport, store)
	ctx := context.Background()

	if err := transport.Publish(ctx, domain.ChannelEnriched, "TES-10", testRecord(3)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	stage.ProcessDelivery(ctx, receiveOne(t, transport, domain.ChannelEnriched))

	if store.UpsertCalls != 0 {
		t.Errorf("upsert calls = %d, want 0 for a mismatched vector", store.UpsertCalls)
	}
	if len(transport.Nacked) != 0 {
		t.Errorf("nacks = %d, want 0 (redelivery cannot fix the dimension)", len(transport.Nacked))
	}
	if len(transport.Acked) != 1 {
		t.Errorf("acks = %d, want 1", len(transport.Acked))
	}
}

func TestPersistStoreUnavailableIsRetried(t *testing.T) {
	transport := mocks.NewMockTransport()
	store := mocks.NewMockVectorStore()
	store.UpsertErr = &domain.RetryableStoreError{Err: errors.New("connection refused")}
	stage := newPersistStage(transport, store)
	ctx := context.Background()

	if err := transport.Publish(ctx, domain.ChannelEnriched, "TES-10", testRecord(8)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	stage.ProcessDelivery(ctx, receiveOne(t, transport, domain.ChannelEnriched))

	if len(transport.Nacked) != 1 {
		t.Fatalf("nacks = %d, want 1", len(transport.Nacked))
	}

	// The store comes back; the redelivered record lands.
	store.UpsertErr = nil
	d := receiveOne(t, transport, domain.ChannelEnriched)
	if d.Token.Attempt != 2 {
		t.Errorf("redelivered attempt = %d, want 2", d.Token.Attempt)
	}
	stage.ProcessDelivery(ctx, d)

	if _, ok := store.Entries["TES-10"]; !ok {
		t.Error("entry missing after retry")
	}
}

func TestPersistBudgetExhaustion(t *testing.T) {
	transport := mocks.NewMockTransport()
	store := mocks.NewMockVectorStore()
	store.UpsertErr = &domain.RetryableStoreError{Err: errors.New("database down")}
	stage := newPersistStage(transport, store)
	ctx := context.Background()

	if err := transport.Publish(ctx, domain.ChannelEnriched, "TES-10", testRecord(8)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	for i := 0; i < 10; i++ {
		deliveries, err := transport.Receive(ctx, domain.ChannelEnriched, 1)
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		if len(deliveries) == 0 {
			break
		}
		stage.ProcessDelivery(ctx, deliveries[0])
	}

	if logs := transport.LogsWithStatus(domain.StatusPermanentlyFailed); len(logs) != 1 {
		t.Errorf("permanently-failed logs = %d, want exactly 1", len(logs))
	}
	if got := transport.QueueLen(domain.ChannelEnriched); got != 0 {
		t.Errorf("enriched queue length = %d, want 0 after exhaustion", got)
	}
	if len(store.Entries) != 0 {
		t.Errorf("store holds %d entries, want 0", len(store.Entries))
	}
}
