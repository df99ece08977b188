package usecase

import (
	"context"
	"testing"

	"github.com/user/issue-stream/internal/domain"
	"github.com/user/issue-stream/internal/domain/mocks"
)

// drain runs every queued message on a channel through a handler until the
// channel is empty, simulating the worker loop without goroutines.
func drain(t *testing.T, transport *mocks.MockTransport, channel domain.Channel, process func(context.Context, domain.Delivery)) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		deliveries, err := transport.Receive(ctx, channel, 10)
		if err != nil {
			t.Fatalf("Receive(%s) error = %v", channel, err)
		}
		if len(deliveries) == 0 {
			return
		}
		for _, d := range deliveries {
			process(ctx, d)
		}
	}
	t.Fatalf("channel %s did not drain", channel)
}

func TestPipelineEndToEnd(t *testing.T) {
	transport := mocks.NewMockTransport()
	store := mocks.NewMockVectorStore()
	source := mocks.NewMockIssueSource()
	source.Add("10002", []byte(`{
		"id": "10002",
		"key": "TES-10",
		"self": "https://example.atlassian.net/rest/api/2/issue/10002",
		"fields": {
			"summary": "Login button unresponsive",
			"description": "Clicking login does nothing on Firefox.",
			"updated": "2024-03-02T11:30:00.000+0000"
		}
	}`))

	ingest := NewIngestEvent(transport, source, testLogger())
	enrich := newEnrichStage(transport, &mocks.MockEmbedder{Dim: 8}, &mocks.MockSummarizer{})
	persist := newPersistStage(transport, store)

	if _, err := ingest.Ingest(context.Background(), "10002", "jira:issue_updated"); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	drain(t, transport, domain.ChannelRaw, enrich.ProcessDelivery)
	drain(t, transport, domain.ChannelEnriched, persist.ProcessDelivery)

	if len(store.Entries) != 1 {
		t.Fatalf("store holds %d entries, want 1", len(store.Entries))
	}
	entry := store.Entries["TES-10"]
	if len(entry.Vector) != 8 {
		t.Errorf("vector dimension = %d, want 8", len(entry.Vector))
	}
	if entry.Summary == "" {
		t.Error("stored summary is empty")
	}
	if entry.Category == "" {
		t.Error("stored category is empty")
	}

	if logs := transport.LogsWithStatus(domain.StatusOK); len(logs) != 3 {
		t.Errorf("ok logs = %d, want 3 (one per stage)", len(logs))
	}
	if got := transport.QueueLen(domain.ChannelRaw); got != 0 {
		t.Errorf("raw queue length = %d, want 0", got)
	}
	if got := transport.QueueLen(domain.ChannelEnriched); got != 0 {
		t.Errorf("enriched queue length = %d, want 0", got)
	}
}

func TestPipelineUnenrichableEventLeavesStoreUntouched(t *testing.T) {
	transport := mocks.NewMockTransport()
	store := mocks.NewMockVectorStore()
	source := mocks.NewMockIssueSource()
	source.Add("10002", []byte(`{
		"id": "10002",
		"key": "TES-10",
		"fields": {"summary": "Readable issue", "description": "Has text."}
	}`))
	// No summary, no description, no comments: nothing to embed.
	source.Add("10003", []byte(`{
		"id": "10003",
		"key": "TES-11",
		"fields": {"labels": ["backend"]}
	}`))

	ingest := NewIngestEvent(transport, source, testLogger())
	enrich := newEnrichStage(transport, &mocks.MockEmbedder{Dim: 8}, &mocks.MockSummarizer{})
	persist := newPersistStage(transport, store)
	ctx := context.Background()

	if _, err := ingest.Ingest(ctx, "10002", "jira:issue_created"); err != nil {
		t.Fatalf("Ingest(10002) error = %v", err)
	}
	if _, err := ingest.Ingest(ctx, "10003", "jira:issue_created"); err != nil {
		t.Fatalf("Ingest(10003) error = %v", err)
	}
	drain(t, transport, domain.ChannelRaw, enrich.ProcessDelivery)
	drain(t, transport, domain.ChannelEnriched, persist.ProcessDelivery)

	if len(store.Entries) != 1 {
		t.Fatalf("store holds %d entries, want 1", len(store.Entries))
	}
	if _, ok := store.Entries["TES-10"]; !ok {
		t.Error("readable issue missing from the store")
	}
	if _, ok := store.Entries["TES-11"]; ok {
		t.Error("unenrichable issue reached the store")
	}
	if logs := transport.LogsWithStatus(domain.StatusError); len(logs) != 1 {
		t.Errorf("error logs = %d, want 1 for the dropped event", len(logs))
	}
}
