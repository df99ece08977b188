package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/user/issue-stream/internal/domain"
	"github.com/user/issue-stream/internal/domain/mocks"
)

const backfillRPS = 10000 // effectively unthrottled for tests

func seedIssues(source *mocks.MockIssueSource, n int) {
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("1000%d", i)
		key := fmt.Sprintf("TES-%d", i)
		doc := fmt.Sprintf(`{"id": %q, "key": %q, "fields": {"summary": "issue %d"}}`, id, key, i)
		source.Add(id, []byte(doc))
	}
}

func TestBackfillWalksAllPages(t *testing.T) {
	transport := mocks.NewMockTransport()
	source := mocks.NewMockIssueSource()
	cursor := mocks.NewMockCursorStore()
	seedIssues(source, 5)

	driver := NewBackfill(source, transport, cursor, testLogger(), testMetrics(), 2, backfillRPS, "backfill:test")
	report, err := driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Published != 5 {
		t.Errorf("Published = %d, want 5", report.Published)
	}
	if report.Pages != 3 {
		t.Errorf("Pages = %d, want 3", report.Pages)
	}
	if report.Failed != 0 {
		t.Errorf("Failed = %d, want 0", report.Failed)
	}
	if got := transport.QueueLen(domain.ChannelRaw); got != 5 {
		t.Errorf("raw queue length = %d, want 5", got)
	}
	if cursor.Cursors["backfill:test"] != 5 {
		t.Errorf("saved cursor = %d, want 5", cursor.Cursors["backfill:test"])
	}
}

func TestBackfillSecondRunResumesAtEnd(t *testing.T) {
	transport := mocks.NewMockTransport()
	source := mocks.NewMockIssueSource()
	cursor := mocks.NewMockCursorStore()
	seedIssues(source, 4)

	driver := NewBackfill(source, transport, cursor, testLogger(), testMetrics(), 2, backfillRPS, "backfill:test")
	if _, err := driver.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	report, err := driver.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if report.StartOffset != 4 {
		t.Errorf("second run StartOffset = %d, want 4", report.StartOffset)
	}
	if report.Published != 0 {
		t.Errorf("second run Published = %d, want 0", report.Published)
	}
	if got := transport.QueueLen(domain.ChannelRaw); got != 4 {
		t.Errorf("raw queue length = %d, want 4 (no duplicates)", got)
	}
}

func TestBackfillSkipsUnfetchableIssues(t *testing.T) {
	transport := mocks.NewMockTransport()
	source := mocks.NewMockIssueSource()
	cursor := mocks.NewMockCursorStore()
	seedIssues(source, 3)
	source.DetailErrs = map[string]error{"10001": errors.New("404 from tracker")}

	driver := NewBackfill(source, transport, cursor, testLogger(), testMetrics(), 10, backfillRPS, "backfill:test")
	report, err := driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Published != 2 {
		t.Errorf("Published = %d, want 2", report.Published)
	}
	if report.Failed != 1 {
		t.Errorf("Failed = %d, want 1", report.Failed)
	}
}

func TestBackfillTransportFailureAborts(t *testing.T) {
	transport := mocks.NewMockTransport()
	transport.PublishErr = &domain.TransportUnavailableError{Err: errors.New("connection refused")}
	source := mocks.NewMockIssueSource()
	cursor := mocks.NewMockCursorStore()
	seedIssues(source, 3)

	driver := NewBackfill(source, transport, cursor, testLogger(), testMetrics(), 2, backfillRPS, "backfill:test")
	if _, err := driver.Run(context.Background()); err == nil {
		t.Fatal("Run() error = nil, want abort on transport failure")
	}

	// The cursor still points at the incomplete page, so a rerun republishes it.
	if cursor.Cursors["backfill:test"] != 0 {
		t.Errorf("saved cursor = %d, want 0", cursor.Cursors["backfill:test"])
	}
}

func TestBackfillEventsMarkedInitialLoad(t *testing.T) {
	transport := mocks.NewMockTransport()
	source := mocks.NewMockIssueSource()
	cursor := mocks.NewMockCursorStore()
	seedIssues(source, 1)

	driver := NewBackfill(source, transport, cursor, testLogger(), testMetrics(), 10, backfillRPS, "backfill:test")
	if _, err := driver.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	d := receiveOne(t, transport, domain.ChannelRaw)
	var ev domain.Event
	if err := json.Unmarshal(d.Value, &ev); err != nil {
		t.Fatalf("published event is not valid JSON: %v", err)
	}
	if ev.Kind != "initial_load" {
		t.Errorf("Kind = %q, want initial_load", ev.Kind)
	}
}
