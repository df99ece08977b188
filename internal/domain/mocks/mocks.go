package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/user/issue-stream/internal/domain"
)

// MockTransport is an in-memory domain.Transport for tests. Publish enqueues
// onto per-channel queues that Receive drains, Nack requeues with an
// incremented attempt count, and every operation is appended to Ops so tests
// can assert ordering (e.g. publish-before-ack).
type MockTransport struct {
	mu       sync.Mutex
	queues   map[domain.Channel][]domain.Delivery
	inflight map[string]domain.Delivery

	Ops    []string
	Acked  []domain.DeliveryToken
	Nacked []domain.DeliveryToken
	Logs   []domain.StageLog

	PublishErr error
	ReceiveErr error
	AckErr     error

	nextID int
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		queues:   make(map[domain.Channel][]domain.Delivery),
		inflight: make(map[string]domain.Delivery),
	}
}

func (m *MockTransport) Publish(ctx context.Context, channel domain.Channel, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m.nextID++
	d := domain.Delivery{
		Key:   key,
		Value: payload,
		Token: domain.DeliveryToken{
			Channel:   channel,
			MessageID: fmt.Sprintf("%s-%d", channel, m.nextID),
			Attempt:   1,
		},
	}
	m.queues[channel] = append(m.queues[channel], d)
	m.Ops = append(m.Ops, "publish:"+string(channel))
	return nil
}

func (m *MockTransport) Receive(ctx context.Context, channel domain.Channel, max int) ([]domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReceiveErr != nil {
		return nil, m.ReceiveErr
	}

	queue := m.queues[channel]
	if len(queue) == 0 {
		return nil, nil
	}
	if max > len(queue) {
		max = len(queue)
	}

	out := make([]domain.Delivery, max)
	copy(out, queue[:max])
	m.queues[channel] = queue[max:]

	for _, d := range out {
		m.inflight[d.Token.MessageID] = d
	}
	return out, nil
}

func (m *MockTransport) Ack(ctx context.Context, token domain.DeliveryToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	delete(m.inflight, token.MessageID)
	m.Acked = append(m.Acked, token)
	m.Ops = append(m.Ops, "ack:"+string(token.Channel))
	return nil
}

func (m *MockTransport) Nack(ctx context.Context, token domain.DeliveryToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.inflight[token.MessageID]; ok {
		delete(m.inflight, token.MessageID)
		d.Token.Attempt = token.Attempt + 1
		m.queues[token.Channel] = append(m.queues[token.Channel], d)
	}
	m.Nacked = append(m.Nacked, token)
	m.Ops = append(m.Ops, "nack:"+string(token.Channel))
	return nil
}

func (m *MockTransport) PublishLog(ctx context.Context, entry domain.StageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, entry)
	return nil
}

// QueueLen reports how many messages are waiting on a channel.
func (m *MockTransport) QueueLen(channel domain.Channel) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[channel])
}

// LogsWithStatus returns the recorded stage logs matching a status.
func (m *MockTransport) LogsWithStatus(status string) []domain.StageLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StageLog
	for _, l := range m.Logs {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out
}

// MockVectorStore is an in-memory domain.VectorStore.
type MockVectorStore struct {
	mu          sync.Mutex
	Entries     map[string]domain.StoreEntry
	UpsertCalls int
	UpsertErr   error
}

func NewMockVectorStore() *MockVectorStore {
	return &MockVectorStore{Entries: make(map[string]domain.StoreEntry)}
}

func (m *MockVectorStore) Upsert(ctx context.Context, entry domain.StoreEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	m.Entries[entry.EntityID] = entry
	return nil
}

func (m *MockVectorStore) Get(ctx context.Context, entityID string) (*domain.StoreEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.Entries[entityID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *MockVectorStore) SimilaritySearch(ctx context.Context, vector []float32, limit int) ([]domain.ScoredEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScoredEntry
	for _, entry := range m.Entries {
		if len(out) >= limit {
			break
		}
		out = append(out, domain.ScoredEntry{StoreEntry: entry, Score: 1})
	}
	return out, nil
}

// MockEmbedder returns a deterministic vector derived from the input text,
// so re-enrichment of the same event is byte-for-byte reproducible.
type MockEmbedder struct {
	Dim int
	Err error
	// Errs, when non-empty, is consumed one error per call before Err applies.
	Errs  []error
	Calls int
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.Calls++
	if len(m.Errs) > 0 {
		err := m.Errs[0]
		m.Errs = m.Errs[1:]
		if err != nil {
			return nil, err
		}
	} else if m.Err != nil {
		return nil, m.Err
	}

	dim := m.Dim
	if dim == 0 {
		dim = 8
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(seed%1000) / 1000
	}
	return vec, nil
}

// MockSummarizer returns a deterministic digest derived from the input text.
type MockSummarizer struct {
	Err   error
	Calls int
}

func (m *MockSummarizer) Summarize(ctx context.Context, text string) (domain.Digest, error) {
	m.Calls++
	if m.Err != nil {
		return domain.Digest{}, m.Err
	}

	summary := text
	if len(summary) > 40 {
		summary = summary[:40]
	}
	return domain.Digest{Summary: "summary: " + summary, Category: "bug"}, nil
}

// MockIssueSource serves issue documents from memory, paginated in insertion
// order like the real search API.
type MockIssueSource struct {
	mu         sync.Mutex
	order      []string
	docs       map[string][]byte
	DetailErrs map[string]error
	SearchErr  error
}

func NewMockIssueSource() *MockIssueSource {
	return &MockIssueSource{docs: make(map[string][]byte)}
}

// Add registers an issue document under an ID.
func (m *MockIssueSource) Add(id string, doc []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		m.order = append(m.order, id)
	}
	m.docs[id] = doc
}

func (m *MockIssueSource) IssueDetail(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.DetailErrs[id]; err != nil {
		return nil, err
	}
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("no such issue %s", id)
	}
	return doc, nil
}

func (m *MockIssueSource) SearchPage(ctx context.Context, startAt, pageSize int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if startAt >= len(m.order) {
		return nil, nil
	}
	end := startAt + pageSize
	if end > len(m.order) {
		end = len(m.order)
	}
	page := make([]string, end-startAt)
	copy(page, m.order[startAt:end])
	return page, nil
}

// MockCursorStore keeps backfill cursors in a map.
type MockCursorStore struct {
	mu      sync.Mutex
	Cursors map[string]int
	SaveErr error
}

func NewMockCursorStore() *MockCursorStore {
	return &MockCursorStore{Cursors: make(map[string]int)}
}

func (m *MockCursorStore) Load(ctx context.Context, name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Cursors[name], nil
}

func (m *MockCursorStore) Save(ctx context.Context, name string, offset int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Cursors[name] = offset
	return nil
}
