package domain

import "context"

// Transport is the ordered, durable, at-least-once topic abstraction the
// pipeline runs on. This abstracts away the concrete broker (Redis Streams
// in production, in-memory fakes in tests).
//
// Delivery guarantee: at-least-once. No ordering across entity IDs;
// best-effort FIFO within one entity ID where the broker partitions by key.
// Consumers must tolerate redelivery and out-of-order arrival.
type Transport interface {
	// Publish appends a message to a channel. key is the entity ID and value
	// is a serializable Event or EnrichedRecord.
	Publish(ctx context.Context, channel Channel, key string, value any) error

	// Receive pulls up to max pending messages for this consumer. It returns
	// an empty slice when nothing is available.
	Receive(ctx context.Context, channel Channel, max int) ([]Delivery, error)

	// Ack settles a delivery. Idempotent: acking twice, or acking an expired
	// token, is a no-op, never an error.
	Ack(ctx context.Context, token DeliveryToken) error

	// Nack schedules the delivery for redelivery after a backoff window with
	// an incremented attempt count.
	Nack(ctx context.Context, token DeliveryToken) error

	// PublishLog appends a processing-attempt record to the log channel.
	// The pipeline never reads the log channel back.
	PublishLog(ctx context.Context, entry StageLog) error
}

// VectorStore is the downstream vector-indexed store. Upsert is keyed
// strictly by entity ID and fully replaces the prior value, which makes
// re-processing under at-least-once delivery safe.
//
// Get and SimilaritySearch are the read contract consumed by the dashboard
// layer; the pipeline itself only writes.
type VectorStore interface {
	Upsert(ctx context.Context, entry StoreEntry) error
	Get(ctx context.Context, entityID string) (*StoreEntry, error)
	SimilaritySearch(ctx context.Context, vector []float32, limit int) ([]ScoredEntry, error)
}

// Embedder computes a fixed-dimension embedding vector over text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Digest is the generated summary/category pair for one entity.
type Digest struct {
	Summary  string `json:"summary"`
	Category string `json:"category"`
}

// Summarizer derives a short summary and a category label from text via a
// text-generation backend.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (Digest, error)
}

// IssueSource exposes the source issue tracker: single-issue detail fetch for
// the webhook path and paginated enumeration for the backfill driver.
type IssueSource interface {
	// IssueDetail returns the raw JSON document for one issue.
	IssueDetail(ctx context.Context, id string) ([]byte, error)

	// SearchPage returns the issue IDs of one result page. A short page
	// (fewer than pageSize IDs) marks the end of the set.
	SearchPage(ctx context.Context, startAt, pageSize int) ([]string, error)
}

// CursorStore persists the backfill driver's resume cursor. Best-effort, not
// transactional: losing a save only costs re-walking a few pages.
type CursorStore interface {
	// Load returns the saved offset, or 0 when none exists.
	Load(ctx context.Context, name string) (int, error)
	Save(ctx context.Context, name string, offset int) error
}
