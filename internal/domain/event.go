package domain

import (
	"encoding/json"
	"time"
)

// Channel names a logical topic on the stream transport.
type Channel string

const (
	// ChannelRaw carries normalized Events straight from the source adapter.
	ChannelRaw Channel = "raw"
	// ChannelEnriched carries EnrichedRecords produced by the enrichment stage.
	ChannelEnriched Channel = "enriched"
	// ChannelLog carries per-attempt StageLog entries. It is write-only from
	// the pipeline's perspective and consumed externally for observability.
	ChannelLog Channel = "log"
)

// Event is the canonical form of one issue-tracker change notification,
// produced by the source adapter or the backfill driver.
type Event struct {
	ID             string         `json:"event_id"`
	EntityID       string         `json:"entity_id"`
	Kind           string         `json:"kind"`
	Payload        map[string]any `json:"payload"`
	URL            string         `json:"url,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	SourceRevision *int64         `json:"source_revision,omitempty"`
}

// EnrichedRecord is the output of the enrichment stage. It has no lifetime
// beyond transit on the enriched channel.
type EnrichedRecord struct {
	EntityID   string         `json:"entity_id"`
	Vector     []float32      `json:"vector"`
	Summary    string         `json:"summary"`
	Category   string         `json:"category"`
	RawPayload map[string]any `json:"raw_payload"`
	EnrichedAt time.Time      `json:"enriched_at"`
}

// StoreEntry is the persisted projection, keyed uniquely by entity ID.
// An upsert with the same key fully replaces the prior value.
type StoreEntry struct {
	EntityID  string         `json:"entity_id"`
	Vector    []float32      `json:"vector"`
	Summary   string         `json:"summary"`
	Category  string         `json:"category"`
	Payload   map[string]any `json:"payload"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Similarity search result: an entry plus its cosine score.
type ScoredEntry struct {
	StoreEntry
	Score float64 `json:"score"`
}

// Attempt statuses recorded on the log channel.
const (
	StatusOK                = "ok"
	StatusError             = "error"
	StatusPermanentlyFailed = "permanently-failed"
)

// StageLog records one processing attempt by one stage.
type StageLog struct {
	Stage     string    `json:"stage"`
	EventID   string    `json:"event_id,omitempty"`
	EntityID  string    `json:"entity_id"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DeliveryToken is an acknowledgment handle bound to one delivery of one
// message. It is owned exclusively by the stage that received it until the
// stage acks or nacks it.
type DeliveryToken struct {
	Channel   Channel `json:"channel"`
	MessageID string  `json:"message_id"`
	// Attempt counts deliveries of this message, starting at 1.
	Attempt int `json:"attempt"`
}

// Delivery is one message as handed to a consumer: the envelope key (entity
// ID), the serialized Event or EnrichedRecord, and the token to settle it.
type Delivery struct {
	Key   string
	Value json.RawMessage
	Token DeliveryToken
}

// BackfillReport summarizes one run of the backfill driver.
type BackfillReport struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	StartOffset int       `json:"start_offset"`
	Pages       int       `json:"pages"`
	Published   int       `json:"published"`
	Failed      int       `json:"failed"`
}
