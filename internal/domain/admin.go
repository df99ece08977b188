package domain

import (
	"context"
	"time"
)

// ChannelGroupInfo describes one consumer group on a pipeline channel.
type ChannelGroupInfo struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	LastDeliveredID string `json:"last_delivered_id"`
}

// ChannelConsumerInfo describes a single consumer in a group.
type ChannelConsumerInfo struct {
	Name    string        `json:"name"`
	Pending int64         `json:"pending"`
	Idle    time.Duration `json:"idle_ms"`
}

// PendingSummary summarizes the unacknowledged messages of a consumer group,
// i.e. messages delivered but not yet settled by a stage.
type PendingSummary struct {
	Total          int64            `json:"total"`
	FirstMessageID string           `json:"first_message_id,omitempty"`
	LastMessageID  string           `json:"last_message_id,omitempty"`
	ConsumerTotals map[string]int64 `json:"consumer_totals,omitempty"`
}

// ChannelAdmin exposes read-mostly introspection of the transport's channels
// for the worker admin API. Trim is the one mutating operation; it bounds the
// log channel, which nothing in the pipeline ever consumes.
type ChannelAdmin interface {
	GroupInfo(ctx context.Context, channel Channel) ([]ChannelGroupInfo, error)
	ConsumerInfo(ctx context.Context, channel Channel, group string) ([]ChannelConsumerInfo, error)
	PendingInfo(ctx context.Context, channel Channel, group string) (*PendingSummary, error)
	Trim(ctx context.Context, channel Channel, maxLen int64) (int64, error)
}
