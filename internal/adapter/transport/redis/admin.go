package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/issue-stream/internal/domain"
)

// Admin implements domain.ChannelAdmin for the Redis transport.
type Admin struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
}

// NewAdmin creates a channel introspection adapter sharing the transport's
// stream key prefix.
func NewAdmin(client *redis.Client, logger *slog.Logger, prefix string) *Admin {
	return &Admin{
		client: client,
		logger: logger.With("component", "channel_admin"),
		prefix: prefix,
	}
}

func (a *Admin) streamKey(ch domain.Channel) string {
	return a.prefix + ":" + string(ch)
}

// GroupInfo lists the consumer groups of a channel.
func (a *Admin) GroupInfo(ctx context.Context, channel domain.Channel) ([]domain.ChannelGroupInfo, error) {
	groups, err := a.client.XInfoGroups(ctx, a.streamKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("group info for channel %s: %w", channel, err)
	}

	result := make([]domain.ChannelGroupInfo, len(groups))
	for i, g := range groups {
		result[i] = domain.ChannelGroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
		}
	}
	return result, nil
}

// ConsumerInfo lists the consumers of one group on a channel.
func (a *Admin) ConsumerInfo(ctx context.Context, channel domain.Channel, group string) ([]domain.ChannelConsumerInfo, error) {
	consumers, err := a.client.XInfoConsumers(ctx, a.streamKey(channel), group).Result()
	if err != nil {
		return nil, fmt.Errorf("consumer info for channel %s, group %s: %w", channel, group, err)
	}

	result := make([]domain.ChannelConsumerInfo, len(consumers))
	for i, c := range consumers {
		result[i] = domain.ChannelConsumerInfo{
			Name:    c.Name,
			Pending: c.Pending,
			Idle:    time.Duration(c.Idle) * time.Millisecond,
		}
	}
	return result, nil
}

// PendingInfo summarizes a group's delivered-but-unsettled messages.
func (a *Admin) PendingInfo(ctx context.Context, channel domain.Channel, group string) (*domain.PendingSummary, error) {
	pending, err := a.client.XPending(ctx, a.streamKey(channel), group).Result()
	if err != nil {
		return nil, fmt.Errorf("pending summary for channel %s, group %s: %w", channel, group, err)
	}

	return &domain.PendingSummary{
		Total:          pending.Count,
		FirstMessageID: pending.Lower,
		LastMessageID:  pending.Higher,
		ConsumerTotals: pending.Consumers,
	}, nil
}

// Trim bounds a channel to maxLen entries, returning the number removed.
// Intended for the log channel, which the pipeline never consumes.
func (a *Admin) Trim(ctx context.Context, channel domain.Channel, maxLen int64) (int64, error) {
	removed, err := a.client.XTrimMaxLen(ctx, a.streamKey(channel), maxLen).Result()
	if err != nil {
		return 0, fmt.Errorf("trim channel %s: %w", channel, err)
	}
	a.logger.Info("trimmed channel", "channel", channel, "max_len", maxLen, "removed", removed)
	return removed, nil
}
