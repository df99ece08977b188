package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/issue-stream/internal/domain"
)

const retryBatch = 100

// retryEntry is the sorted-set member for one scheduled redelivery.
type retryEntry struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
}

// RunRetryPump moves due entries from a channel's retry set back onto the
// stream until ctx is cancelled. Run one pump per consumed channel.
func (t *Transport) RunRetryPump(ctx context.Context, channel domain.Channel, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.logger.Info("starting retry pump", "channel", channel)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("stopping retry pump", "channel", channel)
			return
		case <-ticker.C:
			if err := t.pumpDue(ctx, channel); err != nil && ctx.Err() == nil {
				if isNetworkError(err) {
					t.logger.Error("retry pump lost redis connection", "channel", channel, "error", err)
				} else {
					t.logger.Warn("retry pump iteration failed", "channel", channel, "error", err)
				}
			}
		}
	}
}

func (t *Transport) pumpDue(ctx context.Context, channel domain.Channel) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	members, err := t.client.ZRangeByScore(ctx, t.retryKey(channel), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: retryBatch,
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range members {
		var entry retryEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			t.logger.Warn("dropping unparseable retry entry", "channel", channel, "error", err)
			if err := t.client.ZRem(ctx, t.retryKey(channel), member).Err(); err != nil {
				return err
			}
			continue
		}

		if err := t.append(ctx, channel, entry.Key, entry.Payload, entry.Attempt); err != nil {
			return err
		}
		// Remove only after the requeue landed; a crash in between yields a
		// duplicate delivery, which at-least-once consumers already tolerate.
		if err := t.client.ZRem(ctx, t.retryKey(channel), member).Err(); err != nil {
			return err
		}
	}

	return nil
}

// RunReclaim requeues messages whose consumer lease expired (delivered but
// neither acked nor nacked for longer than minIdle), covering crashed
// workers. Reclaimed messages keep their attempt count: a lease timeout is
// not the message's fault, so it does not consume the attempt budget.
func (t *Transport) RunReclaim(ctx context.Context, channel domain.Channel, minIdle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.logger.Info("starting lease reclaimer", "channel", channel, "min_idle", minIdle)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("stopping lease reclaimer", "channel", channel)
			return
		case <-ticker.C:
			if err := t.reclaimStale(ctx, channel, minIdle); err != nil && ctx.Err() == nil {
				t.logger.Warn("lease reclaim iteration failed", "channel", channel, "error", err)
			}
		}
	}
}

func (t *Transport) reclaimStale(ctx context.Context, channel domain.Channel, minIdle time.Duration) error {
	msgs, _, err := t.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   t.streamKey(channel),
		Group:    t.group,
		Consumer: t.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    retryBatch,
	}).Result()
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		key, _ := msg.Values["key"].(string)
		payload, _ := msg.Values["payload"].(string)

		attempt := 1
		if raw, ok := msg.Values["attempt"].(string); ok {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				attempt = n
			}
		}

		if err := t.append(ctx, channel, key, []byte(payload), attempt); err != nil {
			return err
		}
		if err := t.client.XAck(ctx, t.streamKey(channel), t.group, msg.ID).Err(); err != nil {
			return err
		}

		t.logger.Warn("reclaimed stale delivery", "channel", channel, "message_id", msg.ID, "key", key, "attempt", attempt)
	}

	return nil
}
