package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/issue-stream/internal/domain"
	"github.com/user/issue-stream/internal/pkg/backoff"
)

// Transport implements domain.Transport on Redis Streams.
//
// Each channel is one stream plus one sorted set holding delayed retries.
// Nack moves the message into the retry set scored by its next-attempt time;
// the retry pump (retry.go) feeds due entries back onto the stream with an
// incremented attempt count. Stale leases are reclaimed the same way, so a
// crashed consumer's in-flight messages re-enter delivery without operator
// action.
type Transport struct {
	client   *redis.Client
	logger   *slog.Logger
	prefix   string
	group    string
	consumer string
	backoff  backoff.Policy
}

// Option configures a Transport.
type Option func(*Transport)

// WithConsumerGroup sets the consumer group and consumer name used by
// Receive. Producers that never call Receive can skip it.
func WithConsumerGroup(group, consumer string) Option {
	return func(t *Transport) {
		t.group = group
		t.consumer = consumer
	}
}

// WithBackoff overrides the redelivery backoff policy.
func WithBackoff(p backoff.Policy) Option {
	return func(t *Transport) {
		t.backoff = p
	}
}

// NewTransport creates a Redis Streams transport. prefix namespaces the
// stream keys, e.g. prefix "issue_events" maps the raw channel to
// "issue_events:raw".
func NewTransport(client *redis.Client, logger *slog.Logger, prefix string, opts ...Option) *Transport {
	t := &Transport{
		client:  client,
		logger:  logger.With("component", "redis_transport"),
		prefix:  prefix,
		backoff: backoff.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) streamKey(ch domain.Channel) string {
	return t.prefix + ":" + string(ch)
}

func (t *Transport) retryKey(ch domain.Channel) string {
	return t.streamKey(ch) + ":retry"
}

// EnsureGroup creates the consumer group for a channel if it does not exist.
func (t *Transport) EnsureGroup(ctx context.Context, channel domain.Channel) error {
	err := t.client.XGroupCreateMkStream(ctx, t.streamKey(channel), t.group, "0").Err()
	if err != nil && !isBusyGroupError(err) {
		return &domain.TransportUnavailableError{Err: fmt.Errorf("create consumer group: %w", err)}
	}
	return nil
}

// Publish appends one message envelope {key, value, attempt_count=1}.
func (t *Transport) Publish(ctx context.Context, channel domain.Channel, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal message for channel %s: %w", channel, err)
	}
	return t.append(ctx, channel, key, payload, 1)
}

func (t *Transport) append(ctx context.Context, channel domain.Channel, key string, payload []byte, attempt int) error {
	args := &redis.XAddArgs{
		Stream: t.streamKey(channel),
		Values: map[string]any{
			"key":     key,
			"payload": payload,
			"attempt": strconv.Itoa(attempt),
		},
	}
	if err := t.client.XAdd(ctx, args).Err(); err != nil {
		return &domain.TransportUnavailableError{Err: fmt.Errorf("XADD to %s: %w", t.streamKey(channel), err)}
	}
	return nil
}

// Receive pulls up to max messages for this transport's consumer group,
// blocking briefly when the channel is idle. A nil slice means nothing was
// available.
func (t *Transport) Receive(ctx context.Context, channel domain.Channel, max int) ([]domain.Delivery, error) {
	args := &redis.XReadGroupArgs{
		Group:    t.group,
		Consumer: t.consumer,
		Streams:  []string{t.streamKey(channel), ">"},
		Count:    int64(max),
		Block:    2 * time.Second,
	}

	streams, err := t.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, &domain.TransportUnavailableError{Err: fmt.Errorf("XREADGROUP from %s: %w", t.streamKey(channel), err)}
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	messages := streams[0].Messages
	deliveries := make([]domain.Delivery, 0, len(messages))
	for _, msg := range messages {
		d, ok := t.decode(channel, msg)
		if !ok {
			// Unparseable envelope: settle it so it does not stay pending forever.
			if err := t.client.XAck(ctx, t.streamKey(channel), t.group, msg.ID).Err(); err != nil {
				t.logger.Warn("failed to ack malformed envelope", "message_id", msg.ID, "error", err)
			}
			continue
		}
		deliveries = append(deliveries, d)
	}

	return deliveries, nil
}

func (t *Transport) decode(channel domain.Channel, msg redis.XMessage) (domain.Delivery, bool) {
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		t.logger.Warn("invalid message envelope in stream, skipping", "message_id", msg.ID)
		return domain.Delivery{}, false
	}

	key, _ := msg.Values["key"].(string)

	attempt := 1
	if raw, ok := msg.Values["attempt"].(string); ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			attempt = n
		}
	}

	return domain.Delivery{
		Key:   key,
		Value: json.RawMessage(payload),
		Token: domain.DeliveryToken{
			Channel:   channel,
			MessageID: msg.ID,
			Attempt:   attempt,
		},
	}, true
}

// Ack settles a delivery. XACK of an already-acked or unknown ID is a no-op
// on the Redis side, which gives us the required idempotence for free.
func (t *Transport) Ack(ctx context.Context, token domain.DeliveryToken) error {
	if err := t.client.XAck(ctx, t.streamKey(token.Channel), t.group, token.MessageID).Err(); err != nil {
		return &domain.TransportUnavailableError{Err: fmt.Errorf("XACK %s: %w", token.MessageID, err)}
	}
	return nil
}

// Nack settles the original delivery and schedules a redelivery after the
// backoff window for the message's attempt count. The message body is read
// back from the stream before acking so the envelope survives the hand-off.
func (t *Transport) Nack(ctx context.Context, token domain.DeliveryToken) error {
	msgs, err := t.client.XRange(ctx, t.streamKey(token.Channel), token.MessageID, token.MessageID).Result()
	if err != nil {
		return &domain.TransportUnavailableError{Err: fmt.Errorf("XRANGE %s: %w", token.MessageID, err)}
	}
	if len(msgs) == 0 {
		// Already trimmed or claimed elsewhere; nothing to requeue.
		return t.Ack(ctx, token)
	}

	key, _ := msgs[0].Values["key"].(string)
	payload, _ := msgs[0].Values["payload"].(string)

	entry := retryEntry{
		Key:     key,
		Payload: json.RawMessage(payload),
		Attempt: token.Attempt + 1,
	}
	member, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal retry entry: %w", err)
	}

	due := time.Now().Add(t.backoff.Delay(token.Attempt))

	pipe := t.client.Pipeline()
	pipe.ZAdd(ctx, t.retryKey(token.Channel), redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: string(member),
	})
	pipe.XAck(ctx, t.streamKey(token.Channel), t.group, token.MessageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return &domain.TransportUnavailableError{Err: fmt.Errorf("schedule retry for %s: %w", token.MessageID, err)}
	}

	return nil
}

// PublishLog appends a processing-attempt record to the log channel.
func (t *Transport) PublishLog(ctx context.Context, entry domain.StageLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return t.Publish(ctx, domain.ChannelLog, entry.EntityID, entry)
}

func isBusyGroupError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
