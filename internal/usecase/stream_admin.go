package usecase

import (
	"context"
	"errors"

	"github.com/user/issue-stream/internal/domain"
)

// StreamAdmin exposes channel introspection for the worker admin API.
type StreamAdmin struct {
	admin domain.ChannelAdmin
}

// NewStreamAdmin creates the stream administration use case.
func NewStreamAdmin(admin domain.ChannelAdmin) *StreamAdmin {
	return &StreamAdmin{admin: admin}
}

// ParseChannel validates a channel name from a request path.
func ParseChannel(name string) (domain.Channel, error) {
	switch domain.Channel(name) {
	case domain.ChannelRaw, domain.ChannelEnriched, domain.ChannelLog:
		return domain.Channel(name), nil
	default:
		return "", errors.New("unknown channel: " + name)
	}
}

func (uc *StreamAdmin) GroupInfo(ctx context.Context, channel domain.Channel) ([]domain.ChannelGroupInfo, error) {
	return uc.admin.GroupInfo(ctx, channel)
}

func (uc *StreamAdmin) ConsumerInfo(ctx context.Context, channel domain.Channel, group string) ([]domain.ChannelConsumerInfo, error) {
	return uc.admin.ConsumerInfo(ctx, channel, group)
}

func (uc *StreamAdmin) PendingInfo(ctx context.Context, channel domain.Channel, group string) (*domain.PendingSummary, error) {
	return uc.admin.PendingInfo(ctx, channel, group)
}

func (uc *StreamAdmin) Trim(ctx context.Context, channel domain.Channel, maxLen int64) (int64, error) {
	if maxLen <= 0 {
		return 0, errors.New("maxLen must be positive")
	}
	return uc.admin.Trim(ctx, channel, maxLen)
}
