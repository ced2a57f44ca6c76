package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/yourorg/scenegen/pkg/types"
)

// Bus publishes session notifications over Redis pub/sub. Delivery is
// at-most-once: a message published while nobody listens is gone.
type Bus struct {
	rdb    redis.UniversalClient
	logger *slog.Logger
}

func New(rdb redis.UniversalClient, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{rdb: rdb, logger: logger}
}

// Publish hands n to Redis and returns. It does not wait for, or report on,
// delivery to subscribers.
func (b *Bus) Publish(ctx context.Context, channel string, n types.Notification) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("notification channel is empty")
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	receivers, err := b.rdb.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("%w: publish: %v", types.ErrCacheUnavailable, err)
	}
	b.logger.Info("published notification", "channel", channel, "session_id", n.SessionID, "status", n.Status, "receivers", receivers)
	return nil
}

// Subscription receives notifications from one channel.
type Subscription struct {
	ps     *redis.PubSub
	ch     <-chan *redis.Message
	logger *slog.Logger
}

// Subscribe returns once the server has confirmed the subscription, so
// messages published after it returns are received.
func (b *Bus) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", types.ErrCacheUnavailable, channel, err)
	}
	b.logger.Info("subscribed", "channel", channel)
	return &Subscription{ps: ps, ch: ps.Channel(), logger: b.logger}, nil
}

// Next blocks until a well-formed notification arrives, ctx ends, or the
// subscription is closed. Malformed payloads are logged and skipped.
func (s *Subscription) Next(ctx context.Context) (types.Notification, error) {
	for {
		select {
		case <-ctx.Done():
			return types.Notification{}, ctx.Err()
		case msg, ok := <-s.ch:
			if !ok {
				return types.Notification{}, errors.New("subscription closed")
			}
			var n types.Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil || n.SessionID == "" {
				s.logger.Warn("ignoring malformed notification", "channel", msg.Channel, "payload", msg.Payload)
				continue
			}
			return n, nil
		}
	}
}

func (s *Subscription) Close() error {
	return s.ps.Close()
}

// Listen subscribes to channel and calls handle for every notification until
// ctx is cancelled.
func (b *Bus) Listen(ctx context.Context, channel string, handle func(types.Notification)) error {
	sub, err := b.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	defer sub.Close()
	for {
		n, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		handle(n)
	}
}
