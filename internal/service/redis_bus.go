package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	q "github.com/iliyamo/token-queue/internal/queue"
)

// Publisher is anything booking events can be delivered to.
type Publisher interface {
	Publish(ctx context.Context, ev q.BookingEvent) error
}

// RedisBus broadcasts booking events to every replica over a Redis
// pub/sub channel.  Delivery is best effort; RabbitMQ is the durable path.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisBus returns a bus on the given channel.
func NewRedisBus(rdb *redis.Client, channel string, logger *zap.Logger) *RedisBus {
	if channel == "" {
		channel = "queue-events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{rdb: rdb, channel: channel, logger: logger}
}

// Publish sends ev to the channel.
func (b *RedisBus) Publish(ctx context.Context, ev q.BookingEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, body).Err()
}

// Listen subscribes to the channel and hands every event to sink until
// ctx is cancelled.  Undecodable payloads are logged and skipped.
func (b *RedisBus) Listen(ctx context.Context, sink Publisher) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev q.BookingEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				b.logger.Warn("bad event payload", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			if err := sink.Publish(ctx, ev); err != nil {
				b.logger.Warn("event sink failed", zap.String("booking_id", ev.BookingID), zap.Error(err))
			}
		}
	}
}
