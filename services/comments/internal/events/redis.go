package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the Redis pub/sub channel for room events.
const DefaultChannel = "comments:room-events"

// RedisBus fans events out over Redis pub/sub.
type RedisBus struct {
	rdb     redis.UniversalClient
	channel string
	log     *zap.Logger
}

func NewRedisBus(rdb redis.UniversalClient, channel string, log *zap.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBus{rdb: rdb, channel: channel, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	if err := e.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed, then consumes in a
// goroutine until ctx ends.
func (b *RedisBus) Subscribe(ctx context.Context, h Handler) error {
	ps := b.rdb.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}
	ch := ps.Channel()
	go func() {
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				e, err := decode([]byte(msg.Payload))
				if err != nil {
					b.log.Warn("dropping malformed room event", zap.Error(err))
					continue
				}
				h(ctx, e)
			}
		}
	}()
	return nil
}

// Close is a no-op; the client belongs to the caller.
func (b *RedisBus) Close() error { return nil }
