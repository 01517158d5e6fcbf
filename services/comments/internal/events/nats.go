package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubject carries room events between instances.
const DefaultSubject = "comments.room-events"

// NATSBus fans events out over core NATS. Every instance receives every
// event; delivery is at most once.
type NATSBus struct {
	nc      *nats.Conn
	subject string
	log     *zap.Logger
	owned   bool
}

// NewNATSBus publishes on subject (DefaultSubject when empty). When owned
// is set Close also closes nc.
func NewNATSBus(nc *nats.Conn, subject string, owned bool, log *zap.Logger) *NATSBus {
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSBus{nc: nc, subject: subject, log: log, owned: owned}
}

func (b *NATSBus) Publish(_ context.Context, e Event) error {
	if err := e.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", b.subject, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, h Handler) error {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		e, err := decode(msg.Data)
		if err != nil {
			b.log.Warn("dropping malformed room event", zap.Error(err))
			return
		}
		h(ctx, e)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", b.subject, err)
	}
	context.AfterFunc(ctx, func() {
		if err := sub.Unsubscribe(); err != nil && b.nc.IsConnected() {
			b.log.Warn("nats unsubscribe failed", zap.Error(err))
		}
	})
	return nil
}

func (b *NATSBus) Close() error {
	if !b.owned {
		return nil
	}
	return b.nc.Drain()
}
