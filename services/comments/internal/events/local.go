package events

import (
	"context"
	"slices"
	"sync"
)

// LocalBus delivers in-process, synchronously, in subscription order. It
// serves single-instance deployments and tests.
type LocalBus struct {
	mu     sync.RWMutex
	seq    int
	subs   []subscription
	closed bool
}

type subscription struct {
	id int
	h  Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(ctx context.Context, e Event) error {
	if err := e.validate(); err != nil {
		return err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.h(ctx, e)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, h Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.seq++
	id := b.seq
	b.subs = append(b.subs, subscription{id: id, h: h})
	b.mu.Unlock()

	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
		b.mu.Unlock()
	})
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}
