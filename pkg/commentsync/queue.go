package commentsync

import (
	"context"
	"sync"
)

// entityQueue admits one mutation per comment id at a time. Waiters are
// served as the slot frees up and give up when their context ends.
type entityQueue struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func newEntityQueue() *entityQueue {
	return &entityQueue{slots: make(map[string]*slot)}
}

// acquire blocks until id is free and returns the release func.
func (q *entityQueue) acquire(ctx context.Context, id string) (func(), error) {
	q.mu.Lock()
	s, ok := q.slots[id]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		q.slots[id] = s
	}
	s.refs++
	q.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			q.unref(id, s)
		}, nil
	case <-ctx.Done():
		q.unref(id, s)
		return nil, ctx.Err()
	}
}

func (q *entityQueue) unref(id string, s *slot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(q.slots, id)
	}
}

func (q *entityQueue) pending(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.slots[id]; ok {
		return s.refs
	}
	return 0
}
