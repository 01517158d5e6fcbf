package commentsync

import (
	"context"
	"sync/atomic"
)

// DefaultScrollThreshold is the visible fraction of the sentinel that
// triggers the next page.
const DefaultScrollThreshold = 0.1

// ScrollTrigger loads the next page when the end-of-list sentinel becomes
// visible. At most one load runs at a time.
type ScrollTrigger struct {
	store     *Store
	threshold float64
	running   atomic.Bool
}

func NewScrollTrigger(store *Store) *ScrollTrigger {
	return &ScrollTrigger{store: store, threshold: DefaultScrollThreshold}
}

// WithThreshold sets the visible ratio in (0, 1] that counts as in view.
func (t *ScrollTrigger) WithThreshold(ratio float64) *ScrollTrigger {
	if ratio > 0 && ratio <= 1 {
		t.threshold = ratio
	}
	return t
}

// Observe reports the sentinel's visible ratio. It returns true when it
// started a page load; observations that arrive while one is running are
// dropped.
func (t *ScrollTrigger) Observe(ctx context.Context, ratio float64) (bool, error) {
	if ratio < t.threshold || t.store.IsLoadingMore() {
		return false, nil
	}
	if p, ok := t.store.Pagination(); !ok || !p.HasMore {
		return false, nil
	}
	if !t.running.CompareAndSwap(false, true) {
		return false, nil
	}
	defer t.running.Store(false)
	return true, t.store.LoadMoreComments(ctx, t.store.VideoID())
}
