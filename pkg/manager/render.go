package manager

import (
	"sync"
	"sync/atomic"

	"github.com/walletmux/walletmux/pkg/metrics"
)

// RenderTrigger is a monotonically-incrementing counter that signals "some
// externally observed dependency changed" without touching the state store.
// The network and account triggers are independent so a network-only change
// does not force recomputation of account-derived values and vice versa.
type RenderTrigger struct {
	kind  string
	count atomic.Uint64

	mu   sync.RWMutex
	subs map[chan uint64]struct{}
}

func newRenderTrigger(kind string) *RenderTrigger {
	return &RenderTrigger{
		kind: kind,
		subs: make(map[chan uint64]struct{}),
	}
}

// Bump increments the counter and notifies subscribers. Notification is
// best-effort: a subscriber that is not draining its channel misses
// intermediate counts but always sees a later one.
func (t *RenderTrigger) Bump() {
	n := t.count.Add(1)
	metrics.RenderBumps.WithLabelValues(t.kind).Inc()

	t.mu.RLock()
	defer t.mu.RUnlock()
	for ch := range t.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Count returns the current counter value.
func (t *RenderTrigger) Count() uint64 {
	return t.count.Load()
}

// Subscribe registers for bump notifications. The returned func unsubscribes
// and closes the channel.
func (t *RenderTrigger) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 32)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	unsubscribe := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[ch]; !ok {
			return
		}
		delete(t.subs, ch)
		close(ch)
	}
	return ch, unsubscribe
}
