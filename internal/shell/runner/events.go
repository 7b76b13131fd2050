package runner

import (
	"sync"

	"github.com/artpar/stackup/internal/core/state"
)

// =============================================================================
// Event Stream
// =============================================================================

// eventBus fans transitions out to subscribers. Publishing never blocks the
// control loop: a subscriber that falls behind its buffer misses events.
type eventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan state.Transition
}

const subscriberBuffer = 64

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan state.Transition)}
}

// subscribe registers a new subscriber and returns its channel plus a
// cancel function. The channel is closed on cancel.
func (b *eventBus) subscribe() (<-chan state.Transition, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan state.Transition, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *eventBus) publish(tr state.Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- tr:
		default:
		}
	}
}
