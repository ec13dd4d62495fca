package events

import (
	"slices"
	"sync"
)

// Bus fans events out to subscribers. Publish never blocks: each
// subscriber has its own unbounded queue drained by a dedicated goroutine,
// so a slow consumer only delays itself. Events reach a subscriber in the
// order they were published.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	C <-chan Event

	bus    *Bus
	kinds  []Kind
	out    chan Event
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Subscribe registers interest in kinds; no kinds means every kind.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	out := make(chan Event)
	s := &Subscription{
		C:      out,
		bus:    b,
		kinds:  slices.Clone(kinds),
		out:    out,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.stop()
		close(out)
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()
	return s
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.wants(e.Kind()) {
			s.enqueue(e)
		}
	}
}

// Close detaches and closes every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[*Subscription]struct{}{}
	b.closed = true
	b.mu.Unlock()

	for s := range subs {
		s.stop()
	}
}

func (s *Subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, k)
}

func (s *Subscription) enqueue(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			e := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- e:
			case <-s.done:
				return
			}
		}
	}
}

// Close unsubscribes. Pending undelivered events are dropped and C is
// closed.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}
