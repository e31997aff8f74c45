// Package notify fans committed order changes out to live subscribers.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"cafe-orders/internal/domain"
)

// Publisher delivers one change event. The outbox relay marks an event
// published only after Publish returns nil.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// Hub is the in-process fan-out. Publish never blocks on a subscriber.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscription receives events for one topic until Cancel is called or the
// subscribe context ends. C is closed afterwards.
type Subscription struct {
	C <-chan domain.ChangeEvent

	topic string
	hub   *Hub
	out   chan domain.ChangeEvent
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	pending []domain.ChangeEvent
}

// Subscribe registers for topic: domain.TopicAllOrders or domain.OrderTopic(id).
func (h *Hub) Subscribe(ctx context.Context, topic string) *Subscription {
	s := &Subscription{
		topic: topic,
		hub:   h,
		out:   make(chan domain.ChangeEvent),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	s.C = s.out

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go s.pump()
	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.done:
		}
	}()
	return s
}

func (h *Hub) Publish(_ context.Context, ev domain.ChangeEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.matches(ev) {
			s.enqueue(ev)
		}
	}
	return nil
}

// Resync tells every subscriber to reload its whole view, for example after
// the broker connection was lost and events may have been skipped.
func (h *Hub) Resync() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		s.enqueue(domain.ChangeEvent{Kind: domain.ChangeResync})
	}
}

// Close ends every subscription, closing their streams.
func (h *Hub) Close() {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		s.Cancel()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) matches(ev domain.ChangeEvent) bool {
	return s.topic == domain.TopicAllOrders || s.topic == domain.OrderTopic(ev.OrderID)
}

// enqueue keeps at most one pending event per order. A newer event replaces
// the queued one in place, since subscribers re-fetch the order anyway.
func (s *Subscription) enqueue(ev domain.ChangeEvent) {
	s.mu.Lock()
	replaced := false
	if ev.OrderID != uuid.Nil {
		for i := range s.pending {
			if s.pending[i].OrderID == ev.OrderID {
				s.pending[i] = ev
				replaced = true
				break
			}
		}
	}
	if !replaced {
		s.pending = append(s.pending, ev)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (domain.ChangeEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return domain.ChangeEvent{}, false
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, true
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		ev, ok := s.next()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
