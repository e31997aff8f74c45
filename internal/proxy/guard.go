package proxy

import (
	"context"
	"sync"
	"time"
)

// bookingOutcome is a finished provider answer, replayed verbatim to
// duplicate requests.
type bookingOutcome struct {
	status int
	body   any
}

type guardEntry struct {
	done    chan struct{}
	outcome *bookingOutcome
	expires time.Time
}

// Guard makes booking at-most-once per idempotency key. The first caller for
// a key becomes the leader and talks to the provider; concurrent and later
// callers wait for and replay its outcome. A leader that got no answer from
// the provider releases the key so a retry may try again.
type Guard struct {
	mu      sync.Mutex
	entries map[string]*guardEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewGuard(ttl time.Duration) *Guard {
	return &Guard{entries: make(map[string]*guardEntry), ttl: ttl, now: time.Now}
}

// Do runs fn once per key and returns its outcome. replayed is true when the
// outcome came from an earlier or concurrent call.
func (g *Guard) Do(ctx context.Context, key string, fn func() (*bookingOutcome, bool)) (out *bookingOutcome, replayed bool, err error) {
	for {
		g.mu.Lock()
		g.sweep()
		e, ok := g.entries[key]
		if !ok {
			e = &guardEntry{done: make(chan struct{})}
			g.entries[key] = e
			g.mu.Unlock()
			return g.lead(key, e, fn), false, nil
		}
		g.mu.Unlock()

		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		if e.outcome != nil {
			return e.outcome, true, nil
		}
		// Released without an answer; contend again.
	}
}

// lead runs fn as the key's leader. The key is released on every exit,
// including a panic in fn, so waiters never block on a dead leader.
func (g *Guard) lead(key string, e *guardEntry, fn func() (*bookingOutcome, bool)) (out *bookingOutcome) {
	keep := false
	defer func() {
		g.mu.Lock()
		if keep {
			e.outcome = out
			e.expires = g.now().Add(g.ttl)
		} else {
			delete(g.entries, key)
		}
		g.mu.Unlock()
		close(e.done)
	}()

	out, keep = fn()
	return out
}

// sweep drops finished entries past their TTL. Callers hold g.mu.
func (g *Guard) sweep() {
	now := g.now()
	for k, e := range g.entries {
		if e.outcome != nil && now.After(e.expires) {
			delete(g.entries, k)
		}
	}
}

func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
