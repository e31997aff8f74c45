package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"cafe-orders/internal/database"
	"cafe-orders/internal/domain"
	"cafe-orders/internal/repo"
)

// RateLimiter is the check/record contract shared by both enforcement points.
type RateLimiter interface {
	Check(ctx context.Context, identity string, kind domain.ActionKind, cooldown time.Duration) (domain.RateLimitDecision, error)
	Record(ctx context.Context, identity string, kind domain.ActionKind, cooldown time.Duration) error
}

// AdvisoryLimiter is the cheap in-process check done before touching the
// database. A client can dodge it by rotating its session token, which is why
// the authoritative limiter repeats the check at commit time.
type AdvisoryLimiter struct {
	mu      sync.RWMutex
	entries map[advisoryKey]domain.RateLimitEntry
	now     func() time.Time
}

type advisoryKey struct {
	identity string
	kind     domain.ActionKind
}

func NewAdvisoryLimiter(now func() time.Time) *AdvisoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &AdvisoryLimiter{entries: make(map[advisoryKey]domain.RateLimitEntry), now: now}
}

func (l *AdvisoryLimiter) Check(_ context.Context, identity string, kind domain.ActionKind, _ time.Duration) (domain.RateLimitDecision, error) {
	l.mu.RLock()
	entry, ok := l.entries[advisoryKey{identity, kind}]
	l.mu.RUnlock()
	if !ok {
		return domain.EvaluateRateLimit(nil, l.now()), nil
	}
	return domain.EvaluateRateLimit(&entry, l.now()), nil
}

func (l *AdvisoryLimiter) Record(_ context.Context, identity string, kind domain.ActionKind, cooldown time.Duration) error {
	entry := domain.NewRateLimitEntry(identity, kind, domain.ClampCooldown(cooldown), l.now())
	l.mu.Lock()
	l.entries[advisoryKey{identity, kind}] = entry
	l.mu.Unlock()
	return nil
}

// Purge drops expired entries and returns how many went.
func (l *AdvisoryLimiter) Purge(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for k, e := range l.entries {
		if !before.Before(e.ExpiresAt) {
			delete(l.entries, k)
			n++
		}
	}
	return n, nil
}

// StoreLimiter is the authoritative limiter backed by the rate_limits table.
type StoreLimiter struct {
	db    database.Transactor
	store repo.RateLimitRepo
	now   func() time.Time
}

func NewStoreLimiter(db database.Transactor, store repo.RateLimitRepo, now func() time.Time) *StoreLimiter {
	if now == nil {
		now = time.Now
	}
	return &StoreLimiter{db: db, store: store, now: now}
}

func (l *StoreLimiter) Check(ctx context.Context, identity string, kind domain.ActionKind, _ time.Duration) (domain.RateLimitDecision, error) {
	entry, err := l.store.Find(ctx, nil, identity, kind)
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	return domain.EvaluateRateLimit(entry, l.now()), nil
}

func (l *StoreLimiter) Record(ctx context.Context, identity string, kind domain.ActionKind, cooldown time.Duration) error {
	entry := domain.NewRateLimitEntry(identity, kind, domain.ClampCooldown(cooldown), l.now())
	return l.store.Upsert(ctx, nil, entry)
}

// Acquire is check-then-record as a single conditional write inside tx. It
// returns a *domain.RateLimitError when the identity is still cooling down.
func (l *StoreLimiter) Acquire(ctx context.Context, tx *sql.Tx, identity string, kind domain.ActionKind, cooldown time.Duration) error {
	entry := domain.NewRateLimitEntry(identity, kind, domain.ClampCooldown(cooldown), l.now())
	d, err := l.store.Acquire(ctx, tx, entry)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &domain.RateLimitError{ActionKind: kind, Remaining: d.Remaining}
	}
	return nil
}

// AcquireNow runs Acquire in its own transaction.
func (l *StoreLimiter) AcquireNow(ctx context.Context, identity string, kind domain.ActionKind, cooldown time.Duration) error {
	return l.db.WithinTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return l.Acquire(ctx, tx, identity, kind, cooldown)
	})
}

func (l *StoreLimiter) Purge(ctx context.Context, before time.Time) (int64, error) {
	return l.store.DeleteExpired(ctx, before)
}
