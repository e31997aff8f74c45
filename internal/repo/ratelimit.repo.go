package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cafe-orders/internal/domain"
)

type RateLimitRepo interface {
	Find(ctx context.Context, tx *sql.Tx, identity string, kind domain.ActionKind) (*domain.RateLimitEntry, error)
	// Upsert replaces the entry for the pair unconditionally.
	Upsert(ctx context.Context, tx *sql.Tx, entry domain.RateLimitEntry) error
	// Acquire writes entry only if no unexpired entry exists for the pair at
	// entry.ActionAt, as one conditional statement.
	Acquire(ctx context.Context, tx *sql.Tx, entry domain.RateLimitEntry) (domain.RateLimitDecision, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type rateLimitRepo struct {
	db *sql.DB
}

func NewRateLimitRepo(db *sql.DB) RateLimitRepo {
	return &rateLimitRepo{db: db}
}

func (r *rateLimitRepo) conn(tx *sql.Tx) queryer {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *rateLimitRepo) Find(ctx context.Context, tx *sql.Tx, identity string, kind domain.ActionKind) (*domain.RateLimitEntry, error) {
	e := domain.RateLimitEntry{Identity: identity, ActionKind: kind}
	err := r.conn(tx).QueryRowContext(ctx,
		`SELECT action_at, expires_at FROM rate_limits WHERE identity = $1 AND action_kind = $2`,
		identity, kind,
	).Scan(&e.ActionAt, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *rateLimitRepo) Upsert(ctx context.Context, tx *sql.Tx, e domain.RateLimitEntry) error {
	_, err := r.conn(tx).ExecContext(ctx, `
		INSERT INTO rate_limits (identity, action_kind, action_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity, action_kind)
		DO UPDATE SET action_at = EXCLUDED.action_at, expires_at = EXCLUDED.expires_at`,
		e.Identity, e.ActionKind, e.ActionAt, e.ExpiresAt)
	return err
}

func (r *rateLimitRepo) Acquire(ctx context.Context, tx *sql.Tx, e domain.RateLimitEntry) (domain.RateLimitDecision, error) {
	q := r.conn(tx)
	var expiresAt time.Time
	err := q.QueryRowContext(ctx, `
		INSERT INTO rate_limits (identity, action_kind, action_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity, action_kind)
		DO UPDATE SET action_at = EXCLUDED.action_at, expires_at = EXCLUDED.expires_at
		WHERE rate_limits.expires_at <= EXCLUDED.action_at
		RETURNING expires_at`,
		e.Identity, e.ActionKind, e.ActionAt, e.ExpiresAt,
	).Scan(&expiresAt)
	if err == nil {
		return domain.RateLimitDecision{Allowed: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.RateLimitDecision{}, err
	}

	// The conditional update matched nothing: an active entry is in the way.
	current, err := r.Find(ctx, tx, e.Identity, e.ActionKind)
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	d := domain.EvaluateRateLimit(current, e.ActionAt)
	if d.Allowed {
		// Only reachable if the blocking entry vanished between statements.
		return domain.RateLimitDecision{Remaining: time.Nanosecond}, nil
	}
	return d, nil
}

func (r *rateLimitRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
