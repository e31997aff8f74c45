package repo

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"cafe-orders/internal/domain"
)

// EventRepo is the transactional outbox behind the status notifier.
type EventRepo interface {
	Append(ctx context.Context, tx *sql.Tx, ev domain.ChangeEvent) error
	FindUnpublished(ctx context.Context, limit int) ([]domain.ChangeEvent, error)
	MarkPublished(ctx context.Context, seqs []int64, at time.Time) error
}

type eventRepo struct {
	db *sql.DB
}

func NewEventRepo(db *sql.DB) EventRepo {
	return &eventRepo{db: db}
}

func (r *eventRepo) Append(ctx context.Context, tx *sql.Tx, ev domain.ChangeEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_events (id, kind, order_id, order_number, status, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.Kind, ev.OrderID, ev.OrderNumber, ev.Status, ev.OccurredAt)
	return err
}

func (r *eventRepo) FindUnpublished(ctx context.Context, limit int) ([]domain.ChangeEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, id, kind, order_id, order_number, status, occurred_at
		FROM order_events
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ChangeEvent
	for rows.Next() {
		var ev domain.ChangeEvent
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.Kind, &ev.OrderID, &ev.OrderNumber, &ev.Status, &ev.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *eventRepo) MarkPublished(ctx context.Context, seqs []int64, at time.Time) error {
	if len(seqs) == 0 {
		return nil
	}
	placeholders := make([]string, len(seqs))
	args := make([]any, 0, len(seqs)+1)
	args = append(args, at)
	for i, s := range seqs {
		placeholders[i] = "$" + strconv.Itoa(i+2)
		args = append(args, s)
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE order_events SET published_at = $1 WHERE seq IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	return err
}
