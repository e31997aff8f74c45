package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cafe-orders/internal/domain"
)

// QuoteRepo records the delivery quotes this service handed out, so a
// submission can be held to the price the provider actually offered.
type QuoteRepo interface {
	Save(ctx context.Context, q domain.DeliveryQuote, issuedAt time.Time) error
	Find(ctx context.Context, tx *sql.Tx, quotationID string) (*domain.DeliveryQuote, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type quoteRepo struct {
	db *sql.DB
}

func NewQuoteRepo(db *sql.DB) QuoteRepo {
	return &quoteRepo{db: db}
}

func (r *quoteRepo) conn(tx *sql.Tx) queryer {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *quoteRepo) Save(ctx context.Context, q domain.DeliveryQuote, issuedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_quotes (quotation_id, price, currency, expires_at, issued_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (quotation_id)
		DO UPDATE SET price = EXCLUDED.price, currency = EXCLUDED.currency, expires_at = EXCLUDED.expires_at`,
		q.QuotationID, q.Price.Round(2), q.Currency, q.ExpiresAt, issuedAt)
	return err
}

func (r *quoteRepo) Find(ctx context.Context, tx *sql.Tx, quotationID string) (*domain.DeliveryQuote, error) {
	q := domain.DeliveryQuote{QuotationID: quotationID}
	err := r.conn(tx).QueryRowContext(ctx,
		`SELECT price, currency, expires_at FROM delivery_quotes WHERE quotation_id = $1`,
		quotationID,
	).Scan(&q.Price, &q.Currency, &q.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *quoteRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM delivery_quotes WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
