package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cafe-orders/internal/database"
	"cafe-orders/internal/domain"
)

// orderNumberLockSpace namespaces the per-day advisory lock.
const orderNumberLockSpace int32 = 7401

type ListFilter struct {
	Status *domain.OrderStatus
	Limit  int
}

type OrderRepo interface {
	FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	FindForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Order, error)
	// AllocateNumber must run inside the transaction that inserts the order.
	AllocateNumber(ctx context.Context, tx *sql.Tx, day time.Time) (string, error)
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	CreateItems(ctx context.Context, tx *sql.Tx, items []domain.OrderItem) error
	UpdateOrderStatus(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	UpdateBooking(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	AppendStatusLog(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, change domain.StatusChange) error
	StatusHistory(ctx context.Context, orderID uuid.UUID) ([]domain.StatusChange, error)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

func (r *orderRepo) conn(tx *sql.Tx) queryer {
	if tx == nil {
		return r.db
	}
	return tx
}

const orderColumns = `id, order_number, customer_name, customer_contact, service_type,
	delivery_address, delivery_landmark, delivery_lat, delivery_lng, pickup_time, party_size, preferred_time,
	payment_method, payment_reference, total, delivery_fee,
	quotation_id, booking_id, booking_status, tracking_url,
	status, submitted_by, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o   domain.Order
		fee decimal.NullDecimal
	)
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.CustomerName,
		&o.CustomerContact,
		&o.ServiceType,
		nullString{&o.Details.DeliveryAddress},
		nullString{&o.Details.DeliveryLandmark},
		&o.Details.DeliveryLat,
		&o.Details.DeliveryLng,
		&o.Details.PickupTime,
		&o.Details.PartySize,
		&o.Details.PreferredTime,
		&o.PaymentMethod,
		&o.PaymentReference,
		&o.Total,
		&fee,
		&o.Courier.QuotationID,
		&o.Courier.BookingID,
		&o.Courier.BookingStatus,
		&o.Courier.TrackingURL,
		&o.Status,
		&o.SubmittedBy,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if fee.Valid {
		o.DeliveryFee = &fee.Decimal
	}
	return &o, nil
}

func (r *orderRepo) FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.find(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *orderRepo) FindForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.find(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *orderRepo) find(ctx context.Context, tx *sql.Tx, query string, id uuid.UUID) (*domain.Order, error) {
	q := r.conn(tx)
	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	items, err := r.items(ctx, q, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func (r *orderRepo) items(ctx context.Context, q queryer, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, menu_item_id, name, quantity, unit_price, total_price, selections
		FROM order_items
		WHERE order_id = $1
		ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(
			&it.ID,
			&it.OrderID,
			&it.MenuItemID,
			&it.Name,
			&it.Quantity,
			&it.UnitPrice,
			&it.TotalPrice,
			&it.Selections,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *orderRepo) List(ctx context.Context, filter ListFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if filter.Status != nil {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
			*filter.Status, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := r.items(ctx, r.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// AllocateNumber serializes allocators for the same day with a transaction
// scoped advisory lock, then counts and probes inside that critical section.
func (r *orderRepo) AllocateNumber(ctx context.Context, tx *sql.Tx, day time.Time) (string, error) {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, orderNumberLockSpace, domain.DayKey(day)); err != nil {
		return "", fmt.Errorf("lock order numbers: %w", err)
	}

	prefix := domain.OrderNumberPrefix(day)
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE order_number LIKE $1`, prefix+"%").Scan(&count); err != nil {
		return "", fmt.Errorf("count today's orders: %w", err)
	}

	return domain.NextOrderNumber(day, count, func(candidate string) (bool, error) {
		var exists bool
		err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)`, candidate).Scan(&exists)
		return exists, err
	})
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, customer_name, customer_contact, service_type,
			delivery_address, delivery_landmark, delivery_lat, delivery_lng, pickup_time, party_size, preferred_time,
			payment_method, payment_reference, total, delivery_fee,
			status, submitted_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		o.ID,
		o.OrderNumber,
		o.CustomerName,
		o.CustomerContact,
		o.ServiceType,
		emptyAsNull(o.Details.DeliveryAddress),
		emptyAsNull(o.Details.DeliveryLandmark),
		o.Details.DeliveryLat,
		o.Details.DeliveryLng,
		o.Details.PickupTime,
		o.Details.PartySize,
		o.Details.PreferredTime,
		o.PaymentMethod,
		o.PaymentReference,
		o.Total,
		nullDecimal(o.DeliveryFee),
		o.Status,
		o.SubmittedBy,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: order number %s already taken", domain.ErrPersistenceConflict, o.OrderNumber)
	}
	return err
}

func (r *orderRepo) CreateItems(ctx context.Context, tx *sql.Tx, items []domain.OrderItem) error {
	for i, it := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, menu_item_id, name, quantity, unit_price, total_price, selections, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			it.ID, it.OrderID, it.MenuItemID, it.Name, it.Quantity, it.UnitPrice, it.TotalPrice, it.Selections, i,
		)
		if err != nil {
			return fmt.Errorf("insert item %d: %w", i, err)
		}
	}
	return nil
}

func (r *orderRepo) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $1, completed_at = $2, updated_at = $3 WHERE id = $4`,
		o.Status, o.CompletedAt, o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	return expectOne(res, o.ID)
}

func (r *orderRepo) UpdateBooking(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET quotation_id = $1, booking_id = $2, booking_status = $3, tracking_url = $4, updated_at = $5
		WHERE id = $6`,
		o.Courier.QuotationID, o.Courier.BookingID, o.Courier.BookingStatus, o.Courier.TrackingURL, o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	return expectOne(res, o.ID)
}

func (r *orderRepo) AppendStatusLog(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, c domain.StatusChange) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_log (order_id, from_status, to_status, changed_by, note, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		orderID, emptyAsNull(string(c.From)), c.To, c.ChangedBy, c.Note, c.ChangedAt)
	return err
}

func (r *orderRepo) StatusHistory(ctx context.Context, orderID uuid.UUID) ([]domain.StatusChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(from_status, ''), to_status, changed_by, note, changed_at
		FROM order_status_log
		WHERE order_id = $1
		ORDER BY changed_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StatusChange
	for rows.Next() {
		var c domain.StatusChange
		if err := rows.Scan(&c.From, &c.To, &c.ChangedBy, &c.Note, &c.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	return nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func emptyAsNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullString scans a nullable text column into a plain string.
type nullString struct {
	dst *string
}

func (n nullString) Scan(src any) error {
	var ns sql.NullString
	if err := ns.Scan(src); err != nil {
		return err
	}
	*n.dst = ns.String
	return nil
}
