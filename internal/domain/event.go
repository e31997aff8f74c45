package domain

import (
	"time"

	"github.com/google/uuid"
)

type ChangeKind string

const (
	ChangeOrderCreated   ChangeKind = "order_created"
	ChangeStatusChanged  ChangeKind = "status_changed"
	ChangeBookingUpdated ChangeKind = "booking_updated"
	// ChangeResync asks the subscriber to reload its whole view.
	ChangeResync ChangeKind = "resync"
)

const TopicAllOrders = "orders"

func OrderTopic(id uuid.UUID) string { return "order:" + id.String() }

// ChangeEvent tells subscribers that an order changed. It is a hint only:
// subscribers re-fetch the order rather than trusting Status.
type ChangeEvent struct {
	ID          uuid.UUID   `json:"id"`
	Seq         int64       `json:"seq"`
	Kind        ChangeKind  `json:"kind"`
	OrderID     uuid.UUID   `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	Status      OrderStatus `json:"status"`
	OccurredAt  time.Time   `json:"occurredAt"`
}

func NewChangeEvent(kind ChangeKind, o *Order, now time.Time) ChangeEvent {
	return ChangeEvent{
		ID:          uuid.New(),
		Kind:        kind,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Status:      o.Status,
		OccurredAt:  now,
	}
}
