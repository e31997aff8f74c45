package domain

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderPending        OrderStatus = "pending"
	OrderConfirmed      OrderStatus = "confirmed"
	OrderPreparing      OrderStatus = "preparing"
	OrderReady          OrderStatus = "ready"
	OrderOutForDelivery OrderStatus = "out_for_delivery"
	OrderCompleted      OrderStatus = "completed"
	OrderCancelled      OrderStatus = "cancelled"
)

var AllStatuses = []OrderStatus{
	OrderPending,
	OrderConfirmed,
	OrderPreparing,
	OrderReady,
	OrderOutForDelivery,
	OrderCompleted,
	OrderCancelled,
}

func (s OrderStatus) Valid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// Transition is a requested status change. Correction must be set to move a
// completed order anywhere else.
type Transition struct {
	To         OrderStatus
	ChangedBy  string
	Note       string
	Correction bool
}

// CheckTransition validates moving order o to t.To. Forward jumps are allowed
// for staff override; terminal states only move under correction.
func CheckTransition(o *Order, t Transition) error {
	if !t.To.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", t.To)}
	}
	from := o.Status
	switch {
	case from == OrderCancelled:
		return fmt.Errorf("%w: order %s is cancelled", ErrInvalidTransition, o.OrderNumber)
	case from == OrderCompleted && !t.Correction:
		return fmt.Errorf("%w: order %s is completed, moving it requires a correction", ErrInvalidTransition, o.OrderNumber)
	}
	if t.To == OrderOutForDelivery && o.ServiceType != ServiceDelivery {
		return fmt.Errorf("%w: %s order cannot go out for delivery", ErrInvalidTransition, o.ServiceType)
	}
	return nil
}

// ApplyTransition mutates o in place. The caller must have checked the
// transition first. It reports whether anything changed.
func ApplyTransition(o *Order, t Transition, now time.Time) bool {
	if o.Status == t.To {
		return false
	}
	if t.To == OrderCompleted {
		ts := now
		o.CompletedAt = &ts
	} else if o.Status == OrderCompleted {
		o.CompletedAt = nil
	}
	o.Status = t.To
	o.UpdatedAt = now
	return true
}

// StatusChange is one row of the order's status audit log.
type StatusChange struct {
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	ChangedBy string      `json:"changedBy"`
	Note      string      `json:"note,omitempty"`
	ChangedAt time.Time   `json:"changedAt"`
}
