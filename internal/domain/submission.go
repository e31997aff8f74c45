package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	minCustomerNameLen = 1
	maxCustomerNameLen = 100
	maxCartLines       = 50
	maxLineQuantity    = 99
	maxPartySize       = 50
	minAddressLen      = 5
)

// moneyPlaces matches the NUMERIC(12, 2) money columns.
const moneyPlaces = 2

// subCent reports whether d would be rounded when stored.
func subCent(d decimal.Decimal) bool {
	return !d.Equal(d.Round(moneyPlaces))
}

type CartLine struct {
	MenuItemID *string           `json:"menuItemId"`
	Name       string            `json:"name"`
	Quantity   int               `json:"quantity"`
	UnitPrice  decimal.Decimal   `json:"unitPrice"`
	TotalPrice *decimal.Decimal  `json:"totalPrice,omitempty"`
	Selections SelectionSnapshot `json:"selections"`
}

// LineTotal is the unit price times the quantity.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Customer struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

// DeliveryContext is the quote the customer accepted at checkout.
type DeliveryContext struct {
	QuotationID string          `json:"quotationId"`
	Fee         decimal.Decimal `json:"fee"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

type Submission struct {
	Cart        []CartLine       `json:"cart"`
	Customer    Customer         `json:"customer"`
	ServiceType ServiceType      `json:"serviceType"`
	Details     ServiceDetails   `json:"details"`
	Payment     PaymentClaim     `json:"payment"`
	Delivery    *DeliveryContext `json:"delivery,omitempty"`
	// ClaimedTotal, when present, must match the server computed total.
	ClaimedTotal *decimal.Decimal `json:"total,omitempty"`
	// SessionToken is the caller's durable per-session identity.
	SessionToken string `json:"-"`
	// RemoteAddr is the network address seen by the server, if any.
	RemoteAddr string `json:"-"`
}

// Identity picks the authoritative identity: the network address when the
// server observed one, otherwise the session token.
func (s *Submission) Identity() string {
	if addr := strings.TrimSpace(s.RemoteAddr); addr != "" {
		return "ip:" + addr
	}
	return "session:" + strings.TrimSpace(s.SessionToken)
}

func (s *Submission) Validate() error {
	name := strings.TrimSpace(s.Customer.Name)
	if n := utf8.RuneCountInString(name); n < minCustomerNameLen || n > maxCustomerNameLen {
		return &ValidationError{Field: "customer.name", Reason: fmt.Sprintf("length must be in [%d, %d]", minCustomerNameLen, maxCustomerNameLen)}
	}
	if strings.TrimSpace(s.Customer.Contact) == "" {
		return &ValidationError{Field: "customer.contact", Reason: "is required"}
	}
	if strings.TrimSpace(s.SessionToken) == "" && strings.TrimSpace(s.RemoteAddr) == "" {
		return &ValidationError{Field: "identity", Reason: "session token is required"}
	}
	if err := s.validateCart(); err != nil {
		return err
	}
	if err := s.validateService(); err != nil {
		return err
	}
	if err := s.Payment.Validate(); err != nil {
		return err
	}
	if s.ClaimedTotal != nil && subCent(*s.ClaimedTotal) {
		return &ValidationError{Field: "total", Reason: "at most 2 decimal places"}
	}
	if s.ClaimedTotal != nil && !s.ClaimedTotal.Equal(s.Total()) {
		return &ValidationError{Field: "total", Reason: fmt.Sprintf("expected %s, got %s", s.Total().StringFixed(2), s.ClaimedTotal.StringFixed(2))}
	}
	return nil
}

func (s *Submission) validateCart() error {
	if len(s.Cart) == 0 {
		return &ValidationError{Field: "cart", Reason: "at least one item is required"}
	}
	if len(s.Cart) > maxCartLines {
		return &ValidationError{Field: "cart", Reason: fmt.Sprintf("at most %d lines", maxCartLines)}
	}
	for i, line := range s.Cart {
		field := fmt.Sprintf("cart[%d]", i)
		if strings.TrimSpace(line.Name) == "" {
			return &ValidationError{Field: field + ".name", Reason: "is required"}
		}
		if line.Quantity <= 0 || line.Quantity > maxLineQuantity {
			return &ValidationError{Field: field + ".quantity", Reason: fmt.Sprintf("must be in [1, %d]", maxLineQuantity)}
		}
		if line.UnitPrice.IsNegative() {
			return &ValidationError{Field: field + ".unitPrice", Reason: "must not be negative"}
		}
		if subCent(line.UnitPrice) {
			return &ValidationError{Field: field + ".unitPrice", Reason: "at most 2 decimal places"}
		}
		if line.UnitPrice.LessThan(line.Selections.UnitExtra()) {
			return &ValidationError{Field: field + ".unitPrice", Reason: "is lower than the selected options"}
		}
		if line.TotalPrice != nil && !line.TotalPrice.Equal(line.LineTotal()) {
			return &ValidationError{Field: field + ".totalPrice", Reason: "does not match unit price times quantity"}
		}
	}
	return nil
}

func (s *Submission) validateService() error {
	if !s.ServiceType.Valid() {
		return &ValidationError{Field: "serviceType", Reason: "must be one of dine-in, pickup, delivery"}
	}
	d := s.Details
	switch s.ServiceType {
	case ServiceDelivery:
		if utf8.RuneCountInString(strings.TrimSpace(d.DeliveryAddress)) < minAddressLen {
			return &ValidationError{Field: "details.deliveryAddress", Reason: "is required"}
		}
		if s.Delivery != nil {
			if strings.TrimSpace(s.Delivery.QuotationID) == "" {
				return &ValidationError{Field: "delivery.quotationId", Reason: "is required with a delivery quote"}
			}
			if s.Delivery.Fee.IsNegative() {
				return &ValidationError{Field: "delivery.fee", Reason: "must not be negative"}
			}
			if subCent(s.Delivery.Fee) {
				return &ValidationError{Field: "delivery.fee", Reason: "at most 2 decimal places"}
			}
		}
	case ServicePickup:
		if d.PickupTime == nil {
			return &ValidationError{Field: "details.pickupTime", Reason: "is required for pickup"}
		}
	case ServiceDineIn:
		if d.PartySize != nil && (*d.PartySize <= 0 || *d.PartySize > maxPartySize) {
			return &ValidationError{Field: "details.partySize", Reason: fmt.Sprintf("must be in [1, %d]", maxPartySize)}
		}
	}
	return nil
}

// DeliveryFee is the accepted quote's price for delivery orders and nil otherwise.
func (s *Submission) DeliveryFee() *decimal.Decimal {
	if s.ServiceType != ServiceDelivery || s.Delivery == nil {
		return nil
	}
	fee := s.Delivery.Fee
	return &fee
}

func (s *Submission) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, line := range s.Cart {
		sum = sum.Add(line.LineTotal())
	}
	if fee := s.DeliveryFee(); fee != nil {
		sum = sum.Add(*fee)
	}
	return sum
}

// BuildOrder turns a validated submission into a pending order and its items.
// OrderNumber is left for the allocator.
func (s *Submission) BuildOrder(now time.Time) *Order {
	o := &Order{
		ID:               uuid.New(),
		CustomerName:     strings.TrimSpace(s.Customer.Name),
		CustomerContact:  strings.TrimSpace(s.Customer.Contact),
		ServiceType:      s.ServiceType,
		Details:          s.scopedDetails(),
		PaymentMethod:    s.Payment.Method,
		PaymentReference: s.Payment.ReferencePtr(),
		DeliveryFee:      s.DeliveryFee(),
		Status:           OrderPending,
		SubmittedBy:      s.Identity(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, line := range s.Cart {
		sel := line.Selections
		sel.Version = SelectionSnapshotVersion
		o.Items = append(o.Items, OrderItem{
			ID:         uuid.New(),
			OrderID:    o.ID,
			MenuItemID: line.MenuItemID,
			Name:       strings.TrimSpace(line.Name),
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			TotalPrice: line.LineTotal(),
			Selections: sel,
		})
	}
	o.Total = o.ItemsTotal().Add(o.Fee())
	return o
}

// scopedDetails drops fields that belong to other service types.
func (s *Submission) scopedDetails() ServiceDetails {
	d := s.Details
	switch s.ServiceType {
	case ServiceDelivery:
		return ServiceDetails{
			DeliveryAddress:  strings.TrimSpace(d.DeliveryAddress),
			DeliveryLandmark: strings.TrimSpace(d.DeliveryLandmark),
			DeliveryLat:      d.DeliveryLat,
			DeliveryLng:      d.DeliveryLng,
		}
	case ServicePickup:
		return ServiceDetails{PickupTime: d.PickupTime}
	default:
		return ServiceDetails{PartySize: d.PartySize, PreferredTime: d.PreferredTime}
	}
}

// MatchQuote checks the delivery context against the quote the server issued.
// The issued price and expiry win over what the client sent back.
func (s *Submission) MatchQuote(q *DeliveryQuote) error {
	if s.ServiceType != ServiceDelivery || s.Delivery == nil {
		return nil
	}
	if q == nil || q.QuotationID != s.Delivery.QuotationID {
		return &ValidationError{Field: "delivery.quotationId", Reason: "unknown quotation, request a new quote"}
	}
	if !q.Price.Equal(s.Delivery.Fee) {
		return &ValidationError{Field: "delivery.fee", Reason: fmt.Sprintf("does not match the quoted price %s", q.Price.StringFixed(moneyPlaces))}
	}
	s.Delivery.ExpiresAt = q.ExpiresAt
	return nil
}

// BookableQuote returns the delivery context when a booking should be attempted.
func (s *Submission) BookableQuote(now time.Time) (*DeliveryContext, bool) {
	if s.ServiceType != ServiceDelivery || s.Delivery == nil || s.Delivery.QuotationID == "" {
		return nil, false
	}
	if !now.Before(s.Delivery.ExpiresAt) {
		return s.Delivery, false
	}
	return s.Delivery, true
}
