package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ServiceType string

const (
	ServiceDineIn   ServiceType = "dine-in"
	ServicePickup   ServiceType = "pickup"
	ServiceDelivery ServiceType = "delivery"
)

func (s ServiceType) Valid() bool {
	switch s {
	case ServiceDineIn, ServicePickup, ServiceDelivery:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentGCash PaymentMethod = "gcash"
	PaymentCard  PaymentMethod = "card"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentGCash, PaymentCard:
		return true
	}
	return false
}

// ServiceDetails carries the fields that only apply to one service type.
type ServiceDetails struct {
	DeliveryAddress  string     `json:"deliveryAddress,omitempty"`
	DeliveryLandmark string     `json:"deliveryLandmark,omitempty"`
	DeliveryLat      *float64   `json:"deliveryLat,omitempty"`
	DeliveryLng      *float64   `json:"deliveryLng,omitempty"`
	PickupTime       *time.Time `json:"pickupTime,omitempty"`
	PartySize        *int       `json:"partySize,omitempty"`
	PreferredTime    *time.Time `json:"preferredTime,omitempty"`
}

// Booking fields are nil until a courier booking succeeds.
type CourierFields struct {
	QuotationID   *string `json:"quotationId"`
	BookingID     *string `json:"bookingId"`
	BookingStatus *string `json:"bookingStatus"`
	TrackingURL   *string `json:"trackingUrl"`
}

type Order struct {
	ID               uuid.UUID        `json:"id"`
	OrderNumber      string           `json:"orderNumber"`
	CustomerName     string           `json:"customerName"`
	CustomerContact  string           `json:"customerContact"`
	ServiceType      ServiceType      `json:"serviceType"`
	Details          ServiceDetails   `json:"details"`
	PaymentMethod    PaymentMethod    `json:"paymentMethod"`
	PaymentReference *string          `json:"paymentReference"`
	Total            decimal.Decimal  `json:"total"`
	DeliveryFee      *decimal.Decimal `json:"deliveryFee"`
	Courier          CourierFields    `json:"courier"`
	Status           OrderStatus      `json:"status"`
	SubmittedBy      string           `json:"submittedBy"`
	Items            []OrderItem      `json:"items"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	CompletedAt      *time.Time       `json:"completedAt"`
}

type OrderItem struct {
	ID         uuid.UUID         `json:"id"`
	OrderID    uuid.UUID         `json:"orderId"`
	MenuItemID *string           `json:"menuItemId"`
	Name       string            `json:"name"`
	Quantity   int               `json:"quantity"`
	UnitPrice  decimal.Decimal   `json:"unitPrice"`
	TotalPrice decimal.Decimal   `json:"totalPrice"`
	Selections SelectionSnapshot `json:"selections"`
}

// ItemsTotal sums the captured line totals.
func (o *Order) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.TotalPrice)
	}
	return sum
}

func (o *Order) Fee() decimal.Decimal {
	if o.DeliveryFee == nil {
		return decimal.Zero
	}
	return *o.DeliveryFee
}

// TotalConsistent reports whether Total = sum(item totals) + delivery fee.
func (o *Order) TotalConsistent() bool {
	return o.Total.Equal(o.ItemsTotal().Add(o.Fee()))
}

func (o *Order) HasBooking() bool {
	return o.Courier.BookingID != nil
}
