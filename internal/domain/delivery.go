package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DeliveryQuote struct {
	QuotationID string          `json:"quotationId"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

// Expired reports whether the quote can no longer be booked at now.
func (q DeliveryQuote) Expired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// QuoteRetention is how long an issued quote stays on record past its expiry.
// Late submissions against it are still checked and kept without a courier.
const QuoteRetention = 24 * time.Hour

// QuoteRequest asks for a delivery price on behalf of a checkout session.
type QuoteRequest struct {
	Dropoff      Location
	SessionToken string
	RemoteAddr   string
}

// Identity keys the quote cooldown: the session when there is one, else the
// network address. Empty when neither is known.
func (r QuoteRequest) Identity() string {
	if token := strings.TrimSpace(r.SessionToken); token != "" {
		return "session:" + token
	}
	if addr := strings.TrimSpace(r.RemoteAddr); addr != "" {
		return "ip:" + addr
	}
	return ""
}

type DeliveryBooking struct {
	BookingID   string  `json:"orderId"`
	Status      string  `json:"status"`
	TrackingURL string  `json:"shareLink"`
	DriverID    *string `json:"driverId,omitempty"`
}

// BookingRequest asks for a courier against an accepted quotation.
// OrderID doubles as the idempotency key.
type BookingRequest struct {
	OrderID        string            `json:"-"`
	QuotationID    string            `json:"quotationId"`
	RecipientName  string            `json:"recipientName"`
	RecipientPhone string            `json:"recipientPhone"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Location is a stop as the courier provider sees it.
type Location struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// Store is the pickup side of every delivery.
type Store struct {
	Name         string  `yaml:"name"`
	Phone        string  `yaml:"phone"`
	Address      string  `yaml:"address"`
	Latitude     float64 `yaml:"latitude"`
	Longitude    float64 `yaml:"longitude"`
	Market       string  `yaml:"market"`
	ServiceClass string  `yaml:"service_class"`
	Currency     string  `yaml:"currency"`
}

func (s Store) Location() Location {
	return Location{Address: s.Address, Lat: s.Latitude, Lng: s.Longitude}
}
