package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"cafe-orders/internal/domain"
)

const maxBodyBytes = 1 << 20

// Provider error ids that mean "do not retry, the outcome is known".
var (
	expiredErrorIDs = []string{"ERR_QUOTATION_EXPIRED"}
	bookedErrorIDs  = []string{"ERR_QUOTATION_ALREADY_USED", "ERR_DUPLICATE_ORDER", "ERR_ORDER_ALREADY_PLACED"}
)

// Client talks to the courier provider's v3 REST API.
type Client struct {
	baseURL  string
	signer   *Signer
	language string
	http     *http.Client
	log      logrus.FieldLogger
}

func NewClient(baseURL string, signer *Signer, language string, timeout time.Duration, log logrus.FieldLogger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		signer:   signer,
		language: language,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

type QuoteRequest struct {
	Market       string
	ServiceClass string
	Pickup       domain.Location
	Dropoff      domain.Location
}

type Contact struct {
	Name  string
	Phone string
}

type PlaceOrderRequest struct {
	Market      string
	QuotationID string
	Sender      Contact
	Recipient   Contact
	Metadata    map[string]string
}

// Quotation is the provider's view of a quote, including stop ids.
type Quotation struct {
	domain.DeliveryQuote
	StopIDs []string
}

type envelope struct {
	Data any `json:"data"`
}

type coordinates struct {
	Lat string `json:"lat"`
	Lng string `json:"lng"`
}

type stop struct {
	StopID      string      `json:"stopId,omitempty"`
	Coordinates coordinates `json:"coordinates"`
	Address     string      `json:"address"`
}

type quotationBody struct {
	QuotationID    string    `json:"quotationId"`
	ExpiresAt      time.Time `json:"expiresAt"`
	PriceBreakdown struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"priceBreakdown"`
	Stops []stop `json:"stops"`
}

func (q quotationBody) toQuotation() (*Quotation, error) {
	price, err := decimal.NewFromString(q.PriceBreakdown.Total)
	if err != nil {
		return nil, fmt.Errorf("parse quotation price %q: %w", q.PriceBreakdown.Total, err)
	}
	out := &Quotation{DeliveryQuote: domain.DeliveryQuote{
		QuotationID: q.QuotationID,
		Price:       price,
		Currency:    q.PriceBreakdown.Currency,
		ExpiresAt:   q.ExpiresAt,
	}}
	for _, s := range q.Stops {
		out.StopIDs = append(out.StopIDs, s.StopID)
	}
	return out, nil
}

func toStop(l domain.Location) stop {
	return stop{
		Coordinates: coordinates{
			Lat: strconv.FormatFloat(l.Lat, 'f', -1, 64),
			Lng: strconv.FormatFloat(l.Lng, 'f', -1, 64),
		},
		Address: l.Address,
	}
}

// Quote prices a two-stop trip: the store first, the customer second.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*domain.DeliveryQuote, error) {
	payload := struct {
		ServiceType string `json:"serviceType"`
		Language    string `json:"language"`
		Stops       []stop `json:"stops"`
	}{
		ServiceType: req.ServiceClass,
		Language:    c.language,
		Stops:       []stop{toStop(req.Pickup), toStop(req.Dropoff)},
	}

	var body quotationBody
	if err := c.do(ctx, http.MethodPost, "/v3/quotations", req.Market, payload, &body); err != nil {
		return nil, err
	}
	q, err := body.toQuotation()
	if err != nil {
		return nil, &domain.UpstreamError{StatusCode: http.StatusOK, Err: err}
	}
	return &q.DeliveryQuote, nil
}

// GetQuotation re-reads a quotation to learn the stop ids the provider
// assigned after it was created.
func (c *Client) GetQuotation(ctx context.Context, market, id string) (*Quotation, error) {
	var body quotationBody
	if err := c.do(ctx, http.MethodGet, "/v3/quotations/"+id, market, nil, &body); err != nil {
		return nil, err
	}
	q, err := body.toQuotation()
	if err != nil {
		return nil, &domain.UpstreamError{StatusCode: http.StatusOK, Err: err}
	}
	if len(q.StopIDs) < 2 {
		return nil, &domain.UpstreamError{StatusCode: http.StatusOK, Err: fmt.Errorf("quotation %s has %d stops", id, len(q.StopIDs))}
	}
	return q, nil
}

// PlaceOrder books a courier against an existing quotation, store as sender
// and customer as recipient, with proof of delivery on.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.DeliveryBooking, error) {
	senderPhone, err := NormalizePhone(req.Sender.Phone, req.Market)
	if err != nil {
		return nil, err
	}
	recipientPhone, err := NormalizePhone(req.Recipient.Phone, req.Market)
	if err != nil {
		return nil, err
	}

	q, err := c.GetQuotation(ctx, req.Market, req.QuotationID)
	if err != nil {
		return nil, err
	}

	type person struct {
		StopID string `json:"stopId"`
		Name   string `json:"name"`
		Phone  string `json:"phone"`
	}
	payload := struct {
		QuotationID  string            `json:"quotationId"`
		Sender       person            `json:"sender"`
		Recipients   []person          `json:"recipients"`
		IsPODEnabled bool              `json:"isPODEnabled"`
		Metadata     map[string]string `json:"metadata,omitempty"`
	}{
		QuotationID:  req.QuotationID,
		Sender:       person{StopID: q.StopIDs[0], Name: req.Sender.Name, Phone: senderPhone},
		Recipients:   []person{{StopID: q.StopIDs[len(q.StopIDs)-1], Name: req.Recipient.Name, Phone: recipientPhone}},
		IsPODEnabled: true,
		Metadata:     req.Metadata,
	}

	var booking domain.DeliveryBooking
	if err := c.do(ctx, http.MethodPost, "/v3/orders", req.Market, payload, &booking); err != nil {
		return nil, err
	}
	if booking.DriverID != nil && *booking.DriverID == "" {
		booking.DriverID = nil
	}
	return &booking, nil
}

func (c *Client) do(ctx context.Context, method, path, market string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(envelope{Data: payload}); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if err := c.signer.Sign(req, market, body); err != nil {
		return err
	}

	log := c.log.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"market":     market,
		"request_id": req.Header.Get(HeaderRequestID),
	})

	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Warn("courier provider request failed")
		return &domain.UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &domain.UpstreamError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		mapped := mapProviderError(resp.StatusCode, raw)
		log.WithField("status", resp.StatusCode).WithField("provider_body", string(raw)).Warn("courier provider rejected request")
		return mapped
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, &envelope{Data: out}); err != nil {
		return &domain.UpstreamError{StatusCode: resp.StatusCode, Body: string(raw), Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

type providerErrors struct {
	Errors []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"errors"`
}

func mapProviderError(status int, raw []byte) error {
	var pe providerErrors
	if json.Unmarshal(raw, &pe) == nil {
		for _, e := range pe.Errors {
			switch {
			case containsID(expiredErrorIDs, e.ID):
				return &domain.BusinessError{Kind: domain.ErrQuoteExpired, Body: string(raw)}
			case containsID(bookedErrorIDs, e.ID):
				return &domain.BusinessError{Kind: domain.ErrAlreadyBooked, Body: string(raw)}
			}
		}
	}
	return &domain.UpstreamError{StatusCode: status, Body: string(raw), Err: errors.New(http.StatusText(status))}
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if strings.EqualFold(candidate, id) {
			return true
		}
	}
	return false
}
