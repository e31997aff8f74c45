// Package delivery talks to the courier signing proxy on behalf of the order
// service. It never sees the provider credentials.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"cafe-orders/internal/domain"
	"cafe-orders/internal/middleware"
)

const serviceSubject = "order-service"

type Options struct {
	// Sandbox asks the proxy to use the provider sandbox.
	Sandbox        bool
	AttemptTimeout time.Duration
	MaxAttempts    int
	HTTPClient     *http.Client
	Now            func() time.Time
}

type Client struct {
	baseURL   string
	jwtSecret string
	store     domain.Store
	opts      Options
	log       logrus.FieldLogger
}

func NewClient(baseURL, jwtSecret string, store domain.Store, opts Options, log logrus.FieldLogger) *Client {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{baseURL: baseURL, jwtSecret: jwtSecret, store: store, opts: opts, log: log}
}

type quoteBody struct {
	DeliveryAddress string  `json:"deliveryAddress"`
	DeliveryLat     float64 `json:"deliveryLat"`
	DeliveryLng     float64 `json:"deliveryLng"`
	Market          string  `json:"market"`
	ServiceType     string  `json:"serviceType"`
	Sandbox         bool    `json:"sandbox"`
	StoreName       string  `json:"storeName"`
	StorePhone      string  `json:"storePhone"`
	StoreAddress    string  `json:"storeAddress"`
	StoreLatitude   float64 `json:"storeLatitude"`
	StoreLongitude  float64 `json:"storeLongitude"`
}

// Quote prices a delivery from the store to dropoff.
func (c *Client) Quote(ctx context.Context, dropoff domain.Location) (*domain.DeliveryQuote, error) {
	body := quoteBody{
		DeliveryAddress: dropoff.Address,
		DeliveryLat:     dropoff.Lat,
		DeliveryLng:     dropoff.Lng,
		Market:          c.store.Market,
		ServiceType:     c.store.ServiceClass,
		Sandbox:         c.opts.Sandbox,
		StoreName:       c.store.Name,
		StorePhone:      c.store.Phone,
		StoreAddress:    c.store.Address,
		StoreLatitude:   c.store.Latitude,
		StoreLongitude:  c.store.Longitude,
	}
	var q domain.DeliveryQuote
	if err := c.post(ctx, "/quote", body, nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

type orderBody struct {
	QuotationID    string            `json:"quotationId"`
	RecipientName  string            `json:"recipientName"`
	RecipientPhone string            `json:"recipientPhone"`
	Market         string            `json:"market"`
	Sandbox        bool              `json:"sandbox"`
	StoreName      string            `json:"storeName"`
	StorePhone     string            `json:"storePhone"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Book asks the proxy for a courier. An attempt is repeated only when it timed
// out without any response; every other outcome is final.
func (c *Client) Book(ctx context.Context, req domain.BookingRequest) (*domain.DeliveryBooking, error) {
	body := orderBody{
		QuotationID:    req.QuotationID,
		RecipientName:  req.RecipientName,
		RecipientPhone: req.RecipientPhone,
		Market:         c.store.Market,
		Sandbox:        c.opts.Sandbox,
		StoreName:      c.store.Name,
		StorePhone:     c.store.Phone,
		Metadata:       req.Metadata,
	}
	headers := map[string]string{"Idempotency-Key": req.OrderID}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
		var booking domain.DeliveryBooking
		err := c.post(actx, "/order", body, headers, &booking)
		cancel()
		if err == nil {
			return &booking, nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			break
		}
		c.log.WithError(err).WithFields(logrus.Fields{
			"action":       "book",
			"order_id":     req.OrderID,
			"quotation_id": req.QuotationID,
			"attempt":      attempt,
		}).Warn("booking attempt timed out without a response")
	}
	return nil, lastErr
}

// retryable reports a pure timeout: no response was read.
func retryable(err error) bool {
	var up *domain.UpstreamError
	if !errors.As(err, &up) || up.StatusCode != 0 {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

type proxyError struct {
	Error        string           `json:"error"`
	Code         domain.ErrorCode `json:"code"`
	ProviderBody string           `json:"providerBody"`
}

func (c *Client) post(ctx context.Context, path string, in any, headers map[string]string, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	token, err := middleware.IssueToken(c.jwtSecret, serviceSubject, middleware.RoleService, time.Minute, c.opts.Now())
	if err != nil {
		return fmt.Errorf("%w: service token: %v", domain.ErrSigningFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return &domain.UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.UpstreamError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return mapProxyError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.UpstreamError{StatusCode: resp.StatusCode, Body: string(raw), Err: err}
	}
	return nil
}

func mapProxyError(status int, raw []byte) error {
	var pe proxyError
	if err := json.Unmarshal(raw, &pe); err != nil {
		return &domain.UpstreamError{StatusCode: status, Body: string(raw)}
	}
	switch pe.Code {
	case domain.CodeQuoteExpired:
		return &domain.BusinessError{Kind: domain.ErrQuoteExpired, Body: pe.ProviderBody}
	case domain.CodeAlreadyBooked:
		return &domain.BusinessError{Kind: domain.ErrAlreadyBooked, Body: pe.ProviderBody}
	case domain.CodeValidation:
		return &domain.ValidationError{Field: "delivery", Reason: pe.Error}
	case domain.CodeSigningFailure:
		return fmt.Errorf("courier proxy: %w", domain.ErrSigningFailure)
	}
	body := pe.ProviderBody
	if body == "" {
		body = pe.Error
	}
	return &domain.UpstreamError{StatusCode: status, Body: body}
}
