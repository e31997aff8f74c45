package proxy

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cafe-orders/internal/config"
	"cafe-orders/internal/domain"
	"cafe-orders/internal/infrastructure/courier"
	"cafe-orders/internal/logging"
	"cafe-orders/internal/middleware"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// Provider is the signed courier API as the proxy uses it.
type Provider interface {
	Quote(ctx context.Context, req courier.QuoteRequest) (*domain.DeliveryQuote, error)
	PlaceOrder(ctx context.Context, req courier.PlaceOrderRequest) (*domain.DeliveryBooking, error)
}

// Server is the only process that holds the courier signing secret.
type Server struct {
	cfg        *config.Proxy
	production Provider
	sandbox    Provider
	guard      *Guard
	log        logrus.FieldLogger
}

func NewServer(cfg *config.Proxy, production, sandbox Provider, log logrus.FieldLogger) *Server {
	return &Server{
		cfg:        cfg,
		production: production,
		sandbox:    sandbox,
		guard:      NewGuard(cfg.IdempotencyTTL),
		log:        log,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinMiddleware(s.log), middleware.CORS(s.cfg.AllowedOrigins, http.MethodPost))
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	auth := middleware.AuthGuard(s.cfg.JWTSecret, middleware.RoleService)
	r.POST("/quote", auth, s.quote)
	r.POST("/order", auth, s.order)
	return r
}

// provider honours a per-request sandbox flag but never lets a request
// reach production from a sandbox deployment.
func (s *Server) provider(forceSandbox bool) Provider {
	if s.cfg.Sandbox || forceSandbox {
		return s.sandbox
	}
	return s.production
}

type quoteRequest struct {
	DeliveryAddress string   `json:"deliveryAddress" binding:"required"`
	DeliveryLat     *float64 `json:"deliveryLat" binding:"required"`
	DeliveryLng     *float64 `json:"deliveryLng" binding:"required"`
	Market          string   `json:"market"`
	ServiceType     string   `json:"serviceType"`
	Sandbox         bool     `json:"sandbox"`
	StoreName       string   `json:"storeName"`
	StorePhone      string   `json:"storePhone"`
	StoreAddress    string   `json:"storeAddress" binding:"required"`
	StoreLatitude   *float64 `json:"storeLatitude" binding:"required"`
	StoreLongitude  *float64 `json:"storeLongitude" binding:"required"`
}

func (s *Server) quote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, domain.CodeValidation, "missing or invalid field")
		return
	}

	serviceClass := req.ServiceType
	if serviceClass == "" {
		serviceClass = "MOTORCYCLE"
	}
	q, err := s.provider(req.Sandbox).Quote(c.Request.Context(), courier.QuoteRequest{
		Market:       s.market(req.Market),
		ServiceClass: serviceClass,
		Pickup:       domain.Location{Address: req.StoreAddress, Lat: *req.StoreLatitude, Lng: *req.StoreLongitude},
		Dropoff:      domain.Location{Address: req.DeliveryAddress, Lat: *req.DeliveryLat, Lng: *req.DeliveryLng},
	})
	if err != nil {
		s.fail(c, "quote", err)
		return
	}
	c.JSON(http.StatusOK, q)
}

type orderRequest struct {
	QuotationID    string            `json:"quotationId" binding:"required"`
	RecipientName  string            `json:"recipientName" binding:"required"`
	RecipientPhone string            `json:"recipientPhone" binding:"required"`
	Market         string            `json:"market"`
	Sandbox        bool              `json:"sandbox"`
	StoreName      string            `json:"storeName" binding:"required"`
	StorePhone     string            `json:"storePhone" binding:"required"`
	Metadata       map[string]string `json:"metadata"`
}

func (s *Server) order(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, domain.CodeValidation, "missing or invalid field")
		return
	}

	key := c.GetHeader(HeaderIdempotencyKey)
	if key == "" {
		key = "quotation:" + req.QuotationID
	}
	log := s.log.WithFields(logrus.Fields{
		"action":          "book",
		"idempotency_key": key,
		"quotation_id":    req.QuotationID,
	})

	// The leader finishes its provider call even if its caller gives up, so a
	// retry can replay the answer instead of booking twice.
	ctx := context.WithoutCancel(c.Request.Context())
	out, replayed, err := s.guard.Do(c.Request.Context(), key, func() (*bookingOutcome, bool) {
		booking, err := s.provider(req.Sandbox).PlaceOrder(ctx, courier.PlaceOrderRequest{
			Market:      s.market(req.Market),
			QuotationID: req.QuotationID,
			Sender:      courier.Contact{Name: req.StoreName, Phone: req.StorePhone},
			Recipient:   courier.Contact{Name: req.RecipientName, Phone: req.RecipientPhone},
			Metadata:    req.Metadata,
		})
		if err != nil {
			log.WithError(err).WithField("provider_body", domain.ProviderBody(err)).Warn("booking failed")
			code, status := domain.Classify(err)
			return &bookingOutcome{status: status, body: errorBody(code, err)}, outcomeIsFinal(err)
		}
		log.WithField("booking_id", booking.BookingID).Info("courier booked")
		return &bookingOutcome{status: http.StatusOK, body: booking}, true
	})
	if err != nil {
		respondWithError(c, http.StatusGatewayTimeout, domain.CodeUpstreamTimeout, "gave up waiting for a concurrent booking")
		return
	}
	if replayed {
		log.Info("replaying booking outcome")
		c.Header(HeaderReplayed, "true")
	}
	c.JSON(out.status, out.body)
}

func (s *Server) market(requested string) string {
	if requested != "" {
		return requested
	}
	return s.cfg.Market
}

func (s *Server) fail(c *gin.Context, action string, err error) {
	code, status := domain.Classify(err)
	s.log.WithError(err).WithFields(logrus.Fields{
		"action":        action,
		"code":          code,
		"provider_body": domain.ProviderBody(err),
	}).Warn("courier request failed")
	c.AbortWithStatusJSON(status, errorBody(code, err))
}

// outcomeIsFinal reports whether the provider answered. Without an answer
// the booking may or may not exist, and the key is released for a retry.
func outcomeIsFinal(err error) bool {
	var up *domain.UpstreamError
	switch {
	case errors.As(err, &up) && up.StatusCode == 0:
		return false
	case errors.Is(err, domain.ErrSigningFailure), errors.Is(err, domain.ErrValidation):
		return false
	}
	return true
}

type errorResponse struct {
	Error        string           `json:"error"`
	Code         domain.ErrorCode `json:"code"`
	ProviderBody string           `json:"providerBody,omitempty"`
}

func errorBody(code domain.ErrorCode, err error) errorResponse {
	msg := err.Error()
	if code == domain.CodeSigningFailure {
		msg = "request signing failed"
	}
	return errorResponse{Error: msg, Code: code, ProviderBody: domain.ProviderBody(err)}
}

func respondWithError(c *gin.Context, status int, code domain.ErrorCode, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: message, Code: code})
}
