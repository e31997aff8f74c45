// Package api is the order service's HTTP surface.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cafe-orders/internal/logging"
	"cafe-orders/internal/middleware"
	"cafe-orders/internal/notify"
	"cafe-orders/internal/service"
)

const HeaderSessionToken = "X-Session-Token"

type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type Deps struct {
	Orders service.OrderService
	Status service.StatusService
	Hub    *notify.Hub
	Health HealthChecker
	Log    logrus.FieldLogger

	StaffJWTSecret string
	AllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For. Empty means the socket
	// address is the client address.
	TrustedProxies []string
	// Heartbeat keeps idle event streams open through proxies.
	Heartbeat time.Duration
}

type Handler struct {
	orders    service.OrderService
	status    service.StatusService
	hub       *notify.Hub
	health    HealthChecker
	log       logrus.FieldLogger
	heartbeat time.Duration
}

func NewRouter(d Deps) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(d.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(
		gin.Recovery(),
		logging.GinMiddleware(d.Log),
		middleware.CORS(d.AllowedOrigins, http.MethodGet, http.MethodPost, http.MethodPatch),
	)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	h := &Handler{
		orders:    d.Orders,
		status:    d.Status,
		hub:       d.Hub,
		health:    d.Health,
		log:       d.Log,
		heartbeat: d.Heartbeat,
	}
	if h.heartbeat <= 0 {
		h.heartbeat = 15 * time.Second
	}

	r.GET("/health", h.healthCheck)

	api := r.Group("/api")
	{
		api.POST("/orders", h.submitOrder)
		api.GET("/orders/:id", h.getOrder)
		api.GET("/orders/:id/events", h.orderEvents)
		api.POST("/delivery/quote", h.quote)
	}

	staff := api.Group("", middleware.AuthGuard(d.StaffJWTSecret, middleware.RoleStaff, middleware.RoleAdmin))
	{
		staff.GET("/orders", h.listOrders)
		staff.GET("/orders/:id/history", h.history)
		staff.PATCH("/orders/:id/status", h.transition)
		staff.POST("/orders/status", h.bulkTransition)
		staff.GET("/events", h.events)
	}
	return r, nil
}

func (h *Handler) healthCheck(c *gin.Context) {
	stats := h.health.Health(c.Request.Context())
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}
