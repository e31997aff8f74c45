package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cafe-orders/internal/domain"
	"cafe-orders/internal/middleware"
	"cafe-orders/internal/repo"
	"cafe-orders/internal/service"
)

func (h *Handler) submitOrder(c *gin.Context) {
	var sub domain.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		respondWithError(c, http.StatusBadRequest, domain.CodeValidation, "invalid order body")
		return
	}
	sub.SessionToken = strings.TrimSpace(c.GetHeader(HeaderSessionToken))
	sub.RemoteAddr = c.ClientIP()

	order, err := h.orders.Submit(c.Request.Context(), &sub)
	if err != nil {
		h.fail(c, "submit_order", err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	order, err := h.orders.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get_order", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	var filter repo.ListFilter
	if s := c.Query("status"); s != "" {
		status := domain.OrderStatus(s)
		filter.Status = &status
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			respondWithError(c, http.StatusBadRequest, domain.CodeValidation, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	orders, err := h.orders.List(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "list_orders", err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) history(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	changes, err := h.orders.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "order_history", err)
		return
	}
	if changes == nil {
		changes = []domain.StatusChange{}
	}
	c.JSON(http.StatusOK, changes)
}

type transitionRequest struct {
	Status     domain.OrderStatus `json:"status" binding:"required"`
	Note       string             `json:"note"`
	Correction bool               `json:"correction"`
}

func (h *Handler) transition(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, domain.CodeValidation, "status is required")
		return
	}

	order, err := h.status.Transition(c.Request.Context(), id, domain.Transition{
		To:         req.Status,
		ChangedBy:  middleware.Actor(c),
		Note:       req.Note,
		Correction: req.Correction,
	})
	if err != nil {
		h.fail(c, "transition_order", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type bulkTransitionRequest struct {
	OrderIDs []uuid.UUID       `json:"orderIds" binding:"required"`
	Status   domain.OrderStatus `json:"status" binding:"required"`
	Note     string             `json:"note"`
}

type bulkResult struct {
	OrderID uuid.UUID      `json:"orderId"`
	Order   *domain.Order  `json:"order,omitempty"`
	Error   *errorResponse `json:"error,omitempty"`
}

func (h *Handler) bulkTransition(c *gin.Context) {
	var req bulkTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, domain.CodeValidation, "orderIds and status are required")
		return
	}

	results, err := h.status.TransitionMany(c.Request.Context(), req.OrderIDs, domain.Transition{
		To:        req.Status,
		ChangedBy: middleware.Actor(c),
		Note:      req.Note,
	})
	if err != nil {
		h.fail(c, "bulk_transition", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": toBulkResults(results)})
}

func toBulkResults(results []service.TransitionResult) []bulkResult {
	out := make([]bulkResult, len(results))
	for i, r := range results {
		out[i] = bulkResult{OrderID: r.OrderID, Order: r.Order}
		if r.Err != nil {
			_, body := errorBody(r.Err)
			out[i].Error = &body
		}
	}
	return out
}

type quoteRequest struct {
	Address string   `json:"address" binding:"required"`
	Lat     *float64 `json:"lat" binding:"required"`
	Lng     *float64 `json:"lng" binding:"required"`
}

func (h *Handler) quote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, domain.CodeValidation, "address, lat and lng are required")
		return
	}
	q, err := h.orders.Quote(c.Request.Context(), domain.QuoteRequest{
		Dropoff:      domain.Location{Address: req.Address, Lat: *req.Lat, Lng: *req.Lng},
		SessionToken: strings.TrimSpace(c.GetHeader(HeaderSessionToken)),
		RemoteAddr:   c.ClientIP(),
	})
	if err != nil {
		h.fail(c, "delivery_quote", err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondWithError(c, http.StatusBadRequest, domain.CodeValidation, "invalid order id")
		return uuid.Nil, false
	}
	return id, true
}
