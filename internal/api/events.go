package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cafe-orders/internal/domain"
)

// events streams ChangeEvents for all orders as Server-Sent Events. Clients
// re-fetch GET /api/orders/:id on each event.
func (h *Handler) events(c *gin.Context) {
	h.stream(c, domain.TopicAllOrders)
}

// orderEvents streams changes to a single order, for customer tracking pages.
func (h *Handler) orderEvents(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	if _, err := h.orders.Get(c.Request.Context(), id); err != nil {
		h.fail(c, "order_events", err)
		return
	}
	h.stream(c, domain.OrderTopic(id))
}

func (h *Handler) stream(c *gin.Context, topic string) {
	ctx := c.Request.Context()
	sub := h.hub.Subscribe(ctx, topic)
	defer sub.Cancel()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent("ready", gin.H{"topic": topic})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
