package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cafe-orders/internal/domain"
)

type errorResponse struct {
	Error            string           `json:"error"`
	Code             domain.ErrorCode `json:"code"`
	Field            string           `json:"field,omitempty"`
	RemainingSeconds int              `json:"remainingSeconds,omitempty"`
}

func errorBody(err error) (int, errorResponse) {
	code, status := domain.Classify(err)
	body := errorResponse{Error: err.Error(), Code: code}

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		body.RemainingSeconds = rl.RemainingSeconds()
	}
	if status == http.StatusInternalServerError {
		body.Error = "internal server error"
	}
	return status, body
}

func (h *Handler) fail(c *gin.Context, action string, err error) {
	status, body := errorBody(err)

	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		c.Header("Retry-After", strconv.Itoa(rl.RemainingSeconds()))
	}

	entry := h.log.WithError(err).WithFields(logrus.Fields{"action": action, "code": body.Code})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func respondWithError(c *gin.Context, status int, code domain.ErrorCode, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: message, Code: code})
}
