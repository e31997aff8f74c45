package middleware

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows browser callers from origins; "*" allows any origin.
func CORS(origins []string, methods ...string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  append(methods, "OPTIONS"),
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", "X-Session-Token"},
		ExposeHeaders: []string{"Retry-After", "Idempotent-Replayed"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
