package config

import (
	"errors"
	"time"
)

const (
	productionBaseURL = "https://rest.lalamove.com"
	sandboxBaseURL    = "https://rest.sandbox.lalamove.com"
)

// Proxy holds the courier provider credentials. Only the signing proxy loads it.
type Proxy struct {
	HTTPAddr       string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string

	APIKey    string
	APISecret string
	Market    string
	Language  string
	Sandbox   bool

	ProductionURL string
	SandboxURL    string

	JWTSecret       string
	UpstreamTimeout time.Duration
	IdempotencyTTL  time.Duration
}

func LoadProxy() (*Proxy, error) {
	cfg := &Proxy{
		HTTPAddr:        getEnvOrDefault("PROXY_HTTP_ADDR", ":8090"),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       getEnvOrDefault("LOG_FORMAT", "json"),
		AllowedOrigins:  getListEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
		APIKey:          getEnvOrDefault("COURIER_API_KEY", ""),
		APISecret:       getEnvOrDefault("COURIER_API_SECRET", ""),
		Market:          getEnvOrDefault("COURIER_MARKET", "PH"),
		Language:        getEnvOrDefault("COURIER_LANGUAGE", "en_PH"),
		Sandbox:         getBoolEnv("COURIER_SANDBOX", true),
		ProductionURL:   getEnvOrDefault("COURIER_PRODUCTION_URL", productionBaseURL),
		SandboxURL:      getEnvOrDefault("COURIER_SANDBOX_URL", sandboxBaseURL),
		JWTSecret:       getEnvOrDefault("PROXY_JWT_SECRET", ""),
		UpstreamTimeout: getDurationEnv("COURIER_UPSTREAM_TIMEOUT", 8, time.Second),
		IdempotencyTTL:  getDurationEnv("BOOKING_IDEMPOTENCY_TTL", 24, time.Hour),
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("COURIER_API_KEY and COURIER_API_SECRET are required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("PROXY_JWT_SECRET is required")
	}
	return cfg, nil
}

// BaseURL picks the provider host. A request may force sandbox but never
// escalate a sandbox deployment to production.
func (p *Proxy) BaseURL(forceSandbox bool) string {
	if p.Sandbox || forceSandbox {
		return p.SandboxURL
	}
	return p.ProductionURL
}
