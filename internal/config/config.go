package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"

	"cafe-orders/internal/domain"
)

type Database struct {
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	Schema   string
}

// DSN builds the pgx connection string.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		d.Username, d.Password, d.Host, d.Port, d.Name, d.Schema,
	)
}

type Config struct {
	HTTPAddr       string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	TrustedProxies []string
	Timezone       *time.Location

	DB      Database
	AMQPURL string

	OrderCooldown time.Duration
	AdminCooldown time.Duration
	QuoteCooldown time.Duration

	ProxyURL       string
	ProxyJWTSecret string
	StaffJWTSecret string
	CourierSandbox bool

	BookingAttemptTimeout time.Duration
	BookingMaxAttempts    int
	BookingTimeout        time.Duration
	QuoteTimeout          time.Duration

	CleanupInterval    time.Duration
	OutboxPollInterval time.Duration

	Store domain.Store
}

// Load reads the order service configuration. It never touches the courier
// provider credentials; those belong to LoadProxy.
func Load() (*Config, error) {
	tz, err := time.LoadLocation(getEnvOrDefault("ORDER_TIMEZONE", "Asia/Manila"))
	if err != nil {
		return nil, fmt.Errorf("ORDER_TIMEZONE: %w", err)
	}
	cfg := &Config{
		HTTPAddr:       getEnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "json"),
		AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
		TrustedProxies: getListEnv("TRUSTED_PROXIES", nil),
		Timezone:       tz,
		DB: Database{
			Host:     getEnvOrDefault("BLUEPRINT_DB_HOST", "localhost"),
			Port:     getEnvOrDefault("BLUEPRINT_DB_PORT", "5432"),
			Username: getEnvOrDefault("BLUEPRINT_DB_USERNAME", "postgres"),
			Password: getEnvOrDefault("BLUEPRINT_DB_PASSWORD", ""),
			Name:     getEnvOrDefault("BLUEPRINT_DB_DATABASE", "orders"),
			Schema:   getEnvOrDefault("BLUEPRINT_DB_SCHEMA", "public"),
		},
		AMQPURL:               getEnvOrDefault("AMQP_URL", ""),
		OrderCooldown:         domain.ClampCooldown(getDurationEnv("ORDER_COOLDOWN_SECONDS", 30, time.Second)),
		AdminCooldown:         domain.ClampCooldown(getDurationEnv("ADMIN_COOLDOWN_SECONDS", 30, time.Second)),
		QuoteCooldown:         getDurationEnv("QUOTE_COOLDOWN_SECONDS", 5, time.Second),
		ProxyURL:              strings.TrimRight(getEnvOrDefault("COURIER_PROXY_URL", "http://localhost:8090"), "/"),
		ProxyJWTSecret:        getEnvOrDefault("PROXY_JWT_SECRET", ""),
		StaffJWTSecret:        getEnvOrDefault("STAFF_JWT_SECRET", ""),
		CourierSandbox:        getBoolEnv("COURIER_FORCE_SANDBOX", false),
		BookingAttemptTimeout: getDurationEnv("BOOKING_ATTEMPT_TIMEOUT", 10, time.Second),
		BookingMaxAttempts:    getIntEnv("BOOKING_MAX_ATTEMPTS", 2),
		BookingTimeout:        getDurationEnv("BOOKING_TIMEOUT", 25, time.Second),
		QuoteTimeout:          getDurationEnv("QUOTE_TIMEOUT", 10, time.Second),
		CleanupInterval:       getDurationEnv("RATE_LIMIT_CLEANUP_INTERVAL", 5, time.Minute),
		OutboxPollInterval:    getDurationEnv("OUTBOX_POLL_INTERVAL", 1000, time.Millisecond),
	}

	store, err := LoadStore(getEnvOrDefault("STORE_PROFILE_PATH", "store.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Store = store

	if cfg.ProxyJWTSecret == "" {
		return nil, errors.New("PROXY_JWT_SECRET is required")
	}
	if cfg.StaffJWTSecret == "" {
		return nil, errors.New("STAFF_JWT_SECRET is required")
	}
	return cfg, nil
}

type storeFile struct {
	Store domain.Store `yaml:"store"`
}

// LoadStore reads the store profile from a YAML file. A missing file falls
// back to STORE_* environment variables.
func LoadStore(path string) (domain.Store, error) {
	var f storeFile
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return domain.Store{}, fmt.Errorf("parse store profile %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return domain.Store{}, fmt.Errorf("read store profile %s: %w", path, err)
	}

	s := f.Store
	s.Name = firstNonEmpty(s.Name, os.Getenv("STORE_NAME"))
	s.Phone = firstNonEmpty(s.Phone, os.Getenv("STORE_PHONE"))
	s.Address = firstNonEmpty(s.Address, os.Getenv("STORE_ADDRESS"))
	s.Market = firstNonEmpty(s.Market, os.Getenv("STORE_MARKET"), "PH")
	s.ServiceClass = firstNonEmpty(s.ServiceClass, os.Getenv("STORE_SERVICE_CLASS"), "MOTORCYCLE")
	s.Currency = firstNonEmpty(s.Currency, os.Getenv("STORE_CURRENCY"), "PHP")
	if s.Latitude == 0 {
		s.Latitude = getFloatEnv("STORE_LATITUDE", 0)
	}
	if s.Longitude == 0 {
		s.Longitude = getFloatEnv("STORE_LONGITUDE", 0)
	}
	return s, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int, unit time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return time.Duration(parsed) * unit
		}
	}
	return time.Duration(defaultValue) * unit
}

func getIntEnv(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
