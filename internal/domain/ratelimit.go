package domain

import "time"

type ActionKind string

const (
	ActionOrderPlacement ActionKind = "order_placement"
	ActionAdmin          ActionKind = "admin_action"
	ActionDeliveryQuote  ActionKind = "delivery_quote"
)

const (
	DefaultCooldown      = 30 * time.Second
	DefaultQuoteCooldown = 5 * time.Second
	MaxCooldown          = 60 * time.Second
)

type RateLimitEntry struct {
	Identity   string
	ActionKind ActionKind
	ActionAt   time.Time
	ExpiresAt  time.Time
}

// RateLimitDecision is the outcome of a check. Remaining is zero when allowed.
type RateLimitDecision struct {
	Allowed   bool
	Remaining time.Duration
}

// EvaluateRateLimit is shared by the advisory and the authoritative limiter.
// A nil entry allows; otherwise now >= expiry is required.
func EvaluateRateLimit(entry *RateLimitEntry, now time.Time) RateLimitDecision {
	if entry == nil || !now.Before(entry.ExpiresAt) {
		return RateLimitDecision{Allowed: true}
	}
	return RateLimitDecision{Remaining: entry.ExpiresAt.Sub(now)}
}

func NewRateLimitEntry(identity string, kind ActionKind, cooldown time.Duration, now time.Time) RateLimitEntry {
	return RateLimitEntry{
		Identity:   identity,
		ActionKind: kind,
		ActionAt:   now,
		ExpiresAt:  now.Add(cooldown),
	}
}

// ClampCooldown keeps a configured cooldown within (0, MaxCooldown].
func ClampCooldown(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultCooldown
	case d > MaxCooldown:
		return MaxCooldown
	}
	return d
}
