package config

import "time"

// Rate limit key strategies.  The key always carries the prefix; the
// strategy picks which caller attributes are added to it.
const (
    KeyByIP     = "ip"
    KeyByUser   = "user"
    KeyByRoute  = "route"
    KeyByIPUser = "ip_user"
)

// RateLimitConfig bounds how fast one client may create or cancel
// bookings.  A client starts with Capacity tokens and regains one every
// RefillEvery.  Buckets idle for TTL are forgotten.
type RateLimitConfig struct {
    Enabled     bool
    Capacity    int
    RefillEvery time.Duration
    TTL         time.Duration
    KeyStrategy string
    Prefix      string
    Debug       bool
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables.  Out-of-range values
// are clamped so a typo never disables limiting by accident.
func LoadRateLimitConfig() RateLimitConfig {
    cfg := RateLimitConfig{
        Enabled:     envBool("RATE_LIMIT_ENABLED", true),
        Capacity:    envInt("RATE_LIMIT_CAPACITY", 10),
        RefillEvery: envDur("RATE_LIMIT_REFILL_EVERY", 6*time.Second),
        TTL:         envDur("RATE_LIMIT_TTL", 10*time.Minute),
        KeyStrategy: envStr("RATE_LIMIT_KEY_STRATEGY", KeyByIPUser),
        Prefix:      envStr("RATE_LIMIT_PREFIX", "rl:booking"),
        Debug:       envBool("RATE_LIMIT_DEBUG", false),
    }
    if cfg.Capacity < 1 {
        cfg.Capacity = 1
    }
    if cfg.RefillEvery <= 0 {
        cfg.RefillEvery = time.Second
    }
    // A bucket must outlive the time it takes to refill completely.
    if full := time.Duration(cfg.Capacity) * cfg.RefillEvery; cfg.TTL < full {
        cfg.TTL = full
    }
    return cfg
}
