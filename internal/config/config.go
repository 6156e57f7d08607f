package config // package config loads application configuration from environment variables

import (
    "fmt"
    "os"
    "strings"
    "time"

    "go.uber.org/multierr"
)

// Store drivers accepted by STORE_DRIVER.
const (
    StoreMySQL  = "mysql"
    StoreMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Database settings are only required when the
// MySQL store is selected.
type Config struct {
    Env         string // application environment (e.g. "dev", "prod")
    Port        string // HTTP port to listen on
    StoreDriver string // "mysql" or "memory"
    DBUser      string // database username
    DBPass      string // database password (optional)
    DBHost      string // database host address
    DBPort      string // database port number
    DBName      string // database name
    JWTSecret   string // secret used to verify JWTs issued by the auth service

    Location              *time.Location // business timezone for operating days and slot times
    AllocMaxRetries       int            // admission retries after an optimistic-lock conflict
    NoShowGrace           time.Duration  // wait after the scheduled time before no-show is allowed
    DefaultServiceMinutes int            // wait estimate per position when a unit sets none
    UnitCacheTTL          time.Duration  // how long capacity unit rows are cached

    AMQPURL       string // RabbitMQ URL; empty disables the broker
    EventsQueue   string // durable queue booking events are published to
    EventsChannel string // Redis pub/sub channel for realtime fan-out
    BookingLog    string // file the consumer appends booking events to
}

// Load reads configuration values from environment variables and returns a
// Config.  Every missing or malformed required variable is reported in the
// returned error, not just the first.
func Load() (Config, error) {
    var errs error
    cfg := Config{
        Env:         envStr("APP_ENV", "dev"),
        Port:        envStr("APP_PORT", "8080"),
        StoreDriver: strings.ToLower(envStr("STORE_DRIVER", StoreMySQL)),
        DBPass:      os.Getenv("DB_PASS"), // empty allowed
        JWTSecret:   must(&errs, "JWT_SECRET"),

        AllocMaxRetries:       envInt("ALLOC_MAX_RETRIES", 5),
        NoShowGrace:           envDur("NO_SHOW_GRACE", 15*time.Minute),
        DefaultServiceMinutes: envInt("DEFAULT_SERVICE_MINUTES", 10),
        UnitCacheTTL:          envDur("UNIT_CACHE_TTL", 30*time.Second),

        AMQPURL:       envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
        EventsQueue:   envStr("EVENTS_QUEUE", "booking.events"),
        EventsChannel: envStr("EVENTS_CHANNEL", "queue-events"),
        BookingLog:    envStr("BOOKING_LOG", "logs/booking.log"),
    }

    switch cfg.StoreDriver {
    case StoreMySQL:
        cfg.DBUser = must(&errs, "DB_USER")
        cfg.DBHost = must(&errs, "DB_HOST")
        cfg.DBPort = must(&errs, "DB_PORT")
        cfg.DBName = must(&errs, "DB_NAME")
    case StoreMemory:
    default:
        errs = multierr.Append(errs, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver))
    }

    tz := envStr("BUSINESS_TIMEZONE", "UTC")
    loc, err := time.LoadLocation(tz)
    if err != nil {
        errs = multierr.Append(errs, fmt.Errorf("invalid BUSINESS_TIMEZONE %q: %w", tz, err))
        loc = time.UTC
    }
    cfg.Location = loc

    if cfg.AllocMaxRetries < 1 {
        errs = multierr.Append(errs, fmt.Errorf("ALLOC_MAX_RETRIES must be >= 1"))
    }
    return cfg, errs
}

// must retrieves the value of a required environment variable.  A missing
// or empty variable is appended to errs.
func must(errs *error, key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        *errs = multierr.Append(*errs, fmt.Errorf("missing required env var: %s", key))
    }
    return v
}
