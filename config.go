package stripesync

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the configuration of a sync, loaded from the environment.
type Config struct {
	Secret        string
	WebhookSecret string
	APIVersion    string

	BatchSize     int
	RetryAttempts int
	RetryDelay    time.Duration
	RateLimit     float64

	DatabaseURL string
	UsersTable  string
	WebhookAddr string
	LogLevel    string
}

var ErrNoSecret = errors.New("STRIPE_SECRET not set")

// LoadConfig loads the Config from the environment. The given files are
// loaded into the environment first, without overriding variables that are
// already set, if no files are given then .env is loaded if it exists.
func LoadConfig(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return Config{}, err
	}

	cfg := Config{
		Secret:        strings.TrimSpace(getenv("STRIPE_SECRET", "")),
		WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		APIVersion:    getenv("STRIPE_API_VERSION", DefaultAPIVersion),
		BatchSize:     getenvInt("STRIPE_SYNC_BATCH_SIZE", MaxPageSize),
		RetryAttempts: getenvInt("STRIPE_SYNC_RETRY_ATTEMPTS", DefaultRetryPolicy.Attempts),
		RetryDelay:    getenvDuration("STRIPE_SYNC_RETRY_DELAY", DefaultRetryPolicy.Delay),
		RateLimit:     getenvFloat("STRIPE_RATE_LIMIT", 25),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		UsersTable:    getenv("STRIPE_USERS_TABLE", "users"),
		WebhookAddr:   getenv("STRIPE_WEBHOOK_ADDR", ":8080"),
		LogLevel:      strings.ToLower(getenv("STRIPE_LOGGING_LEVEL", "info")),
	}

	if cfg.BatchSize < 1 || cfg.BatchSize > MaxPageSize {
		cfg.BatchSize = MaxPageSize
	}

	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	if cfg.Secret == "" {
		return cfg, ErrNoSecret
	}
	return cfg, nil
}

// RetryPolicy returns the RetryPolicy of the Config.
func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: c.RetryAttempts,
		Delay:    c.RetryDelay,
	}
}

// Logger returns a production logger at the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)

	if err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)

	return cfg.Build()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))

	if value == "" {
		return def
	}

	i, err := strconv.Atoi(value)

	if err != nil {
		return def
	}
	return i
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))

	if value == "" {
		return def
	}

	f, err := strconv.ParseFloat(value, 64)

	if err != nil {
		return def
	}
	return f
}

// getenvDuration parses a duration such as 5s, a bare number is taken to be
// seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))

	if value == "" {
		return def
	}

	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}

	d, err := time.ParseDuration(value)

	if err != nil {
		return def
	}
	return d
}
