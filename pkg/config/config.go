// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the umbrella configuration object returned by Load and threaded
// through the application.
type Config struct {
	// HTTPPort is the listen port for the API server.
	HTTPPort string

	// RedisURL is the state/event store connection URL. Required.
	RedisURL string

	// Queue configuration.
	Queue *QueueConfig

	// SessionTTL is how long session state, step history, and metadata
	// survive after the last write.
	SessionTTL time.Duration

	// EventTTL is how long a session's event log survives after the last
	// publish.
	EventTTL time.Duration

	// EventMaxLen is the approximate maximum length of a session event log.
	EventMaxLen int64

	// HistoryDefault is the default number of events replayed to a joining
	// subscriber.
	HistoryDefault int

	// StepTimeout is the soft wall-clock budget for a single step.
	StepTimeout time.Duration

	// CleanupInterval is how often the expired-session scanner runs.
	CleanupInterval time.Duration

	// MessageStoreURL enables the Postgres message mirror when set.
	MessageStoreURL string

	// Provider API keys. A provider without a key is simply unavailable.
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// ToolHostURL is the HTTP tool host endpoint. Empty disables tool
	// dispatch (tool instructions fail with an explicit error).
	ToolHostURL string
}

// QueueConfig selects and tunes the step queue implementation.
type QueueConfig struct {
	// ProviderToken authenticates against the external delayed-dispatch
	// provider. Empty selects the in-process timer queue.
	ProviderToken string

	// ProviderURL is the dispatch API base URL of the external provider.
	ProviderURL string

	// CallbackURL is the publicly reachable step endpoint tasks are
	// delivered to.
	CallbackURL string

	// MaxAttempts is the per-task delivery attempt limit on non-2xx.
	MaxAttempts int

	// RequestTimeout bounds a single delivery attempt.
	RequestTimeout time.Duration
}

// Defaults for tunables that are usually left alone.
const (
	DefaultSessionTTL      = 24 * time.Hour
	DefaultEventTTL        = time.Hour
	DefaultEventMaxLen     = 1000
	DefaultHistorySlice    = 50
	DefaultStepTimeout     = 120 * time.Second
	DefaultCleanupInterval = 10 * time.Minute
	DefaultMaxAttempts     = 3
	DefaultRequestTimeout  = 30 * time.Second
)

// Load reads configuration from the environment. The only required variable
// is REDIS_URL; everything else has a default.
func Load() (*Config, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		RedisURL:        redisURL,
		SessionTTL:      getDuration("SESSION_TTL", DefaultSessionTTL),
		EventTTL:        getDuration("EVENT_TTL", DefaultEventTTL),
		EventMaxLen:     int64(getInt("EVENT_MAX_LEN", DefaultEventMaxLen)),
		HistoryDefault:  getInt("HISTORY_DEFAULT", DefaultHistorySlice),
		StepTimeout:     getDuration("STEP_TIMEOUT", DefaultStepTimeout),
		CleanupInterval: getDuration("CLEANUP_INTERVAL", DefaultCleanupInterval),
		MessageStoreURL: os.Getenv("MESSAGE_STORE_URL"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		ToolHostURL:     os.Getenv("TOOL_HOST_URL"),
		Queue: &QueueConfig{
			ProviderToken:  os.Getenv("QUEUE_PROVIDER_TOKEN"),
			ProviderURL:    os.Getenv("QUEUE_PROVIDER_URL"),
			CallbackURL:    os.Getenv("QUEUE_CALLBACK_URL"),
			MaxAttempts:    getInt("QUEUE_MAX_ATTEMPTS", DefaultMaxAttempts),
			RequestTimeout: getDuration("QUEUE_REQUEST_TIMEOUT", DefaultRequestTimeout),
		},
	}

	if cfg.Queue.ProviderToken != "" && cfg.Queue.CallbackURL == "" {
		return nil, fmt.Errorf("QUEUE_CALLBACK_URL is required when QUEUE_PROVIDER_TOKEN is set")
	}

	return cfg, nil
}

// UseDispatchQueue reports whether the external delayed-dispatch provider is
// configured; otherwise the in-process timer queue is used.
func (c *Config) UseDispatchQueue() bool {
	return c.Queue.ProviderToken != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getDuration parses a duration env var. Bare integers are seconds, matching
// the deployment convention for TTL overrides.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return fallback
}
