package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
// Defaults are safe for local development; production deployments must set
// ZB_JWT_SECRET and the database URLs explicitly.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	WhatsApp WhatsAppConfig
	Policy   PolicyConfig
	Relay    RelayConfig
	Worker   WorkerConfig
	Webhook  WebhookConfig
}

// ServerConfig holds HTTP control-surface settings.
type ServerConfig struct {
	Port          string
	CORSOrigins   []string
	JWTSecret     string //nolint:gosec // signing secret, loaded from env
	RateLimit     int
	RateBurst     int
	RateWindowMin int
}

// DatabaseConfig holds connection strings for the app DB (tenants, message
// log, orders) and the whatsmeow credential store. The credential store URL
// may point at postgres or a sqlite file for development.
type DatabaseConfig struct {
	AppURL       string
	WhatsmeowURL string
}

// WhatsAppConfig parameterizes the session lifecycle. The historical bridge
// deployments differed only in these knobs, so they live in config instead of
// in per-deployment forks.
type WhatsAppConfig struct {
	BrowserName       string
	QRTimeout         time.Duration
	HeartbeatInterval time.Duration
	AutoConnect       bool
}

// PolicyConfig holds the reconnect/backoff constants consumed by the
// reconnection policy.
type PolicyConfig struct {
	MaxAttempts        int
	RetryBase          time.Duration
	BlockBase          time.Duration
	BlockCapMultiplier int
}

// RelayConfig holds message-relay settings.
type RelayConfig struct {
	QueueSize int
}

// WorkerConfig holds outbox worker settings.
type WorkerConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

// WebhookConfig holds payment webhook verification secrets keyed by provider.
// An empty secret disables signature verification for that provider.
type WebhookConfig struct {
	Secrets map[string]string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	rateLimit, err := getEnvInt("ZB_RATE_LIMIT_PER_SECOND", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	rateBurst, err := getEnvInt("ZB_RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	rateWindow, err := getEnvInt("ZB_RATE_LIMIT_WINDOW_MINUTES", 3)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	qrTimeout, err := getEnvDuration("ZB_QR_TIMEOUT", 3*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	heartbeat, err := getEnvDuration("ZB_HEARTBEAT_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxAttempts, err := getEnvInt("ZB_RECONNECT_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	retryBase, err := getEnvDuration("ZB_RECONNECT_BASE_DELAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	blockBase, err := getEnvDuration("ZB_BLOCK_BASE_DELAY", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	blockCap, err := getEnvInt("ZB_BLOCK_CAP_MULTIPLIER", 6)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	queueSize, err := getEnvInt("ZB_RELAY_QUEUE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	workerInterval, err := getEnvDuration("ZB_OUTBOX_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	workerBatch, err := getEnvInt("ZB_OUTBOX_BATCH_SIZE", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:          getEnv("ZB_PORT", "2121"),
			CORSOrigins:   splitCSV(getEnv("ZB_CORS_ALLOW_ORIGINS", "*")),
			JWTSecret:     getEnv("ZB_JWT_SECRET", ""),
			RateLimit:     rateLimit,
			RateBurst:     rateBurst,
			RateWindowMin: rateWindow,
		},
		Database: DatabaseConfig{
			AppURL:       getEnv("ZB_DATABASE_URL", ""),
			WhatsmeowURL: getEnv("ZB_WHATSMEOW_DATABASE_URL", "file:zapbridge.db?_pragma=foreign_keys(1)"),
		},
		WhatsApp: WhatsAppConfig{
			BrowserName:       getEnv("ZB_BROWSER_NAME", "ZapBridge"),
			QRTimeout:         qrTimeout,
			HeartbeatInterval: heartbeat,
			AutoConnect:       getEnvBool("ZB_AUTO_CONNECT", true),
		},
		Policy: PolicyConfig{
			MaxAttempts:        maxAttempts,
			RetryBase:          retryBase,
			BlockBase:          blockBase,
			BlockCapMultiplier: blockCap,
		},
		Relay: RelayConfig{
			QueueSize: queueSize,
		},
		Worker: WorkerConfig{
			Enabled:   getEnvBool("ZB_OUTBOX_WORKER_ENABLED", true),
			Interval:  workerInterval,
			BatchSize: workerBatch,
		},
		Webhook: WebhookConfig{
			Secrets: map[string]string{
				"mercadopago": getEnv("ZB_WEBHOOK_SECRET_MERCADOPAGO", ""),
				"pagarme":     getEnv("ZB_WEBHOOK_SECRET_PAGARME", ""),
				"appmax":      getEnv("ZB_WEBHOOK_SECRET_APPMAX", ""),
			},
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
