package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
	// UpdateInlineQuery identifies inline query updates for rate limit exclusions.
	UpdateInlineQuery = "inline_query"
)

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": Telegram callback button presses
// - "message": standard text messages
// - "inline_query": inline query updates
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// StorageConfig describes the receipt blob store and its local fallback.
type StorageConfig struct {
	// Endpoint is the base URL of the S3-compatible storage API. An empty
	// endpoint disables remote uploads; receipts then always land in DataDir.
	Endpoint string `yaml:"endpoint" envconfig:"STORAGE_ENDPOINT"`
	Bucket   string `yaml:"bucket" envconfig:"STORAGE_BUCKET"`
	APIKey   string `yaml:"api_key" envconfig:"STORAGE_API_KEY"`
	// DataDir is the local durable directory used for fallback receipts and
	// the file-backed store.
	DataDir string `yaml:"data_dir" envconfig:"STORAGE_DATA_DIR"`
}

// OrdersConfig carries ordering flow tunables.
type OrdersConfig struct {
	// SessionIdleTimeout after which an untouched conversation is swept.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout" envconfig:"ORDERS_SESSION_IDLE_TIMEOUT"`
	// CommitRetries caps automatic retries of a failed order write.
	CommitRetries int `yaml:"commit_retries" envconfig:"ORDERS_COMMIT_RETRIES"`
	// CallTimeout bounds every external store/blob call made by the flow.
	CallTimeout time.Duration `yaml:"call_timeout" envconfig:"ORDERS_CALL_TIMEOUT"`
	// MenuCacheTTL is the maximum age of the cached menu snapshot.
	MenuCacheTTL time.Duration `yaml:"menu_cache_ttl" envconfig:"ORDERS_MENU_CACHE_TTL"`
	// MaxQuantity is the upper bound for a single cart line.
	MaxQuantity int `yaml:"max_quantity" envconfig:"ORDERS_MAX_QUANTITY"`
	// QRImagePath points at the payment QR code shown before receipt upload.
	QRImagePath string `yaml:"qr_image_path" envconfig:"ORDERS_QR_IMAGE_PATH"`
	Currency    string `yaml:"currency" envconfig:"ORDERS_CURRENCY"`
}

// Config aggregates the full application configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Orders    OrdersConfig    `yaml:"orders"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	allowed := map[string]struct{}{
		UpdateCallback:    {},
		UpdateMessage:     {},
		UpdateInlineQuery: {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message, inline_query", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}

	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConnections <= 0 {
		cfg.Database.MaxConnections = 10
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.Endpoint != "" && cfg.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage.endpoint is set")
	}

	if cfg.Orders.SessionIdleTimeout <= 0 {
		cfg.Orders.SessionIdleTimeout = 30 * time.Minute
	}
	if cfg.Orders.CommitRetries < 0 {
		return fmt.Errorf("orders.commit_retries must be >= 0")
	}
	if cfg.Orders.CommitRetries == 0 {
		cfg.Orders.CommitRetries = 1
	}
	if cfg.Orders.CallTimeout <= 0 {
		cfg.Orders.CallTimeout = 5 * time.Second
	}
	if cfg.Orders.MenuCacheTTL <= 0 {
		cfg.Orders.MenuCacheTTL = 5 * time.Minute
	}
	if cfg.Orders.MaxQuantity <= 0 {
		cfg.Orders.MaxQuantity = 5
	}
	if cfg.Orders.QRImagePath == "" {
		cfg.Orders.QRImagePath = "data/qr.png"
	}
	if cfg.Orders.Currency == "" {
		cfg.Orders.Currency = "$"
	}

	return nil
}
