// Package config loads and validates relay configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Content store backends.
const (
	StoreLighthouse = "lighthouse"
	StoreS3         = "s3"
)

// Config holds all relay configuration.
type Config struct {
	// Server settings.
	Port         int           `envconfig:"PORT" default:"3001"`
	ReadTimeout  time.Duration `envconfig:"FIREGLOBE_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"FIREGLOBE_WRITE_TIMEOUT" default:"90s"`

	// Database settings. Supabase exposes a plain Postgres URL.
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	SkipMigrations bool   `envconfig:"FIREGLOBE_SKIP_MIGRATIONS" default:"false"`

	// Collaborator services the KG and metrics documents are fetched from.
	BackendURL   string        `envconfig:"BACKEND_URL" default:"http://localhost:8000"`
	MetricsURL   string        `envconfig:"METRICS_URL" default:"http://localhost:8001"`
	FetchTimeout time.Duration `envconfig:"FIREGLOBE_FETCH_TIMEOUT" default:"30s"`

	// Content store settings.
	IPFSStore           string `envconfig:"IPFS_STORE" default:"lighthouse"`
	IPFSGatewayURL      string `envconfig:"IPFS_GATEWAY_URL" default:"https://gateway.lighthouse.storage"`
	LighthouseAPIKey    string `envconfig:"LIGHTHOUSE_API_KEY"`
	LighthouseUploadURL string `envconfig:"LIGHTHOUSE_UPLOAD_URL" default:"https://upload.lighthouse.storage/api/v0/add"`
	S3Endpoint          string `envconfig:"S3_ENDPOINT" default:"s3.filebase.com"`
	S3AccessKey         string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey         string `envconfig:"S3_SECRET_KEY"`
	S3Bucket            string `envconfig:"S3_BUCKET"`
	S3Region            string `envconfig:"S3_REGION" default:"us-east-1"`
	S3UseSSL            bool   `envconfig:"S3_USE_SSL" default:"true"`

	// Access token cache.
	TokenCacheTTL  time.Duration `envconfig:"FIREGLOBE_TOKEN_CACHE_TTL" default:"1m"`
	TokenCacheSize int           `envconfig:"FIREGLOBE_TOKEN_CACHE_SIZE" default:"1024"`

	// Per-IP rate limiting. RateLimitRPS <= 0 disables it.
	RateLimitRPS   float64 `envconfig:"FIREGLOBE_RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst int     `envconfig:"FIREGLOBE_RATE_LIMIT_BURST" default:"20"`

	// OTEL settings.
	OTELEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELInsecure bool   `envconfig:"OTEL_INSECURE" default:"false"`
	ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"fireglobe-db"`

	// Operational settings.
	LogLevel            string `envconfig:"FIREGLOBE_LOG_LEVEL" default:"info"`
	MaxRequestBodyBytes int64  `envconfig:"FIREGLOBE_MAX_REQUEST_BODY_BYTES" default:"1048576"`
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.IPFSStore = strings.ToLower(strings.TrimSpace(cfg.IPFSStore))
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	cfg.MetricsURL = strings.TrimRight(cfg.MetricsURL, "/")
	cfg.IPFSGatewayURL = strings.TrimRight(cfg.IPFSGatewayURL, "/")
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
// Missing store credentials are not an error: the relay starts and reports
// the store as "not configured" on /health.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("config: DATABASE_URL is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: PORT must be between 1 and 65535 (got %d)", c.Port))
	}
	switch c.IPFSStore {
	case StoreLighthouse:
	case StoreS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("config: S3_BUCKET is required when IPFS_STORE=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: IPFS_STORE must be %q or %q (got %q)", StoreLighthouse, StoreS3, c.IPFSStore))
	}
	for name, raw := range map[string]string{
		"BACKEND_URL":      c.BackendURL,
		"METRICS_URL":      c.MetricsURL,
		"IPFS_GATEWAY_URL": c.IPFSGatewayURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("config: %s must be an absolute URL (got %q)", name, raw))
		}
	}
	if c.TokenCacheSize <= 0 {
		errs = append(errs, errors.New("config: FIREGLOBE_TOKEN_CACHE_SIZE must be positive"))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("config: FIREGLOBE_RATE_LIMIT_BURST must be positive when rate limiting is on"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, errors.New("config: FIREGLOBE_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

// StoreConfigured reports whether the selected content store has credentials.
func (c Config) StoreConfigured() bool {
	switch c.IPFSStore {
	case StoreS3:
		return c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3Bucket != ""
	default:
		return c.LighthouseAPIKey != ""
	}
}
