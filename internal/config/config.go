// Package config loads and validates analyzer config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// ClassifierURL is the classification service endpoint; required by the installations pipeline.
	ClassifierURL string `mapstructure:"CLASSIFIER_URL"`
	// ClassifierAPIKey is a static bearer credential. Ignored when ClassifierJWTSecret is set.
	ClassifierAPIKey string `mapstructure:"CLASSIFIER_API_KEY"`
	// ClassifierJWTSecret enables per-request HS256 service tokens.
	ClassifierJWTSecret   string `mapstructure:"CLASSIFIER_JWT_SECRET"`
	ClassifierJWTIssuer   string `mapstructure:"CLASSIFIER_JWT_ISSUER"`
	ClassifierJWTAudience string `mapstructure:"CLASSIFIER_JWT_AUDIENCE"`
	// ClassifierModel is forwarded to the service as-is.
	ClassifierModel string `mapstructure:"CLASSIFIER_MODEL"`
	// ClassifierTimeout is the per-call timeout (e.g. "30s").
	ClassifierTimeout string `mapstructure:"CLASSIFIER_TIMEOUT"`

	// NormalizeConcurrency is the maximum number of in-flight classification calls.
	NormalizeConcurrency int `mapstructure:"NORMALIZE_CONCURRENCY"`
	// NormalizeBatchSize is the number of rows admitted per batch.
	NormalizeBatchSize int `mapstructure:"NORMALIZE_BATCH_SIZE"`
	// UnclassifiedPolicy is "exclude" or "raw".
	UnclassifiedPolicy string `mapstructure:"UNCLASSIFIED_POLICY"`
	// SkipUnknownMachines stops the "Unknown" machine name from counting toward consumed entitlements.
	SkipUnknownMachines bool `mapstructure:"SKIP_UNKNOWN_MACHINES"`
	// Timezone is the IANA location used to parse timestamps and derive dates.
	Timezone string `mapstructure:"TIMEZONE"`
	// LicensePolicyFile is an optional Rego file replacing the default anomaly policy.
	LicensePolicyFile string `mapstructure:"LICENSE_POLICY_FILE"`

	// DatabaseURL is the Postgres DSN for the report store; empty disables persistence.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// OTLPEndpoint enables OTel export when set (e.g. localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated list of broker addresses. When set, progress events are published.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// ProgressKafkaTopic is the topic for progress events (default license-progress).
	ProgressKafkaTopic string `mapstructure:"PROGRESS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the progress worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// Worker-only: Loki URL the progress worker pushes to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("CLASSIFIER_URL", "")
	v.SetDefault("CLASSIFIER_API_KEY", "")
	v.SetDefault("CLASSIFIER_JWT_SECRET", "")
	v.SetDefault("CLASSIFIER_JWT_ISSUER", "license-analyzer")
	v.SetDefault("CLASSIFIER_JWT_AUDIENCE", "classifier")
	v.SetDefault("CLASSIFIER_MODEL", "default")
	v.SetDefault("CLASSIFIER_TIMEOUT", "30s")
	v.SetDefault("NORMALIZE_CONCURRENCY", 50)
	v.SetDefault("NORMALIZE_BATCH_SIZE", 100)
	v.SetDefault("UNCLASSIFIED_POLICY", "exclude")
	v.SetDefault("SKIP_UNKNOWN_MACHINES", false)
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("LICENSE_POLICY_FILE", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("PROGRESS_KAFKA_TOPIC", "license-progress")
	v.SetDefault("KAFKA_GROUP_ID", "license-progress-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.NormalizeConcurrency < 1 {
		return nil, errors.New("config: NORMALIZE_CONCURRENCY must be at least 1")
	}
	if cfg.NormalizeBatchSize < 1 {
		return nil, errors.New("config: NORMALIZE_BATCH_SIZE must be at least 1")
	}
	cfg.UnclassifiedPolicy = strings.ToLower(strings.TrimSpace(cfg.UnclassifiedPolicy))
	if cfg.UnclassifiedPolicy != "exclude" && cfg.UnclassifiedPolicy != "raw" {
		return nil, fmt.Errorf("config: UNCLASSIFIED_POLICY must be exclude or raw, got %q", cfg.UnclassifiedPolicy)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("config: TIMEZONE %q: %w", cfg.Timezone, err)
	}

	return &cfg, nil
}

// Location returns the configured time zone, or UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ClassifierCallTimeout parses ClassifierTimeout. Returns 30s if unset or invalid.
func (c *Config) ClassifierCallTimeout() time.Duration {
	d, err := time.ParseDuration(c.ClassifierTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// A non-empty list enables progress publishing.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
