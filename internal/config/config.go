// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config holds all configuration values for the API server and the operator CLI.
// Values are populated by Load from environment variables.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Defaults to "8080".
	Port string `mapstructure:"port"`

	// DatabaseURL is the Postgres connection string. Required.
	DatabaseURL string `mapstructure:"database_url"`

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// CORSOrigins is the list of allowed cross-origin request origins.
	// Set CORS_ORIGINS to a comma-separated list to override.
	CORSOrigins []string `mapstructure:"cors_origins"`

	// JWTSecret is the HS256 key used to verify bearer tokens. Required.
	JWTSecret string `mapstructure:"jwt_secret"`

	// MaxBodyBytes caps request bodies on the JSON API.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`

	// StaleTripThreshold is how long a trip may stay IN_PROGRESS before the
	// recovery sweep force-completes it.
	StaleTripThreshold time.Duration `mapstructure:"stale_trip_threshold"`

	// RecoveryInterval is the period of the background recovery sweep.
	// Zero disables the scheduler; the CLI can still run a sweep.
	RecoveryInterval time.Duration `mapstructure:"recovery_interval"`

	MileageRate         float64 `mapstructure:"mileage_rate"`
	MaxActiveDeliveries int     `mapstructure:"max_active_deliveries"`
	AutoAccept          bool    `mapstructure:"auto_accept"`
	RequireProof        bool    `mapstructure:"require_proof"`

	// ObserverBuffer is the per-observer send backlog before the observer is dropped.
	ObserverBuffer int `mapstructure:"observer_buffer"`

	// InstanceID tags position samples relayed to other API instances.
	// Defaults to a random value at startup when empty.
	InstanceID string `mapstructure:"instance_id"`

	// KafkaBrokers enables the Kafka activity sink when non-empty.
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`

	// AMQPURL enables the cross-instance position relay when non-empty.
	AMQPURL      string `mapstructure:"amqp_url"`
	AMQPExchange string `mapstructure:"amqp_exchange"`

	// S3Bucket enables S3-backed document and proof storage when non-empty.
	S3Bucket string `mapstructure:"s3_bucket"`
	S3Region string `mapstructure:"s3_region"`
}

var defaults = map[string]any{
	"port":                  "8080",
	"database_url":          "",
	"log_level":             "info",
	"cors_origins":          "http://localhost:5173",
	"jwt_secret":            "",
	"max_body_bytes":        1 << 20,
	"stale_trip_threshold":  "12h",
	"recovery_interval":     "15m",
	"mileage_rate":          0.50,
	"max_active_deliveries": 1,
	"auto_accept":           false,
	"require_proof":         true,
	"observer_buffer":       64,
	"instance_id":           "",
	"kafka_brokers":         "",
	"kafka_topic":           "fieldops.activity",
	"amqp_url":              "",
	"amqp_exchange":         "fieldops.positions",
	"s3_bucket":             "",
	"s3_region":             "us-east-1",
}

// Load reads the API server configuration from environment variables.
// Returns an error listing any required variables that are not set.
func Load() (Config, error) {
	return LoadWith(viper.New(), "DATABASE_URL", "JWT_SECRET")
}

// LoadWith decodes configuration from v, which may already carry bound
// command-line flags or a config file, on top of the defaults and the
// environment. Each name in required must resolve to a non-empty value.
func LoadWith(v *viper.Viper, required ...string) (Config, error) {
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	var cfg Config
	hook := viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("config.Load: decode: %w", err)
	}
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)

	var missing []string
	for _, name := range required {
		if strings.TrimSpace(v.GetString(strings.ToLower(name))) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}

	if cfg.MaxActiveDeliveries < 1 {
		return Config{}, fmt.Errorf("MAX_ACTIVE_DELIVERIES must be at least 1, got %d", cfg.MaxActiveDeliveries)
	}
	if cfg.StaleTripThreshold <= 0 {
		return Config{}, fmt.Errorf("STALE_TRIP_THRESHOLD must be positive, got %s", cfg.StaleTripThreshold)
	}
	if cfg.ObserverBuffer < 1 {
		cfg.ObserverBuffer = 1
	}

	return cfg, nil
}

// trimAll trims each entry and drops empty ones.
func trimAll(in []string) []string {
	var out []string
	for _, part := range in {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
