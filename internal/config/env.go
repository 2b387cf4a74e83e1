package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays FLOBUS_* environment variables onto cfg. Malformed
// values are ignored.
func FromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	if v := os.Getenv("FLOBUS_BACKEND"); v != "" {
		cfg.Backend = Backend(v)
	}
	str("FLOBUS_DATA_DIR", &cfg.DataDir)
	str("FLOBUS_FSYNC", &cfg.Fsync)

	str("FLOBUS_REDIS_ADDR", &cfg.Redis.Addr)
	str("FLOBUS_REDIS_PASSWORD", &cfg.Redis.Password)
	integer("FLOBUS_REDIS_DB", &cfg.Redis.DB)
	str("FLOBUS_REDIS_PREFIX", &cfg.Redis.Prefix)

	str("FLOBUS_POSTGRES_DSN", &cfg.Postgres.DSN)
	boolean("FLOBUS_POSTGRES_MIGRATE", &cfg.Postgres.Migrate)

	integer("FLOBUS_QUEUE_MAX_ATTEMPTS", &cfg.Queue.MaxAttempts)
	duration("FLOBUS_QUEUE_RETRY_DELAY", &cfg.Queue.RetryDelay)
	integer("FLOBUS_QUEUE_CONCURRENCY_LIMIT", &cfg.Queue.ConcurrencyLimit)
	boolean("FLOBUS_QUEUE_AUTO_ACKNOWLEDGE", &cfg.Queue.AutoAcknowledge)
	integer("FLOBUS_QUEUE_BUFFER_SIZE", &cfg.Queue.BufferSize)

	duration("FLOBUS_CONSUMER_POLLING_INTERVAL", &cfg.Consumer.PollingInterval)
	integer("FLOBUS_CONSUMER_BATCH_SIZE", &cfg.Consumer.BatchSize)

	str("FLOBUS_LOG_LEVEL", &cfg.Log.Level)
	str("FLOBUS_LOG_FORMAT", &cfg.Log.Format)

	boolean("FLOBUS_TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	str("FLOBUS_TELEMETRY_SERVICE_NAME", &cfg.Telemetry.ServiceName)
	str("FLOBUS_TELEMETRY_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	boolean("FLOBUS_TELEMETRY_INSECURE", &cfg.Telemetry.Insecure)
	if v := os.Getenv("FLOBUS_TELEMETRY_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Telemetry.SampleRate = f
		}
	}
	str("FLOBUS_METRICS_ADDR", &cfg.Telemetry.MetricsAddr)
}
