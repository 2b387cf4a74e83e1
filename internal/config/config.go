package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzbill/flobus/internal/queue"
	"github.com/rzbill/flobus/pkg/log"
)

// Backend names a storage backend.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPebble   Backend = "pebble"
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Backend Backend `json:"backend" yaml:"backend"`
	// DataDir is the pebble database directory.
	DataDir string `json:"dataDir" yaml:"dataDir"`
	// Fsync is one of always, interval, never.
	Fsync string `json:"fsync" yaml:"fsync"`

	Redis    Redis    `json:"redis" yaml:"redis"`
	Postgres Postgres `json:"postgres" yaml:"postgres"`

	// Queue holds the options applied to queues created without explicit ones.
	Queue    queue.Options `json:"queue" yaml:"queue"`
	Consumer Consumer      `json:"consumer" yaml:"consumer"`

	Log       log.Config `json:"log" yaml:"log"`
	Telemetry Telemetry  `json:"telemetry" yaml:"telemetry"`
}

// Redis configures the redis backend.
type Redis struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// Postgres configures the postgres backend.
type Postgres struct {
	DSN string `json:"dsn" yaml:"dsn"`
	// Migrate creates the tables on open.
	Migrate bool `json:"migrate" yaml:"migrate"`
}

// Consumer holds journal consumer defaults.
type Consumer struct {
	PollingInterval time.Duration `json:"pollingInterval" yaml:"pollingInterval"`
	BatchSize       int           `json:"batchSize" yaml:"batchSize"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	ServiceName  string  `json:"serviceName" yaml:"serviceName"`
	OTLPEndpoint string  `json:"otlpEndpoint" yaml:"otlpEndpoint"`
	Insecure     bool    `json:"insecure" yaml:"insecure"`
	SampleRate   float64 `json:"sampleRate" yaml:"sampleRate"`
	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `json:"metricsAddr" yaml:"metricsAddr"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Backend: BackendPebble,
		DataDir: DefaultDataDir(),
		Fsync:   "always",
		Redis:   Redis{Addr: "localhost:6379", Prefix: "flobus"},
		Postgres: Postgres{
			Migrate: true,
		},
		Queue: queue.Options{
			MaxAttempts:      5,
			RetryDelay:       time.Second,
			ConcurrencyLimit: queue.DefaultConcurrencyLimit,
			BufferSize:       queue.DefaultBufferSize,
		},
		Consumer: Consumer{PollingInterval: time.Second, BatchSize: 100},
		Log:      log.Config{Level: "info", Format: "text"},
		Telemetry: Telemetry{
			ServiceName: "flobus",
			SampleRate:  1,
		},
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendPebble:
		if c.DataDir == "" {
			return fmt.Errorf("config: dataDir is required for the pebble backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required for the redis backend")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("config: postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("config: telemetry.sampleRate must be within [0,1]")
	}
	return nil
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
