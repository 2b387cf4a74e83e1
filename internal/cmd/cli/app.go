package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rzbill/flobus/internal/config"
	"github.com/rzbill/flobus/internal/runtime"
	"github.com/rzbill/flobus/pkg/log"
)

// app holds the persistent flags shared by all commands.
type app struct {
	configPath  string
	backend     string
	dataDir     string
	fsync       string
	redisAddr   string
	postgresDSN string
	logLevel    string
	logFormat   string
	metricsAddr string
}

func (a *app) bindFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "Config file (.json, .yaml or .yml)")
	f.StringVar(&a.backend, "backend", "", "Storage backend: memory|pebble|redis|postgres")
	f.StringVar(&a.dataDir, "data-dir", "", "Pebble data directory (if not specified, uses OS-specific application data directory)")
	f.StringVar(&a.fsync, "fsync", "", "Pebble fsync mode: always|interval|never")
	f.StringVar(&a.redisAddr, "redis-addr", "", "Redis address")
	f.StringVar(&a.postgresDSN, "postgres-dsn", "", "PostgreSQL connection string")
	f.StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	f.StringVar(&a.logFormat, "log-format", "", "Log format: text|json")
	f.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// config resolves defaults, then the config file, then FLOBUS_* variables,
// then flags.
func (a *app) config() (config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return config.Config{}, err
	}
	config.FromEnv(&cfg)
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	if a.backend != "" {
		cfg.Backend = config.Backend(a.backend)
	}
	set(&cfg.DataDir, a.dataDir)
	set(&cfg.Fsync, a.fsync)
	set(&cfg.Redis.Addr, a.redisAddr)
	set(&cfg.Postgres.DSN, a.postgresDSN)
	set(&cfg.Log.Level, a.logLevel)
	set(&cfg.Log.Format, a.logFormat)
	set(&cfg.Telemetry.MetricsAddr, a.metricsAddr)
	return cfg, cfg.Validate()
}

// session is an open runtime plus the optional metrics endpoint.
type session struct {
	*runtime.Runtime
	metrics *http.Server
}

func (a *app) open(cmd *cobra.Command) (*session, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	logger, err := log.ApplyConfig(&cfg.Log)
	if err != nil {
		return nil, err
	}
	log.RedirectStdLog(logger)

	opts := runtime.Options{Config: cfg, Logger: logger}
	var reg *prometheus.Registry
	if cfg.Telemetry.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts.Registerer = reg
	}
	rt, err := runtime.Open(cmd.Context(), opts)
	if err != nil {
		return nil, err
	}
	s := &session{Runtime: rt}
	if reg != nil {
		if err := s.serveMetrics(cfg.Telemetry.MetricsAddr, reg); err != nil {
			_ = rt.Close(context.Background())
			return nil, err
		}
	}
	return s, nil
}

func (s *session) serveMetrics(addr string, reg *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger := s.Logger()
	go func() {
		if err := s.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", log.Err(err))
		}
	}()
	logger.Info("serving metrics", log.Str("addr", ln.Addr().String()))
	return nil
}

func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var errs []error
	if s.metrics != nil {
		errs = append(errs, s.metrics.Shutdown(ctx))
	}
	errs = append(errs, s.Runtime.Close(ctx))
	return errors.Join(errs...)
}

func newHealthCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the configured backend is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.CheckHealth(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
			return nil
		},
	}
}
