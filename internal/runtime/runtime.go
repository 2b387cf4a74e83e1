package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/rzbill/flobus/internal/config"
	"github.com/rzbill/flobus/internal/diag"
	"github.com/rzbill/flobus/internal/eventlog"
	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/queue"
	"github.com/rzbill/flobus/internal/storage/memory"
	pebblestore "github.com/rzbill/flobus/internal/storage/pebble"
	pgstore "github.com/rzbill/flobus/internal/storage/postgres"
	redisstore "github.com/rzbill/flobus/internal/storage/redis"
	"github.com/rzbill/flobus/internal/telemetry"
	"github.com/rzbill/flobus/internal/workqueue"
	"github.com/rzbill/flobus/pkg/log"
)

// JournalName is the pebble event log that backs the journal.
const JournalName = "default"

// ErrNoDeadLetters is returned when the backend cannot list abandoned messages.
var ErrNoDeadLetters = errors.New("runtime: backend does not list dead letters")

// Options for building the Runtime.
type Options struct {
	Config config.Config
	// Logger overrides the logger built from Config.Log.
	Logger log.Logger
	// Registerer receives the Prometheus collectors. Nil disables the
	// Prometheus sink.
	Registerer prometheus.Registerer
	// Telemetry is passed to telemetry.New.
	Telemetry []telemetry.Option
	// RedisClient overrides the client built from Config.Redis.
	RedisClient redis.UniversalClient
}

// Runtime wires storage, diagnostics, the queue Service and the Journal for
// a single process.
type Runtime struct {
	config      config.Config
	logger      log.Logger
	sink        diag.Sink
	telemetry   *telemetry.Provider
	provider    queue.StoreProvider
	service     *queue.Service
	journal     *journal.Journal
	checkpoints journal.Checkpoints

	health func(context.Context) error
	close  []func() error
}

// Open initializes the configured backend and returns a Runtime.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		l, err := log.ApplyConfig(&cfg.Log)
		if err != nil {
			return nil, err
		}
		logger = l
	}
	rt := &Runtime{config: cfg, logger: logger.WithComponent("runtime")}

	tp, err := telemetry.New(ctx, cfg.Telemetry, opts.Telemetry...)
	if err != nil {
		return nil, err
	}
	rt.telemetry = tp
	rt.close = append(rt.close, func() error { return tp.Shutdown(context.Background()) })

	sinks := []diag.Sink{diag.NewLogSink(logger.WithComponent("diag"))}
	if tp.Enabled() {
		s, err := diag.NewOTelSink(tp.MeterProvider())
		if err != nil {
			rt.closeAll()
			return nil, fmt.Errorf("runtime: otel sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if opts.Registerer != nil {
		s, err := diag.NewPrometheusSink(opts.Registerer)
		if err != nil {
			rt.closeAll()
			return nil, fmt.Errorf("runtime: prometheus sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	rt.sink = diag.Multi(sinks...)

	store, err := rt.openBackend(ctx, opts)
	if err != nil {
		rt.closeAll()
		return nil, err
	}

	tracer := tp.Tracer()
	rt.service = queue.NewService(rt.provider,
		queue.WithLogger(logger.WithComponent("queue")),
		queue.WithSink(rt.sink),
		queue.WithTracer(tracer))
	rt.journal = journal.New(store,
		journal.WithLogger(logger.WithComponent("journal")),
		journal.WithSink(rt.sink),
		journal.WithTracer(tracer))

	rt.logger.Info("runtime opened", log.Str("backend", string(cfg.Backend)))
	return rt, nil
}

func (r *Runtime) openBackend(ctx context.Context, opts Options) (journal.Store, error) {
	cfg := r.config
	switch cfg.Backend {
	case config.BackendMemory:
		r.provider = memory.NewProvider()
		r.checkpoints = journal.NewMemoryCheckpoints()
		r.health = func(context.Context) error { return nil }
		return memory.NewJournalStore(), nil

	case config.BackendPebble:
		fsync, err := pebblestore.ParseFsyncMode(cfg.Fsync)
		if err != nil {
			return nil, err
		}
		db, err := pebblestore.Open(pebblestore.Options{
			DataDir: cfg.DataDir,
			Fsync:   fsync,
			Metrics: pebblestore.NewDiagMetrics(r.sink),
		})
		if err != nil {
			return nil, err
		}
		r.close = append(r.close, db.Close)
		l, err := eventlog.OpenLog(db, JournalName)
		if err != nil {
			return nil, err
		}
		r.provider = workqueue.NewProvider(db)
		r.checkpoints = l
		r.health = func(context.Context) error { return db.Check() }
		return l, nil

	case config.BackendRedis:
		client := opts.RedisClient
		if client == nil {
			c := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			r.close = append(r.close, c.Close)
			client = c
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("runtime: redis ping: %w", err)
		}
		js := redisstore.NewJournalStore(client, cfg.Redis.Prefix)
		r.provider = redisstore.NewProvider(client, cfg.Redis.Prefix)
		r.checkpoints = js
		r.health = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return js, nil

	case config.BackendPostgres:
		pool, err := pgstore.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		r.close = append(r.close, func() error { pool.Close(); return nil })
		if cfg.Postgres.Migrate {
			if err := pgstore.Migrate(ctx, pool); err != nil {
				return nil, err
			}
		}
		js := pgstore.NewJournalStore(pool)
		r.provider = pgstore.NewProvider(pool)
		r.checkpoints = js
		r.health = pool.Ping
		return js, nil
	}
	return nil, fmt.Errorf("runtime: unknown backend %q", cfg.Backend)
}

// Service returns the queue service.
func (r *Runtime) Service() *queue.Service { return r.service }

// Journal returns the journal.
func (r *Runtime) Journal() *journal.Journal { return r.journal }

// Checkpoints returns the backend's durable consumer cursors.
func (r *Runtime) Checkpoints() journal.Checkpoints { return r.checkpoints }

// Sink returns the combined diagnostic sink.
func (r *Runtime) Sink() diag.Sink { return r.sink }

// Logger returns the root logger.
func (r *Runtime) Logger() log.Logger { return r.logger }

// Config returns the runtime configuration.
func (r *Runtime) Config() config.Config { return r.config }

// QueueOptions returns the configured queue defaults.
func (r *Runtime) QueueOptions() queue.Options { return r.config.Queue }

// ConsumerOptions returns consumer options populated from configuration.
// A non-empty name enables checkpoints.
func (r *Runtime) ConsumerOptions(name string) journal.ConsumerOptions {
	opts := journal.ConsumerOptions{
		PollingInterval: r.config.Consumer.PollingInterval,
		BatchSize:       r.config.Consumer.BatchSize,
		Name:            name,
		Logger:          r.logger.WithComponent("consumer"),
		Sink:            r.sink,
	}
	if name != "" {
		opts.Checkpoints = r.checkpoints
	}
	return opts
}

// DeadLetters lists abandoned messages of a queue.
func (r *Runtime) DeadLetters(ctx context.Context, name string, limit int) ([]queue.QueuedMessage, error) {
	s, err := r.provider.QueueStore(ctx, name)
	if err != nil {
		return nil, err
	}
	dl, ok := s.(queue.DeadLetterStore)
	if !ok {
		return nil, ErrNoDeadLetters
	}
	return dl.DeadLetters(ctx, limit)
}

// Submit persists msg as pending on the named queue without opening it in
// this process. It is delivered when the queue is next created, here or in
// another process sharing the backend.
func (r *Runtime) Submit(ctx context.Context, name string, msg *message.Message, principal *message.Principal) (queue.QueuedMessage, error) {
	if msg == nil {
		return queue.QueuedMessage{}, queue.ErrNilMessage
	}
	m := msg.Clone()
	if m.Headers == nil {
		m.Headers = message.Headers{}
	}
	if m.ID() == "" {
		m.Headers.Set(message.HeaderMessageID, uuid.NewString())
	}
	s, err := r.provider.QueueStore(ctx, name)
	if err != nil {
		return queue.QueuedMessage{}, err
	}
	qm, err := s.InsertQueuedMessage(ctx, m, principal)
	if err != nil {
		return queue.QueuedMessage{}, err
	}
	r.sink.Emit(ctx, diag.Event{Type: diag.MessageEnqueued, Queue: name, MessageID: qm.ID()})
	return qm, nil
}

// CheckHealth verifies the backend is reachable.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.health == nil {
		return errors.New("runtime: not open")
	}
	return r.health(ctx)
}

// Close stops every queue, then releases the backend.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.service != nil {
		errs = append(errs, r.service.Close(ctx))
	}
	errs = append(errs, r.closeAll())
	return errors.Join(errs...)
}

func (r *Runtime) closeAll() error {
	var errs []error
	for i := len(r.close) - 1; i >= 0; i-- {
		errs = append(errs, r.close[i]())
	}
	r.close = nil
	return errors.Join(errs...)
}
