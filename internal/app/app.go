// Package app assembles the components each binary runs from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/DocBrief/internal/api"
	"github.com/dharsanguruparan/DocBrief/internal/config"
	"github.com/dharsanguruparan/DocBrief/internal/database"
	"github.com/dharsanguruparan/DocBrief/internal/dispatch"
	"github.com/dharsanguruparan/DocBrief/internal/inference"
	"github.com/dharsanguruparan/DocBrief/internal/jobs"
	"github.com/dharsanguruparan/DocBrief/internal/processing"
	"github.com/dharsanguruparan/DocBrief/internal/queue"
	"github.com/dharsanguruparan/DocBrief/internal/reconcile"
	"github.com/dharsanguruparan/DocBrief/internal/repository"
	"github.com/dharsanguruparan/DocBrief/internal/s3storage"
	"github.com/dharsanguruparan/DocBrief/internal/storage"
	"github.com/dharsanguruparan/DocBrief/internal/validation"
	"github.com/dharsanguruparan/DocBrief/internal/worker"
)

// Deps are the shared resources opened once per process.
type Deps struct {
	Store repository.Store
	Blobs *s3storage.Storage

	log      *slog.Logger
	backends []inference.Backend
	closers  []func()
}

// Open connects the record store and, when configured, object storage.
// The postgres schema is migrated before use.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Deps, error) {
	d := &Deps{log: log}
	switch cfg.Store.Driver {
	case "memory":
		log.Warn("using in-memory store; records are lost on restart")
		d.Store = storage.NewMemoryStore()
	default:
		if err := database.Migrate(ctx, cfg.Store.DatabaseURL, log); err != nil {
			return nil, err
		}
		pool, err := database.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)
		d.Store = repository.NewPostgres(pool)
	}
	if cfg.S3.Enabled() {
		blobs, err := s3storage.New(cfg.S3)
		if err != nil {
			d.Close()
			return nil, err
		}
		if err := blobs.EnsureBucket(ctx); err != nil {
			d.Close()
			return nil, err
		}
		d.Blobs = blobs
	}
	return d, nil
}

// Close releases inference backends, then the other resources in reverse
// order of acquisition.
func (d *Deps) Close() {
	for _, b := range d.backends {
		if err := inference.Close(b); err != nil {
			d.log.Warn("close inference backend", "error", err)
		}
	}
	d.backends = nil
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func (d *Deps) onClose(fn func()) { d.closers = append(d.closers, fn) }

// Runner builds a job runner owning a lazily loaded inference backend that
// is rebuilt after maxUses calls; maxUses <= 0 keeps one instance for the
// process lifetime.
func (d *Deps) Runner(cfg *config.Config, log *slog.Logger, maxUses int) *jobs.Runner {
	backend := inference.Build(cfg.Inference, maxUses)
	d.backends = append(d.backends, backend)
	return jobs.NewRunner(d.Store, backend, log, cfg.Inference.Timeout)
}

// RedisOpt converts the redis settings for asynq.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
}

// API is the HTTP process: server, execution strategy and reconcile sweep.
type API struct {
	cfg     *config.Config
	log     *slog.Logger
	deps    *Deps
	server  *api.Server
	pool    *processing.Processor
	sweeper *reconcile.Sweeper
}

// NewAPI wires the HTTP process for the configured dispatch mode.
func NewAPI(ctx context.Context, cfg *config.Config, log *slog.Logger) (*API, error) {
	deps, err := Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &API{cfg: cfg, log: log, deps: deps}

	var strategy dispatch.Strategy
	switch cfg.Dispatch.Mode {
	case config.DispatchDistributed:
		client := asynq.NewClient(RedisOpt(cfg.Redis))
		deps.onClose(func() { _ = client.Close() })
		// the API never runs inference in this mode, the runner only records
		// publish failures
		failer := jobs.NewRunner(deps.Store, nil, log, 0)
		strategy = queue.NewProducer(client, failer, queue.Options{
			Queue:       cfg.Distributed.Queue,
			MaxAttempts: cfg.Distributed.MaxAttempts,
			Timeout:     cfg.Distributed.TaskTimeout,
		}, log)
	default:
		a.pool = processing.New(deps.Runner(cfg, log, cfg.Embedded.TasksPerBackend), log, cfg.Embedded.Workers, cfg.Embedded.QueueDepth)
		strategy = a.pool
	}

	if cfg.Reconcile.Schedule != "" {
		embedded := cfg.Dispatch.Mode == config.DispatchEmbedded
		a.sweeper = reconcile.New(ctx, deps.Store, cfg.Reconcile.Schedule, cfg.Reconcile.StaleAfter,
			reconcile.Statuses(embedded), log)
	}

	opts := api.Options{
		Address:         cfg.Address,
		Log:             log,
		Documents:       deps.Store,
		Submitter:       dispatch.NewDispatcher(deps.Store, deps.Store, strategy, cfg.Summary.DefaultMethod, log),
		Jobs:            dispatch.NewQuery(deps.Store),
		Validator:       validation.New(cfg.Upload.MaxBytes()),
		ExtractLimit:    cfg.Upload.MaxExtractedBytes(),
		PreviewChars:    cfg.Upload.PreviewChars,
		URLExpiry:       cfg.S3.URLExpiry,
		DispatchMode:    string(cfg.Dispatch.Mode),
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	if deps.Blobs != nil {
		opts.Blobs = deps.Blobs
	}
	a.server = api.New(opts)
	return a, nil
}

// Handler exposes the router, mainly for tests.
func (a *API) Handler() http.Handler { return a.server.Handler() }

// Run serves until ctx is cancelled. Queued embedded work is drained for up
// to the shutdown timeout before resources are released.
func (a *API) Run(ctx context.Context) error {
	defer a.deps.Close()

	// workers outlive ctx so the queue can drain; poolCancel aborts them
	poolCtx, poolCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer poolCancel()
	if a.pool != nil {
		a.pool.Start(poolCtx)
	}
	if a.sweeper != nil {
		if err := a.sweeper.Start(); err != nil {
			return err
		}
		defer a.sweeper.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		if a.pool == nil {
			return nil
		}
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.pool.Shutdown(sctx); err != nil {
			a.log.Warn("pool did not drain before shutdown timeout", "error", err)
			poolCancel()
		}
		return nil
	})
	return g.Wait()
}

// Worker is the distributed consumer process.
type Worker struct {
	cfg     *config.Config
	log     *slog.Logger
	deps    *Deps
	server  *asynq.Server
	handler asynq.Handler
}

// NewWorker wires an asynq server running summarize tasks.
func NewWorker(ctx context.Context, cfg *config.Config, log *slog.Logger, asynqLog asynq.Logger) (*Worker, error) {
	if cfg.Store.Driver == "memory" {
		return nil, errors.New("worker needs a shared store; memory is process local")
	}
	deps, err := Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	runner := deps.Runner(cfg, log, cfg.Distributed.TasksPerBackend)
	srv := asynq.NewServer(RedisOpt(cfg.Redis), asynq.Config{
		Concurrency: cfg.Distributed.Concurrency,
		Queues:      map[string]int{cfg.Distributed.Queue: 1},
		RetryDelayFunc: queue.RetryDelay(queue.RetryPolicy{
			Delay:       cfg.Distributed.RetryDelay,
			Exponential: cfg.Distributed.Backoff == "exponential",
			MaxDelay:    cfg.Distributed.MaxRetryDelay,
		}),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Warn("task attempt failed", "type", t.Type(), "retried", retried, "max_retry", maxRetry, "error", err)
		}),
		Logger:          asynqLog,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	return &Worker{
		cfg:     cfg,
		log:     log,
		deps:    deps,
		server:  srv,
		handler: worker.NewProcessor(runner, log).Handler(),
	}, nil
}

// Run consumes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer w.deps.Close()
	if err := w.server.Start(w.handler); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	w.log.Info("worker started", "queue", w.cfg.Distributed.Queue, "concurrency", w.cfg.Distributed.Concurrency,
		"max_attempts", w.cfg.Distributed.MaxAttempts)
	<-ctx.Done()
	start := time.Now()
	w.server.Shutdown()
	w.log.Info("worker stopped", "drain", time.Since(start).Round(time.Millisecond))
	return nil
}
