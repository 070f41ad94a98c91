package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nao1215/privscan/internal/admission"
	"github.com/nao1215/privscan/internal/config"
	"github.com/nao1215/privscan/internal/database"
	"github.com/nao1215/privscan/internal/lists"
	applog "github.com/nao1215/privscan/internal/log"
	"github.com/nao1215/privscan/internal/pipeline"
	"github.com/nao1215/privscan/internal/postgres"
	"github.com/nao1215/privscan/internal/queue"
	"github.com/nao1215/privscan/internal/quota"
	"github.com/nao1215/privscan/internal/scanner"
)

// app holds the components shared by the long-running commands.
// Components are opened on demand and released by close.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db     *database.DB
	redis  *redis.Client
	broker queue.Broker
	lists  *lists.Cache

	closers []func()
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// loadConfig builds the configuration from the --config flag, the config
// file search path and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// newApp loads the configuration and sets up logging. Services log at the
// configured level; interactive commands log warnings only. --verbose forces
// the debug level for both.
func newApp(cmd *cobra.Command, interactive bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	verbose := getVerboseFlag(cmd)

	var logger *slog.Logger
	if interactive {
		logger = applog.NewCLILogger(cmd.ErrOrStderr(), verbose)
	} else {
		if verbose {
			cfg.Log.Level = "debug"
		}
		logger, err = applog.NewLogger(cmd.ErrOrStderr(), applog.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
		if err != nil {
			return nil, fmt.Errorf("configuration error: %w", err)
		}
		slog.SetDefault(logger)
	}
	return &app{cfg: cfg, logger: logger}, nil
}

// close releases everything opened, latest first.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) openDB() (*database.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := database.Open(a.cfg.Storage.DataDir, database.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() { _ = db.Close() })
	a.logger.Info("database opened", slog.String("path", db.Path()))
	return db, nil
}

// openBroker connects to Redis when a broker address is configured and
// falls back to an in-process broker otherwise.
func (a *app) openBroker(ctx context.Context) (queue.Broker, error) {
	if a.broker != nil {
		return a.broker, nil
	}
	if a.cfg.Queue.RedisURL == "" {
		a.logger.Warn("no broker address configured, using an in-process queue")
		a.broker = queue.NewMemoryBroker(nil)
		return a.broker, nil
	}

	client, err := queue.NewRedisClient(a.cfg.Queue.RedisURL)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	a.redis = client
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.broker = queue.NewRedisBroker(client,
		queue.WithKeyPrefix(a.cfg.Queue.KeyPrefix),
		queue.WithVisibilityTimeout(a.cfg.Queue.VisibilityTimeout),
	)
	a.logger.Info("redis broker connected", slog.String("url", a.cfg.Queue.RedisURL))
	return a.broker, nil
}

// memoryBroker reports whether jobs stay inside this process.
func (a *app) memoryBroker() bool {
	_, ok := a.broker.(*queue.MemoryBroker)
	return ok
}

// openLists creates the list cache and loads it once, so unusable lists
// abort startup instead of failing every scan.
func (a *app) openLists(ctx context.Context) (*lists.Cache, error) {
	if a.lists != nil {
		return a.lists, nil
	}
	var source lists.Source
	switch {
	case a.cfg.Lists.File != "":
		source = lists.FileSource{Path: a.cfg.Lists.File}
	case a.redis != nil:
		source = lists.NewRedisSource(a.redis, a.cfg.Lists.RedisKey)
	}
	cache, err := lists.NewCache(source, lists.WithTTL(a.cfg.Lists.TTL), lists.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	if _, err := cache.Get(ctx); err != nil {
		return nil, fmt.Errorf("failed to load tracker lists: %w", err)
	}
	a.lists = cache
	return cache, nil
}

// openQuota returns the daily quota service on the configured backend.
func (a *app) openQuota(ctx context.Context) (*quota.Service, error) {
	var store quota.Store
	switch a.cfg.QuotaBackend() {
	case config.QuotaBackendMemory:
		store = quota.NewMemoryStore()
	case config.QuotaBackendPostgres:
		dsn := a.cfg.Storage.DatabaseURL
		if err := postgres.Migrate(dsn, a.logger); err != nil {
			return nil, err
		}
		pool, err := postgres.Connect(ctx, dsn, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		store = postgres.NewQuotaStore(pool)
	default:
		db, err := a.openDB()
		if err != nil {
			return nil, err
		}
		store = db.Quota()
	}
	return quota.New(store, quota.WithLimit(a.cfg.Quota.DailyLimit)), nil
}

// newController builds the admission controller. Window counters live in
// Redis when it is available so every API replica shares them.
func (a *app) newController() (*admission.Controller, error) {
	opts := []admission.ControllerOption{
		admission.WithClassifier(admission.NewClassifier(a.cfg.Admission.ComplexDomains)),
		admission.WithLogger(a.logger),
	}
	if a.redis != nil {
		opts = append(opts, admission.WithCounter(admission.NewRedisCounter(a.redis, nil)))
	}
	load, err := admission.NewLoadAdjuster(a.broker, a.cfg.Queue.Name,
		admission.WithThreshold(a.cfg.Admission.LoadThreshold),
		admission.WithLoadTTL(a.cfg.Admission.LoadTTL),
		admission.WithLoadLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	opts = append(opts, admission.WithLoad(load))
	return admission.NewController(opts...), nil
}

// newPipelineFactory returns a factory of web scan pipelines sharing one
// fetcher and classifier.
func (a *app) newPipelineFactory(cache *lists.Cache) func() *pipeline.Pipeline {
	return newPipelineFactory(a.cfg, cache, nil, a.logger)
}

func newPipelineFactory(cfg *config.Config, provider scanner.ListProvider, client *http.Client, logger *slog.Logger) func() *pipeline.Pipeline {
	fetchOpts := []scanner.FetcherOption{
		scanner.WithUserAgent(cfg.Scanner.UserAgent),
		scanner.WithTimeout(cfg.Scanner.Timeout),
		scanner.WithFetchLogger(logger),
	}
	if cfg.Scanner.MaxBodySize > 0 {
		fetchOpts = append(fetchOpts, scanner.WithMaxBodySize(cfg.Scanner.MaxBodySize))
	}
	if client != nil {
		fetchOpts = append(fetchOpts, scanner.WithHTTPClient(client))
	}
	fetcher := scanner.NewFetcher(fetchOpts...)
	classifier := scanner.NewClassifier(provider)

	return func() *pipeline.Pipeline {
		p := pipeline.New(pipeline.WithLogger(logger))
		p.AddSteps(pipeline.WebScanSteps(fetcher, classifier)...)
		return p
	}
}

// newPool builds the worker pool that runs scan jobs from the queue.
func (a *app) newPool(db *database.DB, cache *lists.Cache) *queue.Pool {
	handler := pipeline.NewHandler(db, a.newPipelineFactory(cache), pipeline.WithHandlerLogger(a.logger))
	return queue.NewPool(a.broker, handler,
		queue.WithQueue(a.cfg.Queue.Name, a.cfg.Queue.DeadName),
		queue.WithConcurrency(a.cfg.Queue.Concurrency),
		queue.WithPollInterval(a.cfg.Queue.PollInterval),
		queue.WithJobTimeout(a.cfg.Queue.JobTimeout),
		queue.WithPoolLogger(a.logger),
	)
}

// newRegistry returns a registry with the runtime collectors and the queue
// depth gauges.
func (a *app) newRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		queue.NewCollector(a.broker, queue.QueueRef{Name: a.cfg.Queue.Name, Dead: a.cfg.Queue.DeadName}),
	)
	reg.MustRegister(extra...)
	return reg
}

// serveMetrics serves reg on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server started", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
