package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/privscan/internal/admission"
	"github.com/nao1215/privscan/internal/clock"
	"github.com/nao1215/privscan/internal/model"
	"github.com/nao1215/privscan/internal/queue"
)

const (
	// APIKeyHeader carries a privileged API key.
	APIKeyHeader = "X-API-Key"
	// AdminTokenHeader carries the admin token for /admin endpoints.
	AdminTokenHeader = "X-Admin-Token"

	maxRequestBody    = 64 << 10
	readHeaderTimeout = 10 * time.Second
	readyTimeout      = 2 * time.Second
)

// Store is the persistence the API reads and writes.
type Store interface {
	CreateScan(ctx context.Context, scan *model.Scan) error
	GetScan(ctx context.Context, id string) (*model.Scan, error)
	UpdateScanStatus(ctx context.Context, id string, status model.ScanStatus, errMsg string, at time.Time) error
	ListEvidence(ctx context.Context, scanID string) ([]model.Evidence, error)
	ListIssues(ctx context.Context, scanID string) ([]model.Issue, error)
	Ping(ctx context.Context) error
}

// Quota consumes one scan from an identifier's daily allowance.
type Quota interface {
	Consume(ctx context.Context, identifier string) (model.QuotaStatus, error)
}

// Server serves the HTTP API.
type Server struct {
	store  Store
	broker queue.Broker
	quota  Quota

	ctrl         *admission.Controller
	scanPolicy   admission.Policy
	reportPolicy admission.Policy
	proxies      admission.TrustedProxies

	queueName string
	deadName  string
	jobOpts   model.JobOptions

	adminToken string
	apiKeys    map[string]struct{}

	registry *prometheus.Registry
	metrics  *httpMetrics

	clock  clock.Clock
	newID  func() string
	logger *slog.Logger

	router chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithQuota enforces the daily quota on scan submissions.
func WithQuota(q Quota) Option {
	return func(s *Server) {
		s.quota = q
	}
}

// WithAdmission rate limits the scan and report endpoints.
func WithAdmission(ctrl *admission.Controller, scan, report admission.Policy) Option {
	return func(s *Server) {
		s.ctrl = ctrl
		s.scanPolicy = scan
		s.reportPolicy = report
	}
}

// WithTrustedProxies sets the peers whose forwarding headers identify the
// client for rate limits and the daily quota.
func WithTrustedProxies(p admission.TrustedProxies) Option {
	return func(s *Server) {
		s.proxies = p
	}
}

// WithQueue sets the queue scans are enqueued on and its dead-letter queue.
func WithQueue(name, dead string) Option {
	return func(s *Server) {
		s.queueName = name
		s.deadName = dead
	}
}

// WithJobOptions sets the delivery options of enqueued scans.
func WithJobOptions(opts model.JobOptions) Option {
	return func(s *Server) {
		s.jobOpts = opts
	}
}

// WithAdminToken enables the /admin endpoints behind token.
func WithAdminToken(token string) Option {
	return func(s *Server) {
		s.adminToken = token
	}
}

// WithAPIKeys sets the privileged keys that bypass the daily quota.
func WithAPIKeys(keys ...string) Option {
	return func(s *Server) {
		for _, k := range keys {
			if k != "" {
				s.apiKeys[k] = struct{}{}
			}
		}
	}
}

// WithRegistry serves reg on /metrics and registers the HTTP metrics in it.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithClock sets the time source of scan timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithIDGenerator sets the scan id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) {
		s.newID = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New returns a Server backed by store and broker.
// It panics if the HTTP metrics cannot be registered in the registry.
func New(store Store, broker queue.Broker, opts ...Option) *Server {
	s := &Server{
		store:        store,
		broker:       broker,
		scanPolicy:   admission.ScanPolicy(),
		reportPolicy: admission.ReportPolicy(),
		queueName:    queue.DefaultQueue,
		deadName:     queue.DefaultDeadQueue,
		jobOpts:      queue.DefaultJobOptions(),
		apiKeys:      make(map[string]struct{}),
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = clock.OrSystem(s.clock)
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.registry != nil {
		s.metrics = newHTTPMetrics()
		s.registry.MustRegister(s.metrics.requests, s.metrics.duration)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	if s.metrics != nil {
		r.Use(s.metrics.middleware)
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.With(s.admit(s.scanPolicy, scanShape)).Post("/api/scans", s.handleCreateScan)
	r.With(s.admit(s.reportPolicy, nil)).Get("/api/scans/{id}", s.handleGetScan)
	r.With(s.admit(s.reportPolicy, nil)).Get("/api/scans/{id}/report", s.handleGetReport)

	if s.adminToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/admin/requeue", s.handleRequeue)
			r.Get("/admin/queue", s.handleQueueStats)
		})
	}
	return r
}

// admit wraps a route in the admission middleware when a controller is set.
func (s *Server) admit(policy admission.Policy, shapeFn admission.ShapeFunc) func(http.Handler) http.Handler {
	if s.ctrl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return admission.Middleware(s.ctrl, policy, shapeFn, admission.WithKeyFunc(s.proxies.ClientKey))
}

// clientIP identifies the caller for the daily quota.
func (s *Server) clientIP(r *http.Request) string {
	return s.proxies.ClientIP(r)
}

// Run serves on addr until ctx is done, then shuts down gracefully within
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server started", slog.String("addr", addr))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
