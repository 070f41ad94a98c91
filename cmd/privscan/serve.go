package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/privscan/internal/server"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve starts the HTTP API.

Endpoints:
  POST /api/scans                 submit a scan
  GET  /api/scans/{id}            scan status
  GET  /api/scans/{id}/report     scored report (?format=json|markdown|text)
  GET  /healthz, /readyz, /metrics
  POST /admin/requeue?limit=N     requeue dead-lettered scans (X-Admin-Token)
  GET  /admin/queue               queue and dead-letter depths (X-Admin-Token)

Without a Redis broker the queue lives in this process and serve runs the
scan workers itself. Use --with-worker to run them here with Redis too.`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	cmd.Flags().Bool("with-worker", false, "Run scan workers in this process")

	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	withWorker, err := cmd.Flags().GetBool("with-worker")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := a.openDB()
	if err != nil {
		return err
	}
	broker, err := a.openBroker(ctx)
	if err != nil {
		return err
	}
	quotaSvc, err := a.openQuota(ctx)
	if err != nil {
		return err
	}
	ctrl, err := a.newController()
	if err != nil {
		return err
	}

	proxies, err := a.cfg.Admission.Proxies()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var extra []prometheus.Collector
	if withWorker || a.memoryBroker() {
		cache, err := a.openLists(ctx)
		if err != nil {
			return err
		}
		pool := a.newPool(db, cache)
		extra = append(extra, pool.Collector())
		g.Go(func() error { return pool.Run(ctx) })
	}

	cfg := a.cfg
	srv := server.New(db, broker,
		server.WithQuota(quotaSvc),
		server.WithAdmission(ctrl, cfg.Admission.Scan, cfg.Admission.Report),
		server.WithTrustedProxies(proxies),
		server.WithQueue(cfg.Queue.Name, cfg.Queue.DeadName),
		server.WithJobOptions(cfg.Queue.JobOptions()),
		server.WithAdminToken(cfg.Server.AdminToken),
		server.WithAPIKeys(cfg.Server.APIKeys...),
		server.WithRegistry(a.newRegistry(extra...)),
		server.WithLogger(a.logger),
	)
	g.Go(func() error {
		return srv.Run(ctx, cfg.Server.ListenAddr, cfg.Server.ShutdownTimeout)
	})

	return g.Wait()
}
