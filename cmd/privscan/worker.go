package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// errNoBroker is returned by commands that need a shared queue.
var errNoBroker = errors.New("no broker configured: set PRIVSCAN_REDIS_URL or REDIS_URL")

// NewWorkerCmd creates the worker command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run scan workers",
		Long: `Worker consumes scan jobs from the Redis queue, scans each target and
stores its findings. Failed jobs are retried with backoff and moved to the
dead-letter queue once their attempts are exhausted.

Prometheus metrics are served on server.metrics_addr.`,
		Args: cobra.NoArgs,
		RunE: runWorkerCmd,
	}

	cmd.Flags().IntP("concurrency", "n", 0, "Number of concurrent workers (default: queue.concurrency)")

	return cmd
}

func runWorkerCmd(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	if n, err := cmd.Flags().GetInt("concurrency"); err == nil && n > 0 {
		a.cfg.Queue.Concurrency = n
	}
	if a.cfg.Queue.RedisURL == "" {
		return errNoBroker
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := a.openDB()
	if err != nil {
		return err
	}
	if _, err := a.openBroker(ctx); err != nil {
		return err
	}
	cache, err := a.openLists(ctx)
	if err != nil {
		return err
	}

	pool := a.newPool(db, cache)
	reg := a.newRegistry(pool.Collector())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		g.Go(func() error { return serveMetrics(ctx, addr, reg, a.logger) })
	}
	return g.Wait()
}
