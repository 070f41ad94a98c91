package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nao1215/privscan/internal/model"
	"github.com/nao1215/privscan/internal/pipeline"
	"github.com/nao1215/privscan/internal/scanner"
	"github.com/nao1215/privscan/internal/scoring"
)

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <url>...",
		Short: "Scan websites locally and print their privacy reports",
		Long: `Scan fetches each target in this process, without the job queue, and
prints a privacy report per target. It looks for:
- Trackers and fingerprinting scripts from known vendors
- Requests to third-party domains
- Cookies set by the page
- Pages served without HTTPS

Results are stored in the local database so "privscan report" can render
them again later.

Examples:
  # Scan a single site
  privscan scan example.com

  # Scan several sites, four at a time, and print JSON
  privscan scan -b 4 -f json example.com example.org https://example.net/shop`,
		Args: cobra.MinimumNArgs(1),
		RunE: runScanCmd,
	}

	cmd.Flags().IntP("batch", "b", pipeline.DefaultBatchConcurrency,
		"Number of concurrent scans")
	cmd.Flags().Bool("no-save", false,
		"Do not store results in the local database")
	addReportFlags(cmd)

	return cmd
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	batch, err := cmd.Flags().GetInt("batch")
	if err != nil {
		return err
	}
	noSave, err := cmd.Flags().GetBool("no-save")
	if err != nil {
		return err
	}

	targets := make([]model.ScanTarget, 0, len(args))
	for _, arg := range args {
		u, err := scanner.NormalizeTarget(arg)
		if err != nil {
			return fmt.Errorf("invalid target %q: %w", arg, err)
		}
		targets = append(targets, model.ScanTarget{
			ScanID: uuid.NewString(),
			Input:  u.String(),
			Kind:   model.ScanKindWeb,
		})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := a.openLists(ctx)
	if err != nil {
		return err
	}

	bp := pipeline.NewBatchProcessor(a.newPipelineFactory(cache),
		pipeline.WithConcurrency(batch),
		pipeline.WithBatchLogger(a.logger),
	)
	results, err := bp.ProcessBatch(ctx, targets)
	if err != nil {
		return err
	}

	reports := make([]*model.ReportPayload, 0, len(results))
	failed := 0
	for _, result := range results {
		if result.Err != nil || result.Scan.Status == model.ScanStatusFailed {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "Scan error for %s: %s\n", result.Target.Input, result.Scan.Error)
		} else {
			payload := scoring.BuildReport(result.Scan, result.Evidence, result.Issues)
			reports = append(reports, &payload)
		}
		if !noSave {
			if err := a.saveResult(ctx, result); err != nil {
				a.logger.Error("failed to save scan", "input", result.Target.Input, "error", err)
			}
		}
	}

	if err := outputReports(cmd, reports); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scans failed", failed, len(results))
	}
	return nil
}

// saveResult stores a finished scan and its findings.
func (a *app) saveResult(ctx context.Context, result *pipeline.Result) error {
	db, err := a.openDB()
	if err != nil {
		return err
	}
	if err := db.CreateScan(ctx, &result.Scan); err != nil {
		return err
	}
	if result.Scan.Status != model.ScanStatusCompleted {
		return nil
	}
	return db.ReplaceFindings(ctx, result.Scan.ID, result.Evidence, result.Issues)
}
