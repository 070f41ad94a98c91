package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/privscan/internal/database"
	"github.com/nao1215/privscan/internal/model"
	"github.com/nao1215/privscan/internal/report"
	"github.com/nao1215/privscan/internal/scoring"
)

// NewReportCmd creates the report command.
func NewReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <scan-id>",
		Short: "Print the privacy report of a stored scan",
		Long: `Report renders the scored privacy report of a scan stored in the local
database.

Examples:
  # Print a text report
  privscan report 3f1c9a52-0b8e-4d0c-9d55-3b6f1e2a7c10

  # Write a Markdown report to a file
  privscan report -f markdown -o report.md 3f1c9a52-0b8e-4d0c-9d55-3b6f1e2a7c10`,
		Args: cobra.ExactArgs(1),
		RunE: runReportCmd,
	}

	addReportFlags(cmd)

	return cmd
}

// addReportFlags adds the flags shared by report and scan.
func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", string(report.FormatText),
		"Report format: text, json or markdown")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
}

func runReportCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	db, err := a.openDB()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	scan, err := db.GetScan(ctx, args[0])
	if err != nil {
		if errors.Is(err, database.ErrScanNotFound) {
			return fmt.Errorf("scan not found: %s", args[0])
		}
		return err
	}
	if scan.Status != model.ScanStatusCompleted {
		return fmt.Errorf("scan %s is %s, no report available", scan.ID, scan.Status)
	}
	evidence, err := db.ListEvidence(ctx, scan.ID)
	if err != nil {
		return err
	}
	issues, err := db.ListIssues(ctx, scan.ID)
	if err != nil {
		return err
	}

	payload := scoring.BuildReport(*scan, evidence, issues)
	return outputReports(cmd, []*model.ReportPayload{&payload})
}

// outputReports writes reports in the --format to --output, or to stdout.
func outputReports(cmd *cobra.Command, reports []*model.ReportPayload) (err error) {
	formatName, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if outputPath != "" {
		if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		f, err := os.Create(outputPath) //nolint:gosec // User-provided output path is intentional
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		out = f
	}

	writer, err := report.NewWriter(format, out)
	if err != nil {
		return err
	}
	for _, r := range reports {
		if _, err := writer.Write(r); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	if outputPath != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", outputPath)
	}
	return nil
}
