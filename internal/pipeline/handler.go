package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/privscan/internal/clock"
	"github.com/nao1215/privscan/internal/database"
	"github.com/nao1215/privscan/internal/model"
)

// ScanStore is the persistence the handler needs. *database.DB implements
// it.
type ScanStore interface {
	GetScan(ctx context.Context, id string) (*model.Scan, error)
	UpdateScanStatus(ctx context.Context, id string, status model.ScanStatus, errMsg string, at time.Time) error
	ReplaceFindings(ctx context.Context, scanID string, evidence []model.Evidence, issues []model.Issue) error
}

// Handler executes scan jobs. It implements queue.Handler.
type Handler struct {
	store           ScanStore
	pipelineFactory func() *Pipeline
	clock           clock.Clock
	logger          *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerClock sets the clock used for scan timestamps.
func WithHandlerClock(c clock.Clock) HandlerOption {
	return func(h *Handler) {
		h.clock = c
	}
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler returns a handler that persists to store and runs a fresh
// pipeline from pipelineFactory for every web scan.
func NewHandler(store ScanStore, pipelineFactory func() *Pipeline, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:           store,
		pipelineFactory: pipelineFactory,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.clock = clock.OrSystem(h.clock)
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Handle runs the scan a job describes.
//
// The scan is marked running, its findings are replaced with the pipeline
// output, and it is marked completed. A pipeline failure marks the scan
// failed and is returned so the queue can retry. Jobs for scans that no
// longer exist are dropped. App and chain targets have no scanner and
// complete with no findings.
func (h *Handler) Handle(ctx context.Context, job *model.Job) error {
	target, err := model.DecodeScanTarget(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid scan payload: %w", err)
	}

	scan, err := h.store.GetScan(ctx, target.ScanID)
	if errors.Is(err, database.ErrScanNotFound) {
		h.logger.Warn("dropping job for unknown scan", "job_id", job.ID, "scan_id", target.ScanID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := h.store.UpdateScanStatus(ctx, scan.ID, model.ScanStatusRunning, "", h.clock.Now()); err != nil {
		return err
	}

	result := NewResult(*scan, target)
	if target.Kind == model.ScanKindWeb || target.Kind == "" {
		if err := h.pipelineFactory().Execute(ctx, result); err != nil {
			if uerr := h.store.UpdateScanStatus(context.WithoutCancel(ctx), scan.ID, model.ScanStatusFailed, err.Error(), h.clock.Now()); uerr != nil {
				h.logger.Error("failed to mark scan failed", "scan_id", scan.ID, "error", uerr)
			}
			return err
		}
	} else {
		h.logger.Info("no scanner for target kind", "scan_id", scan.ID, "kind", target.Kind)
	}

	if err := h.store.ReplaceFindings(ctx, scan.ID, result.Evidence, result.Issues); err != nil {
		return err
	}
	if err := h.store.UpdateScanStatus(ctx, scan.ID, model.ScanStatusCompleted, "", h.clock.Now()); err != nil {
		return err
	}

	h.logger.Info("scan completed",
		"scan_id", scan.ID,
		"job_id", job.ID,
		"evidence", len(result.Evidence),
		"issues", len(result.Issues),
	)
	return nil
}
