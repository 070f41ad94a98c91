package pipeline

import (
	"context"
	"log/slog"

	"github.com/nao1215/privscan/internal/model"
	"github.com/nao1215/privscan/internal/scanner"
)

// Result accumulates what a scan produced.
type Result struct {
	Scan   model.Scan
	Target model.ScanTarget

	// Page is set by the fetch step.
	Page *scanner.Page

	Evidence []model.Evidence
	Issues   []model.Issue

	// PerformedSteps lists executed step names in order.
	PerformedSteps []string

	// Err is the last step error, if any.
	Err error
}

// NewResult returns an empty result for target.
func NewResult(scan model.Scan, target model.ScanTarget) *Result {
	return &Result{
		Scan:           scan,
		Target:         target,
		Evidence:       []model.Evidence{},
		Issues:         []model.Issue{},
		PerformedSteps: []string{},
	}
}

// Step is one stage of a scan.
type Step interface {
	// Do executes the step against result. A returned error is recorded on
	// the result.
	Do(ctx context.Context, result *Result) error

	// Name returns the step's name for logging.
	Name() string
}

// Pipeline executes steps in order.
type Pipeline struct {
	steps           []Step
	logger          *slog.Logger
	continueOnError bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError keeps executing later steps after one fails.
// By default the pipeline stops at the first error.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates an empty Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends steps in order.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs the steps in sequence. Cancellation is checked before each
// step. It returns the first step error unless continue-on-error is set, in
// which case errors are only recorded on the result.
func (p *Pipeline) Execute(ctx context.Context, result *Result) error {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("pipeline cancelled",
				"step", step.Name(),
				"scan_id", result.Scan.ID,
				"reason", err,
			)
			result.Err = err
			return err
		}

		p.logger.Debug("executing step",
			"step", step.Name(),
			"scan_id", result.Scan.ID,
		)

		if err := step.Do(ctx, result); err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"scan_id", result.Scan.ID,
				"error", err,
			)
			result.Err = err
			if !p.continueOnError {
				return err
			}
		}

		result.PerformedSteps = append(result.PerformedSteps, step.Name())
	}
	return nil
}

// StepCount returns the number of steps.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns step names in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
