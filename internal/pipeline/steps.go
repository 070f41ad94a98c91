package pipeline

import (
	"context"
	"errors"

	"github.com/nao1215/privscan/internal/model"
	"github.com/nao1215/privscan/internal/scanner"
)

// ErrNoPage is returned by steps that need a fetched page when none was
// recorded.
var ErrNoPage = errors.New("no page fetched")

// Fetcher retrieves a target page. *scanner.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, target string) (*scanner.Page, error)
}

// Classifier turns a page into evidence. *scanner.Classifier implements it.
type Classifier interface {
	Classify(ctx context.Context, scanID string, page *scanner.Page) ([]model.Evidence, error)
}

// FetchStep fetches the scan target.
type FetchStep struct {
	fetcher Fetcher
}

// NewFetchStep returns a fetch step.
func NewFetchStep(fetcher Fetcher) *FetchStep {
	return &FetchStep{fetcher: fetcher}
}

// Name returns the step name.
func (s *FetchStep) Name() string { return "fetch" }

// Do fetches result.Target.Input.
func (s *FetchStep) Do(ctx context.Context, result *Result) error {
	page, err := s.fetcher.Fetch(ctx, result.Target.Input)
	if err != nil {
		return err
	}
	result.Page = page
	return nil
}

// ClassifyStep turns the fetched page into evidence.
type ClassifyStep struct {
	classifier Classifier
}

// NewClassifyStep returns a classify step.
func NewClassifyStep(classifier Classifier) *ClassifyStep {
	return &ClassifyStep{classifier: classifier}
}

// Name returns the step name.
func (s *ClassifyStep) Name() string { return "classify" }

// Do appends evidence for result.Page.
func (s *ClassifyStep) Do(ctx context.Context, result *Result) error {
	if result.Page == nil {
		return ErrNoPage
	}
	evidence, err := s.classifier.Classify(ctx, result.Scan.ID, result.Page)
	if err != nil {
		return err
	}
	result.Evidence = append(result.Evidence, evidence...)
	return nil
}

// IssueStep derives catalogue issues from the evidence so far.
type IssueStep struct {
	newID func() string
}

// NewIssueStep returns an issue step. A nil newID uses random UUIDs.
func NewIssueStep(newID func() string) *IssueStep {
	return &IssueStep{newID: newID}
}

// Name returns the step name.
func (s *IssueStep) Name() string { return "issues" }

// Do replaces result.Issues with issues derived from result.Evidence.
func (s *IssueStep) Do(_ context.Context, result *Result) error {
	result.Issues = scanner.DeriveIssues(result.Scan.ID, result.Evidence, s.newID)
	return nil
}

// WebScanSteps returns the standard steps for a web target.
func WebScanSteps(fetcher Fetcher, classifier Classifier) []Step {
	return []Step{
		NewFetchStep(fetcher),
		NewClassifyStep(classifier),
		NewIssueStep(nil),
	}
}
