package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/privscan/internal/model"
)

const ruleWidth = 70

// SimpleWriter writes plain-text reports for terminals.
type SimpleWriter struct {
	baseWriter

	// verbose adds remediation text to each issue.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose includes why-it-matters and how-to-fix text.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report.
func (w *SimpleWriter) Write(report *model.ReportPayload) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeTopFixes(&sb, report)
	w.writeIssues(&sb, report)
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.ReportPayload) {
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString("PRIVACY REPORT\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Target:       %s\n", report.Scan.Input)
	fmt.Fprintf(sb, "Domain:       %s\n", report.Meta.Domain)
	fmt.Fprintf(sb, "Data sharing: %s\n", report.Meta.DataSharing)
	if report.Scan.Status == model.ScanStatusFailed {
		fmt.Fprintf(sb, "Status:       FAILED - %s\n", report.Scan.Error)
	} else {
		fmt.Fprintf(sb, "Status:       %s\n", report.Scan.Status)
	}
	fmt.Fprintf(sb, "Evidence:     %d\n\n", len(report.Evidence))
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeTopFixes(sb *strings.Builder, report *model.ReportPayload) {
	if len(report.TopFixes) == 0 {
		return
	}
	section(sb, "TOP FIXES")
	for i, issue := range report.TopFixes {
		fmt.Fprintf(sb, "  %d. %s\n", i+1, issue.Title)
		if issue.HowToFix != "" {
			fmt.Fprintf(sb, "     %s\n", issue.HowToFix)
		}
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeIssues(sb *strings.Builder, report *model.ReportPayload) {
	section(sb, "ISSUES")
	if len(report.Issues) == 0 {
		sb.WriteString("  No issues detected\n\n")
		return
	}

	for _, s := range model.AllSeverities() {
		issues := issuesWithSeverity(report.Issues, s)
		if len(issues) == 0 {
			continue
		}
		fmt.Fprintf(sb, "[%s] %s\n", severityIndicator(s), strings.ToUpper(s.String()))
		for _, issue := range issues {
			fmt.Fprintf(sb, "  * %s\n", issue.Title)
			if issue.Summary != "" {
				fmt.Fprintf(sb, "    %s\n", issue.Summary)
			}
			if w.verbose {
				if issue.WhyItMatters != "" {
					fmt.Fprintf(sb, "    Why: %s\n", issue.WhyItMatters)
				}
				if issue.HowToFix != "" {
					fmt.Fprintf(sb, "    Fix: %s\n", issue.HowToFix)
				}
			}
		}
		sb.WriteString("\n")
	}
}

func severityIndicator(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "!!!"
	case model.SeverityHigh:
		return "!!"
	case model.SeverityMedium:
		return "!"
	case model.SeverityLow:
		return "-"
	default:
		return "i"
	}
}
