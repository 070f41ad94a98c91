package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/privscan/internal/model"
)

// Format names an output format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// ErrUnknownFormat is returned by NewWriter for unsupported formats.
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat accepts a format name case-insensitively. "md" is an alias
// for markdown.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// ContentType returns the HTTP media type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatText:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}

// Writer writes a report.
type Writer interface {
	// Write outputs the report and returns the number of bytes written.
	Write(report *model.ReportPayload) (int, error)
}

// NewWriter returns the writer for format.
func NewWriter(format Format, output io.Writer) (Writer, error) {
	switch format {
	case FormatJSON:
		return NewJSONWriter(output, WithPrettyPrint()), nil
	case FormatMarkdown:
		return NewMarkdownWriter(output), nil
	case FormatText:
		return NewSimpleWriter(output), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// MultiWriter writes to several Writers in turn.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter returns a Writer that writes to all writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write writes to each writer and stops at the first error.
func (m *MultiWriter) Write(report *model.ReportPayload) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// severityCounts tallies issues per severity.
func severityCounts(issues []model.Issue) map[model.Severity]int {
	counts := make(map[model.Severity]int)
	for _, issue := range issues {
		counts[issue.Severity]++
	}
	return counts
}

func issuesWithSeverity(issues []model.Issue, s model.Severity) []model.Issue {
	var out []model.Issue
	for _, issue := range issues {
		if issue.Severity == s {
			out = append(out, issue)
		}
	}
	return out
}

var titleCaser = cases.Title(language.English)

// categoryLabel turns "data-sharing" into "Data Sharing".
func categoryLabel(category string) string {
	if category == "" {
		return "-"
	}
	return titleCaser.String(strings.ReplaceAll(category, "-", " "))
}

// truncateString shortens s to at most maxLen runes with an ellipsis.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

const timeLayout = "2006-01-02 15:04:05 MST"
