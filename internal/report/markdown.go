package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/privscan/internal/model"
)

// MarkdownWriter writes reports as GitHub-flavored Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

var severityHeaders = map[model.Severity]string{
	model.SeverityCritical: "🔴 Critical",
	model.SeverityHigh:     "🟠 High",
	model.SeverityMedium:   "🟡 Medium",
	model.SeverityLow:      "🔵 Low",
	model.SeverityInfo:     "⚪ Info",
}

// Write outputs the report.
func (w *MarkdownWriter) Write(report *model.ReportPayload) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeDataSharing(md, report)
	w.writeSummary(md, report)
	w.writeTopFixes(md, report)
	w.writeIssues(md, report)
	w.writeEvidence(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.ReportPayload) {
	md.H1("Privacy Report: " + report.Meta.Domain)
	md.PlainText("")

	scanned := "-"
	if report.Scan.FinishedAt != nil {
		scanned = report.Scan.FinishedAt.Format(timeLayout)
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Target", "`" + report.Scan.Input + "`"},
			{"Kind", string(report.Scan.Kind)},
			{"Status", statusText(report.Scan)},
			{"Scanned", scanned},
			{"Data Sharing", string(report.Meta.DataSharing)},
		},
	})
	md.PlainText("")
}

func statusText(scan model.Scan) string {
	switch scan.Status {
	case model.ScanStatusCompleted:
		return "✅ Complete"
	case model.ScanStatusFailed:
		if scan.Error != "" {
			return "❌ Failed - " + scan.Error
		}
		return "❌ Failed"
	case model.ScanStatusRunning:
		return "⏳ Running"
	default:
		return "🕒 Queued"
	}
}

func (w *MarkdownWriter) writeDataSharing(md *markdown.Markdown, report *model.ReportPayload) {
	switch report.Meta.DataSharing {
	case model.DataSharingHigh:
		md.Cautionf("High data sharing: %s shares visitor data with many other parties.", report.Meta.Domain)
	case model.DataSharingMedium:
		md.Warningf("Medium data sharing: %s shares visitor data with several other parties.", report.Meta.Domain)
	case model.DataSharingLow:
		md.Note("Low data sharing: a few third parties receive visitor data.")
	default:
		md.Tip("No data sharing with third parties was observed.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, report *model.ReportPayload) {
	md.H2("Severity Summary")
	md.PlainText("")

	counts := severityCounts(report.Issues)
	rows := make([][]string, 0, len(model.AllSeverities())+1)
	for _, s := range model.AllSeverities() {
		rows = append(rows, []string{severityHeaders[s], strconv.Itoa(counts[s])})
	}
	rows = append(rows, []string{"**Total**", "**" + strconv.Itoa(len(report.Issues)) + "**"})
	md.Table(markdown.TableSet{
		Header: []string{"Severity", "Issues"},
		Rows:   rows,
	})
	md.PlainText("")

	if len(report.Issues) > 0 {
		w.writePieChart(md, counts)
	}
}

func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, counts map[model.Severity]int) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Issue Severity Distribution"),
		piechart.WithShowData(true),
	)
	for _, s := range model.AllSeverities() {
		if counts[s] > 0 {
			chart.LabelAndIntValue(titleCaser.String(s.String()), uint64(counts[s]))
		}
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeTopFixes(md *markdown.Markdown, report *model.ReportPayload) {
	md.H2("Top Fixes")
	md.PlainText("")

	if len(report.TopFixes) == 0 {
		md.PlainText("Nothing urgent to fix.")
		md.PlainText("")
		return
	}

	items := make([]string, len(report.TopFixes))
	for i, issue := range report.TopFixes {
		item := "**" + issue.Title + "** (" + issue.Severity.String() + ")"
		if issue.HowToFix != "" {
			item += ": " + issue.HowToFix
		}
		items[i] = item
	}
	md.BulletList(items...)
	md.PlainText("")
}

func (w *MarkdownWriter) writeIssues(md *markdown.Markdown, report *model.ReportPayload) {
	md.H2("Issues")
	md.PlainText("")

	if len(report.Issues) == 0 {
		md.PlainText("No issues detected.")
		md.PlainText("")
		return
	}

	for _, s := range model.AllSeverities() {
		issues := issuesWithSeverity(report.Issues, s)
		if len(issues) == 0 {
			continue
		}

		md.PlainText("### " + severityHeaders[s])
		md.PlainText("")

		rows := make([][]string, len(issues))
		for i, issue := range issues {
			rows[i] = []string{
				issue.Title,
				categoryLabel(issue.Category),
				truncateString(orDash(issue.Summary), 80),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Title", "Category", "Summary"},
			Rows:   rows,
		})
		md.PlainText("")

		for _, issue := range issues {
			if body := issueDetails(issue); body != "" {
				md.Details(issue.Title, body)
			}
		}
		md.PlainText("")
	}
}

func issueDetails(issue model.Issue) string {
	var parts []string
	if issue.WhyItMatters != "" {
		parts = append(parts, "Why it matters: "+issue.WhyItMatters)
	}
	if issue.HowToFix != "" {
		parts = append(parts, "How to fix: "+issue.HowToFix)
	}
	for _, ref := range issue.References {
		label := ref.Label
		if label == "" {
			label = ref.URL
		}
		parts = append(parts, "["+label+"]("+ref.URL+")")
	}
	return strings.Join(parts, "\n\n")
}

func (w *MarkdownWriter) writeEvidence(md *markdown.Markdown, report *model.ReportPayload) {
	md.H2("Evidence")
	md.PlainText("")

	if len(report.Evidence) == 0 {
		md.PlainText("No evidence recorded.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(report.Evidence))
	for i, e := range report.Evidence {
		rows[i] = []string{string(e.Kind), strconv.Itoa(e.Severity), truncateString(e.Title, 80)}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Kind", "Severity", "Title"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [privscan](https://github.com/nao1215/privscan)*")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
