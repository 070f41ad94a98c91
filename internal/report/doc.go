// Package report renders scored scan reports.
//
// Writers turn a model.ReportPayload into one of three formats:
//   - JSONWriter: the payload as served by the API
//   - MarkdownWriter: a shareable document with a severity chart
//   - SimpleWriter: plain text for terminals
//
// Writers implement the Writer interface and can be combined with
// MultiWriter.
package report
