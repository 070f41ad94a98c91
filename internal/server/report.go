package server

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/nao1215/privscan/internal/model"
	"github.com/nao1215/privscan/internal/report"
	"github.com/nao1215/privscan/internal/scoring"
)

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_format", "Format must be json, markdown or text.")
		return
	}

	scan := s.loadScan(w, r)
	if scan == nil {
		return
	}
	if scan.Status != model.ScanStatusCompleted {
		writeError(w, http.StatusConflict, "scan_not_ready", "Scan is "+string(scan.Status)+".")
		return
	}

	evidence, err := s.store.ListEvidence(r.Context(), scan.ID)
	if err != nil {
		s.reportFailed(w, scan.ID, err)
		return
	}
	issues, err := s.store.ListIssues(r.Context(), scan.ID)
	if err != nil {
		s.reportFailed(w, scan.ID, err)
		return
	}
	payload := scoring.BuildReport(*scan, evidence, issues)

	var buf bytes.Buffer
	writer, err := report.NewWriter(format, &buf)
	if err != nil {
		s.reportFailed(w, scan.ID, err)
		return
	}
	if _, err := writer.Write(&payload); err != nil {
		s.reportFailed(w, scan.ID, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) reportFailed(w http.ResponseWriter, scanID string, err error) {
	s.logger.Error("failed to build report", slog.String("scan_id", scanID), slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal_error", "The report could not be built.")
}
