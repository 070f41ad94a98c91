package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nao1215/privscan/internal/admission"
	"github.com/nao1215/privscan/internal/database"
	"github.com/nao1215/privscan/internal/model"
	"github.com/nao1215/privscan/internal/queue"
	"github.com/nao1215/privscan/internal/quota"
	"github.com/nao1215/privscan/internal/scanner"
)

// createScanRequest is the body of POST /api/scans. Either URL or Input
// names the target.
type createScanRequest struct {
	URL   string         `json:"url"`
	Input string         `json:"input"`
	Kind  model.ScanKind `json:"kind"`
	Force bool           `json:"force"`
	Batch bool           `json:"batch"`
}

func (c createScanRequest) target() string {
	if c.URL != "" {
		return strings.TrimSpace(c.URL)
	}
	return strings.TrimSpace(c.Input)
}

type createScanResponse struct {
	ScanID string           `json:"scanId"`
	JobID  string           `json:"jobId"`
	Status model.ScanStatus `json:"status"`
}

// quotaExceededBody is the 429 body of a submission over the daily quota.
type quotaExceededBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	model.QuotaStatus
}

// readBody reads the request body and puts it back for the next reader.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, errBodyTooLarge
	}
	return data, nil
}

var errBodyTooLarge = errors.New("request body too large")

// scanShape classifies a submission from its JSON body. An unreadable body
// yields the shape of the path alone.
func scanShape(r *http.Request) admission.RequestShape {
	shape := admission.RequestShape{Path: r.URL.Path}
	data, err := readBody(r)
	if err != nil || len(data) == 0 {
		return shape
	}
	var req createScanRequest
	if json.Unmarshal(data, &req) != nil {
		return shape
	}
	shape.TargetURL = req.target()
	shape.Force = req.Force
	shape.Batch = req.Batch
	return shape
}

func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "Request body is too large.")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body could not be read.")
		return
	}
	var req createScanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be a JSON object.")
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = model.ScanKindWeb
	}
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_kind", "Kind must be web, app or chain.")
		return
	}
	input := req.target()
	if input == "" {
		writeError(w, http.StatusBadRequest, "invalid_target", "A url or input is required.")
		return
	}
	if kind == model.ScanKindWeb {
		u, err := scanner.NormalizeTarget(input)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_target", err.Error())
			return
		}
		input = u.String()
	}

	if !s.privileged(r) && s.quota != nil {
		status, err := s.quota.Consume(r.Context(), s.clientIP(r))
		if err != nil && !errors.Is(err, quota.ErrQuotaExceeded) {
			s.logger.Error("quota check failed", slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, "quota_unavailable", "The quota service is unavailable.")
			return
		}
		if err != nil || !status.Allowed {
			seconds := int64(math.Ceil(status.ResetAt.Sub(s.clock.Now()).Seconds()))
			if seconds > 0 {
				w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
			}
			writeJSON(w, http.StatusTooManyRequests, quotaExceededBody{
				Error:       "quota_exceeded",
				Message:     "Daily scan quota reached. It resets at " + status.ResetAt.UTC().Format("2006-01-02 15:04 MST") + ".",
				QuotaStatus: status,
			})
			return
		}
	}

	scan := &model.Scan{
		ID:        s.newID(),
		Input:     input,
		Kind:      kind,
		Status:    model.ScanStatusQueued,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.store.CreateScan(r.Context(), scan); err != nil {
		s.logger.Error("failed to store scan", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "The scan could not be stored.")
		return
	}

	payload, err := model.ScanTarget{
		ScanID: scan.ID,
		Input:  scan.Input,
		Kind:   scan.Kind,
		Force:  req.Force,
		Batch:  req.Batch,
	}.Encode()
	if err == nil {
		var job *model.Job
		job, err = s.broker.Enqueue(r.Context(), s.queueName, queue.ScanJobName, payload, s.jobOpts)
		if err == nil {
			s.logger.Info("scan queued",
				slog.String("scan_id", scan.ID),
				slog.String("job_id", job.ID),
				slog.String("kind", string(scan.Kind)),
			)
			writeJSON(w, http.StatusAccepted, createScanResponse{
				ScanID: scan.ID,
				JobID:  job.ID,
				Status: scan.Status,
			})
			return
		}
	}

	s.logger.Error("failed to enqueue scan", slog.String("scan_id", scan.ID), slog.String("error", err.Error()))
	if uerr := s.store.UpdateScanStatus(r.Context(), scan.ID, model.ScanStatusFailed, err.Error(), s.clock.Now().UTC()); uerr != nil {
		s.logger.Warn("failed to mark scan failed", slog.String("scan_id", scan.ID), slog.String("error", uerr.Error()))
	}
	writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "The scan could not be queued.")
}

// privileged reports whether r carries a configured API key.
func (s *Server) privileged(r *http.Request) bool {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return false
	}
	_, ok := s.apiKeys[key]
	return ok
}

// loadScan writes the error response itself when it returns nil.
func (s *Server) loadScan(w http.ResponseWriter, r *http.Request) *model.Scan {
	id := chi.URLParam(r, "id")
	scan, err := s.store.GetScan(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrScanNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Scan not found.")
			return nil
		}
		s.logger.Error("failed to load scan", slog.String("scan_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "The scan could not be loaded.")
		return nil
	}
	return scan
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scan := s.loadScan(w, r)
	if scan == nil {
		return
	}
	writeJSON(w, http.StatusOK, scan)
}
