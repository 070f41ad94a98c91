package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nao1215/privscan/internal/model"
	"github.com/nao1215/privscan/internal/queue"
)

type requeueResponse struct {
	queue.RequeueResult
	Error string `json:"error,omitempty"`
}

// handleRequeue moves dead-lettered scans back onto the scan queue.
// ?limit bounds the run; it defaults to queue.DefaultRequeueLimit.
func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	limit := queue.DefaultRequeueLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "Limit must be a positive integer.")
			return
		}
		limit = n
	}

	result, err := queue.Requeue(r.Context(), s.broker, s.queueName, s.deadName, limit)
	resp := requeueResponse{RequeueResult: result}
	status := http.StatusOK
	if err != nil {
		s.logger.Error("requeue failed", slog.String("error", err.Error()))
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	s.logger.Info("requeue finished",
		slog.Int("processed", result.Processed),
		slog.Int("requeued", result.Requeued),
		slog.Int("failed", result.Failed),
	)
	writeJSON(w, status, resp)
}

type queueStatsResponse struct {
	Queue string `json:"queue"`
	model.QueueMetrics
	Dead int64 `json:"dead"`
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.broker.Metrics(r.Context(), s.queueName)
	if err != nil {
		s.logger.Error("failed to read queue metrics", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "Queue metrics are unavailable.")
		return
	}
	dead, err := s.broker.DeadCount(r.Context(), s.deadName)
	if err != nil {
		s.logger.Error("failed to read dead-letter count", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "Queue metrics are unavailable.")
		return
	}
	writeJSON(w, http.StatusOK, queueStatsResponse{Queue: s.queueName, QueueMetrics: metrics, Dead: dead})
}
