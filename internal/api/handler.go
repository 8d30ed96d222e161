package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	detector *pipeline.Detector
	alerts   *alerts.Manager
	store    domain.AlertStore
	cache    domain.Cache
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(detector *pipeline.Detector, am *alerts.Manager, store domain.AlertStore, cache domain.Cache, version string) *Handler {
	return &Handler{
		detector: detector,
		alerts:   am,
		store:    store,
		cache:    cache,
		version:  version,
	}
}

// DetectResponse is the response for POST /detect.
type DetectResponse struct {
	Record   *domain.ScoreRecord `json:"record"`
	Alert    *domain.Alert       `json:"alert,omitempty"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// BatchDetectResponse is the response for POST /detect/batch. Total is
// the submitted batch size; Count is the number successfully scored.
type BatchDetectResponse struct {
	Results           []*pipeline.Result    `json:"results"`
	Failures          []domain.BatchFailure `json:"failures,omitempty"`
	Total             int                   `json:"total"`
	Count             int                   `json:"count"`
	AnomaliesDetected int                   `json:"anomaliesDetected"`
	AlertsCreated     int                   `json:"alertsCreated"`
}

func validateRequest(req *domain.TransactionRequest) string {
	if req.TransactionID == "" {
		return "transactionId is required"
	}
	if req.UserID == "" {
		return "userId is required"
	}
	if req.Amount <= 0 {
		return "amount must be positive"
	}
	return ""
}

// Detect handles POST /detect requests.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if msg := validateRequest(&req); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": msg,
		})
		return
	}

	result, err := h.detector.Detect(ctx, req.ToTransaction())
	if err != nil {
		slog.Error("detection failed", "transaction_id", req.TransactionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "detection failed",
		})
		return
	}

	resp := DetectResponse{
		Record: result.Record,
		Alert:  result.Alert,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// DetectBatch handles POST /detect/batch requests. The batch is scored
// as one unit so per-user aggregates see every transaction in it.
func (h *Handler) DetectBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqs []domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(reqs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "batch must contain at least one transaction",
		})
		return
	}

	txs := make([]*domain.Transaction, 0, len(reqs))
	var failures []domain.BatchFailure
	for i := range reqs {
		if msg := validateRequest(&reqs[i]); msg != "" {
			failures = append(failures, domain.BatchFailure{
				TransactionID: reqs[i].TransactionID,
				Error:         msg,
			})
			continue
		}
		txs = append(txs, reqs[i].ToTransaction())
	}

	results, scoreFailures := h.detector.DetectBatch(ctx, txs)
	failures = append(failures, scoreFailures...)

	resp := BatchDetectResponse{
		Results:  results,
		Failures: failures,
		Total:    len(reqs),
		Count:    len(results),
	}
	for _, res := range results {
		if res.Record.IsAnomaly {
			resp.AnomaliesDetected++
		}
		if res.Alert != nil {
			resp.AlertsCreated++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetScore handles GET /scores/{transactionId}.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "transactionId")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	rec, err := h.detector.GetScore(ctx, txID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "score not found",
			})
			return
		}
		slog.Error("failed to get score", "transaction_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get score",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListAlerts handles GET /alerts. Only open alerts are returned,
// ordered by priority.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	list, err := h.alerts.ListOpen(ctx, limit)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": list,
		"count":  len(list),
	})
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	alertID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alert id must be an integer",
		})
		return
	}

	alert, err := h.alerts.Get(ctx, alertID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
			return
		}
		slog.Error("failed to get alert", "alert_id", alertID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get alert",
		})
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// UpdateAlertRequest is the request body for PUT /alerts/{id}.
type UpdateAlertRequest struct {
	Status     string `json:"status"`
	Resolution string `json:"resolution,omitempty"`
	Notes      string `json:"investigationNotes,omitempty"`
}

// UpdateAlert handles PUT /alerts/{id} status transitions.
func (h *Handler) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	alertID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alert id must be an integer",
		})
		return
	}

	var req UpdateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "status is required",
		})
		return
	}

	alert, err := h.alerts.Update(ctx, alertID, req.Status, req.Resolution, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
		case errors.Is(err, domain.ErrInvalidTransition):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": err.Error(),
			})
		case errors.Is(err, domain.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		default:
			slog.Error("failed to update alert", "alert_id", alertID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to update alert",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// AlertStatistics handles GET /alerts/statistics.
func (h *Handler) AlertStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.alerts.Statistics(ctx)
	if err != nil {
		slog.Error("failed to get alert statistics", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get alert statistics",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"statistics": stats,
		"count":      len(stats),
	})
}

// ModelInfo handles GET /models/info, describing the loaded model set.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.detector.Registry().Info())
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check store health
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
