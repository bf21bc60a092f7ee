package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thtskaran/effenAi/internal/config"
	"github.com/thtskaran/effenAi/internal/metrics"
	"github.com/thtskaran/effenAi/internal/pipeline"
	"github.com/thtskaran/effenAi/internal/recording"
	"github.com/thtskaran/effenAi/internal/store"
)

const (
	serviceName    = "effenai"
	serviceVersion = "1.0.0"
)

// HTTPServer provides the ingestion and monitoring HTTP API
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	buffer   *recording.Buffer
	pipeline *pipeline.Pipeline
	store    *store.Store
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP API server with all routes configured
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, buffer *recording.Buffer,
	pl *pipeline.Pipeline, st *store.Store, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		buffer:    buffer,
		pipeline:  pl,
		store:     st,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:     mux,
		ReadTimeout: cfg.HTTP.GetReadTimeoutDuration(),
		// The end-signal handler runs the whole pipeline synchronously,
		// so the write timeout has to cover transcription plus two model
		// calls plus the commit.
		WriteTimeout: cfg.HTTP.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Ingestion endpoints
	mux.HandleFunc("/audio/stream", h.withMetrics("/audio/stream", h.handleAudioStream))
	mux.HandleFunc("/audio/stream/end", h.withMetrics("/audio/stream/end", h.handleAudioStreamEnd))

	// Recording status
	mux.HandleFunc("/recordings/", h.withMetrics("/recordings/{id}/status", h.handleRecordingStatus))

	// Plan read side: completion confirmation lives here, not in the buffer
	mux.HandleFunc("/plans", h.withMetrics("/plans", h.handlePlans))

	// Browsing activity log
	mux.HandleFunc("/activity/log", h.withMetrics("/activity/log", h.handleActivityLog))

	// Monitoring
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

type chunkRequest struct {
	UserID      string `json:"userId"`
	RecordingID string `json:"recordingId"`
	Chunk       string `json:"chunk"`
}

type endRequest struct {
	UserID      string `json:"userId"`
	RecordingID string `json:"recordingId"`
	Reason      string `json:"reason"`
}

type activityRequest struct {
	UserID   string          `json:"userId"`
	Date     string          `json:"date"`
	Activity json.RawMessage `json:"activity"`
}

// handleAudioStream implements POST /audio/stream: one base64 audio chunk,
// appended to the recording in arrival order.
func (h *HTTPServer) handleAudioStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req chunkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, int64(h.config.HTTP.MaxChunkBytes))).Decode(&req); err != nil {
		h.metrics.RecordChunkError()
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UserID == "" || req.RecordingID == "" || req.Chunk == "" {
		h.metrics.RecordChunkError()
		writeError(w, http.StatusBadRequest, "Missing data")
		return
	}

	audioChunk, err := base64.StdEncoding.DecodeString(req.Chunk)
	if err != nil {
		h.metrics.RecordChunkError()
		h.logger.Warn("Invalid base64 chunk",
			slog.String("recording_id", req.RecordingID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "Invalid base64 data")
		return
	}

	created, err := h.buffer.AppendChunk(req.RecordingID, req.UserID, audioChunk)
	if err != nil {
		h.metrics.RecordChunkError()
		if errors.Is(err, recording.ErrAlreadyProcessing) {
			writeError(w, http.StatusConflict, "Recording is already being processed")
			return
		}
		h.logger.Error("Failed to append audio chunk",
			slog.String("recording_id", req.RecordingID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "Failed to save audio chunk")
		return
	}

	if created {
		h.metrics.RecordRecordingStarted()
		h.metrics.SetActiveRecordings(h.buffer.ActiveCount())
	}
	h.metrics.RecordChunk(len(audioChunk))

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleAudioStreamEnd implements POST /audio/stream/end: triggers the
// full ingestion pipeline synchronously and reports the outcome.
func (h *HTTPServer) handleAudioStreamEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req endRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UserID == "" || req.RecordingID == "" {
		writeError(w, http.StatusBadRequest, "Missing data")
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "Unknown"
	}

	h.logger.Info("Received end signal",
		slog.String("recording_id", req.RecordingID),
		slog.String("user_id", req.UserID),
		slog.String("reason", reason),
	)

	// Once the end signal is accepted the pipeline runs to completion; a
	// client disconnect must not abort transcription or the commit halfway
	// and leave the audio deleted with no plan saved.
	if err := h.pipeline.EndRecording(context.WithoutCancel(r.Context()), req.RecordingID, req.UserID); err != nil {
		category := pipeline.Category(err)
		writeError(w, statusForCategory(category), messageForCategory(category))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Recording processed and plan saved.",
	})
}

// handleRecordingStatus implements GET /recordings/{id}/status. A completed
// recording is indistinguishable from one that never existed; consumers
// confirm completion through the plans endpoint.
func (h *HTTPServer) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/recordings/")
	id, ok := strings.CutSuffix(rest, "/status")
	if !ok || id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "Recording ID required")
		return
	}

	status, known := h.buffer.StatusOf(id)
	statusStr := "not_found_or_completed"
	if known {
		statusStr = string(status)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recording_id": id,
		"status":       statusStr,
	})
}

// handlePlans implements GET /plans?email=: all committed plans for an
// employee with their actions in generation order.
func (h *HTTPServer) handlePlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "email query parameter required")
		return
	}

	employee, err := h.store.EmployeeByEmail(r.Context(), email)
	if err != nil {
		h.logger.Error("Employee lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if employee == nil {
		writeError(w, http.StatusNotFound, "Employee not found")
		return
	}

	plans, err := h.store.PlansForEmployee(r.Context(), employee.ID)
	if err != nil {
		h.logger.Error("Plan query failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	type planResponse struct {
		Plan    store.ActionPlan `json:"plan"`
		Actions []store.Action   `json:"actions"`
	}

	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		actions, err := h.store.ActionsForPlan(r.Context(), p.ID)
		if err != nil {
			h.logger.Error("Action query failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Database error")
			return
		}
		out = append(out, planResponse{Plan: p, Actions: actions})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"email":   email,
		"plans":   out,
	})
}

// handleActivityLog implements POST /activity/log: replaces the employee's
// stored browsing activity with the submitted JSON array.
func (h *HTTPServer) handleActivityLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UserID == "" || req.Date == "" || len(req.Activity) == 0 {
		writeError(w, http.StatusBadRequest, "Missing data")
		return
	}

	var activity []interface{}
	if err := json.Unmarshal(req.Activity, &activity); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid activity data format")
		return
	}

	employee, err := h.store.EmployeeByEmail(r.Context(), req.UserID)
	if err != nil {
		h.logger.Error("Employee lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if employee == nil {
		writeError(w, http.StatusNotFound, "Employee not found")
		return
	}

	if err := h.store.UpdateBrowserActivity(r.Context(), employee.ID, string(req.Activity)); err != nil {
		h.logger.Error("Activity update failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Database error saving activity log")
		return
	}

	h.logger.Info("Updated activity log",
		slog.String("user_id", req.UserID),
		slog.String("date", req.Date),
	)

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	uptime := time.Since(h.startTime)

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"recording_buffer": map[string]interface{}{
				"status":            "running",
				"active_recordings": h.buffer.ActiveCount(),
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"recordings": map[string]interface{}{
			"active_count": h.buffer.ActiveCount(),
			"sessions":     h.buffer.Snapshot(),
		},
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Meeting Assistant Backend",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                       "API documentation",
			"POST /audio/stream":          "Upload one base64 audio chunk",
			"POST /audio/stream/end":      "End a recording and process it",
			"GET /recordings/{id}/status": "Recording session status",
			"GET /plans?email={email}":    "Committed plans for an employee",
			"POST /activity/log":          "Submit browsing activity log",
			"GET /health":                 "Service health check",
			"GET /stats":                  "Service statistics",
			"GET /metrics":                "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

// statusForCategory maps a pipeline failure category to an HTTP status
func statusForCategory(category string) int {
	switch category {
	case "not_found", "user_not_found":
		return http.StatusNotFound
	case "state_conflict":
		return http.StatusConflict
	case "empty_audio", "file_missing":
		return http.StatusBadRequest
	case "plan_parse_failure", "transport_failure":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// messageForCategory returns the stable user-visible message for a
// pipeline failure category. Internal error detail never leaves the logs.
func messageForCategory(category string) string {
	switch category {
	case "not_found":
		return "Recording ID not found or already processed"
	case "state_conflict":
		return "Recording is in an inconsistent or busy state"
	case "user_not_found":
		return "Associated employee not found"
	case "empty_audio":
		return "Recording contains no audio"
	case "file_missing":
		return "Recording audio is no longer available"
	case "plan_parse_failure":
		return "Failed to parse AI response"
	case "transport_failure":
		return "AI service unavailable or encountered an error"
	case "persistence_failure":
		return "Database error while saving action plan"
	default:
		return "Internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
