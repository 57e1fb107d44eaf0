// Package api exposes the ground-station control surface over HTTP: the
// command endpoint, telemetry snapshots, vision-tag ingest, recording
// sessions and a live telemetry chart.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/satbench/attitude.station/internal/adcs"
	"github.com/satbench/attitude.station/internal/db"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Station is the slice of the supervisor the HTTP layer drives.
type Station interface {
	HandleCommand(ctx context.Context, cmd adcs.Command) adcs.Result
	Snapshot() adcs.Snapshot
	FeedVisionAngle(angle *float64)
}

type Server struct {
	station Station
	store   *db.Store // nil disables the recording endpoints
	logger  *log.Logger

	rec recorderSlot
}

func NewServer(station Station, store *db.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{station: station, store: store, logger: logger}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/adcs/command", s.handleCommand)
	mux.HandleFunc("/api/adcs/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/adcs/vision", s.handleVision)
	mux.HandleFunc("/api/adcs/chart", s.handleChart)
	mux.HandleFunc("/api/record/start", s.handleRecordStart)
	mux.HandleFunc("/api/record/stop", s.handleRecordStop)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/samples", s.handleSamples)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status and duration for each request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("api: failed to write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, adcs.Result{Status: adcs.StatusError, Message: msg})
}

// commandRequest is the wire form the control panel posts. Value stays raw
// until the verb decides whether it is a number or a gains object.
type commandRequest struct {
	Mode    string          `json:"mode"`
	Command string          `json:"command"`
	Value   json.RawMessage `json:"value,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid command body: "+err.Error())
		return
	}
	cmd, err := adcs.ParseCommand(req.Mode, req.Command, req.Value)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := s.station.HandleCommand(r.Context(), cmd)
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, res)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.station.Snapshot())
}

// visionRequest carries one tag observation. A null or absent angle reports
// a frame with no detection.
type visionRequest struct {
	Angle *float64 `json:"angle"`
}

func (s *Server) handleVision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req visionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid vision body: "+err.Error())
		return
	}
	s.station.FeedVisionAngle(req.Angle)
	s.writeJSON(w, http.StatusOK, adcs.Result{Status: adcs.StatusSuccess, Message: "observation accepted"})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	sessions, err := s.store.ListSessions()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing 'session' parameter")
		return
	}
	samples, err := s.store.Samples(sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if samples == nil {
		samples = []db.Sample{}
	}
	s.writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.station.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"sensor": snap.Status,
		"mode":   snap.Mode,
	})
}
