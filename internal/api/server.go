package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"lingolink/pkg/interfaces"
	"lingolink/pkg/types"
)

// Server exposes the read-only HTTP surface next to the WebSocket
// endpoint: health, classroom introspection, and the student join-link
// redirect. It never mutates classroom state.
type Server struct {
	classrooms  interfaces.ClassroomManager
	store       interfaces.TranscriptStore
	stats       func() map[string]int
	joinBaseURL string

	startedAt time.Time
	logger    *zap.Logger
}

func NewServer(classrooms interfaces.ClassroomManager, store interfaces.TranscriptStore, stats func() map[string]int, joinBaseURL string, logger *zap.Logger) *Server {
	return &Server{
		classrooms:  classrooms,
		store:       store,
		stats:       stats,
		joinBaseURL: joinBaseURL,
		startedAt:   time.Now(),
		logger:      logger,
	}
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.withCommon(s.handleHealth))
	mux.HandleFunc("GET /api/classrooms", s.withCommon(s.handleListClassrooms))
	mux.HandleFunc("GET /api/classrooms/{code}", s.withCommon(s.handleGetClassroom))
	mux.HandleFunc("GET /join", s.handleJoin)
}

// withCommon applies CORS headers and request logging to JSON endpoints.
func (s *Server) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")

		start := time.Now()
		next(w, r)
		s.logger.Debug("api request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	}
}

type healthResponse struct {
	Status      string         `json:"status"`
	Uptime      string         `json:"uptime"`
	Classrooms  int            `json:"classrooms"`
	Connections map[string]int `json:"connections,omitempty"`
	Storage     string         `json:"storage"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
		Classrooms: len(s.classrooms.List()),
		Storage:    "ok",
	}
	if s.stats != nil {
		resp.Connections = s.stats()
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.HealthCheck(ctx); err != nil {
			resp.Status = "degraded"
			resp.Storage = err.Error()
		}
	} else {
		resp.Storage = "disabled"
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) handleListClassrooms(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"classrooms": s.classrooms.List(),
	})
}

func (s *Server) handleGetClassroom(w http.ResponseWriter, r *http.Request) {
	code := types.NormalizeClassroomCode(r.PathValue("code"))
	if !types.IsValidClassroomCode(code) {
		s.writeError(w, http.StatusBadRequest, "invalid classroom code")
		return
	}
	snapshot, ok := s.classrooms.Snapshot(code)
	if !ok {
		s.writeError(w, http.StatusNotFound, "classroom not found")
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

// handleJoin redirects a student join link to the web client with the
// code carried through, after checking it points at a live classroom.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if s.joinBaseURL == "" {
		http.NotFound(w, r)
		return
	}

	code := types.NormalizeClassroomCode(r.URL.Query().Get("code"))
	if !types.IsValidClassroomCode(code) {
		http.Error(w, "invalid classroom code", http.StatusBadRequest)
		return
	}
	switch s.classrooms.Validate(code) {
	case interfaces.ClassroomActive, interfaces.ClassroomInactive:
	default:
		http.Error(w, "classroom not found or expired", http.StatusNotFound)
		return
	}

	target := s.joinBaseURL + "?code=" + url.QueryEscape(code)
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
