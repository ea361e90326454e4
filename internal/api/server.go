package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/SeraKah-1/neuronotespro/internal/store"
)

// maxRequestBody is the maximum allowed request body size (1 MB).
const maxRequestBody int64 = 1 << 20

// Server holds the HTTP handlers and dependencies.
type Server struct {
	engine     Engine
	artifacts  store.ArtifactStore
	corsOrigin string
	mux        *http.ServeMux
}

// New creates a new API server. corsOrigin may be empty; it defaults to "*".
func New(e Engine, artifacts store.ArtifactStore, corsOrigin string) *Server {
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	srv := &Server{engine: e, artifacts: artifacts, corsOrigin: corsOrigin, mux: http.NewServeMux()}
	srv.routes()
	return srv
}

// Handler returns the root http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(limitBody(jsonContent(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("PUT /api/queue", s.handleSetQueue)
	s.mux.HandleFunc("POST /api/queue/topics", s.handleAppendTopics)
	s.mux.HandleFunc("PUT /api/items/{id}/outline", s.handleUpdateOutline)
	s.mux.HandleFunc("POST /api/run/start", s.handleStart)
	s.mux.HandleFunc("POST /api/run/stop", s.handleStop)
	s.mux.HandleFunc("POST /api/run/reset-circuit", s.handleResetCircuit)
	s.mux.HandleFunc("GET /api/artifacts", s.handleListArtifacts)
	s.mux.HandleFunc("GET /api/artifacts/{id}", s.handleGetArtifact)
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// corsMiddleware sets CORS headers for the configured origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody restricts the request body to maxRequestBody bytes.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		next.ServeHTTP(w, r)
	})
}

func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
