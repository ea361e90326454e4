package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/SeraKah-1/neuronotespro/internal/engine"
	"github.com/SeraKah-1/neuronotespro/internal/model"
	"github.com/SeraKah-1/neuronotespro/internal/store"
)

// Engine is the slice of the pipeline engine the HTTP layer drives.
type Engine interface {
	State() engine.Snapshot
	Subscribe(fn func(engine.Snapshot)) (unsubscribe func())
	SetQueue(items []model.Item) error
	AppendTopics(topics []string) []model.Item
	UpdateOutline(id, outline string) error
	Start(cfg model.RunConfig) error
	Stop()
	ResetCircuit()
}

// ---------------------------------------------------------------------------
// GET /api/state
// ---------------------------------------------------------------------------

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State())
}

// ---------------------------------------------------------------------------
// GET /api/events
// ---------------------------------------------------------------------------

// handleEvents streams engine snapshots as server-sent events. The first
// event is the current state; subsequent events follow every mutation.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Buffered so a slow client never blocks the engine; if the buffer
	// fills we drop intermediate snapshots and the client catches up on
	// the next one.
	events := make(chan engine.Snapshot, 16)
	unsubscribe := s.engine.Subscribe(func(snap engine.Snapshot) {
		select {
		case events <- snap:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-events:
			data, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// ---------------------------------------------------------------------------
// PUT /api/queue
// ---------------------------------------------------------------------------

type setQueueRequest struct {
	Items []model.Item `json:"items"`
}

func (s *Server) handleSetQueue(w http.ResponseWriter, r *http.Request) {
	var req setQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.engine.SetQueue(req.Items); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.State())
}

// ---------------------------------------------------------------------------
// POST /api/queue/topics
// ---------------------------------------------------------------------------

type appendTopicsRequest struct {
	Topics []string `json:"topics"`
}

func (s *Server) handleAppendTopics(w http.ResponseWriter, r *http.Request) {
	var req appendTopicsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Topics) == 0 {
		writeError(w, http.StatusBadRequest, "topics is required")
		return
	}

	added := s.engine.AppendTopics(req.Topics)
	writeJSON(w, http.StatusCreated, added)
}

// ---------------------------------------------------------------------------
// PUT /api/items/{id}/outline
// ---------------------------------------------------------------------------

type outlineRequest struct {
	Outline string `json:"outline"`
}

func (s *Server) handleUpdateOutline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req outlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.engine.UpdateOutline(id, req.Outline)
	switch {
	case errors.Is(err, engine.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "item not found")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.State())
}

// ---------------------------------------------------------------------------
// POST /api/run/start
// ---------------------------------------------------------------------------

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	// An empty body starts a run with the default configuration.
	var cfg model.RunConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.engine.Start(cfg)
	switch {
	case errors.Is(err, engine.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	case errors.Is(err, engine.ErrCircuitOpen):
		writeError(w, http.StatusConflict, "circuit breaker is open, reset required")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.State())
}

// ---------------------------------------------------------------------------
// POST /api/run/stop
// ---------------------------------------------------------------------------

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusOK, s.engine.State())
}

// ---------------------------------------------------------------------------
// POST /api/run/reset-circuit
// ---------------------------------------------------------------------------

func (s *Server) handleResetCircuit(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetCircuit()
	writeJSON(w, http.StatusOK, s.engine.State())
}

// ---------------------------------------------------------------------------
// GET /api/artifacts
// ---------------------------------------------------------------------------

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	filter := model.ArtifactFilter{
		Kind:  splitComma(r.URL.Query().Get("kind")),
		Query: r.URL.Query().Get("q"),
	}

	artifacts, err := s.artifacts.ListArtifacts(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list artifacts")
		return
	}
	if artifacts == nil {
		artifacts = []model.Artifact{}
	}
	writeJSON(w, http.StatusOK, artifacts)
}

// ---------------------------------------------------------------------------
// GET /api/artifacts/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	artifact, err := s.artifacts.GetArtifact(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get artifact")
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}
