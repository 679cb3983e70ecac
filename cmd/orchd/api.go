package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	flow "github.com/Andrej220/go-utils/flow"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxSpecBytes bounds the accepted pipeline definition size.
const maxSpecBytes = 1 << 20

type server struct {
	orch *flow.Orchestrator
}

func newServer(orch *flow.Orchestrator) *server {
	return &server{orch: orch}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/pipelines", s.handleSubmit)
	r.Get("/pipelines/{id}", s.handleStatus)
	r.Post("/pipelines/{id}/cancel", s.handleCancel)
	r.Get("/pipelines/{id}/wait", s.handleWait)
	r.Get("/healthz", s.handleHealthz)
	return r
}

// handleSubmit accepts a YAML pipeline definition, binds declared
// commands to executors and admits the pipeline.
func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxSpecBytes))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	spec, err := flow.ParseSpec(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := bindExecutors(spec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.orch.Submit(spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "canceling"})
}

// handleWait blocks until the pipeline settles or the client goes away.
func (s *server) handleWait(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.Await(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, flow.ErrInvalidArgument), errors.Is(err, flow.ErrCyclicDependency):
		code = http.StatusBadRequest
	case errors.Is(err, flow.ErrUnknownPipeline):
		code = http.StatusNotFound
	case errors.Is(err, flow.ErrClosed):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusRequestTimeout
	}
	http.Error(w, err.Error(), code)
}
