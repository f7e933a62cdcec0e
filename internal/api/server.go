// Package api exposes the Job Orchestrator over HTTP (spec.md §6 "Job HTTP
// surface"), adapted from the teacher's internal/api/server.go — same
// net/http 1.22+ method+path ServeMux routing and jsonResponse helper,
// generalized from ad hoc crawl-control/job endpoints to the fixed
// start/status/cancel/download surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/scrapeforge/harvester/internal/types"
)

// JobController is the subset of *orchestrator.Orchestrator the API depends
// on, declared locally so tests can stub it.
type JobController interface {
	StartJob(ctx context.Context, mode string, input types.JobInput) (string, error)
	GetStatus(ctx context.Context, id string) (*types.Job, error)
	CancelJob(ctx context.Context, id string) (types.JobState, error)
	GetResult(ctx context.Context, id, format string) ([]byte, string, error)
}

// Server serves the Job HTTP surface.
type Server struct {
	mux    *http.ServeMux
	port   int
	logger *slog.Logger
	jobs   JobController
}

// NewServer builds a Server bound to jobs. Routes are registered
// immediately so Handler() is usable in tests without calling Start.
func NewServer(port int, jobs JobController, logger *slog.Logger) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		port:   port,
		logger: logger.With("component", "api_server"),
		jobs:   jobs,
	}
	s.registerRoutes()
	return s
}

// Handler returns the server's http.Handler, for use with httptest or a
// caller-owned http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

// Start runs the server in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	go func() {
		if err := http.ListenAndServe(addr, s.mux); err != nil {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("POST /scrape/start", s.handleStart)
	s.mux.HandleFunc("GET /scrape/status/{id}", s.handleStatus)
	s.mux.HandleFunc("POST /scrape/cancel/{id}", s.handleCancel)
	s.mux.HandleFunc("GET /scrape/download/{id}", s.handleDownload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRequest struct {
	Mode  string   `json:"mode"`
	Input []string `json:"input"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, errorBody("invalid JSON body", err.Error()))
		return
	}

	id, err := s.jobs.StartJob(r.Context(), body.Mode, types.JobInput{Mode: body.Mode, URLs: body.Input})
	if err != nil {
		if errors.Is(err, types.ErrValidation) || errors.Is(err, types.ErrEmptyInput) {
			s.jsonResponse(w, http.StatusBadRequest, errorBody("validation failed", err.Error()))
			return
		}
		s.jsonResponse(w, http.StatusInternalServerError, errorBody("start failed", err.Error()))
		return
	}
	s.jsonResponse(w, http.StatusCreated, map[string]string{"jobId": id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.jobs.GetStatus(r.Context(), id)
	if err != nil {
		s.jsonResponse(w, http.StatusNotFound, errorBody("job not found", err.Error()))
		return
	}

	resp := map[string]any{
		"id":        job.ID,
		"status":    job.State,
		"progress":  job.Progress,
		"startedAt": job.StartedAt,
	}
	if job.EndedAt != nil {
		resp["endedAt"] = job.EndedAt
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := s.jobs.CancelJob(r.Context(), id)
	if err != nil {
		s.jsonResponse(w, http.StatusNotFound, errorBody("job not found", err.Error()))
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"jobId": id, "state": string(state)})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	body, contentType, err := s.jobs.GetResult(r.Context(), id, format)
	if err != nil {
		if errors.Is(err, types.ErrJobNotFound) {
			s.jsonResponse(w, http.StatusNotFound, errorBody("job not found", err.Error()))
			return
		}
		s.jsonResponse(w, http.StatusBadRequest, errorBody("result not available", err.Error()))
		return
	}

	ext := "json"
	if format == "csv" {
		ext = "csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, id, ext))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func errorBody(msg string, details ...string) map[string]any {
	return map[string]any{"error": msg, "details": details, "at": time.Now().UTC()}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encode response failed", "error", err)
	}
}
