package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/pipewatch/pipewatch/internal/ctxlog"
	"github.com/pipewatch/pipewatch/internal/model"
	"github.com/pipewatch/pipewatch/internal/store"
)

// RunService is the slice of the scheduler the API depends on.
// Satisfied by *scheduler.Scheduler.
type RunService interface {
	Submit(def *model.PipelineDefinition, ev model.RepositoryEvent) (*model.PipelineRun, error)
	Cancel(id uuid.UUID) error
	Status(ctx context.Context, id uuid.UUID) (model.RunRecord, error)
	History(ctx context.Context, repo string, limit int) ([]model.RunRecord, error)
}

// Server carries the handler dependencies.
type Server struct {
	runs  RunService
	store store.Store
}

func NewServer(runs RunService, st store.Store) *Server {
	if runs == nil || st == nil {
		panic("api: run service and store are required")
	}
	return &Server{runs: runs, store: st}
}

// Router builds the chi router with the standard middleware chain.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhook/github", s.handleWebhook)

		r.Route("/repos", func(r chi.Router) {
			r.Get("/", s.handleListRepos)
			r.Route("/{owner}/{name}", func(r chi.Router) {
				r.Put("/", s.handleRegister)
				r.Get("/", s.handleGetRepo)
				r.Delete("/", s.handleUnregister)
				r.Get("/runs", s.handleRepoRuns)
			})
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/logs", s.handleRunLogs)
				r.Post("/cancel", s.handleCancelRun)
			})
		})
	})
	return r
}

// requestLogger logs one line per request through the context logger,
// after the response is written.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		ctxlog.FromContext(r.Context()).Info("Request handled.",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
