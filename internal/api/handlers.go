package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pipewatch/pipewatch/internal/ctxlog"
	"github.com/pipewatch/pipewatch/internal/model"
	"github.com/pipewatch/pipewatch/internal/pipefile"
	"github.com/pipewatch/pipewatch/internal/scheduler"
	"github.com/pipewatch/pipewatch/internal/store"
	"github.com/pipewatch/pipewatch/internal/trigger"
	"github.com/pipewatch/pipewatch/internal/webhook"
)

// maxPipefileSize bounds registration bodies; Pipefiles are hand
// written and never legitimately this large.
const maxPipefileSize = 1 << 20

type registrationResponse struct {
	Repo      string    `json:"repo"`
	Pipeline  string    `json:"pipeline"`
	Version   string    `json:"version"`
	Steps     int       `json:"steps"`
	UpdatedAt time.Time `json:"updated_at"`
}

type parseErrorResponse struct {
	Error  string `json:"error"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

type triggerResponse struct {
	Triggered []uuid.UUID `json:"triggered"`
}

type stepLogs struct {
	Name   string           `json:"name"`
	Status model.StepStatus `json:"status"`
	Stdout string           `json:"stdout"`
	Stderr string           `json:"stderr"`
}

type runLogsResponse struct {
	RunID uuid.UUID  `json:"run_id"`
	Steps []stepLogs `json:"steps"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRegister binds a Pipefile to the repository, replacing any
// prior binding. The body is the raw Pipefile text.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	repo := repoParam(r)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPipefileSize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}

	def, err := pipefile.Parse(string(body))
	if err != nil {
		var parseErr *pipefile.ParseError
		if errors.As(err, &parseErr) {
			respondJSON(w, http.StatusUnprocessableEntity, parseErrorResponse{
				Error:  parseErr.Msg,
				Line:   parseErr.Line,
				Column: parseErr.Column,
			})
			return
		}
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	reg := store.Registration{
		Repo:       repo,
		Pipefile:   string(body),
		Definition: def,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.store.SaveRegistration(r.Context(), reg); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ctxlog.FromContext(r.Context()).Info("Repository registered.", "repo", repo, "pipeline", def.Name)
	respondJSON(w, http.StatusOK, registrationFor(reg))
}

func (s *Server) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	reg, err := s.store.Registration(r.Context(), repoParam(r))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "repository is not registered")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, registrationFor(reg))
}

func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	regs, err := s.store.Registrations(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]registrationResponse, len(regs))
	for i, reg := range regs {
		out[i] = registrationFor(reg)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	repo := repoParam(r)
	err := s.store.DeleteRegistration(r.Context(), repo)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "repository is not registered")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ctxlog.FromContext(r.Context()).Info("Repository unregistered.", "repo", repo)
	w.WriteHeader(http.StatusNoContent)
}

// handleWebhook ingests a GitHub delivery, matches it against the
// repository's registered pipeline and submits a run when a trigger
// fires. Deliveries that fire nothing are acknowledged with 204.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPipefileSize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}

	ev, err := webhook.Normalize(r.Header.Get("X-GitHub-Event"), payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ev == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	reg, err := s.store.Registration(r.Context(), ev.Repository())
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !trigger.Matches(reg.Definition, ev) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	run, err := s.runs.Submit(reg.Definition, ev)
	if errors.Is(err, scheduler.ErrQueueFull) || errors.Is(err, scheduler.ErrClosed) {
		// Ask the host to retry the delivery.
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ctxlog.FromContext(r.Context()).Info("Run triggered by webhook.",
		"repo", ev.Repository(), "event", ev.Kind().String(), "run", run.ID)
	respondJSON(w, http.StatusAccepted, triggerResponse{Triggered: []uuid.UUID{run.ID}})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runIDParam(w, r)
	if !ok {
		return
	}
	rec, err := s.runs.Status(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "unknown run")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleRunLogs serves the output captured so far, which for a running
// pipeline grows between calls.
func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := runIDParam(w, r)
	if !ok {
		return
	}
	rec, err := s.runs.Status(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "unknown run")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := runLogsResponse{RunID: rec.ID, Steps: make([]stepLogs, len(rec.Steps))}
	for i, step := range rec.Steps {
		out.Steps[i] = stepLogs{Name: step.Name, Status: step.Status, Stdout: step.Stdout, Stderr: step.Stderr}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runIDParam(w, r)
	if !ok {
		return
	}
	err := s.runs.Cancel(id)
	if errors.Is(err, scheduler.ErrUnknownRun) {
		// Either never existed or already finished; the distinction
		// matters to the caller.
		if _, histErr := s.runs.Status(r.Context(), id); histErr == nil {
			respondError(w, http.StatusConflict, "run already finished")
			return
		}
		respondError(w, http.StatusNotFound, "unknown run")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRepoRuns(w http.ResponseWriter, r *http.Request) {
	s.listRuns(w, r, repoParam(r))
}

// handleListRuns lists runs across every repository.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.listRuns(w, r, "")
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request, repo string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := s.runs.History(r.Context(), repo, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []model.RunRecord{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func repoParam(r *http.Request) string {
	return chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")
}

func runIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed run id")
		return uuid.Nil, false
	}
	return id, true
}

func registrationFor(reg store.Registration) registrationResponse {
	return registrationResponse{
		Repo:      reg.Repo,
		Pipeline:  reg.Definition.Name,
		Version:   reg.Definition.Version,
		Steps:     len(reg.Definition.Steps),
		UpdatedAt: reg.UpdatedAt,
	}
}
