package model

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExitCodeNotStarted is the reserved exit code recorded when a command
// could not be started at all (missing shell, fork failure). Real exit
// codes are never negative, so the sentinel cannot collide.
const ExitCodeNotStarted = -1

// StepRun is the live execution state of one step within a run. It is
// owned by the PipelineRun that contains it and must only be mutated
// through the run's methods.
type StepRun struct {
	Name       string
	Status     StepStatus
	ExitCode   int
	Reason     string
	Stdout     *OutputBuffer
	Stderr     *OutputBuffer
	StartedAt  time.Time
	FinishedAt time.Time
}

// PipelineRun is the live execution state of one pipeline run. The
// executing worker owns it exclusively; concurrent readers (API, store)
// take consistent copies via Snapshot. All mutation goes through the
// transition methods, which enforce the status state machines.
type PipelineRun struct {
	ID              uuid.UUID
	Repo            string
	Pipeline        string
	PipelineVersion string
	Event           EventSummary

	mu         sync.RWMutex
	status     RunStatus
	steps      []*StepRun
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

// NewRun allocates a queued run for the definition with one pending
// StepRun per definition step, in definition order.
func NewRun(def *PipelineDefinition, ev RepositoryEvent) *PipelineRun {
	steps := make([]*StepRun, len(def.Steps))
	for i, s := range def.Steps {
		steps[i] = &StepRun{
			Name:   s.Name,
			Status: StepPending,
			Stdout: &OutputBuffer{},
			Stderr: &OutputBuffer{},
		}
	}
	return &PipelineRun{
		ID:              uuid.New(),
		Repo:            ev.Repository(),
		Pipeline:        def.Name,
		PipelineVersion: def.Version,
		Event:           Summarize(ev),
		status:          RunQueued,
		steps:           steps,
		createdAt:       time.Now().UTC(),
	}
}

// Status returns the run's current overall status.
func (r *PipelineRun) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Transition moves the run to the given status, stamping StartedAt on
// entry to Running and FinishedAt on entry to any terminal status. An
// illegal transition is a programmer error and panics.
func (r *PipelineRun) Transition(to RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.status.CanTransition(to) {
		panic(fmt.Sprintf("model: illegal run transition %s -> %s (run %s)", r.status, to, r.ID))
	}
	r.status = to
	now := time.Now().UTC()
	if to == RunRunning {
		r.startedAt = now
	}
	if to.Terminal() {
		r.finishedAt = now
	}
}

// StepCount returns the number of steps in the run.
func (r *PipelineRun) StepCount() int {
	return len(r.steps)
}

// StepStatus returns the current status of step i.
func (r *PipelineRun) StepStatus(i int) StepStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.steps[i].Status
}

// StepOutput returns the incremental output buffers for step i. The
// buffers are individually thread-safe, so commands may write while
// readers snapshot.
func (r *PipelineRun) StepOutput(i int) (stdout, stderr *OutputBuffer) {
	return r.steps[i].Stdout, r.steps[i].Stderr
}

// StartStep moves step i from Pending to Running.
func (r *PipelineRun) StartStep(i int) {
	r.transitionStep(i, StepRunning, 0, "")
}

// FinishStep moves a running step i to a terminal status, recording the
// exit code and an optional reason (e.g. a timeout).
func (r *PipelineRun) FinishStep(i int, to StepStatus, exitCode int, reason string) {
	r.transitionStep(i, to, exitCode, reason)
}

// SkipStep moves a pending step i directly to Skipped or Cancelled.
func (r *PipelineRun) SkipStep(i int, to StepStatus) {
	r.transitionStep(i, to, 0, "")
}

func (r *PipelineRun) transitionStep(i int, to StepStatus, exitCode int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	step := r.steps[i]
	if !step.Status.CanTransition(to) {
		panic(fmt.Sprintf("model: illegal step transition %s -> %s (run %s step %q)", step.Status, to, r.ID, step.Name))
	}
	step.Status = to
	now := time.Now().UTC()
	switch {
	case to == StepRunning:
		step.StartedAt = now
	case to.Terminal():
		step.FinishedAt = now
		step.ExitCode = exitCode
		step.Reason = reason
	}
}

// Snapshot returns an immutable record of the run's current state,
// including output captured so far.
func (r *PipelineRun) Snapshot() RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := make([]StepRecord, len(r.steps))
	for i, s := range r.steps {
		steps[i] = StepRecord{
			Name:       s.Name,
			Status:     s.Status,
			ExitCode:   s.ExitCode,
			Reason:     s.Reason,
			Stdout:     s.Stdout.String(),
			Stderr:     s.Stderr.String(),
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
		}
	}
	return RunRecord{
		ID:              r.ID,
		Repo:            r.Repo,
		Pipeline:        r.Pipeline,
		PipelineVersion: r.PipelineVersion,
		Event:           r.Event,
		Status:          r.status,
		Steps:           steps,
		CreatedAt:       r.createdAt,
		StartedAt:       r.startedAt,
		FinishedAt:      r.finishedAt,
	}
}

// RunRecord is the immutable, serializable form of a run, published to
// subscribers and persisted as history.
type RunRecord struct {
	ID              uuid.UUID    `json:"id"`
	Repo            string       `json:"repo"`
	Pipeline        string       `json:"pipeline"`
	PipelineVersion string       `json:"pipeline_version"`
	Event           EventSummary `json:"event"`
	Status          RunStatus    `json:"status"`
	Steps           []StepRecord `json:"steps"`
	CreatedAt       time.Time    `json:"created_at"`
	StartedAt       time.Time    `json:"started_at,omitzero"`
	FinishedAt      time.Time    `json:"finished_at,omitzero"`
}

// StepRecord is the immutable, serializable form of a step run.
type StepRecord struct {
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	ExitCode   int        `json:"exit_code"`
	Reason     string     `json:"reason,omitempty"`
	Stdout     string     `json:"stdout,omitempty"`
	Stderr     string     `json:"stderr,omitempty"`
	StartedAt  time.Time  `json:"started_at,omitzero"`
	FinishedAt time.Time  `json:"finished_at,omitzero"`
}
