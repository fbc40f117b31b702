package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/pipewatch/pipewatch/internal/ctxlog"
	"github.com/pipewatch/pipewatch/internal/model"
	"github.com/pipewatch/pipewatch/internal/store"
)

var (
	// ErrQueueFull rejects a submission when the pending queue is at
	// capacity. The run was not created and leaves no trace.
	ErrQueueFull = errors.New("scheduler: run queue is full")
	// ErrUnknownRun is returned by Cancel for a run id that is neither
	// in flight nor in history.
	ErrUnknownRun = errors.New("scheduler: unknown run")
	// ErrClosed rejects submissions after shutdown has begun.
	ErrClosed = errors.New("scheduler: shutting down")
)

// Executor runs an admitted pipeline run to completion. Satisfied by
// *engine.Engine.
type Executor interface {
	Execute(ctx context.Context, def *model.PipelineDefinition, run *model.PipelineRun)
}

// Notifier receives the snapshots the scheduler itself produces: the
// Queued snapshot on admission and the Cancelled snapshot for runs
// cancelled before starting. It is called synchronously and must not
// call back into the Scheduler. Transitions during execution are
// published by the executor, not the scheduler.
type Notifier interface {
	RunUpdated(rec model.RunRecord)
}

type nopNotifier struct{}

func (nopNotifier) RunUpdated(model.RunRecord) {}

// Options configures a Scheduler. Executor and Store are required.
type Options struct {
	Executor Executor
	Store    store.Store
	Notifier Notifier

	// Workers is the number of runs executing concurrently. Defaults
	// to 4.
	Workers int
	// QueueSize bounds the pending queue. Defaults to 64.
	QueueSize int
	// PerRepoLimit caps concurrently executing runs per repository.
	// Zero means no limit.
	PerRepoLimit int
}

const (
	jobQueued = iota
	jobRunning
	jobDone
)

type job struct {
	def    *model.PipelineDefinition
	run    *model.PipelineRun
	ctx    context.Context
	cancel context.CancelFunc
	state  int
}

// Scheduler owns the pending queue, the in-flight table and the worker
// pool. All fields below mu are guarded by it.
type Scheduler struct {
	exec         Executor
	store        store.Store
	notifier     Notifier
	workers      int
	queueSize    int
	perRepoLimit int

	baseCtx context.Context
	wg      sync.WaitGroup

	mu          sync.Mutex
	cond        *sync.Cond
	pending     []*job
	jobs        map[uuid.UUID]*job
	runningRepo map[string]int
	started     bool
	closed      bool
}

func New(opts Options) *Scheduler {
	if opts.Executor == nil {
		panic("scheduler: Executor is required")
	}
	if opts.Store == nil {
		panic("scheduler: Store is required")
	}
	s := &Scheduler{
		exec:         opts.Executor,
		store:        opts.Store,
		notifier:     opts.Notifier,
		workers:      opts.Workers,
		queueSize:    opts.QueueSize,
		perRepoLimit: opts.PerRepoLimit,
		jobs:         make(map[uuid.UUID]*job),
		runningRepo:  make(map[string]int),
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.workers <= 0 {
		s.workers = 4
	}
	if s.queueSize <= 0 {
		s.queueSize = 64
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the worker pool. The context carries the logger and
// is the parent of every run's context; cancelling it cancels all
// in-flight runs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		panic("scheduler: started twice")
	}
	s.started = true
	s.baseCtx = ctx
	s.mu.Unlock()

	logger := ctxlog.FromContext(ctx)
	logger.Info("Scheduler started.", "workers", s.workers, "queue_size", s.queueSize, "per_repo_limit", s.perRepoLimit)

	for id := 0; id < s.workers; id++ {
		s.wg.Add(1)
		go s.worker(ctx, id)
	}
}

// Submit admits a run for the definition, triggered by the event. The
// returned run is live: its state changes as workers execute it.
func (s *Scheduler) Submit(def *model.PipelineDefinition, ev model.RepositoryEvent) (*model.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		panic("scheduler: Submit before Start")
	}
	if s.closed {
		return nil, ErrClosed
	}
	if len(s.pending) >= s.queueSize {
		return nil, ErrQueueFull
	}

	run := model.NewRun(def, ev)
	jctx, cancel := context.WithCancel(s.baseCtx)
	j := &job{def: def, run: run, ctx: jctx, cancel: cancel, state: jobQueued}

	// Publish the Queued snapshot before workers can see the job so
	// per-run notifications stay ordered.
	s.notifier.RunUpdated(run.Snapshot())

	s.pending = append(s.pending, j)
	s.jobs[run.ID] = j
	s.cond.Signal()
	return run, nil
}

// Cancel cancels the run cooperatively. A queued run is finalized
// without ever starting; a running run has its context cancelled and
// finishes on the worker. Runs already in history cannot be cancelled.
func (s *Scheduler) Cancel(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrUnknownRun
	}
	switch j.state {
	case jobQueued:
		s.finalizeQueuedLocked(j, model.RunCancelled, model.StepCancelled)
	case jobRunning:
		j.cancel()
	}
	return nil
}

// Status returns the run's current state: a live snapshot while in
// flight, otherwise the stored record.
func (s *Scheduler) Status(ctx context.Context, id uuid.UUID) (model.RunRecord, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if ok {
		return j.run.Snapshot(), nil
	}
	return s.store.Run(ctx, id)
}

// History returns the repository's most recent stored runs. An empty
// repo lists runs across all repositories.
func (s *Scheduler) History(ctx context.Context, repo string, limit int) ([]model.RunRecord, error) {
	return s.store.Runs(ctx, repo, limit)
}

// Shutdown drains the scheduler: admission stops, queued runs are
// finalized as cancelled, in-flight runs get their contexts cancelled,
// and workers are awaited until ctx expires.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = nil
	for _, j := range pending {
		s.finalizeQueuedLocked(j, model.RunCancelled, model.StepCancelled)
	}
	for _, j := range s.jobs {
		if j.state == jobRunning {
			j.cancel()
		}
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finalizeQueuedLocked moves a job that never started straight to a
// terminal status and publishes the final snapshot. Caller holds mu.
func (s *Scheduler) finalizeQueuedLocked(j *job, runStatus model.RunStatus, stepStatus model.StepStatus) {
	stepCount := j.run.StepCount()
	for i := 0; i < stepCount; i++ {
		j.run.SkipStep(i, stepStatus)
	}
	j.run.Transition(runStatus)
	j.state = jobDone
	j.cancel()
	delete(s.jobs, j.run.ID)
	s.removePending(j)
	s.notifier.RunUpdated(j.run.Snapshot())
}

// removePending deletes j from the pending queue if present.
func (s *Scheduler) removePending(j *job) {
	for i, p := range s.pending {
		if p == j {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	logger := ctxlog.FromContext(ctx).With("worker", workerID)
	logger.Debug("Worker started.")

	for {
		j := s.next()
		if j == nil {
			logger.Debug("Worker stopped.")
			return
		}
		s.exec.Execute(j.ctx, j.def, j.run)
		s.release(j)
	}
}

// next blocks until a job is eligible to run, claims it, and returns
// it. Returns nil when the scheduler is drained.
func (s *Scheduler) next() *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		for i, j := range s.pending {
			if s.perRepoLimit > 0 && s.runningRepo[j.run.Repo] >= s.perRepoLimit {
				continue
			}
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			j.state = jobRunning
			s.runningRepo[j.run.Repo]++
			return j
		}
		if s.closed {
			return nil
		}
		s.cond.Wait()
	}
}

// release returns the worker's repo slot and retires the job.
func (s *Scheduler) release(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.state = jobDone
	j.cancel()
	delete(s.jobs, j.run.ID)
	s.runningRepo[j.run.Repo]--
	if s.runningRepo[j.run.Repo] == 0 {
		delete(s.runningRepo, j.run.Repo)
	}
	s.cond.Broadcast()
}
