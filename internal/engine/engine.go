package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pipewatch/pipewatch/internal/ctxlog"
	"github.com/pipewatch/pipewatch/internal/fsutil"
	"github.com/pipewatch/pipewatch/internal/model"
)

// Notifier receives a fresh snapshot every time a run changes state:
// when it starts, after each step reaches a terminal status, and when
// the run itself finishes.
type Notifier interface {
	RunUpdated(rec model.RunRecord)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(rec model.RunRecord)

func (f NotifierFunc) RunUpdated(rec model.RunRecord) { f(rec) }

type nopNotifier struct{}

func (nopNotifier) RunUpdated(model.RunRecord) {}

// Options configures an Engine. Zero values select the defaults: a
// ShellRunner, no notifications, no per-step time limit, and commands
// running in the process working directory.
type Options struct {
	Runner      CommandRunner
	Notifier    Notifier
	StepTimeout time.Duration

	// WorkspaceRoot, when set, gives every run its own working
	// directory WorkspaceRoot/<run id>, removed after the run unless
	// KeepWorkspace is set.
	WorkspaceRoot string
	KeepWorkspace bool
}

// Engine executes pipeline runs step by step.
type Engine struct {
	runner        CommandRunner
	notifier      Notifier
	stepTimeout   time.Duration
	workspaceRoot string
	keepWorkspace bool
}

func New(opts Options) *Engine {
	e := &Engine{
		runner:        opts.Runner,
		notifier:      opts.Notifier,
		stepTimeout:   opts.StepTimeout,
		workspaceRoot: opts.WorkspaceRoot,
		keepWorkspace: opts.KeepWorkspace,
	}
	if e.runner == nil {
		e.runner = &ShellRunner{}
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	return e
}

// Execute drives the run from Queued to a terminal status, mutating it
// in place. The definition must be the one the run was created from.
// The final outcome is read from the run itself; Execute never returns
// before the run and every one of its steps is terminal.
func (e *Engine) Execute(ctx context.Context, def *model.PipelineDefinition, run *model.PipelineRun) {
	logger := ctxlog.FromContext(ctx).With("run", run.ID, "pipeline", run.Pipeline, "repo", run.Repo)
	logger.Info("▶️ Starting pipeline run", "steps", len(def.Steps))

	run.Transition(model.RunRunning)
	e.notifier.RunUpdated(run.Snapshot())

	dir, err := e.setupWorkspace(run)
	if err != nil {
		logger.Error("Workspace setup failed.", "error", err)
		run.StartStep(0)
		run.FinishStep(0, model.StepFailed, model.ExitCodeNotStarted, err.Error())
		for i := 1; i < len(def.Steps); i++ {
			run.SkipStep(i, model.StepSkipped)
		}
		run.Transition(model.RunFailed)
		e.notifier.RunUpdated(run.Snapshot())
		return
	}
	defer e.teardownWorkspace(logger, run)

	failed := false
	cancelled := false
	for i, step := range def.Steps {
		switch {
		case ctx.Err() != nil:
			cancelled = true
			run.SkipStep(i, model.StepCancelled)
		case cancelled:
			run.SkipStep(i, model.StepCancelled)
		case failed:
			run.SkipStep(i, model.StepSkipped)
		default:
			stepFailed, stepCancelled := e.runStep(ctx, logger, run, i, step, dir)
			if stepCancelled {
				cancelled = true
			} else if stepFailed && !step.AllowFailure {
				failed = true
			}
			e.notifier.RunUpdated(run.Snapshot())
		}
	}

	switch {
	case cancelled:
		run.Transition(model.RunCancelled)
		logger.Info("🛑 Pipeline run cancelled")
	case failed:
		run.Transition(model.RunFailed)
		logger.Info("❌ Pipeline run failed")
	default:
		run.Transition(model.RunSucceeded)
		logger.Info("✅ Pipeline run succeeded")
	}
	e.notifier.RunUpdated(run.Snapshot())
}

// runStep executes step i's commands in order, stopping at the first
// failure. It reports whether the step failed and whether the run's
// context was cancelled while it ran.
func (e *Engine) runStep(ctx context.Context, logger *slog.Logger, run *model.PipelineRun, i int, step model.Step, dir string) (stepFailed, stepCancelled bool) {
	logger.Info("▶️ Starting step", "step", step.Name)
	run.StartStep(i)
	stdout, stderr := run.StepOutput(i)

	// One deadline bounds the whole step; its commands share it.
	stepCtx := ctx
	cancel := context.CancelFunc(func() {})
	if e.stepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, e.stepTimeout)
	}
	defer cancel()

	for _, command := range step.Commands {
		logger.Debug("Running command.", "step", step.Name, "command", command)
		exitCode, err := e.runner.Run(stepCtx, command, dir, stdout, stderr)

		if ctx.Err() != nil {
			run.FinishStep(i, model.StepCancelled, exitCode, "run cancelled")
			logger.Info("🛑 Step cancelled", "step", step.Name)
			return false, true
		}
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return e.failStep(logger, run, i, step, exitCode, fmt.Sprintf("timed out after %s", e.stepTimeout)), false
		}
		if err != nil {
			return e.failStep(logger, run, i, step, model.ExitCodeNotStarted, fmt.Sprintf("command could not start: %v", err)), false
		}
		if exitCode != 0 {
			return e.failStep(logger, run, i, step, exitCode, ""), false
		}
	}

	run.FinishStep(i, model.StepSucceeded, 0, "")
	logger.Info("✅ Step finished", "step", step.Name)
	return false, false
}

// setupWorkspace creates the run's working directory. Without a
// workspace root commands inherit the process working directory.
func (e *Engine) setupWorkspace(run *model.PipelineRun) (string, error) {
	if e.workspaceRoot == "" {
		return "", nil
	}
	return fsutil.EnsureWorkspace(e.workspaceRoot, run.ID.String())
}

func (e *Engine) teardownWorkspace(logger *slog.Logger, run *model.PipelineRun) {
	if e.workspaceRoot == "" || e.keepWorkspace {
		return
	}
	if err := fsutil.RemoveWorkspace(e.workspaceRoot, run.ID.String()); err != nil {
		logger.Warn("Failed to remove run workspace.", "error", err)
	}
}

// failStep records the failure, downgraded to FailedAllowed when the
// step tolerates it. Always returns true.
func (e *Engine) failStep(logger *slog.Logger, run *model.PipelineRun, i int, step model.Step, exitCode int, reason string) bool {
	if step.AllowFailure {
		run.FinishStep(i, model.StepFailedAllowed, exitCode, reason)
		logger.Info("⚠️ Step failed but failure is allowed", "step", step.Name, "exit_code", exitCode)
	} else {
		run.FinishStep(i, model.StepFailed, exitCode, reason)
		logger.Info("❌ Step failed", "step", step.Name, "exit_code", exitCode)
	}
	return true
}
