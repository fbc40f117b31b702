package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewatch/pipewatch/internal/model"
)

// fakeRunner scripts command outcomes by command text and records the
// order commands were attempted in.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	dirs    []string
	results map[string]fakeResult
}

type fakeResult struct {
	exitCode int
	startErr error
	stdout   string
	stderr   string
	// blockUntilCancel makes the command hang until the context is
	// cancelled, mimicking a long-running process being killed.
	blockUntilCancel bool
	// delay makes the command take this long, or less when the
	// context expires first.
	delay time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, command, dir string, stdout, stderr io.Writer) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, command)
	f.dirs = append(f.dirs, dir)
	res := f.results[command]
	f.mu.Unlock()

	if res.blockUntilCancel {
		<-ctx.Done()
		return -1, nil
	}
	if res.delay > 0 {
		select {
		case <-time.After(res.delay):
		case <-ctx.Done():
			return -1, nil
		}
	}
	if res.startErr != nil {
		return 0, res.startErr
	}
	if res.stdout != "" {
		fmt.Fprint(stdout, res.stdout)
	}
	if res.stderr != "" {
		fmt.Fprint(stderr, res.stderr)
	}
	return res.exitCode, nil
}

func (f *fakeRunner) commandsRun() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testDefinition(steps ...model.Step) *model.PipelineDefinition {
	return &model.PipelineDefinition{Name: "deploy", Version: "1.0", Steps: steps}
}

func testEvent() model.RepositoryEvent {
	return model.PushEvent{Repo: "acme/site", Branch: "main", Commit: "abc123"}
}

func TestExecuteAllStepsSucceed(t *testing.T) {
	runner := &fakeRunner{results: map[string]fakeResult{
		"npm install": {stdout: "added 12 packages\n"},
		"npm test":    {stdout: "all green\n"},
	}}
	def := testDefinition(
		model.Step{Name: "install", Commands: []string{"npm install"}},
		model.Step{Name: "test", Commands: []string{"npm test"}},
	)
	run := model.NewRun(def, testEvent())

	New(Options{Runner: runner}).Execute(context.Background(), def, run)

	rec := run.Snapshot()
	assert.Equal(t, model.RunSucceeded, rec.Status)
	require.Len(t, rec.Steps, 2)
	assert.Equal(t, model.StepSucceeded, rec.Steps[0].Status)
	assert.Equal(t, model.StepSucceeded, rec.Steps[1].Status)
	assert.Equal(t, "added 12 packages\n", rec.Steps[0].Stdout)
	assert.Equal(t, []string{"npm install", "npm test"}, runner.commandsRun())
}

func TestExecuteFailureSkipsRemainingSteps(t *testing.T) {
	runner := &fakeRunner{results: map[string]fakeResult{
		"npm install": {},
		"npm test":    {exitCode: 1, stderr: "2 tests failed\n"},
		"npm publish": {},
	}}
	def := testDefinition(
		model.Step{Name: "install", Commands: []string{"npm install"}},
		model.Step{Name: "test", Commands: []string{"npm test"}},
		model.Step{Name: "publish", Commands: []string{"npm publish"}},
	)
	run := model.NewRun(def, testEvent())

	New(Options{Runner: runner}).Execute(context.Background(), def, run)

	rec := run.Snapshot()
	assert.Equal(t, model.RunFailed, rec.Status)
	assert.Equal(t, model.StepSucceeded, rec.Steps[0].Status)
	assert.Equal(t, model.StepFailed, rec.Steps[1].Status)
	assert.Equal(t, 1, rec.Steps[1].ExitCode)
	assert.Equal(t, "2 tests failed\n", rec.Steps[1].Stderr)
	assert.Equal(t, model.StepSkipped, rec.Steps[2].Status)
	assert.NotContains(t, runner.commandsRun(), "npm publish")
}

func TestExecuteAllowFailureContinues(t *testing.T) {
	runner := &fakeRunner{results: map[string]fakeResult{
		"npm run lint": {exitCode: 2},
		"npm run build": {},
	}}
	def := testDefinition(
		model.Step{Name: "lint", Commands: []string{"npm run lint"}, AllowFailure: true},
		model.Step{Name: "build", Commands: []string{"npm run build"}},
	)
	run := model.NewRun(def, testEvent())

	New(Options{Runner: runner}).Execute(context.Background(), def, run)

	rec := run.Snapshot()
	assert.Equal(t, model.RunSucceeded, rec.Status, "tolerated failures do not fail the run")
	assert.Equal(t, model.StepFailedAllowed, rec.Steps[0].Status)
	assert.Equal(t, 2, rec.Steps[0].ExitCode)
	assert.Equal(t, model.StepSucceeded, rec.Steps[1].Status)
}

func TestExecuteStopsStepAtFirstFailingCommand(t *testing.T) {
	runner := &fakeRunner{results: map[string]fakeResult{
		"make generate": {},
		"make build":    {exitCode: 2},
		"make package":  {},
	}}
	def := testDefinition(
		model.Step{Name: "build", Commands: []string{"make generate", "make build", "make package"}},
	)
	run := model.NewRun(def, testEvent())

	New(Options{Runner: runner}).Execute(context.Background(), def, run)

	assert.Equal(t, model.RunFailed, run.Snapshot().Status)
	assert.Equal(t, []string{"make generate", "make build"}, runner.commandsRun())
}

func TestExecuteCommandStartFailure(t *testing.T) {
	runner := &fakeRunner{results: map[string]fakeResult{
		"frobnicate": {startErr: errors.New(`exec: "frobnicate": executable file not found`)},
	}}
	def := testDefinition(model.Step{Name: "frob", Commands: []string{"frobnicate"}})
	run := model.NewRun(def, testEvent())

	New(Options{Runner: runner}).Execute(context.Background(), def, run)

	rec := run.Snapshot()
	assert.Equal(t, model.RunFailed, rec.Status)
	assert.Equal(t, model.StepFailed, rec.Steps[0].Status)
	assert.Equal(t, model.ExitCodeNotStarted, rec.Steps[0].ExitCode)
	assert.Contains(t, rec.Steps[0].Reason, "could not start")
}

func TestExecuteCancelMidStep(t *testing.T) {
	runner := &fakeRunner{results: map[string]fakeResult{
		"sleep forever": {blockUntilCancel: true},
	}}
	def := testDefinition(
		model.Step{Name: "first", Commands: []string{"echo ok"}},
		model.Step{Name: "hang", Commands: []string{"sleep forever"}},
		model.Step{Name: "never", Commands: []string{"echo nope"}},
	)
	run := model.NewRun(def, testEvent())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		New(Options{Runner: runner}).Execute(ctx, def, run)
	}()

	// Wait for the hanging step to actually start before cancelling.
	require.Eventually(t, func() bool {
		return run.StepStatus(1) == model.StepRunning
	}, time.Second, time.Millisecond)
	cancel()
	<-done

	rec := run.Snapshot()
	assert.Equal(t, model.RunCancelled, rec.Status)
	assert.Equal(t, model.StepSucceeded, rec.Steps[0].Status)
	assert.Equal(t, model.StepCancelled, rec.Steps[1].Status)
	assert.Equal(t, model.StepCancelled, rec.Steps[2].Status)
	assert.NotContains(t, runner.commandsRun(), "echo nope")
}

func TestExecuteStepTimeout(t *testing.T) {
	runner := &fakeRunner{results: map[string]fakeResult{
		"slow": {blockUntilCancel: true},
	}}
	def := testDefinition(
		model.Step{Name: "slow", Commands: []string{"slow"}},
		model.Step{Name: "after", Commands: []string{"echo ok"}},
	)
	run := model.NewRun(def, testEvent())

	New(Options{Runner: runner, StepTimeout: 10 * time.Millisecond}).Execute(context.Background(), def, run)

	rec := run.Snapshot()
	assert.Equal(t, model.RunFailed, rec.Status)
	assert.Equal(t, model.StepFailed, rec.Steps[0].Status)
	assert.Contains(t, rec.Steps[0].Reason, "timed out")
	assert.Equal(t, model.StepSkipped, rec.Steps[1].Status, "a timeout is a failure, not a cancellation")
}

func TestExecuteStepTimeoutSpansCommands(t *testing.T) {
	// Three 60ms commands under a 100ms step budget: the second one
	// must hit the deadline, the third must never run.
	runner := &fakeRunner{results: map[string]fakeResult{
		"fetch":   {delay: 60 * time.Millisecond},
		"compile": {delay: 60 * time.Millisecond},
		"link":    {delay: 60 * time.Millisecond},
	}}
	def := testDefinition(model.Step{Name: "build", Commands: []string{"fetch", "compile", "link"}})
	run := model.NewRun(def, testEvent())

	New(Options{Runner: runner, StepTimeout: 100 * time.Millisecond}).Execute(context.Background(), def, run)

	rec := run.Snapshot()
	assert.Equal(t, model.RunFailed, rec.Status)
	assert.Equal(t, model.StepFailed, rec.Steps[0].Status)
	assert.Contains(t, rec.Steps[0].Reason, "timed out")
	assert.NotContains(t, runner.commandsRun(), "link", "the deadline bounds the step, not each command")
}

func TestExecuteNotifiesOnEveryTransition(t *testing.T) {
	var mu sync.Mutex
	var statuses []model.RunStatus
	notifier := NotifierFunc(func(rec model.RunRecord) {
		mu.Lock()
		statuses = append(statuses, rec.Status)
		mu.Unlock()
	})

	runner := &fakeRunner{results: map[string]fakeResult{"echo hi": {}}}
	def := testDefinition(model.Step{Name: "only", Commands: []string{"echo hi"}})
	run := model.NewRun(def, testEvent())

	New(Options{Runner: runner, Notifier: notifier}).Execute(context.Background(), def, run)

	// Run start, step terminal, run terminal.
	require.Len(t, statuses, 3)
	assert.Equal(t, model.RunRunning, statuses[0])
	assert.Equal(t, model.RunRunning, statuses[1])
	assert.Equal(t, model.RunSucceeded, statuses[2])
}

func TestExecuteWorkspaceLifecycle(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{results: map[string]fakeResult{"echo hi": {}}}
	def := testDefinition(model.Step{Name: "only", Commands: []string{"echo hi"}})
	run := model.NewRun(def, testEvent())

	New(Options{Runner: runner, WorkspaceRoot: root}).Execute(context.Background(), def, run)

	require.Len(t, runner.dirs, 1)
	assert.Equal(t, filepath.Join(root, run.ID.String()), runner.dirs[0])
	assert.NoDirExists(t, runner.dirs[0], "workspace is removed after the run")
}

func TestExecuteKeepWorkspace(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{results: map[string]fakeResult{"echo hi": {}}}
	def := testDefinition(model.Step{Name: "only", Commands: []string{"echo hi"}})
	run := model.NewRun(def, testEvent())

	New(Options{Runner: runner, WorkspaceRoot: root, KeepWorkspace: true}).Execute(context.Background(), def, run)

	assert.DirExists(t, filepath.Join(root, run.ID.String()))
}

// isolationRunner stamps output with the run's workspace directory and
// fails "make test" only for the runs listed in fail. The fail map is
// populated before execution starts and read-only afterwards.
type isolationRunner struct {
	fail map[string]bool
}

func (f *isolationRunner) Run(ctx context.Context, command, dir string, stdout, stderr io.Writer) (int, error) {
	id := filepath.Base(dir)
	fmt.Fprintf(stdout, "%s in %s\n", command, id)
	if command == "make test" && f.fail[id] {
		fmt.Fprintf(stderr, "tests failed in %s\n", id)
		return 1, nil
	}
	return 0, nil
}

func TestExecuteConcurrentRunsAreIsolated(t *testing.T) {
	// Every run shares the definition, so step and command names look
	// identical across runs. Odd runs are scripted to fail their test
	// step; outcomes and captured output must stay per-run.
	const n = 8
	def := testDefinition(
		model.Step{Name: "build", Commands: []string{"make build"}},
		model.Step{Name: "test", Commands: []string{"make test"}},
	)
	runner := &isolationRunner{fail: map[string]bool{}}
	runs := make([]*model.PipelineRun, n)
	for i := range runs {
		runs[i] = model.NewRun(def, testEvent())
		if i%2 == 1 {
			runner.fail[runs[i].ID.String()] = true
		}
	}

	eng := New(Options{Runner: runner, WorkspaceRoot: t.TempDir()})
	var wg sync.WaitGroup
	for _, run := range runs {
		run := run
		wg.Add(1)
		go func() {
			defer wg.Done()
			eng.Execute(context.Background(), def, run)
		}()
	}
	wg.Wait()

	for i, run := range runs {
		rec := run.Snapshot()
		id := run.ID.String()
		require.Len(t, rec.Steps, 2)
		assert.Equal(t, model.StepSucceeded, rec.Steps[0].Status)
		if i%2 == 1 {
			assert.Equal(t, model.RunFailed, rec.Status)
			assert.Equal(t, model.StepFailed, rec.Steps[1].Status)
			assert.Equal(t, "tests failed in "+id+"\n", rec.Steps[1].Stderr)
		} else {
			assert.Equal(t, model.RunSucceeded, rec.Status)
			assert.Equal(t, model.StepSucceeded, rec.Steps[1].Status)
			assert.Empty(t, rec.Steps[1].Stderr)
		}
		assert.Equal(t, "make build in "+id+"\n", rec.Steps[0].Stdout)
		assert.Equal(t, "make test in "+id+"\n", rec.Steps[1].Stdout)
	}
}

func TestShellRunnerExitCodes(t *testing.T) {
	if _, err := (&ShellRunner{}).Run(context.Background(), "true", "", io.Discard, io.Discard); err != nil {
		t.Skip("no sh available")
	}

	r := &ShellRunner{}

	code, err := r.Run(context.Background(), "exit 3", "", io.Discard, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	var out model.OutputBuffer
	code, err = r.Run(context.Background(), "printf hello", "", &out, io.Discard)
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Equal(t, "hello", out.String())
}
