package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ralph-run/ralph/internal/agentrunner"
	"github.com/ralph-run/ralph/internal/bus"
	"github.com/ralph-run/ralph/internal/eventlog"
	"github.com/ralph-run/ralph/internal/hats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner returns one canned Result per call, in order, and records
// every prompt it was invoked with.
type scriptedRunner struct {
	results []agentrunner.Result
	calls   int
	prompts []string
}

func (r *scriptedRunner) Run(_ context.Context, prompt, _ string, _ agentrunner.Timeouts) (agentrunner.Result, error) {
	r.prompts = append(r.prompts, prompt)
	i := r.calls
	r.calls++
	if i >= len(r.results) {
		return agentrunner.Result{ExitStatus: 0}, nil
	}
	return r.results[i], nil
}

func newTestEngine(t *testing.T, runner agentrunner.Runner, cfg Config) *Engine {
	reg, err := hats.New(nil, "task.start", "loop.complete")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "events.jsonl")
	return &Engine{
		Config:  cfg,
		Hats:    reg,
		Bus:     bus.New(),
		Logger:  eventlog.NewLogger(path),
		Reader:  eventlog.NewReader(path),
		Runner:  runner,
		Workdir: t.TempDir(),
	}
}

func TestRun_SoloHappyPath_DualConfirmationTerminatesWithExitZero(t *testing.T) {
	runner := &scriptedRunner{results: []agentrunner.Result{
		{Stdout: "working on it"},
		{Stdout: "LOOP_COMPLETE"},
		{Stdout: "LOOP_COMPLETE"},
	}}
	e := newTestEngine(t, runner, Config{MaxIterations: 10})

	reason, err := e.Run(context.Background(), "echo hi")
	require.NoError(t, err)
	assert.Equal(t, CompletionPromise, reason)
	assert.Equal(t, 0, reason.ExitCode())
	assert.Equal(t, 3, runner.calls)
}

func TestRun_CompletionSignalResetByIntermediateOutput(t *testing.T) {
	runner := &scriptedRunner{results: []agentrunner.Result{
		{Stdout: "LOOP_COMPLETE"},
		{Stdout: "task.progress, still working"},
		{Stdout: "LOOP_COMPLETE"},
	}}
	e := newTestEngine(t, runner, Config{MaxIterations: 3})

	reason, err := e.Run(context.Background(), "echo hi")
	require.NoError(t, err)
	// Only one consecutive signal at iteration 3 (reset at iteration 2) —
	// loop must end via MaxIterations, not CompletionPromise.
	assert.Equal(t, MaxIterations, reason)
	assert.Equal(t, 2, reason.ExitCode())
	assert.Equal(t, 3, runner.calls)
}

func TestRun_MaxIterationsTerminatesAfterExactCount(t *testing.T) {
	runner := &scriptedRunner{}
	e := newTestEngine(t, runner, Config{MaxIterations: 3})

	reason, err := e.Run(context.Background(), "never completes")
	require.NoError(t, err)
	assert.Equal(t, MaxIterations, reason)
	assert.Equal(t, 3, runner.calls)
}

func TestRun_MaxRuntimeTerminatesPastDeadline(t *testing.T) {
	runner := &scriptedRunner{}
	e := newTestEngine(t, runner, Config{MaxIterations: 1000, MaxRuntime: time.Millisecond})

	fakeNow := time.Now()
	e.Clock = func() time.Time {
		fakeNow = fakeNow.Add(time.Second)
		return fakeNow
	}

	reason, err := e.Run(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, MaxRuntime, reason)
	assert.Equal(t, 2, reason.ExitCode())
}

func TestRun_ThreeConsecutiveMalformedIngestsTerminateWithValidationFailure(t *testing.T) {
	runner := &scriptedRunner{}
	e := newTestEngine(t, runner, Config{MaxIterations: 100})

	// Pre-seed the events file the reader tails with three malformed lines.
	writeRawLines(t, e, []string{"not-json-1", "not-json-2", "not-json-3"})

	reason, err := e.Run(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, ValidationFailure, reason)
	assert.Equal(t, 1, reason.ExitCode())
}

func TestRun_ConsecutiveFailuresTerminatesAfterFive(t *testing.T) {
	// Each result re-emits a tagged event so the queue never runs dry —
	// otherwise the fallback-injection cap (3) would race the failure
	// threshold (5) and the loop could terminate Stopped first.
	results := make([]agentrunner.Result, 6)
	for i := range results {
		results[i] = agentrunner.Result{
			ExitStatus: 1,
			Stdout:     `<event>{"topic":"status.check","payload":"ok"}</event>`,
		}
	}
	runner := &scriptedRunner{results: results}
	e := newTestEngine(t, runner, Config{MaxIterations: 100})

	reason, err := e.Run(context.Background(), "always fails")
	require.NoError(t, err)
	assert.Equal(t, ConsecutiveFailures, reason)
	assert.Equal(t, 5, runner.calls)
}

func TestRun_FallbackInjectionCapTerminatesWithStopped(t *testing.T) {
	// No hats, no stdout events, never completes: every iteration drains
	// the queue to empty and the fallback path injects task.resume. After
	// 3 consecutive injections with nothing else arriving, Stopped fires.
	runner := &scriptedRunner{}
	e := newTestEngine(t, runner, Config{MaxIterations: 100})

	reason, err := e.Run(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, Stopped, reason)
	assert.Equal(t, 1, reason.ExitCode())
}

func TestRun_InterruptTerminatesImmediatelyWithExitCode130(t *testing.T) {
	runner := &scriptedRunner{}
	e := newTestEngine(t, runner, Config{MaxIterations: 100})
	e.Interrupt()

	reason, err := e.Run(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, Interrupted, reason)
	assert.Equal(t, 130, reason.ExitCode())
	assert.Equal(t, 0, runner.calls)
}

func TestBuildDoneBackpressure_EmptyFilesTouchedSynthesizesBuildBlocked(t *testing.T) {
	runner := &scriptedRunner{results: []agentrunner.Result{
		{Stdout: `<event>{"topic":"build.done","payload":{"files_touched":[]}}</event>`},
	}}
	e := newTestEngine(t, runner, Config{MaxIterations: 1})

	_, err := e.Run(context.Background(), "x")
	require.NoError(t, err)

	var sawBlocked bool
	for _, ev := range e.state.PendingEvents {
		if ev.Topic == "build.blocked" {
			sawBlocked = true
		}
	}
	assert.True(t, sawBlocked)
}

func writeRawLines(t *testing.T, e *Engine, lines []string) {
	t.Helper()
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(e.Logger.Path(), []byte(content), 0o644))
}
