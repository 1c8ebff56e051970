package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ralph-run/ralph/internal/agentrunner"
	"github.com/ralph-run/ralph/internal/bus"
	"github.com/ralph-run/ralph/internal/events"
	"github.com/ralph-run/ralph/internal/eventlog"
	"github.com/ralph-run/ralph/internal/hats"
	"github.com/ralph-run/ralph/internal/prompt"
)

// DefaultStartingEvent seeds the queue at loop start when Config does not
// override it (spec §4.5).
const DefaultStartingEvent = "task.start"

// BuildDonePayloadSchema is the topic whose payload is validated for a
// "promise" before being accepted (spec §4.5 step 7). Currently only
// build.done implies a promise.
const BuildDonePayloadSchema = "build.done"

// MalformedContentTruncateAt bounds how much of a malformed line is echoed
// back into the synthesized event.malformed event's content field.
const MalformedContentTruncateAt = 500

// Config tunes one loop run. Zero values fall back to spec defaults.
type Config struct {
	StartingEvent      string
	CompletionSentinel string
	MaxIterations      int
	MaxRuntime         time.Duration
	// Interactive distinguishes the two idle-timeout semantics spec §4.5's
	// Failure semantics section and §7's error table require: in
	// interactive mode an idle timeout means "iteration complete, continue"
	// (not a failure); in autonomous mode it means the run is hung and
	// terminates with reason Stopped.
	Interactive bool
}

// Engine drives one loop process to termination (spec §4.5, C6).
type Engine struct {
	Config   Config
	Hats     *hats.Registry
	Bus      *bus.Bus
	Logger   *eventlog.Logger
	Reader   *eventlog.Reader
	Runner   agentrunner.Runner
	Workdir  string
	Timeouts agentrunner.Timeouts

	// Memories and ContextFiles supply the prompt builder's MEMORIES and
	// CONTEXT FILES sections. Nil means "render as empty".
	Memories     func() []string
	ContextFiles func() []string
	// ScratchpadRead backs the CompletionPromise predicate's scratchpad
	// assertion check (see termination.go).
	ScratchpadRead func() (string, error)
	// Clock is injectable for deterministic MaxRuntime tests; defaults to
	// time.Now.
	Clock func() time.Time

	state LoopState
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

func (e *Engine) startingEvent() string {
	if e.Config.StartingEvent != "" {
		return e.Config.StartingEvent
	}
	return DefaultStartingEvent
}

// State returns a copy of the engine's current loop state, for inspection
// by callers (e.g. the CLI's progress output or tests).
func (e *Engine) State() LoopState {
	return e.state
}

// Interrupt marks the loop interrupted; the next termination check will
// stop the loop with reason Interrupted and exit code 130.
func (e *Engine) Interrupt() {
	e.state.Interrupted = true
}

// SeedPending primes a resumed loop with events already known (e.g.
// whatever a fresh Reader.ReadNew() over the existing events file turned
// up) without re-seeding the starting event, and starts the runtime clock.
// Call before Run when resuming rather than starting fresh.
func (e *Engine) SeedPending(pending []events.Event) {
	e.state.LoopStarted = e.now()
	if e.Config.MaxRuntime > 0 {
		e.state.LoopDeadline = e.state.LoopStarted.Add(e.Config.MaxRuntime)
	}
	e.state.PendingEvents = append(e.state.PendingEvents, pending...)
}

// Run seeds the starting event (fresh runs only — resume should instead
// call SeedPending with events already ingested from the events file) and
// drives iterations until a termination predicate fires or ctx is done.
func (e *Engine) Run(ctx context.Context, userPrompt string) (TerminationReason, error) {
	if e.state.LoopStarted.IsZero() {
		e.state.LoopStarted = e.now()
		if e.Config.MaxRuntime > 0 {
			e.state.LoopDeadline = e.state.LoopStarted.Add(e.Config.MaxRuntime)
		}
		e.state.PendingEvents = append(e.state.PendingEvents, events.New(e.startingEvent(), userPrompt))
	}

	for {
		select {
		case <-ctx.Done():
			e.state.Interrupted = true
		default:
		}

		if reason := e.checkTermination(); reason != None {
			e.terminate(reason)
			return reason, nil
		}

		if err := e.runIteration(ctx); err != nil {
			return "", fmt.Errorf("iteration %d: %w", e.state.Iteration+1, err)
		}
	}
}

// runIteration is one pass of spec §4.5's eight-step algorithm (steps 2-7;
// step 1's precondition check and step 8's loop-back live in Run).
func (e *Engine) runIteration(ctx context.Context) error {
	e.state.State = Dispatching

	pendingSnapshot := append([]events.Event(nil), e.state.PendingEvents...)
	var popped events.Event
	if len(e.state.PendingEvents) > 0 {
		popped = e.state.PendingEvents[0]
		e.state.PendingEvents = e.state.PendingEvents[1:]
	}

	var hat *hats.Hat
	if popped.Topic != "" {
		if h, found := e.Hats.Owner(popped.Topic); found {
			hat = &h
		}
	}
	e.state.CurrentHat = hat

	promptText := prompt.Build(prompt.Context{
		Hats:               e.Hats.Hats(),
		PendingEvents:      pendingSnapshot,
		Memories:           e.callMemories(),
		ContextFiles:       e.callContextFiles(),
		CompletionSentinel: e.Config.CompletionSentinel,
	})

	e.state.State = AwaitingAgent
	result, err := e.Runner.Run(ctx, promptText, e.Workdir, e.Timeouts)
	if err != nil {
		return fmt.Errorf("agent runner: %w", err)
	}

	e.state.State = ProcessingOutput
	e.processOutput(result)

	if len(e.state.PendingEvents) == 0 && e.checkTermination() == None {
		e.injectFallback()
	}

	return nil
}

// processOutput implements spec §4.5 step 5 (ingest + stdout scan +
// completion detection + iteration increment) and step 7 (backpressure).
func (e *Engine) processOutput(result agentrunner.Result) {
	e.state.LastAgentOutput = result.Stdout

	e.applyFailureSemantics(result)

	e.ingestFromJSONL()
	e.ingestTaggedStdoutEvents(result.Stdout)

	sentinel := e.Config.CompletionSentinel
	if sentinel == "" {
		sentinel = prompt.DefaultCompletionSentinel
	}
	if events.ContainsCompletionToken(result.Stdout, sentinel) {
		e.state.ConsecutiveCompletionSignals++
		e.state.CompletionSignalSeen = true
	} else {
		e.state.ConsecutiveCompletionSignals = 0
	}

	e.state.PrevIteration = e.state.Iteration
	e.state.Iteration++

	e.applyBackpressure()
}

// applyFailureSemantics implements spec §4.5's Failure semantics and §7's
// two idle-timeout rows: an idle timeout is not a failure in interactive
// mode (iteration complete, continue); in autonomous mode it terminates
// the loop with reason Stopped rather than merely counting as a failure.
func (e *Engine) applyFailureSemantics(result agentrunner.Result) {
	if result.WasIdleTimeout {
		if e.Config.Interactive {
			e.state.ConsecutiveFailures = 0
			return
		}
		e.state.StopRequested = true
		return
	}

	if result.ExitStatus != 0 {
		e.state.ConsecutiveFailures++
		return
	}
	e.state.ConsecutiveFailures = 0
}

// ingestFromJSONL implements spec §4.2/§4.5 step 5's disk-ingest half:
// tail the events file, enqueue successful parses, synthesize
// event.malformed for bad lines, and reset or advance the malformed
// counter per spec's "reset on any valid parse" rule.
func (e *Engine) ingestFromJSONL() {
	if e.Reader == nil {
		return
	}
	result, err := e.Reader.ReadNew()
	if err != nil {
		log.Printf("engine: failed to tail events file: %v", err)
		return
	}

	for _, ev := range result.Events {
		// Already durably recorded by whoever wrote the JSONL line (the
		// agent or the external emit tool) — the bus still needs it, but
		// the logger does not.
		e.enqueue(ev)
		if e.Bus != nil {
			e.Bus.Publish(ev)
		}
	}
	for _, m := range result.Malformed {
		e.state.ConsecutiveMalformedEvents++
		malformed := events.Malformed(m, MalformedContentTruncateAt)
		e.enqueue(malformed)
		e.recordAndPublish(malformed)
	}
	if len(result.Events) > 0 {
		e.state.ConsecutiveMalformedEvents = 0
	}
}

// ingestTaggedStdoutEvents implements the backward-compatible XML-tagged
// event channel (spec §4.5 step 5).
func (e *Engine) ingestTaggedStdoutEvents(stdout string) {
	for _, ev := range events.ScanStdoutForTaggedEvents(stdout) {
		e.enqueue(ev)
		e.recordAndPublish(ev)
	}
}

// injectFallback implements spec §4.5 step 6: when the queue is empty
// after ingest and no termination reason applies, synthesize task.resume
// so the next iteration always has input. The bounded counter guards
// against an infinite fallback livelock (spec §9).
func (e *Engine) injectFallback() {
	if e.state.ConsecutiveFallbackInjections >= fallbackInjectionCap {
		e.state.StopRequested = true
		return
	}
	e.state.ConsecutiveFallbackInjections++
	ev := events.Resume()
	e.enqueue(ev)
	e.recordAndPublish(ev)
}

// applyBackpressure implements spec §4.5 step 7: topics that imply a
// promise are validated against a schema before being accepted; a failure
// synthesizes a corrective event instead (e.g. build.blocked for an
// invalid build.done payload).
func (e *Engine) applyBackpressure() {
	for _, ev := range e.state.PendingEvents {
		if ev.Topic != BuildDonePayloadSchema {
			continue
		}
		if err := validateBuildDone(ev); err != nil {
			blocked := events.BuildBlocked(err.Error())
			e.enqueue(blocked)
			e.recordAndPublish(blocked)
		}
	}
}

// validateBuildDone requires a non-empty files-touched list, the one
// schema rule spec §4.5 step 7 names explicitly.
func validateBuildDone(ev events.Event) error {
	obj, ok := ev.PayloadObject()
	if !ok {
		return fmt.Errorf("build.done payload must be an object with a files_touched list")
	}
	files, ok := obj["files_touched"].([]interface{})
	if !ok || len(files) == 0 {
		return fmt.Errorf("build.done payload missing a non-empty files_touched list")
	}
	return nil
}

// enqueue resets the fallback-injection counter whenever a real event
// (not synthesized by the fallback path itself) becomes available, since
// the cap exists only to bound fallback-on-fallback livelock.
func (e *Engine) enqueue(ev events.Event) {
	e.state.PendingEvents = append(e.state.PendingEvents, ev)
	if ev.Topic != "task.resume" {
		e.state.ConsecutiveFallbackInjections = 0
	}
}

func (e *Engine) recordAndPublish(ev events.Event) {
	if e.Logger != nil {
		if err := e.Logger.PublishRecord(ev); err != nil {
			log.Printf("engine: failed to log synthesized event %q: %v", ev.Topic, err)
		}
	}
	if e.Bus != nil {
		e.Bus.Publish(ev)
	}
}

func (e *Engine) callMemories() []string {
	if e.Memories == nil {
		return nil
	}
	return e.Memories()
}

func (e *Engine) callContextFiles() []string {
	if e.ContextFiles == nil {
		return nil
	}
	return e.ContextFiles()
}

// terminate publishes loop.terminate and moves the state machine to
// Terminating (spec §4.5's "Any -> Terminating" transition, §7's
// always-publish-before-exit rule).
func (e *Engine) terminate(reason TerminationReason) {
	e.state.State = Terminating
	ev := events.Terminate(string(reason), e.state.Iteration, e.now().Sub(e.state.LoopStarted))
	e.recordAndPublish(ev)
}
