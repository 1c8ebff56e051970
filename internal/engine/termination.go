package engine

import "strings"

// Fixed thresholds from spec §4.5/§9. The spec's Open Questions section
// explicitly says not to infer otherwise: the fallback cap is absolute
// (not scaled by iteration count), so these are constants, not config.
const (
	malformedEventThreshold = 3
	failureThreshold        = 5
	fallbackInjectionCap    = 3
)

// checkTermination evaluates spec §4.5's seven predicates in priority
// order and returns the first that applies, or None to keep running.
func (e *Engine) checkTermination() TerminationReason {
	s := &e.state

	if s.Interrupted {
		return Interrupted
	}
	if s.ConsecutiveCompletionSignals >= 2 && e.scratchpadAssertsComplete() {
		return CompletionPromise
	}
	if e.Config.MaxIterations > 0 && s.Iteration >= e.Config.MaxIterations {
		return MaxIterations
	}
	if !s.LoopDeadline.IsZero() && !e.now().Before(s.LoopDeadline) {
		return MaxRuntime
	}
	if s.ConsecutiveMalformedEvents >= malformedEventThreshold {
		return ValidationFailure
	}
	if s.ConsecutiveFailures >= failureThreshold {
		return ConsecutiveFailures
	}
	if s.StopRequested {
		return Stopped
	}
	return None
}

// scratchpadAssertsComplete implements the second half of the
// dual-confirmation CompletionPromise predicate: "consecutive_completion_
// signals >= 2 AND scratchpad assertion 'all tasks complete'" (spec §4.5).
// When no ScratchpadRead is configured, the assertion is treated as
// trivially satisfied — callers that want the stricter check wire it in
// explicitly (see DESIGN.md for this Open Question's resolution).
func (e *Engine) scratchpadAssertsComplete() bool {
	if e.ScratchpadRead == nil {
		return true
	}
	text, err := e.ScratchpadRead()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(text), "all tasks complete")
}
