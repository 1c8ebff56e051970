// Package agentrunner defines the opaque agent-runner capability the
// iteration engine consumes (spec §6 "Agent-runner capability (consumed)").
// Per spec §1's non-goals, the core does not implement backend binary
// discovery or PTY allocation — the two implementations here
// (ExecRunner, AnthropicRunner) are minimal reference collaborators, not
// core components.
package agentrunner

import (
	"context"
	"time"
)

// Timeouts bounds one agent invocation. Idle means no stdout/stderr
// activity for that long; Total is a hard ceiling regardless of activity.
type Timeouts struct {
	Idle  time.Duration
	Total time.Duration
}

// Result is what one iteration's agent invocation returns (spec §6).
type Result struct {
	Stdout        string
	Stderr        string
	ExitStatus    int
	Duration      time.Duration
	WasIdleTimeout bool
}

// Runner is the capability the iteration engine consumes. It knows nothing
// about hats, events, or loop state — it runs a prompt against a working
// directory and reports what came back.
type Runner interface {
	Run(ctx context.Context, prompt, workdir string, timeouts Timeouts) (Result, error)
}
