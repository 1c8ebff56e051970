// Package engine implements the Loop State & Iteration Engine (spec §4.5,
// C6) — the scheduler that selects the next iteration's hat, builds the
// prompt, invokes the agent runner, processes output, checks termination
// predicates, and injects recovery events. This is the hardest component
// in the system (spec §2).
package engine

import (
	"time"

	"github.com/ralph-run/ralph/internal/events"
	"github.com/ralph-run/ralph/internal/hats"
)

// State is one of the engine's five states (spec §4.5's state machine).
type State int

const (
	Starting State = iota
	Dispatching
	AwaitingAgent
	ProcessingOutput
	Terminating
)

func (s State) String() string {
	switch s {
	case Starting:
		return "Starting"
	case Dispatching:
		return "Dispatching"
	case AwaitingAgent:
		return "AwaitingAgent"
	case ProcessingOutput:
		return "ProcessingOutput"
	case Terminating:
		return "Terminating"
	default:
		return "Unknown"
	}
}

// TerminationReason names why a loop stopped (spec §4.5's priority table).
// The empty value (None) means "keep running".
type TerminationReason string

const (
	None                TerminationReason = ""
	Interrupted         TerminationReason = "Interrupted"
	CompletionPromise   TerminationReason = "CompletionPromise"
	MaxIterations       TerminationReason = "MaxIterations"
	MaxRuntime          TerminationReason = "MaxRuntime"
	ValidationFailure   TerminationReason = "ValidationFailure"
	ConsecutiveFailures TerminationReason = "ConsecutiveFailures"
	Stopped             TerminationReason = "Stopped"
)

// ExitCode maps a TerminationReason to the process exit code spec §6 names.
func (r TerminationReason) ExitCode() int {
	switch r {
	case CompletionPromise:
		return 0
	case MaxIterations, MaxRuntime:
		return 2
	case Interrupted:
		return 130
	case ValidationFailure, ConsecutiveFailures, Stopped:
		return 1
	default:
		return 0
	}
}

// LoopState is the engine's process-local mutable state (spec §3's "Loop
// State" entity). The iteration engine exclusively owns it.
type LoopState struct {
	Iteration     int
	PrevIteration int

	LoopStarted  time.Time
	LoopDeadline time.Time

	ConsecutiveFailures            int
	ConsecutiveMalformedEvents     int
	ConsecutiveCompletionSignals   int
	ConsecutiveFallbackInjections  int

	PendingEvents []events.Event
	CurrentHat    *hats.Hat

	LastAgentOutput      string
	CompletionSignalSeen bool

	State State

	StopRequested bool
	Interrupted   bool
}
