// Package prompt builds the hatless-Ralph iteration prompt (spec §4.4, C5):
// a fixed concatenation of sections rebuilt from scratch every iteration.
// Nothing here is cached across iterations — the "fresh context is
// reliability" tenet (spec §9) means the agent re-reads all state from disk
// on every turn.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ralph-run/ralph/internal/events"
	"github.com/ralph-run/ralph/internal/hats"
)

// DefaultCompletionSentinel is searched for in agent output when Context
// does not override it (spec §9 "Completion promise is string-matched").
const DefaultCompletionSentinel = "LOOP_COMPLETE"

// Context is everything the Prompt Builder needs for one iteration. The
// engine assembles a fresh Context every iteration; nothing here persists.
type Context struct {
	// Hats is the full topology in registry declaration order.
	Hats []hats.Hat
	// PendingEvents is the FULL queue awaiting dispatch this iteration, not
	// just the popped event (spec §4.5 step 3).
	PendingEvents []events.Event
	// Memories is a recent excerpt, oldest-to-newest, already truncated to
	// whatever window the caller wants rendered.
	Memories []string
	// ContextFiles is filenames only (not contents) of non-reserved .md
	// files under the agent state directory.
	ContextFiles []string
	// CompletionSentinel overrides DefaultCompletionSentinel when non-empty.
	CompletionSentinel string
}

func (c Context) sentinel() string {
	if c.CompletionSentinel != "" {
		return c.CompletionSentinel
	}
	return DefaultCompletionSentinel
}

// Build renders the full prompt in the fixed section order from spec §4.4.
func Build(ctx Context) string {
	var b strings.Builder
	writePreamble(&b)
	writeTasksGuidance(&b)
	writeStateManagementGuidance(&b)
	writeHatsSection(&b, ctx.Hats)
	writePendingEvents(&b, ctx.PendingEvents)
	writeMemories(&b, ctx.Memories)
	writeContextFiles(&b, ctx.ContextFiles)
	writeWorkflow(&b)
	writeEventWriting(&b)
	writeCompletionFooter(&b, ctx.sentinel())
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writePreamble(b *strings.Builder) {
	b.WriteString(`You are Ralph, a long-running coding agent operating against a local
working copy. You are re-invoked every iteration with a fresh prompt; you do
not carry memory between iterations except what you yourself have written to
disk. Tenets:

- Fresh context is reliability: read state from disk every turn, never
  assume you remember a prior iteration.
- The file tree and a small set of append-only files are the single source
  of truth. Prefer writing to them over holding state in your head.
- Events are routing signals, not documentation — put detail in your
  scratchpad or a context file, not in an event payload.

`)
}

func writeTasksGuidance(b *strings.Builder) {
	b.WriteString(`## Task tracking

Maintain ` + "`tasks.jsonl`" + ` as your task queue: one line per task, append-only.
Record exactly one outcome per task (closed, failed, or archived) once it is
resolved — do not rewrite history. Keep at most 5 tasks active
(status open/pending/running) at a time; anything beyond that belongs in a
later task rather than in progress now.

`)
}

func writeStateManagementGuidance(b *strings.Builder) {
	b.WriteString(`## State management

Use a memory (short, ≤ 280 characters, tagged) for a fact worth recalling
across many future iterations — a decision, a constraint, a gotcha. Use a
context file (a named ` + "`.md`" + ` file under your state directory) for anything
longer: a running plan, research notes, an in-progress design. Name context
files descriptively; they are listed by filename only in every future
prompt so you can decide whether to open one.

`)
}

func writeHatsSection(b *strings.Builder, hatList []hats.Hat) {
	if len(hatList) == 0 {
		return
	}

	b.WriteString("## HATS\n\n")
	b.WriteString("| Name | Triggers | Description |\n")
	b.WriteString("|---|---|---|\n")
	for _, h := range hatList {
		fmt.Fprintf(b, "| %s | %s | %s |\n", h.Name, strings.Join(h.TriggersOn, ", "), h.Description)
	}
	b.WriteString("\n")

	for _, h := range hatList {
		if strings.TrimSpace(h.Instructions) == "" {
			continue
		}
		fmt.Fprintf(b, "### %s Instructions\n\n%s\n\n", h.Name, h.Instructions)
	}
}

func writePendingEvents(b *strings.Builder, pending []events.Event) {
	if len(pending) == 0 {
		return
	}

	b.WriteString("## PENDING EVENTS\n\n")
	for _, e := range pending {
		fmt.Fprintf(b, "- `%s`: %s\n", e.Topic, formatPayload(e))
	}
	b.WriteString("\n")
}

func formatPayload(e events.Event) string {
	if s, ok := e.PayloadString(); ok {
		return s
	}
	if obj, ok := e.PayloadObject(); ok {
		raw, err := json.Marshal(obj)
		if err != nil {
			return fmt.Sprintf("%v", obj)
		}
		return string(raw)
	}
	return ""
}

func writeMemories(b *strings.Builder, memories []string) {
	b.WriteString("## MEMORIES\n\n")
	if len(memories) == 0 {
		b.WriteString("(none yet)\n\n")
		return
	}
	for _, m := range memories {
		fmt.Fprintf(b, "- %s\n", m)
	}
	b.WriteString("\n")
}

func writeContextFiles(b *strings.Builder, files []string) {
	b.WriteString("## CONTEXT FILES\n\n")
	if len(files) == 0 {
		b.WriteString("(none yet)\n\n")
		return
	}
	for _, f := range files {
		fmt.Fprintf(b, "- %s\n", f)
	}
	b.WriteString("\n")
}

func writeWorkflow(b *strings.Builder) {
	b.WriteString(`## Workflow

Each iteration: read your pending events and recent memories above, open any
context file whose name suggests it is relevant, do the work one event
implies, then write back to disk — update tasks.jsonl, add a memory or
context file if the work produced something worth keeping, and emit any
events that should route follow-up work to the right hat.

`)
}

func writeEventWriting(b *strings.Builder) {
	b.WriteString(`## Writing events

Emit events as single-line JSON, one event per line. Do not emit YAML —
only JSON is accepted. Example:

` + "```" + `
{"topic":"build.done","payload":{"files_touched":["main.go"]}}
` + "```" + `

Events are routing signals: keep the payload small and put real detail in
your scratchpad or a context file instead.

`)
}

func writeCompletionFooter(b *strings.Builder, sentinel string) {
	fmt.Fprintf(b, "Emit `%s` when truly done.\n", sentinel)
}
