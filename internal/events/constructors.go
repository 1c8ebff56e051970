package events

import "time"

// New builds an Event with Time defaulted to now if unset by the caller.
func New(topic string, payload interface{}) Event {
	return Event{Topic: topic, Payload: payload, Time: time.Now().UTC()}
}

// WithSource returns a copy of e with Source set.
func (e Event) WithSource(source string) Event {
	e.Source = source
	return e
}

// WithTarget returns a copy of e with Target set, overriding trigger-based
// hat routing for this event (spec §3 Hat.Target invariant).
func (e Event) WithTarget(target string) Event {
	e.Target = target
	return e
}

// Malformed builds the event.malformed event the engine synthesizes when an
// ingested JSONL line fails to parse (spec §4.5 step 5, §7).
func Malformed(line MalformedLine, truncateAt int) Event {
	content := line.RawContent
	if truncateAt > 0 && len(content) > truncateAt {
		content = content[:truncateAt] + "…"
	}
	return New("event.malformed", map[string]interface{}{
		"line_number":       line.LineNumber,
		"error":             line.ParseError.Error(),
		"content_truncated": content,
	})
}

// Resume builds the task.resume fallback-recovery event the engine injects
// when the queue runs dry without a termination reason (spec §4.5 step 6).
func Resume() Event {
	return New("task.resume", "queue empty; continuing")
}

// BuildBlocked builds the build.blocked backpressure event synthesized when
// a build.done payload fails schema validation (spec §4.5 step 7).
func BuildBlocked(reason string) Event {
	return New("build.blocked", map[string]interface{}{"error": reason})
}

// Terminate builds the loop.terminate event published at shutdown
// (spec §4.1, §7).
func Terminate(reason string, iterations int, duration time.Duration) Event {
	return New("loop.terminate", map[string]interface{}{
		"reason":          reason,
		"iterations":      iterations,
		"duration_millis": duration.Milliseconds(),
	})
}
