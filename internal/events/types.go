// Package events defines Ralph's wire-level event: the single data shape
// that flows between the agent, the JSONL log, the event bus, and every
// subscriber (hats, the session recorder, the prompt builder).
package events

import "time"

// Event is the unit of communication between an agent iteration and the
// orchestrator. One Event occupies exactly one line of a JSONL events file.
//
// Payload is deliberately untyped: writers may hand in a string or any
// JSON-serializable value, and readers normalize whatever comes back off the
// wire into either a string or a map[string]interface{} (see ParseLine).
type Event struct {
	// Topic is the dotted routing key, e.g. "task.start", "build.done".
	Topic string `json:"topic"`
	// Payload is the event body: a free-form string or a JSON object.
	Payload interface{} `json:"payload"`
	// Time is when the event occurred. Zero means "not supplied"; writers
	// fill it in at the moment of logging.
	Time time.Time `json:"-"`
	// Source optionally names the hat or component that produced this event.
	Source string `json:"source,omitempty"`
	// Target optionally names the hat this event is routed to, overriding
	// normal trigger-based selection.
	Target string `json:"target,omitempty"`
}

// MalformedLine describes one JSONL line that failed to parse as an Event.
// The reader skips it rather than aborting; the engine synthesizes an
// event.malformed Event from it.
type MalformedLine struct {
	LineNumber int
	RawContent string
	ParseError error
}

// ParseResult is what the Event Reader returns for one tail pass.
type ParseResult struct {
	Events    []Event
	Malformed []MalformedLine
}

// PayloadString returns the payload as a string. Object payloads are not
// stringified here — callers that need a textual summary should inspect the
// concrete type first; this is a convenience for the common string-payload
// case.
func (e Event) PayloadString() (string, bool) {
	s, ok := e.Payload.(string)
	return s, ok
}

// PayloadObject returns the payload as a JSON object, if it is one.
func (e Event) PayloadObject() (map[string]interface{}, bool) {
	m, ok := e.Payload.(map[string]interface{})
	return m, ok
}
