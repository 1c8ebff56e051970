package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// wireEvent is the on-disk JSONL shape. Payload and TS are left as
// json.RawMessage so ParseLine can apply spec §3's flexible-deserialization
// rules instead of locking either field to one Go type.
type wireEvent struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	TS      json.RawMessage `json:"ts"`
	Source  string          `json:"source,omitempty"`
	Target  string          `json:"target,omitempty"`
}

// ParseLine parses one JSONL line into an Event. It returns an error for
// lines that are not valid JSON or are missing the required "topic" key —
// callers (the Event Reader) collect these as MalformedLine rather than
// aborting the tail.
func ParseLine(raw string) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Event{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if w.Topic == "" {
		return Event{}, fmt.Errorf("missing required \"topic\" key")
	}

	e := Event{Topic: w.Topic, Source: w.Source, Target: w.Target}

	if len(w.Payload) > 0 {
		payload, err := decodePayload(w.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("invalid payload: %w", err)
		}
		e.Payload = payload
	}

	if len(w.TS) > 0 {
		t, err := decodeTimestamp(w.TS)
		if err != nil {
			return Event{}, fmt.Errorf("invalid ts: %w", err)
		}
		e.Time = t
	}

	return e, nil
}

// decodePayload implements spec §3's rule: a JSON object becomes a Go
// object (map[string]interface{}); anything else (string, number, bool,
// array, null) is normalized to its string form.
func decodePayload(raw json.RawMessage) (interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var m map[string]interface{}
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, err
		}
		return m, nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s, nil
	}

	// Non-string scalar/array/null payload: re-emit its compact JSON form as
	// a string rather than reject the line.
	var generic interface{}
	if err := json.Unmarshal(trimmed, &generic); err != nil {
		return nil, err
	}
	return string(trimmed), nil
}

// decodeTimestamp accepts either an ISO-8601 string or a millis-epoch
// integer, per spec §3's Event.ts definition.
func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return time.Time{}, err
		}
		return time.Parse(time.RFC3339Nano, s)
	}

	millis, err := strconv.ParseInt(string(trimmed), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("ts is neither a string nor an integer: %w", err)
	}
	return time.UnixMilli(millis), nil
}

// MarshalLine renders an Event as exactly one line of valid JSON, per spec
// §3's "each event occupies exactly one line" invariant. json.Marshal never
// emits a literal newline for this shape, but string payloads are escaped by
// the encoder regardless, so the invariant holds even for payloads the
// caller built from multi-line text.
func MarshalLine(e Event) (string, error) {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	w := struct {
		Topic   string      `json:"topic"`
		Payload interface{} `json:"payload"`
		TS      string      `json:"ts"`
		Source  string      `json:"source,omitempty"`
		Target  string      `json:"target,omitempty"`
	}{
		Topic:   e.Topic,
		Payload: e.Payload,
		TS:      ts.UTC().Format(time.RFC3339Nano),
		Source:  e.Source,
		Target:  e.Target,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	line := strings.TrimRight(buf.String(), "\n")
	if strings.ContainsAny(line, "\n\r") {
		return "", fmt.Errorf("encoded event unexpectedly contains a line break")
	}
	return line, nil
}

// eventTagPattern matches the backward-compatible XML-tagged event marker
// an agent may emit inline in its stdout: <event>{"topic":"...", ...}</event>
// (spec §4.5 step 5: "backward compatibility with an XML-tagged format is
// permitted but not required").
var eventTagPattern = regexp.MustCompile(`(?s)<event>(.*?)</event>`)

// ScanStdoutForTaggedEvents extracts any XML-tagged inline events from agent
// stdout. Malformed tag bodies are skipped silently — this path is best
// effort compatibility, not the primary event channel (the JSONL file is).
func ScanStdoutForTaggedEvents(output string) []Event {
	var found []Event
	for _, m := range eventTagPattern.FindAllStringSubmatch(output, -1) {
		if len(m) < 2 {
			continue
		}
		e, err := ParseLine(strings.TrimSpace(m[1]))
		if err != nil {
			continue
		}
		found = append(found, e)
	}
	return found
}

var codeFencePattern = regexp.MustCompile("(?s)```.*?```")

// ContainsCompletionToken reports whether sentinel appears in the agent's
// output at top level — i.e. outside of fenced code blocks, where an agent
// quoting example output or a past transcript could otherwise trigger a
// false completion signal.
func ContainsCompletionToken(output, sentinel string) bool {
	stripped := codeFencePattern.ReplaceAllString(output, "")
	return strings.Contains(stripped, sentinel)
}
