// Package session implements the Session Recorder (spec §4.8, C9): a
// wildcard bus subscriber that appends every event to a JSONL journal for
// post-hoc replay and evaluation. It is a side-channel only — nothing it
// writes ever feeds back into the iteration engine.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ralph-run/ralph/internal/events"
	"github.com/ralph-run/ralph/internal/hats"
)

// Entry is one line of the session journal: `{ts, event_topic, data,
// iteration, hat}` per spec §4.8.
type Entry struct {
	Time      time.Time   `json:"ts"`
	Topic     string      `json:"event_topic"`
	Data      interface{} `json:"data,omitempty"`
	Iteration int         `json:"iteration"`
	Hat       string      `json:"hat,omitempty"`
}

const (
	loopStartTopic = "_meta.loop_start"
	loopEndTopic   = "_meta.loop_end"
)

// IterationProvider supplies the current iteration number and hat name at
// the moment an event is recorded, so the recorder can stamp each entry
// without the engine needing to know anything about journaling.
type IterationProvider interface {
	CurrentIteration() int
	CurrentHat() string
}

// Recorder appends journal entries to a JSONL file. Register it with the
// bus via AddRecorder (the same "wildcard subscription" mechanism
// internal/eventlog's Logger uses) so it sees every published event.
type Recorder struct {
	path     string
	provider IterationProvider
	clock    func() time.Time
	mu       sync.Mutex
}

// New returns a Recorder that appends to path, creating its parent
// directory on first write. provider may be nil, in which case entries are
// stamped with Iteration 0 and no Hat.
func New(path string, provider IterationProvider) *Recorder {
	return &Recorder{path: path, provider: provider}
}

func (r *Recorder) now() time.Time {
	if r.clock != nil {
		return r.clock()
	}
	return time.Now()
}

// Record implements bus.Handler, letting Recorder be registered directly
// via bus.AddRecorder.
func (r *Recorder) Record(e events.Event) error {
	entry := Entry{
		Time:  r.now(),
		Topic: e.Topic,
		Data:  e.Payload,
	}
	if r.provider != nil {
		entry.Iteration = r.provider.CurrentIteration()
		entry.Hat = r.provider.CurrentHat()
	}
	return r.append(entry)
}

// LoopStart emits the `_meta.loop_start` sentinel marking the beginning of
// a recorded run (spec §4.8).
func (r *Recorder) LoopStart() error {
	return r.append(Entry{Time: r.now(), Topic: loopStartTopic})
}

// LoopEnd emits the `_meta.loop_end` sentinel marking the end of a recorded
// run, carrying the final iteration count.
func (r *Recorder) LoopEnd(iteration int) error {
	return r.append(Entry{Time: r.now(), Topic: loopEndTopic, Iteration: iteration})
}

func (r *Recorder) append(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode session entry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create session journal dir: %w", err)
		}
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write session entry: %w", err)
	}
	return nil
}

// HatOwner adapts a hats.Registry lookup into the "hat" field Record wants:
// the empty string if topic has no owner.
func HatOwner(reg *hats.Registry, topic string) string {
	if reg == nil {
		return ""
	}
	if h, ok := reg.Owner(topic); ok {
		return h.ID
	}
	return ""
}
