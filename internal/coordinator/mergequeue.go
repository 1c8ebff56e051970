package coordinator

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MergeQueueEntry is one line of `<state-dir>/merge-queue.jsonl` (spec
// §4.7 "Completion": a worktree loop enqueues itself here on successful
// termination via Coordinator.CompleteLoop). Nothing in this module spawns
// a merge loop or consumes the queue; merges run through Coordinator.Merge,
// which `ralph loops retry` calls.
type MergeQueueEntry struct {
	LoopID    string    `json:"loop_id"`
	Branch    string    `json:"branch"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// EnqueueMerge appends entry to the merge queue at path. Append-only: the
// queue is a log of intent, not a mutable work list; entries are never
// removed or rewritten.
func EnqueueMerge(path string, entry MergeQueueEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating merge queue dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening merge queue %s: %w", path, err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling merge queue entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending to merge queue %s: %w", path, err)
	}
	return nil
}

// ReadMergeQueue returns every entry recorded in the merge queue, in
// enqueue order, skipping malformed lines.
func ReadMergeQueue(path string) ([]MergeQueueEntry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening merge queue %s: %w", path, err)
	}
	defer f.Close()

	var entries []MergeQueueEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e MergeQueueEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
