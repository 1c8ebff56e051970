package tasks

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "ralph-tasks-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })
	return New(filepath.Join(tmpDir, "tasks.jsonl"))
}

func TestStoreAllMissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)
	all, err := s.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("Expected no tasks, got %v", all)
	}
}

func TestStoreCreateDefaultsStatusAndTimestamps(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Create("write the design doc", 2, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if task.ID == "" {
		t.Error("Expected a generated ID")
	}
	if task.Status != Open {
		t.Errorf("Expected status %s, got %s", Open, task.Status)
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Errorf("Expected non-zero timestamps, got %+v", task)
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("Expected 1 task, got %d", len(all))
	}
	if got := all[task.ID]; got.Title != "write the design doc" || got.Priority != 2 {
		t.Errorf("Unexpected task: %+v", got)
	}
}

func TestStoreTransitionAppendsNewSnapshot(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Create("ship it", 1, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := s.Transition(task.ID, Running, ""); err != nil {
		t.Fatalf("Transition to running failed: %v", err)
	}
	if _, err := s.Transition(task.ID, Closed, "shipped in v1.2"); err != nil {
		t.Fatalf("Transition to closed failed: %v", err)
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("Expected folding to 1 task, got %d", len(all))
	}
	got := all[task.ID]
	if got.Status != Closed {
		t.Errorf("Expected final status %s, got %s", Closed, got.Status)
	}
	if got.Result != "shipped in v1.2" {
		t.Errorf("Expected result to be recorded, got %q", got.Result)
	}

	// The log itself must have three lines, one per snapshot.
	data, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatalf("Failed to read tasks.jsonl: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 3 {
		t.Errorf("Expected 3 appended lines, got %d", lines)
	}
}

func TestStoreTransitionUnknownTaskErrors(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Transition("does-not-exist", Closed, ""); err == nil {
		t.Error("Expected an error transitioning an unknown task")
	}
}

func TestStoreActiveExcludesTerminalStatuses(t *testing.T) {
	s := newTestStore(t)
	open, err := s.Create("open task", 3, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	closed, err := s.Create("closed task", 3, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := s.Transition(closed.ID, Closed, "done"); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	active, err := s.Active()
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != open.ID {
		t.Errorf("Expected only the open task active, got %+v", active)
	}
}

func TestStoreReadyExcludesBlockedTasks(t *testing.T) {
	s := newTestStore(t)
	blocker, err := s.Create("blocker", 1, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	blocked, err := s.Create("blocked", 1, []string{blocker.ID})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ready, err := s.Ready()
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != blocker.ID {
		t.Errorf("Expected only the blocker ready, got %+v", ready)
	}

	if _, err := s.Transition(blocker.ID, Closed, "unblocked"); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	ready, err = s.Ready()
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != blocked.ID {
		t.Errorf("Expected the previously-blocked task ready, got %+v", ready)
	}
}

func TestStoreReadyOrdersByPriorityThenCreatedAt(t *testing.T) {
	s := newTestStore(t)
	s.clock = func() time.Time { return time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC) }

	low, err := s.Create("low priority", 5, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	s.clock = func() time.Time { return time.Date(2026, 7, 30, 0, 1, 0, 0, time.UTC) }
	high, err := s.Create("high priority", 1, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	s.clock = func() time.Time { return time.Date(2026, 7, 30, 0, 2, 0, 0, time.UTC) }
	earlierHigh, err := s.Create("earlier high priority", 1, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ready, err := s.Ready()
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if len(ready) != 3 {
		t.Fatalf("Expected 3 ready tasks, got %d", len(ready))
	}
	if ready[0].ID != high.ID || ready[1].ID != earlierHigh.ID || ready[2].ID != low.ID {
		t.Errorf("Unexpected order: %v", []string{ready[0].Title, ready[1].Title, ready[2].Title})
	}
}

func TestStoreAllSkipsMalformedLines(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("good task", 1, nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("Failed to open tasks.jsonl: %v", err)
	}
	if _, err := f.WriteString("not json\n\n"); err != nil {
		t.Fatalf("Failed to write garbage: %v", err)
	}
	f.Close()

	all, err := s.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected malformed lines skipped, got %d tasks", len(all))
	}
}
