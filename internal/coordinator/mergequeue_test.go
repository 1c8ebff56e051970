package coordinator

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMergeQueueEmpty(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "ralph-mergequeue-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	entries, err := ReadMergeQueue(filepath.Join(tmpDir, "merge-queue.jsonl"))
	if err != nil {
		t.Fatalf("ReadMergeQueue on missing file failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no entries, got %d", len(entries))
	}
}

func TestEnqueueAndReadMergeQueue(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "ralph-mergequeue-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	path := filepath.Join(tmpDir, "merge-queue.jsonl")
	first := MergeQueueEntry{LoopID: "ralph-1", Branch: "ralph/loop/aaa111", EnqueuedAt: time.Now()}
	second := MergeQueueEntry{LoopID: "ralph-2", Branch: "ralph/loop/bbb222", EnqueuedAt: time.Now()}

	if err := EnqueueMerge(path, first); err != nil {
		t.Fatalf("EnqueueMerge failed: %v", err)
	}
	if err := EnqueueMerge(path, second); err != nil {
		t.Fatalf("EnqueueMerge failed: %v", err)
	}

	entries, err := ReadMergeQueue(path)
	if err != nil {
		t.Fatalf("ReadMergeQueue failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].LoopID != first.LoopID || entries[1].LoopID != second.LoopID {
		t.Errorf("Expected entries in enqueue order, got %+v", entries)
	}
}

func TestReadMergeQueueSkipsMalformedLines(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "ralph-mergequeue-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	path := filepath.Join(tmpDir, "merge-queue.jsonl")
	entry := MergeQueueEntry{LoopID: "ralph-1", Branch: "ralph/loop/aaa111", EnqueuedAt: time.Now()}
	if err := EnqueueMerge(path, entry); err != nil {
		t.Fatalf("EnqueueMerge failed: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("Failed to open merge queue for appending garbage: %v", err)
	}
	if _, err := f.WriteString("not json\n\n"); err != nil {
		t.Fatalf("Failed to append garbage: %v", err)
	}
	_ = f.Close()

	entries, err := ReadMergeQueue(path)
	if err != nil {
		t.Fatalf("ReadMergeQueue failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected malformed/blank lines to be skipped, got %d entries", len(entries))
	}
}
