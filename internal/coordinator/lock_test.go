package coordinator

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLockTryAcquireAndRelease(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "ralph-lock-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	lockPath := filepath.Join(tmpDir, "loop.lock")
	meta := LockMetadata{PID: 1234, Started: time.Now(), Prompt: "do the thing"}

	t.Run("FirstAcquireSucceeds", func(t *testing.T) {
		lock := NewLock(lockPath)
		ok, err := lock.TryAcquire(meta)
		if err != nil {
			t.Fatalf("TryAcquire failed: %v", err)
		}
		if !ok {
			t.Fatal("Expected first TryAcquire to succeed")
		}

		read, err := ReadMetadata(lockPath)
		if err != nil {
			t.Fatalf("ReadMetadata failed: %v", err)
		}
		if read.PID != meta.PID || read.Prompt != meta.Prompt {
			t.Errorf("Expected metadata %+v, got %+v", meta, read)
		}

		if err := lock.Release(); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
	})

	t.Run("SecondAcquireFailsWhileHeld", func(t *testing.T) {
		holder := NewLock(lockPath)
		ok, err := holder.TryAcquire(meta)
		if err != nil || !ok {
			t.Fatalf("Expected holder to acquire lock, ok=%v err=%v", ok, err)
		}
		defer func() { _ = holder.Release() }()

		contender := NewLock(lockPath)
		ok, err = contender.TryAcquire(meta)
		if err != nil {
			t.Fatalf("TryAcquire returned error instead of ok=false: %v", err)
		}
		if ok {
			t.Fatal("Expected contending TryAcquire to fail while lock is held")
		}
	})

	t.Run("ReacquireAfterRelease", func(t *testing.T) {
		first := NewLock(lockPath)
		ok, err := first.TryAcquire(meta)
		if err != nil || !ok {
			t.Fatalf("Expected first acquire to succeed, ok=%v err=%v", ok, err)
		}
		if err := first.Release(); err != nil {
			t.Fatalf("Release failed: %v", err)
		}

		second := NewLock(lockPath)
		ok, err = second.TryAcquire(meta)
		if err != nil {
			t.Fatalf("TryAcquire failed: %v", err)
		}
		if !ok {
			t.Fatal("Expected reacquire to succeed after release")
		}
		_ = second.Release()
	})
}
