package coordinator

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LoopStatus tracks a loop record's lifecycle in the registry.
type LoopStatus string

const (
	LoopRunning     LoopStatus = "running"
	LoopCompleted   LoopStatus = "completed"
	LoopNeedsReview LoopStatus = "needs_review"
	LoopDiscarded   LoopStatus = "discarded"
)

// LoopRecord is one entry in the loop registry (spec §4.7 step 4). It is
// also the shape appended to a loop's history.jsonl — the registry is
// derived from the append-only history, never the other way around.
type LoopRecord struct {
	LoopID      string     `json:"loop_id"`
	Branch      string     `json:"branch"`
	WorktreeDir string     `json:"worktree_dir"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Status      LoopStatus `json:"status"`
	PID         int        `json:"pid,omitempty"`
}

// NewLoopID generates a `ralph-YYYYMMDD-HHMMSS-<6hex>` loop id (spec
// §4.7 step 1), using the leading hex digits of a fresh uuid for the
// random suffix — the same `uuid.New()` id-generation idiom the teacher
// uses throughout `internal/events`.
func NewLoopID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return fmt.Sprintf("ralph-%s-%s", now.UTC().Format("20060102-150405"), suffix)
}

// ShortID returns the trailing `-<6hex>` suffix of a loop id, used to
// name its branch (`ralph/loop/<short-id>`) per spec §4.7 step 2.
func ShortID(loopID string) string {
	parts := strings.Split(loopID, "-")
	if len(parts) == 0 {
		return loopID
	}
	return parts[len(parts)-1]
}

// Registry is the derived `.ralph/loops/registry.json` state backing
// `ralph loops list`. It is always rebuildable from the per-loop
// history.jsonl files (spec §4.7's crash-recovery rule), so corruption
// here is never fatal — just reconstruct it.
type Registry struct {
	path string
}

// NewRegistry opens the registry at path (typically
// `<state-dir>/loops/registry.json`). The file need not exist yet.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// Load reads the registry, returning an empty map if the file is absent.
func (r *Registry) Load() (map[string]LoopRecord, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return map[string]LoopRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry %s: %w", r.path, err)
	}
	var records map[string]LoopRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", r.path, err)
	}
	return records, nil
}

// Save overwrites the registry with records.
func (r *Registry) Save(records map[string]LoopRecord) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("creating registry dir: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("writing registry %s: %w", r.path, err)
	}
	return nil
}

// Upsert updates a single loop's record and persists the registry.
func (r *Registry) Upsert(rec LoopRecord) error {
	records, err := r.Load()
	if err != nil {
		return err
	}
	records[rec.LoopID] = rec
	return r.Save(records)
}

// Rebuild reconstructs the registry from the per-loop history.jsonl files
// under loopsDir (`<state-dir>/<loop_id>/history.jsonl`), discarding
// whatever the registry currently contains. This is the crash-recovery
// path spec §4.7 names: "the registry is rebuilt from it if corrupt."
func (r *Registry) Rebuild(loopsDir string) error {
	entries, err := os.ReadDir(loopsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return r.Save(map[string]LoopRecord{})
		}
		return fmt.Errorf("reading loops dir %s: %w", loopsDir, err)
	}

	records := make(map[string]LoopRecord)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		loopID := entry.Name()
		historyPath := filepath.Join(loopsDir, loopID, "history.jsonl")
		rec, err := rebuildFromHistory(loopID, historyPath)
		if err != nil {
			continue
		}
		records[loopID] = rec
	}
	return r.Save(records)
}

func rebuildFromHistory(loopID, historyPath string) (LoopRecord, error) {
	f, err := os.Open(historyPath)
	if err != nil {
		return LoopRecord{}, err
	}
	defer f.Close()

	rec := LoopRecord{LoopID: loopID, Status: LoopRunning}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var partial LoopRecord
		if err := json.Unmarshal([]byte(line), &partial); err != nil {
			continue
		}
		if partial.Branch != "" {
			rec.Branch = partial.Branch
		}
		if partial.WorktreeDir != "" {
			rec.WorktreeDir = partial.WorktreeDir
		}
		if rec.StartedAt.IsZero() && !partial.StartedAt.IsZero() {
			rec.StartedAt = partial.StartedAt
		}
		if !partial.UpdatedAt.IsZero() {
			rec.UpdatedAt = partial.UpdatedAt
		}
		if partial.Status != "" {
			rec.Status = partial.Status
		}
		if partial.PID != 0 {
			rec.PID = partial.PID
		}
	}
	return rec, scanner.Err()
}

// AppendHistory appends one LoopRecord snapshot to
// `<state-dir>/<loop_id>/history.jsonl`, the append-only source of truth
// the registry is rebuilt from.
func AppendHistory(historyPath string, rec LoopRecord) error {
	if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
		return fmt.Errorf("creating loop history dir: %w", err)
	}
	f, err := os.OpenFile(historyPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening loop history %s: %w", historyPath, err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling loop record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending loop history %s: %w", historyPath, err)
	}
	return nil
}
