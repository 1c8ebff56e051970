// Package runid implements the Run Isolator (spec §4.6, C7): it generates
// the per-run events file name, reads and writes the current-events marker,
// and resolves the default fallback path external tools use when the
// marker is missing. This guarantees a fresh run never ingests events left
// over from a run with a different topology (spec §8's run-isolation
// property).
package runid

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MarkerName is the file under the state directory that names the active
// events file (spec §6's state-directory layout).
const MarkerName = "current-events"

// DefaultEventsFile is the path external tools (the `emit` helper) fall
// back to when the marker is missing (spec §7's "Missing current-events
// marker" row).
const DefaultEventsFile = "events.jsonl"

// NewRunID returns a fresh events file name, `events-YYYYMMDD-HHMMSS.jsonl`
// in UTC, per spec §3's Run Identity entity.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("events-%s.jsonl", now.UTC().Format("20060102-150405"))
}

// StartFresh writes a new marker pointing at a newly generated run id and
// returns the absolute events-file path. Used when `ralph run` begins a new
// loop (not a resume).
func StartFresh(stateDir string, now time.Time) (eventsPath string, err error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	runID := NewRunID(now)
	if err := writeMarker(stateDir, runID); err != nil {
		return "", err
	}
	return filepath.Join(stateDir, runID), nil
}

// Resume reads the existing marker and returns the events-file path it
// names, for `ralph resume` to continue from. If the marker is missing,
// Resume falls back to DefaultEventsFile under stateDir rather than
// failing, matching the external-emit-tool fallback semantics in spec §7 —
// a resume with no prior run then works from the default path.
func Resume(stateDir string) (eventsPath string, err error) {
	runID, err := readMarker(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return filepath.Join(stateDir, DefaultEventsFile), nil
		}
		return "", err
	}
	return filepath.Join(stateDir, runID), nil
}

// CurrentEventsPath resolves the marker the same way the external `emit`
// tool does: read current-events under stateDir, falling back to
// DefaultEventsFile if the marker file does not exist (spec §7).
func CurrentEventsPath(stateDir string) (string, error) {
	runID, err := readMarker(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return filepath.Join(stateDir, DefaultEventsFile), nil
		}
		return "", err
	}
	return filepath.Join(stateDir, runID), nil
}

func writeMarker(stateDir, runID string) error {
	path := filepath.Join(stateDir, MarkerName)
	if err := os.WriteFile(path, []byte(runID+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s marker: %w", MarkerName, err)
	}
	return nil
}

func readMarker(stateDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, MarkerName))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
