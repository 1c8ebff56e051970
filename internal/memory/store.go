// Package memory implements the shared memory store (spec §6's
// `<agent-dir>/memories.md`, referenced by spec §4.7's "Shared memory
// access" rule): a single markdown file every loop — primary and
// worktree alike, via the symlink the coordinator installs — reads and
// appends to, guarded by an advisory file lock so concurrent loops never
// interleave writes.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gofrs/flock"
)

// MaxTextLength is the soft cap on a single memory's text (spec §3's
// Memory entity: "text ≤ ~280 characters"). Append truncates rather than
// rejecting, since this is a guideline for a short tagged note, not a
// hard protocol limit.
const MaxTextLength = 280

// Memory is one entry in memories.md (spec §3's Memory entity: id, text,
// optional tags, created-at).
type Memory struct {
	ID        string
	Text      string
	Tags      []string
	CreatedAt time.Time
}

// Store is the shared `memories.md` at path. Append takes an exclusive
// lock; Read takes a shared lock — matching spec §4.7's "append acquires
// an exclusive file lock; read acquires a shared file lock."
type Store struct {
	path  string
	fl    *flock.Flock
	clock func() time.Time
}

// New returns a Store backed by path, creating neither the file nor its
// parent directory until first use.
func New(path string) *Store {
	return &Store{path: path, fl: flock.New(path)}
}

// Path returns the file this store reads and appends to.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

// Append adds entry as its own line (first terminating the file's last
// line if it lacks a newline), within the exclusive-lock window: the read-modify-write
// spec §4.7 requires, so a concurrent Append from another loop can never
// interleave with this one's read of the prior content. entry is a bare
// text note with no tags; use AppendMemory to attach tags.
func (s *Store) Append(entry string) error {
	return s.AppendMemory(Memory{Text: entry})
}

// AppendMemory appends m, filling in ID and CreatedAt if unset and
// truncating Text to MaxTextLength.
func (s *Store) AppendMemory(m Memory) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if len(m.Text) > MaxTextLength {
		m.Text = m.Text[:MaxTextLength]
	}

	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("acquiring exclusive lock on %s: %w", s.path, err)
	}
	defer func() { _ = s.fl.Unlock() }()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating memory dir: %w", err)
		}
	}

	existing, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}

	content := string(existing)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += formatMemory(m) + "\n"

	if err := os.WriteFile(s.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}

// formatMemory renders m as a single markdown bullet line:
// `- <id> <rfc3339> [tag1,tag2] text`. One line per memory keeps the file
// append-only-friendly and trivially line-diffable, matching the
// tasks.jsonl/history.jsonl append-only idiom used elsewhere even though
// this file is markdown rather than JSON (spec §6 names it memories.md).
func formatMemory(m Memory) string {
	tags := ""
	if len(m.Tags) > 0 {
		tags = "[" + strings.Join(m.Tags, ",") + "] "
	}
	return fmt.Sprintf("- %s %s %s%s", m.ID, m.CreatedAt.UTC().Format(time.RFC3339), tags, m.Text)
}

// parseMemory reverses formatMemory. Lines that don't match the format are
// returned as a Memory with only Text set, so hand-edited notes still
// round-trip instead of vanishing.
func parseMemory(line string) Memory {
	line = strings.TrimPrefix(strings.TrimSpace(line), "-")
	line = strings.TrimSpace(line)

	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 3 {
		return Memory{Text: line}
	}
	ts, err := time.Parse(time.RFC3339, fields[1])
	if err != nil {
		return Memory{Text: line}
	}

	rest := fields[2]
	var tags []string
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end == -1 {
			return Memory{Text: line}
		}
		tagStr := rest[1:end]
		if tagStr != "" {
			tags = strings.Split(tagStr, ",")
		}
		rest = strings.TrimSpace(rest[end+1:])
	}

	return Memory{ID: fields[0], CreatedAt: ts, Tags: tags, Text: rest}
}

// Read returns the full contents of memories.md under a shared lock. A
// missing file reads as empty rather than an error — a fresh loop has no
// memories yet.
func (s *Store) Read() (string, error) {
	if err := s.fl.RLock(); err != nil {
		return "", fmt.Errorf("acquiring shared lock on %s: %w", s.path, err)
	}
	defer func() { _ = s.fl.Unlock() }()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", s.path, err)
	}
	return string(data), nil
}

// Memories parses Read's content back into structured Memory entries, one
// per non-blank line, oldest first.
func (s *Store) Memories() ([]Memory, error) {
	content, err := s.Read()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	var memories []Memory
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		memories = append(memories, parseMemory(line))
	}
	return memories, nil
}

// Entries renders Memories as plain text lines, suitable for feeding
// directly into the prompt builder's Memories slice
// (internal/prompt's Context.Memories).
func (s *Store) Entries() ([]string, error) {
	memories, err := s.Memories()
	if err != nil {
		return nil, err
	}
	entries := make([]string, len(memories))
	for i, m := range memories {
		entries[i] = m.Text
	}
	return entries, nil
}
