package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/ralph-run/ralph/internal/events"
)

// ReaderState is the Event Reader's state machine (spec §4.2).
type ReaderState int

const (
	// Unopened means ReadNew has never successfully opened the file.
	Unopened ReaderState = iota
	// Tailing means the reader has an offset into a known file.
	Tailing
	// ClosedEOF is declared alongside the other states but never entered:
	// a read that reaches EOF leaves the reader Tailing.
	ClosedEOF
)

// Reader tails a single events JSONL file, returning newly appended,
// complete lines since the last call to ReadNew.
type Reader struct {
	path   string
	offset int64
	info   os.FileInfo
	state  ReaderState
}

// NewReader returns a Reader positioned at the start of path. The file need
// not exist yet — ReadNew tolerates that and simply reports no new events.
func NewReader(path string) *Reader {
	return &Reader{path: path, state: Unopened}
}

// State returns the reader's current state.
func (r *Reader) State() ReaderState {
	return r.state
}

// Offset returns the byte offset the reader has consumed up to.
func (r *Reader) Offset() int64 {
	return r.offset
}

// ReadNew opens the current events file, seeks to the previously stored
// offset, and returns every newly appended complete line as either a parsed
// Event or a MalformedLine. Malformed lines are skipped, not fatal
// (spec §4.2). Truncation or rotation — detected by comparing file identity
// against the cached os.FileInfo — restarts the tail from offset 0.
func (r *Reader) ReadNew() (events.ParseResult, error) {
	f, err := os.Open(r.path)
	if os.IsNotExist(err) {
		return events.ParseResult{}, nil
	}
	if err != nil {
		return events.ParseResult{}, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return events.ParseResult{}, fmt.Errorf("stat events file: %w", err)
	}

	if r.info != nil && (!os.SameFile(r.info, info) || info.Size() < r.offset) {
		log.Printf("eventlog: events file %s was truncated or rotated, restarting tail from offset 0", r.path)
		r.offset = 0
	}
	r.info = info

	if _, err := f.Seek(r.offset, 0); err != nil {
		return events.ParseResult{}, fmt.Errorf("seek events file: %w", err)
	}

	result := events.ParseResult{}
	br := bufio.NewReaderSize(f, 64*1024)

	lineNumber := 0
	consumed := r.offset
	for {
		chunk, err := br.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				return result, fmt.Errorf("scan events file: %w", err)
			}
			// EOF with no trailing newline: an in-progress write. Leave it
			// for the next ReadNew call rather than treating it as complete.
			break
		}

		lineNumber++
		consumed += int64(len(chunk))
		raw := strings.TrimSuffix(chunk, "\n")
		raw = strings.TrimSuffix(raw, "\r")
		if raw == "" {
			continue
		}

		e, parseErr := events.ParseLine(raw)
		if parseErr != nil {
			result.Malformed = append(result.Malformed, events.MalformedLine{
				LineNumber: lineNumber,
				RawContent: raw,
				ParseError: parseErr,
			})
			continue
		}
		result.Events = append(result.Events, e)
	}

	r.offset = consumed
	r.state = Tailing
	return result, nil
}
