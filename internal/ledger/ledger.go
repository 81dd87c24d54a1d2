// Package ledger persists per-segment completion across process restarts.
//
// The ledger is a newline-delimited list of completed segment indices,
// append-only. Each line is flushed to stable storage before the append
// returns, so a crash loses at most the segments that were in flight and
// not yet recorded. A malformed trailing line (torn write from a prior
// crash) is ignored on load; the affected segment is simply reprocessed,
// which is safe because segment encoding is overwrite-idempotent. A tear
// can also survive as a valid prefix of a larger index, so callers must
// cross-check loaded entries against the artifacts on disk before
// treating them as completed.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Ledger records completed segment indices in a flat file.
type Ledger struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// New creates a ledger backed by the file at path. The file is not created
// until the first Record call.
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Load reads the set of completed indices. A missing file is not an error
// and yields an empty set. Lines that do not parse as a non-negative
// integer are skipped.
func (l *Ledger) Load() (map[int]struct{}, error) {
	done := make(map[int]struct{})

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return done, nil
		}
		return nil, fmt.Errorf("open ledger %s: %w", l.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		idx, err := strconv.Atoi(line)
		if err != nil || idx < 0 {
			// Torn or garbage record; treat as not completed.
			continue
		}
		done[idx] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", l.path, err)
	}
	return done, nil
}

// Record durably appends index to the ledger. Safe for concurrent use;
// each record is written as a whole line under the lock and fsynced before
// returning.
func (l *Ledger) Record(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open ledger %s: %w", l.path, err)
		}
		l.f = f
	}

	if _, err := fmt.Fprintf(l.f, "%d\n", index); err != nil {
		return fmt.Errorf("append ledger entry %d: %w", index, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

// Clear deletes the ledger file. Called only after a verified successful
// reassembly; a missing file is not an error.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f != nil {
		l.f.Close()
		l.f = nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove ledger %s: %w", l.path, err)
	}
	return nil
}

// Close releases the underlying file handle without deleting the ledger.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
