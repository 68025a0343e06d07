package table

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"time"
)

// Error kinds returned by file operations. Callers pick retry or abort with
// errors.Is instead of swallowing failures.
var (
	// ErrNotFound means the file is absent; usually expected.
	ErrNotFound = errors.New("not found")
	// ErrLocked means the target is held by another process or read-only.
	ErrLocked = errors.New("locked")
	// ErrCorrupt means the operation failed in a way retrying cannot fix.
	ErrCorrupt = errors.New("corrupt")
	// ErrMalformed means a table lacks the 4-row header block.
	ErrMalformed = errors.New("malformed table")
)

// Kind classifies an OS error into one of the error kinds.
func Kind(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, ErrLocked), errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EBUSY):
		return ErrLocked
	case errors.Is(err, ErrMalformed):
		return ErrMalformed
	default:
		return ErrCorrupt
	}
}

// TempSuffix is appended to a destination path for the staging file.
const TempSuffix = ".tmp"

// Replacer swaps staged files into place.
type Replacer struct {
	attempts int
	backoff  time.Duration

	rename func(oldpath, newpath string) error
	sleep  func(time.Duration)
}

// ReplacerOption customizes a Replacer.
type ReplacerOption func(*Replacer)

// WithRename swaps the rename primitive, e.g. to simulate a held file.
func WithRename(rename func(oldpath, newpath string) error) ReplacerOption {
	return func(r *Replacer) {
		r.rename = rename
	}
}

// WithSleep swaps the backoff sleep.
func WithSleep(sleep func(time.Duration)) ReplacerOption {
	return func(r *Replacer) {
		r.sleep = sleep
	}
}

// NewReplacer creates a Replacer that tries a swap attempts times, sleeping
// backoff between tries.
func NewReplacer(attempts int, backoff time.Duration, opts ...ReplacerOption) *Replacer {
	if attempts < 1 {
		attempts = 1
	}
	r := &Replacer{
		attempts: attempts,
		backoff:  backoff,
		rename:   os.Rename,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Replace moves src over dst. The destination is made writable first; the
// rename is retried while it fails with ErrLocked. On failure both src and
// dst are left as they were.
func (r *Replacer) Replace(src, dst string) error {
	if err := MakeWritable(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: chmod %s: %v", Kind(err), dst, err)
	}

	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err := r.rename(src, dst)
		if err == nil {
			return nil
		}
		lastErr = err
		if Kind(err) != ErrLocked {
			break
		}
		if attempt < r.attempts {
			r.sleep(r.backoff)
		}
	}

	return fmt.Errorf("%w: replace %s: %v", Kind(lastErr), dst, lastErr)
}

// WriteTable stages t next to path and swaps it into place.
func (r *Replacer) WriteTable(path string, t *Table) error {
	var buf bytes.Buffer
	if err := Encode(&buf, t); err != nil {
		return err
	}
	return r.WriteFile(path, buf.Bytes())
}

// WriteFile stages data next to path and swaps it into place. A staging file
// that could not be swapped in is discarded.
func (r *Replacer) WriteFile(path string, data []byte) error {
	tmp := path + TempSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: write %s: %v", Kind(err), tmp, err)
	}
	if err := r.Replace(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// MakeWritable clears the read-only attribute of path.
func MakeWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o200 != 0 {
		return nil
	}
	return os.Chmod(path, info.Mode().Perm()|0o200)
}

// Remove deletes path after clearing its read-only attribute.
func Remove(path string) error {
	if err := MakeWritable(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: chmod %s: %v", Kind(err), path, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: remove %s: %v", Kind(err), path, err)
	}
	return nil
}
