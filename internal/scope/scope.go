// Package scope is the lifetime boundary that owns one job's temp
// directory and a LIFO stack of release callbacks. Every processor tracks
// the files it creates against the job's scope instead of managing its
// own cleanup.
package scope

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RetryPolicy bounds the retries Release uses against filesystems that
// briefly refuse to delete a just-closed file.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond}

// Scope owns a unique temp directory and a list of release callbacks.
type Scope struct {
	mu       sync.Mutex
	root     string
	releases []func() error
	released bool
	retry    RetryPolicy
}

// New creates and tracks a fresh temp directory under baseDir, named with
// jobID plus a random suffix so concurrent jobs never collide.
func New(baseDir, jobID string) (*Scope, error) {
	if jobID == "" {
		jobID = "job"
	}
	dir := filepath.Join(baseDir, fmt.Sprintf("%s-%s", jobID, uuid.NewString()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("scope: create temp dir: %w", err)
	}
	return &Scope{root: dir, retry: DefaultRetryPolicy}, nil
}

// Root returns the scope's temp directory.
func (s *Scope) Root() string {
	return s.root
}

// AcquireTemp creates a subdirectory under the scope's root; it registers
// no callback of its own and is removed with the root on Release.
func (s *Scope) AcquireTemp(name string) (string, error) {
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("scope: acquire temp %q: %w", name, err)
	}
	return dir, nil
}

// TempFilePath returns a path for name inside the scope root without
// creating it; the caller is expected to Track its removal once written.
func (s *Scope) TempFilePath(name string) string {
	return filepath.Join(s.root, name)
}

// Track registers a cleanup callback, run during Release in LIFO order
// (last tracked, first released) — mirroring defer semantics but
// accumulated across an entire job instead of one function.
func (s *Scope) Track(release func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		// Scope already released: run immediately rather than silently drop.
		if err := release(); err != nil {
			log.Printf("scope: late release callback failed: %v", err)
		}
		return
	}
	s.releases = append(s.releases, release)
}

// TrackFile is a convenience for the common case: remove a single file. A
// file already gone by release time (e.g. retained by the caller after an
// upload failure) is not an error.
func (s *Scope) TrackFile(path string) {
	s.Track(func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
}

// Release runs every tracked callback in LIFO order, then removes the root
// directory. Safe to call more than once; tolerates callback errors by
// logging and continuing rather than aborting cleanup partway.
func (s *Scope) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	releases := s.releases
	s.releases = nil
	s.released = true
	s.mu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		if err := releases[i](); err != nil {
			log.Printf("scope: release callback failed: %v", err)
		}
	}

	if err := s.removeRootWithRetry(); err != nil {
		log.Printf("scope: failed to remove temp dir %s after retries: %v", s.root, err)
	}
}

func (s *Scope) removeRootWithRetry() error {
	var lastErr error
	delay := s.retry.BaseDelay
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		lastErr = os.RemoveAll(s.root)
		if lastErr == nil {
			return nil
		}
		if attempt < s.retry.MaxAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return lastErr
}
