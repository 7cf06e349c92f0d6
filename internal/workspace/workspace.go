// Package workspace manages per-job scratch directories.
//
// Every job gets its own randomly named directory under a common scratch
// root. The directory is owned by exactly one in-flight job and is removed
// on every exit path; removal failures are logged and swallowed because the
// response has already been decided by the time cleanup runs.
package workspace

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Manager creates and tears down job workspaces under a single root.
type Manager struct {
	root string
}

// Handle is an acquired workspace. ID is unique across concurrent
// acquisitions by construction (random identifier, no coordination).
type Handle struct {
	ID   string
	Path string
}

// NewManager returns a Manager rooted at dir, creating it if needed.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("workspace root is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root %s: %w", dir, err)
	}
	return &Manager{root: dir}, nil
}

// Root returns the scratch root directory.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh workspace directory and returns its handle.
func (m *Manager) Acquire() (*Handle, error) {
	id := uuid.NewString()
	path := filepath.Join(m.root, id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace %s: %w", path, err)
	}
	return &Handle{ID: id, Path: path}, nil
}

// Release removes the workspace tree. Safe to call more than once; a
// directory that is already gone is not an error. Cleanup is advisory and
// never propagates a failure to the caller.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	if err := os.RemoveAll(h.Path); err != nil {
		log.Printf("[workspace] failed to remove %s: %v", h.Path, err)
	}
}

// SweepStale removes workspace directories older than maxAge. A process
// restart orphans any workspaces of jobs that were in flight; the server
// runs this at startup to reclaim them.
func (m *Manager) SweepStale(maxAge time.Duration) int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		log.Printf("[workspace] sweep: cannot read %s: %v", m.root, err)
		return 0
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("[workspace] sweep: failed to remove %s: %v", path, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Printf("[workspace] sweep: removed %d stale workspaces", removed)
	}
	return removed
}
