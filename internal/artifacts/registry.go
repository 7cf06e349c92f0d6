// Package artifacts tracks downloadable files produced by jobs.
//
// The registry is an in-process map and is intentionally non-durable: a
// restart loses all entries, and files orphaned on disk are reclaimed by
// the startup sweep. Expiry is enforced both lazily on Resolve and by the
// deferred deletion the caller schedules; the wall clock, not scheduler
// state, is authoritative.
package artifacts

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a file ID was never registered or has
	// already been evicted.
	ErrNotFound = errors.New("artifact not found")
	// ErrExpired is returned once per expired artifact; the entry and its
	// backing file are purged as a side effect.
	ErrExpired = errors.New("artifact expired")
	// ErrDuplicateKey indicates a file ID was registered twice. IDs are
	// random, so this is a programming-contract violation, not a runtime
	// condition to recover from.
	ErrDuplicateKey = errors.New("artifact already registered")
)

// Artifact is the registry's metadata for one produced file.
type Artifact struct {
	FileID      string
	Path        string
	LogicalDate string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Registry is a concurrency-safe file-ID to artifact mapping.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Artifact

	now func() time.Time // injectable for tests
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Artifact),
		now:     time.Now,
	}
}

// Register inserts metadata for a file that already exists at path.
// Callers must complete the filesystem move before registering, never the
// reverse, so readers cannot resolve a half-written file.
func (r *Registry) Register(fileID, path, logicalDate string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[fileID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, fileID)
	}

	now := r.now()
	r.entries[fileID] = Artifact{
		FileID:      fileID,
		Path:        path,
		LogicalDate: logicalDate,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	return nil
}

// Resolve returns the artifact for fileID, ErrNotFound if it is unknown, or
// ErrExpired if its TTL has elapsed. The deadline itself is already expired:
// an artifact registered at t0 with TTL T is gone for every t >= t0+T.
// An expired entry is evicted and its
// backing file deleted before ErrExpired is returned, so a subsequent
// Resolve reports ErrNotFound. A registered entry whose backing file has
// gone missing is treated as expired regardless of its recorded deadline.
func (r *Registry) Resolve(fileID string) (Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	art, ok := r.entries[fileID]
	if !ok {
		return Artifact{}, ErrNotFound
	}

	if !r.now().Before(art.ExpiresAt) {
		r.evictLocked(fileID)
		return Artifact{}, ErrExpired
	}

	if _, err := os.Stat(art.Path); err != nil {
		// Registry and filesystem must agree; a missing file means the
		// entry is stale no matter what expires_at says.
		r.evictLocked(fileID)
		return Artifact{}, ErrExpired
	}

	return art, nil
}

// Evict removes the entry and its backing file. Idempotent: evicting an
// unknown or already-evicted file ID is a no-op, which makes it safe as a
// scheduled deferred action racing against lazy expiry.
func (r *Registry) Evict(fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked(fileID)
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) evictLocked(fileID string) {
	art, ok := r.entries[fileID]
	if !ok {
		return
	}
	delete(r.entries, fileID)
	if err := os.Remove(art.Path); err != nil && !os.IsNotExist(err) {
		log.Printf("[registry] failed to remove %s: %v", art.Path, err)
	}
}
