// Package debugstore keeps diagnostic bundles captured from failed jobs.
//
// A debug session is a directory of files (screenshot, page-source dump)
// that outlives the workspace the job ran in. Sessions are independent of
// the artifact registry: an artifact's expiry never touches a debug session
// and vice versa.
package debugstore

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown debug identifiers.
var ErrNotFound = errors.New("debug session not found")

// DefaultMaxSessions caps retained sessions so failed jobs cannot fill the
// disk over time. Oldest sessions are evicted first.
const DefaultMaxSessions = 50

// Index is the enumerable store of past failure diagnostics.
type Index struct {
	dir         string
	maxSessions int

	mu sync.Mutex // serializes create/retention against each other
}

// Session summarizes one debug bundle.
type Session struct {
	DebugID   string    `json:"debug_id"`
	CreatedAt time.Time `json:"created_at"`
	FileCount int       `json:"file_count"`
}

// File describes one diagnostic file inside a session.
type File struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Size  int64  `json:"size"`
	Title string `json:"title,omitempty"`
}

// NewIndex returns an Index rooted at dir, creating it if needed.
// maxSessions <= 0 selects DefaultMaxSessions.
func NewIndex(dir string, maxSessions int) (*Index, error) {
	if dir == "" {
		return nil, fmt.Errorf("debug dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create debug dir %s: %w", dir, err)
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Index{dir: dir, maxSessions: maxSessions}, nil
}

// Dir returns the index root.
func (ix *Index) Dir() string {
	return ix.dir
}

// Create copies the given diagnostic files into a new session and returns
// the session's debug ID and the stored file names. The caller names the
// files explicitly; the index never rediscovers them by pattern-matching a
// directory listing. At least one file is required.
func (ix *Index) Create(files []string) (string, []string, error) {
	if len(files) == 0 {
		return "", nil, fmt.Errorf("debug session requires at least one file")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	debugID := uuid.NewString()
	sessionDir := filepath.Join(ix.dir, debugID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create debug session dir: %w", err)
	}

	var stored []string
	for _, src := range files {
		name := filepath.Base(src)
		if err := copyFile(src, filepath.Join(sessionDir, name)); err != nil {
			// Partial bundles are still useful; keep what we have.
			log.Printf("[debug] failed to copy %s into session %s: %v", src, debugID, err)
			continue
		}
		stored = append(stored, name)
	}
	if len(stored) == 0 {
		_ = os.RemoveAll(sessionDir)
		return "", nil, fmt.Errorf("no diagnostic files could be stored")
	}

	ix.enforceRetention()
	return debugID, stored, nil
}

// List enumerates sessions, newest first by directory creation time.
func (ix *Index) List() ([]Session, error) {
	entries, err := os.ReadDir(ix.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read debug dir: %w", err)
	}

	sessions := make([]Session, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		count := 0
		if files, err := os.ReadDir(filepath.Join(ix.dir, entry.Name())); err == nil {
			count = len(files)
		}
		sessions = append(sessions, Session{
			DebugID:   entry.Name(),
			CreatedAt: info.ModTime(),
			FileCount: count,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Get returns the files of one session, or ErrNotFound.
func (ix *Index) Get(debugID string) ([]File, error) {
	if _, err := uuid.Parse(debugID); err != nil {
		return nil, ErrNotFound
	}
	sessionDir := filepath.Join(ix.dir, debugID)
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return nil, ErrNotFound
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.IsDir() {
			continue
		}
		f := File{
			Name: entry.Name(),
			Type: fileType(entry.Name()),
			Size: info.Size(),
		}
		if f.Type == "markup" {
			f.Title = pageTitle(filepath.Join(sessionDir, entry.Name()))
		}
		files = append(files, f)
	}
	return files, nil
}

// enforceRetention drops the oldest sessions beyond maxSessions.
// Caller holds ix.mu.
func (ix *Index) enforceRetention() {
	entries, err := os.ReadDir(ix.dir)
	if err != nil {
		return
	}

	type aged struct {
		name string
		mod  time.Time
	}
	var dirs []aged
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, aged{name: entry.Name(), mod: info.ModTime()})
	}
	if len(dirs) <= ix.maxSessions {
		return
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].mod.Before(dirs[j].mod) })
	for _, d := range dirs[:len(dirs)-ix.maxSessions] {
		if err := os.RemoveAll(filepath.Join(ix.dir, d.name)); err != nil {
			log.Printf("[debug] retention: failed to remove session %s: %v", d.name, err)
		} else {
			log.Printf("[debug] retention: evicted session %s", d.name)
		}
	}
}

// fileType infers a coarse type from the filename suffix.
func fileType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return "image"
	case ".html", ".htm":
		return "markup"
	}
	return "other"
}

// pageTitle extracts the <title> of a page-source dump. Best effort only.
func pageTitle(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
