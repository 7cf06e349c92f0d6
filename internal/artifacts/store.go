package artifacts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the stable directory artifacts are relocated into. Filenames
// are derived from a timestamp plus a fresh identifier, never from the
// original download name, which is untrusted and may collide.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store root.
func (s *Store) Dir() string {
	return s.dir
}

// Put moves src out of a workspace into the store under a collision-free
// name and returns the new file ID and destination path. The move is
// rename-based where possible; a cross-device rename falls back to
// copy-then-rename so readers never observe a half-written file.
func (s *Store) Put(src, kind, ext string) (fileID, dest string, err error) {
	fileID = uuid.NewString()
	name := fmt.Sprintf("%s_%s_%s%s",
		kind, time.Now().Format("20060102T150405"), fileID[:8], normalizeExt(ext))
	dest = filepath.Join(s.dir, name)

	if err := moveFile(src, dest); err != nil {
		return "", "", fmt.Errorf("failed to move %s into store: %w", src, err)
	}
	return fileID, dest, nil
}

// AddPage moves one rendered page image into a conversion's directory and
// returns its stored filename.
func (s *Store) AddPage(conversionID string, page int, src string) (string, error) {
	name := fmt.Sprintf("page_%d.png", page)
	dest := filepath.Join(s.dir, "conv_"+conversionID, name)
	if err := moveFile(src, dest); err != nil {
		return "", fmt.Errorf("failed to store page %d: %w", page, err)
	}
	return name, nil
}

// ConversionDir allocates a per-conversion subdirectory for page images.
func (s *Store) ConversionDir(conversionID string) (string, error) {
	dir := filepath.Join(s.dir, "conv_"+conversionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create conversion dir: %w", err)
	}
	return dir, nil
}

// RemoveConversionDir deletes a conversion's image directory. Idempotent,
// suitable as a scheduled expiry action.
func (s *Store) RemoveConversionDir(conversionID string) {
	_ = os.RemoveAll(filepath.Join(s.dir, "conv_"+conversionID))
}

// SweepStale removes store entries older than maxAge. Registry entries are
// lost on restart, so files left behind by a previous process are reclaimed
// here rather than lingering forever.
func (s *Store) SweepStale(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed
}

func normalizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// moveFile renames src to dest, falling back to copy-then-rename when the
// two sit on different filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile writes src to dest via a temp file and rename, keeping the
// appearance of dest atomic.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp := dest + ".tmp-" + fmt.Sprint(time.Now().UnixNano())
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
		_ = os.Remove(tmp)
	}()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
