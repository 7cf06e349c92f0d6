package workspace

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_CreatesDirectory(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)

	h, err := m.Acquire()
	require.NoError(t, err)

	info, err := os.Stat(h.Path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.NotEmpty(t, h.ID)
}

func TestAcquire_ConcurrentIdentifiersAreDistinct(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	const n = 50
	var mu sync.Mutex
	seen := make(map[string]bool, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Acquire()
			assert.NoError(t, err)
			mu.Lock()
			seen[h.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n, "all workspace identifiers must be pairwise distinct")
}

func TestRelease_RemovesDirectory(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	h, err := m.Acquire()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(h.Path, "report.xlsx"), []byte("x"), 0o644))

	h.Release()

	_, err = os.Stat(h.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestRelease_IsIdempotent(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	h, err := m.Acquire()
	require.NoError(t, err)

	h.Release()
	h.Release() // already gone, must not panic or error

	var nilHandle *Handle
	nilHandle.Release()
}

func TestSweepStale_RemovesOnlyOldDirectories(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root)
	require.NoError(t, err)

	old, err := m.Acquire()
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old.Path, past, past))

	fresh, err := m.Acquire()
	require.NoError(t, err)

	removed := m.SweepStale(time.Hour)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Path)
	assert.NoError(t, err)
}
