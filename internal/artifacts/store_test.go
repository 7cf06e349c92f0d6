package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPut_MovesFileUnderFreshName(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "Daily Attendance (3).xlsx")
	require.NoError(t, os.WriteFile(src, []byte("spreadsheet"), 0o644))

	fileID, dest, err := store.Put(src, "report", ".xlsx")
	require.NoError(t, err)

	assert.NotEmpty(t, fileID)
	assert.True(t, strings.HasPrefix(filepath.Base(dest), "report_"))
	assert.True(t, strings.HasSuffix(dest, ".xlsx"))
	assert.NotContains(t, dest, "Daily Attendance", "untrusted original name must not survive")

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "spreadsheet", string(data))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source must be gone after the move")
}

func TestPut_NamesDoNotCollide(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	srcDir := t.TempDir()
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		src := filepath.Join(srcDir, "in.xlsx")
		require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
		fileID, dest, err := store.Put(src, "report", "xlsx")
		require.NoError(t, err)
		assert.False(t, seen[dest])
		assert.False(t, seen[fileID])
		seen[dest] = true
		seen[fileID] = true
	}
}

func TestConversionDir_CreateAndRemove(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	dir, err := store.ConversionDir("conv123")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page_1.png"), []byte("png"), 0o644))

	store.RemoveConversionDir("conv123")
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	store.RemoveConversionDir("conv123") // idempotent
}

func TestAddPage_MovesIntoConversionDir(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.ConversionDir("conv123")
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "page-01.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0o644))

	name, err := store.AddPage("conv123", 1, src)
	require.NoError(t, err)
	assert.Equal(t, "page_1.png", name)

	data, err := os.ReadFile(filepath.Join(store.Dir(), "conv_conv123", "page_1.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestStoreSweepStale(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	old := filepath.Join(store.Dir(), "report_old.xlsx")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	fresh := filepath.Join(store.Dir(), "report_new.xlsx")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	removed := store.SweepStale(time.Hour)
	assert.Equal(t, 1, removed)
	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
