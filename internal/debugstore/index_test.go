package debugstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDiag(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCreate_StoresNamedFiles(t *testing.T) {
	ix, err := NewIndex(t.TempDir(), 0)
	require.NoError(t, err)

	src := t.TempDir()
	shot := writeDiag(t, src, "failure_screenshot.png", "\x89PNG fake")
	page := writeDiag(t, src, "failure_page.html", "<html><head><title>Login</title></head></html>")

	debugID, stored, err := ix.Create([]string{shot, page})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"failure_screenshot.png", "failure_page.html"}, stored)

	files, err := ix.Get(debugID)
	require.NoError(t, err)
	require.Len(t, files, 2)
}

func TestCreate_RequiresFiles(t *testing.T) {
	ix, err := NewIndex(t.TempDir(), 0)
	require.NoError(t, err)

	_, _, err = ix.Create(nil)
	assert.Error(t, err)
}

func TestGet_TypesAndTitles(t *testing.T) {
	ix, err := NewIndex(t.TempDir(), 0)
	require.NoError(t, err)

	src := t.TempDir()
	shot := writeDiag(t, src, "failure_screenshot.png", "img")
	page := writeDiag(t, src, "failure_page.html",
		"<html><head><title>Sekure-ID Cloud Login</title></head><body></body></html>")

	debugID, _, err := ix.Create([]string{shot, page})
	require.NoError(t, err)

	files, err := ix.Get(debugID)
	require.NoError(t, err)

	byName := map[string]File{}
	for _, f := range files {
		byName[f.Name] = f
	}
	assert.Equal(t, "image", byName["failure_screenshot.png"].Type)
	assert.Equal(t, "markup", byName["failure_page.html"].Type)
	assert.Equal(t, "Sekure-ID Cloud Login", byName["failure_page.html"].Title)
	assert.Equal(t, int64(3), byName["failure_screenshot.png"].Size)
}

func TestGet_UnknownSession(t *testing.T) {
	ix, err := NewIndex(t.TempDir(), 0)
	require.NoError(t, err)

	_, err = ix.Get("8f7e6d5c-4b3a-2190-8f7e-6d5c4b3a2190")
	assert.ErrorIs(t, err, ErrNotFound)

	// Non-UUID identifiers (including traversal attempts) are NotFound.
	_, err = ix.Get("../escape")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_NewestFirst(t *testing.T) {
	root := t.TempDir()
	ix, err := NewIndex(root, 0)
	require.NoError(t, err)

	src := t.TempDir()
	f := writeDiag(t, src, "failure_page.html", "<html></html>")

	firstID, _, err := ix.Create([]string{f})
	require.NoError(t, err)
	// Backdate the first session so ordering does not depend on timer resolution.
	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(root, firstID), past, past))

	secondID, _, err := ix.Create([]string{f})
	require.NoError(t, err)

	sessions, err := ix.List()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, secondID, sessions[0].DebugID)
	assert.Equal(t, firstID, sessions[1].DebugID)
	assert.Equal(t, 1, sessions[0].FileCount)
}

func TestCreate_RetentionEvictsOldest(t *testing.T) {
	root := t.TempDir()
	ix, err := NewIndex(root, 2)
	require.NoError(t, err)

	src := t.TempDir()
	f := writeDiag(t, src, "failure_page.html", "<html></html>")

	oldestID, _, err := ix.Create([]string{f})
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, oldestID), past, past))

	_, _, err = ix.Create([]string{f})
	require.NoError(t, err)
	_, _, err = ix.Create([]string{f})
	require.NoError(t, err)

	sessions, err := ix.List()
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	_, err = ix.Get(oldestID)
	assert.ErrorIs(t, err, ErrNotFound)
}
