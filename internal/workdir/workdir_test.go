package workdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeExistingDirectory(t *testing.T) {
	dir := t.TempDir()

	got, ok := Normalize(dir)
	require.True(t, ok)
	assert.Equal(t, dir, got)
}

func TestNormalizeRelativePath(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	got, ok := Normalize("sub")
	require.True(t, ok)
	// Resolve symlinks before comparing; t.TempDir may sit behind one.
	want, err := filepath.EvalSymlinks(sub)
	require.NoError(t, err)
	gotResolved, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	assert.Equal(t, want, gotResolved)
}

func TestNormalizeHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, ok := Normalize("~")
	require.True(t, ok)
	assert.Equal(t, home, got)
}

func TestNormalizeRejectsPlaceholders(t *testing.T) {
	for _, raw := range []string{
		"<path>",
		"<dir>",
		"<DIRECTORY>",
		"/path/to",
		"/path/to/dir",
		"/absolute/or/relative",
		"/some/path",
		"path/to",
		"/path/to/",
	} {
		_, ok := Normalize(raw)
		assert.False(t, ok, "expected placeholder rejection: %q", raw)
	}
}

func TestNormalizeAcceptsPlaceholderLookalikeThatExists(t *testing.T) {
	// "path/to" is a classic model placeholder, but when such a directory
	// really exists it is a legitimate target and must resolve.
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "path", "to"), 0755))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	got, ok := Normalize("path/to")
	require.True(t, ok)
	want, err := filepath.EvalSymlinks(filepath.Join(dir, "path", "to"))
	require.NoError(t, err)
	gotResolved, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	assert.Equal(t, want, gotResolved)

	// Angle-bracketed tokens stay rejected even if a matching directory
	// exists on disk.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "<path>"), 0755))
	_, ok = Normalize("<path>")
	assert.False(t, ok)
}

func TestNormalizeRejectsMissingOrFile(t *testing.T) {
	dir := t.TempDir()

	_, ok := Normalize(filepath.Join(dir, "does-not-exist"))
	assert.False(t, ok)

	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, ok = Normalize(file)
	assert.False(t, ok)
}

func TestNormalizeEmpty(t *testing.T) {
	_, ok := Normalize("")
	assert.False(t, ok)
	_, ok = Normalize("   ")
	assert.False(t, ok)
}
