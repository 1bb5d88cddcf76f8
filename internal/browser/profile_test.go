package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestIsolateCopiesTreeWithoutLocks(t *testing.T) {
	src := filepath.Join(t.TempDir(), "Chrome")
	writeFile(t, filepath.Join(src, "Local State"), `{"profile":{}}`)
	writeFile(t, filepath.Join(src, "Default", "Cookies"), "cookies")
	writeFile(t, filepath.Join(src, "Default", "Local Storage", "leveldb", "000003.log"), "ls")
	writeFile(t, filepath.Join(src, "Default", "LOCK"), "")
	writeFile(t, filepath.Join(src, "lockfile"), "")
	if runtime.GOOS != "windows" {
		require.NoError(t, os.Symlink("host-1234", filepath.Join(src, "SingletonLock")))
	}

	iso := &ProfileIsolator{Source: src, TempDir: t.TempDir(), Workers: 2}
	require.True(t, iso.Available())

	ip, err := iso.Isolate(context.Background())
	require.NoError(t, err)
	defer ip.Remove()

	assert.NotEqual(t, src, ip.Dir)
	assert.Equal(t, src, ip.Source)
	assert.Equal(t, int64(4), ip.Files)

	got, err := os.ReadFile(filepath.Join(ip.Dir, "Default", "Local Storage", "leveldb", "000003.log"))
	require.NoError(t, err)
	assert.Equal(t, "ls", string(got))
	assert.FileExists(t, filepath.Join(ip.Dir, "Default", "LOCK"))
	assert.NoFileExists(t, filepath.Join(ip.Dir, "lockfile"))
	_, err = os.Lstat(filepath.Join(ip.Dir, "SingletonLock"))
	assert.True(t, os.IsNotExist(err))

	// the original is untouched
	assert.FileExists(t, filepath.Join(src, "lockfile"))

	require.NoError(t, ip.Remove())
	assert.NoDirExists(t, ip.Dir)
}

func TestIsolateUnavailable(t *testing.T) {
	iso := &ProfileIsolator{Source: filepath.Join(t.TempDir(), "missing")}
	assert.False(t, iso.Available())

	_, err := iso.Isolate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProfileUnavailable))

	file := filepath.Join(t.TempDir(), "not-a-dir")
	writeFile(t, file, "x")
	assert.False(t, (&ProfileIsolator{Source: file}).Available())
	assert.False(t, (&ProfileIsolator{}).Available())
}

func TestIsolateCancelledLeavesNothing(t *testing.T) {
	src := filepath.Join(t.TempDir(), "Chrome")
	writeFile(t, filepath.Join(src, "Default", "Cookies"), "cookies")

	parent := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&ProfileIsolator{Source: src, TempDir: parent}).Isolate(ctx)
	require.Error(t, err)

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoveNil(t *testing.T) {
	var ip *IsolatedProfile
	assert.NoError(t, ip.Remove())
}
