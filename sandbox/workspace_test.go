package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockFileSystem wraps RealFileSystem and fails selected operations.
type MockFileSystem struct {
	RealFileSystem
	chmodErr     error
	writeErr     error
	removeAllErr error
	removed      []string
}

func (m *MockFileSystem) Chmod(path string, perm os.FileMode) error {
	if m.chmodErr != nil {
		return m.chmodErr
	}
	return m.RealFileSystem.Chmod(path, perm)
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	return m.RealFileSystem.WriteFile(filename, data, perm)
}

func (m *MockFileSystem) RemoveAll(path string) error {
	m.removed = append(m.removed, path)
	if m.removeAllErr != nil {
		return m.removeAllErr
	}
	return m.RealFileSystem.RemoveAll(path)
}

func TestWorkspaceLifecycle(t *testing.T) {
	base := filepath.Join(t.TempDir(), "sandbox")

	ws, err := NewWorkspace(RealFileSystem{}, base)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(ws.HostDir))
	assert.Equal(t, base, filepath.Dir(ws.HostDir))
	assert.True(t, strings.HasPrefix(filepath.Base(ws.HostDir), "run-"))

	info, err := os.Stat(ws.HostDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(WorkspacePermission), info.Mode().Perm())

	require.NoError(t, ws.WriteInput("print('first')"))
	require.NoError(t, ws.WriteInput("print('second')"))
	data, err := os.ReadFile(ws.InputPath())
	require.NoError(t, err)
	assert.Equal(t, "print('second')", string(data))

	_, err = ws.ReadOutput()
	assert.ErrorIs(t, err, ErrMissingOutput)

	require.NoError(t, os.WriteFile(ws.OutputPath(), []byte("second\n"), 0644))
	output, err := ws.ReadOutput()
	require.NoError(t, err)
	assert.Equal(t, "second\n", output)

	// Files the script created on its own go too.
	require.NoError(t, os.WriteFile(filepath.Join(ws.HostDir, "extra.csv"), []byte("a,b"), 0644))

	require.NoError(t, ws.Destroy())
	_, err = os.Stat(ws.HostDir)
	assert.ErrorIs(t, err, os.ErrNotExist)
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWorkspaceDestroyWithoutFiles(t *testing.T) {
	ws, err := NewWorkspace(RealFileSystem{}, t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, ws.Destroy(), "missing input and output files are not an error")
}

func TestWorkspaceUniqueDirectories(t *testing.T) {
	base := t.TempDir()
	seen := make(map[string]bool)
	for range 20 {
		ws, err := NewWorkspace(RealFileSystem{}, base)
		require.NoError(t, err)
		assert.False(t, seen[ws.HostDir], "duplicate workspace %s", ws.HostDir)
		seen[ws.HostDir] = true
	}
}

func TestWorkspaceFailures(t *testing.T) {
	t.Run("ChmodFailureRemovesDirectory", func(t *testing.T) {
		base := t.TempDir()
		fs := &MockFileSystem{chmodErr: errors.New("operation not permitted")}

		_, err := NewWorkspace(fs, base)
		var ioErr *IOError
		require.ErrorAs(t, err, &ioErr)
		require.Len(t, fs.removed, 1)

		entries, err := os.ReadDir(base)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("WriteFailure", func(t *testing.T) {
		fs := &MockFileSystem{writeErr: errors.New("disk full")}
		ws, err := NewWorkspace(fs, t.TempDir())
		require.NoError(t, err)

		err = ws.WriteInput("print(1)")
		var ioErr *IOError
		require.ErrorAs(t, err, &ioErr)
		assert.Equal(t, ws.InputPath(), ioErr.Path)
	})

	t.Run("DestroyReportsRemovalFailure", func(t *testing.T) {
		fs := &MockFileSystem{removeAllErr: errors.New("device busy")}
		ws, err := NewWorkspace(fs, t.TempDir())
		require.NoError(t, err)
		require.NoError(t, ws.WriteInput("print(1)"))

		err = ws.Destroy()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "device busy")
		_, statErr := os.Stat(ws.InputPath())
		assert.ErrorIs(t, statErr, os.ErrNotExist, "files are removed even when the directory is not")
	})

	t.Run("BaseIsAFile", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(base, nil, 0644))

		_, err := NewWorkspace(RealFileSystem{}, base)
		var ioErr *IOError
		require.ErrorAs(t, err, &ioErr)
	})
}
