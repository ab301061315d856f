package sandbox

import (
	"errors"
	"os"
	"path/filepath"
)

// Workspace is a per-invocation host directory bind-mounted into a container.
type Workspace struct {
	HostDir string
	fs      FileSystem
}

// NewWorkspace allocates a uniquely named subdirectory of baseDir.
func NewWorkspace(fs FileSystem, baseDir string) (*Workspace, error) {
	// Bind mount sources must be absolute.
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, &IOError{Op: "resolve workspace base", Path: baseDir, Err: err}
	}
	if err := fs.MkdirAll(absBase, DirPermission); err != nil {
		return nil, &IOError{Op: "create workspace base", Path: absBase, Err: err}
	}

	dir := filepath.Join(absBase, "run-"+newToken())
	if err := fs.Mkdir(dir, DirPermission); err != nil {
		return nil, &IOError{Op: "create workspace", Path: dir, Err: err}
	}
	// Mkdir is subject to umask.
	if err := fs.Chmod(dir, WorkspacePermission); err != nil {
		_ = fs.RemoveAll(dir)
		return nil, &IOError{Op: "chmod workspace", Path: dir, Err: err}
	}
	return &Workspace{HostDir: dir, fs: fs}, nil
}

// InputPath is the host path of the input file.
func (w *Workspace) InputPath() string {
	return filepath.Join(w.HostDir, InputFileName)
}

// OutputPath is the host path of the output file.
func (w *Workspace) OutputPath() string {
	return filepath.Join(w.HostDir, OutputFileName)
}

// WriteInput writes content to the input file, replacing any previous content.
func (w *Workspace) WriteInput(content string) error {
	if err := w.fs.WriteFile(w.InputPath(), []byte(content), FilePermission); err != nil {
		return &IOError{Op: "write input", Path: w.InputPath(), Err: err}
	}
	return nil
}

// ReadOutput returns the content of the output file. A missing file yields
// ErrMissingOutput.
func (w *Workspace) ReadOutput() (string, error) {
	data, err := w.fs.ReadFile(w.OutputPath())
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrMissingOutput
	}
	if err != nil {
		return "", &IOError{Op: "read output", Path: w.OutputPath(), Err: err}
	}
	return string(data), nil
}

// Destroy removes the input file, the output file and the workspace
// directory. Every step is attempted; the joined failures are returned.
func (w *Workspace) Destroy() error {
	var errs []error
	for _, path := range []string{w.InputPath(), w.OutputPath()} {
		if err := w.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, &IOError{Op: "remove", Path: path, Err: err})
		}
	}
	// RemoveAll also takes whatever else the script left behind.
	if err := w.fs.RemoveAll(w.HostDir); err != nil {
		errs = append(errs, &IOError{Op: "remove workspace", Path: w.HostDir, Err: err})
	}
	return errors.Join(errs...)
}
