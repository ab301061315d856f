package sandbox

import (
	"context"
	"os"
	"time"
)

// RunRequest is one of NamedImageRun or ScriptRun.
type RunRequest interface {
	runRequest()
}

// NamedImageRun runs a registered image with the given arguments as its command.
type NamedImageRun struct {
	Image string
	Args  []string
}

// ScriptRun runs Source with the script interpreter image.
type ScriptRun struct {
	Source string
	Args   []string
}

func (NamedImageRun) runRequest() {}
func (ScriptRun) runRequest()     {}

// RunResult represents the result of one container run
type RunResult struct {
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
	TimedOut bool
}

// Runner executes run requests. *Manager is the production implementation.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

// BuildSpec identifies a buildable image by logical name.
type BuildSpec struct {
	Name       string
	ContextDir string
	Dockerfile string
}

// Image is a built image owned by the manager's registry.
type Image struct {
	LogicalName string
	Tag         string
	ID          string
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	Mkdir(path string, perm os.FileMode) error
	Chmod(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	ReadFile(filename string) ([]byte, error)
	Remove(path string) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) Mkdir(path string, perm os.FileMode) error {
	return os.Mkdir(path, perm)
}

func (RealFileSystem) Chmod(path string, perm os.FileMode) error {
	return os.Chmod(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

func (RealFileSystem) Remove(path string) error {
	return os.Remove(path)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// File permission constants
const (
	DirPermission       = 0755
	FilePermission      = 0644
	WorkspacePermission = 0777 // the container user need not match the host user
)

// Sandbox layout constants
const (
	InputFileName    = "main.py"
	OutputFileName   = "output.txt"
	ContainerWorkdir = "/sandbox"
)
