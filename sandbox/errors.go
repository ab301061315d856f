package sandbox

import (
	"errors"
	"fmt"
)

var (
	// ErrNoImageID is returned when a build stream closes without reporting an image.
	ErrNoImageID = errors.New("build produced no image id")
	// ErrMultipleImageIDs is returned when a build stream reports more than one image.
	ErrMultipleImageIDs = errors.New("build produced multiple image ids")
	// ErrMissingOutput is returned when a script run left no output file behind.
	ErrMissingOutput = errors.New("script produced no output file")
)

// IOError reports a host filesystem failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// BuildError reports an engine build failure for a logical image name.
type BuildError struct {
	Image string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("failed to build image %q: %v", e.Image, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// ContainerLaunchError reports a container create or start failure.
type ContainerLaunchError struct {
	Container string
	Op        string
	Err       error
}

func (e *ContainerLaunchError) Error() string {
	return fmt.Sprintf("failed to %s container %s: %v", e.Op, e.Container, e.Err)
}

func (e *ContainerLaunchError) Unwrap() error { return e.Err }

// LogStreamError reports a log transport failure while draining container output.
// The run it belongs to still returns the output captured so far.
type LogStreamError struct {
	Container string
	Err       error
}

func (e *LogStreamError) Error() string {
	return fmt.Sprintf("log stream of container %s: %v", e.Container, e.Err)
}

func (e *LogStreamError) Unwrap() error { return e.Err }

// UnknownImageError is returned for a named run against an unregistered logical name.
type UnknownImageError struct {
	Name string
}

func (e *UnknownImageError) Error() string {
	return fmt.Sprintf("unknown image: %s", e.Name)
}
