package sandbox

import (
	"bytes"
	"context"
	"sync"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

const (
	containerNamePrefix   = "codebot-run-"
	defaultCleanupTimeout = 10 * time.Second
	defaultPidsLimit      = 128
)

// RunSpec describes one container run.
type RunSpec struct {
	Image   string
	Cmd     []string
	Mounts  []mount.Mount
	Timeout time.Duration
}

// ContainerHandle identifies the container of one run.
type ContainerHandle struct {
	Name string
	ID   string
}

// ref prefers the engine id and falls back to the name when create did not return one.
func (h ContainerHandle) ref() string {
	if h.ID != "" {
		return h.ID
	}
	return h.Name
}

// Limits holds the resource constraints applied to every container.
type Limits struct {
	MemoryMB       int
	NetworkEnabled bool
	// FollowLogs keeps the log stream open until the container exits. When
	// false only the output present at attach time is read.
	FollowLogs bool
}

// ContainerRunner creates, starts and always removes one container per run.
type ContainerRunner struct {
	engine         Engine
	logger         *zap.Logger
	limits         Limits
	cleanupTimeout time.Duration
}

// NewContainerRunner creates a new ContainerRunner
func NewContainerRunner(logger *zap.Logger, engine Engine, limits Limits) *ContainerRunner {
	return &ContainerRunner{
		engine:         engine,
		logger:         logger,
		limits:         limits,
		cleanupTimeout: defaultCleanupTimeout,
	}
}

// Run executes spec in a fresh container. The log stream is drained against
// spec.Timeout; on timeout the output captured so far is returned with
// TimedOut set. Whatever the outcome, no container created by this call
// exists once it returns (stop and remove failures are logged, not returned).
func (r *ContainerRunner) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	handle := ContainerHandle{Name: containerNamePrefix + newToken()}
	logger := r.logger.With(zap.String("container", handle.Name), zap.String("image", spec.Image))

	config, hostConfig := r.containerConfig(spec)
	created, err := r.engine.ContainerCreate(ctx, config, hostConfig, nil, nil, handle.Name)
	handle.ID = created.ID
	// The engine may have created the container before the call failed, so
	// removal by name is attempted even then.
	defer r.cleanup(ctx, handle, logger)
	if err != nil {
		return RunResult{}, &ContainerLaunchError{Container: handle.Name, Op: "create", Err: err}
	}

	if err := r.engine.ContainerStart(ctx, handle.ID, container.StartOptions{}); err != nil {
		return RunResult{}, &ContainerLaunchError{Container: handle.Name, Op: "start", Err: err}
	}
	started := time.Now()
	logger.Debug("container started", zap.Strings("cmd", spec.Cmd))

	result, err := r.collect(ctx, handle, spec.Timeout, started)
	if result.TimedOut {
		logger.Info("container timed out", zap.Duration("timeout", spec.Timeout))
	}
	return result, err
}

func (r *ContainerRunner) containerConfig(spec RunSpec) (*container.Config, *container.HostConfig) {
	config := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Tty:          false,
		AttachStdout: true,
		AttachStderr: true,
	}

	pids := int64(defaultPidsLimit)
	hostConfig := &container.HostConfig{
		Mounts:      spec.Mounts,
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges:true"},
		Resources: container.Resources{
			PidsLimit: &pids,
		},
	}
	if r.limits.MemoryMB > 0 {
		hostConfig.Resources.Memory = int64(r.limits.MemoryMB) * 1024 * 1024
	}
	if r.limits.NetworkEnabled {
		hostConfig.NetworkMode = "bridge"
	}
	return config, hostConfig
}

// collect races the log drain against the timeout.
func (r *ContainerRunner) collect(ctx context.Context, handle ContainerHandle, timeout time.Duration, started time.Time) (RunResult, error) {
	logs, err := r.engine.ContainerLogs(ctx, handle.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     r.limits.FollowLogs,
	})
	if err != nil {
		return RunResult{Elapsed: time.Since(started)}, &LogStreamError{Container: handle.Name, Err: err}
	}
	// Closing the stream unblocks an abandoned drain.
	defer logs.Close()

	var stdout, stderr syncBuffer
	drained := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, logs)
		drained <- copyErr
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case copyErr := <-drained:
		result := RunResult{
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
			Elapsed: time.Since(started),
		}
		if copyErr != nil {
			return result, &LogStreamError{Container: handle.Name, Err: copyErr}
		}
		return result, nil
	case <-timer.C:
		return RunResult{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Elapsed:  timeout,
			TimedOut: true,
		}, nil
	case <-ctx.Done():
		return RunResult{
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
			Elapsed: time.Since(started),
		}, ctx.Err()
	}
}

// cleanup stops the container without grace period and force-removes it.
// It runs on a context detached from the caller so a cancelled request
// still tears its container down.
func (r *ContainerRunner) cleanup(ctx context.Context, handle ContainerHandle, logger *zap.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cleanupTimeout)
	defer cancel()

	if handle.ID != "" {
		noGrace := 0
		if err := r.engine.ContainerStop(cleanupCtx, handle.ID, container.StopOptions{Timeout: &noGrace}); err != nil {
			// The container usually has exited on its own already.
			logger.Debug("failed to stop container", zap.Error(err))
		}
	}

	err := r.engine.ContainerRemove(cleanupCtx, handle.ref(), container.RemoveOptions{Force: true})
	switch {
	case err == nil:
		logger.Debug("container removed")
	case handle.ID == "" && cerrdefs.IsNotFound(err):
		// Create failed before the engine registered the name.
	default:
		CleanupFailuresTotal.WithLabelValues(cleanupContainer).Inc()
		logger.Error("failed to remove container", zap.String("container_id", handle.ID), zap.Error(err))
	}
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent snapshots.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
