package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/jsonmessage"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Options holds configuration for the Manager
type Options struct {
	Timeout           time.Duration
	TarDir            string
	WorkspaceDir      string
	ScriptImage       string
	PullScriptImage   bool
	MaxConcurrentRuns int64
	EvictOnRebuild    bool
	Limits            Limits
}

// Manager owns the engine handle and the image registry, and exposes the
// two execution modes.
type Manager struct {
	logger  *zap.Logger
	engine  Engine
	opts    Options
	fs      FileSystem
	builder *ImageBuilder
	runner  *ContainerRunner
	slots   *semaphore.Weighted

	specMu sync.Mutex
	specs  []BuildSpec

	// buildMu serializes builds; mu guards images.
	buildMu sync.Mutex
	mu      sync.RWMutex
	images  map[string]Image
}

// ManagerOption defines a functional option for Manager
type ManagerOption func(*Manager)

// WithFileSystem sets the FileSystem used for workspaces
func WithFileSystem(fs FileSystem) ManagerOption {
	return func(m *Manager) {
		m.fs = fs
	}
}

// NewManager creates a new Manager with default implementations and optional interfaces
func NewManager(logger *zap.Logger, engine Engine, opts Options, options ...ManagerOption) *Manager {
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 1
	}

	m := &Manager{
		logger:  logger,
		engine:  engine,
		opts:    opts,
		fs:      &RealFileSystem{},
		builder: NewImageBuilder(logger, engine),
		runner:  NewContainerRunner(logger, engine, opts.Limits),
		slots:   semaphore.NewWeighted(opts.MaxConcurrentRuns),
		images:  make(map[string]Image),
	}

	for _, opt := range options {
		opt(m)
	}

	return m
}

// RegisterBuildSpec records spec under its logical name without building it.
// Registering a name again replaces the earlier spec.
func (m *Manager) RegisterBuildSpec(spec BuildSpec) error {
	if spec.Name == "" {
		return errors.New("build spec name is required")
	}
	if spec.ContextDir == "" {
		return fmt.Errorf("build spec %q: context dir is required", spec.Name)
	}
	if spec.Dockerfile == "" {
		spec.Dockerfile = "Dockerfile"
	}

	m.specMu.Lock()
	defer m.specMu.Unlock()
	for i := range m.specs {
		if m.specs[i].Name == spec.Name {
			m.specs[i] = spec
			return nil
		}
	}
	m.specs = append(m.specs, spec)
	return nil
}

// BuildAll builds every registered spec and makes sure the script
// interpreter image is available. The first failure aborts.
func (m *Manager) BuildAll(ctx context.Context) error {
	m.specMu.Lock()
	specs := append([]BuildSpec(nil), m.specs...)
	m.specMu.Unlock()

	for _, spec := range specs {
		if _, err := m.Build(ctx, spec); err != nil {
			return err
		}
	}

	if _, registered := m.Image(m.opts.ScriptImage); !registered && m.opts.PullScriptImage {
		if err := m.pull(ctx, m.opts.ScriptImage); err != nil {
			return err
		}
	}
	return nil
}

// Build packs and builds one spec and installs the result in the registry.
func (m *Manager) Build(ctx context.Context, spec BuildSpec) (Image, error) {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	logger := m.logger.With(zap.String("image", spec.Name))
	logger.Info("building image", zap.String("context_dir", spec.ContextDir), zap.String("dockerfile", spec.Dockerfile))

	tarPath, err := PackContextFile(spec.ContextDir, m.opts.TarDir, spec.Name)
	if err != nil {
		ImageBuildsTotal.WithLabelValues(outcomeError).Inc()
		return Image{}, &BuildError{Image: spec.Name, Err: err}
	}

	tarFile, err := os.Open(tarPath) //nolint:gosec // staged by PackContextFile
	if err != nil {
		ImageBuildsTotal.WithLabelValues(outcomeError).Inc()
		return Image{}, &BuildError{Image: spec.Name, Err: &IOError{Op: "open", Path: tarPath, Err: err}}
	}
	defer tarFile.Close()

	img, err := m.builder.Build(ctx, tarFile, spec.Dockerfile, spec.Name)
	if err != nil {
		ImageBuildsTotal.WithLabelValues(outcomeError).Inc()
		return Image{}, err
	}
	ImageBuildsTotal.WithLabelValues(outcomeOK).Inc()

	m.mu.Lock()
	previous, replaced := m.images[spec.Name]
	m.images[spec.Name] = img
	m.mu.Unlock()

	if replaced && m.opts.EvictOnRebuild && previous.ID != img.ID {
		m.removeImage(ctx, previous)
	}
	return img, nil
}

// Image returns the registered image for a logical name.
func (m *Manager) Image(name string) (Image, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[name]
	return img, ok
}

// Run dispatches req to the matching execution mode.
func (m *Manager) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	switch r := req.(type) {
	case NamedImageRun:
		return m.RunNamedImage(ctx, r.Image, r.Args)
	case ScriptRun:
		return m.RunScript(ctx, r.Source, r.Args)
	default:
		return RunResult{}, fmt.Errorf("unsupported run request %T", req)
	}
}

// RunNamedImage runs the registered image with args as its command.
func (m *Manager) RunNamedImage(ctx context.Context, name string, args []string) (RunResult, error) {
	img, ok := m.Image(name)
	if !ok {
		RunsTotal.WithLabelValues(modeNamedImage, outcomeError).Inc()
		return RunResult{}, &UnknownImageError{Name: name}
	}

	return m.run(ctx, modeNamedImage, RunSpec{
		Image:   img.ID,
		Cmd:     args,
		Timeout: m.opts.Timeout,
	})
}

// RunScript runs source with the interpreter image. The interpreter's stdout
// is redirected into the workspace output file, which becomes the result's
// Stdout; stderr comes from the container log. The workspace is destroyed
// before RunScript returns, whatever the outcome.
func (m *Manager) RunScript(ctx context.Context, source string, args []string) (RunResult, error) {
	ws, err := NewWorkspace(m.fs, m.opts.WorkspaceDir)
	if err != nil {
		RunsTotal.WithLabelValues(modeScript, outcomeError).Inc()
		return RunResult{}, err
	}
	defer func() {
		if rmErr := ws.Destroy(); rmErr != nil {
			CleanupFailuresTotal.WithLabelValues(cleanupWorkspace).Inc()
			m.logger.Error("failed to remove workspace", zap.String("path", ws.HostDir), zap.Error(rmErr))
		}
	}()

	if err := ws.WriteInput(source); err != nil {
		RunsTotal.WithLabelValues(modeScript, outcomeError).Inc()
		return RunResult{}, err
	}

	result, runErr := m.run(ctx, modeScript, RunSpec{
		Image: m.scriptImageRef(),
		Cmd:   ScriptCommand(args),
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: ws.HostDir,
			Target: ContainerWorkdir,
		}},
		Timeout: m.opts.Timeout,
	})
	var logErr *LogStreamError
	if runErr != nil && !errors.As(runErr, &logErr) {
		return result, runErr
	}

	output, readErr := ws.ReadOutput()
	switch {
	case readErr == nil:
		result.Stdout = output
	case result.TimedOut && errors.Is(readErr, ErrMissingOutput):
		// Killed before the shell opened the output file.
		result.Stdout = ""
	default:
		return result, readErr
	}
	return result, runErr
}

// run holds an admission slot for the duration of one container run.
func (m *Manager) run(ctx context.Context, mode string, spec RunSpec) (RunResult, error) {
	if err := m.slots.Acquire(ctx, 1); err != nil {
		RunsTotal.WithLabelValues(mode, outcomeError).Inc()
		return RunResult{}, fmt.Errorf("waiting for a free sandbox slot: %w", err)
	}
	defer m.slots.Release(1)

	RunsInFlight.Inc()
	defer RunsInFlight.Dec()

	result, err := m.runner.Run(ctx, spec)

	outcome := outcomeOK
	switch {
	case err != nil:
		outcome = outcomeError
	case result.TimedOut:
		outcome = outcomeTimeout
	}
	RunsTotal.WithLabelValues(mode, outcome).Inc()
	RunDuration.WithLabelValues(mode).Observe(result.Elapsed.Seconds())

	m.logger.Info("sandbox run finished",
		zap.String("mode", mode),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", result.Elapsed),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)),
		zap.Error(err))
	return result, err
}

// scriptImageRef resolves the interpreter image: a registered logical name
// maps to its built image, anything else is used as an engine reference.
func (m *Manager) scriptImageRef() string {
	if img, ok := m.Image(m.opts.ScriptImage); ok {
		return img.ID
	}
	return m.opts.ScriptImage
}

// ScriptCommand is the container command of a script run. Interpreter stdout
// goes to the output file inside the bind mount.
func ScriptCommand(args []string) []string {
	var line strings.Builder
	line.WriteString("python -u ")
	line.WriteString(shellQuote(path.Join(ContainerWorkdir, InputFileName)))
	for _, arg := range args {
		line.WriteString(" ")
		line.WriteString(shellQuote(arg))
	}
	line.WriteString(" > ")
	line.WriteString(shellQuote(path.Join(ContainerWorkdir, OutputFileName)))
	return []string{"sh", "-c", line.String()}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (m *Manager) pull(ctx context.Context, ref string) error {
	m.logger.Info("pulling script image", zap.String("image", ref))
	stream, err := m.engine.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return &BuildError{Image: ref, Err: fmt.Errorf("pull: %w", err)}
	}
	defer stream.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(stream, io.Discard, 0, false, nil); err != nil {
		return &BuildError{Image: ref, Err: fmt.Errorf("pull: %w", err)}
	}
	return nil
}

func (m *Manager) removeImage(ctx context.Context, img Image) {
	_, err := m.engine.ImageRemove(ctx, img.ID, image.RemoveOptions{Force: true, PruneChildren: true})
	if err != nil {
		CleanupFailuresTotal.WithLabelValues(cleanupImage).Inc()
		m.logger.Error("failed to remove image", zap.String("image", img.LogicalName), zap.String("id", img.ID), zap.Error(err))
		return
	}
	m.logger.Info("image removed", zap.String("image", img.LogicalName), zap.String("id", img.ID))
}

// Close removes every registered image. Failures are logged and returned
// joined; the registry is emptied either way.
func (m *Manager) Close(ctx context.Context) error {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	m.mu.Lock()
	images := m.images
	m.images = make(map[string]Image)
	m.mu.Unlock()

	var errs []error
	for _, img := range images {
		if _, err := m.engine.ImageRemove(ctx, img.ID, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil {
			CleanupFailuresTotal.WithLabelValues(cleanupImage).Inc()
			m.logger.Error("failed to remove image", zap.String("image", img.LogicalName), zap.String("id", img.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("remove image %s: %w", img.LogicalName, err))
		}
	}
	return errors.Join(errs...)
}
