package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeContainer is a container known to MockEngine.
type fakeContainer struct {
	name       string
	config     *container.Config
	hostConfig *container.HostConfig
}

// MockEngine implements Engine in memory for testing
type MockEngine struct {
	mu         sync.Mutex
	nextID     int
	containers map[string]*fakeContainer // live containers by id
	created    []*fakeContainer
	stopped    []string

	createErr error
	startErr  error
	logsErr   error
	stopErr   error
	removeErr error

	// onStart simulates the workload; it runs synchronously in ContainerStart.
	onStart func(c *fakeContainer)
	// logs returns the log stream of a started container. Nil means empty logs.
	logs func(c *fakeContainer) io.ReadCloser

	buildBodies   []string // consumed one per ImageBuild call
	buildErr      error
	buildOptions  []build.ImageBuildOptions
	buildContexts [][]byte
	pulled        []string
	pullBody      string
	removedImages []string
}

func NewMockEngine() *MockEngine {
	return &MockEngine{containers: make(map[string]*fakeContainer)}
}

func (m *MockEngine) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return container.CreateResponse{}, m.createErr
	}
	m.nextID++
	id := fmt.Sprintf("c%04d", m.nextID)
	c := &fakeContainer{name: name, config: config, hostConfig: hostConfig}
	m.containers[id] = c
	m.created = append(m.created, c)
	return container.CreateResponse{ID: id}, nil
}

func (m *MockEngine) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	m.mu.Lock()
	c, ok := m.containers[id]
	startErr := m.startErr
	onStart := m.onStart
	m.mu.Unlock()
	if startErr != nil {
		return startErr
	}
	if !ok {
		return cerrdefs.ErrNotFound
	}
	if onStart != nil {
		onStart(c)
	}
	return nil
}

func (m *MockEngine) ContainerLogs(_ context.Context, id string, _ container.LogsOptions) (io.ReadCloser, error) {
	m.mu.Lock()
	c, ok := m.containers[id]
	logsErr := m.logsErr
	logs := m.logs
	m.mu.Unlock()
	if logsErr != nil {
		return nil, logsErr
	}
	if !ok {
		return nil, cerrdefs.ErrNotFound
	}
	if logs == nil {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return logs(c), nil
}

func (m *MockEngine) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, id)
	return m.stopErr
}

func (m *MockEngine) ContainerRemove(_ context.Context, ref string, _ container.RemoveOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeErr != nil {
		return m.removeErr
	}
	for id, c := range m.containers {
		if id == ref || c.name == ref {
			delete(m.containers, id)
			return nil
		}
	}
	return cerrdefs.ErrNotFound
}

func (m *MockEngine) ImageBuild(_ context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error) {
	data, err := io.ReadAll(buildContext)
	if err != nil {
		return build.ImageBuildResponse{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buildErr != nil {
		return build.ImageBuildResponse{}, m.buildErr
	}
	m.buildOptions = append(m.buildOptions, options)
	m.buildContexts = append(m.buildContexts, data)
	if len(m.buildBodies) == 0 {
		return build.ImageBuildResponse{}, errors.New("no build scripted")
	}
	body := m.buildBodies[0]
	m.buildBodies = m.buildBodies[1:]
	return build.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (m *MockEngine) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulled = append(m.pulled, ref)
	return io.NopCloser(strings.NewReader(m.pullBody)), nil
}

func (m *MockEngine) ImageRemove(_ context.Context, id string, _ image.RemoveOptions) ([]image.DeleteResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removedImages = append(m.removedImages, id)
	return []image.DeleteResponse{{Deleted: id}}, nil
}

func (*MockEngine) Close() error { return nil }

// liveContainers returns the names of containers not yet removed.
func (m *MockEngine) liveContainers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.containers))
	for _, c := range m.containers {
		names = append(names, c.name)
	}
	return names
}

func (m *MockEngine) createdContainers() []*fakeContainer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*fakeContainer(nil), m.created...)
}

// muxedLogs frames stdout and stderr the way the engine does for non-TTY containers.
func muxedLogs(stdout, stderr string) []byte {
	var buf bytes.Buffer
	if stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(stdout))
	}
	if stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(stderr))
	}
	return buf.Bytes()
}

// hangingLogs yields prefix and then blocks until closed, like a log stream
// of a container that never finishes.
type hangingLogs struct {
	prefix *bytes.Reader
	closed chan struct{}
	once   sync.Once
}

func newHangingLogs(prefix []byte) *hangingLogs {
	return &hangingLogs{prefix: bytes.NewReader(prefix), closed: make(chan struct{})}
}

func (h *hangingLogs) Read(p []byte) (int, error) {
	if h.prefix.Len() > 0 {
		return h.prefix.Read(p)
	}
	<-h.closed
	return 0, io.ErrClosedPipe
}

func (h *hangingLogs) Close() error {
	h.once.Do(func() { close(h.closed) })
	return nil
}

// failingLogs yields prefix and then fails with err.
type failingLogs struct {
	prefix *strings.Reader
	err    error
}

func (f *failingLogs) Read(p []byte) (int, error) {
	if f.prefix.Len() > 0 {
		return f.prefix.Read(p)
	}
	return 0, f.err
}

func (*failingLogs) Close() error { return nil }

// bindSource returns the host directory bind-mounted at target.
func bindSource(c *fakeContainer, target string) string {
	for _, mnt := range c.hostConfig.Mounts {
		if mnt.Target == target {
			return mnt.Source
		}
	}
	return ""
}

// echoScript simulates the interpreter: it copies the script into the output file.
func echoScript(c *fakeContainer) {
	dir := bindSource(c, ContainerWorkdir)
	src, err := os.ReadFile(filepath.Join(dir, InputFileName))
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(dir, OutputFileName), src, 0644)
}
