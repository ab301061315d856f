package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/codebot/config"
)

// NewManagerFromConfig creates a Manager from the application configuration
// and registers every configured build spec. Nothing is built yet.
func NewManagerFromConfig(logger *zap.Logger, cfg *config.Config, engine Engine) (*Manager, error) {
	manager := NewManager(logger, engine, Options{
		Timeout:           cfg.GetTimeout(),
		TarDir:            cfg.Sandbox.TarDir,
		WorkspaceDir:      cfg.Sandbox.WorkspaceDir,
		ScriptImage:       cfg.Sandbox.ScriptImage,
		PullScriptImage:   cfg.Sandbox.PullScriptImage,
		MaxConcurrentRuns: int64(cfg.Sandbox.MaxConcurrentRuns),
		EvictOnRebuild:    cfg.Sandbox.EvictOnRebuild,
		Limits: Limits{
			MemoryMB:       cfg.Sandbox.MemoryMB,
			NetworkEnabled: cfg.Sandbox.NetworkEnabled,
			FollowLogs:     cfg.Sandbox.FollowLogs,
		},
	})

	for _, img := range cfg.Images {
		spec := BuildSpec{Name: img.Name, ContextDir: img.ContextDir, Dockerfile: img.Dockerfile}
		if err := manager.RegisterBuildSpec(spec); err != nil {
			return nil, fmt.Errorf("invalid image config: %w", err)
		}
	}

	return manager, nil
}
