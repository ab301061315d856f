package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "stdio",
			HTTPPort:  8080,
		},
		Sandbox: SandboxConfig{
			TimeoutSec:        5,
			MemoryMB:          256,
			MaxConcurrentRuns: 4,
			TarDir:            "docker/tar",
			WorkspaceDir:      "sandbox",
			ScriptImage:       "python:3.12-slim",
		},
		Images: []ImageConfig{
			{Name: "hello-world", ContextDir: "./docker/hello-world", Dockerfile: "Dockerfile"},
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func writeConfigFile(t *testing.T, doc map[string]any) string {
	t.Helper()
	data, err := yaml.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, validConfig().validate())
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"InvalidServerTransport", func(c *Config) { c.Server.Transport = "invalid" }, "invalid server.transport"},
		{"TraqWithoutCredentials", func(c *Config) { c.Server.Transport = "traq" }, "traq.host, traq.bot_id and traq.token are required"},
		{"InvalidSandboxTimeout", func(c *Config) { c.Sandbox.TimeoutSec = 0 }, "sandbox.timeout_sec must be positive"},
		{"InvalidSandboxMemory", func(c *Config) { c.Sandbox.MemoryMB = 0 }, "sandbox.memory_mb must be positive"},
		{"InvalidConcurrency", func(c *Config) { c.Sandbox.MaxConcurrentRuns = -1 }, "sandbox.max_concurrent_runs must be positive"},
		{"MissingWorkspaceDir", func(c *Config) { c.Sandbox.WorkspaceDir = "" }, "sandbox.tar_dir and sandbox.workspace_dir are required"},
		{"MissingScriptImage", func(c *Config) { c.Sandbox.ScriptImage = "" }, "sandbox.script_image is required"},
		{"UppercaseImageName", func(c *Config) { c.Images[0].Name = "Hello" }, "invalid image name"},
		{"DuplicateImageName", func(c *Config) { c.Images = append(c.Images, c.Images[0]) }, "duplicate image name"},
		{"MissingContextDir", func(c *Config) { c.Images[0].ContextDir = "" }, "context_dir is required"},
		{"InvalidLoggingMode", func(c *Config) { c.Logging.Mode = "invalid_mode" }, "invalid logging.mode"},
		{"InvalidLogLevel", func(c *Config) { c.Logging.Level = "invalid_level" }, "invalid logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	t.Run("TraqWithCredentials", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "traq"
		cfg.Traq = TraqConfig{Host: "q.trap.jp", BotID: "bot", Token: "secret"}
		require.NoError(t, cfg.validate())
	})
}

func TestLoad(t *testing.T) {
	t.Run("FileValues", func(t *testing.T) {
		path := writeConfigFile(t, map[string]any{
			"server": map[string]any{"transport": "http", "http_port": 9000},
			"sandbox": map[string]any{
				"timeout_sec":         2,
				"max_concurrent_runs": 1,
				"script_image":        "python",
			},
			"images": []map[string]any{
				{"name": "python", "context_dir": "./docker/python"},
			},
			"logging": map[string]any{"mode": "development", "level": "debug"},
		})

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "http", cfg.Server.Transport)
		assert.Equal(t, 9000, cfg.Server.HTTPPort)
		assert.Equal(t, 2*time.Second, cfg.GetTimeout())
		assert.Equal(t, 1, cfg.Sandbox.MaxConcurrentRuns)
		assert.Equal(t, "python", cfg.Sandbox.ScriptImage)
		require.Len(t, cfg.Images, 1)
		assert.Equal(t, "Dockerfile", cfg.Images[0].Dockerfile, "dockerfile defaults when omitted")
		// untouched keys keep their defaults
		assert.Equal(t, 256, cfg.Sandbox.MemoryMB)
		assert.True(t, cfg.Sandbox.FollowLogs)
		assert.True(t, cfg.Sandbox.EvictOnRebuild)
	})

	t.Run("DefaultImages", func(t *testing.T) {
		path := writeConfigFile(t, map[string]any{
			"server": map[string]any{"transport": "stdio"},
		})

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Len(t, cfg.Images, 2)
		assert.Equal(t, "hello-world", cfg.Images[0].Name)
		assert.Equal(t, "python", cfg.Images[1].Name)
	})

	t.Run("TraqEnvironment", func(t *testing.T) {
		t.Setenv("TRAQ_HOST", "q.trap.jp")
		t.Setenv("TRAQ_BOT_ID", "bot-id")
		t.Setenv("TRAQ_BOT_TOKEN", "token")
		path := writeConfigFile(t, map[string]any{
			"server": map[string]any{"transport": "traq"},
		})

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "q.trap.jp", cfg.Traq.Host)
		assert.Equal(t, "bot-id", cfg.Traq.BotID)
		assert.Equal(t, "token", cfg.Traq.Token)
	})

	t.Run("PrefixedEnvironmentOverride", func(t *testing.T) {
		t.Setenv("CODEBOT_SANDBOX_TIMEOUT_SEC", "30")
		path := writeConfigFile(t, map[string]any{
			"server": map[string]any{"transport": "stdio"},
		})

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 30, cfg.Sandbox.TimeoutSec)
	})

	t.Run("Override", func(t *testing.T) {
		t.Setenv("CODEBOT_SERVER_TRANSPORT", "http")
		path := writeConfigFile(t, map[string]any{
			"server": map[string]any{"transport": "traq"},
		})

		cfg, err := Load(path, WithOverride("server.transport", TransportStdio))
		require.NoError(t, err, "traq credentials are not needed once the transport is overridden")
		assert.Equal(t, TransportStdio, cfg.Server.Transport)
	})

	t.Run("InvalidFile", func(t *testing.T) {
		path := writeConfigFile(t, map[string]any{
			"server": map[string]any{"transport": "carrier-pigeon"},
		})

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config validation error")
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})
}
