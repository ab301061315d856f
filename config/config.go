package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Images  []ImageConfig `mapstructure:"images"`
	Logging LoggingConfig `mapstructure:"logging"`
	Traq    TraqConfig    `mapstructure:"traq"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport   string `mapstructure:"transport"`
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	TimeoutSec        int    `mapstructure:"timeout_sec"`
	MemoryMB          int    `mapstructure:"memory_mb"`
	NetworkEnabled    bool   `mapstructure:"network_enabled"`
	MaxConcurrentRuns int    `mapstructure:"max_concurrent_runs"`
	TarDir            string `mapstructure:"tar_dir"`
	WorkspaceDir      string `mapstructure:"workspace_dir"`
	ScriptImage       string `mapstructure:"script_image"`
	PullScriptImage   bool   `mapstructure:"pull_script_image"`
	FollowLogs        bool   `mapstructure:"follow_logs"`
	EvictOnRebuild    bool   `mapstructure:"evict_on_rebuild"`
}

// ImageConfig declares an image built from a local Dockerfile at startup
type ImageConfig struct {
	Name       string `mapstructure:"name"`
	ContextDir string `mapstructure:"context_dir"`
	Dockerfile string `mapstructure:"dockerfile"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// TraqConfig holds the chat bot credentials
type TraqConfig struct {
	Host  string `mapstructure:"host"`
	BotID string `mapstructure:"bot_id"`
	Token string `mapstructure:"token"`
}

// Transport names
const (
	TransportTraq  = "traq"
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// imageNamePattern matches a single-component Docker repository name.
var imageNamePattern = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)

// New loads and validates the application configuration
func New() (*Config, error) {
	return Load("")
}

// LoadOption adjusts configuration loading
type LoadOption func(*viper.Viper)

// WithOverride sets key to value, taking precedence over file and environment.
func WithOverride(key string, value any) LoadOption {
	return func(v *viper.Viper) {
		v.Set(key, value)
	}
}

// Load reads configuration from file, or from config.yaml in . or ./config
// when file is empty. Environment variables prefixed with CODEBOT_ override
// file values; TRAQ_HOST, TRAQ_BOT_ID and TRAQ_BOT_TOKEN are honored as well.
func Load(file string, opts ...LoadOption) (*Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("CODEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"traq.host":   "TRAQ_HOST",
		"traq.bot_id": "TRAQ_BOT_ID",
		"traq.token":  "TRAQ_BOT_TOKEN",
	} {
		if err := v.BindEnv(key, "CODEBOT_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", key, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}
	for _, opt := range opts {
		opt(v)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for i := range config.Images {
		if config.Images[i].Dockerfile == "" {
			config.Images[i].Dockerfile = "Dockerfile"
		}
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", TransportTraq)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_addr", ":9090")

	v.SetDefault("sandbox.timeout_sec", 5)
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.network_enabled", false)
	v.SetDefault("sandbox.max_concurrent_runs", 4)
	v.SetDefault("sandbox.tar_dir", "docker/tar")
	v.SetDefault("sandbox.workspace_dir", "sandbox")
	v.SetDefault("sandbox.script_image", "python:3.12-slim")
	v.SetDefault("sandbox.pull_script_image", true)
	v.SetDefault("sandbox.follow_logs", true)
	v.SetDefault("sandbox.evict_on_rebuild", true)

	v.SetDefault("images", []map[string]any{
		{"name": "hello-world", "context_dir": "./docker/hello-world", "dockerfile": "Dockerfile"},
		{"name": "python", "context_dir": "./docker/python", "dockerfile": "Dockerfile"},
	})

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) validate() error {
	switch c.Server.Transport {
	case TransportTraq:
		if c.Traq.Host == "" || c.Traq.BotID == "" || c.Traq.Token == "" {
			return errors.New("traq.host, traq.bot_id and traq.token are required for the traq transport")
		}
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("invalid server.transport: %s, must be 'traq', 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("sandbox.max_concurrent_runs must be positive, got: %d", c.Sandbox.MaxConcurrentRuns)
	}

	if c.Sandbox.TarDir == "" || c.Sandbox.WorkspaceDir == "" {
		return errors.New("sandbox.tar_dir and sandbox.workspace_dir are required")
	}

	if c.Sandbox.ScriptImage == "" {
		return errors.New("sandbox.script_image is required")
	}

	seen := make(map[string]bool, len(c.Images))
	for _, img := range c.Images {
		if !imageNamePattern.MatchString(img.Name) {
			return fmt.Errorf("invalid image name: %q", img.Name)
		}
		if seen[img.Name] {
			return fmt.Errorf("duplicate image name: %s", img.Name)
		}
		seen[img.Name] = true
		if img.ContextDir == "" {
			return fmt.Errorf("image %s: context_dir is required", img.Name)
		}
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}
