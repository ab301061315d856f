package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/codebot/config"
	"github.com/isdmx/codebot/sandbox"
)

const (
	toolRunScript = "run_script"
	toolRunImage  = "run_image"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	runner     sandbox.Runner
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, runner sandbox.Runner) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		runner: runner,
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Int("sandbox.timeout_sec", cfg.Sandbox.TimeoutSec),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Bool("sandbox.network_enabled", cfg.Sandbox.NetworkEnabled),
		zap.Int("sandbox.max_concurrent_runs", cfg.Sandbox.MaxConcurrentRuns),
		zap.String("sandbox.script_image", cfg.Sandbox.ScriptImage),
		zap.Int("images", len(cfg.Images)),
	)

	s.mcpServer = server.NewMCPServer("codebot-sandbox", "Runs scripts and images in throwaway Docker containers")
	s.registerTools()
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)

	return s, nil
}

func (s *MCPServer) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        toolRunScript,
		Description: "Run a Python script in a fresh container and return its output",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python source code",
				},
				"args": map[string]any{
					"type":        "string",
					"description": "Whitespace-separated script arguments (optional)",
				},
			},
			Required: []string{"code"},
		},
	}, s.handleRunScript)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        toolRunImage,
		Description: "Run a registered image with the given arguments as its command",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"image": map[string]any{
					"type":        "string",
					"description": "Logical image name",
				},
				"args": map[string]any{
					"type":        "string",
					"description": "Whitespace-separated command arguments (optional)",
				},
			},
			Required: []string{"image"},
		},
	}, s.handleRunImage)
}

func (s *MCPServer) handleRunScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}
	args := strings.Fields(request.GetString("args", ""))

	s.logger.Info("script run requested", zap.Int("code_len", len(code)), zap.Int("args", len(args)))
	return s.run(ctx, sandbox.ScriptRun{Source: code, Args: args})
}

func (s *MCPServer) handleRunImage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("image")
	if err != nil {
		return nil, fmt.Errorf("image parameter is required: %w", err)
	}
	args := strings.Fields(request.GetString("args", ""))

	s.logger.Info("image run requested", zap.String("image", name), zap.Strings("args", args))
	return s.run(ctx, sandbox.NamedImageRun{Image: name, Args: args})
}

func (s *MCPServer) run(ctx context.Context, req sandbox.RunRequest) (*mcp.CallToolResult, error) {
	result, err := s.runner.Run(ctx, req)
	if err != nil {
		s.logger.Error("sandbox run failed", zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Execution failed: %v", err)), nil
	}
	return mcp.NewToolResultText(sandbox.FormatResult(result)), nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP and blocks until Shutdown.
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	err := s.httpServer.Start(fmt.Sprintf(":%d", port))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP transport.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
