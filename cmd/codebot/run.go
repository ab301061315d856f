package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/isdmx/codebot/config"
	"github.com/isdmx/codebot/logger"
	"github.com/isdmx/codebot/sandbox"
)

var execCmd = &cobra.Command{
	Use:   "exec <script.py> [args...]",
	Short: "Run a Python script once and print the result",
	Long: `Run a Python script in the interpreter image and print the formatted
result. Configured images are built first and removed afterwards.

Examples:
  codebot exec hello.py
  codebot exec fib.py 30`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading script: %w", err)
		}
		return runOnce(cmd.Context(), sandbox.ScriptRun{Source: string(source), Args: args[1:]})
	},
}

var imageCmd = &cobra.Command{
	Use:   "image <name> [args...]",
	Short: "Run a configured image once and print the result",
	Long: `Build the configured images, run the named one with the given
arguments as its command, print the formatted result, and remove the images.

Examples:
  codebot image hello-world`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), sandbox.NamedImageRun{Image: args[0], Args: args[1:]})
	},
}

func init() {
	rootCmd.AddCommand(execCmd, imageCmd)
}

// runOnce builds the configured images, performs req and prints the result.
func runOnce(parent context.Context, req sandbox.RunRequest) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One-shot runs serve no transport, so the chat credentials are not required.
	cfg, err := config.Load(configFlag, config.WithOverride("server.transport", config.TransportStdio))
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync(log) }()

	engine, err := sandbox.NewEngine(log)
	if err != nil {
		return err
	}
	defer engine.Close()

	manager, err := sandbox.NewManagerFromConfig(log, cfg, engine)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := manager.Close(context.WithoutCancel(ctx)); closeErr != nil {
			log.Warn("failed to remove images", zap.Error(closeErr))
		}
	}()

	if err := manager.BuildAll(ctx); err != nil {
		return err
	}

	result, err := manager.Run(ctx, req)
	if err != nil {
		return err
	}
	fmt.Println(sandbox.FormatResult(result))
	return nil
}
