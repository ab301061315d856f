package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/codebot/bot"
	"github.com/isdmx/codebot/config"
	"github.com/isdmx/codebot/logger"
	"github.com/isdmx/codebot/mcpserver"
	"github.com/isdmx/codebot/sandbox"
)

// Image builds run in OnStart and can take minutes on a cold cache.
const startTimeout = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build the configured images and serve requests",
	Long: `Build every configured image, then serve requests on the configured
transport until interrupted. On shutdown the built images are removed.

Examples:
  codebot serve
  CODEBOT_SERVER_TRANSPORT=stdio codebot serve`,
	Args: cobra.NoArgs,
	Run: func(*cobra.Command, []string) {
		newApp().Run()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newApp() *fx.App {
	return fx.New(
		fx.StartTimeout(startTimeout),
		fx.Provide(
			loadConfig,
			logger.NewFromConfig,
			newEngine,
			sandbox.NewManagerFromConfig,
			func(m *sandbox.Manager) sandbox.Runner { return m },
			mcpserver.New,
		),
		fx.Invoke(registerLifecycle),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)
}

func loadConfig() (*config.Config, error) {
	return config.Load(configFlag)
}

// newEngine connects to the Docker daemon and closes the connection when the
// application stops.
func newEngine(lc fx.Lifecycle, log *zap.Logger) (sandbox.Engine, error) {
	engine, err := sandbox.NewEngine(log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		return engine.Close()
	}})
	return engine, nil
}

type lifecycleParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.Config
	Logger     *zap.Logger
	Manager    *sandbox.Manager
	Server     *mcpserver.MCPServer
}

func registerLifecycle(p lifecycleParams) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var metrics *http.Server

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Manager.BuildAll(ctx); err != nil {
				return fmt.Errorf("failed to build images: %w", err)
			}
			if addr := p.Config.Server.MetricsAddr; addr != "" {
				metrics = startMetricsServer(p.Logger, addr)
			}
			go func() {
				defer close(done)
				if err := serve(runCtx, p); err != nil {
					p.Logger.Error("transport stopped", zap.Error(err))
				}
				if runCtx.Err() == nil {
					_ = p.Shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			var errs []error
			if err := p.Server.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
			if p.Config.Server.Transport != config.TransportStdio {
				// ServeStdio only returns once stdin closes.
				select {
				case <-done:
				case <-ctx.Done():
				}
			}
			if metrics != nil {
				if err := metrics.Shutdown(ctx); err != nil {
					errs = append(errs, err)
				}
			}
			if err := p.Manager.Close(ctx); err != nil {
				errs = append(errs, err)
			}
			return errors.Join(errs...)
		},
	})
}

// serve runs the configured transport until it fails or ctx is done.
func serve(ctx context.Context, p lifecycleParams) error {
	switch p.Config.Server.Transport {
	case config.TransportTraq:
		parser, err := bot.NewCommandParser(p.Config.Traq.BotID)
		if err != nil {
			return err
		}
		client := bot.NewClient(p.Config.Traq.Host, p.Config.Traq.Token)
		dispatcher := bot.NewDispatcher(p.Logger, parser, p.Manager, client)
		return bot.NewReceiver(p.Logger, p.Config.Traq.Host, p.Config.Traq.Token, dispatcher).Run(ctx)
	case config.TransportStdio:
		return p.Server.ServeStdio()
	case config.TransportHTTP:
		return p.Server.ServeHTTP()
	default:
		return fmt.Errorf("unsupported transport: %s", p.Config.Server.Transport)
	}
}

func startMetricsServer(log *zap.Logger, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
