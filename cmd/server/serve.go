package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/httpserver"
	"github.com/isdmx/runbox/logger"
	"github.com/isdmx/runbox/manifest"
	"github.com/isdmx/runbox/mcpserver"
	"github.com/isdmx/runbox/sandbox"
)

// Reaping every leftover image can take a while on a busy host
const lifecycleTimeout = 2 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the execution server",
	Long: `Start the server on the configured transport.

With server.transport=http the REST API is served under /api/v1 and the MCP
streamable HTTP endpoint under /mcp. With server.transport=stdio MCP is
served on stdin/stdout and logs go to stderr.

Examples:
  runbox serve
  runbox serve --config /etc/runbox/config.yaml
  RUNBOX_SERVER_TRANSPORT=stdio runbox serve`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		app := newApp(configFlag)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newApp(configPath string) *fx.App {
	return fx.New(
		fx.StartTimeout(lifecycleTimeout),
		fx.StopTimeout(lifecycleTimeout),

		// Provide dependencies
		fx.Provide(
			// Config
			func() (*config.Config, error) {
				return config.Load(configPath)
			},

			// Logger with configuration
			logger.NewFromConfig,

			// Optional dependency manifest generator
			manifest.NewFromConfig,

			// Sandbox executor based on config
			newExecutor,
			func(log *zap.Logger, cfg *config.Config) *sandbox.Reaper {
				return sandbox.NewReaper(log, cfg, nil)
			},

			// Transports
			httpserver.New,
			mcpserver.New,
		),

		fx.Invoke(registerReaper, registerTransport),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)
}

func newExecutor(log *zap.Logger, cfg *config.Config, gen *manifest.Generator) (sandbox.SandboxExecutor, error) {
	var opts []sandbox.Option
	if gen != nil {
		opts = append(opts, sandbox.WithManifestGenerator(gen))
	}
	return sandbox.NewExecutor(log, cfg, opts...)
}

// registerReaper removes leftovers of a previous run on start and of this
// run on stop. Its stop hook runs after the transports have drained.
func registerReaper(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, reaper *sandbox.Reaper) {
	if !cfg.Sandbox.ReapOrphans {
		return
	}

	reap := func(ctx context.Context) error {
		if err := reaper.Reap(ctx); err != nil {
			log.Warn("failed to reap sandbox resources", zap.Error(err))
		}
		return nil
	}
	lc.Append(fx.Hook{OnStart: reap, OnStop: reap})
}

func registerTransport(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	log *zap.Logger,
	httpSrv *httpserver.Server,
	mcpSrv *mcpserver.MCPServer,
) {
	log.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("sandbox.runtime", cfg.Sandbox.Runtime),
		zap.Int("sandbox.timeout_sec", cfg.Sandbox.TimeoutSec),
		zap.Int("sandbox.deadline_sec", cfg.Sandbox.DeadlineSec),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Int("sandbox.max_concurrent", cfg.Sandbox.MaxConcurrent),
		zap.Bool("sandbox.network_enabled", cfg.Sandbox.NetworkEnabled),
		zap.Bool("manifest.enabled", cfg.Manifest.Enabled),
	)

	switch cfg.Server.Transport {
	case "http":
		httpSrv.Mount("/mcp", mcpSrv.HTTPHandler())
		lc.Append(fx.Hook{
			OnStart: httpSrv.Start,
			OnStop:  httpSrv.Shutdown,
		})
	case "stdio":
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					defer close(done)
					err := mcpSrv.ServeStdio(ctx, os.Stdin, os.Stdout)
					if err != nil && !errors.Is(err, context.Canceled) {
						log.Error("MCP stdio server stopped", zap.Error(err))
					}
					// Input closed: the client is gone
					_ = shutdowner.Shutdown()
				}()
				return nil
			},
			OnStop: func(stopCtx context.Context) error {
				cancel()
				select {
				case <-done:
				case <-stopCtx.Done():
				}
				return nil
			},
		})
	}
}
