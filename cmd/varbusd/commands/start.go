package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marmos91/varbus/internal/logger"
	"github.com/marmos91/varbus/internal/server"
	"github.com/marmos91/varbus/pkg/config"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the varbus server",
	Long: `Start the varbus server with the specified configuration.

The server runs in the foreground until SIGINT or SIGTERM; run it under
a process supervisor for background operation. While running, edits to
the configuration file hot-reload the log level and format without a
restart.

Examples:
  # Start with default config location
  varbusd start

  # Start with custom config file
  varbusd start --config /etc/varbus/config.yaml

  # Start with environment variable overrides
  VARBUS_LOGGING_LEVEL=DEBUG varbusd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		StreamAddr:        cfg.Server.StreamAddr,
		SharedMemoryDir:   cfg.Server.SharedMemoryDir,
		AdminAddr:         adminAddr(cfg),
		DataDir:           cfg.Server.DataDir,
		MaxWorkBufferSize: cfg.Server.WorkBufferSize.Int(),
		MetricsEnabled:    cfg.Metrics.Enabled,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopWatch := watchConfig(ctx, GetConfigFile())
	defer stopWatch()

	logger.Info("varbusd starting",
		"version", Version,
		"commit", Commit)
	return srv.Run(ctx)
}

func adminAddr(cfg *config.Config) string {
	if !cfg.Admin.Enabled {
		return ""
	}
	return cfg.Admin.Addr
}

// watchConfig hot-reloads the logging settings when the config file
// changes. Only logging is dynamic; binding and storage changes need a
// restart. Editors that replace the file (rename-over) re-arm the watch
// by re-adding the path on each event burst.
func watchConfig(ctx context.Context, path string) func() {
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		return func() {}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watch unavailable", logger.KeyError, err)
		return func() {}
	}
	// Watch the directory: most editors write a temp file and rename it
	// over the original, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warn("config watch unavailable", logger.KeyError, err)
		watcher.Close()
		return func() {}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := config.Load(path)
				if err != nil {
					logger.Warn("config reload skipped", logger.KeyError, err)
					continue
				}
				logger.SetLevel(cfg.Logging.Level)
				logger.SetFormat(cfg.Logging.Format)
				logger.Info("logging configuration reloaded",
					"level", cfg.Logging.Level,
					"format", cfg.Logging.Format)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watch error", logger.KeyError, err)
			}
		}
	}()

	return func() { watcher.Close() }
}
