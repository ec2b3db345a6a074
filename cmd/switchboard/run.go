package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/switchboard/pkg/cli"
	"mercator-hq/switchboard/pkg/config"
	"mercator-hq/switchboard/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay server",
	Long: `Start the relay server with the specified configuration.

The server listens on the configured address and relays chat turns to the
upstream provider. SIGINT or SIGTERM starts a graceful shutdown: readiness
fails, queued requests are rejected and open streams get the shutdown timeout
to finish.

Examples:
  # Start with default config
  switchboard run

  # Start with custom config
  switchboard run --config /etc/switchboard/config.yaml

  # Override listen address
  switchboard run --listen 0.0.0.0:8080

  # Validate config and build components without serving
  switchboard run --dry-run`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config and build components without serving")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return &cli.ConfigError{Message: fmt.Sprintf("failed to load config: %v", err), Err: err}
	}
	cfg := config.GetConfig()
	applyRunOverrides(cfg)

	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger.Slog())

	out := cmd.OutOrStdout()
	printBanner(out, cfg)

	a, err := newApp(cfg, logger.Slog())
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.close(ctx)
	}()

	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Dry run complete, not serving")
		return nil
	}

	ctx, stop := cli.SignalContext(commandContext(cmd))
	defer stop()

	if cfg.Reload.Watch {
		watchConfig(ctx, logger)
	}

	go func() {
		select {
		case <-a.server.Ready():
			fmt.Fprintf(out, "✓ Listening on %s\n", a.server.Addr())
			fmt.Fprintf(out, "✓ Stream endpoint: POST %s\n", cfg.Server.StreamPath)
			fmt.Fprintln(out, "\nPress Ctrl+C to stop")
		case <-ctx.Done():
		}
	}()

	if err := a.run(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

// applyRunOverrides applies command-line overrides on top of the file and
// environment configuration.
func applyRunOverrides(cfg *config.Config) {
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
}

// watchConfig reloads the configuration file on change. Only the log level
// is applied to the running process; other changes need a restart.
func watchConfig(ctx context.Context, logger *logging.Logger) {
	config.OnReload(func(old, updated *config.Config) {
		level := updated.Telemetry.Logging.Level
		if err := logger.SetLevel(level); err != nil {
			logger.Slog().Warn("ignoring reloaded log level", "level", level, "error", err)
			return
		}
		logger.Slog().Info("configuration reloaded", "log_level", level)
	})

	w, err := config.NewWatcher(cfgFile, config.GetConfig().Reload.Debounce, logger.Slog())
	if err != nil {
		logger.Slog().Warn("config watcher disabled", "error", err)
		return
	}
	go func() {
		if err := w.Watch(ctx); err != nil {
			logger.Slog().Warn("config watcher stopped", "error", err)
		}
	}()
}

func printBanner(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "Switchboard v%s\n", Version)
	fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
	fmt.Fprintln(out, "✓ Configuration loaded")
	fmt.Fprintf(out, "✓ Upstream: %s (%s)\n", cfg.Upstream.Name, cfg.Upstream.BaseURL)
	fmt.Fprintf(out, "✓ Conversation store: %s\n", cfg.Conversation.Store)

	slog.Debug("admission limits",
		"max_concurrent", cfg.Admission.MaxConcurrent,
		"max_queue_size", cfg.Admission.MaxQueueSize,
		"queue_timeout", cfg.Admission.QueueTimeout,
	)
	if cfg.Telemetry.Tracing.Enabled {
		slog.Debug("tracing enabled", "endpoint", cfg.Telemetry.Tracing.Endpoint)
	}
}
