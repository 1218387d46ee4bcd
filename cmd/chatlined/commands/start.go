package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chatline/chatline/internal/logger"
	"github.com/chatline/chatline/internal/server"
	"github.com/chatline/chatline/pkg/config"
	"github.com/chatline/chatline/pkg/metrics"
)

var startCmd = &cobra.Command{
	Use:   "start [HOST:PORT] [SERVER_NAME]",
	Short: "Start the relay server",
	Long: `Start the relay server.

The listen address and the announced server name can be given as positional
arguments, overriding the configuration file and environment.

Examples:
  # Start with config/env defaults (port 50000)
  chatlined start

  # Bind a specific address and announce as "lab-relay"
  chatlined start 0.0.0.0:6000 lab-relay

  # Environment variable overrides
  CHATLINE_LOGGING_LEVEL=DEBUG chatlined start`,
	Args: cobra.MaximumNArgs(2),
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := applyStartArgs(cfg, args); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}

	var relayMetrics *metrics.RelayMetrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		relayMetrics = metrics.NewRelayMetrics()
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	srv := server.NewServer(server.Config{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		Name:             cfg.Server.Name,
		DiscoveryEnabled: cfg.Discovery.Enabled,
		DiscoveryPort:    cfg.Discovery.Port,
		Metrics:          relayMetrics,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	serveErr := srv.Serve(ctx)

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown error", "error", err)
		}
	}

	if serveErr != nil {
		return fmt.Errorf("server failed: %w", serveErr)
	}
	logger.Info("Server shut down cleanly")
	return nil
}

// applyStartArgs folds the optional [HOST:PORT] [SERVER_NAME] positional
// arguments into the configuration.
func applyStartArgs(cfg *config.Config, args []string) error {
	if len(args) >= 1 {
		host, portStr, err := net.SplitHostPort(args[0])
		if err != nil {
			return fmt.Errorf("invalid listen address %q: %w", args[0], err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid listen port %q", portStr)
		}
		cfg.Server.Host = host
		cfg.Server.Port = port
	}
	if len(args) >= 2 {
		cfg.Server.Name = args[1]
	}
	return nil
}
