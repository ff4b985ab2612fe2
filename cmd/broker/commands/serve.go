package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gcp-broker/tokenbroker/internal/broker/config"
	"github.com/gcp-broker/tokenbroker/internal/broker/services"
	"github.com/gcp-broker/tokenbroker/internal/logger"
	"github.com/gcp-broker/tokenbroker/internal/telemetry"
)

const serviceName = "tokenbroker"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the broker gRPC service",
	Long: `Start the broker's gRPC listener and health HTTP surface.

Configuration is read entirely from APP_SETTING_<NAME> environment
variables (see "broker genconfig"). serve blocks until it receives
SIGINT or SIGTERM, then shuts both listeners down gracefully.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("initializing profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	svc, err := services.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("assembling broker: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("error closing broker services", logger.Err(err))
		}
	}()

	logger.Info("broker starting",
		"listen_addr", cfg.Server.ListenAddr(),
		"health_addr", cfg.Server.HealthAddr,
		"auth_backend", cfg.Backends.Auth,
		"database_backend", cfg.Backends.Database,
		"cache_backend", cfg.Backends.Cache,
		"kms_backend", cfg.Backends.KMS,
		"provider_backend", cfg.Backends.Provider,
		"telemetry_enabled", telemetry.IsEnabled(),
		"profiling_enabled", telemetry.IsProfilingEnabled(),
	)

	return svc.GRPCServer.Start(ctx)
}
