// Command xray is the operator CLI for the xray tracing SDK: it runs a traced
// demo pipeline, replays traces saved by the log fallback, and prints the
// effective configuration.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aniasusual/xray"
	"github.com/aniasusual/xray/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("XRAY_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand(logger).ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// newRootCommand wires the subcommands. Each one loads configuration itself
// so flags can override it.
func newRootCommand(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "xray",
		Short:         "Trace multi-step decision pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Load .env file if present (non-fatal; production won't have one).
			_ = godotenv.Load()
			return nil
		},
	}
	root.AddCommand(
		newDemoCommand(logger),
		newReplayCommand(logger),
		newConfigCommand(),
		newVersionCommand(),
	)
	return root
}

// loadConfig reads the environment and applies the --api-url override.
func loadConfig(cmd *cobra.Command) (xray.Config, error) {
	cfg, err := xray.LoadConfig()
	if err != nil {
		return xray.Config{}, fmt.Errorf("load config: %w", err)
	}
	if f := cmd.Flags().Lookup("api-url"); f != nil && f.Changed {
		cfg.APIURL = f.Value.String()
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return xray.Config{}, err
		}
	}
	return cfg, nil
}

// initTelemetry installs OTLP exporters when OTEL_EXPORTER_OTLP_ENDPOINT is set.
func initTelemetry(ctx context.Context) (telemetry.Shutdown, error) {
	insecure, _ := strconv.ParseBool(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"))
	shutdown, err := telemetry.Init(ctx, telemetry.Settings{
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:       insecure,
		ServiceName:    "xray-cli",
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return shutdown, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("xray version %s\n", version)
			return nil
		},
	}
}
