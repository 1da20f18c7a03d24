package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pulse-labs/pulse/archive"
	"github.com/pulse-labs/pulse/bus"
	pulseotel "github.com/pulse-labs/pulse/otel"
	"github.com/pulse-labs/pulse/sched"
	"github.com/pulse-labs/pulse/server"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the event gateway HTTP server",
		RunE:  runServe,
	}

	cmd.Flags().String("config", "", "Path to pulse.yaml config")
	cmd.Flags().String("listen", "", "Listen address (overrides config)")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	listenFlag, _ := cmd.Flags().GetString("listen")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	maxBody, _ := cmd.Flags().GetInt64("max-body")

	cfg := server.Config{}
	if configPath != "" {
		loaded, err := server.LoadConfig(configPath)
		if err != nil {
			return exitError(exitConfig, "%v", err)
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return exitError(exitConfig, "%v", err)
	}
	if listenFlag != "" {
		cfg.Listen = listenFlag
	}

	logger := slog.Default()

	if cfg.Telemetry.OTLPEndpoint != "" {
		shutdown, err := setupTracing(cmd.Context(), cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	observer, err := pulseotel.NewMetricsObserver(otelapi.GetMeterProvider().Meter("pulse/bus"))
	if err != nil {
		return fmt.Errorf("initializing bus metrics: %w", err)
	}

	b := bus.New(bus.Config{
		HistoryCapacity: cfg.HistoryCapacity,
		Delimiter:       cfg.Delimiter,
		Logger:          logger,
		Observer:        observer,
	})
	defer func() {
		_ = b.Close()
	}()

	if cfg.Archive != nil {
		retentionAge, _ := cfg.Archive.RetentionAgeDuration()
		pruneInterval, _ := cfg.Archive.PruneIntervalDuration()
		store, err := archive.NewSQLiteStore(archive.SQLiteStoreConfig{
			DSN:            cfg.Archive.DSN,
			RetentionAge:   retentionAge,
			RetentionCount: cfg.Archive.RetentionCount,
			PruneInterval:  pruneInterval,
		})
		if err != nil {
			return fmt.Errorf("opening event archive: %w", err)
		}
		defer func() {
			_ = store.Close()
		}()

		archiver, err := archive.NewArchiver(b, store, logger)
		if err != nil {
			return fmt.Errorf("attaching event archiver: %w", err)
		}
		defer archiver.Close()
	}

	if len(cfg.Schedules) > 0 {
		scheduler := sched.New(b, logger)
		for _, entry := range cfg.Schedules {
			if err := scheduler.Add(entry.Cron, entry.Topic, entry.Payload); err != nil {
				return exitError(exitConfig, "schedule %q: %v", entry.Cron, err)
			}
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	apiServer := server.NewServer(server.ServerConfig{
		Bus:     b,
		MaxBody: maxBody,
		Logger:  logger,
	})

	// WriteTimeout stays zero so SSE streams are not cut off.
	httpServer := &http.Server{
		Addr:        cfg.Listen,
		Handler:     apiServer.Handler(),
		ReadTimeout: readTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "Pulse listening on %s\n", cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

// setupTracing installs an OTLP/HTTP tracer provider as the global provider
// and returns its shutdown function.
func setupTracing(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "pulse"),
		)),
	)
	otelapi.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
