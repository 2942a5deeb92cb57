package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/telekom/admission-gateway/pkg/api"
	"github.com/telekom/admission-gateway/pkg/audit"
	"github.com/telekom/admission-gateway/pkg/cli"
	"github.com/telekom/admission-gateway/pkg/config"
	"github.com/telekom/admission-gateway/pkg/metrics"
	"github.com/telekom/admission-gateway/pkg/telemetry"
	"github.com/telekom/admission-gateway/pkg/version"
)

func main() {
	cliConfig := cli.Parse()

	zl := setupLogger(cliConfig.Debug)
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()
	log.With("version", version.Version, "commit", version.GitCommit).Info("Starting admission gateway")
	cliConfig.Print(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cliConfig, zl); err != nil {
		log.Fatalf("Admission gateway failed: %v", err)
	}
	log.Info("Admission gateway stopped")
}

func run(ctx context.Context, cliConfig *cli.Config, zl *zap.Logger) error {
	log := zl.Sugar()

	cfg, err := config.Load(cliConfig.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cliConfig.ListenAddress != "" {
		cfg.Server.ListenAddress = cliConfig.ListenAddress
	}
	cfg.Print(log)

	telemetryOpts := cfg.TelemetryOptions()
	telemetryOpts.ServiceVersion = version.Version
	telemetryOpts.Logger = log.Named("telemetry")
	tp, shutdownTracing, err := telemetry.Init(ctx, telemetryOpts)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warnw("Failed to flush traces", "error", err)
		}
	}()

	server, err := api.Build(ctx, zl, cfg, api.BuildOptions{
		Debug:          cliConfig.Debug,
		ServeMetrics:   cliConfig.MetricsAddr == "",
		TracerProvider: tp,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.Warnw("Failed to release resources", "error", err)
		}
	}()

	lifecycle(ctx, server.Audit(), audit.EventSystemStartup, cfg.Server.ListenAddress)
	grace := cliConfig.ShutdownTimeout(cfg.ShutdownTimeout(), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("Serving admission gateway", "address", cfg.Server.ListenAddress)
		return server.Serve(gctx, server.HTTPServer(cfg.Server.ListenAddress, cliConfig.EnableHTTP2), grace)
	})
	if cliConfig.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cliConfig.MetricsAddr, grace, log)
		})
	}
	err = g.Wait()

	lifecycle(context.Background(), server.Audit(), audit.EventSystemShutdown, cfg.Server.ListenAddress)
	return err
}

func lifecycle(ctx context.Context, emitter audit.Emitter, t audit.EventType, addr string) {
	event := audit.NewEvent(t, "")
	event.Actor = audit.Actor{User: version.Name}
	event.Details = map[string]interface{}{
		"version": version.Version,
		"address": addr,
	}
	emitter.Emit(ctx, event)
}

func serveMetrics(ctx context.Context, addr string, grace time.Duration, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("Serving metrics", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving metrics on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	// Disable automatic stacktraces for non-fatal levels to avoid noisy traces in WARN/INFO logs
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	return logger
}
