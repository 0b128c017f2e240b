package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	intobs "github.com/raceops/courseflow/internal/observability"
	"github.com/raceops/courseflow/internal/pipeline"
	"github.com/raceops/courseflow/internal/server"
	pkgobs "github.com/raceops/courseflow/pkg/observability"
	"github.com/raceops/courseflow/pkg/version"
)

// serveShutdownGrace bounds the drain of in-flight HTTP requests and runs.
const serveShutdownGrace = 30 * time.Second

// serveReadHeaderTimeout guards against slow-header clients.
const serveReadHeaderTimeout = 10 * time.Second

// NewServeCommand creates the serve command: the HTTP analysis service plus
// the diagnostics endpoint.
func NewServeCommand(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP analysis service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, configPath, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, configPath *string, addrOverride string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if addrOverride != "" {
		cfg.Server.Addr = addrOverride
	}

	obsCfg := telemetryConfig(cfg, pkgobs.ModeServe)
	if flagBool(cmd, "verbose") {
		obsCfg.LogLevel = slog.LevelDebug
	}

	providers, err := pkgobs.Init(obsCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()

	log := providers.Logger

	metrics, err := intobs.NewPipelineMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("create pipeline metrics: %w", err)
	}

	red, err := pkgobs.NewREDMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("create request metrics: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	dayTimeout, softTimeout, err := pipelineTimeouts(cfg)
	if err != nil {
		return err
	}

	pipe := pipeline.New(pipeline.Options{
		OutDir:         cfg.Output.Dir,
		Environment:    cfg.Output.Environment,
		AppVersion:     version.Version,
		DayWorkers:     cfg.Pipeline.DayWorkers,
		SegmentWorkers: cfg.Pipeline.SegmentWorkers,
		DayTimeout:     dayTimeout,
		SoftTimeout:    softTimeout,
		Store:          store,
		Metrics:        metrics,
		Tracer:         providers.Tracer,
	})

	srv, err := server.New(server.Options{
		Pipeline: pipe,
		Store:    store,
		Logger:   log,
		Tracer:   providers.Tracer,
		RED:      red,
	})
	if err != nil {
		return err
	}

	diag, err := intobs.NewDiagnosticsServer(cfg.Server.DiagnosticsAddr, store.Ping)
	if err != nil {
		return fmt.Errorf("start diagnostics server: %w", err)
	}
	defer func() { _ = diag.Close() }()

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: serveReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)

	go func() {
		log.Info("serving", "addr", cfg.Server.Addr, "diagnostics", diag.Addr())

		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownGrace)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("drain http server: %w", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return nil
}
