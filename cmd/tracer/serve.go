package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"slice_tracer/pkg/api"
	"slice_tracer/pkg/config"
	"slice_tracer/pkg/solver"
	"slice_tracer/pkg/store"
	"slice_tracer/pkg/tracing"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP trace API",
	Long: `Serve POST /api/v1/trace, GET /api/v1/health, GET /api/v1/stats and
GET /metrics until SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

// newEngine wires the store, solver and trace engine from cfg.
func newEngine(cfg config.Config, st store.Store, logger *slog.Logger) *tracing.Engine {
	inv := solver.New(cfg.Solver.Invoker(), solver.WithLogger(logger))
	return tracing.NewEngine(st, cfg.Region.Context(), inv,
		tracing.WithLogger(logger),
		tracing.WithSliceImages(cfg.Trace.Images),
	)
}

func runServe(cmd *cobra.Command, args []string) error {
	start := time.Now()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	st, closeStore, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	counts, err := st.Counts(context.Background())
	if err != nil {
		return fmt.Errorf("count store: %w", err)
	}
	logger.Info("store ready",
		slog.String("driver", cfg.Store.Driver),
		slog.Int("slices", counts.Slices),
		slog.Int("segments", counts.Segments),
		slog.Int("end_segments", counts.EndSegments),
		slog.Int("groups", counts.Groups),
		slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
	)

	engine := newEngine(cfg, st, logger)
	handlers := api.NewHandlers(engine, st, cfg.Region.Stack, api.TraceDefaults{
		Priors:           cfg.Trace.Priors,
		MinComponentSize: cfg.Trace.MinComponentSize,
		IncludeTermini:   cfg.Trace.IncludeTermini,
	})

	srv := api.NewServer(api.ServerConfig{
		Addr:           cfg.Server.Addr,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxConcurrent:  cfg.Server.MaxConcurrent,
		CORSOrigin:     cfg.Server.CORSOrigin,
	}, handlers, logger)

	if err := api.ListenAndServe(srv, logger); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
