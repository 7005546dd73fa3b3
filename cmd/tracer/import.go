package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"slice_tracer/pkg/config"
	"slice_tracer/pkg/store"
	"slice_tracer/pkg/store/badgerstore"
	"slice_tracer/pkg/store/pgstore"
)

var (
	importDataset string
	importDB      string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a JSON dataset into a persistent store",
	Long: `Validate a JSON dataset and write it into a badger directory (--db) or,
without --db, into the postgres store named by the config.

Examples:
  tracer import --dataset extraction.json --db ./data/badger
  tracer import --config tracer.yaml --dataset extraction.json`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importDataset, "dataset", "", "Path to JSON dataset")
	importCmd.Flags().StringVar(&importDB, "db", "", "Badger directory to import into")
	importCmd.MarkFlagRequired("dataset")
}

func readDataset(path string) (*store.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return store.ReadDataset(f)
}

func runImport(cmd *cobra.Command, args []string) error {
	start := time.Now()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ds, err := readDataset(importDataset)
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch {
	case importDB != "":
		bcfg := badgerstore.DefaultConfig(importDB)
		bcfg.Logger = logger.With(slog.String("component", "badger"))
		s, err := badgerstore.Open(bcfg)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Import(ctx, ds); err != nil {
			return fmt.Errorf("import into %s: %w", importDB, err)
		}

	case cfg.Store.Driver == config.DriverPostgres:
		s, pool, err := pgstore.Open(ctx, cfg.Store.PostgresDSN, cfg.Region.Stack, cfg.Store.Project)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := s.CreateSchema(ctx); err != nil {
			return err
		}
		if err := s.Import(ctx, ds); err != nil {
			return fmt.Errorf("import into postgres: %w", err)
		}

	default:
		return fmt.Errorf("nothing to import into: pass --db or configure the postgres driver")
	}

	logger.Info("dataset imported",
		slog.String("dataset", importDataset),
		slog.Int("slices", len(ds.Slices)),
		slog.Int("segments", len(ds.Segments)),
		slog.Int("end_segments", len(ds.EndSegments)),
		slog.Int("groups", len(ds.Groups)),
		slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
	)
	return nil
}
