package main

import (
	"context"
	"fmt"
	"log/slog"

	"slice_tracer/pkg/config"
	"slice_tracer/pkg/store"
	"slice_tracer/pkg/store/badgerstore"
	"slice_tracer/pkg/store/pgstore"
)

// backend is a store that can also count and snap points.
type backend interface {
	store.Store
	store.Counter
	store.Snapper
}

// openStore opens the configured store. The returned func releases it.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		ds, err := readDataset(cfg.Store.Dataset)
		if err != nil {
			return nil, nil, err
		}
		m, err := store.NewMemory(ds)
		if err != nil {
			return nil, nil, err
		}
		return m, func() {}, nil

	case config.DriverBadger:
		bcfg := badgerstore.DefaultConfig(cfg.Store.BadgerDir)
		bcfg.Logger = logger.With(slog.String("component", "badger"))
		s, err := badgerstore.Open(bcfg)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("close badger", slog.String("error", err.Error()))
			}
		}, nil

	case config.DriverPostgres:
		s, pool, err := pgstore.Open(ctx, cfg.Store.PostgresDSN, cfg.Region.Stack, cfg.Store.Project)
		if err != nil {
			return nil, nil, err
		}
		return s, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
