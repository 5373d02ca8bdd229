package main

import (
	"context"
	"fmt"

	"github.com/sana-health/procsync/internal/catalog"
	"github.com/sana-health/procsync/internal/dedup"
	"github.com/sana-health/procsync/internal/ingest"
	"github.com/sana-health/procsync/internal/procedure"
	"github.com/sana-health/procsync/internal/store"
)

// openStore opens the configured procedure store. The caller closes it.
func openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:   cfg.Store.Driver,
		Path:     cfg.Store.Path,
		DSN:      cfg.Store.DSN,
		MaxConns: cfg.Store.MaxConns,
	}, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open procedure store: %w", err)
	}
	return st, nil
}

// remoteCatalog returns the configured HTTP catalog, or nil when no
// remote is configured.
func remoteCatalog() (catalog.Catalog, error) {
	if cfg.Remote.BaseURL == "" {
		return nil, nil
	}
	return catalog.NewHTTP(catalog.HTTPConfig{
		BaseURL:   cfg.Remote.BaseURL,
		Timeout:   cfg.Remote.Timeout,
		Token:     cfg.Remote.Token,
		JWTSecret: cfg.Remote.JWTSecret,
		DeviceID:  cfg.Remote.DeviceID,
		RateLimit: cfg.Remote.RateLimit,
		Burst:     cfg.Remote.Burst,
	}, logger)
}

// newSyncer wires a Syncer over st reading from cat (which may be nil).
func newSyncer(cat catalog.Catalog, st *store.Store) (*ingest.Syncer, error) {
	pre, err := procedure.LoadPreamble(cfg.Sync.PreamblePath)
	if err != nil {
		return nil, err
	}
	policy, err := dedup.ParsePolicy(cfg.Sync.DedupPolicy)
	if err != nil {
		return nil, err
	}
	return ingest.New(cat, st, pre, ingest.Config{
		Concurrency: cfg.Sync.Concurrency,
		ItemTimeout: cfg.Sync.ItemTimeout,
		DedupPolicy: policy,
	}, logger), nil
}
