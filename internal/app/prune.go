package app

import (
	"context"
	"errors"
	"time"
)

// Prune removes alert-ledger entries older than the configured horizon.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.OlderThan <= 0 {
		return errors.New("--older-than must be positive")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot prune")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cutoff := time.Now().UTC().Add(-opts.OlderThan)
	if err := store.DeleteAlertsBefore(ctx, cutoff); err != nil {
		return err
	}

	a.Logger.Info().Time("cutoff", cutoff).Msg("pruned alert ledger")
	return nil
}
