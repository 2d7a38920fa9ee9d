package app

import (
	"context"
	"errors"

	"fare-hunter/internal/service"
	"fare-hunter/internal/storage"
)

// Sweep runs one full grid scan immediately and exits.
func (a *App) Sweep(ctx context.Context, opts SweepOptions) error {
	if err := a.Config.ValidateForSweep(); err != nil {
		return err
	}

	var store *storage.Store
	var closeStore func()
	var err error
	var quotes storage.QuoteStore
	var alerts storage.AlertLedger

	if opts.DryRun {
		a.Logger.Warn().Msg("扫描 dry-run：不写数据库，不发送告警")
	} else {
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn 未配置，无法记录价格历史")
		}
		if closeStore != nil {
			defer closeStore()
		}
		quotes = store
		alerts = store
	}

	searcher := a.newSearcher()

	notifier := a.newNotifier()
	if opts.DryRun {
		notifier = nil
	}

	svc := service.New(a.Config, nil, searcher, quotes, alerts, notifier, a.Logger)
	return svc.Sweep(ctx)
}
