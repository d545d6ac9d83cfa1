package app

import (
	"context"
	"errors"
	"time"
)

// Sweep runs one maintenance pass immediately: matured policies are
// expired and approved-but-unpaid claims are retried. Useful after an
// outage without waiting for the next scheduled bucket.
func (a *App) Sweep(ctx context.Context, opts SweepOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; nothing to sweep")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Batch > 0 {
		a.Config.Scheduler.SweepBatch = opts.Batch
	}

	st, err := a.buildStack(ctx, store, nil)
	if err != nil {
		return err
	}

	return st.svc.Sweep(ctx, time.Now().UTC())
}
