package workers

import (
	"context"
	"ephemeral-chat/contract"
	"log/slog"
	"time"
)

// ExpirySweeper purges expired keys from stores that would otherwise only
// drop them when read again.
type ExpirySweeper struct {
	log      *slog.Logger
	store    contract.Sweeper
	interval time.Duration
}

func NewExpirySweeper(log *slog.Logger, store contract.Sweeper, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{log: log, store: store, interval: interval}
}

// Run sweeps every interval. A failed sweep is returned so the supervisor
// restarts the worker.
func (w *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping expiry sweeper")
			return nil
		case <-ticker.C:
			n, err := w.store.PurgeExpired(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}
			if n > 0 {
				w.log.Debug("Expired keys purged", "count", n)
			}
		}
	}
}
