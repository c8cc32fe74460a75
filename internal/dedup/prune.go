package dedup

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunPruner periodically removes entries older than the retention
// window so the store stays bounded. It blocks until the context is
// canceled.
func RunPruner(ctx context.Context, store Store, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if err := store.Prune(ctx, cutoff); err != nil {
				log.Warn().Err(err).Time("cutoff", cutoff).Msg("Dedup prune failed")
				continue
			}
			log.Debug().Time("cutoff", cutoff).Msg("Dedup store pruned")
		}
	}
}
