package nonce

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chain-data-gateway/internal/metrics"
)

// StartSweeper removes expired nonces from store every interval until ctx
// is cancelled. It runs independently of consumption.
func StartSweeper(ctx context.Context, store Store, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				removed, err := store.Sweep(ctx, now)
				if err != nil {
					log.Error().Err(err).Msg("nonce sweep failed")
					continue
				}
				if removed > 0 {
					metrics.NoncesSweptTotal.Add(float64(removed))
					log.Debug().Int("removed", removed).Msg("swept expired nonces")
				}
			}
		}
	}()
}
