package auth

import (
	"context"
	"time"

	"athenaeum.org/internal/obs"
)

// TokenSweeper periodically deletes expired token records from stores
// without native TTL. Validation never trusts the sweeper: expiry is
// checked explicitly on every token use.
type TokenSweeper struct {
	store    Store
	interval time.Duration
	now      func() time.Time
}

func NewTokenSweeper(store Store, interval time.Duration) *TokenSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &TokenSweeper{store: store, interval: interval, now: time.Now}
}

// Run sweeps once immediately, then on every tick until ctx is canceled.
func (s *TokenSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *TokenSweeper) sweep(ctx context.Context) {
	n, err := s.store.Tokens(ctx).PurgeExpired(ctx, s.now().UTC())
	if err != nil {
		obs.Log(map[string]any{"level": "error", "msg": "token_sweep_failed", "error": err.Error()})
		return
	}
	if n > 0 {
		obs.Log(map[string]any{"level": "info", "msg": "tokens_purged", "count": n})
	}
}
