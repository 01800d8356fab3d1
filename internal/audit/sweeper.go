package audit

import (
	"context"
	"time"

	"windscope.org/internal/obs"
)

const defaultSweepInterval = time.Hour

// Sweeper deletes expired audit records on a fixed cadence. The delete is
// a single bounded statement, so any number of sweepers can run beside
// the serving path.
type Sweeper struct {
	store    Store
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(store Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{store: store, interval: interval, now: time.Now}
}

// Run blocks until the context is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.store.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		obs.Log(map[string]any{"level": "warn", "msg": "audit sweep failed", "err": err.Error()})
		return
	}
	if n > 0 {
		obs.AuditSwept(int(n))
		obs.Log(map[string]any{"level": "info", "msg": "audit sweep", "removed": n})
	}
}
