package worker

import (
	"context"
	"time"

	"github.com/keiracom/agency-os/internal/config"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// Reclaimer returns touches whose claim lease expired to pending, so a
// crashed worker's batch is picked up by a live one.
type Reclaimer struct {
	store Store
	cfg   config.DispatchConfig
	log   *logger.Logger
}

func NewReclaimer(store Store, cfg config.DispatchConfig) *Reclaimer {
	return &Reclaimer{store: store, cfg: cfg, log: logger.For("recovery")}
}

// Run sweeps for expired leases at half the lease TTL, so a lost claim
// is recovered within one TTL of the crash.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.LeaseTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := r.store.ReclaimExpired(ctx, r.cfg.LeaseTTL)
		if err != nil {
			r.log.Error("reclaim expired leases failed", "error", err.Error())
			continue
		}
		if n > 0 {
			r.log.Warn("reclaimed expired touch leases", "count", n)
		}
	}
}
