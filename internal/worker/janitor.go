package worker

import (
	"context"
	"time"

	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// RetentionStore is the slice of persistence the janitor prunes.
type RetentionStore interface {
	PurgeFinished(ctx context.Context, olderThan time.Duration) (int, error)
	PurgeRateCounters(ctx context.Context, cutoff time.Time) (int, error)
	PurgeWebhookEvents(ctx context.Context, cutoff time.Time) (int, error)
}

// PoolReleaser frees assignments held by cancelled tenants.
type PoolReleaser interface {
	ReleaseCancelled(ctx context.Context) (int, error)
}

// ThreadSweeper resolves conversations with no recent traffic.
type ThreadSweeper interface {
	SweepStale(ctx context.Context) (int, error)
}

// Janitor runs the daily housekeeping pass: queue and counter
// retention, released-client cleanup, and stale-thread resolution.
type Janitor struct {
	store   RetentionStore
	pool    PoolReleaser
	threads ThreadSweeper
	log     *logger.Logger
	now     func() time.Time
}

const (
	janitorInterval = 24 * time.Hour

	// Finished queue rows and dedupe records are kept long enough to
	// debug a dispatch incident, then dropped.
	finishedTouchRetention = 30 * 24 * time.Hour
	rateCounterRetention   = 7 * 24 * time.Hour
	webhookEventRetention  = 30 * 24 * time.Hour
)

func NewJanitor(store RetentionStore, pool PoolReleaser, threads ThreadSweeper) *Janitor {
	return &Janitor{store: store, pool: pool, threads: threads, log: logger.For("janitor"), now: time.Now}
}

// Run executes one pass immediately, then daily until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	j.Pass(ctx)
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		j.Pass(ctx)
	}
}

// Pass runs every housekeeping step once. Steps are independent; a
// failure in one is logged and the rest still run.
func (j *Janitor) Pass(ctx context.Context) {
	now := j.now()

	if n, err := j.store.PurgeFinished(ctx, finishedTouchRetention); err != nil {
		j.log.Error("purge finished touches failed", "error", err.Error())
	} else if n > 0 {
		j.log.Info("purged finished touches", "count", n)
	}

	if n, err := j.store.PurgeRateCounters(ctx, now.Add(-rateCounterRetention)); err != nil {
		j.log.Error("purge rate counters failed", "error", err.Error())
	} else if n > 0 {
		j.log.Info("purged rate counters", "count", n)
	}

	if n, err := j.store.PurgeWebhookEvents(ctx, now.Add(-webhookEventRetention)); err != nil {
		j.log.Error("purge webhook events failed", "error", err.Error())
	} else if n > 0 {
		j.log.Info("purged webhook events", "count", n)
	}

	if n, err := j.pool.ReleaseCancelled(ctx); err != nil {
		j.log.Error("release cancelled tenants failed", "error", err.Error())
	} else if n > 0 {
		j.log.Info("released assignments of cancelled tenants", "count", n)
	}

	if n, err := j.threads.SweepStale(ctx); err != nil {
		j.log.Error("stale thread sweep failed", "error", err.Error())
	} else if n > 0 {
		j.log.Info("resolved stale threads", "count", n)
	}
}
