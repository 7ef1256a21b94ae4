package worker

import (
	"context"
	"time"

	"github.com/keiracom/agency-os/internal/pkg/distlock"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// Detector runs the learning-loop detectors for one tenant.
type Detector interface {
	Detect(ctx context.Context, clientID string) error
}

// TenantLister names the tenants a batch pass iterates.
type TenantLister interface {
	ActiveClientIDs(ctx context.Context) ([]string, error)
}

// DetectorSchedule runs the pattern detectors for every active tenant on
// a fixed interval. A distributed lease keeps the run a singleton across
// worker nodes; losing the lease race means another node is already on
// it, not an error.
type DetectorSchedule struct {
	detector Detector
	tenants  TenantLister
	lease    distlock.Lease
	interval time.Duration
	log      *logger.Logger
}

func NewDetectorSchedule(detector Detector, tenants TenantLister, lease distlock.Lease, interval time.Duration) *DetectorSchedule {
	return &DetectorSchedule{
		detector: detector,
		tenants:  tenants,
		lease:    lease,
		interval: interval,
		log:      logger.For("cis-schedule"),
	}
}

// Run fires a detector pass on the interval until ctx is cancelled.
func (s *DetectorSchedule) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.Pass(ctx); err != nil {
			s.log.Error("detector pass failed", "error", err.Error())
		}
	}
}

// Pass runs the detectors for every active tenant, once, under the
// lease. A per-tenant failure is logged and the pass moves on; one
// tenant's bad data must not starve the rest of fresh patterns.
func (s *DetectorSchedule) Pass(ctx context.Context) error {
	ok, err := s.lease.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug("detector pass already running elsewhere")
		return nil
	}
	defer func() {
		if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("lease release failed", "error", err.Error())
		}
	}()

	clients, err := s.tenants.ActiveClientIDs(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	var failed int
	for _, id := range clients {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.detector.Detect(ctx, id); err != nil {
			failed++
			s.log.Error("detector run failed", "client_id", id, "error", err.Error())
		}
	}

	s.log.Info("detector pass complete",
		"clients", len(clients), "failed", failed,
		"elapsed", time.Since(start).String())
	return nil
}
