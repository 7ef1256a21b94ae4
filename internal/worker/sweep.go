package worker

import (
	"context"
	"time"

	"github.com/keiracom/agency-os/internal/channel"
	"github.com/keiracom/agency-os/internal/config"
	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// SweepStore lists outbound activities with no inbound event inside the
// reconciliation window.
type SweepStore interface {
	UnansweredOutbound(ctx context.Context, window time.Duration, limit int) ([]domain.Activity, error)
}

// Poller re-fetches provider-side events for a sent message. Adapters
// whose provider exposes a message API implement it; channels without
// one are simply not swept.
type Poller interface {
	PollMessage(ctx context.Context, providerMessageID string) ([]channel.Event, error)
}

// EventSink applies a provider event to the system. The webhook
// endpoints and the sweep share one sink, so reconciled events follow
// the exact path a live webhook would have taken.
type EventSink interface {
	Ingest(ctx context.Context, ch domain.Channel, ev *channel.Event) error
}

/// Sweeper is the safety net under the webhook endpoints: every interval
// it re-polls the provider for outbound messages that never produced an
// inbound event, catching anything lost to a webhook outage. Events
// carry provider IDs, so replaying one a webhook already delivered is
// deduped downstream.
type Sweeper struct {
	store   SweepStore
	pollers map[domain.Channel]Poller
	sink    EventSink
	cfg     config.DispatchConfig
	log     *logger.Logger
}

const sweepBatchLimit = 500

func NewSweeper(store SweepStore, pollers map[domain.Channel]Poller, sink EventSink, cfg config.DispatchConfig) *Sweeper {
	return &Sweeper{store: store, pollers: pollers, sink: sink, cfg: cfg, log: logger.For("sweep")}
}

// Run reconciles on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.Sweep(ctx); err != nil {
			s.log.Error("sweep failed", "error", err.Error())
		}
	}
}

// Sweep runs one reconciliation pass.
func (s *Sweeper) Sweep(ctx context.Context) error {
	pending, err := s.store.UnansweredOutbound(ctx, s.cfg.SweepInterval, sweepBatchLimit)
	if err != nil {
		return errs.Wrap(errs.Consistency, "sweep.list_failed", err)
	}

	var polled, applied int
	for _, a := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		poller, ok := s.pollers[a.Channel]
		if !ok || a.ProviderMessageID == "" {
			continue
		}

		events, err := poller.PollMessage(ctx, a.ProviderMessageID)
		if err != nil {
			// One unreachable provider must not stall the others.
			s.log.Warn("poll failed",
				"channel", string(a.Channel), "provider_message_id", a.ProviderMessageID,
				"error", err.Error())
			continue
		}
		polled++

		for i := range events {
			if err := s.sink.Ingest(ctx, a.Channel, &events[i]); err != nil {
				s.log.Warn("reconcile event failed",
					"provider_event_id", events[i].ProviderEventID, "error", err.Error())
				continue
			}
			applied++
		}
	}

	s.log.Info("sweep complete", "candidates", len(pending), "polled", polled, "events_applied", applied)
	return nil
}
