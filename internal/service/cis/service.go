package cis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// Service runs the detector batch for a tenant and persists the four
// pattern artifacts.
type Service struct {
	repo     Repository
	archiver Archiver
	log      *logger.Logger
	now      func() time.Time
}

// New constructs the service. archiver may be nil when cold storage is
// not configured.
func New(repo Repository, archiver Archiver) *Service {
	return &Service{
		repo:     repo,
		archiver: archiver,
		log:      logger.For("cis"),
		now:      time.Now,
	}
}

// Detect scans the tenant's activity log and writes one pattern per
// detector. Below the data gate it still writes all four rows, empty
// with zero confidence, so consumers can tell "ran, insufficient" from
// "never ran".
func (s *Service) Detect(ctx context.Context, clientID string) ([]domain.ConversionPattern, error) {
	ds, err := s.scan(ctx, clientID)
	if err != nil {
		return nil, err
	}

	confidence := ds.confidence()
	computedAt := s.now().UTC()

	var payloads map[domain.PatternType]interface{}
	if ds.sufficient() {
		payloads = map[domain.PatternType]interface{}{
			domain.PatternWho:  detectWho(ds),
			domain.PatternWhat: detectWhat(ds),
			domain.PatternWhen: detectWhen(ds),
			domain.PatternHow:  detectHow(ds),
		}
	} else {
		s.log.Info("detector gate not met",
			"client_id", clientID, "converting", ds.converting, "total", ds.totalSent)
		payloads = map[domain.PatternType]interface{}{
			domain.PatternWho:  domain.WhoPayload{},
			domain.PatternWhat: domain.WhatPayload{},
			domain.PatternWhen: domain.WhenPayload{},
			domain.PatternHow:  domain.HowPayload{},
		}
	}

	patterns := make([]domain.ConversionPattern, 0, 4)
	for _, pt := range []domain.PatternType{domain.PatternWho, domain.PatternWhat, domain.PatternWhen, domain.PatternHow} {
		raw, err := json.Marshal(payloads[pt])
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "cis.marshal_failed", err)
		}
		p := domain.ConversionPattern{
			ClientID:   clientID,
			Type:       pt,
			Payload:    raw,
			SampleSize: ds.totalSent,
			Confidence: round4(confidence),
			ComputedAt: computedAt,
		}
		if err := s.repo.SavePattern(ctx, &p); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, clientID, patterns); err != nil {
			// The hot path already has the rows; cold storage catches up
			// on the next run.
			s.log.Warn("pattern archive failed", "client_id", clientID, "error", err.Error())
		}
	}

	s.log.Info("detectors complete",
		"client_id", clientID, "sample_size", ds.totalSent,
		"converting", ds.converting, "confidence", confidence)
	return patterns, nil
}

// Latest returns the most recent artifact per detector for prompt
// seeding.
func (s *Service) Latest(ctx context.Context, clientID string) (map[domain.PatternType]*domain.ConversionPattern, error) {
	return s.repo.LatestPatterns(ctx, clientID)
}

// scan streams the activity log into per-lead histories. The scan orders
// by (pool_lead_id, sent_at) so each lead's touches arrive contiguous
// and in send order.
func (s *Service) scan(ctx context.Context, clientID string) (*dataset, error) {
	var histories []leadHistory

	err := s.repo.DetectorScan(ctx, clientID, func(a *domain.Activity) error {
		if len(histories) == 0 || histories[len(histories)-1].poolLeadID != a.PoolLeadID {
			histories = append(histories, leadHistory{poolLeadID: a.PoolLeadID})
		}
		cur := &histories[len(histories)-1]
		cur.activities = append(cur.activities, *a)
		if a.LedToBooking {
			cur.converted = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range histories {
		lead, err := s.repo.GetPoolLead(ctx, histories[i].poolLeadID)
		if err != nil {
			if errs.IsKind(err, errs.NotFound) {
				continue
			}
			return nil, err
		}
		histories[i].lead = lead
	}
	return buildDataset(histories), nil
}
