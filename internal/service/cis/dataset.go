package cis

import (
	"math"
	"sort"

	"github.com/keiracom/agency-os/internal/domain"
)

const (
	minConvertingActivities = 5
	minTotalActivities      = 20
	minBucketSamples        = 3
	topK                    = 5

	winningLift = 1.0
	losingLift  = 0.9
)

// dataset is one tenant's scanned activity set, grouped per lead with
// the attributes the detectors slice on. Activities within a lead keep
// the scan's sent_at order.
type dataset struct {
	leads []leadHistory

	totalSent   int
	converting  int
	overallRate float64
}

// leadHistory is one lead's full touch sequence. Converted is true when
// any activity was credited to a booking.
type leadHistory struct {
	poolLeadID string
	lead       *domain.PoolLead
	activities []domain.Activity
	converted  bool
}

func buildDataset(histories []leadHistory) *dataset {
	ds := &dataset{leads: histories}
	for i := range histories {
		ds.totalSent += len(histories[i].activities)
		for _, a := range histories[i].activities {
			if a.LedToBooking {
				ds.converting++
			}
		}
	}
	if ds.totalSent > 0 {
		ds.overallRate = float64(ds.converting) / float64(ds.totalSent)
	}
	return ds
}

// sufficient applies the shared data gate: below it every detector emits
// an empty payload with zero confidence.
func (ds *dataset) sufficient() bool {
	return ds.converting >= minConvertingActivities && ds.totalSent >= minTotalActivities
}

// confidence maps the converting sample count onto (0,1). Centred at 50
// converting activities; ~0.5 there, saturating near 100.
func (ds *dataset) confidence() float64 {
	if !ds.sufficient() {
		return 0
	}
	return sigmoid((float64(ds.converting) - 50) / 15)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// counter accumulates per-label sample and conversion counts.
type counter struct {
	samples    map[string]int
	converting map[string]int
}

func newCounter() *counter {
	return &counter{samples: make(map[string]int), converting: make(map[string]int)}
}

func (c *counter) add(label string, converted bool) {
	c.samples[label]++
	if converted {
		c.converting[label]++
	}
}

// buckets emits every label with enough samples, lift computed against
// the overall rate. Output is ordered by lift descending, label
// ascending on ties, so repeated runs serialise identically.
func (c *counter) buckets(overallRate float64, minSamples int) []domain.Bucket {
	var out []domain.Bucket
	for label, n := range c.samples {
		if n < minSamples {
			continue
		}
		conv := c.converting[label]
		rate := float64(conv) / float64(n)
		out = append(out, domain.Bucket{
			Label:      label,
			Samples:    n,
			Converting: conv,
			ConvRate:   round4(rate),
			Lift:       round4(lift(rate, overallRate)),
		})
	}
	sortBuckets(out)
	return out
}

func sortBuckets(bs []domain.Bucket) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].Lift != bs[j].Lift {
			return bs[i].Lift > bs[j].Lift
		}
		return bs[i].Label < bs[j].Label
	})
}

// splitBuckets partitions into winning and losing bands, capped at top-K
// each. The middle band (neither clearly winning nor losing) is dropped.
func splitBuckets(bs []domain.Bucket) (winning, losing []domain.Bucket) {
	for _, b := range bs {
		switch {
		case b.Lift > winningLift:
			winning = append(winning, b)
		case b.Lift < losingLift:
			losing = append(losing, b)
		}
	}
	if len(winning) > topK {
		winning = winning[:topK]
	}
	// Losing buckets rank worst first.
	sort.Slice(losing, func(i, j int) bool {
		if losing[i].Lift != losing[j].Lift {
			return losing[i].Lift < losing[j].Lift
		}
		return losing[i].Label < losing[j].Label
	})
	if len(losing) > topK {
		losing = losing[:topK]
	}
	return winning, losing
}

// lift is the ratio of a cohort's conversion rate to the overall rate. A
// zero overall rate yields zero lift rather than a division blow-up.
func lift(rate, overall float64) float64 {
	if overall == 0 {
		return 0
	}
	return rate / overall
}

// round4 keeps payload floats stable across runs and platforms.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// percentile returns the p-th percentile of a sorted int slice using
// nearest-rank.
func percentile(sorted []int, p int) int {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
