package cis

import (
	"sort"
	"strconv"

	"github.com/keiracom/agency-os/internal/domain"
)

// detectWhen mines the timing of converting touches: hour and weekday
// buckets, the touch number conversions cluster at, and the spacing
// between touches on converting sequences.
func detectWhen(ds *dataset) domain.WhenPayload {
	hours := newCounter()
	days := newCounter()
	var touchNumbers []int
	var spacings []float64

	for i := range ds.leads {
		lh := &ds.leads[i]
		for j, a := range lh.activities {
			hours.add("h"+pad2(a.SentAt.Local().Hour()), a.LedToBooking)
			days.add(a.SentAt.Local().Weekday().String(), a.LedToBooking)

			if !a.LedToBooking {
				continue
			}
			touchNumbers = append(touchNumbers, a.TouchNumber)
			if j > 0 {
				gap := a.SentAt.Sub(lh.activities[j-1].SentAt).Hours() / 24
				spacings = append(spacings, gap)
			}
		}
	}

	winHours, _ := splitBuckets(hours.buckets(ds.overallRate, minBucketSamples))
	winDays, _ := splitBuckets(days.buckets(ds.overallRate, minBucketSamples))

	return domain.WhenPayload{
		WinningHours:      winHours,
		WinningDays:       winDays,
		OptimalTouchCount: medianInt(touchNumbers),
		OptimalSpacing:    round4(mean(spacings)),
	}
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func medianInt(vals []int) int {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]int(nil), vals...)
	sort.Ints(sorted)
	return sorted[len(sorted)/2]
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
