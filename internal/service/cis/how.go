package cis

import (
	"sort"
	"strings"

	"github.com/keiracom/agency-os/internal/domain"
)

// detectHow reconstructs each lead's channel sequence up to its
// converting or final touch and compares n-gram frequencies between
// converters and the rest.
func detectHow(ds *dataset) domain.HowPayload {
	grams := newCounter()
	convertedLeads := 0
	totalLeads := 0

	for i := range ds.leads {
		lh := &ds.leads[i]
		seq := channelSequence(lh)
		if len(seq) < 2 {
			continue
		}
		totalLeads++
		if lh.converted {
			convertedLeads++
		}
		for _, g := range ngrams(seq, 2) {
			grams.add(g, lh.converted)
		}
		for _, g := range ngrams(seq, 3) {
			grams.add(g, lh.converted)
		}
	}

	overall := 0.0
	if totalLeads > 0 {
		overall = float64(convertedLeads) / float64(totalLeads)
	}

	var stats []domain.SequenceStat
	for gram, n := range grams.samples {
		if n < minBucketSamples {
			continue
		}
		conv := grams.converting[gram]
		rate := float64(conv) / float64(n)
		stats = append(stats, domain.SequenceStat{
			Sequence:   parseGram(gram),
			Support:    n,
			Converting: conv,
			ConvRate:   round4(rate),
			Lift:       round4(lift(rate, overall)),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Lift != stats[j].Lift {
			return stats[i].Lift > stats[j].Lift
		}
		return gramKey(stats[i].Sequence) < gramKey(stats[j].Sequence)
	})

	var winning, losing []domain.SequenceStat
	for _, st := range stats {
		switch {
		case st.Lift > winningLift:
			winning = append(winning, st)
		case st.Lift < losingLift:
			losing = append(losing, st)
		}
	}
	sort.Slice(losing, func(i, j int) bool {
		if losing[i].Lift != losing[j].Lift {
			return losing[i].Lift < losing[j].Lift
		}
		return gramKey(losing[i].Sequence) < gramKey(losing[j].Sequence)
	})
	if len(winning) > topK {
		winning = winning[:topK]
	}
	if len(losing) > topK {
		losing = losing[:topK]
	}
	return domain.HowPayload{Winning: winning, Losing: losing}
}

// channelSequence truncates the lead's touch order at the first
// converting touch; later touches did not contribute.
func channelSequence(lh *leadHistory) []domain.Channel {
	var seq []domain.Channel
	for _, a := range lh.activities {
		seq = append(seq, a.Channel)
		if a.LedToBooking && a.ID == lastConvertingID(lh) {
			break
		}
	}
	return seq
}

// lastConvertingID finds the final credited touch; the sequence runs up
// to and including it.
func lastConvertingID(lh *leadHistory) string {
	id := ""
	for _, a := range lh.activities {
		if a.LedToBooking {
			id = a.ID
		}
	}
	return id
}

func ngrams(seq []domain.Channel, n int) []string {
	var out []string
	for i := 0; i+n <= len(seq); i++ {
		out = append(out, gramKey(seq[i:i+n]))
	}
	return out
}

func gramKey(seq []domain.Channel) string {
	parts := make([]string, len(seq))
	for i, ch := range seq {
		parts[i] = string(ch)
	}
	return strings.Join(parts, ">")
}

func parseGram(gram string) []domain.Channel {
	parts := strings.Split(gram, ">")
	out := make([]domain.Channel, len(parts))
	for i, p := range parts {
		out[i] = domain.Channel(p)
	}
	return out
}
