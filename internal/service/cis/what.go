package cis

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/keiracom/agency-os/internal/domain"
)

// Subject-line shape tags. A subject can carry several.
var subjectTags = []struct {
	tag string
	re  *regexp.Regexp
}{
	{"question_about", regexp.MustCompile(`(?i)^question about\b`)},
	{"quick_question", regexp.MustCompile(`(?i)\bquick question\b`)},
	{"name_dash", regexp.MustCompile(`^\S+ - `)},
	{"ends_question", regexp.MustCompile(`\?\s*$`)},
	{"casual_greeting", regexp.MustCompile(`(?i)^(hey|hi|hello)\b`)},
}

// Pain-point vocabulary. Category hits are counted per message.
var painPointVocab = map[string][]string{
	"leads":       {"lead", "pipeline", "prospect"},
	"revenue":     {"revenue", "sales", "growth", "mrr"},
	"time":        {"time", "hours", "bandwidth", "manual"},
	"scaling":     {"scale", "scaling", "grow the team", "headcount"},
	"competition": {"competitor", "competition", "market share", "losing deals"},
	"cost":        {"cost", "budget", "spend", "expensive"},
	"quality":     {"quality", "consistency", "standard"},
	"clients":     {"client", "churn", "retention", "customer"},
}

// CTA phrase set with type labels.
var ctaPhrases = []struct {
	phrase string
	typ    string
}{
	{"worth a chat", "soft_ask"},
	{"open to a quick chat", "soft_ask"},
	{"15 minutes this week", "time_specific"},
	{"tuesday or thursday", "time_specific"},
	{"book a call", "direct_ask"},
	{"schedule a demo", "direct_ask"},
	{"happy to share", "value_offer"},
	{"i can send over", "value_offer"},
	{"no pressure", "passive"},
	{"whenever suits", "passive"},
	{"would it make sense", "question"},
	{"curious if", "question"},
	{"let me know", "casual"},
	{"thoughts?", "casual"},
}

// Message angle patterns, ranked by conversion rate in the artifact.
var anglePatterns = map[string]*regexp.Regexp{
	"roi_focused":  regexp.MustCompile(`(?i)\b(roi|return on|\d+x|revenue|pipeline)\b`),
	"social_proof": regexp.MustCompile(`(?i)\b(helped|worked with|clients like|agencies like|case study)\b`),
	"curiosity":    regexp.MustCompile(`(?i)\b(noticed|wondering|curious|came across)\b`),
	"fear_based":   regexp.MustCompile(`(?i)\b(missing out|losing|falling behind|competitors are)\b`),
	"value_add":    regexp.MustCompile(`(?i)\b(free|audit|guide|playbook|no strings)\b`),
	"authority":    regexp.MustCompile(`(?i)\b(we specialise|years of|proven|award)\b`),
	"urgency":      regexp.MustCompile(`(?i)\b(this week|limited|closing|before)\b`),
}

// Personalization flags carried on the content snapshot.
var personalizationFlags = []string{"company_mention", "recent_news", "mutual_connection", "industry_specific"}

// detectWhat parses every activity's content snapshot into the message
// sub-patterns: subject shapes, pain points, CTAs, angles, optimal
// lengths, and personalization lift.
func detectWhat(ds *dataset) domain.WhatPayload {
	subjects := newCounter()
	pains := newCounter()
	ctas := newCounter()
	ctaTypes := make(map[string]string)
	angles := newCounter()
	personal := newCounter()
	lengths := make(map[domain.Channel][]int)

	for i := range ds.leads {
		for _, a := range ds.leads[i].activities {
			conv := a.LedToBooking
			body := a.Content.Body
			lower := strings.ToLower(body)

			if a.Content.Subject != "" {
				for _, st := range subjectTags {
					if st.re.MatchString(a.Content.Subject) {
						subjects.add(st.tag, conv)
					}
				}
				subjects.add(subjectLengthTag(a.Content.Subject), conv)
			}

			for category, words := range painPointVocab {
				for _, w := range words {
					if strings.Contains(lower, w) {
						pains.add(category, conv)
						break
					}
				}
			}

			for _, cta := range ctaPhrases {
				if strings.Contains(lower, cta.phrase) {
					ctas.add(cta.phrase, conv)
					ctaTypes[cta.phrase] = cta.typ
				}
			}

			for angle, re := range anglePatterns {
				if re.MatchString(body) {
					angles.add(angle, conv)
				}
			}

			for _, flag := range personalizationFlags {
				label := flag + ":absent"
				if hasFlag(a.Content.Personalization, flag) {
					label = flag + ":present"
				}
				personal.add(label, conv)
			}

			if conv {
				if n := messageLength(a.Channel, body); n > 0 {
					lengths[a.Channel] = append(lengths[a.Channel], n)
				}
			}
		}
	}

	subjWin, subjLose := splitStats(statsFrom(subjects, nil, ds.overallRate))
	return domain.WhatPayload{
		SubjectWinning:  subjWin,
		SubjectLosing:   subjLose,
		PainPoints:      statsFrom(pains, nil, ds.overallRate),
		CTAs:            statsFrom(ctas, ctaTypes, ds.overallRate),
		Angles:          statsFrom(angles, nil, ds.overallRate),
		OptimalLengths:  lengthRanges(lengths),
		Personalization: personalizationLift(personal),
	}
}

// subjectLengthTag bands the subject by word count.
func subjectLengthTag(subject string) string {
	n := len(strings.Fields(subject))
	switch {
	case n <= 3:
		return "short"
	case n <= 6:
		return "medium"
	}
	return "long"
}

// messageLength is words for text channels, characters for sms. Voice
// and mail snapshots are scripts with no meaningful length signal.
func messageLength(ch domain.Channel, body string) int {
	switch ch {
	case domain.ChannelEmail, domain.ChannelLinkedIn:
		return len(strings.Fields(body))
	case domain.ChannelSMS:
		return utf8.RuneCountInString(body)
	}
	return 0
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// statsFrom converts a counter into tagged stats ordered by conversion
// rate descending, tag ascending on ties.
func statsFrom(c *counter, types map[string]string, overall float64) []domain.TaggedStat {
	var out []domain.TaggedStat
	for tag, n := range c.samples {
		if n < minBucketSamples {
			continue
		}
		conv := c.converting[tag]
		rate := float64(conv) / float64(n)
		st := domain.TaggedStat{
			Tag:        tag,
			Samples:    n,
			Converting: conv,
			ConvRate:   round4(rate),
			Lift:       round4(lift(rate, overall)),
		}
		if types != nil {
			st.Type = types[tag]
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConvRate != out[j].ConvRate {
			return out[i].ConvRate > out[j].ConvRate
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

func splitStats(stats []domain.TaggedStat) (winning, losing []domain.TaggedStat) {
	for _, st := range stats {
		switch {
		case st.Lift > winningLift:
			winning = append(winning, st)
		case st.Lift < losingLift:
			losing = append(losing, st)
		}
	}
	return winning, losing
}

func lengthRanges(lengths map[domain.Channel][]int) []domain.LengthRange {
	var out []domain.LengthRange
	for ch, vals := range lengths {
		if len(vals) < minBucketSamples {
			continue
		}
		sorted := append([]int(nil), vals...)
		sort.Ints(sorted)
		unit := "words"
		if ch == domain.ChannelSMS {
			unit = "chars"
		}
		out = append(out, domain.LengthRange{
			Channel: ch,
			Unit:    unit,
			P25:     percentile(sorted, 25),
			P75:     percentile(sorted, 75),
			Samples: len(sorted),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// personalizationLift reports conv_rate(present) / conv_rate(absent) per
// flag. A flag never present, or with an absent rate of zero, is skipped.
func personalizationLift(c *counter) []domain.TaggedStat {
	var out []domain.TaggedStat
	for _, flag := range personalizationFlags {
		presentN := c.samples[flag+":present"]
		absentN := c.samples[flag+":absent"]
		if presentN < minBucketSamples || absentN < minBucketSamples {
			continue
		}
		presentRate := float64(c.converting[flag+":present"]) / float64(presentN)
		absentRate := float64(c.converting[flag+":absent"]) / float64(absentN)
		if absentRate == 0 {
			continue
		}
		out = append(out, domain.TaggedStat{
			Tag:        flag,
			Samples:    presentN + absentN,
			Converting: c.converting[flag+":present"] + c.converting[flag+":absent"],
			ConvRate:   round4(presentRate),
			Lift:       round4(presentRate / absentRate),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Lift != out[j].Lift {
			return out[i].Lift > out[j].Lift
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}
