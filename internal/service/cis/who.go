package cis

import (
	"strings"

	"github.com/keiracom/agency-os/internal/domain"
)

// detectWho buckets leads by attribute and reports which cohorts convert
// above or below the tenant's overall rate. Bucketing is per lead, not
// per activity; a lead's conversion counts once per bucket it falls in.
func detectWho(ds *dataset) domain.WhoPayload {
	c := newCounter()
	leadsSeen := 0
	converted := 0
	for i := range ds.leads {
		lh := &ds.leads[i]
		if lh.lead == nil {
			continue
		}
		leadsSeen++
		if lh.converted {
			converted++
		}
		for _, label := range whoLabels(lh.lead) {
			c.add(label, lh.converted)
		}
	}

	overall := 0.0
	if leadsSeen > 0 {
		overall = float64(converted) / float64(leadsSeen)
	}
	winning, losing := splitBuckets(c.buckets(overall, minBucketSamples))
	return domain.WhoPayload{Winning: winning, Losing: losing}
}

func whoLabels(l *domain.PoolLead) []string {
	labels := []string{
		"seniority:" + seniorityOf(l.Title),
		"size:" + sizeBand(l.EmployeeCount),
	}
	if l.Industry != "" {
		labels = append(labels, "industry:"+strings.ToLower(l.Industry))
	}
	if l.Country != "" {
		labels = append(labels, "country:"+strings.ToUpper(l.Country))
	}
	if l.NewInRoleDays > 0 && l.NewInRoleDays < 180 {
		labels = append(labels, "signal:new_in_role")
	}
	if l.OpenRoles >= 3 {
		labels = append(labels, "signal:hiring")
	}
	if l.FundedDaysAgo > 0 && l.FundedDaysAgo < 365 {
		labels = append(labels, "signal:funded")
	}
	return labels
}

// seniorityOf mirrors the authority bands the scorer awards points for.
func seniorityOf(title string) string {
	t := strings.ToLower(title)
	switch {
	case t == "":
		return "unknown"
	case strings.Contains(t, "owner") || strings.Contains(t, "founder") ||
		strings.Contains(t, "ceo") || strings.Contains(t, "chief executive"):
		return "owner_ceo"
	case strings.Contains(t, "chief ") || strings.Contains(t, "cto") ||
		strings.Contains(t, "cfo") || strings.Contains(t, "coo") ||
		strings.Contains(t, "cmo") || strings.Contains(t, "cro"):
		return "c_suite"
	case strings.Contains(t, "vp") || strings.Contains(t, "vice president"):
		return "vp"
	case strings.Contains(t, "director") || strings.Contains(t, "head of"):
		return "director"
	case strings.Contains(t, "manager") || strings.Contains(t, "lead "):
		return "manager"
	}
	return "other"
}

func sizeBand(employees int) string {
	switch {
	case employees <= 0:
		return "unknown"
	case employees <= 10:
		return "1-10"
	case employees <= 50:
		return "11-50"
	case employees <= 200:
		return "51-200"
	case employees <= 1000:
		return "201-1000"
	}
	return "1000+"
}
