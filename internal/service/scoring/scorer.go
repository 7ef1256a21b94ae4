package scoring

import (
	"strings"

	"github.com/keiracom/agency-os/internal/domain"
)

// Input carries everything the scorer needs beyond the lead itself.
type Input struct {
	// Tenant targeting policy.
	TargetIndustries  []string
	TargetCountries   []string
	TargetEmployeeMin int
	TargetEmployeeMax int

	// Weights overrides the default component weights; nil means defaults.
	// A vector that does not sum to 100 is ignored.
	Weights *domain.ScoreWeights

	// Risk history flags for this (client, lead) pair.
	Bounced      bool
	Unsubscribed bool
	Competitor   bool
	RoleMismatch bool

	// BuyerScore is the cross-tenant known-buyer score (0-100) for the
	// lead's domain; zero when unknown.
	BuyerScore int

	// PersonalDomain reports whether the lead's email domain is webmail.
	PersonalDomain bool
}

// Result is the scorer output.
type Result struct {
	Score      int
	Tier       domain.Tier
	Components domain.ScoreComponents
}

// Default per-component maxima. Client weight vectors rescale against
// these.
const (
	maxDataQuality = 20
	maxAuthority   = 25
	maxCompanyFit  = 25
	maxTiming      = 15
	maxRisk        = 15
)

// Score computes the ALS for a lead. Pure; no I/O, no clock.
func Score(l *domain.PoolLead, in Input) Result {
	c := domain.ScoreComponents{
		DataQuality: dataQuality(l, in.PersonalDomain),
		Authority:   authority(l.Title),
		CompanyFit:  companyFit(l, in),
		Timing:      timing(l),
		Risk:        risk(in),
	}
	c.LinkedInBoost = linkedInBoost(l)
	if in.BuyerScore > 0 {
		c.BuyerBonus = in.BuyerScore * 15 / 100
	}

	w := domain.DefaultScoreWeights()
	if in.Weights != nil && in.Weights.Sum() == 100 {
		w = *in.Weights
	}

	total := c.DataQuality*w.DataQuality/maxDataQuality +
		c.Authority*w.Authority/maxAuthority +
		c.CompanyFit*w.CompanyFit/maxCompanyFit +
		c.Timing*w.Timing/maxTiming +
		c.Risk*w.Risk/maxRisk +
		c.LinkedInBoost + c.BuyerBonus

	score := clamp(total, 0, 100)
	return Result{Score: score, Tier: domain.TierForScore(score), Components: c}
}

func dataQuality(l *domain.PoolLead, personalDomain bool) int {
	pts := 0
	if l.EmailVerified {
		pts += 8
	}
	if l.Phone != "" {
		pts += 6
	}
	if l.LinkedInURL != "" {
		pts += 4
	}
	if l.Email != "" && !personalDomain {
		pts += 2
	}
	return pts
}

// authority maps a job title to its seniority points. First match wins,
// senior patterns checked first so "VP & Director" reads as VP.
func authority(title string) int {
	t := strings.ToLower(title)
	switch {
	case t == "":
		return 0
	case containsAny(t, "owner", "founder", "ceo", "chief executive"):
		return 25
	case containsAny(t, "cto", "cfo", "coo", "cmo", "cro", "chief"):
		return 22
	case containsAny(t, "vp", "vice president"):
		return 18
	case containsAny(t, "director", "head of"):
		return 15
	case containsAny(t, "manager", "lead"):
		return 10
	}
	return 0
}

func companyFit(l *domain.PoolLead, in Input) int {
	pts := 0
	if matchFold(in.TargetIndustries, l.Industry) {
		pts += 10
	}
	if l.EmployeeCount > 0 &&
		(in.TargetEmployeeMin == 0 || l.EmployeeCount >= in.TargetEmployeeMin) &&
		(in.TargetEmployeeMax == 0 || l.EmployeeCount <= in.TargetEmployeeMax) &&
		(in.TargetEmployeeMin > 0 || in.TargetEmployeeMax > 0) {
		pts += 8
	}
	if matchFold(in.TargetCountries, l.Country) {
		pts += 7
	}
	return pts
}

func timing(l *domain.PoolLead) int {
	pts := 0
	if l.NewInRoleDays > 0 && l.NewInRoleDays < 180 {
		pts += 6
	}
	if l.OpenRoles >= 3 {
		pts += 5
	}
	if l.FundedDaysAgo > 0 && l.FundedDaysAgo < 365 {
		pts += 4
	}
	return pts
}

func risk(in Input) int {
	pts := 0
	if in.Bounced {
		pts -= 10
	}
	if in.Unsubscribed {
		pts -= 15
	}
	if in.Competitor {
		pts -= 5
	}
	if in.RoleMismatch {
		pts -= 5
	}
	if pts < -maxRisk {
		pts = -maxRisk
	}
	return pts
}

// linkedInBoost awards up to +10 from scraped engagement signals.
func linkedInBoost(l *domain.PoolLead) int {
	if l.LinkedInURL == "" {
		return 0
	}
	pts := 0
	if l.LinkedInPosts > 0 {
		pts += 4
	}
	if l.LinkedInRecent {
		pts += 3
	}
	if l.LinkedInNetwork >= 500 {
		pts += 3
	}
	return pts
}

// containsAny matches on word boundaries so short acronyms never fire
// inside longer words ("cto" must not match "director").
func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if containsWord(s, sub) {
			return true
		}
	}
	return false
}

func containsWord(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); {
		j := strings.Index(s[i:], sub)
		if j < 0 {
			return false
		}
		j += i
		end := j + len(sub)
		if (j == 0 || !isWordByte(s[j-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		i = j + 1
	}
	return false
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func matchFold(set []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
