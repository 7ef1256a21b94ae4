package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/httpretry"
)

// Query identifies the lead to enrich. At least one field must be set.
type Query struct {
	Email       string `json:"email,omitempty"`
	Domain      string `json:"domain,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
}

// Empty reports whether the query carries no identifying field.
func (q Query) Empty() bool {
	return q.Email == "" && q.Domain == "" && q.LinkedInURL == ""
}

// Provider is one enrichment source in the waterfall.
type Provider interface {
	// Name identifies the provider in cost records and logs.
	Name() string

	// Tier is the waterfall tier (1 bulk, 2 full, 3 premium).
	Tier() int

	// CostAUD is the per-lookup cost used for budget accounting.
	CostAUD() float64

	// Lookup resolves the query into a (possibly partial) lead.
	Lookup(ctx context.Context, q Query) (*domain.PoolLead, error)
}

// Source discovers new candidate leads matching an ICP filter; the bulk
// tier-1 providers usually double as sources.
type Source interface {
	Discover(ctx context.Context, f domain.ICPFilter, n int) ([]domain.PoolLead, error)
}

// HTTPProvider calls a JSON enrichment API. The concrete provider
// behind the URL is configuration; the wire contract is ours.
type HTTPProvider struct {
	name    string
	tier    int
	costAUD float64
	baseURL string
	apiKey  string
	client  *httpretry.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPProvider wires a provider endpoint with retries and a circuit
// breaker that opens after 5 consecutive failures.
func NewHTTPProvider(name string, tier int, costAUD float64, baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		name:    name,
		tier:    tier,
		costAUD: costAUD,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httpretry.New(&http.Client{Timeout: 15 * time.Second}, 2),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "enrich-" + name,
			Timeout: 60 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (p *HTTPProvider) Name() string     { return p.name }
func (p *HTTPProvider) Tier() int        { return p.tier }
func (p *HTTPProvider) CostAUD() float64 { return p.costAUD }

// providerResponse is the normalized enrichment API answer.
type providerResponse struct {
	Email         string  `json:"email"`
	FirstName     string  `json:"first_name"`
	LastName      string  `json:"last_name"`
	Title         string  `json:"title"`
	Company       string  `json:"company"`
	Phone         string  `json:"phone"`
	LinkedInURL   string  `json:"linkedin_url"`
	Industry      string  `json:"industry"`
	EmployeeCount int     `json:"employee_count"`
	Country       string  `json:"country"`
	RevenueBand   string  `json:"revenue_band"`
	EmailVerified bool    `json:"email_verified"`
	NewInRoleDays int     `json:"new_in_role_days"`
	OpenRoles     int     `json:"open_roles"`
	FundedDaysAgo int     `json:"funded_days_ago"`
	TechMatch     float64 `json:"tech_match"`
}

func (p *HTTPProvider) Lookup(ctx context.Context, q Query) (*domain.PoolLead, error) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.lookup(ctx, q)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, errs.Wrap(errs.ProviderTransient, "enrich.breaker_open", err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*domain.PoolLead), nil
}

func (p *HTTPProvider) lookup(ctx context.Context, q Query) (*domain.PoolLead, error) {
	params := url.Values{}
	if q.Email != "" {
		params.Set("email", q.Email)
	}
	if q.Domain != "" {
		params.Set("domain", q.Domain)
	}
	if q.LinkedInURL != "" {
		params.Set("linkedin_url", q.LinkedInURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/v1/enrich?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.ProviderTransient, "enrich.request_failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errs.New(errs.NotFound, "enrich.no_match", p.name)
	case resp.StatusCode >= 400:
		return nil, errs.New(errs.ProviderPermanent, "enrich.rejected",
			fmt.Sprintf("%s: status %d", p.name, resp.StatusCode))
	}

	var body providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errs.Wrap(errs.ProviderPermanent, "enrich.bad_response", err)
	}
	return normalize(&body, p.name, p.costAUD), nil
}

// Discover asks the provider for new candidates matching the filter.
// Only the bulk tier-1 providers expose this endpoint; configure others
// without a Source role.
func (p *HTTPProvider) Discover(ctx context.Context, f domain.ICPFilter, n int) ([]domain.PoolLead, error) {
	payload, err := json.Marshal(struct {
		Industries  []string `json:"industries,omitempty"`
		Countries   []string `json:"countries,omitempty"`
		EmployeeMin int      `json:"employee_min,omitempty"`
		EmployeeMax int      `json:"employee_max,omitempty"`
		Limit       int      `json:"limit"`
	}{f.Industries, f.Countries, f.EmployeeMin, f.EmployeeMax, n})
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/discover", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.ProviderTransient, "enrich.request_failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, errs.New(errs.ProviderPermanent, "enrich.rejected",
			fmt.Sprintf("%s: status %d", p.name, resp.StatusCode))
	}

	var body struct {
		Leads []providerResponse `json:"leads"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errs.Wrap(errs.ProviderPermanent, "enrich.bad_response", err)
	}

	out := make([]domain.PoolLead, 0, len(body.Leads))
	for i := range body.Leads {
		l := normalize(&body.Leads[i], p.name, p.costAUD)
		if l.Email == "" {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

// normalize maps a provider response into the canonical lead shape and
// marks it partial when key fields are missing.
func normalize(r *providerResponse, provider string, cost float64) *domain.PoolLead {
	l := &domain.PoolLead{
		Email:            domain.NormalizeEmail(r.Email),
		FirstName:        r.FirstName,
		LastName:         r.LastName,
		Title:            r.Title,
		Company:          r.Company,
		Phone:            r.Phone,
		LinkedInURL:      r.LinkedInURL,
		Industry:         r.Industry,
		EmployeeCount:    r.EmployeeCount,
		Country:          r.Country,
		RevenueBand:      r.RevenueBand,
		EmailVerified:    r.EmailVerified,
		NewInRoleDays:    r.NewInRoleDays,
		OpenRoles:        r.OpenRoles,
		FundedDaysAgo:    r.FundedDaysAgo,
		TechMatch:        r.TechMatch,
		EnrichmentSource: provider,
		EnrichmentCost:   cost,
	}
	l.Domain = domain.DomainOfEmail(l.Email)
	l.Partial = !sufficient(l)
	return l
}

// sufficient reports whether the record is complete enough to stop the
// waterfall: a deliverable address plus who and where they work.
func sufficient(l *domain.PoolLead) bool {
	return l.Email != "" && l.FirstName != "" && l.Company != "" && l.Title != ""
}
