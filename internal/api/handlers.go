package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/keiracom/agency-os/internal/auth"
	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/httputil"
	"github.com/keiracom/agency-os/internal/pkg/logger"
	"github.com/keiracom/agency-os/internal/repository/postgres"
	"github.com/keiracom/agency-os/internal/service/campaign"
	"github.com/keiracom/agency-os/internal/service/thread"
)

// CampaignService is the campaign lifecycle surface.
type CampaignService interface {
	Create(ctx context.Context, clientID string, in campaign.CreateInput) (*domain.Campaign, error)
	Activate(ctx context.Context, clientID, campaignID string, leadCount int) (*campaign.ActivationResult, error)
	Pause(ctx context.Context, clientID, campaignID string) (int, error)
	Get(ctx context.Context, clientID, id string) (*domain.Campaign, error)
	List(ctx context.Context, clientID string) ([]domain.Campaign, error)
}

// LeadReader serves tenant lead views.
type LeadReader interface {
	List(ctx context.Context, clientID string, f postgres.ListFilter) ([]domain.LeadView, int, error)
	Get(ctx context.Context, clientID, id string) (*domain.LeadView, error)
}

// ActivityReader serves the per-lead activity log.
type ActivityReader interface {
	ForLead(ctx context.Context, clientID, poolLeadID string) ([]domain.Activity, error)
}

// SuppressionWriter maintains the tenant's do-not-contact set.
type SuppressionWriter interface {
	Add(ctx context.Context, e *domain.SuppressionEntry) error
	Import(ctx context.Context, clientID string, entries []domain.SuppressionEntry) (int, error)
}

// MeetingService records a booked meeting against a thread.
type MeetingService interface {
	RecordMeeting(ctx context.Context, m thread.Meeting, signals thread.PurchaseRecorder) error
}

// Reporter aggregates the tenant dashboard.
type Reporter interface {
	Dashboard(ctx context.Context, clientID string) (*postgres.DashboardReport, error)
}

// Handlers holds the tenant-facing endpoints.
type Handlers struct {
	campaigns  CampaignService
	leads      LeadReader
	activities ActivityReader
	suppress   SuppressionWriter
	meetings   MeetingService
	signals    thread.PurchaseRecorder
	reports    Reporter
	log        *logger.Logger
}

func NewHandlers(campaigns CampaignService, leads LeadReader, activities ActivityReader, suppress SuppressionWriter, meetings MeetingService, signals thread.PurchaseRecorder, reports Reporter) *Handlers {
	return &Handlers{
		campaigns:  campaigns,
		leads:      leads,
		activities: activities,
		suppress:   suppress,
		meetings:   meetings,
		signals:    signals,
		reports:    reports,
		log:        logger.For("api"),
	}
}

// Health answers liveness probes.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), auth.ClientID(r.Context()), in)
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.Created(w, c)
}

func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := h.campaigns.List(r.Context(), auth.ClientID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.OK(w, map[string]any{"campaigns": list})
}

func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), auth.ClientID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) ActivateCampaign(w http.ResponseWriter, r *http.Request) {
	var in struct {
		LeadCount int `json:"lead_count"`
	}
	if !httputil.Decode(w, r, &in) {
		return
	}
	if in.LeadCount <= 0 {
		in.LeadCount = 25
	}
	res, err := h.campaigns.Activate(r.Context(), auth.ClientID(r.Context()), chi.URLParam(r, "id"), in.LeadCount)
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.OK(w, res)
}

func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.campaigns.Pause(r.Context(), auth.ClientID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.OK(w, map[string]int{"touches_cancelled": cancelled})
}

func (h *Handlers) ListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := postgres.ListFilter{
		CampaignID: q.Get("campaign_id"),
		Tier:       q.Get("tier"),
		Status:     q.Get("status"),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}

	views, total, err := h.leads.List(r.Context(), auth.ClientID(r.Context()), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.OK(w, map[string]any{"leads": views, "total": total})
}

func (h *Handlers) GetLead(w http.ResponseWriter, r *http.Request) {
	v, err := h.leads.Get(r.Context(), auth.ClientID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.OK(w, v)
}

func (h *Handlers) LeadActivities(w http.ResponseWriter, r *http.Request) {
	clientID := auth.ClientID(r.Context())
	v, err := h.leads.Get(r.Context(), clientID, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	acts, err := h.activities.ForLead(r.Context(), clientID, v.PoolLeadID)
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.OK(w, map[string]any{"activities": acts})
}

func (h *Handlers) AddSuppression(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Scope  domain.SuppressionScope  `json:"scope"`
		Value  string                   `json:"value"`
		Reason domain.SuppressionReason `json:"reason"`
	}
	if !httputil.Decode(w, r, &in) {
		return
	}
	if in.Reason == "" {
		in.Reason = domain.ReasonDoNotContact
	}
	err := h.suppress.Add(r.Context(), &domain.SuppressionEntry{
		ClientID: auth.ClientID(r.Context()),
		Scope:    in.Scope,
		Value:    in.Value,
		Reason:   in.Reason,
		Source:   "api",
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.Created(w, map[string]string{"status": "suppressed"})
}

// ImportCustomers loads a tenant's customer list: every address is
// suppressed as an existing customer, and each customer's domain feeds
// the anonymized buyer ledger.
func (h *Handlers) ImportCustomers(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Customers []struct {
			Email    string  `json:"email"`
			Domain   string  `json:"domain"`
			Service  string  `json:"service"`
			ValueAUD float64 `json:"value_aud"`
		} `json:"customers"`
	}
	if !httputil.Decode(w, r, &in) {
		return
	}
	if len(in.Customers) == 0 {
		httputil.BadRequest(w, "customers list is empty")
		return
	}

	clientID := auth.ClientID(r.Context())
	entries := make([]domain.SuppressionEntry, 0, len(in.Customers))
	for _, c := range in.Customers {
		if c.Email == "" {
			continue
		}
		entries = append(entries, domain.SuppressionEntry{
			ClientID: clientID,
			Scope:    domain.ScopeEmail,
			Value:    domain.NormalizeEmail(c.Email),
			Reason:   domain.ReasonExistingCustomer,
			Source:   "customer_import",
		})
	}

	added, err := h.suppress.Import(r.Context(), clientID, entries)
	if err != nil {
		writeErr(w, err)
		return
	}

	signalled := 0
	for _, c := range in.Customers {
		if c.Domain == "" {
			continue
		}
		if err := h.signals.RecordPurchase(r.Context(), c.Domain, c.ValueAUD, c.Service); err != nil {
			h.log.Warn("buyer signal import failed", "domain", c.Domain, "error", err.Error())
			continue
		}
		signalled++
	}

	httputil.OK(w, map[string]int{"suppressed": added, "buyer_signals": signalled})
}

func (h *Handlers) RecordMeeting(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PoolLeadID string  `json:"pool_lead_id"`
		ThreadID   string  `json:"thread_id"`
		LeadDomain string  `json:"lead_domain"`
		Service    string  `json:"service"`
		ValueAUD   float64 `json:"value_aud"`
	}
	if !httputil.Decode(w, r, &in) {
		return
	}
	if in.PoolLeadID == "" || in.ThreadID == "" {
		httputil.BadRequest(w, "pool_lead_id and thread_id are required")
		return
	}

	err := h.meetings.RecordMeeting(r.Context(), thread.Meeting{
		ClientID:   auth.ClientID(r.Context()),
		PoolLeadID: in.PoolLeadID,
		ThreadID:   in.ThreadID,
		LeadDomain: in.LeadDomain,
		Service:    in.Service,
		ValueAUD:   in.ValueAUD,
	}, h.signals)
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "converted"})
}

func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.Dashboard(r.Context(), auth.ClientID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	httputil.OK(w, report)
}

// writeErr maps error kinds to HTTP statuses. Unknown kinds are 500
// with a generic body; the real error goes to the log only.
func writeErr(w http.ResponseWriter, err error) {
	switch errs.KindOf(err) {
	case errs.Validation:
		httputil.Error(w, http.StatusBadRequest, err.Error())
	case errs.NotFound:
		httputil.NotFound(w, err.Error())
	case errs.Collision, errs.Suppressed:
		httputil.Error(w, http.StatusConflict, err.Error())
	case errs.RateLimited:
		httputil.Error(w, http.StatusTooManyRequests, err.Error())
	case errs.BudgetExhausted:
		httputil.Error(w, http.StatusPaymentRequired, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
