package channel

import (
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

// Renderer turns a touch template into send-ready content with Liquid.
// Parsed templates are cached by ref; registering a ref again replaces
// the cached parse.
type Renderer struct {
	engine    *liquid.Engine
	mu        sync.RWMutex
	templates map[string]*template
}

type template struct {
	subject *liquid.Template
	body    *liquid.Template
}

func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s, ok := value.(string); ok && s == "" {
			return fallback
		}
		return value
	})
	engine.RegisterFilter("first_word", func(s string) string {
		fields := strings.Fields(s)
		if len(fields) == 0 {
			return s
		}
		return fields[0]
	})
	engine.RegisterFilter("possessive", func(s string) string {
		if s == "" {
			return s
		}
		if strings.HasSuffix(s, "s") {
			return s + "'"
		}
		return s + "'s"
	})

	r := &Renderer{engine: engine, templates: make(map[string]*template)}
	for ref, t := range defaultTemplates {
		// Built-in templates are compile-checked at startup.
		if err := r.Register(ref, t.subject, t.body); err != nil {
			panic(err)
		}
	}
	return r
}

// Register parses and caches a template under ref.
func (r *Renderer) Register(ref, subject, body string) error {
	subjTpl, err := r.engine.ParseString(subject)
	if err != nil {
		return errs.Wrap(errs.Validation, "render.bad_subject", err)
	}
	bodyTpl, err := r.engine.ParseString(body)
	if err != nil {
		return errs.Wrap(errs.Validation, "render.bad_body", err)
	}
	r.mu.Lock()
	r.templates[ref] = &template{subject: subjTpl, body: bodyTpl}
	r.mu.Unlock()
	return nil
}

// Rendered is the output of a template render.
type Rendered struct {
	Subject string
	Body    string
}

// Render produces content for a touch. The context is built from the
// lead and client so missing fields degrade via the default filter
// rather than failing mid-sequence.
func (r *Renderer) Render(ref string, lead *domain.PoolLead, clientName string) (*Rendered, error) {
	r.mu.RLock()
	t, ok := r.templates[ref]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.NotFound, "render.unknown_template", ref)
	}

	ctx := map[string]interface{}{
		"first_name":  lead.FirstName,
		"last_name":   lead.LastName,
		"title":       lead.Title,
		"company":     lead.Company,
		"industry":    lead.Industry,
		"country":     lead.Country,
		"sender_name": clientName,
		"open_roles":  lead.OpenRoles,
		"new_in_role": lead.NewInRoleDays > 0 && lead.NewInRoleDays < 180,
		"funded":      lead.FundedDaysAgo > 0 && lead.FundedDaysAgo < 365,
	}

	subject, err := t.subject.RenderString(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "render.subject_failed", err)
	}
	body, err := t.body.RenderString(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "render.body_failed", err)
	}
	return &Rendered{Subject: strings.TrimSpace(subject), Body: strings.TrimSpace(body)}, nil
}

// Has reports whether a template ref is registered.
func (r *Renderer) Has(ref string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[ref]
	return ok
}

// defaultTemplates back the six-touch default sequence. Campaigns may
// register overrides under the same refs.
var defaultTemplates = map[string]struct{ subject, body string }{
	"intro": {
		subject: `Quick question about {{ company | default: "your company" }}`,
		body: `Hi {{ first_name | default: "there" }},

Noticed {{ company | default: "your company" }} while looking at {{ industry | default: "your industry" }} businesses{% if funded %} — congrats on the recent raise{% endif %}.

Curious how you're handling new client acquisition right now. Worth a chat?

{{ sender_name }}`,
	},
	"connect": {
		subject: ``,
		body: `Hi {{ first_name | default: "there" }}, I work with {{ industry | default: "growing" }} businesses like {{ company | default: "yours" }} and thought it'd be worth connecting.`,
	},
	"value": {
		subject: `An idea for {{ company | default: "your team" }}`,
		body: `Hi {{ first_name | default: "there" }},

Following up on my last note. We recently helped a {{ industry | default: "similar" }} business cut their cost per lead in half. Happy to share how it would map to {{ company | default: "your situation" }}.

Would it make sense to compare notes?

{{ sender_name }}`,
	},
	"call": {
		subject: ``,
		body: `Calling {{ first_name | default: "the team" }} at {{ company | default: "the company" }} to follow up on recent emails about client acquisition.`,
	},
	"nudge": {
		subject: ``,
		body: `Hi {{ first_name | default: "there" }}, {{ sender_name }} here. Sent you a couple of notes about growing {{ company | default: "your business" }}. 15 minutes this week?`,
	},
	"breakup": {
		subject: `Closing the loop`,
		body: `Hi {{ first_name | default: "there" }},

I'll stop here — sounds like the timing isn't right. If new client acquisition becomes a priority for {{ company | default: "your team" }}, my door's open.

{{ sender_name }}`,
	},
}
