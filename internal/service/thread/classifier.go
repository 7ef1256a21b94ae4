package thread

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

// Classifier labels one inbound reply. Implementations are stateless;
// a failed call may be retried without side effects.
type Classifier interface {
	Classify(ctx context.Context, text string, prior []domain.Message) (*domain.Classification, error)
}

// Cascade tries the cheap classifier first and escalates to the premium
// one when confidence falls below the threshold. With no classifiers
// wired it falls back to keyword matching.
type Cascade struct {
	Cheap         Classifier
	Premium       Classifier
	MinConfidence float64
}

// Classify runs the cascade. Returns a classifier-ambiguous error when even the
// last resort is below threshold so the caller can park the reply for
// manual review.
func (c *Cascade) Classify(ctx context.Context, text string, prior []domain.Message) (*domain.Classification, error) {
	min := c.MinConfidence
	if min <= 0 {
		min = 0.6
	}

	// Unsubscribes must never depend on a model being reachable.
	if kw := keywordClassify(text); kw.Intent == domain.IntentUnsubscribe {
		return kw, nil
	}

	var best *domain.Classification
	for _, cl := range []Classifier{c.Cheap, c.Premium} {
		if cl == nil {
			continue
		}
		res, err := cl.Classify(ctx, text, prior)
		if err != nil {
			continue
		}
		if best == nil || res.Confidence > best.Confidence {
			best = res
		}
		if best.Confidence >= min {
			return best, nil
		}
	}

	if best == nil {
		best = keywordClassify(text)
	}
	if best.Confidence < min {
		return best, errs.New(errs.ClassifierAmbig, "thread.low_confidence", string(best.Intent))
	}
	return best, nil
}

// modelClassification is the JSON shape both model adapters request.
type modelClassification struct {
	Sentiment     string  `json:"sentiment"`
	Intent        string  `json:"intent"`
	ObjectionType string  `json:"objection_type"`
	QuestionText  string  `json:"question_text"`
	Confidence    float64 `json:"confidence"`
}

func parseModelClassification(raw string) (*domain.Classification, error) {
	// Models occasionally wrap the JSON in prose or fences.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errs.New(errs.ClassifierAmbig, "thread.unparseable", raw)
	}
	var m modelClassification
	if err := json.Unmarshal([]byte(raw[start:end+1]), &m); err != nil {
		return nil, errs.Wrap(errs.ClassifierAmbig, "thread.unparseable", err)
	}
	intent := domain.Intent(m.Intent)
	switch intent {
	case domain.IntentInterested, domain.IntentQuestion, domain.IntentObjection,
		domain.IntentNotInterested, domain.IntentUnsubscribe, domain.IntentOutOfScope:
	default:
		intent = domain.IntentOutOfScope
	}
	return &domain.Classification{
		Sentiment:     m.Sentiment,
		Intent:        intent,
		ObjectionType: m.ObjectionType,
		QuestionText:  m.QuestionText,
		Confidence:    m.Confidence,
	}, nil
}

const classifyPrompt = `You label one inbound reply to a B2B outreach message.
Answer with only a JSON object:
{"sentiment":"positive|neutral|negative","intent":"interested|question|objection|not_interested|unsubscribe|oos","objection_type":"","question_text":"","confidence":0.0}
Reply to label:
`

// keyword matching is the floor under the model cascade: coarse, but it
// catches the intents with compliance weight.
var keywordIntents = []struct {
	intent   domain.Intent
	keywords []string
}{
	{domain.IntentUnsubscribe, []string{"unsubscribe", "remove me", "take me off", "stop emailing", "opt out", "opt-out", "do not contact"}},
	{domain.IntentNotInterested, []string{"not interested", "no thanks", "no thank you", "we're all set", "not a fit", "not for us"}},
	{domain.IntentInterested, []string{"interested", "let's talk", "book a call", "schedule", "sounds good", "tell me more", "send over"}},
	{domain.IntentObjection, []string{"too expensive", "no budget", "already have", "we use", "under contract"}},
	{domain.IntentQuestion, []string{"how much", "what does", "how does", "can you", "?"}},
}

func keywordClassify(text string) *domain.Classification {
	t := strings.ToLower(text)
	for _, ki := range keywordIntents {
		for _, kw := range ki.keywords {
			if strings.Contains(t, kw) {
				conf := 0.7
				if ki.intent == domain.IntentUnsubscribe {
					conf = 0.95
				}
				return &domain.Classification{
					Sentiment:  sentimentFor(ki.intent),
					Intent:     ki.intent,
					Confidence: conf,
				}
			}
		}
	}
	return &domain.Classification{Sentiment: "neutral", Intent: domain.IntentOutOfScope, Confidence: 0.3}
}

func sentimentFor(i domain.Intent) string {
	switch i {
	case domain.IntentInterested:
		return "positive"
	case domain.IntentNotInterested, domain.IntentUnsubscribe, domain.IntentObjection:
		return "negative"
	}
	return "neutral"
}
