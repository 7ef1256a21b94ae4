package domain

import "time"

// ThreadStatus enumerates the live state of a conversation thread.
type ThreadStatus string

const (
	ThreadActive   ThreadStatus = "active"
	ThreadResolved ThreadStatus = "resolved"
	ThreadStale    ThreadStatus = "stale"
)

// ThreadOutcome is the terminal label for a conversation.
type ThreadOutcome string

const (
	OutcomeConverted  ThreadOutcome = "converted"
	OutcomeRejected   ThreadOutcome = "rejected"
	OutcomeNoResponse ThreadOutcome = "no_response"
	OutcomeOngoing    ThreadOutcome = "ongoing"
)

// Thread is one conversation per (client, pool_lead, channel family).
type Thread struct {
	ID             string        `json:"id" db:"id"`
	ClientID       string        `json:"client_id" db:"client_id"`
	PoolLeadID     string        `json:"pool_lead_id" db:"pool_lead_id"`
	Channel        Channel       `json:"channel" db:"channel"`
	Status         ThreadStatus  `json:"status" db:"status"`
	Outcome        ThreadOutcome `json:"outcome" db:"outcome"`
	MessageCount   int           `json:"message_count" db:"message_count"`
	LastInboundAt  *time.Time    `json:"last_inbound_at" db:"last_inbound_at"`
	LastOutboundAt *time.Time    `json:"last_outbound_at" db:"last_outbound_at"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// MessageDirection distinguishes outbound touches from inbound replies.
type MessageDirection string

const (
	DirectionOutbound MessageDirection = "outbound"
	DirectionInbound  MessageDirection = "inbound"
)

// Intent enumerates the reply classifications the thread machine acts on.
type Intent string

const (
	IntentInterested    Intent = "interested"
	IntentQuestion      Intent = "question"
	IntentObjection     Intent = "objection"
	IntentNotInterested Intent = "not_interested"
	IntentUnsubscribe   Intent = "unsubscribe"
	IntentOutOfScope    Intent = "oos"
)

// Classification is the output of the reply classifier.
type Classification struct {
	Sentiment     string  `json:"sentiment"`
	Intent        Intent  `json:"intent"`
	ObjectionType string  `json:"objection_type,omitempty"`
	QuestionText  string  `json:"question_text,omitempty"`
	Confidence    float64 `json:"confidence"`
}

// Message is a single message within a thread.
type Message struct {
	ID            string           `json:"id" db:"id"`
	ThreadID      string           `json:"thread_id" db:"thread_id"`
	Direction     MessageDirection `json:"direction" db:"direction"`
	Content       string           `json:"content" db:"content"`
	Sentiment     string           `json:"sentiment" db:"sentiment"`
	Intent        Intent           `json:"intent" db:"intent"`
	ObjectionType string           `json:"objection_type" db:"objection_type"`
	Position      int              `json:"position" db:"position"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}
