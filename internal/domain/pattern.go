package domain

import (
	"encoding/json"
	"time"
)

// PatternType enumerates the four CIS detectors.
type PatternType string

const (
	PatternWho  PatternType = "who"
	PatternWhat PatternType = "what"
	PatternWhen PatternType = "when"
	PatternHow  PatternType = "how"
)

// ConversionPattern is one persisted detector artifact per
// (client, pattern_type) run. Payload is the tagged union for the type.
type ConversionPattern struct {
	ID         string          `json:"id" db:"id"`
	ClientID   string          `json:"client_id" db:"client_id"`
	Type       PatternType     `json:"pattern_type" db:"pattern_type"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	SampleSize int             `json:"sample_size" db:"sample_size"`
	Confidence float64         `json:"confidence" db:"confidence"`
	ComputedAt time.Time       `json:"computed_at" db:"computed_at"`
}

// Bucket is a labelled cohort with its conversion statistics. Used by the
// WHO and WHEN detectors.
type Bucket struct {
	Label      string  `json:"label"`
	Samples    int     `json:"samples"`
	Converting int     `json:"converting"`
	ConvRate   float64 `json:"conv_rate"`
	Lift       float64 `json:"lift"`
}

// WhoPayload is the WHO detector artifact.
type WhoPayload struct {
	Winning []Bucket `json:"winning"`
	Losing  []Bucket `json:"losing"`
}

// TaggedStat is a named pattern with conversion statistics, used for
// subject lines, CTAs, angles, and pain points.
type TaggedStat struct {
	Tag        string  `json:"tag"`
	Type       string  `json:"type,omitempty"`
	Samples    int     `json:"samples"`
	Converting int     `json:"converting"`
	ConvRate   float64 `json:"conv_rate"`
	Lift       float64 `json:"lift"`
}

// LengthRange is the 25th/75th-percentile band of converting message
// lengths for a channel.
type LengthRange struct {
	Channel Channel `json:"channel"`
	Unit    string  `json:"unit"` // "words" or "chars"
	P25     int     `json:"p25"`
	P75     int     `json:"p75"`
	Samples int     `json:"samples"`
}

// WhatPayload is the WHAT detector artifact.
type WhatPayload struct {
	SubjectWinning  []TaggedStat  `json:"subject_winning"`
	SubjectLosing   []TaggedStat  `json:"subject_losing"`
	PainPoints      []TaggedStat  `json:"pain_points"`
	CTAs            []TaggedStat  `json:"ctas"`
	Angles          []TaggedStat  `json:"angles"`
	OptimalLengths  []LengthRange `json:"optimal_lengths"`
	Personalization []TaggedStat  `json:"personalization"`
}

// WhenPayload is the WHEN detector artifact.
type WhenPayload struct {
	WinningHours      []Bucket `json:"winning_hours"`
	WinningDays       []Bucket `json:"winning_days"`
	OptimalTouchCount int      `json:"optimal_touch_count"`
	OptimalSpacing    float64  `json:"optimal_spacing_days"`
}

// SequenceStat is a channel n-gram with its support and lift, used by the
// HOW detector.
type SequenceStat struct {
	Sequence   []Channel `json:"sequence"`
	Support    int       `json:"support"`
	Converting int       `json:"converting"`
	ConvRate   float64   `json:"conv_rate"`
	Lift       float64   `json:"lift"`
}

// HowPayload is the HOW detector artifact.
type HowPayload struct {
	Winning []SequenceStat `json:"winning"`
	Losing  []SequenceStat `json:"losing"`
}
