package allocation

import (
	"github.com/keiracom/agency-os/internal/domain"
)

// channelGates is the tier -> permitted channels table. Gates apply
// before any client policy narrows further.
var channelGates = map[domain.Tier][]domain.Channel{
	domain.TierHot:  {domain.ChannelEmail, domain.ChannelSMS, domain.ChannelLinkedIn, domain.ChannelVoice, domain.ChannelMail},
	domain.TierWarm: {domain.ChannelEmail, domain.ChannelLinkedIn, domain.ChannelVoice},
	domain.TierCool: {domain.ChannelEmail, domain.ChannelLinkedIn},
	domain.TierCold: {domain.ChannelEmail},
	domain.TierDead: {},
}

// PermittedChannels returns the channels a tier may use.
func PermittedChannels(tier domain.Tier) []domain.Channel {
	return channelGates[tier]
}

// Options tunes Allocate.
type Options struct {
	// SignalGate requires at least one priority signal on the lead
	// before a touch is marked enhanced. Off by default.
	SignalGate bool

	// Sequence overrides the default six-touch template; each step's
	// channel is still subject to the tier gate.
	Sequence []domain.SequenceStep
}

// defaultSequence is the six-touch adaptive template. Steps on gated
// channels drop out for lower tiers; the mail alternative replaces SMS
// when SMS is unavailable but mail is.
var defaultSequence = []domain.SequenceStep{
	{Channel: domain.ChannelEmail, OffsetDays: 0, TemplateRef: "intro"},
	{Channel: domain.ChannelLinkedIn, OffsetDays: 2, TemplateRef: "connect"},
	{Channel: domain.ChannelEmail, OffsetDays: 5, TemplateRef: "value"},
	{Channel: domain.ChannelVoice, OffsetDays: 9, TemplateRef: "call"},
	{Channel: domain.ChannelSMS, OffsetDays: 14, TemplateRef: "nudge"},
	{Channel: domain.ChannelEmail, OffsetDays: 21, TemplateRef: "breakup"},
}

// Allocate builds the TouchSchedule for a lead. Pure: tier gates first,
// then the sequence template filtered to permitted channels, then the
// per-touch signal gate. A dead tier returns an empty schedule.
func Allocate(tier domain.Tier, lead *domain.PoolLead, opts Options) domain.TouchSchedule {
	permitted := map[domain.Channel]bool{}
	for _, ch := range channelGates[tier] {
		permitted[ch] = true
	}

	sequence := opts.Sequence
	if len(sequence) == 0 {
		sequence = defaultSequence
	}

	hasSignal := len(domain.PrioritySignals(lead)) > 0

	out := domain.TouchSchedule{Tier: tier}
	for _, step := range sequence {
		ch := step.Channel
		if !permitted[ch] {
			// The day-14 SMS step falls back to direct mail when mail
			// is open but SMS is not.
			if ch == domain.ChannelSMS && permitted[domain.ChannelMail] {
				ch = domain.ChannelMail
			} else {
				continue
			}
		}
		enhanced := true
		if opts.SignalGate {
			enhanced = hasSignal
		}
		out.Touches = append(out.Touches, domain.PlannedTouch{
			Channel:        ch,
			OffsetDays:     step.OffsetDays,
			TemplateRef:    step.TemplateRef,
			Enhanced:       enhanced,
			RequireSignals: opts.SignalGate,
		})
	}
	return out
}
