package domain

import "time"

// IncidentChannel names the transport that carried the alert for an incident.
type IncidentChannel string

const (
	ChannelNone  IncidentChannel = "none"
	ChannelCloud IncidentChannel = "cloud"
	ChannelGsm   IncidentChannel = "gsm"
)

// Resolution explains how an incident reached its terminal state.
type Resolution string

const (
	ResolutionOperatorPlay    Resolution = "operator_play"
	ResolutionOperatorSilence Resolution = "operator_silence"
	ResolutionReplyTimeout    Resolution = "reply_timeout"
	ResolutionSendFailed      Resolution = "send_failed"
)

// Incident is one detected-and-escalated threat event, tracked end to end
// by the dispatcher. It is owned exclusively by the dispatcher; the
// transport channels hold no incident state.
type Incident struct {
	ID          string
	Label       string
	Confidence  float64
	AlertID     string
	Channel     IncidentChannel
	Resolution  Resolution
	SoundPlayed bool
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// Resolved reports whether the incident reached its terminal state.
func (i *Incident) Resolved() bool {
	return i.ResolvedAt != nil
}
