package domain

import "strings"

// AlertStatus is the lifecycle status of the remote alert record.
// Transitions are monotonic: PENDING → PLAY|NOT_PLAY → PROCESSED.
// Only the remote operator sets PLAY or NOT_PLAY.
type AlertStatus string

const (
	AlertStatusPending   AlertStatus = "PENDING"
	AlertStatusPlay      AlertStatus = "PLAY"
	AlertStatusNotPlay   AlertStatus = "NOT_PLAY"
	AlertStatusProcessed AlertStatus = "PROCESSED"
)

// ParseAlertStatus normalizes a raw status string from the remote record.
// Status values are case-insensitive on the wire.
func ParseAlertStatus(raw string) (AlertStatus, bool) {
	switch AlertStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case AlertStatusPending:
		return AlertStatusPending, true
	case AlertStatusPlay:
		return AlertStatusPlay, true
	case AlertStatusNotPlay:
		return AlertStatusNotPlay, true
	case AlertStatusProcessed:
		return AlertStatusProcessed, true
	}
	return "", false
}

// GsmReply is the operator decision extracted from an inbound SMS,
// or GsmReplyNone when the reply deadline elapsed without one.
type GsmReply int

const (
	GsmReplyNone GsmReply = iota
	GsmReplyPlay
	GsmReplyNotPlay
)

func (r GsmReply) String() string {
	switch r {
	case GsmReplyPlay:
		return "play"
	case GsmReplyNotPlay:
		return "not_play"
	default:
		return "none"
	}
}
