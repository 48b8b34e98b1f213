// Package domain holds the core types shared across the alert engine.
package domain

import "time"

// Detection is a single classifier verdict for one evaluated frame.
type Detection struct {
	Label      string
	Confidence float64
	ObservedAt time.Time
}

// SoundKind selects the alarm pattern rendered by the sound sink.
type SoundKind string

const (
	SoundWarning      SoundKind = "warning"
	SoundAlert        SoundKind = "alert"
	SoundNotification SoundKind = "notification"
)
