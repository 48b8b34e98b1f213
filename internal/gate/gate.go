// Package gate throttles raw detections before they reach the dispatcher.
package gate

import (
	"sync"
	"time"
)

// Defaults for the dedup filter.
const (
	DefaultConfidenceFloor = 0.8
	DefaultCooldown        = 30 * time.Second
)

// Gate is a per-label dedup/cooldown filter. It knows nothing about threat
// classification; that policy lives in the dispatcher.
type Gate struct {
	floor    float64
	cooldown time.Duration

	mu           sync.Mutex
	lastAccepted map[string]time.Time
}

// New creates a gate with the given confidence floor and per-label cooldown.
func New(floor float64, cooldown time.Duration) *Gate {
	return &Gate{
		floor:        floor,
		cooldown:     cooldown,
		lastAccepted: make(map[string]time.Time),
	}
}

// Accept reports whether a detection is actionable. Detections below the
// confidence floor are never actionable. A label accepted within the
// cooldown window is rejected; on acceptance the label's timestamp is
// recorded. Entries never expire, they are overwritten on the next
// acceptance.
func (g *Gate) Accept(label string, confidence float64, now time.Time) bool {
	if confidence < g.floor {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.lastAccepted[label]; ok && now.Sub(last) < g.cooldown {
		return false
	}
	g.lastAccepted[label] = now
	return true
}
