package server

import (
	"sync"
	"time"

	"github.com/farmguard/farmguard/internal/detect"
	"github.com/farmguard/farmguard/internal/dispatch"
	"github.com/farmguard/farmguard/internal/domain"
)

// FrameStore holds the most recent captured frame for the image endpoint.
// Only the latest frame is kept.
type FrameStore struct {
	mu         sync.RWMutex
	data       []byte
	capturedAt time.Time
}

// NewFrameStore creates an empty store.
func NewFrameStore() *FrameStore {
	return &FrameStore{}
}

// SetLatest replaces the stored frame.
func (s *FrameStore) SetLatest(frame detect.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data[:0], frame.Data...)
	s.capturedAt = frame.CapturedAt
}

// Latest returns the stored frame bytes and capture time. The bool is
// false when no frame has been captured yet.
func (s *FrameStore) Latest() ([]byte, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.data) == 0 {
		return nil, time.Time{}, false
	}
	return append([]byte(nil), s.data...), s.capturedAt, true
}

// EngineStatus is what the dispatcher exposes to the status endpoint.
type EngineStatus interface {
	State() dispatch.State
	LastIncident() *domain.Incident
}
