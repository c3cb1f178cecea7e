// Package gateway wraps the speech providers behind the contracts the
// interview session relies on: a speech-to-text call that either recognizes
// text, hears nothing, or is unavailable, and a text-to-speech call that
// either yields a non-empty audio stream or is unavailable.
//
// Timeouts, the single STT retry and the TTS first-frame deadline live here so
// that the session never has to reason about provider failure modes. Each
// gateway keeps an [Availability] flag that health checks can poll.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Availability is the last-known health of one external collaborator. It is
// updated by the owning gateway after every call. Safe for concurrent use.
type Availability struct {
	name string
	now  func() time.Time

	mu        sync.RWMutex
	available bool
	lastErr   error
	changedAt time.Time
}

// AvailabilityStatus is a point-in-time copy of an [Availability].
type AvailabilityStatus struct {
	Name      string    `json:"name"`
	Available bool      `json:"available"`
	LastError string    `json:"last_error,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// NewAvailability returns a flag that starts out available.
func NewAvailability(name string) *Availability {
	a := &Availability{name: name, now: time.Now, available: true}
	a.changedAt = a.now()
	return a
}

// Name returns the collaborator name.
func (a *Availability) Name() string { return a.name }

// MarkAvailable records a successful call.
func (a *Availability) MarkAvailable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.available {
		a.available = true
		a.changedAt = a.now()
	}
	a.lastErr = nil
}

// MarkUnavailable records a failed call.
func (a *Availability) MarkUnavailable(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.available {
		a.available = false
		a.changedAt = a.now()
	}
	a.lastErr = err
}

// Available reports the last-known flag.
func (a *Availability) Available() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.available
}

// Status returns a copy of the current state.
func (a *Availability) Status() AvailabilityStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AvailabilityStatus{Name: a.name, Available: a.available, ChangedAt: a.changedAt}
	if a.lastErr != nil {
		s.LastError = a.lastErr.Error()
	}
	return s
}

// Check returns nil while available and the last error otherwise. Its
// signature matches health.Checker.Check.
func (a *Availability) Check(context.Context) error {
	s := a.Status()
	if s.Available {
		return nil
	}
	return fmt.Errorf("%s unavailable since %s: %s", s.Name, s.ChangedAt.Format(time.RFC3339), s.LastError)
}
