// Package account holds the shared view of the trading account. The terminal
// is the single writer (via Status messages); decision-side components only
// read snapshots.
package account

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of the account, refreshed by the terminal.
type Snapshot struct {
	Balance           float64   `json:"balance"`
	Equity            float64   `json:"equity"`
	Margin            float64   `json:"margin"`
	FreeMargin        float64   `json:"free_margin"`
	OpenPositionCount int       `json:"open_position_count"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// State is the single-writer/multi-reader store for the latest snapshot.
type State struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// NewState creates an empty account state.
func NewState() *State {
	return &State{}
}

// Update replaces the stored snapshot. Called only by the Status listener.
func (s *State) Update(snap Snapshot) {
	s.mu.Lock()
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	s.snapshot = snap
	s.mu.Unlock()
}

// Get returns the latest snapshot.
func (s *State) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Age returns how stale the snapshot is.
func (s *State) Age() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot.UpdatedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(s.snapshot.UpdatedAt)
}
