package session

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// CanonicalState is the leader-driven playback state. While playing, the
// live position is CurrentTime plus the time elapsed since LastUpdate.
type CanonicalState struct {
	CurrentTime float64   `json:"currentTime"`
	IsPlaying   bool      `json:"isPlaying"`
	LastUpdate  time.Time `json:"lastUpdate"`
}

// PositionAt extrapolates the playback position to t.
func (s CanonicalState) PositionAt(t time.Time) float64 {
	if !s.IsPlaying {
		return s.CurrentTime
	}
	elapsed := t.Sub(s.LastUpdate)
	if elapsed < 0 {
		elapsed = 0
	}
	return s.CurrentTime + elapsed.Seconds()
}

// Authority owns the canonical state. Callers must only apply input that
// came from the current leader.
type Authority struct {
	clock clockwork.Clock
	state CanonicalState
}

// NewAuthority starts paused at startTime.
func NewAuthority(clock clockwork.Clock, startTime float64) *Authority {
	return &Authority{
		clock: clock,
		state: CanonicalState{CurrentTime: startTime, LastUpdate: clock.Now()},
	}
}

// Apply overwrites the state. Backward positions are accepted as is; only
// the timestamp is kept from going backwards.
func (a *Authority) Apply(currentTime float64, isPlaying bool) CanonicalState {
	now := a.clock.Now()
	if now.Before(a.state.LastUpdate) {
		now = a.state.LastUpdate
	}
	a.state = CanonicalState{CurrentTime: currentTime, IsPlaying: isPlaying, LastUpdate: now}
	return a.state
}

// Position returns the extrapolated position now.
func (a *Authority) Position() float64 {
	return a.state.PositionAt(a.clock.Now())
}

// Snapshot returns a copy of the state.
func (a *Authority) Snapshot() CanonicalState {
	return a.state
}
