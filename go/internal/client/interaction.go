package client

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdev12/syncwatch/go/internal/sched"
)

const (
	playRevertDelay = 1 * time.Millisecond
	seekRevertDelay = 10 * time.Millisecond
	seekCooldown    = 100 * time.Millisecond

	reversionWindow       = 5 * time.Second
	reversionLimit        = 10
	frequencyBypassPeriod = 10 * time.Second

	// extremeSeekDrift is the distance from the known-good position past
	// which a manual seek is accepted rather than reverted.
	extremeSeekDrift = 300.0
	// seekSlack absorbs seek notifications that land where the guard
	// expects the player to be anyway.
	seekSlack = 0.5
)

// CorrectionState is what the guard needs to know about the engine.
type CorrectionState interface {
	Busy() bool
	EmergencyBypass() bool
}

// InteractionGuard keeps a follower from wandering off with the native
// controls. Play, pause and seek notifications that the engine did not
// cause are reverted to the last state the engine confirmed.
type InteractionGuard struct {
	sched  sched.Scheduler
	player Player
	log    zerolog.Logger
	state  CorrectionState

	known       bool
	lastValid   float64
	lastValidAt time.Time
	lastPlaying bool

	reverting  bool
	pending    *sched.Task
	lastRevert time.Time
	reversions []time.Time
	bypassEnd  time.Time
}

// NewInteractionGuard returns a guard for player. Bind must be called
// before events are delivered.
func NewInteractionGuard(s sched.Scheduler, player Player, logger zerolog.Logger) *InteractionGuard {
	return &InteractionGuard{
		sched:  s,
		player: player,
		log:    logger.With().Str("component", "interaction_guard").Logger(),
	}
}

// Bind attaches the engine whose activity marks events as protocol driven.
func (g *InteractionGuard) Bind(state CorrectionState) { g.state = state }

// Track records a known-good playback state.
func (g *InteractionGuard) Track(position float64, playing bool) {
	g.known = true
	g.lastValid = position
	g.lastValidAt = g.sched.Now()
	g.lastPlaying = playing
}

// Expected is the known-good position carried forward to now.
func (g *InteractionGuard) Expected() float64 {
	pos := g.lastValid
	if g.lastPlaying {
		pos += g.sched.Now().Sub(g.lastValidAt).Seconds()
	}
	return pos
}

// FrequencyBypass reports whether seek blocking is suspended because the
// viewer kept fighting it.
func (g *InteractionGuard) FrequencyBypass() bool {
	return g.sched.Now().Before(g.bypassEnd)
}

func (g *InteractionGuard) busy() bool {
	return g.state != nil && g.state.Busy()
}

// HandleEvent inspects a player notification.
func (g *InteractionGuard) HandleEvent(ev PlayerEvent) {
	if g.reverting {
		return
	}
	switch ev.Kind {
	case EventTimeUpdate:
		if g.busy() {
			g.Track(ev.Position, !g.player.Paused())
		}
	case EventPlay, EventPause:
		if g.busy() {
			return
		}
		g.onPlayState(ev.Kind == EventPlay)
	case EventSeeking:
		if g.busy() {
			return
		}
		g.onSeek(ev.Position)
	}
}

func (g *InteractionGuard) onPlayState(playing bool) {
	if playing == g.lastPlaying {
		return
	}
	g.log.Debug().Bool("playing", playing).Msg("reverting manual play state change")
	g.pending.Cancel()
	g.pending = g.sched.After(playRevertDelay, g.revert)
}

func (g *InteractionGuard) onSeek(position float64) {
	if !g.known {
		return
	}
	now := g.sched.Now()
	if g.FrequencyBypass() || (g.state != nil && g.state.EmergencyBypass()) {
		return
	}
	expected := g.Expected()
	drift := math.Abs(position - expected)
	if drift <= seekSlack {
		return
	}
	if drift > extremeSeekDrift {
		g.log.Info().Float64("position", position).Float64("expected", expected).Msg("allowing extreme seek")
		return
	}
	if now.Sub(g.lastRevert) < seekCooldown {
		return
	}
	g.lastRevert = now
	if g.recordReversion(now) {
		g.log.Warn().Dur("period", frequencyBypassPeriod).Msg("too many seek reversions, seek blocking paused")
		return
	}
	g.log.Debug().Float64("position", position).Float64("expected", expected).Msg("blocking manual seek")
	g.pending.Cancel()
	g.pending = g.sched.After(seekRevertDelay, g.revert)
}

// recordReversion notes a reversion and reports whether the frequency
// bypass just tripped.
func (g *InteractionGuard) recordReversion(now time.Time) bool {
	kept := g.reversions[:0]
	for _, at := range g.reversions {
		if now.Sub(at) < reversionWindow {
			kept = append(kept, at)
		}
	}
	g.reversions = append(kept, now)
	if len(g.reversions) < reversionLimit {
		return false
	}
	g.reversions = nil
	g.bypassEnd = now.Add(frequencyBypassPeriod)
	return true
}

// revert puts the player back in the known-good state.
func (g *InteractionGuard) revert() {
	g.pending = nil
	if g.busy() {
		return
	}
	g.reverting = true
	defer func() { g.reverting = false }()

	if g.known && math.Abs(g.player.Position()-g.Expected()) > seekSlack {
		g.player.Seek(g.Expected())
	}
	if g.lastPlaying && g.player.Paused() {
		if err := g.player.Play(); err != nil {
			g.log.Debug().Err(err).Msg("revert to playing refused")
		}
	} else if !g.lastPlaying && !g.player.Paused() {
		g.player.Pause()
	}
}

// Stop cancels a pending revert.
func (g *InteractionGuard) Stop() { g.pending.Cancel() }
