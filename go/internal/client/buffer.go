package client

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdev12/syncwatch/go/internal/sched"
)

const (
	// MinBufferAhead is the buffered lookahead, in seconds, below which a
	// constrained follower is considered to be running low.
	MinBufferAhead = 2.5

	bufferGracePeriod  = 2 * time.Second
	suspendDebounce    = 500 * time.Millisecond
	suspendBurstWindow = 2 * time.Second
	suspendAutoClear   = 5 * time.Second
	timeUpdateRecovery = 1 * time.Second
	foregroundRecovery = 100 * time.Millisecond
)

// BufferHealth is a point-in-time view of the player's buffer.
type BufferHealth struct {
	Healthy   bool
	Ahead     float64
	Buffering bool
	InGrace   bool
	Reason    string
}

// BufferGuard tracks buffering and power-management suspension on a
// constrained player. Corrections consult it before touching the player.
type BufferGuard struct {
	sched  sched.Scheduler
	player Player
	log    zerolog.Logger

	buffering      bool
	bufferStart    time.Time
	bufferEnd      time.Time
	suspended      bool
	suspendedAt    time.Time
	lastSuspend    time.Time
	lastTimeUpdate time.Time

	debounce  *sched.Task
	autoClear *sched.Task
	recover   *sched.Task
}

// NewBufferGuard returns a guard watching player.
func NewBufferGuard(s sched.Scheduler, player Player, logger zerolog.Logger) *BufferGuard {
	return &BufferGuard{
		sched:  s,
		player: player,
		log:    logger.With().Str("component", "buffer_guard").Logger(),
	}
}

// Health reports buffer health. A player with no buffered ranges reports
// healthy; one that is buffering, has just finished buffering, or holds
// less than MinBufferAhead seconds does not.
func (g *BufferGuard) Health() BufferHealth {
	ahead, ok := g.player.BufferedAhead()
	if !ok {
		return BufferHealth{Healthy: true, Reason: "no_buffer_data"}
	}
	h := BufferHealth{
		Ahead:     ahead,
		Buffering: g.buffering,
		InGrace:   !g.bufferEnd.IsZero() && g.sched.Now().Sub(g.bufferEnd) < bufferGracePeriod,
	}
	switch {
	case h.Buffering:
		h.Reason = "buffering"
	case h.InGrace:
		h.Reason = "grace_period"
	case ahead < MinBufferAhead:
		h.Reason = "low_buffer"
	default:
		h.Healthy = true
		h.Reason = "healthy"
	}
	return h
}

// Suspended reports whether sync work is paused for power management.
func (g *BufferGuard) Suspended() bool { return g.suspended }

// Buffering reports whether the player is stalled waiting for data.
func (g *BufferGuard) Buffering() bool { return g.buffering }

// ForceHealthy drops the buffering and grace state so an extreme drift can
// be corrected through a struggling buffer.
func (g *BufferGuard) ForceHealthy() {
	g.buffering = false
	g.bufferEnd = time.Time{}
}

// HandleEvent feeds a player notification into the guard.
func (g *BufferGuard) HandleEvent(ev PlayerEvent) {
	now := g.sched.Now()
	switch ev.Kind {
	case EventWaiting, EventStalled:
		if !g.buffering {
			g.buffering = true
			g.bufferStart = now
			g.log.Debug().Str("event", string(ev.Kind)).Msg("buffering started")
		}
	case EventCanPlay, EventPlaying:
		if g.buffering {
			g.buffering = false
			g.bufferEnd = now
			g.log.Debug().Dur("duration", now.Sub(g.bufferStart)).Msg("buffering ended")
		}
		g.ClearSuspension(string(ev.Kind))
	case EventLoadedData:
		g.ClearSuspension(string(ev.Kind))
	case EventTimeUpdate:
		if g.suspended && now.Sub(g.lastTimeUpdate) > timeUpdateRecovery {
			g.lastTimeUpdate = now
			g.ClearSuspension(string(ev.Kind))
		}
	case EventSuspend:
		g.onSuspend(now)
	case EventInteraction:
		if g.suspended {
			g.ClearSuspension(string(ev.Kind))
		}
	case EventForeground:
		g.recover.Cancel()
		g.recover = g.sched.After(foregroundRecovery, func() {
			g.ClearSuspension(string(EventForeground))
		})
	}
}

// onSuspend debounces suspend signals. An isolated signal commits after a
// short delay; a burst keeps pushing the commit out by the burst window.
func (g *BufferGuard) onSuspend(now time.Time) {
	burst := !g.lastSuspend.IsZero() && now.Sub(g.lastSuspend) <= suspendBurstWindow
	g.lastSuspend = now

	delay := suspendDebounce
	if burst {
		delay = suspendBurstWindow
	}
	g.debounce.Cancel()
	g.debounce = g.sched.After(delay, g.commitSuspend)
}

func (g *BufferGuard) commitSuspend() {
	g.debounce = nil
	if g.suspended {
		return
	}
	g.suspended = true
	g.suspendedAt = g.sched.Now()
	g.log.Info().Msg("player suspended, pausing sync work")

	g.autoClear.Cancel()
	g.autoClear = g.sched.After(suspendAutoClear, func() {
		g.ClearSuspension("timeout")
	})
}

// ClearSuspension ends a committed suspension and cancels a pending one.
func (g *BufferGuard) ClearSuspension(reason string) {
	if g.suspended {
		g.log.Info().
			Str("reason", reason).
			Dur("suspended_for", g.sched.Now().Sub(g.suspendedAt)).
			Msg("suspension cleared")
		g.suspended = false
		g.suspendedAt = time.Time{}
		g.autoClear.Cancel()
		g.autoClear = nil
	}
	if g.debounce.Cancel() {
		g.log.Debug().Str("reason", reason).Msg("pending suspension cancelled")
	}
	g.debounce = nil
}

// Stop cancels outstanding timers.
func (g *BufferGuard) Stop() {
	g.debounce.Cancel()
	g.autoClear.Cancel()
	g.recover.Cancel()
}
