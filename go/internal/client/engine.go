package client

import (
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdev12/syncwatch/go/internal/netquality"
	"github.com/mcdev12/syncwatch/go/internal/protocol"
	"github.com/mcdev12/syncwatch/go/internal/sched"
)

const (
	// idempotentDrift caps the distance at which a command is treated as
	// already applied.
	idempotentDrift = 0.25

	suspendedRetry  = 1000 * time.Millisecond
	lowBufferRetry  = 500 * time.Millisecond
	notReadyRetry   = 300 * time.Millisecond
	suspendOverride = 15.0
	bufferOverride  = 10.0

	constrainedApplyDelay = 75 * time.Millisecond
	unpauseSettleDelay    = 120 * time.Millisecond
	unpausePreRoll        = 0.1

	giveUpLimit     = 3
	emergencyPeriod = 10 * time.Second
)

// Command is a correction the engine drives the player toward. ID is empty
// for corrections the follower derives locally.
type Command struct {
	ID          string
	Type        protocol.CommandType
	CurrentTime float64
	IsPlaying   *bool
	ReceivedAt  time.Time
}

// wantPlaying resolves the play state the command asks for given the
// player's current one.
func (c Command) wantPlaying(playing bool) bool {
	if c.IsPlaying != nil {
		return *c.IsPlaying
	}
	switch c.Type {
	case protocol.CommandPlay:
		return true
	case protocol.CommandPause:
		return false
	default:
		return playing
	}
}

// Outcome describes how a command concluded.
type Outcome struct {
	Command Command
	Success bool
	// Skipped is set when the emergency bypass refused the command.
	Skipped bool
	// Superseded is set when a newer command replaced this one.
	Superseded bool
	Position   float64
	Attempts   int
	Drift      float64
}

// EngineConfig wires an Engine to its surroundings.
type EngineConfig struct {
	Profile           netquality.Profile
	Tier              func() netquality.Tier
	OnConclude        func(Outcome)
	OnGestureRequired func()
}

type engineState int

const (
	stateIdle engineState = iota
	stateDeferred
	stateApplying
	stateVerifying
)

// Engine applies commands to a Player and verifies they took. One command
// is in flight at a time; a newer command supersedes it.
type Engine struct {
	sched  sched.Scheduler
	player Player
	buffer *BufferGuard
	log    zerolog.Logger
	cfg    EngineConfig

	ready  bool
	parked *Command

	state       engineState
	current     *Command
	settings    Settings
	wantPlaying bool
	unpause     bool
	attempts    int
	step        *sched.Task
	verify      *sched.Task

	giveUps   int
	bypassEnd time.Time
}

// NewEngine returns an engine that is not ready; commands park until
// MarkReady.
func NewEngine(s sched.Scheduler, player Player, buffer *BufferGuard, cfg EngineConfig, logger zerolog.Logger) *Engine {
	if cfg.Tier == nil {
		cfg.Tier = func() netquality.Tier { return netquality.TierUnknown }
	}
	return &Engine{
		sched:  s,
		player: player,
		buffer: buffer,
		cfg:    cfg,
		log:    logger.With().Str("component", "engine").Logger(),
	}
}

func (e *Engine) constrained() bool { return e.cfg.Profile == netquality.ProfileConstrained }

// Settings returns the adaptive settings for the current network tier.
func (e *Engine) Settings() Settings { return AdaptiveSettings(e.cfg.Tier(), e.cfg.Profile) }

// Busy reports whether a command is being applied or verified. A command
// held back by the constrained gates does not count: the player is not
// being touched.
func (e *Engine) Busy() bool { return e.state == stateApplying || e.state == stateVerifying }

// Pending reports whether any command is in flight, deferred or not.
func (e *Engine) Pending() bool { return e.state != stateIdle }

// Ready reports whether the player has accepted commands yet.
func (e *Engine) Ready() bool { return e.ready }

// EmergencyBypass reports whether corrections are currently skipped.
func (e *Engine) EmergencyBypass() bool { return e.sched.Now().Before(e.bypassEnd) }

// MarkReady lets commands through and applies the one parked while the
// player was loading.
func (e *Engine) MarkReady() {
	if e.ready {
		return
	}
	e.ready = true
	if e.parked != nil {
		cmd := *e.parked
		e.parked = nil
		e.log.Debug().Str("type", string(cmd.Type)).Msg("applying parked command")
		e.Apply(cmd)
	}
}

// Apply starts driving the player toward cmd, superseding whatever was in
// flight.
func (e *Engine) Apply(cmd Command) {
	if cmd.ReceivedAt.IsZero() {
		cmd.ReceivedAt = e.sched.Now()
	}
	if !e.ready {
		e.parked = &cmd
		return
	}
	if e.current != nil {
		e.log.Debug().Str("command_id", e.current.ID).Msg("command superseded")
		e.conclude(Outcome{Superseded: true})
	}
	if e.EmergencyBypass() {
		e.log.Warn().Str("command_id", cmd.ID).Msg("emergency bypass active, skipping command")
		e.notify(Outcome{Command: cmd, Skipped: true, Position: e.player.Position()})
		return
	}
	e.current = &cmd
	e.attempts = 0
	e.state = stateDeferred
	e.gate()
}

// gate holds a constrained player's command back while it is suspended,
// short on buffer or not yet able to render a frame.
func (e *Engine) gate() {
	if !e.constrained() {
		e.prepare()
		return
	}
	drift := math.Abs(e.current.CurrentTime - e.player.Position())
	if e.buffer.Suspended() {
		if drift <= suspendOverride {
			e.deferGate(suspendedRetry, "suspended")
			return
		}
		e.buffer.ClearSuspension("emergency_override")
	}
	if h := e.buffer.Health(); !h.Healthy {
		if drift < bufferOverride {
			e.deferGate(lowBufferRetry, h.Reason)
			return
		}
		e.buffer.ForceHealthy()
	}
	if e.player.ReadyState() < HaveCurrentData {
		e.deferGate(notReadyRetry, "not_ready")
		return
	}
	e.prepare()
}

func (e *Engine) deferGate(d time.Duration, reason string) {
	e.log.Debug().Str("reason", reason).Dur("retry_in", d).Msg("deferring command")
	e.state = stateDeferred
	e.step = e.sched.After(d, e.gate)
}

// prepare sizes the settings for the command and starts the first attempt.
func (e *Engine) prepare() {
	s := e.Settings()
	playing := !e.player.Paused()
	e.wantPlaying = e.current.wantPlaying(playing)
	e.unpause = false
	if e.constrained() {
		if h := e.buffer.Health(); !h.Healthy {
			s = s.WithLowBuffer(h.Ahead)
		}
		if !playing && e.wantPlaying {
			e.unpause = true
			s.MaxRetries = 1
			s.Tolerance = math.Max(s.Tolerance, constrainedUnpauseTolerance)
		}
	}
	e.settings = s
	e.attempt()
}

// target is where the player should be at now.
func (e *Engine) target(now time.Time) float64 {
	t := e.current.CurrentTime
	if e.wantPlaying {
		t += now.Sub(e.current.ReceivedAt).Seconds()
	}
	return t
}

func (e *Engine) attempt() {
	e.attempts++
	e.state = stateApplying
	now := e.sched.Now()
	target := e.target(now)
	position := e.player.Position()
	drift := math.Abs(position - target)

	if drift <= math.Min(e.settings.Tolerance, idempotentDrift) && e.player.Paused() != e.wantPlaying {
		e.conclude(Outcome{Success: true, Drift: drift})
		return
	}

	e.log.Debug().
		Str("command_id", e.current.ID).
		Str("type", string(e.current.Type)).
		Int("attempt", e.attempts).
		Int("max_retries", e.settings.MaxRetries).
		Float64("target", target).
		Float64("drift", drift).
		Msg("applying command")

	if e.constrained() {
		e.step = e.sched.After(constrainedApplyDelay, e.applyConstrained)
	} else {
		e.applyChanges(target)
	}
	e.verify = e.sched.After(verifyDelay(e.constrained(), drift), e.check)
}

func (e *Engine) applyConstrained() {
	target := e.target(e.sched.Now())
	if !e.unpause {
		e.applyChanges(target)
		return
	}
	// Position just short of the target first so the pipeline can settle
	// before playback starts.
	e.player.Seek(math.Max(target-unpausePreRoll, 0))
	e.step = e.sched.After(unpauseSettleDelay, func() {
		e.player.Seek(e.target(e.sched.Now()))
		e.play()
		e.state = stateVerifying
	})
}

func (e *Engine) applyChanges(target float64) {
	if math.Abs(e.player.Position()-target) > idempotentDrift {
		e.player.Seek(target)
	}
	if e.wantPlaying {
		e.play()
	} else {
		e.player.Pause()
	}
	e.state = stateVerifying
}

func (e *Engine) play() {
	err := e.player.Play()
	if err == nil {
		return
	}
	if errors.Is(err, ErrPlaybackNotAllowed) {
		e.log.Warn().Msg("playback needs a user gesture")
		if e.cfg.OnGestureRequired != nil {
			e.cfg.OnGestureRequired()
		}
		return
	}
	e.log.Error().Err(err).Msg("play failed")
}

func (e *Engine) check() {
	e.verify = nil
	drift := math.Abs(e.player.Position() - e.target(e.sched.Now()))
	if drift <= e.settings.Tolerance {
		e.conclude(Outcome{Success: true, Drift: drift})
		return
	}
	if e.attempts < e.settings.MaxRetries {
		e.log.Debug().Float64("drift", drift).Int("attempt", e.attempts).Msg("correction missed, retrying")
		e.state = stateApplying
		e.step = e.sched.After(e.settings.ApplyDelay, e.attempt)
		return
	}

	e.giveUps++
	e.log.Warn().
		Str("command_id", e.current.ID).
		Float64("drift", drift).
		Int("attempts", e.attempts).
		Int("give_ups", e.giveUps).
		Msg("giving up on command")
	if e.giveUps >= giveUpLimit {
		e.giveUps = 0
		e.bypassEnd = e.sched.Now().Add(emergencyPeriod)
		e.log.Warn().Dur("period", emergencyPeriod).Msg("entering emergency bypass")
	}
	e.conclude(Outcome{Drift: drift})
}

// conclude finishes the in-flight command and reports out for it.
func (e *Engine) conclude(out Outcome) {
	e.step.Cancel()
	e.verify.Cancel()
	e.step, e.verify = nil, nil
	cmd := e.current
	e.current = nil
	e.state = stateIdle
	if cmd == nil {
		return
	}
	if out.Success {
		e.giveUps = 0
	}
	out.Command = *cmd
	out.Attempts = e.attempts
	out.Position = e.player.Position()
	e.notify(out)
}

func (e *Engine) notify(out Outcome) {
	if e.cfg.OnConclude != nil {
		e.cfg.OnConclude(out)
	}
}

// Stop abandons the in-flight command without reporting it.
func (e *Engine) Stop() {
	e.step.Cancel()
	e.verify.Cancel()
	e.current = nil
	e.parked = nil
	e.state = stateIdle
}

// verifyDelay gives large jumps longer to settle before they are judged.
func verifyDelay(constrained bool, jump float64) time.Duration {
	switch {
	case jump > 600:
		if constrained {
			return 2000 * time.Millisecond
		}
		return 1500 * time.Millisecond
	case jump > 300:
		if constrained {
			return 1500 * time.Millisecond
		}
		return 1000 * time.Millisecond
	case constrained:
		return 250 * time.Millisecond
	default:
		return 200 * time.Millisecond
	}
}
