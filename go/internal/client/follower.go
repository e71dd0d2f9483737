package client

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdev12/syncwatch/go/internal/netquality"
	"github.com/mcdev12/syncwatch/go/internal/protocol"
	"github.com/mcdev12/syncwatch/go/internal/sched"
)

// Sender delivers a message to the session server.
type Sender interface {
	Send(t protocol.MessageType, payload any) error
}

// FollowerConfig holds the follower's view of its platform.
type FollowerConfig struct {
	Profile           netquality.Profile
	Tier              func() netquality.Tier
	OnGestureRequired func()
}

// Follower applies the leader's commands and state broadcasts to a player
// and reports back how it is doing.
type Follower struct {
	sched  sched.Scheduler
	out    Sender
	player Player
	log    zerolog.Logger
	cfg    FollowerConfig

	buffer *BufferGuard
	guard  *InteractionGuard
	engine *Engine
	dedup  *Deduplicator

	stopStatus func()
}

// NewFollower wires the engine, guards and dedup around player.
func NewFollower(s sched.Scheduler, out Sender, player Player, cfg FollowerConfig, logger zerolog.Logger) *Follower {
	if cfg.Tier == nil {
		cfg.Tier = func() netquality.Tier { return netquality.TierUnknown }
	}
	logger = logger.With().Str("role", "follower").Logger()
	f := &Follower{
		sched:  s,
		out:    out,
		player: player,
		log:    logger,
		cfg:    cfg,
		buffer: NewBufferGuard(s, player, logger),
		guard:  NewInteractionGuard(s, player, logger),
		dedup:  NewDeduplicator(cfg.Profile == netquality.ProfileConstrained),
	}
	f.engine = NewEngine(s, player, f.buffer, EngineConfig{
		Profile:           cfg.Profile,
		Tier:              cfg.Tier,
		OnConclude:        f.onConclude,
		OnGestureRequired: cfg.OnGestureRequired,
	}, logger)
	f.guard.Bind(f.engine)
	return f
}

// Engine exposes the correction engine.
func (f *Follower) Engine() *Engine { return f.engine }

// Buffer exposes the buffer guard.
func (f *Follower) Buffer() *BufferGuard { return f.buffer }

// Guard exposes the interaction guard.
func (f *Follower) Guard() *InteractionGuard { return f.guard }

// Start begins status reporting and lets commands through if the player
// already has data for the current frame.
func (f *Follower) Start() {
	if f.player.ReadyState() >= HaveCurrentData {
		f.engine.MarkReady()
	}
	f.stopStatus = sched.Every(f.sched, func() time.Duration {
		return f.engine.Settings().HeartbeatInterval
	}, f.reportStatus)
}

// Stop halts reporting and abandons in-flight work.
func (f *Follower) Stop() {
	if f.stopStatus != nil {
		f.stopStatus()
		f.stopStatus = nil
	}
	f.engine.Stop()
	f.buffer.Stop()
	f.guard.Stop()
}

// HandleMessage processes a leader-originated message.
func (f *Follower) HandleMessage(env protocol.Envelope) {
	now := f.sched.Now()
	switch env.Type {
	case protocol.TypeControl:
		var c protocol.Control
		if err := env.Bind(&c); err != nil {
			f.log.Warn().Err(err).Msg("malformed control")
			return
		}
		if !c.Type.Valid() {
			f.log.Warn().Str("type", string(c.Type)).Msg("unknown command type")
			return
		}
		f.submit(Command{ID: c.CommandID, Type: c.Type, CurrentTime: c.CurrentTime, IsPlaying: c.IsPlaying, ReceivedAt: now})
	case protocol.TypeSyncState:
		var s protocol.SyncState
		if err := env.Bind(&s); err != nil {
			f.log.Warn().Err(err).Msg("malformed syncState")
			return
		}
		if !s.Type.Valid() {
			s.Type = protocol.CommandSeek
		}
		f.submit(Command{Type: s.Type, CurrentTime: s.CurrentTime, IsPlaying: protocol.Bool(s.IsPlaying), ReceivedAt: now})
	case protocol.TypeHeartbeat:
		var hb protocol.Heartbeat
		if err := env.Bind(&hb); err != nil {
			f.log.Warn().Err(err).Msg("malformed heartbeat")
			return
		}
		f.onHeartbeat(hb, now)
	case protocol.TypeFullStateSync:
		var fs protocol.FullStateSync
		if err := env.Bind(&fs); err != nil {
			f.log.Warn().Err(err).Msg("malformed fullStateSync")
			return
		}
		f.onFullStateSync(fs, now)
	}
}

func (f *Follower) submit(cmd Command) {
	if f.dedup.Duplicate(cmd, cmd.ReceivedAt) {
		f.log.Debug().Str("type", string(cmd.Type)).Float64("current_time", cmd.CurrentTime).Msg("dropping duplicate command")
		return
	}
	f.engine.Apply(cmd)
}

func (f *Follower) onHeartbeat(hb protocol.Heartbeat, now time.Time) {
	if f.engine.Pending() || !f.engine.Ready() || f.player.Paused() {
		return
	}
	drift := math.Abs(f.player.Position() - hb.CurrentTime)
	if drift <= f.engine.Settings().Tolerance {
		return
	}
	if f.cfg.Profile == netquality.ProfileConstrained {
		if h := f.buffer.Health(); !h.Healthy && drift < bufferOverride {
			f.log.Debug().Str("reason", h.Reason).Float64("drift", drift).Msg("deferring heartbeat correction")
			return
		}
	}
	f.engine.Apply(Command{Type: protocol.CommandSeek, CurrentTime: hb.CurrentTime, IsPlaying: protocol.Bool(true), ReceivedAt: now})
}

func (f *Follower) onFullStateSync(fs protocol.FullStateSync, now time.Time) {
	if f.engine.Pending() || !f.engine.Ready() {
		return
	}
	drift := math.Abs(f.player.Position() - fs.CurrentTime)
	mismatch := f.player.Paused() == fs.IsPlaying
	if drift <= 2*f.engine.Settings().Tolerance && !mismatch {
		return
	}
	typ := protocol.CommandPause
	if fs.IsPlaying {
		typ = protocol.CommandPlay
	}
	f.engine.Apply(Command{Type: typ, CurrentTime: fs.CurrentTime, IsPlaying: protocol.Bool(fs.IsPlaying), ReceivedAt: now})
}

func (f *Follower) onConclude(out Outcome) {
	if out.Success {
		f.guard.Track(out.Position, !f.player.Paused())
	}
	// Commands skipped by the emergency bypass go unacked.
	if out.Superseded || out.Skipped || out.Command.ID == "" {
		return
	}
	ack := protocol.SyncAck{
		CommandID:   out.Command.ID,
		Success:     out.Success,
		CurrentTime: f.player.Position(),
		Timestamp:   protocol.UnixMilli(f.sched.Now()),
	}
	if err := f.out.Send(protocol.TypeSyncAck, ack); err != nil {
		f.log.Warn().Err(err).Str("command_id", ack.CommandID).Msg("failed to send syncAck")
	}
}

// HandlePlayerEvent feeds a player notification to the guards.
func (f *Follower) HandlePlayerEvent(ev PlayerEvent) {
	f.buffer.HandleEvent(ev)
	f.guard.HandleEvent(ev)
	switch ev.Kind {
	case EventLoadedData, EventCanPlay:
		f.engine.MarkReady()
	case EventError:
		f.log.Error().Err(ev.Err).Msg("player error")
	}
}

func (f *Follower) reportStatus() {
	if !f.engine.Ready() {
		return
	}
	tier := f.cfg.Tier()
	quality := string(tier)
	if tier == netquality.TierUnknown {
		quality = "unknown"
	}
	status := protocol.ViewerStatus{
		CurrentTime:    f.player.Position(),
		IsPlaying:      !f.player.Paused(),
		Buffering:      f.player.ReadyState() < HaveFutureData || f.buffer.Buffering(),
		NetworkQuality: quality,
		Timestamp:      protocol.UnixMilli(f.sched.Now()),
	}
	if err := f.out.Send(protocol.TypeViewerStatus, status); err != nil {
		f.log.Warn().Err(err).Msg("failed to send viewerStatus")
	}
}
