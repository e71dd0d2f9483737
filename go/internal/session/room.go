// Package session is the server side of the sync protocol: leader
// arbitration, the canonical playback state, command fan-out with ack
// tracking, and passive follower monitoring. A Room owns all of it and is
// driven from a single scheduler thread, so none of it is locked.
package session

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/syncwatch/go/internal/events"
	"github.com/mcdev12/syncwatch/go/internal/netquality"
	"github.com/mcdev12/syncwatch/go/internal/protocol"
	"github.com/mcdev12/syncwatch/go/internal/sched"
)

// Peer is one client connection as the room sees it. Send must not block.
type Peer interface {
	ID() string
	Send(t protocol.MessageType, payload any)
	Alive() bool
}

type RoomConfig struct {
	Slug           string
	StartTime      float64
	LeaderPassword string
	// SummaryInterval is how often the viewer summary is logged; zero
	// disables it.
	SummaryInterval time.Duration
}

type member struct {
	peer        Peer
	profile     string
	connectedAt time.Time
	quality     *netquality.Classifier
	joined      bool
}

// Room is one running session. All methods must be called from the
// scheduler's thread.
type Room struct {
	cfg        RoomConfig
	sched      sched.Scheduler
	mirror     *events.Mirror
	log        zerolog.Logger
	authority  *Authority
	arbiter    *Arbiter
	dispatcher *Dispatcher
	monitor    *Monitor
	members    map[string]*member
	stops      []func()
}

// NewRoom builds a room. mirror may be nil.
func NewRoom(cfg RoomConfig, s sched.Scheduler, mirror *events.Mirror) *Room {
	return &Room{
		cfg:        cfg,
		sched:      s,
		mirror:     mirror,
		log:        log.With().Str("session", cfg.Slug).Logger(),
		authority:  NewAuthority(s.Clock(), cfg.StartTime),
		arbiter:    NewArbiter(cfg.LeaderPassword),
		dispatcher: NewDispatcher(s.Clock()),
		monitor:    NewMonitor(),
		members:    make(map[string]*member),
	}
}

// Start arms the periodic command purge and, if configured, the viewer
// summary log.
func (r *Room) Start() {
	r.stops = append(r.stops, sched.Every(r.sched, func() time.Duration { return CommandTTL }, func() {
		if n := r.dispatcher.Purge(r.sched.Now()); n > 0 {
			r.log.Debug().Int("purged", n).Int("remaining", r.dispatcher.Len()).Msg("purged expired commands")
		}
	}))
	if r.cfg.SummaryInterval > 0 {
		r.stops = append(r.stops, sched.Every(r.sched, func() time.Duration { return r.cfg.SummaryInterval }, r.logSummary))
	}
	r.log.Info().Float64("start_time", r.cfg.StartTime).Bool("password", r.cfg.LeaderPassword != "").Msg("session room started")
}

// Stop cancels the periodic work started by Start.
func (r *Room) Stop() {
	for _, stop := range r.stops {
		stop()
	}
	r.stops = nil
}

// Connect registers a new connection.
func (r *Room) Connect(p Peer) {
	now := r.sched.Now()
	r.members[p.ID()] = &member{
		peer:        p,
		connectedAt: now,
		quality:     netquality.NewClassifier(netquality.ProfileDesktop),
	}
	r.log.Info().Str("connection_id", p.ID()).Int("connections", len(r.members)).Msg("client connected")
	r.emit(events.TypeConnectionOpened, p.ID(), nil)
}

// Disconnect forgets a connection and frees the leader slot if it held it.
func (r *Room) Disconnect(connID string) {
	if _, ok := r.members[connID]; !ok {
		return
	}
	delete(r.members, connID)
	r.monitor.Forget(connID)
	r.emit(events.TypeConnectionClosed, connID, nil)

	if r.arbiter.Release(connID) {
		r.log.Info().Str("connection_id", connID).Msg("leader disconnected, slot available")
		r.broadcast(protocol.TypeLeaderStatus, protocol.LeaderStatus{HasLeader: false}, "")
		r.emit(events.TypeLeaderReleased, connID, nil)
	}
	r.log.Info().Str("connection_id", connID).Int("connections", len(r.members)).Msg("client disconnected")
}

// Handle dispatches one decoded message from connID.
func (r *Room) Handle(connID string, env protocol.Envelope) {
	m, ok := r.members[connID]
	if !ok {
		return
	}

	var err error
	switch env.Type {
	case protocol.TypeJoin:
		err = r.handleJoin(m, env)
	case protocol.TypeControl:
		err = r.handleControl(m, env)
	case protocol.TypeHeartbeat:
		err = r.handleHeartbeat(m, env)
	case protocol.TypeFullStateSync:
		err = r.handleFullStateSync(m, env)
	case protocol.TypeViewerStatus:
		err = r.handleViewerStatus(m, env)
	case protocol.TypeSyncAck:
		err = r.handleSyncAck(m, env)
	case protocol.TypePing:
		err = r.handlePing(m, env)
	case protocol.TypePong:
	default:
		r.log.Debug().Str("connection_id", connID).Str("type", string(env.Type)).Msg("ignoring server-bound message of unexpected type")
	}
	if err != nil {
		r.log.Warn().Err(err).Str("connection_id", connID).Str("type", string(env.Type)).Msg("dropping malformed message")
	}
}

func (r *Room) handleJoin(m *member, env protocol.Envelope) error {
	var j protocol.Join
	if err := env.Bind(&j); err != nil {
		return err
	}
	id := m.peer.ID()
	m.joined = true
	if j.ClientProfile != "" && j.ClientProfile != m.profile {
		m.profile = j.ClientProfile
		m.quality = netquality.NewClassifier(netquality.ParseProfile(j.ClientProfile))
	}

	if j.IsLeader {
		d := r.arbiter.RequestLeader(Candidate{Peer: m.peer, Profile: m.profile, ConnectedAt: m.connectedAt}, j.Password)
		if d.Granted {
			r.monitor.Forget(id)
			if d.Evicted != "" {
				r.log.Warn().Str("evicted", d.Evicted).Msg("cleared stale leader slot")
			}
			r.log.Info().Str("connection_id", id).Str("profile", m.profile).Msg("leader granted")
			m.peer.Send(protocol.TypeLeaderGranted, protocol.LeaderGranted{Message: "You are now the leader"})
			r.broadcast(protocol.TypeLeaderStatus, protocol.LeaderStatus{HasLeader: true}, "")
			r.emit(events.TypeLeaderGranted, id, map[string]any{"profile": m.profile})
			return nil
		}

		ev := r.log.Info().Str("connection_id", id).Str("reason", string(d.Reason))
		if d.Current != nil {
			ev = ev.Str("leader", d.Current.ConnectionID)
		}
		ev.Msg("leader denied")
		m.peer.Send(protocol.TypeLeaderDenied, protocol.LeaderDenied{Reason: d.Reason, CurrentLeader: d.Current})
		r.emit(events.TypeLeaderDenied, id, map[string]any{"reason": d.Reason})
	}

	r.monitor.Track(id, m.connectedAt)
	r.sendLateJoinSync(m)
	m.peer.Send(protocol.TypeLeaderStatus, protocol.LeaderStatus{HasLeader: r.arbiter.HasLeader()})
	return nil
}

// sendLateJoinSync brings a new follower to the extrapolated canonical
// state. Without a leader there is nothing authoritative to sync to.
func (r *Room) sendLateJoinSync(m *member) {
	if !r.arbiter.HasLeader() {
		return
	}
	state := r.authority.Snapshot()
	sync := protocol.SyncState{
		Type:        protocol.CommandPause,
		CurrentTime: r.authority.Position(),
		IsPlaying:   state.IsPlaying,
	}
	if state.IsPlaying {
		sync.Type = protocol.CommandPlay
	}
	m.peer.Send(protocol.TypeSyncState, sync)
	r.log.Info().
		Str("connection_id", m.peer.ID()).
		Str("type", string(sync.Type)).
		Float64("current_time", sync.CurrentTime).
		Msg("late joiner sync")
}

// fromLeader reports whether m may send leader-only messages. Others are
// dropped without a reply.
func (r *Room) fromLeader(m *member, t protocol.MessageType) bool {
	if r.arbiter.IsLeader(m.peer.ID()) {
		return true
	}
	r.log.Debug().Str("connection_id", m.peer.ID()).Str("type", string(t)).Msg("ignoring leader-only message from non-leader")
	return false
}

func (r *Room) handleControl(m *member, env protocol.Envelope) error {
	if !r.fromLeader(m, env.Type) {
		return nil
	}
	var c protocol.Control
	if err := env.Bind(&c); err != nil {
		return err
	}
	if !c.Type.Valid() {
		r.log.Warn().Str("type", string(c.Type)).Msg("ignoring control with unknown command type")
		return nil
	}

	var playing bool
	switch c.Type {
	case protocol.CommandPlay:
		playing = true
	case protocol.CommandPause:
		playing = false
	case protocol.CommandSeek:
		playing = r.authority.Snapshot().IsPlaying
		if c.IsPlaying != nil {
			playing = *c.IsPlaying
		}
	}
	r.authority.Apply(c.CurrentTime, playing)

	cmd := r.dispatcher.Issue(c.Type, c.CurrentTime, protocol.Bool(playing))
	r.broadcast(protocol.TypeControl, cmd.Control(), m.peer.ID())
	r.log.Info().
		Str("command_id", cmd.ID).
		Str("type", string(cmd.Type)).
		Float64("current_time", cmd.CurrentTime).
		Msg("leader control")
	r.emit(events.TypeCommandIssued, m.peer.ID(), cmd.Control())
	return nil
}

func (r *Room) handleHeartbeat(m *member, env protocol.Envelope) error {
	if !r.fromLeader(m, env.Type) {
		return nil
	}
	var hb protocol.Heartbeat
	if err := env.Bind(&hb); err != nil {
		return err
	}
	r.authority.Apply(hb.CurrentTime, true)
	r.broadcast(protocol.TypeHeartbeat, hb, m.peer.ID())
	return nil
}

func (r *Room) handleFullStateSync(m *member, env protocol.Envelope) error {
	if !r.fromLeader(m, env.Type) {
		return nil
	}
	var fs protocol.FullStateSync
	if err := env.Bind(&fs); err != nil {
		return err
	}
	r.authority.Apply(fs.CurrentTime, fs.IsPlaying)
	r.broadcast(protocol.TypeFullStateSync, fs, m.peer.ID())
	r.log.Debug().Bool("playing", fs.IsPlaying).Float64("current_time", fs.CurrentTime).Msg("leader full state")
	return nil
}

func (r *Room) handleViewerStatus(m *member, env protocol.Envelope) error {
	id := m.peer.ID()
	if r.arbiter.IsLeader(id) {
		return nil
	}
	var vs protocol.ViewerStatus
	if err := env.Bind(&vs); err != nil {
		return err
	}
	tier := netquality.ParseTier(vs.NetworkQuality)
	if tier == netquality.TierUnknown {
		tier = m.quality.Tier()
	}
	report := FollowerReport{
		CurrentTime:    vs.CurrentTime,
		IsPlaying:      vs.IsPlaying,
		Buffering:      vs.Buffering,
		NetworkQuality: tier,
		ReportedAt:     r.sched.Now(),
	}
	corr := r.monitor.Report(id, report, r.authority.Snapshot())
	if corr == nil || !r.arbiter.HasLeader() {
		return nil
	}
	r.log.Warn().
		Str("connection_id", id).
		Float64("drift", corr.Drift).
		Bool("playing", vs.IsPlaying).
		Str("quality", string(tier)).
		Msg("viewer out of sync, sending resync")
	m.peer.Send(protocol.TypeControl, corr.Control)
	r.emit(events.TypeResyncSent, id, corr.Control)
	return nil
}

func (r *Room) handleSyncAck(m *member, env protocol.Envelope) error {
	id := m.peer.ID()
	if r.arbiter.IsLeader(id) {
		return nil
	}
	var ack protocol.SyncAck
	if err := env.Bind(&ack); err != nil {
		return err
	}
	if ack.CommandID == "" {
		return nil
	}

	retry, ok := r.dispatcher.Ack(id, ack.CommandID, ack.Success)
	if !ok {
		r.log.Debug().Str("connection_id", id).Str("command_id", ack.CommandID).Bool("success", ack.Success).Msg("ack for untracked command")
		return nil
	}
	r.log.Info().
		Str("connection_id", id).
		Str("command_id", ack.CommandID).
		Bool("success", ack.Success).
		Float64("current_time", ack.CurrentTime).
		Msg("sync ack")
	r.emit(events.TypeCommandAcked, id, ack)
	if retry == nil {
		return nil
	}

	r.sched.After(RetryDelay, func() {
		target, ok := r.members[id]
		if !ok || target.peer != m.peer {
			return
		}
		target.peer.Send(protocol.TypeControl, retry.Control())
		r.log.Info().Str("connection_id", id).Str("command_id", retry.ID).Msg("retrying failed command")
		r.emit(events.TypeCommandRetried, id, retry.Control())
	})
	return nil
}

func (r *Room) handlePing(m *member, env protocol.Envelope) error {
	var p protocol.Ping
	if err := env.Bind(&p); err != nil {
		return err
	}
	m.peer.Send(protocol.TypePong, protocol.Pong{Timestamp: p.Timestamp})
	if p.RTT > 0 {
		if tier, changed := m.quality.Observe(time.Duration(p.RTT) * time.Millisecond); changed {
			r.log.Debug().Str("connection_id", m.peer.ID()).Str("quality", string(tier)).Msg("connection quality changed")
		}
	}
	return nil
}

// broadcast sends to every connection except the one with id except.
func (r *Room) broadcast(t protocol.MessageType, payload any, except string) {
	for id, m := range r.members {
		if id == except {
			continue
		}
		m.peer.Send(t, payload)
	}
}

func (r *Room) emit(t events.Type, connID string, payload any) {
	r.mirror.Emit(events.New(t, r.cfg.Slug, connID, r.sched.Now(), payload))
}

// StateView is the public snapshot served over HTTP.
type StateView struct {
	Slug            string         `json:"slug"`
	Canonical       CanonicalState `json:"canonical"`
	Position        float64        `json:"position"`
	HasLeader       bool           `json:"hasLeader"`
	Connections     int            `json:"connections"`
	PendingCommands int            `json:"pendingCommands"`
}

// State returns the current public snapshot.
func (r *Room) State() StateView {
	return StateView{
		Slug:            r.cfg.Slug,
		Canonical:       r.authority.Snapshot(),
		Position:        r.authority.Position(),
		HasLeader:       r.arbiter.HasLeader(),
		Connections:     len(r.members),
		PendingCommands: r.dispatcher.Len(),
	}
}

// Viewers returns the follower summary.
func (r *Room) Viewers() Summary {
	return r.monitor.Summary(r.sched.Now(), r.authority.Snapshot())
}

func (r *Room) logSummary() {
	s := r.Viewers()
	if len(s.Viewers) == 0 {
		return
	}
	ev := r.log.Info().
		Float64("expected_time", s.Expected).
		Bool("playing", s.IsPlaying).
		Int("viewers", len(s.Viewers))
	for status, n := range s.Totals {
		ev = ev.Int(string(status), n)
	}
	ev.Msg("viewer summary")
}
