package client

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdev12/syncwatch/go/internal/protocol"
	"github.com/mcdev12/syncwatch/go/internal/sched"
)

const (
	LeaderHeartbeatInterval = 3 * time.Second
	FullStateSyncInterval   = 10 * time.Second
)

// Leader publishes its player's state: a control per play, pause and seek,
// a heartbeat while playing, and a periodic full state broadcast.
type Leader struct {
	sched  sched.Scheduler
	out    Sender
	player Player
	log    zerolog.Logger

	stops []func()
}

// NewLeader returns a leader publishing player's state through out.
func NewLeader(s sched.Scheduler, out Sender, player Player, logger zerolog.Logger) *Leader {
	return &Leader{
		sched:  s,
		out:    out,
		player: player,
		log:    logger.With().Str("role", "leader").Logger(),
	}
}

// Start begins the periodic broadcasts.
func (l *Leader) Start() {
	l.stops = append(l.stops,
		sched.Every(l.sched, func() time.Duration { return LeaderHeartbeatInterval }, l.heartbeat),
		sched.Every(l.sched, func() time.Duration { return FullStateSyncInterval }, l.fullStateSync),
	)
}

// Stop ends the periodic broadcasts.
func (l *Leader) Stop() {
	for _, stop := range l.stops {
		stop()
	}
	l.stops = nil
}

func (l *Leader) heartbeat() {
	if l.player.Paused() {
		return
	}
	l.send(protocol.TypeHeartbeat, protocol.Heartbeat{CurrentTime: l.player.Position()})
}

func (l *Leader) fullStateSync() {
	l.send(protocol.TypeFullStateSync, protocol.FullStateSync{
		CurrentTime: l.player.Position(),
		IsPlaying:   !l.player.Paused(),
		Timestamp:   protocol.UnixMilli(l.sched.Now()),
	})
}

// HandlePlayerEvent turns local play, pause and seek into commands.
func (l *Leader) HandlePlayerEvent(ev PlayerEvent) {
	var typ protocol.CommandType
	switch ev.Kind {
	case EventPlay:
		typ = protocol.CommandPlay
	case EventPause:
		typ = protocol.CommandPause
	case EventSeeked:
		typ = protocol.CommandSeek
	default:
		return
	}
	l.send(protocol.TypeControl, protocol.Control{
		Type:        typ,
		CurrentTime: l.player.Position(),
		IsPlaying:   protocol.Bool(!l.player.Paused()),
	})
}

func (l *Leader) send(t protocol.MessageType, payload any) {
	if err := l.out.Send(t, payload); err != nil {
		l.log.Warn().Err(err).Str("type", string(t)).Msg("failed to send")
	}
}
