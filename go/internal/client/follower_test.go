package client

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/syncwatch/go/internal/netquality"
	"github.com/mcdev12/syncwatch/go/internal/protocol"
	"github.com/mcdev12/syncwatch/go/internal/sched"
)

var epoch = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

type sentMessage struct {
	Type    protocol.MessageType
	Payload any
}

type recorder struct {
	sent []sentMessage
}

func (r *recorder) Send(t protocol.MessageType, payload any) error {
	r.sent = append(r.sent, sentMessage{Type: t, Payload: payload})
	return nil
}

func (r *recorder) ofType(t protocol.MessageType) []any {
	var out []any
	for _, m := range r.sent {
		if m.Type == t {
			out = append(out, m.Payload)
		}
	}
	return out
}

func (r *recorder) acks() []protocol.SyncAck {
	var out []protocol.SyncAck
	for _, p := range r.ofType(protocol.TypeSyncAck) {
		out = append(out, p.(protocol.SyncAck))
	}
	return out
}

func envelope(t *testing.T, typ protocol.MessageType, payload any) protocol.Envelope {
	t.Helper()
	raw, err := protocol.Encode(typ, payload)
	require.NoError(t, err)
	env, err := protocol.Decode(raw)
	require.NoError(t, err)
	return env
}

type followerFixture struct {
	t        *testing.T
	v        *sched.Virtual
	player   *SimPlayer
	out      *recorder
	follower *Follower
	tier     netquality.Tier
	gestures int
}

func newFollowerFixture(t *testing.T, profile netquality.Profile, setup ...func(*SimPlayer)) *followerFixture {
	t.Helper()
	v := sched.NewVirtual(epoch)
	fx := &followerFixture{
		t:      t,
		v:      v,
		player: NewSimPlayer(v),
		out:    &recorder{},
		tier:   netquality.TierGood,
	}
	for _, fn := range setup {
		fn(fx.player)
	}
	fx.follower = NewFollower(v, fx.out, fx.player, FollowerConfig{
		Profile:           profile,
		Tier:              func() netquality.Tier { return fx.tier },
		OnGestureRequired: func() { fx.gestures++ },
	}, zerolog.Nop())
	fx.player.OnEvent(fx.follower.HandlePlayerEvent)
	fx.follower.Start()
	t.Cleanup(fx.follower.Stop)
	return fx
}

func (fx *followerFixture) control(id string, typ protocol.CommandType, at float64, playing *bool) {
	fx.follower.HandleMessage(envelope(fx.t, protocol.TypeControl, protocol.Control{
		Type:        typ,
		CurrentTime: at,
		IsPlaying:   playing,
		CommandID:   id,
	}))
}

func (fx *followerFixture) deliver(typ protocol.MessageType, payload any) {
	fx.follower.HandleMessage(envelope(fx.t, typ, payload))
}

func TestFollower_PauseAcksWithPosition(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileDesktop)

	fx.control("c1", protocol.CommandPause, 42, protocol.Bool(false))
	assert.True(t, fx.follower.Engine().Busy())

	fx.v.Advance(200 * time.Millisecond)

	acks := fx.out.acks()
	require.Len(t, acks, 1)
	assert.Equal(t, "c1", acks[0].CommandID)
	assert.True(t, acks[0].Success)
	assert.InDelta(t, 42.0, acks[0].CurrentTime, 1e-9)
	assert.True(t, fx.player.Paused())
	assert.False(t, fx.follower.Engine().Busy())
}

func TestFollower_PlayTargetAdvancesWithTime(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileDesktop)

	fx.control("c1", protocol.CommandPlay, 10, protocol.Bool(true))
	fx.v.Advance(200 * time.Millisecond)

	acks := fx.out.acks()
	require.Len(t, acks, 1)
	assert.True(t, acks[0].Success)
	assert.InDelta(t, 10.2, acks[0].CurrentTime, 1e-6)
	assert.False(t, fx.player.Paused())
}

func TestFollower_RepeatedSeekConverges(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileDesktop)

	fx.control("s1", protocol.CommandSeek, 100, nil)
	fx.v.Advance(200 * time.Millisecond)
	require.Equal(t, 1, fx.player.SeekCalls)

	fx.control("s2", protocol.CommandSeek, 100, nil)

	acks := fx.out.acks()
	require.Len(t, acks, 2)
	assert.True(t, acks[1].Success)
	assert.Equal(t, 1, fx.player.SeekCalls, "already at target, player untouched")
	assert.InDelta(t, 100.0, fx.player.Position(), 1e-9)
}

func TestFollower_NewerCommandSupersedes(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileDesktop)

	fx.control("old", protocol.CommandSeek, 100, nil)
	fx.control("new", protocol.CommandSeek, 200, nil)
	fx.v.Advance(time.Second)

	acks := fx.out.acks()
	require.Len(t, acks, 1)
	assert.Equal(t, "new", acks[0].CommandID)
	assert.InDelta(t, 200.0, fx.player.Position(), 1e-9)
}

func TestFollower_ParksUntilPlayerReady(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileDesktop, func(p *SimPlayer) {
		p.SetReadyState(HaveNothing)
	})
	require.False(t, fx.follower.Engine().Ready())

	fx.control("first", protocol.CommandSeek, 10, nil)
	fx.control("second", protocol.CommandPause, 42, protocol.Bool(false))
	fx.v.Advance(time.Second)
	assert.Empty(t, fx.out.acks())
	assert.Zero(t, fx.player.SeekCalls)

	fx.player.SetReadyState(HaveEnoughData)
	fx.v.Advance(200 * time.Millisecond)

	acks := fx.out.acks()
	require.Len(t, acks, 1)
	assert.Equal(t, "second", acks[0].CommandID)
	assert.InDelta(t, 42.0, fx.player.Position(), 1e-9)
}

func TestFollower_MetadataAloneDoesNotMakeReady(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileDesktop, func(p *SimPlayer) {
		p.SetReadyState(HaveMetadata)
	})
	require.False(t, fx.follower.Engine().Ready())

	fx.control("c1", protocol.CommandSeek, 50, nil)
	fx.v.Advance(time.Second)
	assert.Zero(t, fx.player.SeekCalls)
	assert.Empty(t, fx.out.acks())

	fx.player.SetReadyState(HaveCurrentData)
	require.True(t, fx.follower.Engine().Ready())
	fx.v.Advance(200 * time.Millisecond)

	acks := fx.out.acks()
	require.Len(t, acks, 1)
	assert.Equal(t, "c1", acks[0].CommandID)
	assert.InDelta(t, 50.0, fx.player.Position(), 1e-9)
}

func TestFollower_FailedCorrectionRetriesThenGivesUp(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileDesktop)
	fx.player.SetSeekOffset(50)

	fx.control("c1", protocol.CommandSeek, 100, nil)
	fx.v.Advance(200 * time.Millisecond)
	assert.Empty(t, fx.out.acks())
	assert.Equal(t, 1, fx.player.SeekCalls)

	// good tier: two attempts, one second apart
	fx.v.Advance(1200 * time.Millisecond)
	acks := fx.out.acks()
	require.Len(t, acks, 1)
	assert.False(t, acks[0].Success)
	assert.Equal(t, 2, fx.player.SeekCalls)
}

func TestFollower_EmergencyBypassRecovers(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileDesktop)
	fx.player.SetSeekOffset(50)

	for i, at := range []float64{100, 110, 120} {
		fx.control("fail-"+string(rune('a'+i)), protocol.CommandSeek, at, nil)
		fx.v.Advance(1400 * time.Millisecond)
	}
	require.Len(t, fx.out.acks(), 3)
	require.True(t, fx.follower.Engine().EmergencyBypass())

	seeks := fx.player.SeekCalls
	fx.control("skipped", protocol.CommandSeek, 130, nil)
	assert.Len(t, fx.out.acks(), 3, "skipped commands are not acked")
	assert.Equal(t, seeks, fx.player.SeekCalls)

	fx.v.Advance(10 * time.Second)
	assert.False(t, fx.follower.Engine().EmergencyBypass())

	fx.player.SetSeekOffset(0)
	fx.control("after", protocol.CommandSeek, 140, nil)
	fx.v.Advance(200 * time.Millisecond)
	acks := fx.out.acks()
	require.Len(t, acks, 4)
	assert.Equal(t, "after", acks[3].CommandID)
	assert.True(t, acks[3].Success)
}

func TestFollower_GestureRequired(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileDesktop)
	fx.player.RequireGesture(true)

	fx.control("c1", protocol.CommandPlay, 5, protocol.Bool(true))
	assert.Equal(t, 1, fx.gestures)
}

func TestFollower_LateJoinStateIsNotAcked(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileDesktop)

	fx.deliver(protocol.TypeSyncState, protocol.SyncState{Type: protocol.CommandPlay, CurrentTime: 15, IsPlaying: true})
	fx.v.Advance(200 * time.Millisecond)

	assert.Empty(t, fx.out.acks())
	assert.False(t, fx.player.Paused())
	assert.InDelta(t, 15.2, fx.player.Position(), 1e-6)
}

func TestFollower_HeartbeatCorrectsDrift(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileDesktop)
	fx.control("c1", protocol.CommandPlay, 10, protocol.Bool(true))
	fx.v.Advance(200 * time.Millisecond)
	seeks := fx.player.SeekCalls

	fx.deliver(protocol.TypeHeartbeat, protocol.Heartbeat{CurrentTime: fx.player.Position() + 0.3})
	assert.False(t, fx.follower.Engine().Busy(), "within tolerance")

	fx.deliver(protocol.TypeHeartbeat, protocol.Heartbeat{CurrentTime: 30})
	require.True(t, fx.follower.Engine().Busy())
	fx.v.Advance(200 * time.Millisecond)

	assert.Equal(t, seeks+1, fx.player.SeekCalls)
	assert.InDelta(t, 30.2, fx.player.Position(), 1e-6)
	assert.Len(t, fx.out.acks(), 1, "local corrections are not acked")
}

func TestFollower_HeartbeatIgnoredWhilePaused(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileDesktop)

	fx.deliver(protocol.TypeHeartbeat, protocol.Heartbeat{CurrentTime: 30})
	assert.False(t, fx.follower.Engine().Busy())
	assert.Zero(t, fx.player.SeekCalls)
}

func TestFollower_FullStateSyncFixesPlayState(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileDesktop)

	fx.deliver(protocol.TypeFullStateSync, protocol.FullStateSync{CurrentTime: 0, IsPlaying: true})
	fx.v.Advance(200 * time.Millisecond)
	assert.False(t, fx.player.Paused())

	fx.deliver(protocol.TypeFullStateSync, protocol.FullStateSync{CurrentTime: fx.player.Position() + 0.5, IsPlaying: true})
	assert.False(t, fx.follower.Engine().Busy(), "within twice the tolerance")
}

func TestFollower_ReportsStatus(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileDesktop)

	fx.v.Advance(3 * time.Second)
	reports := fx.out.ofType(protocol.TypeViewerStatus)
	require.Len(t, reports, 1)
	status := reports[0].(protocol.ViewerStatus)
	assert.Equal(t, "good", status.NetworkQuality)
	assert.False(t, status.Buffering)
	assert.False(t, status.IsPlaying)

	// the interval is re-read after each report
	fx.tier = netquality.TierPoor
	fx.v.Advance(3 * time.Second)
	require.Len(t, fx.out.ofType(protocol.TypeViewerStatus), 2)
	fx.v.Advance(2 * time.Second)
	assert.Len(t, fx.out.ofType(protocol.TypeViewerStatus), 4)
}

func TestFollower_ConstrainedUnpauseIsStaged(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileConstrained)

	fx.control("u1", protocol.CommandPlay, 30, protocol.Bool(true))
	assert.Zero(t, fx.player.SeekCalls, "constrained applies are delayed")

	fx.v.Advance(75 * time.Millisecond)
	assert.Equal(t, 1, fx.player.SeekCalls)
	assert.True(t, fx.player.Paused())
	assert.InDelta(t, 29.975, fx.player.Position(), 1e-6)

	fx.v.Advance(120 * time.Millisecond)
	assert.Equal(t, 2, fx.player.SeekCalls)
	assert.False(t, fx.player.Paused())

	fx.v.Advance(55 * time.Millisecond)
	acks := fx.out.acks()
	require.Len(t, acks, 1)
	assert.True(t, acks[0].Success)
	assert.InDelta(t, 30.25, acks[0].CurrentTime, 1e-6)
}

func TestFollower_ConstrainedWaitsOutSuspension(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileConstrained)
	fx.player.Emit(EventSuspend)
	fx.v.Advance(500 * time.Millisecond)
	require.True(t, fx.follower.Buffer().Suspended())

	fx.control("c1", protocol.CommandSeek, 5, nil)
	fx.v.Advance(time.Second)
	assert.Zero(t, fx.player.SeekCalls)

	fx.player.Emit(EventPlaying)
	require.False(t, fx.follower.Buffer().Suspended())
	fx.v.Advance(1100 * time.Millisecond)
	assert.Equal(t, 1, fx.player.SeekCalls)
	fx.v.Advance(time.Second)
	require.Len(t, fx.out.acks(), 1)
	assert.True(t, fx.out.acks()[0].Success)
}

func TestFollower_ConstrainedExtremeDriftOverridesSuspension(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileConstrained)
	fx.player.Emit(EventSuspend)
	fx.v.Advance(500 * time.Millisecond)
	require.True(t, fx.follower.Buffer().Suspended())

	fx.control("c1", protocol.CommandSeek, 100, nil)
	assert.False(t, fx.follower.Buffer().Suspended())
	fx.v.Advance(75 * time.Millisecond)
	assert.Equal(t, 1, fx.player.SeekCalls)
}

func TestFollower_ConstrainedDropsDuplicates(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileConstrained)

	fx.control("a", protocol.CommandSeek, 10, nil)
	fx.v.Advance(time.Second)
	fx.control("b", protocol.CommandSeek, 10, nil)
	fx.v.Advance(time.Second)
	require.Len(t, fx.out.acks(), 1)

	fx.control("a-retry", protocol.CommandSeek, 10, nil)
	fx.v.Advance(time.Second)
	assert.Len(t, fx.out.acks(), 2)
}

func TestFollower_DeferredCommandStillRevertsManualPlay(t *testing.T) {
	fx := newFollowerFixture(t, netquality.ProfileConstrained)

	fx.control("c1", protocol.CommandPause, 42, protocol.Bool(false))
	fx.v.Advance(time.Second)
	require.Len(t, fx.out.acks(), 1)

	fx.player.SetBuffered(1.0, true)
	fx.control("c2", protocol.CommandSeek, 43, nil)
	require.True(t, fx.follower.Engine().Pending())
	assert.False(t, fx.follower.Engine().Busy(), "a deferred command does not touch the player")

	fx.player.UserPlay()
	fx.v.Advance(10 * time.Millisecond)
	assert.True(t, fx.player.Paused())
	assert.InDelta(t, 42.0, fx.player.Position(), 0.01)
	assert.InDelta(t, 42.0, fx.follower.Guard().Expected(), 1e-9)
	assert.Len(t, fx.out.acks(), 1)
}
