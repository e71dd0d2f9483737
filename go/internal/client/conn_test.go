package client

import (
	"context"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/syncwatch/go/internal/config"
	"github.com/mcdev12/syncwatch/go/internal/gateway"
	"github.com/mcdev12/syncwatch/go/internal/protocol"
	"github.com/mcdev12/syncwatch/go/internal/sched"
	"github.com/mcdev12/syncwatch/go/internal/session"
)

func startServer(t *testing.T, ctx context.Context) string {
	t.Helper()
	loop := sched.NewLoop(nil, 0)
	go loop.Run(ctx)

	descriptor := &config.Session{
		Slug:           "e2e",
		StreamURL:      "https://cdn.example/live.m3u8",
		LeaderPassword: "pw",
	}
	room := session.NewRoom(session.RoomConfig{Slug: descriptor.Slug, LeaderPassword: descriptor.LeaderPassword}, loop, nil)
	require.NoError(t, loop.Call(ctx, room.Start))

	svc := gateway.NewService(gateway.DefaultConfig(), descriptor, loop, room)
	srv := httptest.NewServer(svc.Router())
	t.Cleanup(func() {
		srv.Close()
		svc.Shutdown()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type liveClient struct {
	loop   *sched.Loop
	player *SimPlayer
	client *Client
}

func startClient(t *testing.T, ctx context.Context, url string, opts Options) *liveClient {
	t.Helper()
	conn, err := Dial(ctx, url, nil, zerolog.Nop())
	require.NoError(t, err)

	loop := sched.NewLoop(nil, 0)
	go loop.Run(ctx)
	lc := &liveClient{loop: loop, player: NewSimPlayer(loop)}
	lc.client = New(loop, conn, lc.player, opts, zerolog.Nop())
	lc.player.OnEvent(lc.client.HandlePlayerEvent)
	require.NoError(t, loop.Call(ctx, lc.client.Start))

	go func() {
		_ = conn.ReadLoop(ctx, func(env protocol.Envelope) {
			_ = loop.Post(func() { lc.client.HandleMessage(env) })
		})
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return lc
}

// do runs fn on the client's loop. It is safe to call from Eventually
// conditions.
func (lc *liveClient) do(t *testing.T, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, lc.loop.Call(ctx, fn))
}

func TestConn_FollowerTracksLeader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := startServer(t, ctx)

	leader := startClient(t, ctx, url, Options{WantLeader: true, Password: "pw"})
	require.Eventually(t, func() bool {
		var role Role
		leader.do(t, func() { role = leader.client.Role() })
		return role == RoleLeader
	}, 2*time.Second, 10*time.Millisecond)

	follower := startClient(t, ctx, url, Options{})

	var playErr error
	leader.do(t, func() {
		leader.player.Seek(120)
		playErr = leader.player.Play()
	})
	require.NoError(t, playErr)

	require.Eventually(t, func() bool {
		var playing bool
		var leaderPos, followerPos float64
		leader.do(t, func() { leaderPos = leader.player.Position() })
		follower.do(t, func() {
			playing = !follower.player.Paused()
			followerPos = follower.player.Position()
		})
		return playing && math.Abs(leaderPos-followerPos) < 1
	}, 3*time.Second, 20*time.Millisecond)

	leader.do(t, func() { leader.player.Pause() })
	require.Eventually(t, func() bool {
		var paused bool
		follower.do(t, func() { paused = follower.player.Paused() })
		return paused
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConn_SendAfterClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := startServer(t, ctx)

	conn, err := Dial(ctx, url, nil, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, conn.Send(protocol.TypePing, protocol.Ping{Timestamp: 1}))
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send(protocol.TypePing, protocol.Ping{Timestamp: 2}), ErrClosed)
}

func TestAPIClient_ReadsSessionViews(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	socket := startServer(t, ctx)

	base, err := APIBaseFromSocket(socket)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(base, "http://"))

	api := NewAPIClient(base)
	info, err := api.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e2e", info.Slug)
	assert.True(t, info.PasswordRequired)
	assert.Equal(t, []string{"default"}, info.Formats)
	assert.Equal(t, "https://cdn.example/live.m3u8", info.Streams["default"])

	state, err := api.State(ctx)
	require.NoError(t, err)
	assert.False(t, state.HasLeader)
	assert.Zero(t, state.Position)
}

func TestAPIBaseFromSocket(t *testing.T) {
	base, err := APIBaseFromSocket("wss://watch.example/ws")
	require.NoError(t, err)
	assert.Equal(t, "https://watch.example", base)

	base, err = APIBaseFromSocket("ws://localhost:3000/ws?x=1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", base)
}
