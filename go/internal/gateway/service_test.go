package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/syncwatch/go/internal/config"
	"github.com/mcdev12/syncwatch/go/internal/protocol"
	"github.com/mcdev12/syncwatch/go/internal/sched"
	"github.com/mcdev12/syncwatch/go/internal/session"
)

func newTestServer(t *testing.T, origins []string) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	loop := sched.NewLoop(nil, 0)
	go loop.Run(ctx)

	descriptor := &config.Session{
		Slug:           "test",
		Streams:        map[string]string{"mp4": "https://cdn.example/a.mp4"},
		StartTime:      5,
		LeaderPassword: "pw",
	}
	room := session.NewRoom(session.RoomConfig{Slug: descriptor.Slug, StartTime: descriptor.StartTime, LeaderPassword: descriptor.LeaderPassword}, loop, nil)
	require.NoError(t, loop.Call(ctx, room.Start))

	cfg := DefaultConfig()
	cfg.AllowedOrigins = origins
	svc := NewService(cfg, descriptor, loop, room)
	srv := httptest.NewServer(svc.Router())
	t.Cleanup(func() {
		srv.Close()
		svc.Shutdown()
		cancel()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ protocol.MessageType, payload any) {
	t.Helper()
	raw, err := protocol.Encode(typ, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

// await reads until a message of type typ arrives.
func await(t *testing.T, conn *websocket.Conn, typ protocol.MessageType, into any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		env, err := protocol.Decode(raw)
		require.NoError(t, err)
		if env.Type == typ {
			require.NoError(t, env.Bind(into))
			return
		}
	}
}

func TestService_ControlFansOutToFollowers(t *testing.T) {
	srv := newTestServer(t, []string{"*"})

	leader := dial(t, srv)
	send(t, leader, protocol.TypeJoin, protocol.Join{IsLeader: true, Password: "pw"})
	var granted protocol.LeaderGranted
	await(t, leader, protocol.TypeLeaderGranted, &granted)

	follower := dial(t, srv)
	send(t, follower, protocol.TypeJoin, protocol.Join{})
	var sync protocol.SyncState
	await(t, follower, protocol.TypeSyncState, &sync)
	assert.Equal(t, protocol.CommandPause, sync.Type)
	assert.Equal(t, 5.0, sync.CurrentTime)

	send(t, leader, protocol.TypeControl, protocol.Control{Type: protocol.CommandPlay, CurrentTime: 12})
	var c protocol.Control
	await(t, follower, protocol.TypeControl, &c)
	assert.Equal(t, protocol.CommandPlay, c.Type)
	assert.Equal(t, 12.0, c.CurrentTime)
	assert.NotEmpty(t, c.CommandID)
}

func TestService_LeaderDisconnectFreesSlot(t *testing.T) {
	srv := newTestServer(t, []string{"*"})

	leader := dial(t, srv)
	send(t, leader, protocol.TypeJoin, protocol.Join{IsLeader: true, Password: "pw"})
	var granted protocol.LeaderGranted
	await(t, leader, protocol.TypeLeaderGranted, &granted)

	other := dial(t, srv)
	send(t, other, protocol.TypeJoin, protocol.Join{IsLeader: true, Password: "pw"})
	var denied protocol.LeaderDenied
	await(t, other, protocol.TypeLeaderDenied, &denied)
	assert.Equal(t, protocol.ReasonLeaderActive, denied.Reason)
	require.NotNil(t, denied.CurrentLeader)

	require.NoError(t, leader.Close())
	for {
		var status protocol.LeaderStatus
		await(t, other, protocol.TypeLeaderStatus, &status)
		if !status.HasLeader {
			break
		}
	}

	send(t, other, protocol.TypeJoin, protocol.Join{IsLeader: true, Password: "pw"})
	await(t, other, protocol.TypeLeaderGranted, &granted)
}

func TestService_PingPong(t *testing.T) {
	srv := newTestServer(t, []string{"*"})
	conn := dial(t, srv)

	send(t, conn, protocol.TypePing, protocol.Ping{Timestamp: 777})
	var pong protocol.Pong
	await(t, conn, protocol.TypePong, &pong)
	assert.Equal(t, int64(777), pong.Timestamp)
}

func TestService_HTTPViews(t *testing.T) {
	srv := newTestServer(t, []string{"*"})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/session")
	require.NoError(t, err)
	var info SessionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	resp.Body.Close()
	assert.Equal(t, "test", info.Slug)
	assert.True(t, info.PasswordRequired)
	assert.Equal(t, []string{"mp4"}, info.Formats)

	resp, err = http.Get(srv.URL + "/api/session/state")
	require.NoError(t, err)
	var state session.StateView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()
	assert.Equal(t, 5.0, state.Position)
	assert.False(t, state.HasLeader)

	resp, err = http.Get(srv.URL + "/api/viewers")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestService_RejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t, []string{"https://watch.example"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://watch.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestService_CORSPreflight(t *testing.T) {
	srv := newTestServer(t, []string{"https://watch.example"})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/session", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://watch.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://watch.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestService_StatsIncludeExtras(t *testing.T) {
	svc := NewService(DefaultConfig(), &config.Session{Slug: "s", StreamURL: "x"}, sched.NewLoop(nil, 0), nil)
	svc.AddStats("events", func() any { return map[string]int{"published": 3} })

	stats := svc.GetStats()
	assert.Equal(t, "s", stats["session"])
	assert.Equal(t, map[string]int{"published": 3}, stats["events"])
	assert.Equal(t, 0, stats["total_connections"])
}
