// Package protocol defines the JSON messages exchanged over the realtime
// channel between the session server, the leader and the followers.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownType is returned when decoding an envelope with a type this
// package does not define.
var ErrUnknownType = errors.New("protocol: unknown message type")

// MessageType names a wire message.
type MessageType string

const (
	TypeJoin          MessageType = "join"
	TypeControl       MessageType = "control"
	TypeHeartbeat     MessageType = "heartbeat"
	TypeFullStateSync MessageType = "fullStateSync"
	TypeSyncState     MessageType = "syncState"
	TypeLeaderStatus  MessageType = "leaderStatus"
	TypeLeaderGranted MessageType = "leaderGranted"
	TypeLeaderDenied  MessageType = "leaderDenied"
	TypeViewerStatus  MessageType = "viewerStatus"
	TypeSyncAck       MessageType = "syncAck"
	TypePing          MessageType = "ping"
	TypePong          MessageType = "pong"
)

var knownTypes = map[MessageType]bool{
	TypeJoin: true, TypeControl: true, TypeHeartbeat: true, TypeFullStateSync: true,
	TypeSyncState: true, TypeLeaderStatus: true, TypeLeaderGranted: true,
	TypeLeaderDenied: true, TypeViewerStatus: true, TypeSyncAck: true,
	TypePing: true, TypePong: true,
}

// CommandType is the kind of playback command.
type CommandType string

const (
	CommandPlay  CommandType = "play"
	CommandPause CommandType = "pause"
	CommandSeek  CommandType = "seek"
)

// Valid reports whether c is one of the defined command types.
func (c CommandType) Valid() bool {
	return c == CommandPlay || c == CommandPause || c == CommandSeek
}

// DenyReason explains a leaderDenied message.
type DenyReason string

const (
	ReasonPasswordRequired  DenyReason = "password_required"
	ReasonIncorrectPassword DenyReason = "incorrect_password"
	ReasonLeaderActive      DenyReason = "leader_active"
)

// Envelope is the outer frame of every message.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Join is sent by every client right after connecting.
type Join struct {
	IsLeader      bool    `json:"isLeader"`
	Password      string  `json:"password,omitempty"`
	StartTime     float64 `json:"startTime"`
	ClientProfile string  `json:"clientProfile,omitempty"`
}

// Control carries a play, pause or seek. Leaders send it without a
// CommandID; the server stamps one before fanning it out.
type Control struct {
	Type        CommandType `json:"type"`
	CurrentTime float64     `json:"currentTime"`
	IsPlaying   *bool       `json:"isPlaying,omitempty"`
	CommandID   string      `json:"commandId,omitempty"`
}

// Heartbeat is the leader's periodic position report while playing.
type Heartbeat struct {
	CurrentTime float64 `json:"currentTime"`
}

// FullStateSync is the leader's periodic full state broadcast.
type FullStateSync struct {
	CurrentTime float64 `json:"currentTime"`
	IsPlaying   bool    `json:"isPlaying"`
	Timestamp   int64   `json:"timestamp,omitempty"`
}

// SyncState brings a late joiner to the canonical state.
type SyncState struct {
	Type        CommandType `json:"type"`
	CurrentTime float64     `json:"currentTime"`
	IsPlaying   bool        `json:"isPlaying"`
}

// LeaderStatus tells clients whether the leader slot is held.
type LeaderStatus struct {
	HasLeader bool `json:"hasLeader"`
}

// LeaderGranted confirms a leadership request.
type LeaderGranted struct {
	Message string `json:"message"`
}

// LeaderInfo identifies the current leader to a denied requester.
type LeaderInfo struct {
	ConnectionID  string    `json:"connectionId"`
	ClientProfile string    `json:"clientProfile,omitempty"`
	ConnectedAt   time.Time `json:"connectedAt"`
}

// LeaderDenied rejects a leadership request.
type LeaderDenied struct {
	Reason        DenyReason  `json:"reason"`
	CurrentLeader *LeaderInfo `json:"currentLeaderInfo,omitempty"`
}

// ViewerStatus is a follower's periodic self report.
type ViewerStatus struct {
	CurrentTime    float64 `json:"currentTime"`
	IsPlaying      bool    `json:"isPlaying"`
	Buffering      bool    `json:"buffering"`
	NetworkQuality string  `json:"networkQuality"`
	Timestamp      int64   `json:"timestamp,omitempty"`
}

// SyncAck reports the outcome of applying a command.
type SyncAck struct {
	CommandID   string  `json:"commandId"`
	Success     bool    `json:"success"`
	CurrentTime float64 `json:"currentTime"`
	Timestamp   int64   `json:"timestamp,omitempty"`
}

// Ping starts an RTT measurement. RTT carries the sender's previous
// measurement in milliseconds so the server can track quality too.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
	RTT       int64 `json:"rtt,omitempty"`
}

// Pong echoes a ping timestamp.
type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// Encode wraps payload in an envelope and marshals it.
func Encode(t MessageType, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Data = data
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", t, err)
	}
	return out, nil
}

// Decode unmarshals an envelope and checks its type.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if !knownTypes[env.Type] {
		return env, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return env, nil
}

// Bind unmarshals the envelope payload into v.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

// Bool returns a pointer to b, for optional fields.
func Bool(b bool) *bool { return &b }

// UnixMilli converts t to the millisecond timestamps used on the wire.
func UnixMilli(t time.Time) int64 { return t.UnixMilli() }
