// Package client is the follower and leader side of the sync protocol. A
// Client owns a Player and drives it toward the canonical state it hears
// about from the session server. Everything here runs on one scheduler
// thread; nothing is locked.
package client

import "errors"

// ErrPlaybackNotAllowed is returned by Player.Play when the platform
// refuses to start playback without a user gesture.
var ErrPlaybackNotAllowed = errors.New("client: playback requires a user gesture")

// ReadyState mirrors the media element readiness ordinal.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

func (r ReadyState) String() string {
	switch r {
	case HaveNothing:
		return "HAVE_NOTHING"
	case HaveMetadata:
		return "HAVE_METADATA"
	case HaveCurrentData:
		return "HAVE_CURRENT_DATA"
	case HaveFutureData:
		return "HAVE_FUTURE_DATA"
	case HaveEnoughData:
		return "HAVE_ENOUGH_DATA"
	default:
		return "UNKNOWN"
	}
}

// Player is the media surface being synchronized.
type Player interface {
	Play() error
	Pause()
	Position() float64
	Seek(seconds float64)
	Paused() bool
	ReadyState() ReadyState
	// BufferedAhead reports how many seconds are buffered past the current
	// position. ok is false when the player has no buffered ranges at all.
	BufferedAhead() (seconds float64, ok bool)
}

// EventKind names a player notification.
type EventKind string

const (
	EventPlay        EventKind = "play"
	EventPause       EventKind = "pause"
	EventSeeking     EventKind = "seeking"
	EventSeeked      EventKind = "seeked"
	EventPlaying     EventKind = "playing"
	EventTimeUpdate  EventKind = "timeupdate"
	EventWaiting     EventKind = "waiting"
	EventStalled     EventKind = "stalled"
	EventCanPlay     EventKind = "canplay"
	EventLoadedData  EventKind = "loadeddata"
	EventSuspend     EventKind = "suspend"
	EventError       EventKind = "error"
	EventInteraction EventKind = "interaction"
	EventForeground  EventKind = "foreground"
	EventBackground  EventKind = "background"
)

// PlayerEvent is one notification from the player or its host page.
type PlayerEvent struct {
	Kind     EventKind
	Position float64
	Err      error
}
