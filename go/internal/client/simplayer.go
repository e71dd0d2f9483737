package client

import (
	"time"

	"github.com/mcdev12/syncwatch/go/internal/sched"
)

// SimPlayer is an in-memory Player whose clock is a scheduler's clock. It
// emits the same notifications a media element would, synchronously, to a
// single listener. The headless client and the tests use it.
type SimPlayer struct {
	sched    sched.Scheduler
	listener func(PlayerEvent)

	position float64
	anchor   time.Time
	paused   bool
	ready    ReadyState
	ahead    float64
	buffered bool

	requireGesture bool
	seekOffset     float64
	duration       float64

	PlayCalls  int
	PauseCalls int
	SeekCalls  int
}

// NewSimPlayer returns a paused player at zero with enough data to play.
func NewSimPlayer(s sched.Scheduler) *SimPlayer {
	return &SimPlayer{
		sched:    s,
		anchor:   s.Now(),
		paused:   true,
		ready:    HaveEnoughData,
		ahead:    30,
		buffered: true,
	}
}

// OnEvent sets the listener for player notifications.
func (p *SimPlayer) OnEvent(fn func(PlayerEvent)) { p.listener = fn }

func (p *SimPlayer) emit(kind EventKind) {
	if p.listener != nil {
		p.listener(PlayerEvent{Kind: kind, Position: p.Position()})
	}
}

// Position implements Player.
func (p *SimPlayer) Position() float64 {
	pos := p.position
	if !p.paused {
		pos += p.sched.Now().Sub(p.anchor).Seconds()
	}
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	return pos
}

// Paused implements Player.
func (p *SimPlayer) Paused() bool { return p.paused }

// ReadyState implements Player.
func (p *SimPlayer) ReadyState() ReadyState { return p.ready }

// BufferedAhead implements Player.
func (p *SimPlayer) BufferedAhead() (float64, bool) { return p.ahead, p.buffered }

// Play implements Player.
func (p *SimPlayer) Play() error {
	p.PlayCalls++
	if p.requireGesture {
		return ErrPlaybackNotAllowed
	}
	if !p.paused {
		return nil
	}
	p.position = p.Position()
	p.anchor = p.sched.Now()
	p.paused = false
	p.emit(EventPlay)
	p.emit(EventPlaying)
	return nil
}

// Pause implements Player.
func (p *SimPlayer) Pause() {
	p.PauseCalls++
	if p.paused {
		return
	}
	p.position = p.Position()
	p.anchor = p.sched.Now()
	p.paused = true
	p.emit(EventPause)
}

// Seek implements Player. A configured seek offset makes every seek land
// that far from the requested target, which models a pipeline that cannot
// honour seeks.
func (p *SimPlayer) Seek(seconds float64) {
	p.SeekCalls++
	target := seconds + p.seekOffset
	if target < 0 {
		target = 0
	}
	p.position = target
	p.anchor = p.sched.Now()
	p.emit(EventSeeking)
	p.emit(EventSeeked)
}

// UserSeek, UserPlay and UserPause act as if the viewer used the native
// controls.
func (p *SimPlayer) UserSeek(seconds float64) {
	p.position = seconds
	p.anchor = p.sched.Now()
	p.emit(EventSeeking)
	p.emit(EventSeeked)
}

func (p *SimPlayer) UserPlay() {
	if !p.paused {
		return
	}
	p.position = p.Position()
	p.anchor = p.sched.Now()
	p.paused = false
	p.emit(EventPlay)
}

func (p *SimPlayer) UserPause() {
	if p.paused {
		return
	}
	p.position = p.Position()
	p.anchor = p.sched.Now()
	p.paused = true
	p.emit(EventPause)
}

// SetReadyState changes readiness and emits loadeddata when data first
// becomes available.
func (p *SimPlayer) SetReadyState(r ReadyState) {
	was := p.ready
	p.ready = r
	if was < HaveCurrentData && r >= HaveCurrentData {
		p.emit(EventLoadedData)
	}
}

// SetBuffered sets the buffered-ahead report; ok false means no ranges.
func (p *SimPlayer) SetBuffered(ahead float64, ok bool) {
	p.ahead = ahead
	p.buffered = ok
}

// RequireGesture makes Play fail with ErrPlaybackNotAllowed.
func (p *SimPlayer) RequireGesture(v bool) { p.requireGesture = v }

// SetSeekOffset makes subsequent seeks land offset seconds off target.
func (p *SimPlayer) SetSeekOffset(offset float64) { p.seekOffset = offset }

// SetDuration clamps the position to the media length; zero means
// unbounded.
func (p *SimPlayer) SetDuration(seconds float64) { p.duration = seconds }

// Emit forwards an arbitrary notification, for signals the simulation does
// not produce on its own (suspend, waiting, foreground).
func (p *SimPlayer) Emit(kind EventKind) { p.emit(kind) }
