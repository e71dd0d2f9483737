package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/syncwatch/go/internal/protocol"
)

const (
	// CommandTTL bounds how long a command is kept for ack tracking.
	CommandTTL = 30 * time.Second
	// RetryDelay is the pause before a failed command is resent.
	RetryDelay = time.Second

	retrySuffix = "-retry"
)

// Command is a leader control event as fanned out to followers.
type Command struct {
	ID          string
	Type        protocol.CommandType
	CurrentTime float64
	IsPlaying   *bool
	IssuedAt    time.Time

	acks    map[string]bool
	retried map[string]bool
}

// Control renders the command as a wire message.
func (c *Command) Control() protocol.Control {
	return protocol.Control{
		Type:        c.Type,
		CurrentTime: c.CurrentTime,
		IsPlaying:   c.IsPlaying,
		CommandID:   c.ID,
	}
}

// Acks returns a copy of the recorded outcomes keyed by connection id.
func (c *Command) Acks() map[string]bool {
	out := make(map[string]bool, len(c.acks))
	for k, v := range c.acks {
		out[k] = v
	}
	return out
}

// Dispatcher assigns command ids, remembers issued commands and decides
// when a failed ack earns a retry.
type Dispatcher struct {
	clock    clockwork.Clock
	commands map[string]*Command
}

func NewDispatcher(clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{clock: clock, commands: make(map[string]*Command)}
}

// NewCommandID returns <unix-ms>-<9 random characters>.
func NewCommandID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}

// Issue stores a new command. Expired commands are purged first.
func (d *Dispatcher) Issue(t protocol.CommandType, currentTime float64, isPlaying *bool) *Command {
	now := d.clock.Now()
	d.Purge(now)
	cmd := &Command{
		ID:          NewCommandID(now),
		Type:        t,
		CurrentTime: currentTime,
		IsPlaying:   isPlaying,
		IssuedAt:    now,
		acks:        make(map[string]bool),
		retried:     make(map[string]bool),
	}
	d.commands[cmd.ID] = cmd
	return cmd
}

// Ack records a follower outcome. ok is false for ids the dispatcher does
// not track, including expired commands and retries. When a tracked
// command failed for this follower for the first time, retry is a copy to
// resend to that follower only.
func (d *Dispatcher) Ack(connID, commandID string, success bool) (retry *Command, ok bool) {
	cmd, ok := d.commands[commandID]
	if !ok {
		return nil, false
	}
	cmd.acks[connID] = success
	if success || cmd.retried[connID] {
		return nil, true
	}
	cmd.retried[connID] = true
	return &Command{
		ID:          cmd.ID + retrySuffix,
		Type:        cmd.Type,
		CurrentTime: cmd.CurrentTime,
		IsPlaying:   cmd.IsPlaying,
		IssuedAt:    d.clock.Now(),
	}, true
}

// Purge drops commands issued more than CommandTTL before now and returns
// how many were removed.
func (d *Dispatcher) Purge(now time.Time) int {
	removed := 0
	for id, cmd := range d.commands {
		if now.Sub(cmd.IssuedAt) > CommandTTL {
			delete(d.commands, id)
			removed++
		}
	}
	return removed
}

// Get looks up a tracked command.
func (d *Dispatcher) Get(id string) (*Command, bool) {
	cmd, ok := d.commands[id]
	return cmd, ok
}

// Len returns the number of tracked commands.
func (d *Dispatcher) Len() int { return len(d.commands) }

// IsRetryID reports whether id was derived for a retry.
func IsRetryID(id string) bool { return strings.HasSuffix(id, retrySuffix) }
