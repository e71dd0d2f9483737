package session

import (
	"crypto/subtle"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcdev12/syncwatch/go/internal/protocol"
)

// Candidate is a connection asking for the leader slot.
type Candidate struct {
	Peer        Peer
	Profile     string
	ConnectedAt time.Time
}

// Info describes the candidate for a denied requester. Only a prefix of the
// connection id is disclosed.
func (c Candidate) Info() *protocol.LeaderInfo {
	id := c.Peer.ID()
	if len(id) > 8 {
		id = id[:8]
	}
	return &protocol.LeaderInfo{
		ConnectionID:  id,
		ClientProfile: c.Profile,
		ConnectedAt:   c.ConnectedAt,
	}
}

// Decision is the outcome of a leadership request.
type Decision struct {
	Granted bool
	Reason  protocol.DenyReason
	Current *protocol.LeaderInfo
	// Evicted is the id of a stale holder cleared to make room, if any.
	Evicted string
}

// Arbiter guards the single leader slot.
type Arbiter struct {
	password string
	holder   *Candidate
}

func NewArbiter(password string) *Arbiter {
	return &Arbiter{password: password}
}

// RequestLeader checks the password, then the slot. A slot whose holder is
// no longer alive does not block the request. The holder asking again is
// granted again.
func (a *Arbiter) RequestLeader(c Candidate, password string) Decision {
	if a.password != "" {
		if password == "" {
			return Decision{Reason: protocol.ReasonPasswordRequired}
		}
		if !a.checkPassword(password) {
			return Decision{Reason: protocol.ReasonIncorrectPassword}
		}
	}

	var evicted string
	if a.holder != nil {
		switch {
		case a.holder.Peer.ID() == c.Peer.ID():
		case a.holder.Peer.Alive():
			return Decision{Reason: protocol.ReasonLeaderActive, Current: a.holder.Info()}
		default:
			evicted = a.holder.Peer.ID()
		}
	}
	a.holder = &c
	return Decision{Granted: true, Evicted: evicted}
}

// Release clears the slot if connID holds it and reports whether it did.
func (a *Arbiter) Release(connID string) bool {
	if a.holder == nil || a.holder.Peer.ID() != connID {
		return false
	}
	a.holder = nil
	return true
}

// IsLeader reports whether connID holds the slot.
func (a *Arbiter) IsLeader(connID string) bool {
	return a.holder != nil && a.holder.Peer.ID() == connID
}

// HasLeader reports whether the slot is held by a live connection.
func (a *Arbiter) HasLeader() bool {
	return a.holder != nil && a.holder.Peer.Alive()
}

// LeaderID returns the holder's id, or "" when the slot is empty.
func (a *Arbiter) LeaderID() string {
	if a.holder == nil {
		return ""
	}
	return a.holder.Peer.ID()
}

func (a *Arbiter) checkPassword(password string) bool {
	if isBcryptHash(a.password) {
		return bcrypt.CompareHashAndPassword([]byte(a.password), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(a.password), []byte(password)) == 1
}

func isBcryptHash(s string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
