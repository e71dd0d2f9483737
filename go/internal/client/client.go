package client

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdev12/syncwatch/go/internal/netquality"
	"github.com/mcdev12/syncwatch/go/internal/protocol"
	"github.com/mcdev12/syncwatch/go/internal/sched"
)

// Role is the part a client currently plays in the session.
type Role int

const (
	// RolePending is a client waiting to hear whether it may lead.
	RolePending Role = iota
	RoleFollower
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleLeader:
		return "leader"
	default:
		return "pending"
	}
}

// Options configure a Client.
type Options struct {
	// ProfileName is sent in join and selects the platform profile.
	ProfileName string
	WantLeader  bool
	Password    string
	StartTime   float64

	OnGestureRequired func()
	OnRoleChange      func(Role)
}

// Client joins a session, becomes leader or follower, and keeps its player
// in step. All methods must be called from the scheduler's thread.
type Client struct {
	sched   sched.Scheduler
	out     Sender
	player  Player
	log     zerolog.Logger
	opts    Options
	profile netquality.Profile
	quality *netquality.Classifier

	role       Role
	wantLeader bool
	follower   *Follower
	leader     *Leader
	stopPing   func()
}

// New returns a client that speaks through out and drives player.
func New(s sched.Scheduler, out Sender, player Player, opts Options, logger zerolog.Logger) *Client {
	profile := netquality.ParseProfile(opts.ProfileName)
	c := &Client{
		sched:      s,
		out:        out,
		player:     player,
		log:        logger,
		opts:       opts,
		profile:    profile,
		quality:    netquality.NewClassifier(profile),
		wantLeader: opts.WantLeader,
	}
	c.follower = NewFollower(s, out, player, FollowerConfig{
		Profile:           profile,
		Tier:              c.quality.Tier,
		OnGestureRequired: opts.OnGestureRequired,
	}, logger)
	c.leader = NewLeader(s, out, player, logger)
	return c
}

// Role returns the client's current role.
func (c *Client) Role() Role { return c.role }

// Follower returns the follower machinery, active or not.
func (c *Client) Follower() *Follower { return c.follower }

// Tier returns the client's current network quality tier.
func (c *Client) Tier() netquality.Tier { return c.quality.Tier() }

// Start joins the session and begins measuring the connection.
func (c *Client) Start() {
	c.join(c.wantLeader)
	c.stopPing = sched.Every(c.sched, func() time.Duration { return netquality.PingInterval }, c.ping)
	if !c.wantLeader {
		c.setRole(RoleFollower)
	}
}

// Stop halts all periodic work.
func (c *Client) Stop() {
	if c.stopPing != nil {
		c.stopPing()
		c.stopPing = nil
	}
	c.setRole(RolePending)
}

func (c *Client) join(asLeader bool) {
	join := protocol.Join{
		IsLeader:      asLeader,
		StartTime:     c.opts.StartTime,
		ClientProfile: c.opts.ProfileName,
	}
	if asLeader {
		join.Password = c.opts.Password
	}
	if err := c.out.Send(protocol.TypeJoin, join); err != nil {
		c.log.Error().Err(err).Msg("failed to send join")
	}
}

func (c *Client) ping() {
	ping := protocol.Ping{
		Timestamp: protocol.UnixMilli(c.sched.Now()),
		RTT:       c.quality.LastRTT().Milliseconds(),
	}
	if err := c.out.Send(protocol.TypePing, ping); err != nil {
		c.log.Warn().Err(err).Msg("failed to send ping")
	}
}

func (c *Client) setRole(r Role) {
	if r == c.role {
		return
	}
	switch c.role {
	case RoleFollower:
		c.follower.Stop()
	case RoleLeader:
		c.leader.Stop()
	}
	c.role = r
	switch r {
	case RoleFollower:
		c.follower.Start()
	case RoleLeader:
		c.leader.Start()
	}
	c.log.Info().Str("role", r.String()).Msg("role changed")
	if c.opts.OnRoleChange != nil {
		c.opts.OnRoleChange(r)
	}
}

// HandleMessage processes one message from the server.
func (c *Client) HandleMessage(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeLeaderGranted:
		c.setRole(RoleLeader)
	case protocol.TypeLeaderDenied:
		var d protocol.LeaderDenied
		if err := env.Bind(&d); err != nil {
			c.log.Warn().Err(err).Msg("malformed leaderDenied")
		}
		c.log.Info().Str("reason", string(d.Reason)).Msg("leadership denied")
		if d.Reason == protocol.ReasonPasswordRequired || d.Reason == protocol.ReasonIncorrectPassword {
			c.wantLeader = false
		}
		c.setRole(RoleFollower)
	case protocol.TypeLeaderStatus:
		var s protocol.LeaderStatus
		if err := env.Bind(&s); err != nil {
			c.log.Warn().Err(err).Msg("malformed leaderStatus")
			return
		}
		if !s.HasLeader && c.wantLeader && c.role == RoleFollower {
			c.log.Info().Msg("leader slot free, requesting leadership")
			c.join(true)
		}
	case protocol.TypePong:
		var p protocol.Pong
		if err := env.Bind(&p); err != nil {
			c.log.Warn().Err(err).Msg("malformed pong")
			return
		}
		rtt := c.sched.Now().Sub(time.UnixMilli(p.Timestamp))
		if tier, changed := c.quality.Observe(rtt); changed {
			c.log.Info().Str("tier", string(tier)).Dur("rtt", rtt).Msg("network quality changed")
		}
	case protocol.TypeControl, protocol.TypeSyncState, protocol.TypeHeartbeat, protocol.TypeFullStateSync:
		if c.role == RoleFollower {
			c.follower.HandleMessage(env)
		}
	}
}

// HandlePlayerEvent routes a player notification to the active role.
func (c *Client) HandlePlayerEvent(ev PlayerEvent) {
	switch c.role {
	case RoleFollower:
		c.follower.HandlePlayerEvent(ev)
	case RoleLeader:
		c.leader.HandlePlayerEvent(ev)
	}
}
