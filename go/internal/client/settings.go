package client

import (
	"math"
	"time"

	"github.com/mcdev12/syncwatch/go/internal/netquality"
)

// Settings size the correction engine for the current network quality.
type Settings struct {
	// Tolerance is the drift, in seconds, accepted without correcting.
	Tolerance  float64
	MaxRetries int
	// HeartbeatInterval paces the follower's status reports.
	HeartbeatInterval time.Duration
	// ApplyDelay is the pause between correction attempts.
	ApplyDelay time.Duration
}

var tierSettings = map[netquality.Tier]Settings{
	netquality.TierExcellent: {Tolerance: 0.3, MaxRetries: 1, HeartbeatInterval: 3000 * time.Millisecond, ApplyDelay: 800 * time.Millisecond},
	netquality.TierGood:      {Tolerance: 0.5, MaxRetries: 2, HeartbeatInterval: 3000 * time.Millisecond, ApplyDelay: 1000 * time.Millisecond},
	netquality.TierFair:      {Tolerance: 1.0, MaxRetries: 3, HeartbeatInterval: 2000 * time.Millisecond, ApplyDelay: 1500 * time.Millisecond},
	netquality.TierPoor:      {Tolerance: 2.0, MaxRetries: 5, HeartbeatInterval: 1000 * time.Millisecond, ApplyDelay: 2000 * time.Millisecond},
}

var defaultSettings = Settings{Tolerance: 0.5, MaxRetries: 3, HeartbeatInterval: 3000 * time.Millisecond, ApplyDelay: 1000 * time.Millisecond}

// Constrained profile adjustments.
const (
	constrainedToleranceFactor = 4
	constrainedMinTolerance    = 3.5
	constrainedRetryDelta      = -1
	constrainedHeartbeatExtra  = 1500 * time.Millisecond
	constrainedDelayExtra      = 800 * time.Millisecond
	// constrainedUnpauseTolerance is the floor used when a constrained
	// follower goes from paused to playing.
	constrainedUnpauseTolerance = 4.0
)

// BaseSettings returns the table entry for a tier.
func BaseSettings(tier netquality.Tier) Settings {
	if s, ok := tierSettings[tier]; ok {
		return s
	}
	return defaultSettings
}

// AdaptiveSettings applies the profile adjustments to the tier's entry.
func AdaptiveSettings(tier netquality.Tier, profile netquality.Profile) Settings {
	s := BaseSettings(tier)
	if profile != netquality.ProfileConstrained {
		return s
	}
	s.Tolerance = math.Max(s.Tolerance*constrainedToleranceFactor, constrainedMinTolerance)
	s.MaxRetries = max(s.MaxRetries+constrainedRetryDelta, 1)
	s.HeartbeatInterval += constrainedHeartbeatExtra
	s.ApplyDelay += constrainedDelayExtra
	return s
}

// WithLowBuffer widens tolerance when only ahead seconds are buffered,
// proportionally to the shortfall below MinBufferAhead and by at least 1.5x.
func (s Settings) WithLowBuffer(ahead float64) Settings {
	if ahead >= MinBufferAhead {
		return s
	}
	s.Tolerance *= math.Max(1.5, (MinBufferAhead-ahead)/2)
	return s
}
