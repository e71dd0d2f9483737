// Package netquality classifies connection round-trip times into quality
// tiers. The same classifier runs on followers, which size their drift
// tolerance from it, and on the server, which keeps one per connection for
// diagnostics.
package netquality

import (
	"strings"
	"time"
)

// Tier is a coarse network quality bucket.
type Tier string

const (
	TierUnknown   Tier = ""
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierFair      Tier = "fair"
	TierPoor      Tier = "poor"
)

// ParseTier maps a wire string to a Tier; unrecognized values are TierUnknown.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(s)) {
	case TierExcellent:
		return TierExcellent
	case TierGood:
		return TierGood
	case TierFair:
		return TierFair
	case TierPoor:
		return TierPoor
	default:
		return TierUnknown
	}
}

// Profile describes the client platform class.
type Profile string

const (
	// ProfileDesktop covers browsers whose media pipeline reports timing
	// faithfully.
	ProfileDesktop Profile = "desktop"
	// ProfileConstrained is the power-managed mobile browser engine. It has
	// higher baseline latency and large, harmless timing jitter.
	ProfileConstrained Profile = "constrained"
)

// ParseProfile accepts the profile names clients send in join messages.
// The legacy browser label "ios-safari" maps to the constrained profile.
func ParseProfile(s string) Profile {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "constrained", "ios-safari", "mobile-safari":
		return ProfileConstrained
	default:
		return ProfileDesktop
	}
}

// Thresholds are the upper RTT bounds for excellent, good and fair.
// Anything at or above Fair is poor.
type Thresholds struct {
	Excellent time.Duration
	Good      time.Duration
	Fair      time.Duration
}

var (
	DesktopThresholds = Thresholds{
		Excellent: 50 * time.Millisecond,
		Good:      150 * time.Millisecond,
		Fair:      300 * time.Millisecond,
	}
	ConstrainedThresholds = Thresholds{
		Excellent: 80 * time.Millisecond,
		Good:      200 * time.Millisecond,
		Fair:      400 * time.Millisecond,
	}
)

// ThresholdsFor returns the table for a profile.
func ThresholdsFor(p Profile) Thresholds {
	if p == ProfileConstrained {
		return ConstrainedThresholds
	}
	return DesktopThresholds
}

// Classify buckets an average RTT.
func (t Thresholds) Classify(rtt time.Duration) Tier {
	switch {
	case rtt < t.Excellent:
		return TierExcellent
	case rtt < t.Good:
		return TierGood
	case rtt < t.Fair:
		return TierFair
	default:
		return TierPoor
	}
}
