package netquality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func feed(c *Classifier, rtt time.Duration, n int) {
	for i := 0; i < n; i++ {
		c.Observe(rtt)
	}
}

func TestThresholds_Classify(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		rtt     time.Duration
		want    Tier
	}{
		{"desktop excellent", ProfileDesktop, ms(49), TierExcellent},
		{"desktop good boundary", ProfileDesktop, ms(50), TierGood},
		{"desktop fair", ProfileDesktop, ms(200), TierFair},
		{"desktop poor boundary", ProfileDesktop, ms(300), TierPoor},
		{"constrained excellent", ProfileConstrained, ms(79), TierExcellent},
		{"constrained good", ProfileConstrained, ms(150), TierGood},
		{"constrained fair", ProfileConstrained, ms(399), TierFair},
		{"constrained poor", ProfileConstrained, ms(400), TierPoor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ThresholdsFor(tt.profile).Classify(tt.rtt))
		})
	}
}

func TestParseProfile(t *testing.T) {
	assert.Equal(t, ProfileConstrained, ParseProfile("ios-safari"))
	assert.Equal(t, ProfileConstrained, ParseProfile(" Constrained "))
	assert.Equal(t, ProfileDesktop, ParseProfile("chrome"))
	assert.Equal(t, ProfileDesktop, ParseProfile(""))
}

func TestClassifier_StartsGood(t *testing.T) {
	c := NewClassifier(ProfileDesktop)
	assert.Equal(t, TierGood, c.Tier())
	assert.Zero(t, c.Average())
}

func TestClassifier_WindowKeepsLastTenSamples(t *testing.T) {
	c := NewClassifier(ProfileDesktop)
	feed(c, ms(1000), 5)
	feed(c, ms(20), WindowSize)

	assert.Equal(t, WindowSize, c.Samples())
	assert.Equal(t, ms(20), c.Average())
	assert.Equal(t, ms(20), c.LastRTT())
}

func TestClassifier_CommitsAfterTwoConsecutiveObservations(t *testing.T) {
	c := NewClassifier(ProfileDesktop)

	tier, changed := c.Observe(ms(20))
	assert.Equal(t, TierGood, tier)
	assert.False(t, changed)

	tier, changed = c.Observe(ms(20))
	assert.Equal(t, TierExcellent, tier)
	assert.True(t, changed)
}

func TestClassifier_SingleAnomalyDoesNotChangeTier(t *testing.T) {
	c := NewClassifier(ProfileDesktop)
	feed(c, ms(140), WindowSize)
	assert.Equal(t, TierGood, c.Tier())

	// Average crosses into fair for exactly one classification.
	c.Observe(ms(250))
	assert.Equal(t, TierGood, c.Tier())

	// Stable good-tier samples bring the average back under 150ms.
	c.Observe(ms(120))
	assert.Equal(t, TierGood, c.Tier())
	feed(c, ms(140), WindowSize)
	assert.Equal(t, TierGood, c.Tier())
}

func TestClassifier_DifferingCandidateResetsCount(t *testing.T) {
	c := NewClassifier(ProfileDesktop)

	c.Observe(ms(200)) // avg 200ms: fair candidate
	c.Observe(ms(400)) // avg 300ms: poor candidate replaces it
	c.Observe(ms(0))   // avg 200ms: fair again, count restarted at one
	assert.Equal(t, TierGood, c.Tier(), "observations of unrelated tiers must not accumulate")

	c.Observe(ms(200)) // avg 200ms: second consecutive fair
	assert.Equal(t, TierFair, c.Tier())
}

func TestClassifier_ConstrainedProfileIsMoreGenerous(t *testing.T) {
	desktop := NewClassifier(ProfileDesktop)
	constrained := NewClassifier(ProfileConstrained)
	feed(desktop, ms(180), 3)
	feed(constrained, ms(180), 3)

	assert.Equal(t, TierFair, desktop.Tier())
	assert.Equal(t, TierGood, constrained.Tier())
}
