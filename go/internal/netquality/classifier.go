package netquality

import "time"

const (
	// WindowSize is the number of RTT samples averaged.
	WindowSize = 10
	// PingInterval is how often clients measure RTT.
	PingInterval = 5 * time.Second
	// confirmations is how many consecutive classifications a new tier
	// needs before it is committed.
	confirmations = 2
)

// Classifier keeps a rolling RTT window and a committed tier with
// hysteresis. It is not safe for concurrent use; callers own it from a
// single scheduler thread.
type Classifier struct {
	thresholds Thresholds
	samples    []time.Duration
	next       int
	filled     bool
	last       time.Duration

	tier         Tier
	pending      Tier
	pendingCount int
}

// NewClassifier starts at TierGood, the same optimistic default the
// server assumes for a fresh connection.
func NewClassifier(p Profile) *Classifier {
	return &Classifier{
		thresholds: ThresholdsFor(p),
		samples:    make([]time.Duration, WindowSize),
		tier:       TierGood,
	}
}

// Observe adds one RTT sample and reports the committed tier and whether
// this sample changed it.
func (c *Classifier) Observe(rtt time.Duration) (Tier, bool) {
	if rtt < 0 {
		rtt = 0
	}
	c.last = rtt
	c.samples[c.next] = rtt
	c.next = (c.next + 1) % WindowSize
	if c.next == 0 {
		c.filled = true
	}

	observed := c.thresholds.Classify(c.Average())
	if observed == c.tier {
		c.pending = TierUnknown
		c.pendingCount = 0
		return c.tier, false
	}

	if c.pending != observed {
		// A different candidate restarts the count rather than
		// accumulating across unrelated tiers.
		c.pending = observed
		c.pendingCount = 1
	} else {
		c.pendingCount++
	}

	if c.pendingCount < confirmations {
		return c.tier, false
	}
	c.tier = observed
	c.pending = TierUnknown
	c.pendingCount = 0
	return c.tier, true
}

// Tier returns the committed tier.
func (c *Classifier) Tier() Tier { return c.tier }

// LastRTT returns the most recent sample, or zero before the first one.
func (c *Classifier) LastRTT() time.Duration { return c.last }

// Samples returns how many samples are in the window.
func (c *Classifier) Samples() int {
	if c.filled {
		return WindowSize
	}
	return c.next
}

// Average returns the mean of the window, or zero when empty.
func (c *Classifier) Average() time.Duration {
	n := c.Samples()
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += c.samples[i]
	}
	return sum / time.Duration(n)
}
