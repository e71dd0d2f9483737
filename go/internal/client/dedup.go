package client

import (
	"fmt"
	"strings"
	"time"
)

// DedupWindow is how long an applied command's key suppresses repeats.
const DedupWindow = 5 * time.Second

// Deduplicator drops commands that repeat a recently seen type and
// position. Constrained players emit duplicate notifications that would
// otherwise echo back as duplicate corrections, so it is only enabled there.
type Deduplicator struct {
	enabled bool
	seen    map[string]time.Time
}

// NewDeduplicator returns a deduplicator; a disabled one accepts everything.
func NewDeduplicator(enabled bool) *Deduplicator {
	return &Deduplicator{enabled: enabled, seen: make(map[string]time.Time)}
}

// Duplicate reports whether cmd repeats one seen within DedupWindow of now,
// and records it otherwise. Retries always pass.
func (d *Deduplicator) Duplicate(cmd Command, now time.Time) bool {
	if !d.enabled || strings.HasSuffix(cmd.ID, "-retry") {
		return false
	}
	for key, at := range d.seen {
		if now.Sub(at) >= DedupWindow {
			delete(d.seen, key)
		}
	}
	key := fmt.Sprintf("%s-%.3f", cmd.Type, cmd.CurrentTime)
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}
