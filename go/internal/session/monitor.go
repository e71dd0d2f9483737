package session

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mcdev12/syncwatch/go/internal/netquality"
	"github.com/mcdev12/syncwatch/go/internal/protocol"
)

const (
	// A report older than staleAfter is stale; older than noDataAfter it
	// is treated as missing.
	staleAfter  = 2500 * time.Millisecond
	noDataAfter = 6 * time.Second
)

// FollowerReport is the last self report received from a follower.
type FollowerReport struct {
	CurrentTime    float64         `json:"currentTime"`
	IsPlaying      bool            `json:"isPlaying"`
	Buffering      bool            `json:"buffering"`
	NetworkQuality netquality.Tier `json:"networkQuality"`
	ReportedAt     time.Time       `json:"reportedAt"`
}

// Correction is a targeted resync for one follower.
type Correction struct {
	Control protocol.Control
	Drift   float64
}

// ResyncTolerance is the drift the monitor accepts before forcing a resync.
// It is looser than the follower's own correction tolerance.
func ResyncTolerance(t netquality.Tier) float64 {
	switch t {
	case netquality.TierPoor:
		return 8
	case netquality.TierFair:
		return 5
	default:
		return 3
	}
}

// displayTolerance is used for the diagnostic summary only.
func displayTolerance(t netquality.Tier) float64 {
	switch t {
	case netquality.TierPoor:
		return 10
	case netquality.TierFair:
		return 8
	default:
		return 5
	}
}

// Monitor keeps the latest report per follower.
type Monitor struct {
	followers map[string]time.Time
	reports   map[string]FollowerReport
}

func NewMonitor() *Monitor {
	return &Monitor{
		followers: make(map[string]time.Time),
		reports:   make(map[string]FollowerReport),
	}
}

// Track registers a follower so it shows up in summaries before its first
// report.
func (m *Monitor) Track(connID string, joinedAt time.Time) {
	m.followers[connID] = joinedAt
}

// Forget drops everything known about a connection.
func (m *Monitor) Forget(connID string) {
	delete(m.followers, connID)
	delete(m.reports, connID)
}

// Report stores r and compares it with the canonical position at the time
// of the report. It returns a correction when the follower is beyond its
// resync tolerance or disagrees on play state.
func (m *Monitor) Report(connID string, r FollowerReport, canonical CanonicalState) *Correction {
	if _, ok := m.followers[connID]; !ok {
		m.followers[connID] = r.ReportedAt
	}
	m.reports[connID] = r

	expected := canonical.PositionAt(r.ReportedAt)
	drift := math.Abs(r.CurrentTime - expected)
	if drift <= ResyncTolerance(r.NetworkQuality) && r.IsPlaying == canonical.IsPlaying {
		return nil
	}

	cmdType := protocol.CommandPause
	if canonical.IsPlaying {
		cmdType = protocol.CommandPlay
	}
	return &Correction{
		Control: protocol.Control{
			Type:        cmdType,
			CurrentTime: expected,
			IsPlaying:   protocol.Bool(canonical.IsPlaying),
			CommandID:   resyncID(r.ReportedAt, connID),
		},
		Drift: drift,
	}
}

func resyncID(now time.Time, connID string) string {
	tail := connID
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return fmt.Sprintf("%d-resync-%s", now.UnixMilli(), tail)
}

// ViewerStatus classifies a follower in a summary.
type ViewerStatus string

const (
	StatusNeverReported ViewerStatus = "never_reported"
	StatusNoData        ViewerStatus = "no_data"
	StatusStale         ViewerStatus = "stale"
	StatusBuffering     ViewerStatus = "buffering"
	StatusInSync        ViewerStatus = "in_sync"
	StatusOutOfSync     ViewerStatus = "out_of_sync"
)

type ViewerSummary struct {
	ConnectionID string          `json:"connectionId"`
	Status       ViewerStatus    `json:"status"`
	Drift        float64         `json:"drift,omitempty"`
	Report       *FollowerReport `json:"report,omitempty"`
}

type Summary struct {
	Expected  float64              `json:"expectedTime"`
	IsPlaying bool                 `json:"isPlaying"`
	Viewers   []ViewerSummary      `json:"viewers"`
	Totals    map[ViewerStatus]int `json:"totals"`
}

// Summary classifies every tracked follower at now.
func (m *Monitor) Summary(now time.Time, canonical CanonicalState) Summary {
	expected := canonical.PositionAt(now)
	s := Summary{
		Expected:  expected,
		IsPlaying: canonical.IsPlaying,
		Viewers:   make([]ViewerSummary, 0, len(m.followers)),
		Totals:    make(map[ViewerStatus]int),
	}
	for id := range m.followers {
		v := ViewerSummary{ConnectionID: id}
		r, ok := m.reports[id]
		switch {
		case !ok:
			v.Status = StatusNeverReported
		case now.Sub(r.ReportedAt) > noDataAfter:
			v.Status = StatusNoData
		case now.Sub(r.ReportedAt) > staleAfter:
			v.Status = StatusStale
		case r.Buffering:
			v.Status = StatusBuffering
		default:
			// Project the reported position forward to now so a report a
			// second old is not counted as a second behind.
			pos := r.CurrentTime
			if r.IsPlaying {
				pos += now.Sub(r.ReportedAt).Seconds()
			}
			v.Drift = math.Abs(pos - expected)
			if v.Drift <= displayTolerance(r.NetworkQuality) && r.IsPlaying == canonical.IsPlaying {
				v.Status = StatusInSync
			} else {
				v.Status = StatusOutOfSync
			}
		}
		if ok {
			rc := r
			v.Report = &rc
		}
		s.Totals[v.Status]++
		s.Viewers = append(s.Viewers, v)
	}
	sort.Slice(s.Viewers, func(i, j int) bool {
		return s.Viewers[i].ConnectionID < s.Viewers[j].ConnectionID
	})
	return s
}
