package fetch

import (
	"sync/atomic"

	"github.com/arcresolve/arcresolve/internal/models"
)

// Stats holds per-tier counters for one Fetcher instance. Counters are
// atomic so concurrent cascades from ResolveMany update them safely; there
// is no package-level stats state.
type Stats struct {
	archive  tierCounters
	snapshot tierCounters
	live     tierCounters
}

type tierCounters struct {
	attempts atomic.Int64
	hits     atomic.Int64
	failures atomic.Int64
}

func (s *Stats) counters(tier models.Tier) *tierCounters {
	switch tier {
	case models.TierArchive:
		return &s.archive
	case models.TierSnapshot:
		return &s.snapshot
	default:
		return &s.live
	}
}

func (s *Stats) recordAttempt(tier models.Tier) {
	s.counters(tier).attempts.Add(1)
}

func (s *Stats) recordHit(tier models.Tier) {
	s.counters(tier).hits.Add(1)
}

func (s *Stats) recordFailure(tier models.Tier) {
	s.counters(tier).failures.Add(1)
}

// TierStats is a point-in-time view of one tier's counters.
type TierStats struct {
	Attempts int64
	Hits     int64
	Failures int64
	HitRate  float64
}

// StatsSnapshot is a consistent-enough copy of all tiers for reporting.
type StatsSnapshot struct {
	Archive  TierStats
	Snapshot TierStats
	Live     TierStats
}

// Snapshot returns the current counter values with derived hit rates.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Archive:  s.archive.snapshot(),
		Snapshot: s.snapshot.snapshot(),
		Live:     s.live.snapshot(),
	}
}

func (c *tierCounters) snapshot() TierStats {
	st := TierStats{
		Attempts: c.attempts.Load(),
		Hits:     c.hits.Load(),
		Failures: c.failures.Load(),
	}
	if st.Attempts > 0 {
		st.HitRate = float64(st.Hits) / float64(st.Attempts)
	}
	return st
}
