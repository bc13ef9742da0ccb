package pipeline

import "time"

// CheckpointPolicy decides when the worker persists progress. The first
// records are throttled by time, later ones by record count.
type CheckpointPolicy struct {
	SmallJobLimit  int           // up to this many records, checkpoint by time
	LargeJobLimit  int           // up to this many records, use MediumInterval
	MediumInterval int           // records between checkpoints past SmallJobLimit
	LargeInterval  int           // records between checkpoints past LargeJobLimit
	MinElapsed     time.Duration // minimum gap between time-based checkpoints
}

// DefaultCheckpointPolicy returns the production thresholds.
func DefaultCheckpointPolicy() CheckpointPolicy {
	return CheckpointPolicy{
		SmallJobLimit:  100000,
		LargeJobLimit:  1000000,
		MediumInterval: 100,
		LargeInterval:  1000,
		MinElapsed:     2 * time.Second,
	}
}

// ShouldCheckpoint reports whether progress should be written after record n
// of total, elapsed being the time since the last checkpoint. The final
// record always checkpoints.
func (p CheckpointPolicy) ShouldCheckpoint(n, total int, elapsed time.Duration) bool {
	switch {
	case n >= total:
		return true
	case n <= p.SmallJobLimit:
		return elapsed >= p.MinElapsed
	case n <= p.LargeJobLimit:
		return p.MediumInterval > 0 && n%p.MediumInterval == 0
	default:
		return p.LargeInterval > 0 && n%p.LargeInterval == 0
	}
}

// progressTracker remembers when progress was last persisted.
type progressTracker struct {
	policy    CheckpointPolicy
	heartbeat time.Duration
	total     int
	last      time.Time
	now       func() time.Time
}

func newProgressTracker(policy CheckpointPolicy, heartbeat time.Duration, total int, now func() time.Time) *progressTracker {
	return &progressTracker{policy: policy, heartbeat: heartbeat, total: total, last: now(), now: now}
}

// due reports whether record n should be checkpointed. A checkpoint is also
// forced once the heartbeat interval passes without one.
func (t *progressTracker) due(n int) bool {
	elapsed := t.now().Sub(t.last)
	if t.policy.ShouldCheckpoint(n, t.total, elapsed) {
		return true
	}
	return t.heartbeat > 0 && elapsed >= t.heartbeat
}

func (t *progressTracker) mark() { t.last = t.now() }
