package queue

import "sync/atomic"

// Stats holds the five rolling counters the queue exposes. pending,
// running and retries are maintained live; dead_last_hour and
// completed_last_hour are reset by a background ticker every hour.
// Readers tolerate a momentarily inconsistent snapshot, matching the
// original queue's Relaxed-ordered atomics.
type Stats struct {
	pending            atomic.Int64
	running            atomic.Int64
	retries            atomic.Int64
	deadLastHour       atomic.Int64
	completedLastHour  atomic.Int64
}

// Snapshot is a point-in-time read of Stats.
type Snapshot struct {
	Pending            int64
	Running            int64
	Retries            int64
	DeadLastHour       int64
	CompletedLastHour  int64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Pending:           s.pending.Load(),
		Running:           s.running.Load(),
		Retries:           s.retries.Load(),
		DeadLastHour:      s.deadLastHour.Load(),
		CompletedLastHour: s.completedLastHour.Load(),
	}
}

func (s *Stats) resetHourly() {
	s.deadLastHour.Store(0)
	s.completedLastHour.Store(0)
}
