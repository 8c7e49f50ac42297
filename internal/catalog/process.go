package catalog

import "time"

// Process is a live child belonging to a Group's instance slot. Group is
// nil once the group has been deleted or the slot decommissioned while
// the child is still alive (it continues running as an orphan).
type Process struct {
	PID        int
	StartedAt  time.Time
	Instance   int
	Terminated bool // a TERM has been sent for age enforcement
	Age        int  // snapshot of the group's Age at spawn time
	Group      *Group

	// HeartbeatTimer is cancelled (stopped) when the process is reaped.
	HeartbeatTimer *time.Timer
}

// Uptime reports how long the process has been running.
func (p *Process) Uptime(now time.Time) time.Duration {
	return now.Sub(p.StartedAt)
}
