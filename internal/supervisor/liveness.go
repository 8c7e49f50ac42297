package supervisor

import (
	"github.com/shirou/gopsutil/v3/process"
)

// pidAlive is a narrow liveness cross-check, not a resource-accounting
// facility — it answers "does this pid still exist" and nothing about
// its CPU or memory use. Each heartbeat tick calls it before signalling
// or exec'ing against a tracked pid, since the per-process waiter
// goroutine may already have seen the exit without its reap having
// reached the engine loop yet.
func pidAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return true // unknown: assume alive and let the tick proceed
	}
	return alive
}
