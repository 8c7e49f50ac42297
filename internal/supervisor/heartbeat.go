package supervisor

import (
	"os/exec"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kil/ubervisor/internal/catalog"
)

// scheduleHeartbeat arms p's per-process timer. Each fire reschedules
// itself before doing anything else, matching the source's "fires
// every HEARTBEAT_SEC" contract regardless of how long the tick body
// takes.
func (e *Engine) scheduleHeartbeat(p *catalog.Process) {
	p.HeartbeatTimer = time.AfterFunc(HeartbeatSec, func() {
		e.post(func() { e.onHeartbeat(p) })
	})
}

func (e *Engine) onHeartbeat(p *catalog.Process) {
	if _, tracked := e.Cat.ProcessByPID(p.PID); !tracked {
		return // reaped between the timer firing and the loop picking it up
	}
	if !pidAlive(p.PID) {
		// the waiter goroutine hasn't funneled the reap event through
		// yet; skip this tick rather than signal or exec against a pid
		// the kernel may have already recycled.
		e.scheduleHeartbeat(p)
		return
	}
	e.scheduleHeartbeat(p)

	g := p.Group
	if g == nil {
		return
	}

	if g.Age > 0 {
		uptime := time.Since(p.StartedAt)
		if uptime > time.Duration(g.Age)*time.Second {
			if p.Terminated {
				e.Log.WithFields(logFields(g, p)).Warn("exceeded uptime. Sending KILL")
				_ = unix.Kill(p.PID, unix.SIGKILL)
			} else {
				e.Log.WithFields(logFields(g, p)).Warn("exceeded uptime. Sending TERM")
				p.Terminated = true
				_ = unix.Kill(p.PID, unix.SIGTERM)
			}
			return // do not also run heartbeat_cmd while age-killing
		}
	}

	if g.HeartbeatCmd != nil {
		cmd := exec.Command(*g.HeartbeatCmd, g.Name, strconv.Itoa(p.PID), strconv.Itoa(p.Instance))
		if err := cmd.Start(); err != nil {
			e.Log.WithFields(logFields(g, p)).WithError(err).Warn("heartbeat_cmd failed to start")
			return
		}
		go func() { _ = cmd.Wait() }()
	}
}
