package supervisor

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/kil/ubervisor/internal/catalog"
)

// reap runs on the engine loop once a spawned child's cmd.Wait() has
// returned. It is the idiomatic-Go stand-in for the source's
// SIGCHLD-driven waitpid(-1, WNOHANG) drain: Go's runtime already
// reaps each child through cmd.Wait() internally (there is no way to
// safely intercept raw SIGCHLD and call waitpid ourselves without
// racing the runtime's own reaper), so each spawned process gets its
// own waiter goroutine and funnels the result back onto the single
// engine loop, preserving the "mutate only from the loop" invariant
// without a self-pipe or signalfd.
func (e *Engine) reap(p *catalog.Process, waitErr error) {
	e.Cat.UntrackProcess(p.PID)
	if p.HeartbeatTimer != nil {
		p.HeartbeatTimer.Stop()
	}

	g := p.Group
	if g == nil {
		return // orphaned slot: group was deleted or shrunk out from under it
	}
	if g.Childs[p.Instance] == p {
		g.Childs[p.Instance] = nil
	}

	if exitedWithError(waitErr, g.KillSig) {
		e.recordFailure(g, p.Instance)
		return
	}

	if p.Instance < len(g.Childs) && g.Status == catalog.StatusRunning {
		e.Spawn(g, p.Instance)
	}
}

// recordFailure applies the rolling ERROR_MAX/ERROR_PERIOD restart-policy
// window for one failed attempt at instance of g, then either respawns or
// transitions the group to BROKEN. It is shared between reap (a child that
// started and later exited badly) and Spawn's own failure branches (a
// child that never started at all because identity resolution or the
// exec itself failed) — §4.1 draws no distinction between the two once
// the parent has committed to the attempt, since in the source every
// non-fork failure happens inside the already-forked child and is only
// ever visible to the parent as a failing exit.
func (e *Engine) recordFailure(g *catalog.Group, instance int) {
	now := time.Now()
	if !g.ErrTime.IsZero() && now.Sub(g.ErrTime) > ErrorPeriod {
		g.ErrorCount = 0
	}
	g.ErrorCount++
	g.ErrTime = now

	if g.ErrorCount >= ErrorMax*g.Instances {
		g.Status = catalog.StatusBroken
		e.Log.WithField("group", g.Name).Warn("group marked BROKEN: too many failures")
		e.Bus.PublishStatus(g.Name, int(catalog.StatusBroken))
		e.runFatal(g)
		return
	}

	if instance < len(g.Childs) && g.Status == catalog.StatusRunning {
		e.Spawn(g, instance)
	}
}

// exitedWithError reports whether waitErr represents a failing exit: a
// non-zero normal exit, or termination by the group's configured
// killsig. The sender of the signal is not distinguished: a child
// stopped by KILL, by age enforcement (SIGTERM, or SIGKILL when that is
// the killsig) or by anything else counts as a failure whenever the
// signal equals killsig.
func exitedWithError(waitErr error, killsig int) bool {
	if waitErr == nil {
		return false
	}
	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return true
	}
	if exitErr.ExitCode() > 0 {
		return true
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return int(ws.Signal()) == killsig
	}
	return false
}

// runFatal forks+execs the group's fatal_cmd with the group name as
// its sole argument. A fork failure is only logged, matching the
// source's "not retried" contract.
func (e *Engine) runFatal(g *catalog.Group) {
	if g.FatalCmd == nil {
		return
	}
	cmd := exec.Command(*g.FatalCmd, g.Name)
	if err := cmd.Start(); err != nil {
		e.Log.WithField("group", g.Name).WithError(err).Error("fatal_cmd failed to start")
		return
	}
	go func() { _ = cmd.Wait() }()
}
