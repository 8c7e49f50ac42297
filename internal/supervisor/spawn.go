package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kil/ubervisor/internal/catalog"
	"github.com/kil/ubervisor/internal/identity"
)

// numToken is the literal placeholder substituted with the instance
// number in stdout_path/stderr_path. Only the first occurrence is
// replaced, and the replacement must fit within the original token's
// length the way the source's in-place buffer substitution required —
// here that constraint is vacuous since strings.Replace allocates a
// fresh string, but the single-occurrence rule is kept for parity.
const numToken = "%(NUM)"

func substituteNum(path string, instance int) string {
	return strings.Replace(path, numToken, strconv.Itoa(instance), 1)
}

// Spawn starts instance i of group g. In the source, identity setup and
// exec both happen inside the already-forked child, so any failure
// there still leaves the parent with a Process record and lets the
// reaper's restart-policy path apply uniformly. Go's os/exec collapses
// fork and exec into one Start() call with no window for our own code
// to run between them, so an identity-resolution failure or a Start()
// failure here never produces a Process at all — both branches instead
// call recordFailure directly, the same ERROR_MAX/ERROR_PERIOD
// accounting reap uses for a child that started and later exited
// badly, so a bad username/groupname or an unexecutable command counts
// toward BROKEN exactly like a repeatedly-crashing child would.
func (e *Engine) Spawn(g *catalog.Group, instance int) bool {
	if len(g.Command) == 0 {
		e.Log.WithField("group", g.Name).Error("spawn: empty command")
		return false
	}

	cmd := exec.Command(g.Command[0], g.Command[1:]...)
	if g.Dir != nil {
		cmd.Dir = *g.Dir
	}

	stdout, stdoutErr := openInstanceLog(g.StdoutPath, instance)
	stderr, stderrErr := openInstanceLog(g.StderrPath, instance)
	if stdoutErr == nil {
		cmd.Stdout = stdout
	}
	if stderrErr == nil {
		cmd.Stderr = stderr
	} else if stdoutErr == nil {
		// diagnostics fall back to stdout's log if stderr is unset/unopenable
		cmd.Stderr = stdout
	}

	attr := &syscall.SysProcAttr{Setsid: true}
	if hasUID, hasGID, uid, gid, err := resolveCredential(g); err != nil {
		e.diagnose(g, instance, stderr, stdout, "identity", err)
		closeIfOpen(stdout)
		closeIfOpen(stderr)
		e.recordFailure(g, instance)
		return false
	} else if hasUID || hasGID {
		attr.Credential = identity.Credential(uid, gid, hasUID, hasGID)
	}
	cmd.SysProcAttr = attr

	if err := cmd.Start(); err != nil {
		e.diagnose(g, instance, stderr, stdout, "exec", err)
		closeIfOpen(stdout)
		closeIfOpen(stderr)
		e.recordFailure(g, instance)
		return false
	}

	now := time.Now()
	p := &catalog.Process{
		PID:       cmd.Process.Pid,
		StartedAt: now,
		Instance:  instance,
		Age:       g.Age,
		Group:     g,
	}
	e.Cat.TrackProcess(p)
	g.Childs[instance] = p
	e.scheduleHeartbeat(p)

	e.Log.WithFields(logFields(g, p)).Info("process_start")

	go func() {
		waitErr := cmd.Wait()
		closeIfOpen(stdout)
		closeIfOpen(stderr)
		e.post(func() { e.reap(p, waitErr) })
	}()

	return true
}

func resolveCredential(g *catalog.Group) (hasUID, hasGID bool, uid, gid int, err error) {
	if g.GID != nil {
		gid = *g.GID
		hasGID = true
	} else if g.Groupname != nil {
		gid, err = identity.ResolveGroup(*g.Groupname)
		if err != nil {
			return
		}
		hasGID = true
	}
	if g.UID != nil {
		uid = *g.UID
		hasUID = true
	} else if g.Username != nil {
		uid, err = identity.ResolveUser(*g.Username)
		if err != nil {
			return
		}
		hasUID = true
	}
	return
}

func openInstanceLog(path *string, instance int) (*os.File, error) {
	if path == nil {
		return nil, fmt.Errorf("no log path configured")
	}
	resolved := substituteNum(*path, instance)
	return os.OpenFile(resolved, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
}

func closeIfOpen(f *os.File) {
	if f != nil {
		f.Close()
	}
}

// diagnose writes a one-line diagnostic to the stderr log, or the
// stdout log if stderr is unset or unopenable, matching the source's
// fallback for child-setup failures discovered after stdio has
// already been redirected.
func (e *Engine) diagnose(g *catalog.Group, instance int, stderr, stdout *os.File, stage string, cause error) {
	line := fmt.Sprintf("%s ubervisor: spawn failed for %q: %s: %s\n",
		time.Now().Format("Jan 02 15:04:05"), g.Name, stage, cause)

	target := stderr
	if target == nil {
		target = stdout
	}
	if target != nil {
		_, _ = target.WriteString(line)
		_ = target.Sync()
	}
	e.Log.WithFields(logrusFields(g, instance)).WithError(cause).Error("spawn failed: " + stage)
}
