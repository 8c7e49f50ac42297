// ops.go holds the catalog-mutating operations the RPC command
// handlers drive through Engine.Exec: create, update, delete, kill.
// Validation of request shape belongs to rpcserver; by the time code
// here runs, the request has already been confirmed well-formed.
package supervisor

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/kil/ubervisor/internal/catalog"
)

// CreateGroup inserts g into the catalog, emits the CREATE+status
// notification pair, and starts its children if it's RUNNING.
func (e *Engine) CreateGroup(g *catalog.Group) error {
	if g.Instances <= 0 {
		g.Instances = 1
	}
	g.Childs = make([]*catalog.Process, g.Instances)
	if g.KillSig == 0 {
		g.KillSig = catalog.DefaultKillSig
	}
	if err := e.Cat.Add(g); err != nil {
		return err
	}

	e.Bus.PublishStatus(g.Name, int(catalog.StatusCreate))
	e.Bus.PublishStatus(g.Name, int(g.Status))

	if g.Status == catalog.StatusRunning {
		for i := 0; i < g.Instances; i++ {
			e.Spawn(g, i)
		}
	}
	return nil
}

// DeleteGroup removes name from the catalog and returns the pids of
// children that were still alive at the moment of deletion; those
// children keep running as orphans (back-reference already cleared by
// catalog.Remove) but will no longer be respawned or reaped into a
// restart decision.
func (e *Engine) DeleteGroup(name string) ([]int, bool) {
	g, ok := e.Cat.Remove(name)
	if !ok {
		return nil, false
	}
	pids := g.LivePIDs()
	e.Bus.PublishStatus(name, int(catalog.StatusDelete))
	return pids, true
}

// KillGroup signals sig to either every live child of g, or only the
// one at index if given, and returns the pids signalled.
func (e *Engine) KillGroup(g *catalog.Group, sig int, index *int) []int {
	var pids []int
	signal := func(p *catalog.Process) {
		if p == nil {
			return
		}
		if err := unix.Kill(p.PID, unix.Signal(sig)); err == nil {
			pids = append(pids, p.PID)
		}
	}
	if index != nil {
		if *index >= 0 && *index < len(g.Childs) {
			signal(g.Childs[*index])
		}
		return pids
	}
	for _, p := range g.Childs {
		signal(p)
	}
	return pids
}

// optStr renders a possibly-nil string field for the old->new update log,
// the same way GETC/DUMP would show it absent on the wire.
func optStr(s *string) string {
	if s == nil {
		return "<unset>"
	}
	return *s
}

// logFieldChange records the old->new transition for one UPDT field,
// matching §4.4's "For each provided field, replace on the existing
// group (logging old->new)" contract. It always logs; UpdateGroup only
// calls it when the value actually changes.
func (e *Engine) logFieldChange(name, field string, old, next interface{}) {
	e.Log.WithFields(logrus.Fields{
		"group": name,
		"field": field,
		"old":   old,
		"new":   next,
	}).Info("group field updated")
}

// UpdateGroup applies a partial update to g. fields is the set of JSON
// keys actually present in the request so zero values can be
// distinguished from "not provided". It performs whatever
// resize/respawn/status-transition the change implies. It does no
// validation of its own (forbidden fields and the instances range are
// checked by rpcserver before it is called) and always returns nil.
func (e *Engine) UpdateGroup(g *catalog.Group, patch *catalog.Group, fields map[string]struct{}) error {
	applyString := func(key string, cur **string, next *string) {
		if _, ok := fields[key]; !ok {
			return
		}
		if optStr(*cur) != optStr(next) {
			e.logFieldChange(g.Name, key, optStr(*cur), optStr(next))
		}
		*cur = next
	}
	applyString("dir", &g.Dir, patch.Dir)
	applyString("stdout_path", &g.StdoutPath, patch.StdoutPath)
	applyString("stderr_path", &g.StderrPath, patch.StderrPath)
	applyString("heartbeat_cmd", &g.HeartbeatCmd, patch.HeartbeatCmd)
	applyString("fatal_cmd", &g.FatalCmd, patch.FatalCmd)
	applyString("username", &g.Username, patch.Username)
	applyString("groupname", &g.Groupname, patch.Groupname)

	if _, ok := fields["killsig"]; ok {
		if g.KillSig != patch.KillSig {
			e.logFieldChange(g.Name, "killsig", g.KillSig, patch.KillSig)
		}
		g.KillSig = patch.KillSig
	}
	if _, ok := fields["age"]; ok {
		if g.Age != patch.Age {
			e.logFieldChange(g.Name, "age", g.Age, patch.Age)
		}
		g.Age = patch.Age
	}

	wasStatus := g.Status
	if _, ok := fields["status"]; ok {
		if g.Status != patch.Status {
			e.logFieldChange(g.Name, "status", int(wasStatus), int(patch.Status))
		}
		g.Status = patch.Status
	}

	if _, ok := fields["instances"]; ok {
		newCount := patch.Instances
		oldCount := g.Instances
		if newCount != oldCount {
			e.logFieldChange(g.Name, "instances", oldCount, newCount)
		}
		g.Resize(newCount)
		if newCount > oldCount && g.Status == catalog.StatusRunning {
			for i := oldCount; i < newCount; i++ {
				e.Spawn(g, i)
			}
		}
	}

	transitioned := wasStatus != catalog.StatusRunning && g.Status == catalog.StatusRunning
	if transitioned {
		g.ErrorCount = 0
		for i, p := range g.Childs {
			if p == nil {
				e.Spawn(g, i)
			}
		}
	}
	_, statusProvided := fields["status"]
	if transitioned || (statusProvided && wasStatus != g.Status) {
		e.Bus.PublishStatus(g.Name, int(g.Status))
	}

	return nil
}
