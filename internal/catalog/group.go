// Package catalog holds the in-memory table of named process groups and
// the live children that belong to them.
package catalog

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxInstances bounds how many children a single group may request.
const MaxInstances = 1024

// DefaultKillSig is applied to a group that does not specify one.
const DefaultKillSig = 15 // SIGTERM

// Status is the lifecycle state of a Group.
type Status int

const (
	StatusRunning Status = 1
	StatusStopped Status = 2
	StatusBroken  Status = 3
	// StatusCreate and StatusDelete never sit on a Group; they are
	// pseudo-statuses used only in STATUS notifications.
	StatusCreate Status = 4
	StatusDelete Status = 5
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusStopped:
		return "STOPPED"
	case StatusBroken:
		return "BROKEN"
	case StatusCreate:
		return "CREATE"
	case StatusDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Group is the server's in-memory view of what the wire protocol calls a
// ChildConfig: a named spawn specification plus the slots currently
// occupied by live children.
//
// Name and Command are immutable after creation. UID/GID/Command may
// never be changed by UPDT (see rpcserver's validation of that command).
type Group struct {
	Name    string   `json:"name"`
	Command []string `json:"command"`

	Dir          *string `json:"dir,omitempty"`
	StdoutPath   *string `json:"stdout_path,omitempty"`
	StderrPath   *string `json:"stderr_path,omitempty"`
	HeartbeatCmd *string `json:"heartbeat_cmd,omitempty"`
	FatalCmd     *string `json:"fatal_cmd,omitempty"`
	Username     *string `json:"username,omitempty"`
	Groupname    *string `json:"groupname,omitempty"`
	UID          *int    `json:"uid,omitempty"`
	GID          *int    `json:"gid,omitempty"`

	Instances int    `json:"instances"`
	Status    Status `json:"status"`
	KillSig   int    `json:"killsig"`
	Age       int    `json:"age"` // seconds; 0 = unlimited

	// Childs[i] is the live Process occupying instance i, or nil.
	Childs []*Process `json:"-"`

	// ErrorCount and ErrTime implement the rolling-window failure counter
	// described in the supervisor engine's restart policy.
	ErrorCount int       `json:"-"`
	ErrTime    time.Time `json:"-"`
}

// groupWire is the JSON-on-the-wire shape: a mix of required fields and
// sentinel-style optional ones. Absent fields decode to nil pointers;
// a literal -1 (the historical sentinel for "leave unset" in partial
// UPDT payloads) is also normalized to nil so legacy clients that still
// send the sentinel behave identically to clients that omit the field.
type groupWire struct {
	Name         string   `json:"name"`
	Command      []string `json:"command,omitempty"`
	Dir          *string  `json:"dir,omitempty"`
	StdoutPath   *string  `json:"stdout_path,omitempty"`
	StderrPath   *string  `json:"stderr_path,omitempty"`
	HeartbeatCmd *string  `json:"heartbeat_cmd,omitempty"`
	FatalCmd     *string  `json:"fatal_cmd,omitempty"`
	Username     *string  `json:"username,omitempty"`
	Groupname    *string  `json:"groupname,omitempty"`
	UID          *int     `json:"uid,omitempty"`
	GID          *int     `json:"gid,omitempty"`
	Instances    *int     `json:"instances,omitempty"`
	Status       *int     `json:"status,omitempty"`
	KillSig      *int     `json:"killsig,omitempty"`
	Age          *int     `json:"age,omitempty"`
}

func normalizeIntSentinel(p *int) *int {
	if p != nil && *p == -1 {
		return nil
	}
	return p
}

// UnmarshalJSON decodes a SPWN/UPDT payload. Unset fields are left as
// nil pointers (or zero value for Instances/Status/Age; an unset
// KillSig becomes DefaultKillSig). Callers that must tell a zero or
// default value from an absent field consult RawFields, as the
// supervisor's UpdateGroup does.
func (g *Group) UnmarshalJSON(data []byte) error {
	var w groupWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	g.Name = w.Name
	g.Command = w.Command
	g.Dir = w.Dir
	g.StdoutPath = w.StdoutPath
	g.StderrPath = w.StderrPath
	g.HeartbeatCmd = w.HeartbeatCmd
	g.FatalCmd = w.FatalCmd
	g.Username = w.Username
	g.Groupname = w.Groupname
	g.UID = normalizeIntSentinel(w.UID)
	g.GID = normalizeIntSentinel(w.GID)
	if n := normalizeIntSentinel(w.Instances); n != nil {
		g.Instances = *n
	}
	if s := normalizeIntSentinel(w.Status); s != nil {
		g.Status = Status(*s)
	}
	if k := normalizeIntSentinel(w.KillSig); k != nil {
		g.KillSig = *k
	} else {
		g.KillSig = DefaultKillSig
	}
	if a := normalizeIntSentinel(w.Age); a != nil {
		g.Age = *a
	}
	return nil
}

// MarshalJSON emits the group's current, fully-resolved state. Every
// mandatory field (instances, status, killsig, age) is always present
// once a group exists in the catalog; only the genuinely optional
// identity/logging fields are subject to omitempty.
func (g *Group) MarshalJSON() ([]byte, error) {
	w := groupWire{
		Name:         g.Name,
		Command:      g.Command,
		Dir:          g.Dir,
		StdoutPath:   g.StdoutPath,
		StderrPath:   g.StderrPath,
		HeartbeatCmd: g.HeartbeatCmd,
		FatalCmd:     g.FatalCmd,
		Username:     g.Username,
		Groupname:    g.Groupname,
		UID:          g.UID,
		GID:          g.GID,
	}
	instances := g.Instances
	status := int(g.Status)
	killsig := g.KillSig
	age := g.Age
	w.Instances = &instances
	w.Status = &status
	w.KillSig = &killsig
	w.Age = &age
	return json.Marshal(w)
}

// RawFields reports which JSON keys were actually present in data, so
// UPDT can distinguish "instances omitted" from "instances: 0".
func RawFields(data []byte) (map[string]struct{}, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out, nil
}
