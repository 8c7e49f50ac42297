package rpcserver

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kil/ubervisor/internal/catalog"
)

// dispatch maps the four-byte command mnemonic to its handler. Every
// handler returns whether the connection should stay open.
var dispatch = map[string]func(c *Connection, cid uint16, body []byte) bool{
	"HELO": handleHELO,
	"LIST": handleLIST,
	"SPWN": handleSPWN,
	"UPDT": handleUPDT,
	"KILL": handleKILL,
	"DELE": handleDELE,
	"GETC": handleGETC,
	"PIDS": handlePIDS,
	"READ": handleREAD,
	"SUBS": handleSUBS,
	"DUMP": handleDUMP,
	"EXIT": handleEXIT,
}

// HELO replies with the unframed literal bytes "HELO" rather than a
// chunked JSON payload — the source's two liveness-probe revisions
// disagreed on this, and original_source/server.c's direct
// bufferevent_write("HELO", 4) settles it. See SPEC_FULL.md §3.
func handleHELO(c *Connection, cid uint16, body []byte) bool {
	c.mu.Lock()
	_ = c.wc.WriteRaw([]byte("HELO"))
	c.mu.Unlock()
	return true
}

func handleLIST(c *Connection, cid uint16, body []byte) bool {
	var names []string
	c.server.Engine.Exec(func() {
		names = c.server.Engine.Cat.Names()
	})
	c.replyJSON(cid, names)
	return true
}

func handleSPWN(c *Connection, cid uint16, body []byte) bool {
	var g catalog.Group
	if err := json.Unmarshal(body, &g); err != nil {
		c.replyFail(cid, "failure")
		return true
	}
	if g.Name == "" || len(g.Command) == 0 {
		c.replyFail(cid, "name and command are required")
		return true
	}
	if g.Instances <= 0 {
		g.Instances = 1
	}
	if g.Instances > catalog.MaxInstances {
		c.replyFail(cid, "invalid instances")
		return true
	}
	if g.Status == 0 {
		g.Status = catalog.StatusRunning
	}
	if g.KillSig == 0 {
		g.KillSig = catalog.DefaultKillSig
	}

	var dup bool
	c.server.Engine.Exec(func() {
		if _, ok := c.server.Engine.Cat.Get(g.Name); ok {
			dup = true
			return
		}
		_ = c.server.Engine.CreateGroup(&g)
	})
	if dup {
		c.replyFail(cid, "group already exists")
		return true
	}

	if c.server.AutoDump {
		c.replyAfterDump(cid)
	} else {
		c.replyOK(cid, "success")
	}
	return true
}

func handleUPDT(c *Connection, cid uint16, body []byte) bool {
	var patch catalog.Group
	if err := json.Unmarshal(body, &patch); err != nil {
		c.replyFail(cid, "failure")
		return true
	}
	fields, err := catalog.RawFields(body)
	if err != nil || patch.Name == "" {
		c.replyFail(cid, "failure")
		return true
	}
	if _, ok := fields["uid"]; ok {
		c.replyFail(cid, "uid is immutable")
		return true
	}
	if _, ok := fields["gid"]; ok {
		c.replyFail(cid, "gid is immutable")
		return true
	}
	if _, ok := fields["command"]; ok {
		c.replyFail(cid, "command is immutable")
		return true
	}
	if _, ok := fields["instances"]; ok {
		if patch.Instances < 1 || patch.Instances > catalog.MaxInstances {
			c.replyFail(cid, "invalid instances")
			return true
		}
	}

	var unknown bool
	c.server.Engine.Exec(func() {
		g, ok := c.server.Engine.Cat.Get(patch.Name)
		if !ok {
			unknown = true
			return
		}
		_ = c.server.Engine.UpdateGroup(g, &patch, fields)
	})
	if unknown {
		c.replyFail(cid, "unknown group")
		return true
	}
	c.replyOK(cid, "success")
	return true
}

type killRequest struct {
	Name  string `json:"name"`
	Sig   *int   `json:"sig"`
	Index *int   `json:"index"`
}

func handleKILL(c *Connection, cid uint16, body []byte) bool {
	var req killRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Name == "" {
		c.replyFail(cid, "failure")
		return true
	}

	var pids []int
	var unknown bool
	c.server.Engine.Exec(func() {
		g, ok := c.server.Engine.Cat.Get(req.Name)
		if !ok {
			unknown = true
			return
		}
		sig := g.KillSig
		if req.Sig != nil {
			sig = *req.Sig
		}
		pids = c.server.Engine.KillGroup(g, sig, req.Index)
	})
	if unknown {
		c.replyFail(cid, "unknown group")
		return true
	}
	c.replyJSON(cid, struct {
		Code bool  `json:"code"`
		Pids []int `json:"pids"`
	}{true, pids})
	return true
}

type nameRequest struct {
	Name string `json:"name"`
}

func handleDELE(c *Connection, cid uint16, body []byte) bool {
	var req nameRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Name == "" {
		c.replyFail(cid, "failure")
		return true
	}
	var pids []int
	var ok bool
	c.server.Engine.Exec(func() {
		pids, ok = c.server.Engine.DeleteGroup(req.Name)
	})
	if !ok {
		c.replyFail(cid, "unknown group")
		return true
	}
	c.replyJSON(cid, struct {
		Code bool  `json:"code"`
		Pids []int `json:"pids"`
	}{true, pids})
	return true
}

func handleGETC(c *Connection, cid uint16, body []byte) bool {
	var req nameRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Name == "" {
		c.replyFail(cid, "failure")
		return true
	}
	var g *catalog.Group
	c.server.Engine.Exec(func() {
		g, _ = c.server.Engine.Cat.Get(req.Name)
	})
	if g == nil {
		c.replyFail(cid, "unknown group")
		return true
	}
	c.replyJSON(cid, g)
	return true
}

func handlePIDS(c *Connection, cid uint16, body []byte) bool {
	var req nameRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Name == "" {
		c.replyFail(cid, "failure")
		return true
	}
	var pids []int
	var ok bool
	c.server.Engine.Exec(func() {
		g, found := c.server.Engine.Cat.Get(req.Name)
		if !found {
			return
		}
		ok = true
		pids = g.LivePIDs()
	})
	if !ok {
		c.replyFail(cid, "unknown group")
		return true
	}
	c.replyJSON(cid, struct {
		Code bool  `json:"code"`
		Pids []int `json:"pids"`
	}{true, pids})
	return true
}

// maxReadBytes mirrors original_source/server.c's 16384-byte read
// buffer (NUL-terminated after the read, for 16383 usable bytes) — see
// SPEC_FULL.md §3. Preserved rather than "fixed" per the spec's own
// instruction on this known ambiguity.
const maxReadBytes = 16383

type readRequest struct {
	Name     string  `json:"name"`
	Stream   int     `json:"stream"` // 1=stdout, 2=stderr
	Instance int     `json:"instance"`
	Offset   float64 `json:"offset"`
	Bytes    int     `json:"bytes"`
}

func handleREAD(c *Connection, cid uint16, body []byte) bool {
	var req readRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Name == "" {
		c.replyFail(cid, "failure")
		return true
	}
	if req.Stream != 1 && req.Stream != 2 {
		c.replyFail(cid, "invalid stream")
		return true
	}
	bytes := req.Bytes
	if bytes <= 0 || bytes > maxReadBytes {
		bytes = maxReadBytes
	}

	var path *string
	c.server.Engine.Exec(func() {
		g, ok := c.server.Engine.Cat.Get(req.Name)
		if !ok {
			return
		}
		if req.Stream == 1 {
			path = g.StdoutPath
		} else {
			path = g.StderrPath
		}
	})
	if path == nil {
		c.replyFail(cid, "no log configured")
		return true
	}

	resolved := strings.Replace(*path, "%(NUM)", fmt.Sprint(req.Instance), 1)
	f, err := os.Open(resolved)
	if err != nil {
		c.replyFail(cid, "cannot open log")
		return true
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		c.replyFail(cid, "cannot stat log")
		return true
	}
	fsize := info.Size()

	var offset int64
	if req.Offset < 0 {
		offset = fsize - int64(bytes)
		if offset < 0 {
			offset = 0
		}
	} else {
		offset = int64(req.Offset)
	}

	buf := make([]byte, bytes)
	n, _ := f.ReadAt(buf, offset)
	if n < 0 {
		n = 0
	}

	c.replyJSON(cid, struct {
		Code   bool    `json:"code"`
		Log    string  `json:"log"`
		Offset float64 `json:"offset"`
		Fsize  float64 `json:"fsize"`
	}{true, string(buf[:n]), float64(offset), float64(fsize)})
	return true
}

type subsRequest struct {
	Ident uint32 `json:"ident"`
}

func handleSUBS(c *Connection, cid uint16, body []byte) bool {
	var req subsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.replyFail(cid, "failure")
		return true
	}
	c.server.Bus.Subscribe(c, cid, req.Ident)
	c.replyOK(cid, "success")
	return true
}

func handleDUMP(c *Connection, cid uint16, body []byte) bool {
	c.replyAfterDump(cid)
	return true
}

// replyAfterDump writes the dump file and replies with the DUMP
// command's own success message, reused by SPWN when autodump is on
// (whose contract allows either a plain success reply or the full
// dump, depending on server configuration).
func (c *Connection) replyAfterDump(cid uint16) {
	var groups []*catalog.Group
	c.server.Engine.Exec(func() {
		groups = c.server.Engine.Cat.Groups()
	})
	if _, err := c.server.Dumper.Dump(groups); err != nil {
		c.server.Log.WithError(err).Error("dump failed")
		c.replyFail(cid, "dump failed")
		return
	}
	c.replyOK(cid, "dump successful.")
}

func handleEXIT(c *Connection, cid uint16, body []byte) bool {
	if !c.server.AllowExit {
		c.replyFail(cid, "exit disallowed")
		return true
	}
	if c.server.AutoDump {
		var groups []*catalog.Group
		c.server.Engine.Exec(func() {
			groups = c.server.Engine.Cat.Groups()
		})
		_, _ = c.server.Dumper.Dump(groups)
	}
	c.replyOK(cid, "success")
	if c.server.onExit != nil {
		go c.server.onExit()
	}
	return false
}
