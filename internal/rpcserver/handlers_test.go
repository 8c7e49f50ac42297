package rpcserver

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kil/ubervisor/internal/catalog"
	"github.com/kil/ubervisor/internal/notify"
	"github.com/kil/ubervisor/internal/persist"
	"github.com/kil/ubervisor/internal/supervisor"
	"github.com/kil/ubervisor/internal/wire"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// testServer wires a Server against an in-memory net.Pipe connection and
// returns the client-side wire.Conn plus a cancel func to stop the
// engine loop.
func testServer(t *testing.T) (*wire.Conn, *Server, func()) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(discardWriter{})

	cat := catalog.New()
	bus := notify.NewBus()
	engine := supervisor.New(cat, bus, log)

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)

	dumper := persist.NewWriter(t.TempDir())
	srv := New(engine, bus, log, dumper, nil)
	srv.AllowExit = true

	clientConn, serverConn := net.Pipe()
	go srv.handle(serverConn)

	return wire.NewConn(clientConn), srv, func() {
		cancel()
		clientConn.Close()
	}
}

func roundTrip(t *testing.T, c *wire.Conn, cid uint16, payload string) []byte {
	t.Helper()
	if err := c.WriteFrame(cid, []byte(payload)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	gotCid, got, err := c.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if gotCid != cid {
		t.Errorf("cid = %d, want %d", gotCid, cid)
	}
	return got
}

func TestSpawnThenGetcRoundTrips(t *testing.T) {
	c, _, stop := testServer(t)
	defer stop()

	spwn := `SPWN{"name":"web","command":["/bin/sleep","60"],"instances":1,"status":1,"killsig":15}`
	reply := roundTrip(t, c, 1, spwn)
	var simple simpleReply
	if err := json.Unmarshal(reply, &simple); err != nil {
		t.Fatalf("unmarshal SPWN reply: %v", err)
	}
	if !simple.Code {
		t.Fatalf("SPWN failed: %s", simple.Msg)
	}

	getc := roundTrip(t, c, 2, `GETC{"name":"web"}`)
	var g catalog.Group
	if err := json.Unmarshal(getc, &g); err != nil {
		t.Fatalf("unmarshal GETC reply: %v", err)
	}
	if g.Name != "web" || g.Instances != 1 {
		t.Errorf("GETC returned %+v", g)
	}
}

func TestSpawnRejectsDuplicateName(t *testing.T) {
	c, _, stop := testServer(t)
	defer stop()

	spwn := `SPWN{"name":"web","command":["/bin/sleep","60"],"instances":1,"status":1,"killsig":15}`
	roundTrip(t, c, 1, spwn)

	reply := roundTrip(t, c, 2, spwn)
	var simple simpleReply
	if err := json.Unmarshal(reply, &simple); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if simple.Code {
		t.Fatalf("expected duplicate SPWN to fail")
	}
}

func TestSpawnRejectsMissingCommand(t *testing.T) {
	c, _, stop := testServer(t)
	defer stop()

	reply := roundTrip(t, c, 1, `SPWN{"name":"web"}`)
	var simple simpleReply
	if err := json.Unmarshal(reply, &simple); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if simple.Code {
		t.Fatalf("expected SPWN without command to fail")
	}
}

func TestUpdtRejectsUidChange(t *testing.T) {
	c, _, stop := testServer(t)
	defer stop()

	roundTrip(t, c, 1, `SPWN{"name":"web","command":["/bin/sleep","60"],"instances":1,"status":1,"killsig":15}`)

	reply := roundTrip(t, c, 2, `UPDT{"name":"web","uid":500}`)
	var simple simpleReply
	if err := json.Unmarshal(reply, &simple); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if simple.Code {
		t.Fatalf("expected UPDT changing uid to be rejected")
	}
}

func TestDeleUnknownGroupFails(t *testing.T) {
	c, _, stop := testServer(t)
	defer stop()

	reply := roundTrip(t, c, 1, `DELE{"name":"ghost"}`)
	var simple simpleReply
	if err := json.Unmarshal(reply, &simple); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if simple.Code {
		t.Fatalf("expected DELE of unknown group to fail")
	}
}

func TestListReflectsSpawnedGroups(t *testing.T) {
	c, _, stop := testServer(t)
	defer stop()

	roundTrip(t, c, 1, `SPWN{"name":"web","command":["/bin/sleep","60"],"instances":1,"status":1,"killsig":15}`)

	reply := roundTrip(t, c, 2, `LIST`)
	var names []string
	if err := json.Unmarshal(reply, &names); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(names) != 1 || names[0] != "web" {
		t.Errorf("LIST = %v, want [web]", names)
	}
}

func TestSubsThenStatusNotificationArrivesOnSameCid(t *testing.T) {
	c, _, stop := testServer(t)
	defer stop()

	roundTrip(t, c, 3, `SUBS{"ident":2}`)

	if err := c.WriteFrame(1, []byte(`SPWN{"name":"web","command":["/bin/sleep","60"],"instances":1,"status":1,"killsig":15}`)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	deadline := time.After(2 * time.Second)
	sawStatus := false
	for !sawStatus {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for a cid=3 status notification")
		default:
		}
		cid, _, err := c.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if cid == 3 {
			sawStatus = true
		}
	}
}

func TestHeloRepliesUnframed(t *testing.T) {
	c, _, stop := testServer(t)
	defer stop()

	if err := c.WriteFrame(1, []byte(`HELO`)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := c.ReadRaw(buf); err != nil {
		t.Fatalf("reading unframed HELO reply: %v", err)
	}
	if string(buf) != "HELO" {
		t.Errorf("got %q, want HELO", buf)
	}
}
