// Package notify implements the subscription bus: clients SUBS to a
// bitmask of channels and receive every matching event framed on the
// cid they subscribed with.
package notify

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kil/ubervisor/internal/wire"
)

// Channel bits, matching the wire protocol's SUBS ident field.
const (
	ChannelServerLog uint32 = 1
	ChannelStatus    uint32 = 2
	ChannelGroupCfg  uint32 = 4
)

// Sender is the minimal interface a connection must offer to receive
// notifications; internal/rpcserver's connection type implements it
// over an internal/wire.Conn.
type Sender interface {
	SendNotification(cid uint16, payload []byte) error
}

// Subscription binds a connection to a channel bitmask under the cid
// of the SUBS request that created it.
type Subscription struct {
	Conn    Sender
	Channel uint16 // the subscribing request's cid, reused on every event
	Ident   uint32
}

// Bus owns the live subscription set. Unlike Catalog, it is reachable
// from more than the engine loop: each connection goroutine calls
// Subscribe/Unsubscribe directly, and the logrus hook fires Publish
// from whichever goroutine logs. mu guards subs against that.
type Bus struct {
	mu   sync.Mutex
	subs []*Subscription
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscription, replacing any existing one
// for the same connection (a client resubscribing changes its mask).
func (b *Bus) Subscribe(conn Sender, cid uint16, ident uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.Conn == conn {
			s.Channel = cid
			s.Ident = ident
			return
		}
	}
	b.subs = append(b.subs, &Subscription{Conn: conn, Channel: cid, Ident: ident})
}

// Unsubscribe drops every subscription belonging to conn; called when
// the connection disconnects.
func (b *Bus) Unsubscribe(conn Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.subs[:0]
	for _, s := range b.subs {
		if s.Conn != conn {
			out = append(out, s)
		}
	}
	b.subs = out
}

// Publish delivers payload to every subscription whose Ident includes
// channel. Every notification must fit a single chunk: a payload larger
// than wire.ChunkSize is dropped and delivered to no one.
func (b *Bus) Publish(channel uint32, payload []byte) {
	if len(payload) > wire.ChunkSize {
		return
	}
	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.Ident&channel != 0 {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		_ = s.Conn.SendNotification(s.Channel, payload)
	}
}

// PublishStatus emits a STATUS notification for a group's name and
// status, covering both the CREATE/real-status pair SPWN sends and the
// single STATUS event UPDT sends on a transition.
func (b *Bus) PublishStatus(name string, status int) {
	payload, _ := json.Marshal(struct {
		Name   string `json:"name"`
		Status int    `json:"status"`
	}{name, status})
	b.Publish(ChannelStatus, payload)
}

// LogHook adapts the Bus into a logrus.Hook: every emitted log entry is
// also forwarded to SERVER_LOG subscribers as {"msg": "..."}, which is
// exactly the "every slog line also goes to SERVER_LOG" contract.
type LogHook struct {
	Bus *Bus
}

func (h *LogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *LogHook) Fire(entry *logrus.Entry) error {
	payload, err := json.Marshal(struct {
		Msg string `json:"msg"`
	}{entry.Message})
	if err != nil {
		return err
	}
	h.Bus.Publish(ChannelServerLog, payload)
	return nil
}
