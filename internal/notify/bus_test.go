package notify

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

type recordingSender struct {
	cid      uint16
	payloads [][]byte
}

func (r *recordingSender) SendNotification(cid uint16, payload []byte) error {
	r.cid = cid
	r.payloads = append(r.payloads, payload)
	return nil
}

func TestPublishOnlyReachesMatchingChannel(t *testing.T) {
	b := NewBus()
	statusSub := &recordingSender{}
	logSub := &recordingSender{}
	b.Subscribe(statusSub, 1, ChannelStatus)
	b.Subscribe(logSub, 2, ChannelServerLog)

	b.PublishStatus("web", 1)

	if len(statusSub.payloads) != 1 {
		t.Fatalf("expected status subscriber to receive 1 event, got %d", len(statusSub.payloads))
	}
	if len(logSub.payloads) != 0 {
		t.Fatalf("expected log subscriber to receive nothing, got %d", len(logSub.payloads))
	}
	if statusSub.cid != 1 {
		t.Errorf("expected delivery on subscribed cid 1, got %d", statusSub.cid)
	}
}

func TestSubscribeReplacesExistingSubscriptionForSameConn(t *testing.T) {
	b := NewBus()
	sub := &recordingSender{}
	b.Subscribe(sub, 1, ChannelStatus)
	b.Subscribe(sub, 9, ChannelServerLog)

	if len(b.subs) != 1 {
		t.Fatalf("expected resubscribe to replace, got %d subscriptions", len(b.subs))
	}
	if b.subs[0].Channel != 9 || b.subs[0].Ident != ChannelServerLog {
		t.Errorf("expected updated cid/ident, got %+v", b.subs[0])
	}
}

func TestUnsubscribeRemovesOnlyThatConn(t *testing.T) {
	b := NewBus()
	a := &recordingSender{}
	c := &recordingSender{}
	b.Subscribe(a, 1, ChannelStatus)
	b.Subscribe(c, 2, ChannelStatus)

	b.Unsubscribe(a)

	if len(b.subs) != 1 || b.subs[0].Conn != c {
		t.Fatalf("expected only c's subscription to remain, got %+v", b.subs)
	}
}

func TestMultiChannelIdentMatchesEitherBit(t *testing.T) {
	b := NewBus()
	sub := &recordingSender{}
	b.Subscribe(sub, 1, ChannelStatus|ChannelGroupCfg)

	b.Publish(ChannelGroupCfg, []byte(`{}`))

	if len(sub.payloads) != 1 {
		t.Fatalf("expected subscriber with combined mask to receive GROUP_CFG event")
	}
}

func TestLogHookFirePublishesMessageToServerLogChannel(t *testing.T) {
	b := NewBus()
	sub := &recordingSender{}
	b.Subscribe(sub, 5, ChannelServerLog)

	hook := &LogHook{Bus: b}
	entry := &logrus.Entry{Message: "spawned group web"}
	if err := hook.Fire(entry); err != nil {
		t.Fatalf("Fire: %v", err)
	}

	if len(sub.payloads) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sub.payloads))
	}
	var got struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(sub.payloads[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Msg != "spawned group web" {
		t.Errorf("Msg = %q, want %q", got.Msg, "spawned group web")
	}
}
