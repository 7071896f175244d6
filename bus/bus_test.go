// bus/bus_test.go
package bus

import (
	"context"
	"testing"
	"time"
)

// TestToolEventBroadcast exercises the actual domain shape: a tool.on
// publication must reach every subscriber on that topic (gatectrl's LED/relay
// path and collector's aggregator both subscribe to the same "saw.on").
func TestToolEventBroadcast(t *testing.T) {
	b := NewBus(4)
	pub := b.NewConnection("adcwatch")
	gateConn := b.NewConnection("gate.saw")
	collectorConn := b.NewConnection("collector")

	gateSub := gateConn.Subscribe(T("saw", "on"))
	collSub := collectorConn.Subscribe(T("saw", "on"))

	pub.Publish(pub.NewMessage(T("saw", "on"), 1.23, false))

	expectOneOf(t, gateSub, 1.23)
	expectOneOf(t, collSub, 1.23)
}

// TestAqmStatusRetained mirrors the "aqm.status" retained contract the
// display consumes: a late subscriber must see the last published status
// without the reader re-publishing.
func TestAqmStatusRetained(t *testing.T) {
	b := NewBus(2)
	reader := b.NewConnection("aqmreader")

	reader.Publish(reader.NewMessage(T("aqm", "status"), "bad", true))

	display := b.NewConnection("display")
	sub := display.Subscribe(T("aqm", "status"))

	expectOneOf(t, sub, "bad")
}

// TestAqmBadTransitionReachesPolicyOnly confirms topic isolation: aqmpolicy
// subscribes to "aqm.bad"/"aqm.good" and must not see unrelated tool events
// published on the same bus.
func TestAqmBadTransitionReachesPolicyOnly(t *testing.T) {
	b := NewBus(4)
	pub := b.NewConnection("aqmreader")
	toolPub := b.NewConnection("adcwatch")
	policy := b.NewConnection("aqmpolicy")

	badSub := policy.Subscribe(T("aqm", "bad"))

	toolPub.Publish(toolPub.NewMessage(T("saw", "on"), 1.0, false))
	expectNoMessage(t, badSub)

	pub.Publish(pub.NewMessage(T("aqm", "bad"), 42.5, false))
	expectOneOf(t, badSub, 42.5)
}

// TestQueueFullDropsNewestNotOldest is the behavior spec.md §4.4 requires:
// when a subscriber's queue is full, the *new* event is dropped and the
// already-queued messages are left untouched — not the reverse.
func TestQueueFullDropsNewestNotOldest(t *testing.T) {
	b := NewBus(2)
	pub := b.NewConnection("collector")
	conn := b.NewConnection("gate.lathe")
	sub := conn.Subscribe(T("lathe", "on"))

	pub.Publish(pub.NewMessage(T("lathe", "on"), "first", false))
	pub.Publish(pub.NewMessage(T("lathe", "on"), "second", false))
	pub.Publish(pub.NewMessage(T("lathe", "on"), "third", false)) // queue full, should be dropped

	got := drainPayloads(t, sub, 2)
	if got[0] != "first" || got[1] != "second" {
		t.Fatalf("expected the two oldest messages to survive, got %v", got)
	}
	expectNoMessage(t, sub)
}

// -----------------------------------------------------------------------------
// Request–Reply: part of the bus API, kept covered here even though no dust
// collector component currently uses request/reply.
// -----------------------------------------------------------------------------

func TestRequestReply_RequestWait(t *testing.T) {
	b := NewBus(8)
	reqConn := b.NewConnection("requester")
	respConn := b.NewConnection("responder")

	reqTopic := T("gate", "saw", "status", "get")
	respSub := respConn.Subscribe(reqTopic)
	defer respConn.Unsubscribe(respSub)

	go func() {
		if msg, ok := <-respSub.Channel(); ok {
			respConn.Reply(msg, "closed", false)
		}
	}()

	req := b.NewMessage(reqTopic, nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	reply, err := reqConn.RequestWait(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error waiting for reply: %v", err)
	}
	if got, ok := reply.Payload.(string); !ok || got != "closed" {
		t.Fatalf("unexpected reply payload: %#v", reply.Payload)
	}
	if !req.CanReply() {
		t.Fatal("request lacks ReplyTo after RequestWait")
	}
}

func TestRequestReply_Timeout(t *testing.T) {
	b := NewBus(8)
	reqConn := b.NewConnection("requester")

	req := b.NewMessage(T("gate", "saw", "status", "get"), nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := reqConn.RequestWait(ctx, req)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(4)
	pub := b.NewConnection("aqmreader")
	conn := b.NewConnection("aqmpolicy")
	sub := conn.Subscribe(T("aqm", "bad"))

	conn.Unsubscribe(sub)
	pub.Publish(pub.NewMessage(T("aqm", "bad"), 50.0, false))

	if _, ok := <-sub.Channel(); ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
}

func TestTopic_InvalidTokenPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for non-comparable token, got none")
		}
	}()

	// []byte is not comparable, so T should panic
	_ = T([]byte{1, 2, 3})
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func expectOneOf(t *testing.T, sub *Subscription, want any) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		if got.Payload != want {
			t.Fatalf("unexpected payload: %v (want %v)", got.Payload, want)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for %v", want)
	}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message: %#v", got)
	case <-time.After(60 * time.Millisecond):
	}
}

func drainPayloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(300 * time.Millisecond)
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if s, ok := m.Payload.(string); ok {
				out = append(out, s)
			} else {
				t.Fatalf("non-string payload in drain: %#v", m.Payload)
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(out) != n {
		t.Fatalf("drainPayloads: expected %d messages, got %d (%v)", n, len(out), out)
	}
	return out
}
