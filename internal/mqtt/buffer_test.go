package mqtt

import (
	"testing"
)

// drain empties o the way the sender does, oldest first.
func drain(o *outbox) []bufferedMsg {
	var out []bufferedMsg
	for {
		msg, ok := o.peek()
		if !ok {
			return out
		}
		out = append(out, msg)
		o.remove(msg.seq)
	}
}

func TestOutboxEmpty(t *testing.T) {
	o := newOutbox(10)
	if _, ok := o.peek(); ok {
		t.Error("expected nothing to peek in an empty outbox")
	}
	if got := drain(o); got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestOutboxPushAndDrain(t *testing.T) {
	o := newOutbox(10)
	for i := 0; i < 5; i++ {
		o.push(bufferedMsg{topic: "t", payload: []byte{byte(i)}})
	}

	got := drain(o)
	if len(got) != 5 {
		t.Fatalf("expected 5 items, got %d", len(got))
	}
	for i := 0; i < 5; i++ {
		if got[i].payload[0] != byte(i) {
			t.Errorf("item %d: expected payload %d, got %d", i, i, got[i].payload[0])
		}
	}
	if o.len() != 0 {
		t.Errorf("expected len 0 after drain, got %d", o.len())
	}
}

func TestOutboxOverflowKeepsNewest(t *testing.T) {
	const capacity = 5
	o := newOutbox(capacity)

	// 0..7 pushed, 3..7 kept
	for i := 0; i < capacity+3; i++ {
		o.push(bufferedMsg{topic: "t", payload: []byte{byte(i)}})
	}
	if o.droppedCount() != 3 {
		t.Errorf("dropped: got %d, want 3", o.droppedCount())
	}

	got := drain(o)
	if len(got) != capacity {
		t.Fatalf("expected %d items, got %d", capacity, len(got))
	}
	for i := 0; i < capacity; i++ {
		want := byte(i + 3)
		if got[i].payload[0] != want {
			t.Errorf("item %d: expected payload %d, got %d", i, want, got[i].payload[0])
		}
	}
	if o.droppedCount() != 0 {
		t.Errorf("dropped after drain: got %d, want 0", o.droppedCount())
	}
}

func TestOutboxOverflowKeepsRetained(t *testing.T) {
	o := newOutbox(3)
	o.push(bufferedMsg{topic: "door/state", payload: []byte("open"), retained: true})
	for i := 0; i < 10; i++ {
		o.push(bufferedMsg{topic: "door/events", payload: []byte{byte(i)}})
	}

	got := drain(o)
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0].topic != "door/state" || string(got[0].payload) != "open" {
		t.Errorf("retained state was dropped: first item %s %q", got[0].topic, got[0].payload)
	}
	if got[1].payload[0] != 8 || got[2].payload[0] != 9 {
		t.Errorf("expected newest events 8 and 9, got %d and %d", got[1].payload[0], got[2].payload[0])
	}
}

func TestOutboxCoalescesRetainedPerTopic(t *testing.T) {
	o := newOutbox(10)
	o.push(bufferedMsg{topic: "door/state", payload: []byte("open"), retained: true})
	o.push(bufferedMsg{topic: "door/events", payload: []byte("e1")})
	o.push(bufferedMsg{topic: "door/status", payload: []byte("online"), retained: true})
	o.push(bufferedMsg{topic: "door/state", payload: []byte("closed"), retained: true})

	got := drain(o)
	var payloads []string
	for _, m := range got {
		payloads = append(payloads, string(m.payload))
	}
	want := []string{"e1", "online", "closed"}
	if len(payloads) != len(want) {
		t.Fatalf("payloads: got %v, want %v", payloads, want)
	}
	for i := range want {
		if payloads[i] != want[i] {
			t.Errorf("payloads: got %v, want %v", payloads, want)
			break
		}
	}
}

func TestOutboxNonRetainedNotCoalesced(t *testing.T) {
	o := newOutbox(10)
	o.push(bufferedMsg{topic: "door/events", payload: []byte("a")})
	o.push(bufferedMsg{topic: "door/events", payload: []byte("b")})
	if o.len() != 2 {
		t.Errorf("expected len 2, got %d", o.len())
	}
}

func TestOutboxRemoveAfterReplace(t *testing.T) {
	o := newOutbox(10)
	inFlight := o.push(bufferedMsg{topic: "door/state", payload: []byte("open"), retained: true})
	o.push(bufferedMsg{topic: "door/state", payload: []byte("closed"), retained: true})

	// The in-flight "open" was already replaced; removing it must not
	// touch the newer "closed".
	o.remove(inFlight.seq)

	msg, ok := o.peek()
	if !ok {
		t.Fatal("expected the newer retained message to remain")
	}
	if string(msg.payload) != "closed" {
		t.Errorf("payload: got %q, want closed", msg.payload)
	}
}

func TestOutboxPreservesFields(t *testing.T) {
	o := newOutbox(10)
	o.push(bufferedMsg{
		topic:    "/Haus/Garten/state",
		payload:  []byte("open"),
		qos:      1,
		retained: true,
	})

	got := drain(o)
	if len(got) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got))
	}
	if got[0].topic != "/Haus/Garten/state" {
		t.Errorf("topic: got %s", got[0].topic)
	}
	if string(got[0].payload) != "open" {
		t.Errorf("payload: got %s", got[0].payload)
	}
	if got[0].qos != 1 {
		t.Errorf("qos: got %d, want 1", got[0].qos)
	}
	if !got[0].retained {
		t.Error("retained: got false, want true")
	}
	if got[0].seq == 0 {
		t.Error("seq: expected a sequence number to be assigned")
	}
}
