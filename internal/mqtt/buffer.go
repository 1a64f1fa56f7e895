package mqtt

import "log"

// bufferedMsg is a serialized MQTT message waiting to be sent.
type bufferedMsg struct {
	seq      uint64
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a bounded FIFO of messages waiting for the sender. Callers
// synchronize.
//
// A retained message replaces any older retained message on the same topic,
// so the broker only ever receives the latest retained value last. When
// full, the oldest non-retained message is dropped first.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	nextSeq  uint64
	dropped  int // messages dropped since the backlog last cleared
}

func newOutbox(capacity int) *outbox {
	return &outbox{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
	}
}

// push appends msg and returns it with its sequence number set.
func (o *outbox) push(msg bufferedMsg) bufferedMsg {
	o.nextSeq++
	msg.seq = o.nextSeq

	if msg.retained {
		for i, m := range o.msgs {
			if m.retained && m.topic == msg.topic {
				o.removeAt(i)
				break
			}
		}
	}

	if len(o.msgs) == o.capacity {
		if o.dropped == 0 {
			log.Printf("mqtt: send buffer full (%d messages), dropping oldest", o.capacity)
		}
		o.dropped++
		victim := 0
		for i, m := range o.msgs {
			if !m.retained {
				victim = i
				break
			}
		}
		o.removeAt(victim)
	}

	o.msgs = append(o.msgs, msg)
	return msg
}

// peek returns the oldest message without removing it.
func (o *outbox) peek() (bufferedMsg, bool) {
	if len(o.msgs) == 0 {
		return bufferedMsg{}, false
	}
	return o.msgs[0], true
}

// remove deletes the message with sequence number seq, if it is still
// buffered. It may already have been replaced or dropped while in flight.
func (o *outbox) remove(seq uint64) {
	for i, m := range o.msgs {
		if m.seq == seq {
			o.removeAt(i)
			break
		}
	}
	if len(o.msgs) == 0 && o.dropped > 0 {
		log.Printf("mqtt: send backlog cleared, %d messages were dropped", o.dropped)
		o.dropped = 0
	}
}

func (o *outbox) removeAt(i int) {
	copy(o.msgs[i:], o.msgs[i+1:])
	o.msgs[len(o.msgs)-1] = bufferedMsg{}
	o.msgs = o.msgs[:len(o.msgs)-1]
}

func (o *outbox) len() int {
	return len(o.msgs)
}

func (o *outbox) droppedCount() int {
	return o.dropped
}
