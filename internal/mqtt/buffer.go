package mqtt

import "log"

// queuedMsg is a message waiting for the broker.
type queuedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox keeps the newest messages published while the broker is away.
// When full, the oldest message makes room. The caller holds the lock.
type outbox struct {
	slots   []queuedMsg
	oldest  int
	n       int
	dropped int  // lifetime total
	warned  bool // overflow logged since the last flush
}

func newOutbox(capacity int) *outbox {
	return &outbox{slots: make([]queuedMsg, capacity)}
}

func (o *outbox) add(m queuedMsg) {
	size := len(o.slots)
	if o.n < size {
		o.slots[(o.oldest+o.n)%size] = m
		o.n++
		return
	}
	if !o.warned {
		log.Printf("mqtt: offline queue full (%d), discarding oldest", size)
		o.warned = true
	}
	o.dropped++
	o.slots[o.oldest] = m
	o.oldest = (o.oldest + 1) % size
}

// flush empties the outbox and returns its messages oldest first.
func (o *outbox) flush() []queuedMsg {
	if o.n == 0 {
		return nil
	}
	out := make([]queuedMsg, 0, o.n)
	for i := 0; i < o.n; i++ {
		out = append(out, o.slots[(o.oldest+i)%len(o.slots)])
	}
	o.oldest, o.n, o.warned = 0, 0, false
	return out
}

// stats reports the queue depth and the messages lost to overflow.
func (o *outbox) stats() (queued, dropped int) {
	return o.n, o.dropped
}
