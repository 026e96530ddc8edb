package mqtt

import (
	"testing"
)

func fill(o *outbox, from, to int) {
	for i := from; i < to; i++ {
		o.add(queuedMsg{topic: Topic, payload: []byte{byte(i)}})
	}
}

func payloads(msgs []queuedMsg) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, m.payload[0])
	}
	return out
}

func TestOutboxFlushOrder(t *testing.T) {
	tests := []struct {
		name    string
		pushed  int
		want    []byte
		dropped int
	}{
		{"empty", 0, nil, 0},
		{"partial", 3, []byte{0, 1, 2}, 0},
		{"exactly full", 4, []byte{0, 1, 2, 3}, 0},
		{"overflow keeps newest", 7, []byte{3, 4, 5, 6}, 3},
		{"wraps more than once", 11, []byte{7, 8, 9, 10}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOutbox(4)
			fill(o, 0, tt.pushed)

			got := payloads(o.flush())
			if string(got) != string(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			queued, dropped := o.stats()
			if queued != 0 || dropped != tt.dropped {
				t.Errorf("expected 0 queued and %d dropped, got %d and %d", tt.dropped, queued, dropped)
			}
			if o.flush() != nil {
				t.Error("second flush should be empty")
			}
		})
	}
}

func TestOutboxReuseAfterFlush(t *testing.T) {
	o := newOutbox(3)
	fill(o, 0, 5)
	o.flush()
	if o.warned {
		t.Error("flush should re-arm the overflow log")
	}

	fill(o, 20, 22)
	if q, _ := o.stats(); q != 2 {
		t.Errorf("expected 2 queued, got %d", q)
	}
	if got := payloads(o.flush()); string(got) != string([]byte{20, 21}) {
		t.Errorf("expected [20 21], got %v", got)
	}
	// the lifetime total survives a flush
	if _, d := o.stats(); d != 2 {
		t.Errorf("expected 2 dropped, got %d", d)
	}
}

func TestOutboxKeepsDeliveryOptions(t *testing.T) {
	o := newOutbox(2)
	o.add(queuedMsg{topic: TopicSystem, payload: []byte(`{"system":{}}`), qos: 1, retained: true})

	got := o.flush()
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	m := got[0]
	if m.topic != TopicSystem || string(m.payload) != `{"system":{}}` || m.qos != 1 || !m.retained {
		t.Errorf("unexpected message %+v", m)
	}
}

func TestRealPublisherReportsDropped(t *testing.T) {
	p, _ := newTestPublisher(t)
	for i := 0; i < bufferCapacity+5; i++ {
		p.Publish(syncEvent(float64(i)))
	}
	buffered, dropped := p.Backlog()
	if buffered != bufferCapacity || dropped != 5 {
		t.Errorf("expected %d buffered and 5 dropped, got %d and %d", bufferCapacity, buffered, dropped)
	}
}
