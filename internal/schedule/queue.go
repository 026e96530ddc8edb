package schedule

import (
	"fmt"
	"log"
)

// Entry is a read-only view of a queued event.
type Entry struct {
	Handle Handle
	Name   string
	AtUs   int64
}

// Queue keeps armed records in a singly linked list sorted by time; events
// with equal times fire in the order they were inserted. A Queue is not
// safe for concurrent use; Executor adds locking.
type Queue struct {
	pool   *Pool
	head   int32
	size   int
	seq    uint64
	faults int
}

// NewQueue creates an empty queue over pool.
func NewQueue(pool *Pool) *Queue {
	return &Queue{pool: pool, head: none}
}

// Insert arms h to run a at atUs.
func (q *Queue) Insert(h Handle, atUs int64, a Action) error {
	r, err := q.pool.get(h)
	if err != nil {
		return err
	}
	if a.Fn == nil {
		return fmt.Errorf("insert %s: %w", r.name, ErrNilAction)
	}
	if r.armed {
		return fmt.Errorf("insert %s: %w", r.name, ErrAlreadyArmed)
	}

	q.seq++
	r.armed = true
	r.atUs = atUs
	r.seq = q.seq
	r.action = a

	if q.head == none || q.pool.recs[q.head].atUs > atUs {
		r.next = q.head
		q.head = h.slot
		q.size++
		return nil
	}
	prev := q.head
	for {
		next := q.pool.recs[prev].next
		if next == none || q.pool.recs[next].atUs > atUs {
			break
		}
		prev = next
	}
	r.next = q.pool.recs[prev].next
	q.pool.recs[prev].next = h.slot
	q.size++
	return nil
}

// Remove disarms h. It reports whether h was queued.
func (q *Queue) Remove(h Handle) bool {
	r, err := q.pool.get(h)
	if err != nil || !r.armed {
		return false
	}
	if q.head == h.slot {
		q.head = r.next
	} else {
		prev := q.head
		for prev != none && q.pool.recs[prev].next != h.slot {
			prev = q.pool.recs[prev].next
		}
		if prev == none {
			return false
		}
		q.pool.recs[prev].next = r.next
	}
	r.next = none
	r.armed = false
	q.size--
	return true
}

// IsArmed reports whether h is queued.
func (q *Queue) IsArmed(h Handle) bool {
	r, err := q.pool.get(h)
	return err == nil && r.armed
}

// popDue unlinks the head if it is due and was inserted before this
// execution pass began.
func (q *Queue) popDue(nowUs int64, startSeq uint64) (Action, string, int64, bool) {
	if q.head == none {
		return Action{}, "", 0, false
	}
	r := &q.pool.recs[q.head]
	if r.atUs > nowUs || r.seq > startSeq {
		return Action{}, "", 0, false
	}
	q.head = r.next
	r.next = none
	r.armed = false
	q.size--
	return r.action, r.name, r.atUs, true
}

// ExecuteAll runs every event due at nowUs and returns how many ran.
// Events armed by the callbacks themselves wait for the next call.
func (q *Queue) ExecuteAll(nowUs int64) int {
	start := q.seq
	n := 0
	for {
		a, name, _, ok := q.popDue(nowUs, start)
		if !ok {
			return n
		}
		if !run(a, name) {
			q.faults++
		}
		n++
	}
}

// run invokes a callback, recovering a panic so one bad consumer cannot
// take the queue down.
func run(a Action, name string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("schedule: callback %s panicked: %v", name, r)
			ok = false
		}
	}()
	a.Fn(a.Arg)
	return true
}

// Head returns the time of the earliest event.
func (q *Queue) Head() (int64, bool) {
	if q.head == none {
		return 0, false
	}
	return q.pool.recs[q.head].atUs, true
}

// Len is the number of queued events.
func (q *Queue) Len() int {
	return q.size
}

// At returns the i-th queued event in firing order.
func (q *Queue) At(i int) (Entry, bool) {
	if i < 0 || i >= q.size {
		return Entry{}, false
	}
	cur := q.head
	for ; i > 0; i-- {
		cur = q.pool.recs[cur].next
	}
	r := &q.pool.recs[cur]
	return Entry{Handle: Handle{slot: cur, gen: r.gen}, Name: r.name, AtUs: r.atUs}, true
}

// Clear disarms every queued event.
func (q *Queue) Clear() {
	for q.head != none {
		r := &q.pool.recs[q.head]
		q.head = r.next
		r.next = none
		r.armed = false
	}
	q.size = 0
}

// CallbackFaults counts callbacks that panicked.
func (q *Queue) CallbackFaults() int {
	return q.faults
}
