// Package schedule runs callbacks at absolute microsecond times.
//
// Every action that may be pending owns one record in a fixed-capacity Pool,
// acquired once at configuration time and addressed by a Handle. Arming,
// cancelling and firing never allocate.
package schedule

import (
	"errors"
	"fmt"
)

var (
	ErrPoolExhausted = errors.New("event pool exhausted")
	ErrAlreadyArmed  = errors.New("event already armed")
	ErrStaleHandle   = errors.New("stale or invalid event handle")
	ErrNilAction     = errors.New("action has no callback")
)

// Action is the callback run when an event fires.
type Action struct {
	Name string
	Fn   func(arg any)
	Arg  any
}

// Handle addresses a pool record. The zero Handle is invalid.
type Handle struct {
	slot int32
	gen  uint32
}

// Valid reports whether h was returned by Acquire.
func (h Handle) Valid() bool {
	return h.gen != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("event#%d.%d", h.slot, h.gen)
}

const none = -1

type record struct {
	name   string
	gen    uint32
	armed  bool
	atUs   int64
	seq    uint64
	action Action
	next   int32
}

// Pool is a fixed set of event records. Acquire and Release belong to
// configuration time and are not safe concurrently with scheduling.
type Pool struct {
	recs []record
	free []int32
}

// NewPool creates a pool with room for capacity events.
func NewPool(capacity int) *Pool {
	p := &Pool{
		recs: make([]record, capacity),
		free: make([]int32, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		p.recs[i].next = none
		p.free = append(p.free, int32(i))
	}
	return p
}

// Acquire reserves a record for the named owner.
func (p *Pool) Acquire(name string) (Handle, error) {
	if len(p.free) == 0 {
		return Handle{}, fmt.Errorf("acquire %s: %w", name, ErrPoolExhausted)
	}
	slot := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	r := &p.recs[slot]
	r.gen++
	if r.gen == 0 {
		r.gen = 1
	}
	r.name = name
	r.armed = false
	r.next = none
	return Handle{slot: slot, gen: r.gen}, nil
}

// Release returns an idle record to the pool. Its handle becomes stale.
func (p *Pool) Release(h Handle) error {
	r, err := p.get(h)
	if err != nil {
		return err
	}
	if r.armed {
		return fmt.Errorf("release %s: %w", r.name, ErrAlreadyArmed)
	}
	r.gen++
	if r.gen == 0 {
		r.gen = 1
	}
	r.name = ""
	r.action = Action{}
	p.free = append(p.free, h.slot)
	return nil
}

// Cap is the total number of records.
func (p *Pool) Cap() int {
	return len(p.recs)
}

// InUse is the number of acquired records.
func (p *Pool) InUse() int {
	return len(p.recs) - len(p.free)
}

// Name returns the owner name given at Acquire.
func (p *Pool) Name(h Handle) string {
	r, err := p.get(h)
	if err != nil {
		return ""
	}
	return r.name
}

func (p *Pool) get(h Handle) (*record, error) {
	if !h.Valid() || h.slot < 0 || int(h.slot) >= len(p.recs) || p.recs[h.slot].gen != h.gen {
		return nil, fmt.Errorf("%s: %w", h, ErrStaleHandle)
	}
	return &p.recs[h.slot], nil
}
