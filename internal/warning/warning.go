// Package warning holds the non-fatal diagnostic codes raised while decoding
// and scheduling, and a small ring of recently seen codes for readout.
package warning

import (
	"fmt"
	"log"
	"sync"
)

// Code identifies a class of warning.
type Code int

const (
	SyncCountMismatch Code = iota + 1
	SyncError
	CrankCircuitMalfunction
	CamCircuitRangePerformance
	ConfigurationError
	SchedulingMisuse
)

func (c Code) String() string {
	switch c {
	case SyncCountMismatch:
		return "SYNC_COUNT_MISMATCH"
	case SyncError:
		return "SYNC_ERROR"
	case CrankCircuitMalfunction:
		return "CRANK_CIRCUIT_MALFUNCTION"
	case CamCircuitRangePerformance:
		return "CAM_CIRCUIT_RANGE_PERFORMANCE"
	case ConfigurationError:
		return "CONFIGURATION_ERROR"
	case SchedulingMisuse:
		return "SCHEDULING_MISUSE"
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// OBD returns the diagnostic trouble code a code maps to, if any.
func (c Code) OBD() string {
	switch c {
	case CrankCircuitMalfunction:
		return "P0335"
	case CamCircuitRangePerformance:
		return "P0341"
	}
	return ""
}

// DefaultCapacity is the number of distinct codes the ring remembers.
const DefaultCapacity = 8

// Ring remembers the most recent distinct warning codes. A code already in
// the ring is not added again, but its total still counts up. When full, the
// oldest code is dropped.
type Ring struct {
	mu     sync.Mutex
	codes  []Code
	head   int
	count  int
	totals map[Code]int
	seq    uint64
}

// NewRing creates a ring holding up to capacity distinct codes.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		codes:  make([]Code, capacity),
		totals: make(map[Code]int),
	}
}

// Warn records a warning. It returns true if the code was new to the ring;
// only new codes are logged.
func (r *Ring) Warn(code Code, format string, args ...any) bool {
	r.mu.Lock()
	r.totals[code]++
	r.seq++
	if r.containsLocked(code) {
		r.mu.Unlock()
		return false
	}
	if r.count == len(r.codes) {
		r.head = (r.head + 1) % len(r.codes)
		r.count--
	}
	r.codes[(r.head+r.count)%len(r.codes)] = code
	r.count++
	r.mu.Unlock()

	log.Printf("warning: %s: %s", code, fmt.Sprintf(format, args...))
	return true
}

func (r *Ring) containsLocked(code Code) bool {
	for i := 0; i < r.count; i++ {
		if r.codes[(r.head+i)%len(r.codes)] == code {
			return true
		}
	}
	return false
}

// Count returns the number of distinct codes held.
func (r *Ring) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Get returns the i-th code, oldest first.
func (r *Ring) Get(i int) (Code, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= r.count {
		return 0, false
	}
	return r.codes[(r.head+i)%len(r.codes)], true
}

// Contains reports whether code is currently held.
func (r *Ring) Contains(code Code) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.containsLocked(code)
}

// Codes returns a copy of the held codes, oldest first.
func (r *Ring) Codes() []Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Code, r.count)
	for i := range out {
		out[i] = r.codes[(r.head+i)%len(r.codes)]
	}
	return out
}

// Clear empties the ring. Totals are kept.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.count = 0
}

// Total returns how many times code has been raised.
func (r *Ring) Total(code Code) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals[code]
}

// Seq increments on every Warn call, including duplicates.
func (r *Ring) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}
