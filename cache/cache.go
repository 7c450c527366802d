// Package cache implements the trace cache spec §4.6 describes: an
// open-addressing hash table of compiled traces keyed by anchor PC,
// linear probing, grows to the next power of two once its load factor
// exceeds 0.7, and replaces (freeing the old trace) on a colliding
// anchor. Deliberately hand-rolled rather than built on a generic LRU
// or map-based cache library — see DESIGN.md for why golang-lru's
// chaining/eviction model can't express these invariants.
//
// The cache is never accessed from more than one goroutine at a time;
// the JIT that owns it is single-threaded (spec §5 "no reader can
// observe a half-resized table because the JIT is single-threaded"),
// so TraceCache does no locking of its own.
package cache

import "github.com/tracejit/tracejit/codegen"

// minCapacity is the smallest table size New ever allocates, regardless
// of the capacity hint passed in.
const minCapacity = 16

// maxLoadFactor is the threshold spec §4.6 names exactly: grow once the
// table would be more than 70% full after an insert.
const maxLoadFactor = 0.7

// fixnumMultiplier spreads an anchor PC's low bits (already shifted
// right by two, since bytecode is word-aligned) across the table index
// space before masking to capacity - 1, the same fixnum-multiply hash
// spec §4.6 specifies.
const fixnumMultiplier uint32 = 2654435761 // Knuth's multiplicative hash constant

type slot struct {
	occupied bool
	anchor   uint32
	trace    *codegen.CompiledTrace
}

// TraceCache is an open-addressing hash table of compiled traces, one
// per anchor PC (spec §4.6, §3 "Trace cache").
type TraceCache struct {
	slots []slot
	count int
}

// New creates an empty trace cache. capacityHint is rounded up to the
// next power of two, with a floor of minCapacity.
func New(capacityHint int) *TraceCache {
	cap := minCapacity
	for cap < capacityHint {
		cap <<= 1
	}
	return &TraceCache{slots: make([]slot, cap)}
}

// Len returns the number of traces currently cached.
func (c *TraceCache) Len() int { return c.count }

// Cap returns the table's current capacity (always a power of two).
func (c *TraceCache) Cap() int { return len(c.slots) }

func hashIndex(anchor uint32, cap int) int {
	h := (anchor >> 2) * fixnumMultiplier
	return int(h & uint32(cap-1)) // cap is a power of two
}

// Lookup returns the trace cached at anchor, or ok=false on a miss
// (spec §4.6 "lookup returns the existing trace or a miss").
func (c *TraceCache) Lookup(anchor uint32) (*codegen.CompiledTrace, bool) {
	cap := len(c.slots)
	idx := hashIndex(anchor, cap)
	for i := 0; i < cap; i++ {
		s := &c.slots[(idx+i)%cap]
		if !s.occupied {
			return nil, false
		}
		if s.anchor == anchor {
			return s.trace, true
		}
	}
	return nil, false
}

// Insert stores trace under anchor, growing the table first if doing
// so would push the load factor past 0.7 (spec §4.6 "grows to the next
// power of two at load factor > 0.7"). Inserting at an anchor that is
// already occupied replaces and frees (Release) the existing trace
// (spec §3 "Insertion with a colliding anchor PC replaces (and frees)
// the existing trace").
func (c *TraceCache) Insert(anchor uint32, trace *codegen.CompiledTrace) {
	if float64(c.count+1) > maxLoadFactor*float64(len(c.slots)) {
		c.grow()
	}

	cap := len(c.slots)
	idx := hashIndex(anchor, cap)
	for i := 0; i < cap; i++ {
		s := &c.slots[(idx+i)%cap]
		if !s.occupied {
			*s = slot{occupied: true, anchor: anchor, trace: trace}
			c.count++
			return
		}
		if s.anchor == anchor {
			if s.trace != nil {
				s.trace.Release()
			}
			s.trace = trace
			return
		}
	}
	// unreachable: grow() above guarantees a free slot exists.
	panic("cache: trace cache probe exhausted a freshly grown table")
}

// Evict removes and frees the trace at anchor, if present.
func (c *TraceCache) Evict(anchor uint32) {
	cap := len(c.slots)
	idx := hashIndex(anchor, cap)
	for i := 0; i < cap; i++ {
		s := &c.slots[(idx+i)%cap]
		if !s.occupied {
			return
		}
		if s.anchor == anchor {
			if s.trace != nil {
				s.trace.Release()
			}
			*s = slot{}
			c.count--
			return
		}
	}
}

// Close frees every cached trace and empties the table.
func (c *TraceCache) Close() {
	for i := range c.slots {
		if c.slots[i].occupied && c.slots[i].trace != nil {
			c.slots[i].trace.Release()
		}
		c.slots[i] = slot{}
	}
	c.count = 0
}

// MarkRoots walks every populated slot and returns the concatenation of
// each trace's GC roots (spec §4.6 "marking GC roots walks every
// populated slot").
func (c *TraceCache) MarkRoots() []uint64 {
	var roots []uint64
	for i := range c.slots {
		if c.slots[i].occupied && c.slots[i].trace != nil {
			roots = append(roots, c.slots[i].trace.Roots...)
		}
	}
	return roots
}

// grow doubles the table's capacity and rehashes every live entry —
// the only time the table is resized, and only ever during Insert
// (spec §5 "the cache table is resized at most during insertion").
func (c *TraceCache) grow() {
	old := c.slots
	c.slots = make([]slot, len(old)*2)
	c.count = 0
	for _, s := range old {
		if s.occupied {
			c.insertNoGrow(s.anchor, s.trace)
		}
	}
}

func (c *TraceCache) insertNoGrow(anchor uint32, trace *codegen.CompiledTrace) {
	cap := len(c.slots)
	idx := hashIndex(anchor, cap)
	for i := 0; i < cap; i++ {
		s := &c.slots[(idx+i)%cap]
		if !s.occupied {
			*s = slot{occupied: true, anchor: anchor, trace: trace}
			c.count++
			return
		}
	}
}
