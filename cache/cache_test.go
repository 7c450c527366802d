package cache

import (
	"testing"

	"github.com/tracejit/tracejit/asmcontract"
	"github.com/tracejit/tracejit/codegen"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// fakeExecBuffer lets tests observe whether a compiled trace's native
// code was released, without running codegen's full Lower pipeline.
type fakeExecBuffer struct {
	released *bool
}

func (f fakeExecBuffer) Run(asmcontract.EntryArgs) int32 { return 0 }
func (f fakeExecBuffer) Release()                        { *f.released = true }

func newTrace(anchor uint32) (*codegen.CompiledTrace, *bool) {
	released := false
	return &codegen.CompiledTrace{
		AnchorPC: anchor,
		Buf:      fakeExecBuffer{released: &released},
		Roots:    []uint64{uint64(anchor)},
	}, &released
}

func TestCacheLookupMissOnEmptyTable(t *testing.T) {
	c := New(0)
	_, ok := c.Lookup(0x100)
	assert(t, !ok, "expected a miss on an empty cache")
}

func TestCacheInsertThenLookupHits(t *testing.T) {
	c := New(0)
	tr, _ := newTrace(0x100)
	c.Insert(0x100, tr)

	got, ok := c.Lookup(0x100)
	assert(t, ok, "expected a hit after insert")
	assert(t, got == tr, "expected Lookup to return the inserted trace")
	assert(t, c.Len() == 1, "expected Len() == 1, got %d", c.Len())
}

func TestCacheInsertAtCollidingAnchorReplacesAndFrees(t *testing.T) {
	c := New(0)
	first, firstReleased := newTrace(0x100)
	c.Insert(0x100, first)

	second, _ := newTrace(0x100)
	c.Insert(0x100, second)

	assert(t, *firstReleased, "expected the replaced trace to be released")
	got, ok := c.Lookup(0x100)
	assert(t, ok && got == second, "expected Lookup to return the replacement trace")
	assert(t, c.Len() == 1, "a same-anchor insert must not grow the live count, got %d", c.Len())
}

func TestCacheGrowsPastLoadFactorAndPreservesEntries(t *testing.T) {
	c := New(0)
	startCap := c.Cap()

	anchors := make([]uint32, 0, startCap)
	for i := 0; i < startCap; i++ {
		anchor := uint32(i * 4) // word-aligned, like a real PC
		tr, _ := newTrace(anchor)
		c.Insert(anchor, tr)
		anchors = append(anchors, anchor)
	}

	assert(t, c.Cap() > startCap, "expected the table to have grown past its initial capacity %d, got %d", startCap, c.Cap())
	assert(t, c.Len() == len(anchors), "expected every inserted anchor to survive growth, got %d of %d", c.Len(), len(anchors))

	for _, anchor := range anchors {
		_, ok := c.Lookup(anchor)
		assert(t, ok, "expected anchor %#x to survive the table growing", anchor)
	}
}

func TestCacheEvictFreesAndRemoves(t *testing.T) {
	c := New(0)
	tr, released := newTrace(0x200)
	c.Insert(0x200, tr)

	c.Evict(0x200)
	assert(t, *released, "expected Evict to release the trace")
	_, ok := c.Lookup(0x200)
	assert(t, !ok, "expected a miss after eviction")
	assert(t, c.Len() == 0, "expected Len() == 0 after evicting the only entry")
}

func TestCacheMarkRootsCollectsAcrossEveryTrace(t *testing.T) {
	c := New(0)
	tr1, _ := newTrace(0x10)
	tr2, _ := newTrace(0x20)
	c.Insert(0x10, tr1)
	c.Insert(0x20, tr2)

	roots := c.MarkRoots()
	assert(t, len(roots) == 2, "expected 2 roots total, got %d", len(roots))
}

func TestCacheCloseReleasesEveryTrace(t *testing.T) {
	c := New(0)
	tr1, r1 := newTrace(0x10)
	tr2, r2 := newTrace(0x20)
	c.Insert(0x10, tr1)
	c.Insert(0x20, tr2)

	c.Close()
	assert(t, *r1 && *r2, "expected Close to release every cached trace")
	assert(t, c.Len() == 0, "expected Len() == 0 after Close")
}
