// Package regalloc implements the linear-scan register allocator spec
// §4.4 describes: two independent register classes (general-purpose and
// floating-point), live ranges computed directly over the IR buffer's
// own node indices (no separate numbering scheme is needed since the
// buffer is already linearly ordered SSA), and spilling to a flat slot
// area when a class runs out of physical registers.
//
// Grounded on SeleniaProject-Orizon's
// internal/codegen/regalloc/regalloc.go (_examples/other_examples/
// 8bd44af6_...): the LiveInterval{Start,End,Class}/linear-scan-over-
// sorted-intervals/spill-to-stack-slot shape is the same; this package
// replaces Orizon's string-keyed virtual registers and explicit
// liveness-per-LIR-opcode switch with ir.ID-keyed intervals computed
// directly from the SSA buffer's operand links, since our IR already
// carries the one def and every use for each node.
package regalloc

import (
	"fmt"
	"sort"

	"github.com/tracejit/tracejit/asmcontract"
	"github.com/tracejit/tracejit/ir"
)

// LiveInterval is the lifetime of one SSA value: the node index where it
// is defined through the last node index that reads it.
type LiveInterval struct {
	ID    ir.ID
	Start int32
	End   int32
	Class asmcontract.RegClass
}

// AllocKind distinguishes a register assignment from a spill.
type AllocKind uint8

const (
	AllocRegister AllocKind = iota
	AllocSpill
)

// Allocation is the final decision made for one SSA value.
type Allocation struct {
	Kind  AllocKind
	Reg   asmcontract.Reg
	Spill int32
}

// Config bounds the number of physical registers available in each
// class; codegen supplies this from the target frame shape (spec §4.5
// Prologue: "configurable scratch/saved counts").
type Config struct {
	NumGP int
	NumFP int
}

// Result is the allocator's output: every live node's Allocation, plus
// the total spill-slot count the code generator must reserve in the
// frame.
type Result struct {
	Alloc         map[ir.ID]Allocation
	NumSpillSlots int32
}

func classOf(t ir.Type) asmcontract.RegClass {
	if t == ir.TypeF64 {
		return asmcontract.FP
	}
	return asmcontract.GP
}

// buildLiveIntervals computes, for every live value-producing node, the
// span from its definition to its last use. Phi operands crossing the
// loop back-edge are special-cased: a phi's own value and the value
// feeding its back-edge operand must both stay live through the
// loop-back node, since the next iteration reads them at the header
// (spec §8 "for every phi node, one operand is defined before the loop
// header, the other at or before the loop back").
func buildLiveIntervals(b *ir.Buffer) []LiveInterval {
	intervals := make(map[ir.ID]*LiveInterval)

	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() || n.Type == ir.TypeVoid {
			continue
		}
		intervals[n.ID] = &LiveInterval{ID: n.ID, Start: int32(n.ID), End: int32(n.ID), Class: classOf(n.Type)}
	}

	extend := func(id ir.ID, at int32) {
		if id == ir.NoOperand {
			return
		}
		if iv, ok := intervals[id]; ok && at > iv.End {
			iv.End = at
		}
	}

	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() {
			continue
		}
		extend(n.A, int32(n.ID))
		extend(n.B, int32(n.ID))
	}

	if b.LoopBack != ir.NoOperand {
		for i := range b.Nodes {
			n := &b.Nodes[i]
			if n.IsDead() || (n.Op != ir.OpPhi && !n.Flags.Has(ir.FlagLoopInvariant)) {
				continue
			}
			// Codegen writes phis and loop-invariant nodes once, before
			// the loop header, so they hold their register from the
			// header through the loop back.
			if iv, ok := intervals[n.ID]; ok && int32(b.LoopHeader) < iv.Start {
				iv.Start = int32(b.LoopHeader)
			}
			extend(n.ID, int32(b.LoopBack))
			if n.Op == ir.OpPhi {
				extend(n.B, int32(b.LoopBack))
			}
		}
	}

	out := make([]LiveInterval, 0, len(intervals))
	for _, iv := range intervals {
		out = append(out, *iv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// classPool tracks one register class's free list and the intervals
// currently occupying each physical register, so linear scan can expire
// and spill within a class independently of the other.
type classPool struct {
	numRegs int
	active  []int // indices into the allocator's intervals slice, in allocation order
	owner   map[int]ir.ID
}

func newClassPool(n int) *classPool {
	return &classPool{numRegs: n, owner: make(map[int]ir.ID)}
}

// Allocate runs linear-scan register allocation over b's live values.
func Allocate(b *ir.Buffer, cfg Config) (*Result, error) {
	intervals := buildLiveIntervals(b)
	gp := newClassPool(cfg.NumGP)
	fp := newClassPool(cfg.NumFP)

	result := &Result{Alloc: make(map[ir.ID]Allocation, len(intervals))}

	free := map[asmcontract.RegClass][]int{}
	for i := 0; i < cfg.NumGP; i++ {
		free[asmcontract.GP] = append(free[asmcontract.GP], i)
	}
	for i := 0; i < cfg.NumFP; i++ {
		free[asmcontract.FP] = append(free[asmcontract.FP], i)
	}

	poolFor := func(c asmcontract.RegClass) *classPool {
		if c == asmcontract.FP {
			return fp
		}
		return gp
	}

	// expire drops every active interval that ended before at, returning
	// its register (looked up in pool.owner) to the class's free list.
	expire := func(pool *classPool, at int32) {
		kept := pool.active[:0]
		for _, idx := range pool.active {
			iv := intervals[idx]
			if iv.End < at {
				// free the physical register this interval held
				reg := -1
				for r, id := range pool.owner {
					if id == iv.ID {
						reg = r
						break
					}
				}
				if reg >= 0 {
					delete(pool.owner, reg)
					free[iv.Class] = append(free[iv.Class], reg)
				}
				continue
			}
			kept = append(kept, idx)
		}
		pool.active = kept
	}

	for idx := range intervals {
		iv := &intervals[idx]
		pool := poolFor(iv.Class)
		expire(pool, iv.Start)

		regs := free[iv.Class]
		if len(regs) > 0 {
			reg := regs[len(regs)-1]
			free[iv.Class] = regs[:len(regs)-1]
			pool.owner[reg] = iv.ID
			pool.active = append(pool.active, idx)
			result.Alloc[iv.ID] = Allocation{Kind: AllocRegister, Reg: asmcontract.Reg{Class: iv.Class, Index: reg}}
			continue
		}

		// No free register: spill whichever active interval in this class
		// (including, potentially, the current one) ends furthest in the
		// future — the standard Poletto & Sarkar heuristic, minimizing
		// reloads on the hottest remaining path.
		spillIdx := -1
		for _, candidate := range pool.active {
			if spillIdx == -1 || intervals[candidate].End > intervals[spillIdx].End {
				spillIdx = candidate
			}
		}
		if spillIdx != -1 && intervals[spillIdx].End > iv.End {
			spilled := intervals[spillIdx]
			reg := -1
			for r, id := range pool.owner {
				if id == spilled.ID {
					reg = r
					break
				}
			}
			if reg < 0 {
				return nil, fmt.Errorf("regalloc: internal error, active interval %d has no owned register", spilled.ID)
			}
			result.Alloc[spilled.ID] = Allocation{Kind: AllocSpill, Spill: result.NumSpillSlots}
			result.NumSpillSlots++
			delete(pool.owner, reg)
			pool.owner[reg] = iv.ID
			newActive := pool.active[:0]
			for _, candidate := range pool.active {
				if candidate != spillIdx {
					newActive = append(newActive, candidate)
				}
			}
			pool.active = append(newActive, idx)
			result.Alloc[iv.ID] = Allocation{Kind: AllocRegister, Reg: asmcontract.Reg{Class: iv.Class, Index: reg}}
		} else {
			result.Alloc[iv.ID] = Allocation{Kind: AllocSpill, Spill: result.NumSpillSlots}
			result.NumSpillSlots++
		}
	}

	return result, nil
}
