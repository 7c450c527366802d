package opt

import "github.com/tracejit/tracejit/ir"

// isPreLoop reports whether id names a value defined at or before the
// loop header — the "outside the loop" side of spec §4.3's invariance
// test.
func isPreLoop(b *ir.Buffer, id ir.ID) bool {
	return id == ir.NoOperand || id <= b.LoopHeader
}

// hoistLoopInvariant is pass 5 (spec §4.3): mark every node strictly
// between the loop header and the loop back whose operands are all
// pre-loop (or themselves already marked invariant) with
// ir.FlagLoopInvariant.
//
// This buffer is a single, non-unrolled recording of one loop
// iteration's body, not an unrolled sequence of iterations — there is
// exactly one physical occurrence of each invariant computation to
// begin with. Physically relocating it earlier in the array would
// require its ID to become smaller than its own operands' IDs,
// violating forward-only SSA (ir.Verify's first check). So unlike a
// classical LICM pass over a CFG with repeated blocks, this pass's job
// is purely to communicate "evaluate this once, before entering the
// loop" to the code generator via a flag on the node itself — codegen
// is free to place the generated instruction's emission before the
// native loop-header label while leaving the IR array untouched. See
// DESIGN.md's Open Question entry on pre-header slot reservation for
// why ir.Buffer.ClaimPreHeaderSlot is not used here.
func hoistLoopInvariant(b *ir.Buffer) (bool, error) {
	if b.LoopHeader == ir.NoOperand || b.LoopBack == ir.NoOperand {
		return false, nil
	}
	changed := false
	invariantOperand := func(id ir.ID) bool {
		return isPreLoop(b, id) || b.At(id).Flags.Has(ir.FlagLoopInvariant)
	}
	// Operands always precede their node, so one forward sweep already
	// sees every operand's final flag.
	for id := b.LoopHeader + 1; id < b.LoopBack; id++ {
		n := b.At(id)
		if n.IsDead() || n.Op.HasSideEffect() || n.Op == ir.OpPhi {
			continue
		}
		if invariantOperand(n.A) && invariantOperand(n.B) {
			if !n.Flags.Has(ir.FlagLoopInvariant) {
				n.Flags |= ir.FlagLoopInvariant
				changed = true
			}
		}
	}
	return changed, nil
}

// hoistInvariantGuards is pass 6 (spec §4.3): once pass 5 has identified
// loop-invariant values, a guard that only tests one of them is itself
// invariant — its condition cannot change between iterations, so it
// only needs to fail the trace once, at entry, rather than being
// re-checked every time around the loop. Flagged the same way as pass 5
// for the code generator to act on.
func hoistInvariantGuards(b *ir.Buffer) (bool, error) {
	if b.LoopHeader == ir.NoOperand || b.LoopBack == ir.NoOperand {
		return false, nil
	}
	changed := false
	for id := b.LoopHeader + 1; id < b.LoopBack; id++ {
		n := b.At(id)
		if n.IsDead() || !n.Op.IsGuard() {
			continue
		}
		operand := b.At(n.A)
		if isPreLoop(b, n.A) || operand.Flags.Has(ir.FlagLoopInvariant) {
			if !n.Flags.Has(ir.FlagHoisted) {
				n.Flags |= ir.FlagHoisted
				changed = true
			}
		}
	}
	return changed, nil
}

func isIntegralConst(n *ir.Node) (float64, bool) {
	if n.Op != ir.OpConstNum {
		return 0, false
	}
	if n.Imm.F64 != float64(int64(n.Imm.F64)) {
		return 0, false
	}
	return n.Imm.F64, true
}

// inferInductionVariableTypes is pass 12 (spec §4.3): detect phi chains
// that only ever hold exact integers (an integral initial constant, an
// add-by-integral-constant step) and retype them from TypeF64 to
// TypeInt, so the code generator's boundary boxing uses box.int/
// unbox.int instead of box.num/unbox.num — avoiding the float64
// round-trip entirely for loop counters, the single most common
// specialization opportunity a tracing JIT sees in a counted loop.
func inferInductionVariableTypes(b *ir.Buffer) (bool, error) {
	if b.LoopHeader == ir.NoOperand {
		return false, nil
	}
	changed := false
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() || n.Op != ir.OpPhi || n.Type != ir.TypeF64 {
			continue
		}
		init := b.At(n.A)
		if _, ok := isIntegralConst(init); !ok {
			continue
		}
		step := b.At(n.B)
		if step.Op != ir.OpAdd && step.Op != ir.OpSub {
			continue
		}
		var stepOperand *ir.Node
		switch {
		case step.A == n.ID:
			stepOperand = b.At(step.B)
		case step.B == n.ID:
			stepOperand = b.At(step.A)
		default:
			continue
		}
		if _, ok := isIntegralConst(stepOperand); !ok {
			continue
		}
		n.Type = ir.TypeInt
		step.Type = ir.TypeInt
		changed = true
	}
	return changed, nil
}
