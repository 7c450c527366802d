package opt

import "github.com/tracejit/tracejit/ir"

// guardKey identifies "the same runtime assertion against the same SSA
// value": since SSA values never change once defined, two guards with
// an identical key assert exactly the same fact and the later one is
// redundant once the earlier one has executed.
type guardKey struct {
	op    ir.Op
	value ir.ID
	class int64 // only meaningful for OpGuardIsClass
}

func keyOf(n *ir.Node) guardKey {
	k := guardKey{op: n.Op, value: n.A}
	if n.Op == ir.OpGuardIsClass {
		k.class = n.Imm.Class
	}
	return k
}

// eliminateRedundantGuards walks the buffer once, killing a guard if an
// earlier guard asserting the identical fact is still "in scope" for
// it. clearOnSideEffect controls scope width: the scoped pass (2) resets
// its memo at every side-effecting node, a conservative stance given how
// early in optimization it runs and how little else has simplified the
// buffer yet; the unscoped pass (11) runs after a DCE sweep has already
// pruned dead side effects and keeps the memo for the whole buffer,
// catching the redundancies pass 2's narrower scope left behind.
func eliminateRedundantGuards(b *ir.Buffer, clearOnSideEffect bool) (bool, error) {
	seen := make(map[guardKey]bool)
	changed := false
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() {
			continue
		}
		if n.Op.IsGuard() {
			k := keyOf(n)
			if seen[k] {
				n.Kill()
				changed = true
				continue
			}
			seen[k] = true
			continue
		}
		if clearOnSideEffect && n.Op.HasSideEffect() {
			seen = make(map[guardKey]bool)
		}
	}
	return changed, nil
}

func eliminateRedundantGuardsScoped(b *ir.Buffer) (bool, error) {
	return eliminateRedundantGuards(b, true)
}

func eliminateRedundantGuardsUnscoped(b *ir.Buffer) (bool, error) {
	return eliminateRedundantGuards(b, false)
}

// inductionPhi reports whether phi matches spec §4.3 Pass 8's shape for
// an induction-variable phi: one input defined before the loop, the
// other a step add/sub of the phi itself and some pre-loop (constant or
// otherwise invariant) amount. Returns the id of that step node.
func inductionPhi(b *ir.Buffer, n *ir.Node) (step ir.ID, ok bool) {
	if n.Op != ir.OpPhi || n.A == ir.NoOperand || n.B == ir.NoOperand {
		return ir.NoOperand, false
	}
	if !isPreLoop(b, n.A) {
		return ir.NoOperand, false
	}
	stepNode := b.At(n.B)
	if stepNode.Op != ir.OpAdd && stepNode.Op != ir.OpSub {
		return ir.NoOperand, false
	}
	switch {
	case stepNode.A == n.ID:
		if isPreLoop(b, stepNode.B) {
			return n.B, true
		}
	case stepNode.B == n.ID:
		if isPreLoop(b, stepNode.A) {
			return n.B, true
		}
	}
	return ir.NoOperand, false
}

// ivBoundKey pairs an induction variable with the loop-invariant bound
// it is compared against.
type ivBoundKey struct {
	iv    ir.ID
	bound ir.ID
}

// eliminateRedundantBoundsGuards is pass 8 (spec §4.3): the bounds-check
// analogue for a VM with no arrays to index — an induction variable
// compared against the same loop-invariant upper bound at more than one
// point in the trace (typically a pre-loop entry check and an in-loop
// continuation check compiled from the same source condition) only
// needs the comparison verified once. Unlike pass 2/11's identical-
// operand guard dedup, the two occurrences here reference *different*
// SSA identifiers — the phi before increment and the step value after
// — so they are first normalized to their owning induction variable.
func eliminateRedundantBoundsGuards(b *ir.Buffer) (bool, error) {
	if b.LoopHeader == ir.NoOperand {
		return false, nil
	}
	ivOf := make(map[ir.ID]ir.ID) // step/phi id -> canonical phi id
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() {
			continue
		}
		if step, ok := inductionPhi(b, n); ok {
			ivOf[n.ID] = n.ID
			ivOf[step] = n.ID
		}
	}
	if len(ivOf) == 0 {
		return false, nil
	}

	seen := make(map[ivBoundKey]bool)
	changed := false
	for i := range b.Nodes {
		g := &b.Nodes[i]
		if g.IsDead() || g.Op != ir.OpGuardIsTruthy {
			continue
		}
		cmp := b.At(g.A)
		if cmp.IsDead() || cmp.Op != ir.OpLt {
			continue
		}
		var iv, bound ir.ID
		if canon, ok := ivOf[cmp.A]; ok && isPreLoop(b, cmp.B) {
			iv, bound = canon, cmp.B
		} else if canon, ok := ivOf[cmp.B]; ok && isPreLoop(b, cmp.A) {
			iv, bound = canon, cmp.A
		} else {
			continue
		}
		key := ivBoundKey{iv: iv, bound: bound}
		if seen[key] {
			g.Kill()
			changed = true
			continue
		}
		seen[key] = true
	}
	return changed, nil
}

// alwaysNumber reports whether a node's result is, by construction,
// always a plain double — never a tagged non-number.
func alwaysNumber(n *ir.Node) bool {
	return n.Op.IsArithmetic() || n.Op == ir.OpConstNum || n.Op == ir.OpUnboxNum
}

// markAlwaysNumericAndEliminate is pass 11 phase A's numeric-proof half
// (spec §4.3): arithmetic results, unbox-number results, and number
// constants are always numbers by construction; any is-number guard
// testing one of them can never fail and is killed outright. The
// load-provably-numeric extension spec §4.3 also describes (tracking
// every store to a slot/module address) is left to the scoped guard
// passes' ordinary dedup, since this repository's recorder always
// stores through a box-number node before a slot/module store.
func markAlwaysNumericAndEliminate(b *ir.Buffer) (bool, error) {
	changed := false
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() || n.Op != ir.OpGuardIsNumber {
			continue
		}
		if alwaysNumber(b.At(n.A)) {
			n.Kill()
			changed = true
		}
	}
	return changed, nil
}
