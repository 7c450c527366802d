package opt

import "github.com/tracejit/tracejit/ir"

// replaceUses rewrites every operand reference to `from` (in any later
// node, and in every snapshot entry) to `to`, then kills `from`. This is
// the one piece of plumbing every value-replacing pass in this package
// needs, since ir.Buffer's forward-only array never renumbers nodes —
// a replaced value's old ID simply stops being referenced.
func replaceUses(b *ir.Buffer, from, to ir.ID) {
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() {
			continue
		}
		if n.A == from {
			n.A = to
		}
		if n.B == from {
			n.B = to
		}
	}
	b.UpdateSnapshotEntry(from, to)
	b.At(from).Kill()
}

// unboxToBox maps an unbox opcode to the box opcode it cancels against,
// and boxToUnbox the reverse — box(unbox(x)) and unbox(box(x)) are both
// identity on x.
var unboxToBox = map[ir.Op]ir.Op{
	ir.OpUnboxNum:  ir.OpBoxNum,
	ir.OpUnboxBool: ir.OpBoxBool,
	ir.OpUnboxObj:  ir.OpBoxObj,
	ir.OpUnboxInt:  ir.OpBoxInt,
}
var boxToUnbox = map[ir.Op]ir.Op{
	ir.OpBoxNum:  ir.OpUnboxNum,
	ir.OpBoxBool: ir.OpUnboxBool,
	ir.OpBoxObj:  ir.OpUnboxObj,
	ir.OpBoxInt:  ir.OpUnboxInt,
}

// eliminateBoxUnbox is pass 1 (spec §4.3): cancel adjacent box/unbox
// pairs of the same kind. A guard between the two would have already
// established the property the box/unbox pair is re-asserting, so the
// round trip is always redundant once recorded.
func eliminateBoxUnbox(b *ir.Buffer) (bool, error) {
	changed := false
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() {
			continue
		}
		if wantBox, ok := unboxToBox[n.Op]; ok {
			inner := b.At(n.A)
			if !inner.IsDead() && inner.Op == wantBox {
				replaceUses(b, n.ID, inner.A)
				changed = true
			}
			continue
		}
		if wantUnbox, ok := boxToUnbox[n.Op]; ok {
			inner := b.At(n.A)
			if !inner.IsDead() && inner.Op == wantUnbox {
				replaceUses(b, n.ID, inner.A)
				changed = true
			}
		}
	}
	return changed, nil
}

// gvnKey identifies a pure, side-effect-free computation. Only
// arithmetic, comparison, bitwise, and box/unbox conversions participate
// — field and module loads are excluded because a store between two
// identical loads can change their result and this pass does no
// alias analysis (a correctness requirement, not a missed
// optimization).
type gvnKey struct {
	op   ir.Op
	a, b ir.ID
	typ  ir.Type
}

func pureGVNCandidate(op ir.Op) bool {
	switch {
	case op.IsArithmetic(), op.IsCompare(), op.IsBitwise():
		return true
	}
	switch op {
	case ir.OpBoxNum, ir.OpUnboxNum, ir.OpBoxBool, ir.OpUnboxBool,
		ir.OpBoxObj, ir.OpUnboxObj, ir.OpBoxInt, ir.OpUnboxInt:
		return true
	}
	return false
}

// globalValueNumber is pass 4 (spec §4.3): dedupe nodes computing the
// same pure expression from the same operands, regardless of how far
// apart they appear in program order (unlike common local CSE, this
// spans the whole buffer since the IR is already one flat trace with no
// basic-block boundaries to cross).
func globalValueNumber(b *ir.Buffer) (bool, error) {
	seen := make(map[gvnKey]ir.ID)
	changed := false
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() || !pureGVNCandidate(n.Op) {
			continue
		}
		key := gvnKey{op: n.Op, a: n.A, b: n.B, typ: n.Type}
		if existing, ok := seen[key]; ok {
			replaceUses(b, n.ID, existing)
			changed = true
			continue
		}
		seen[key] = n.ID
	}
	return changed, nil
}
