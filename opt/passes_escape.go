package opt

import "github.com/tracejit/tracejit/ir"

// computeEscaping is pass 9 (spec §4.3): determine which object-typed
// SSA values can be observed outside the trace — by a snapshot (and
// therefore a deopt back into the host), a field/slot/module store, or
// a call argument. Run returns the set as Result.Escaping; the code
// generator does not consult it when collecting GC roots.
//
// This is a direct (one-hop) escape test, not a transitive points-to
// analysis: an object reachable only through a field of another
// escaping object is not separately flagged.
func computeEscaping(b *ir.Buffer) map[ir.ID]bool {
	escaping := make(map[ir.ID]bool)

	markIfObject := func(id ir.ID) {
		if id == ir.NoOperand {
			return
		}
		n := b.At(id)
		if n.IsDead() {
			return
		}
		if n.Type == ir.TypePtr || n.Type == ir.TypeBoxed {
			escaping[id] = true
		}
	}

	for i := range b.Snaps {
		for _, e := range b.SnapshotEntries(b.Snaps[i].ID) {
			markIfObject(e.Value)
		}
	}

	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() {
			continue
		}
		switch n.Op {
		case ir.OpFieldStore, ir.OpSlotStore, ir.OpModStore:
			markIfObject(n.B)
			markIfObject(n.A)
		case ir.OpCallPrimitive, ir.OpCallMethod:
			markIfObject(n.A)
			markIfObject(n.B)
		}
	}

	return escaping
}
