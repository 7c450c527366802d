package opt

import "github.com/tracejit/tracejit/ir"

// markDispensableSlotStores is pass 11 phase B (spec §4.3): a store to an
// interpreter stack slot is dispensable — and is killed outright, same as
// any other dead node — if it is unconditionally overwritten by a later
// store to the same slot before either a load of that slot or a guard
// whose snapshot still references it. Slot stores carry
// ir.Op.HasSideEffect() so the ordinary dead-code sweeps never remove
// them on their own; this pass is what actually prunes the ones that
// turn out to be dead once guard/const-fold/GVN have run.
func markDispensableSlotStores(b *ir.Buffer) (bool, error) {
	lastStore := make(map[int32]ir.ID) // slot -> most recent live store id, reset on anything that might read it
	changed := false

	clearIfSnapshotReferences := func(snapID int32) {
		if snapID < 0 || int(snapID) >= len(b.Snaps) {
			return
		}
		for _, e := range b.SnapshotEntries(snapID) {
			for slot, storeID := range lastStore {
				if e.Value == b.At(storeID).A {
					delete(lastStore, slot)
				}
			}
		}
	}

	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() {
			continue
		}
		switch {
		case n.Op == ir.OpSlotStore:
			if prev, ok := lastStore[n.Imm.Slot]; ok {
				b.At(prev).Kill()
				changed = true
			}
			lastStore[n.Imm.Slot] = n.ID
		case n.Op == ir.OpSlotLoad:
			delete(lastStore, n.Imm.Slot)
		case n.Op.IsGuard():
			clearIfSnapshotReferences(n.Imm.SnapID)
		case n.Op.HasSideEffect():
			// A call or field/module store can trigger a deopt of its
			// own or otherwise make the previous slot value observable
			// indirectly; conservatively forget everything seen so far.
			lastStore = make(map[int32]ir.ID)
		}
	}
	return changed, nil
}
