package opt

import "github.com/tracejit/tracejit/ir"

// deadCodeEliminate runs both dead-code sweeps (pass 10 and pass 13,
// spec §4.3): mark every side-effecting node (stores, guards, calls,
// control nodes, phis) as live, close the set backward over operand
// edges and over referenced snapshots' entries, then kill whatever was
// never reached. It is the same function both times — nothing about the
// sweep differs, only what has already been simplified by the passes
// sandwiched between the two calls (guard elimination and
// induction-variable retyping, each of which can turn a previously-live
// node dead).
func deadCodeEliminate(b *ir.Buffer) (bool, error) {
	live := make(map[ir.ID]bool)
	var queue []ir.ID

	push := func(id ir.ID) {
		if id == ir.NoOperand || live[id] {
			return
		}
		n := b.At(id)
		if n.IsDead() {
			return
		}
		live[id] = true
		queue = append(queue, id)
	}

	for i := range b.Nodes {
		n := &b.Nodes[i]
		if !n.IsDead() && n.Op.HasSideEffect() {
			push(n.ID)
		}
	}

	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		n := b.At(id)
		push(n.A)
		push(n.B)
		if n.Op.IsGuard() && int(n.Imm.SnapID) < len(b.Snaps) {
			for _, e := range b.SnapshotEntries(n.Imm.SnapID) {
				push(e.Value)
			}
		}
	}

	changed := false
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() || n.Op == ir.OpNop {
			continue
		}
		if !live[n.ID] {
			n.Kill()
			changed = true
		}
	}
	return changed, nil
}
