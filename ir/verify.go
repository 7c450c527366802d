package ir

import "fmt"

// Verify checks the structural invariants spec §8 requires to hold after
// every optimizer pass:
//
//   - no operand identifier of a non-dead node refers to a dead node
//   - every guard references a snapshot whose identifier is in range
//   - exactly one loop-header node; at most one loop-back node; header
//     precedes back
//   - for every phi node, one operand is defined before the loop header,
//     the other at or before the loop back
//   - for every snapshot entry, the referenced SSA identifier, if not
//     dead, has a live range covering the last side exit targeting the
//     snapshot (checked by the register allocator, which is the only
//     component that computes live ranges; Verify only checks the
//     cheaper structural half of this invariant: the identifier is in
//     range)
func Verify(b *Buffer) error {
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() {
			continue
		}
		if n.A != NoOperand {
			if n.A >= n.ID {
				return fmt.Errorf("node %d: operand A=%d is not forward-only", n.ID, n.A)
			}
			if b.Nodes[n.A].IsDead() {
				return fmt.Errorf("node %d: operand A=%d refers to a dead node", n.ID, n.A)
			}
		}
		if n.B != NoOperand {
			// A phi's B operand is its back-edge source: the step value
			// computed later in this same recording of the loop body, so
			// it necessarily has a higher ID than the phi itself. Every
			// other node's B must still obey forward-only addressing; the
			// phi-specific loop below checks B's own bound (it must not
			// land after the loop-back node).
			if n.Op != OpPhi && n.B >= n.ID {
				return fmt.Errorf("node %d: operand B=%d is not forward-only", n.ID, n.B)
			}
			if int(n.B) >= len(b.Nodes) {
				return fmt.Errorf("node %d: operand B=%d is out of range", n.ID, n.B)
			}
			if b.Nodes[n.B].IsDead() {
				return fmt.Errorf("node %d: operand B=%d refers to a dead node", n.ID, n.B)
			}
		}
		if n.Op.IsGuard() {
			if n.Imm.SnapID < 0 || int(n.Imm.SnapID) >= len(b.Snaps) {
				return fmt.Errorf("node %d: guard references out-of-range snapshot %d", n.ID, n.Imm.SnapID)
			}
		}
	}

	headers, backs := 0, 0
	for i := range b.Nodes {
		switch b.Nodes[i].Op {
		case OpLoopHeader:
			headers++
		case OpLoopBack:
			backs++
		}
	}
	if headers != 1 {
		return fmt.Errorf("expected exactly one loop-header node, found %d", headers)
	}
	if backs > 1 {
		return fmt.Errorf("expected at most one loop-back node, found %d", backs)
	}
	if b.LoopHeader == NoOperand {
		return fmt.Errorf("buffer has a loop-header node but Buffer.LoopHeader is unset")
	}
	if b.LoopBack != NoOperand && b.LoopBack < b.LoopHeader {
		return fmt.Errorf("loop-back node %d precedes loop-header node %d", b.LoopBack, b.LoopHeader)
	}

	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.Op != OpPhi || n.IsDead() {
			continue
		}
		if n.A == NoOperand || n.B == NoOperand {
			return fmt.Errorf("phi %d missing an operand", n.ID)
		}
		if n.A >= b.LoopHeader {
			return fmt.Errorf("phi %d: pre-loop operand A=%d is not defined before the loop header %d", n.ID, n.A, b.LoopHeader)
		}
		if b.LoopBack != NoOperand && n.B > b.LoopBack {
			return fmt.Errorf("phi %d: back-edge operand B=%d is defined after the loop-back node %d", n.ID, n.B, b.LoopBack)
		}
	}

	for i := range b.Snaps {
		s := &b.Snaps[i]
		for _, e := range b.SnapshotEntries(s.ID) {
			if e.Value == NoOperand {
				continue
			}
			if int(e.Value) >= len(b.Nodes) {
				return fmt.Errorf("snapshot %d: entry references out-of-range id %d", s.ID, e.Value)
			}
		}
	}

	return nil
}
