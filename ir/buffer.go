package ir

// DefaultPreHeaderSlots is the default number of NOP nodes reserved at
// the front of the buffer, before the loop-header node, for the recorder
// to overwrite in place with pre-loop slot loads without renumbering the
// buffer (spec §9 "Pre-header slot reservation"). The reservation is
// never grown: once it is exhausted, ClaimPreHeaderSlot reports
// NoOperand (see DESIGN.md's Open Question entry).
const DefaultPreHeaderSlots = 16

// Buffer is the bounded, append-only array of IR nodes for one trace,
// plus its parallel snapshot table and shared snapshot-entry pool (spec
// §3 "IR buffer"). Forward-only SSA is the buffer's central invariant:
// every operand ID is either NoOperand or strictly less than its node's
// own ID.
type Buffer struct {
	AnchorPC uint32

	Nodes   []Node
	entries []SnapshotEntry
	Snaps   []Snapshot

	LoopHeader ID
	LoopBack   ID

	// preHeaderUsed tracks how many of the reserved pre-header NOP slots
	// ClaimPreHeaderSlot has handed out, so no slot is handed out twice.
	preHeaderUsed int
	preHeaderCap  int
}

// NewBuffer creates an empty buffer anchored at anchorPC and reserves
// preHeaderSlots NOP nodes (no operands, not dead) at the front for
// ClaimPreHeaderSlot. preHeaderSlots must be even (spec §6
// Configuration); 0 disables the reservation.
func NewBuffer(anchorPC uint32, preHeaderSlots int) *Buffer {
	b := &Buffer{
		AnchorPC:     anchorPC,
		LoopHeader:   NoOperand,
		LoopBack:     NoOperand,
		preHeaderCap: preHeaderSlots,
	}
	for i := 0; i < preHeaderSlots; i++ {
		b.Append(Node{Op: OpNop, A: NoOperand, B: NoOperand})
	}
	return b
}

// Append adds a new node to the end of the buffer and returns its ID.
func (b *Buffer) Append(n Node) ID {
	id := ID(len(b.Nodes))
	n.ID = id
	b.Nodes = append(b.Nodes, n)
	return id
}

// Emit is a convenience wrapper over Append for the common case of a
// value-producing node with up to two operands and an immediate.
func (b *Buffer) Emit(op Op, a, b2 ID, typ Type, imm Imm) ID {
	return b.Append(Node{Op: op, A: a, B: b2, Type: typ, Imm: imm})
}

// At returns a pointer to the node with the given ID for in-place
// mutation (the optimizer's required discipline — spec §4.3).
func (b *Buffer) At(id ID) *Node {
	return &b.Nodes[id]
}

// Len returns the number of nodes currently in the buffer.
func (b *Buffer) Len() int { return len(b.Nodes) }

// reserveEntries appends entries to the shared snapshot-entry pool and
// returns the (start, len) slice describing where they landed.
func (b *Buffer) reserveEntries(entries []SnapshotEntry) (int32, int32) {
	start := int32(len(b.entries))
	b.entries = append(b.entries, entries...)
	return start, int32(len(entries))
}

// EmitSnapshot appends a new snapshot capturing the given live slots at
// resumePC/stackDepth and returns its ID. Guards reference snapshots by
// this ID (spec §4.2 "Snapshot emission").
func (b *Buffer) EmitSnapshot(resumePC uint32, stackDepth int32, entries []SnapshotEntry) int32 {
	start, n := b.reserveEntries(entries)
	id := int32(len(b.Snaps))
	b.Snaps = append(b.Snaps, Snapshot{
		ID:           id,
		ResumePC:     resumePC,
		StackDepth:   stackDepth,
		EntriesStart: start,
		EntriesLen:   n,
	})
	return id
}

// SnapshotEntries returns the entries belonging to snapshot id.
func (b *Buffer) SnapshotEntries(id int32) []SnapshotEntry {
	s := b.Snaps[id]
	return b.entries[s.EntriesStart : s.EntriesStart+s.EntriesLen]
}

// UpdateSnapshotEntry rewrites every occurrence of `from` in every
// snapshot entry to `to`. Optimizer passes that replace an identifier
// (box/unbox elimination, GVN, store forwarding, ...) must call this so
// deopt metadata never points at a dead node (spec §4.3 "Snapshot entries
// referencing a replaced identifier are also updated").
func (b *Buffer) UpdateSnapshotEntry(from, to ID) {
	for i := range b.entries {
		if b.entries[i].Value == from {
			b.entries[i].Value = to
		}
	}
}

// ClaimPreHeaderSlot returns the ID of the next unused reserved NOP slot
// preceding the loop header, or NoOperand if the reservation is
// exhausted. Its caller, the recorder's first-reference slot load,
// aborts the recording when it gets NoOperand.
func (b *Buffer) ClaimPreHeaderSlot() ID {
	if b.preHeaderUsed >= b.preHeaderCap {
		return NoOperand
	}
	id := ID(b.preHeaderUsed)
	b.preHeaderUsed++
	return id
}

// NumLive returns the number of non-dead nodes, a cheap proxy for
// compiled-code size used in diagnostics.
func (b *Buffer) NumLive() int {
	n := 0
	for i := range b.Nodes {
		if !b.Nodes[i].IsDead() {
			n++
		}
	}
	return n
}
