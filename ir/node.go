package ir

// ID identifies an IR node by its position in the owning Buffer. SSA
// discipline is forward-only: every operand ID of a node is either
// NoOperand or strictly less than the node's own ID (spec §3).
type ID int32

// NoOperand is the sentinel meaning "this operand slot is unused."
const NoOperand ID = -1

// Flags is a bitset of per-node annotations the optimizer passes set.
type Flags uint8

const (
	FlagDead Flags = 1 << iota
	FlagLoopInvariant
	FlagHoisted
	FlagIsGuard
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Imm is the immediate payload carried by some nodes. Exactly which
// field is meaningful is determined by Op (and occasionally Type); this
// mirrors spec §3's "a union over: double literal, integer literal,
// pointer literal, object-constant pointer, stack slot + field index
// pair, snapshot identifier" with a plain struct, since Go has no
// tagged-union primitive (spec §9 "replace the union/variant encoding of
// the IR node immediate with a tagged sum" — here the Op already is that
// tag, so a flat struct suffices without a second discriminant).
type Imm struct {
	F64    float64 // OpConstNum
	I64    int64   // OpConstInt, OpConstObj (pointer handle), module-variable absolute address
	Slot   int32   // OpSlotLoad/Store: interpreter stack slot index
	Field  int32   // OpFieldLoad/Store: field index within the object
	Class  int64   // OpGuardIsClass: expected class pointer handle
	SnapID int32   // guards: snapshot this guard side-exits to
}

// Node is one SSA instruction.
type Node struct {
	ID   ID
	Op   Op
	A, B ID // operand identifiers, or NoOperand
	Type Type
	Imm  Imm

	Flags Flags
}

// IsDead reports whether the node has been converted to a no-op by the
// optimizer.
func (n *Node) IsDead() bool { return n.Flags.Has(FlagDead) }

// Kill converts n into a dead NOP in place, per spec §4.3: "Each pass
// rewrites nodes in place and may mark nodes dead (converted to NOP) but
// never reorders non-NOP instructions."
func (n *Node) Kill() {
	n.Op = OpNop
	n.A, n.B = NoOperand, NoOperand
	n.Imm = Imm{}
	n.Flags |= FlagDead
}

// ReplaceOperand rewrites every operand of n that currently reads
// `from` to instead read `to`. Used by every pass that cancels or
// forwards a value (box/unbox elimination, GVN, store-to-load
// forwarding, ...).
func (n *Node) ReplaceOperand(from, to ID) {
	if n.A == from {
		n.A = to
	}
	if n.B == from {
		n.B = to
	}
}
