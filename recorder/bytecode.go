// Package recorder implements the trace recorder spec §4.2 describes:
// walk the interpreter's bytecode one instruction at a time from a hot
// anchor point, building an ir.Buffer by type-specializing each
// instruction against a lazily-populated slot map, until either a
// backward branch to the anchor completes the loop or an unsupported
// construct aborts the recording.
//
// Grounded on GVM's bytecode.go/vm.go: a flat, pc-addressed instruction
// array dispatched through a big switch over Op is the same idiom this
// package's Program/Instr pair generalizes to a NaN-boxed, slot-based
// (rather than GVM's raw 32-bit register) instruction set. The recorder
// depends only on the small Program interface below — never on package
// host directly — so host can implement Program against its own
// concrete bytecode without host, jit and recorder forming an import
// cycle (the same any-typed decoupling asmcontract.EntryArgs uses for
// host.VM/host.Fiber).
package recorder

// Op is one bytecode instruction's opcode. This is the interpreter's
// instruction set, not the optimizer's IR opcode set in package ir,
// though the two are deliberately close to a 1:1 mapping since a
// register/slot bytecode is exactly what the recorder type-specializes
// into SSA.
type Op uint8

const (
	OpNop Op = iota

	OpLoadConstNum  // Dst = pool[Imm] (float64)
	OpLoadConstBool // Dst = Imm != 0
	OpLoadConstNull // Dst = null
	OpLoadConstObj  // Dst = pool[Imm] (object handle)
	OpLoadConstInt  // Dst = Imm (exact integer)

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg

	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpNe

	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitNot
	OpShl
	OpAsr

	OpFieldLoad  // Dst = A.fields[Imm]
	OpFieldStore // A.fields[Imm] = B
	OpModLoad    // Dst = module[Imm]
	OpModStore   // module[Imm] = A

	OpCallPrimitive // Dst = primitive[Imm](A [, B])
	OpCallMethod    // Dst = A.Imm(B), monomorphic-inlinable call

	OpJumpIfFalse // if !truthy(A) goto Imm
	OpJumpIfTrue  // if truthy(A) goto Imm
	OpJump        // goto Imm
	OpReturn      // end of function: never recorded past

	opCount
)

var opNames = [opCount]string{
	OpNop:           "nop",
	OpLoadConstNum:  "load.num",
	OpLoadConstBool: "load.bool",
	OpLoadConstNull: "load.null",
	OpLoadConstObj:  "load.obj",
	OpLoadConstInt:  "load.int",
	OpAdd:           "add",
	OpSub:           "sub",
	OpMul:           "mul",
	OpDiv:           "div",
	OpMod:           "mod",
	OpNeg:           "neg",
	OpLt:            "lt",
	OpLe:            "le",
	OpGt:            "gt",
	OpGe:            "ge",
	OpEq:            "eq",
	OpNe:            "ne",
	OpBitAnd:        "and",
	OpBitOr:         "or",
	OpBitXor:        "xor",
	OpBitNot:        "not",
	OpShl:           "shl",
	OpAsr:           "asr",
	OpFieldLoad:     "field.load",
	OpFieldStore:    "field.store",
	OpModLoad:       "mod.load",
	OpModStore:      "mod.store",
	OpCallPrimitive: "call.primitive",
	OpCallMethod:    "call.method",
	OpJumpIfFalse:   "jump.iffalse",
	OpJumpIfTrue:    "jump.iftrue",
	OpJump:          "jump",
	OpReturn:        "return",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "?unknown-op?"
}

func (op Op) isArithmetic() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpNeg:
		return true
	}
	return false
}

func (op Op) isCompare() bool {
	switch op {
	case OpLt, OpLe, OpGt, OpGe, OpEq, OpNe:
		return true
	}
	return false
}

func (op Op) isBitwise() bool {
	switch op {
	case OpBitAnd, OpBitOr, OpBitXor, OpBitNot, OpShl, OpAsr:
		return true
	}
	return false
}

// Instr is one fetched bytecode instruction: an opcode, up to two slot
// operands, a destination slot (when the op produces a value), and a
// single immediate whose meaning depends on Op (constant-pool index,
// field index, module address, jump target, or primitive handle) —
// GVM's own Instruction struct is the same "flat struct, meaning keyed
// by opcode" shape.
type Instr struct {
	Op       Op
	Dst      int32
	A, B     int32 // slot indices, or NoSlot
	Imm      int64
	// ImmClass is, for OpCallMethod only, the class handle the
	// interpreter's own inline cache observed at this call site before
	// ever reaching the recorder; the recorder turns it into a class
	// guard rather than re-deriving it; if the class does not hold at
	// runtime, the trace side-exits through that guard (spec §4.2
	// "method-symbol inlining ... requiring a class guard first").
	ImmClass int64
}

// NoSlot marks an unused slot operand.
const NoSlot int32 = -1

// Program is the minimal read-only view into the interpreter's compiled
// bytecode and constant data the recorder needs while tracing.
// host.Routine implements this; recorder never imports package host.
type Program interface {
	// Fetch returns the instruction at pc, or ok=false if pc is out of
	// range (the recorder treats that as an abort, never a panic).
	Fetch(pc uint32) (instr Instr, ok bool)
	ConstNum(idx int64) (value float64, ok bool)
	ConstObj(idx int64) (handle uint64, ok bool)
}
