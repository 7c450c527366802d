// Package ir is the typed SSA intermediate representation the recorder
// emits, the optimizer rewrites, and the register allocator and code
// generator consume. It is deliberately represented as a flat,
// append-only array of fixed-size nodes addressed by their own array
// position (spec §3, §9 "Forward-only SSA as an array"): this gives
// trivial dominance (position order), dense bitsets for liveness, and
// cheap snapshot-entry references, the same tradeoff the teacher VM makes
// by keeping its bytecode program a flat []Instruction addressed by pc.
package ir

// Op is the opcode of an IR node. The opcode set below is a design
// contract (spec §4.2): every optimizer pass and the code generator must
// handle every one of these.
type Op uint8

const (
	OpNop Op = iota

	// Constants.
	OpConstNum  // double literal
	OpConstBool // bool literal
	OpConstNull // the null singleton
	OpConstObj  // object-constant pointer (GC root)
	OpConstInt  // integer literal

	// Arithmetic, operating on unboxed doubles unless retyped to integer
	// by pass 12 (spec §4.3 Pass 12).
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg

	// Comparisons, producing a native boolean.
	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpNe

	// Bitwise, operating on integers.
	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitNot
	OpShl
	OpAsr // arithmetic shift right

	// Stack slot load/store.
	OpSlotLoad
	OpSlotStore

	// Object field load/store.
	OpFieldLoad
	OpFieldStore

	// Module-variable load/store.
	OpModLoad
	OpModStore

	// NaN-boxing conversions.
	OpBoxNum
	OpUnboxNum
	OpBoxObj
	OpUnboxObj
	OpBoxBool
	OpUnboxBool
	OpBoxInt
	OpUnboxInt

	// Guards: assert a runtime condition, side-exiting through the
	// referenced snapshot if it fails.
	OpGuardIsNumber
	OpGuardIsClass
	OpGuardIsTruthy
	OpGuardIsFalsy
	OpGuardIsNotNull

	// Control.
	OpPhi
	OpLoopHeader
	OpLoopBack
	OpSideExit
	OpSnapshot

	// Calls.
	OpCallPrimitive
	OpCallMethod

	opCount
)

var opNames = [opCount]string{
	OpNop:            "nop",
	OpConstNum:       "const.num",
	OpConstBool:      "const.bool",
	OpConstNull:      "const.null",
	OpConstObj:       "const.obj",
	OpConstInt:       "const.int",
	OpAdd:            "add",
	OpSub:            "sub",
	OpMul:            "mul",
	OpDiv:            "div",
	OpMod:            "mod",
	OpNeg:            "neg",
	OpLt:             "lt",
	OpLe:             "le",
	OpGt:             "gt",
	OpGe:             "ge",
	OpEq:             "eq",
	OpNe:             "ne",
	OpBitAnd:         "and",
	OpBitOr:          "or",
	OpBitXor:         "xor",
	OpBitNot:         "not",
	OpShl:            "shl",
	OpAsr:            "asr",
	OpSlotLoad:       "slot.load",
	OpSlotStore:      "slot.store",
	OpFieldLoad:      "field.load",
	OpFieldStore:     "field.store",
	OpModLoad:        "mod.load",
	OpModStore:       "mod.store",
	OpBoxNum:         "box.num",
	OpUnboxNum:       "unbox.num",
	OpBoxObj:         "box.obj",
	OpUnboxObj:       "unbox.obj",
	OpBoxBool:        "box.bool",
	OpUnboxBool:      "unbox.bool",
	OpBoxInt:         "box.int",
	OpUnboxInt:       "unbox.int",
	OpGuardIsNumber:  "guard.number",
	OpGuardIsClass:   "guard.class",
	OpGuardIsTruthy:  "guard.truthy",
	OpGuardIsFalsy:   "guard.falsy",
	OpGuardIsNotNull: "guard.notnull",
	OpPhi:            "phi",
	OpLoopHeader:     "loop.header",
	OpLoopBack:       "loop.back",
	OpSideExit:       "side.exit",
	OpSnapshot:       "snapshot",
	OpCallPrimitive:  "call.primitive",
	OpCallMethod:     "call.method",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "?unknown-op?"
}

// IsGuard reports whether op is one of the guard opcodes.
func (op Op) IsGuard() bool {
	switch op {
	case OpGuardIsNumber, OpGuardIsClass, OpGuardIsTruthy, OpGuardIsFalsy, OpGuardIsNotNull:
		return true
	}
	return false
}

// HasSideEffect reports whether op must never be deduplicated, reordered
// across, or removed as dead without root analysis: stores, guards,
// calls, snapshots, side exits, and loop control (spec §4.3 Pass 4, 10).
func (op Op) HasSideEffect() bool {
	switch {
	case op.IsGuard():
		return true
	}
	switch op {
	case OpSlotStore, OpFieldStore, OpModStore,
		OpCallPrimitive, OpCallMethod,
		OpSnapshot, OpSideExit,
		OpLoopHeader, OpLoopBack, OpPhi:
		return true
	}
	return false
}

// IsArithmetic reports whether op is one of the arithmetic opcodes pass 3
// and pass 11 treat as always producing a number (absent retyping to
// integer by pass 12).
func (op Op) IsArithmetic() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpNeg:
		return true
	}
	return false
}

// IsCompare reports whether op is a comparison opcode.
func (op Op) IsCompare() bool {
	switch op {
	case OpLt, OpLe, OpGt, OpGe, OpEq, OpNe:
		return true
	}
	return false
}

// IsBitwise reports whether op is a bitwise opcode.
func (op Op) IsBitwise() bool {
	switch op {
	case OpBitAnd, OpBitOr, OpBitXor, OpBitNot, OpShl, OpAsr:
		return true
	}
	return false
}

// IsConst reports whether op produces a compile-time-known immediate.
func (op Op) IsConst() bool {
	switch op {
	case OpConstNum, OpConstBool, OpConstNull, OpConstObj, OpConstInt:
		return true
	}
	return false
}

// Type is the result type of an IR node.
type Type uint8

const (
	TypeVoid Type = iota
	TypeF64       // unboxed double
	TypeBool      // native boolean
	TypeBoxed     // boxed value.Value
	TypePtr       // raw pointer (object, unboxed)
	TypeInt       // unboxed integer (IV specialization)
)

func (t Type) String() string {
	switch t {
	case TypeVoid:
		return "void"
	case TypeF64:
		return "f64"
	case TypeBool:
		return "bool"
	case TypeBoxed:
		return "boxed"
	case TypePtr:
		return "ptr"
	case TypeInt:
		return "int"
	default:
		return "?type?"
	}
}
