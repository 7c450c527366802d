// Package asmcontract states the interface the JIT's code generator
// consumes from "a portable low-level assembler" (spec §6). The
// specification explicitly places the assembler out of scope for the
// CORE ("the portable assembler library used to emit native code" — §1
// Out of scope): this package only names the contract, shaped after
// tetratelabs/wazero's internal assembler
// (_examples/other_examples/db10b0bc_grafana-k6__vendor-...-internal-asm
// -assembler.go.go) — a compiler object, one/two-operand GP and FP
// emission, labels with late-bound jumps, a return instruction, a
// configurable prologue/epilogue, and an explicit-lifetime
// generate-code step. wazero's package is internal to its own module and
// so cannot be imported directly; this is our own restatement of the
// same shape. See package genasm for the one concrete implementation
// this repository provides, and DESIGN.md for why it is pure Go rather
// than a native encoder.
package asmcontract

// RegClass is one of the two register classes the register allocator
// assigns into (spec §4.4): general-purpose (integers, pointers, boxed
// values) or floating-point (unboxed doubles).
type RegClass uint8

const (
	GP RegClass = iota
	FP
)

func (c RegClass) String() string {
	if c == FP {
		return "fp"
	}
	return "gp"
}

// Reg is a physical register handle: a class plus an index within that
// class's register file. Index numbering is the assembler
// implementation's own business; codegen only ever holds register
// values handed back by Assembler methods or produced by the register
// allocator.
type Reg struct {
	Class RegClass
	Index int
}

// Cond is a comparison/guard condition code.
type Cond uint8

const (
	CondLt Cond = iota
	CondLe
	CondGt
	CondGe
	CondEq
	CondNe
)

// GP1Op is a one-operand general-purpose operation.
type GP1Op uint8

const (
	GP1Neg GP1Op = iota
	GP1Not
)

// GP2Op is a two-operand general-purpose operation: dst = dst <op> src.
type GP2Op uint8

const (
	GP2Add GP2Op = iota
	GP2Sub
	GP2Mul
	GP2Div
	GP2Mod
	GP2And
	GP2Or
	GP2Xor
	GP2Shl
	GP2Asr
	GP2Move
)

// FP1Op is a one-operand floating-point operation.
type FP1Op uint8

const (
	FP1Neg FP1Op = iota
)

// FP2Op is a two-operand floating-point operation: dst = dst <op> src.
type FP2Op uint8

const (
	FP2Add FP2Op = iota
	FP2Sub
	FP2Mul
	FP2Div
	FP2Mod
	FP2Move
)

// Label is an opaque, late-bindable jump target: Assembler.Jump and the
// guard-emission methods may reference a Label before Bind is called on
// it (a forward jump), matching wazero's Node.AssignJumpTarget model.
type Label interface {
	// Name is purely cosmetic, used by diagnostics/IR dumps.
	Name() string
}

// FrameConfig configures the prologue/epilogue emission: how many
// general-purpose and floating-point registers are reserved as
// callee-saved vs. scratch, and how many 8-byte spill slots the frame
// needs (spec §4.5 "Prologue").
type FrameConfig struct {
	ScratchGP int
	SavedGP   int
	ScratchFP int
	SavedFP   int
	// SpillSlots is the number of 8-byte local spill slots the register
	// allocator requested (spec §4.4 "the allocator records the total
	// number of spill slots used so the code generator can size the
	// frame").
	SpillSlots int
}

// ExecBuffer is the "executable buffer whose lifetime is managed
// explicitly" spec §6 requires the assembler's generate-code step to
// yield. Release must be idempotent; a CompiledTrace calls it exactly
// once, when the trace is evicted from the cache or the VM shuts down
// (spec §3 "Compiled trace ... destroyed when the cache evicts it or at
// VM shutdown").
type ExecBuffer interface {
	// Run executes the compiled trace with the four standard entry
	// arguments (spec §4.5 Prologue) and returns the exit code: 0 for
	// completion, N for side-exit stub N-1 / snapshot N-1 (spec §4.7).
	Run(args EntryArgs) int32
	Release()
}

// EntryArgs are the four pointer-sized arguments every compiled trace's
// native entry point takes (spec §4.5): the VM, the fiber, the
// interpreter frame's stack-slot base, and the module-variable base.
// Concrete types live in package host; asmcontract and genasm only see
// them as opaque `any` to avoid a dependency cycle between the CORE and
// the reference host.
type EntryArgs struct {
	VM         any
	Fiber      any
	StackSlots []uint64 // NaN-boxed value.Value bits, one per interpreter stack slot
	ModuleVars []uint64 // NaN-boxed value.Value bits, one per module variable
	Objects    ObjectAccess
}

// ObjectAccess is the minimal field-access surface the code generator's
// field-load/store and class-guard lowering needs from the host's object
// model (spec §6 "Object header layout (consumed)"). A real native
// backend would instead compute `object pointer + header-size + field*8`
// directly in the generated machine code; genasm's pure-Go backend calls
// back into this interface instead, since it has no raw pointers to
// dereference.
type ObjectAccess interface {
	ClassOf(handle uint64) int64
	FieldCount(handle uint64) int
	LoadField(handle uint64, field int32) uint64
	StoreField(handle uint64, field int32, bits uint64)
}

// Assembler is the compiler object spec §6 describes: "emit of one- and
// two-operand general-purpose and floating-point operations, labels and
// forward/backward jumps with late binding, a return instruction, a
// function prologue/epilogue with configurable scratch/saved counts, and
// a generate-code step yielding an executable buffer whose lifetime is
// managed explicitly."
type Assembler interface {
	NewLabel(name string) Label
	Bind(l Label)

	Prologue(cfg FrameConfig)
	Epilogue()
	// Return emits the trace's successful-return sequence (exit code 0).
	Return()
	// ReturnExit emits a side-exit stub's return sequence for the given
	// 1-based exit index (spec §4.5 "Side-exit stubs").
	ReturnExit(exitIndex int32)

	MoveImmGP(dst Reg, imm uint64)
	MoveImmFP(dst Reg, imm float64)

	EmitGP1(op GP1Op, dst Reg)
	EmitGP2(op GP2Op, dst, src Reg)
	EmitFP1(op FP1Op, dst Reg)
	EmitFP2(op FP2Op, dst, src Reg)

	// Compare* materialize a native boolean (0 or 1) into dst.
	CompareGP(dst Reg, a, b Reg, cond Cond)
	CompareFP(dst Reg, a, b Reg, cond Cond)

	LoadSlot(dst Reg, slot int32)
	StoreSlot(slot int32, src Reg)
	LoadField(dst Reg, obj Reg, field int32)
	StoreField(obj Reg, field int32, src Reg)
	LoadModuleVar(dst Reg, addr int32)
	StoreModuleVar(addr int32, src Reg)

	LoadSpill(dst Reg, slot int32)
	StoreSpill(slot int32, src Reg)

	// BitsGPToFP/BitsFPToGP reinterpret a register's raw bits across
	// classes — how box-number
	// and unbox-number move a value between the FP and GP files without
	// any numeric conversion (spec §4.5).
	BitsGPToFP(dst, src Reg)
	BitsFPToGP(dst, src Reg)

	BoxBool(dst, src Reg)
	UnboxBool(dst, src Reg)
	BoxObject(dst, src Reg)
	UnboxObject(dst, src Reg)
	BoxInt(dst, src Reg)
	UnboxInt(dst, src Reg)

	// Guard* emit a conditional branch to exit's side-exit stub if the
	// condition fails (spec §4.5 "Every guard emits a conditional branch
	// to the snapshot's side-exit stub").
	GuardIsNumber(v Reg, exit Label)
	GuardIsClass(obj Reg, class int64, exit Label)
	GuardTruthy(v Reg, exit Label)
	GuardFalsy(v Reg, exit Label)
	GuardNotNull(v Reg, exit Label)

	Jump(target Label)
	// JumpIfZero/JumpIfNotZero are used by guard lowering to branch to a
	// side-exit stub; exposed directly for guards that test a register
	// against zero (e.g. native-boolean truthy/falsy checks).
	JumpIfZero(v Reg, target Label)
	JumpIfNotZero(v Reg, target Label)

	// CallPrimitive invokes a host primitive function identified by a
	// constant handle with the given argument registers, leaving the
	// result in dst.
	CallPrimitive(dst Reg, fn int64, args []Reg)

	Generate() (ExecBuffer, error)
}
