// Package codegen lowers one optimized trace's ir.Buffer into native code
// through an asmcontract.Assembler (spec §4.5): a standard four-argument
// prologue/epilogue, a per-node lowering table driven by ir.Op and
// ir.Type, one side-exit stub per snapshot, and a GC-root list collected
// from every live object-constant node.
//
// Grounded on GVM's own bytecode.go compiler, which walks a flat
// instruction array once and emits into a second flat array in the same
// order, patching jump targets via a label table rather than a tree
// walk — the same shape this package uses against ir.Buffer and
// asmcontract.Label instead of GVM's own bytecode and patch list.
package codegen

import (
	"fmt"

	"github.com/tracejit/tracejit/asmcontract"
	"github.com/tracejit/tracejit/ir"
	"github.com/tracejit/tracejit/regalloc"
	"github.com/tracejit/tracejit/value"
)

// Config bounds the allocatable register pools handed to regalloc before
// lowering; it mirrors the FrameConfig reservation split (spec §4.4 "two
// registers in each class are reserved as allocator-unavailable
// scratch").
type Config struct {
	GPRegisters int
	FPRegisters int
}

// DefaultConfig's counts become FrameConfig.SavedGP/SavedFP, from which
// genasm's Prologue sizes its execContext register files; a real native
// target would size these to the host ISA's register count minus its
// own ABI reservations.
func DefaultConfig() Config {
	return Config{GPRegisters: 10, FPRegisters: 8}
}

const scratchPerClass = 2

// SnapshotMeta is a compiled trace's own copy of one ir.Snapshot plus its
// entries, taken at lowering time since the IR buffer itself is freed
// once compilation finishes (spec §4.7 "the deopt path consults only the
// compiled trace's own copy of the snapshot").
type SnapshotMeta struct {
	ResumePC   uint32
	StackDepth int32
	Entries    []ir.SnapshotEntry
}

// CompiledTrace is the code generator's output: the executable buffer, a
// copy of every snapshot in the buffer, the GC roots recorded from
// object-constant nodes, and the running enter/exit counters §4.1's hot
// counting and §4.7's executor read back.
type CompiledTrace struct {
	AnchorPC  uint32
	Buf       asmcontract.ExecBuffer
	Snapshots []SnapshotMeta
	Roots     []uint64

	Enters int64
	Exits  int64
}

// Release frees the underlying executable buffer. Idempotent because
// asmcontract.ExecBuffer.Release is required to be.
func (t *CompiledTrace) Release() {
	if t != nil && t.Buf != nil {
		t.Buf.Release()
	}
}

func classOf(t ir.Type) asmcontract.RegClass {
	if t == ir.TypeF64 {
		return asmcontract.FP
	}
	return asmcontract.GP
}

// lowerer carries the state threaded through one Lower call.
type lowerer struct {
	b     *ir.Buffer
	alloc *regalloc.Result
	asm   asmcontract.Assembler
	frame asmcontract.FrameConfig

	exitLabels []asmcontract.Label
	header     asmcontract.Label

	lowered map[ir.ID]bool
	roots   []uint64
}

func (lw *lowerer) physical(r asmcontract.Reg) asmcontract.Reg {
	if r.Class == asmcontract.FP {
		return asmcontract.Reg{Class: asmcontract.FP, Index: r.Index + lw.frame.ScratchFP}
	}
	return asmcontract.Reg{Class: asmcontract.GP, Index: r.Index + lw.frame.ScratchGP}
}

// read materializes id's value into a register ready to be read,
// reloading from its spill slot into the given scratch index (0 or 1)
// when the allocator spilled it. Two distinct scratch slots let a single
// two-operand instruction have both operands live at once even if both
// happen to be spilled.
func (lw *lowerer) read(id ir.ID, scratchSlot int) asmcontract.Reg {
	if id == ir.NoOperand {
		return asmcontract.Reg{}
	}
	n := lw.b.At(id)
	class := classOf(n.Type)
	a, ok := lw.alloc.Alloc[id]
	if !ok {
		// A dead or void-typed operand (e.g. a control node) regalloc
		// never assigned; callers never actually read its register.
		return asmcontract.Reg{Class: class, Index: scratchSlot}
	}
	if a.Kind == regalloc.AllocRegister {
		return lw.physical(a.Reg)
	}
	r := asmcontract.Reg{Class: class, Index: scratchSlot}
	lw.asm.LoadSpill(r, a.Spill)
	return r
}

// write returns the register a node's result should be computed into and
// a commit closure that writes it back to its spill slot, if any, once
// the value is ready.
func (lw *lowerer) write(id ir.ID) (asmcontract.Reg, func()) {
	n := lw.b.At(id)
	class := classOf(n.Type)
	a := lw.alloc.Alloc[id]
	if a.Kind == regalloc.AllocRegister {
		return lw.physical(a.Reg), func() {}
	}
	r := asmcontract.Reg{Class: class, Index: 0}
	return r, func() { lw.asm.StoreSpill(a.Spill, r) }
}

func (lw *lowerer) moveInto(dst, src asmcontract.Reg, class asmcontract.RegClass) {
	if dst == src {
		return
	}
	if class == asmcontract.FP {
		lw.asm.EmitFP2(asmcontract.FP2Move, dst, src)
	} else {
		lw.asm.EmitGP2(asmcontract.GP2Move, dst, src)
	}
}

var gp2ForArith = map[ir.Op]asmcontract.GP2Op{
	ir.OpAdd:    asmcontract.GP2Add,
	ir.OpSub:    asmcontract.GP2Sub,
	ir.OpMul:    asmcontract.GP2Mul,
	ir.OpDiv:    asmcontract.GP2Div,
	ir.OpMod:    asmcontract.GP2Mod,
	ir.OpBitAnd: asmcontract.GP2And,
	ir.OpBitOr:  asmcontract.GP2Or,
	ir.OpBitXor: asmcontract.GP2Xor,
	ir.OpShl:    asmcontract.GP2Shl,
	ir.OpAsr:    asmcontract.GP2Asr,
}

var fp2ForArith = map[ir.Op]asmcontract.FP2Op{
	ir.OpAdd: asmcontract.FP2Add,
	ir.OpSub: asmcontract.FP2Sub,
	ir.OpMul: asmcontract.FP2Mul,
	ir.OpDiv: asmcontract.FP2Div,
	ir.OpMod: asmcontract.FP2Mod,
}

var condForCompare = map[ir.Op]asmcontract.Cond{
	ir.OpLt: asmcontract.CondLt,
	ir.OpLe: asmcontract.CondLe,
	ir.OpGt: asmcontract.CondGt,
	ir.OpGe: asmcontract.CondGe,
	ir.OpEq: asmcontract.CondEq,
	ir.OpNe: asmcontract.CondNe,
}

// lowerNode emits the native sequence for one non-dead, non-control node.
// OpPhi, OpLoopHeader and OpLoopBack are handled specially by Lower and
// never reach here.
func (lw *lowerer) lowerNode(n *ir.Node) error {
	switch {
	case n.Op == ir.OpConstNum:
		dst, commit := lw.write(n.ID)
		lw.asm.MoveImmFP(dst, n.Imm.F64)
		commit()
	case n.Op == ir.OpConstBool:
		dst, commit := lw.write(n.ID)
		lw.asm.MoveImmGP(dst, value.Bool(n.Imm.I64 != 0).Bits())
		commit()
	case n.Op == ir.OpConstNull:
		dst, commit := lw.write(n.ID)
		lw.asm.MoveImmGP(dst, value.Null.Bits())
		commit()
	case n.Op == ir.OpConstObj:
		dst, commit := lw.write(n.ID)
		bits := uint64(n.Imm.I64)
		lw.asm.MoveImmGP(dst, bits)
		lw.roots = append(lw.roots, bits)
		commit()
	case n.Op == ir.OpConstInt:
		dst, commit := lw.write(n.ID)
		lw.asm.MoveImmGP(dst, uint64(n.Imm.I64))
		commit()

	case n.Op.IsArithmetic() && n.Op != ir.OpNeg:
		dst, commit := lw.write(n.ID)
		a := lw.read(n.A, 0)
		b := lw.read(n.B, 1)
		class := classOf(n.Type)
		lw.moveInto(dst, a, class)
		if class == asmcontract.FP {
			lw.asm.EmitFP2(fp2ForArith[n.Op], dst, b)
		} else {
			lw.asm.EmitGP2(gp2ForArith[n.Op], dst, b)
		}
		commit()
	case n.Op == ir.OpNeg:
		dst, commit := lw.write(n.ID)
		a := lw.read(n.A, 0)
		class := classOf(n.Type)
		lw.moveInto(dst, a, class)
		if class == asmcontract.FP {
			lw.asm.EmitFP1(asmcontract.FP1Neg, dst)
		} else {
			lw.asm.EmitGP1(asmcontract.GP1Neg, dst)
		}
		commit()

	case n.Op.IsCompare():
		dst, commit := lw.write(n.ID)
		operandClass := classOf(lw.b.At(n.A).Type)
		a := lw.read(n.A, 0)
		b := lw.read(n.B, 1)
		if operandClass == asmcontract.FP {
			lw.asm.CompareFP(dst, a, b, condForCompare[n.Op])
		} else {
			lw.asm.CompareGP(dst, a, b, condForCompare[n.Op])
		}
		commit()

	case n.Op == ir.OpBitNot:
		dst, commit := lw.write(n.ID)
		a := lw.read(n.A, 0)
		lw.moveInto(dst, a, asmcontract.GP)
		lw.asm.EmitGP1(asmcontract.GP1Not, dst)
		commit()

	case n.Op == ir.OpSlotLoad:
		dst, commit := lw.write(n.ID)
		lw.asm.LoadSlot(dst, n.Imm.Slot)
		commit()
	case n.Op == ir.OpSlotStore:
		src := lw.read(n.A, 0)
		lw.asm.StoreSlot(n.Imm.Slot, src)
	case n.Op == ir.OpFieldLoad:
		dst, commit := lw.write(n.ID)
		obj := lw.read(n.A, 0)
		lw.asm.LoadField(dst, obj, n.Imm.Field)
		commit()
	case n.Op == ir.OpFieldStore:
		obj := lw.read(n.A, 0)
		src := lw.read(n.B, 1)
		lw.asm.StoreField(obj, n.Imm.Field, src)
	case n.Op == ir.OpModLoad:
		dst, commit := lw.write(n.ID)
		lw.asm.LoadModuleVar(dst, int32(n.Imm.I64))
		commit()
	case n.Op == ir.OpModStore:
		src := lw.read(n.A, 0)
		lw.asm.StoreModuleVar(int32(n.Imm.I64), src)

	case n.Op == ir.OpBoxNum:
		dst, commit := lw.write(n.ID)
		src := lw.read(n.A, 0)
		lw.asm.BitsFPToGP(dst, src)
		commit()
	case n.Op == ir.OpUnboxNum:
		dst, commit := lw.write(n.ID)
		src := lw.read(n.A, 0)
		lw.asm.BitsGPToFP(dst, src)
		commit()
	case n.Op == ir.OpBoxObj:
		dst, commit := lw.write(n.ID)
		src := lw.read(n.A, 0)
		lw.asm.BoxObject(dst, src)
		commit()
	case n.Op == ir.OpUnboxObj:
		dst, commit := lw.write(n.ID)
		src := lw.read(n.A, 0)
		lw.asm.UnboxObject(dst, src)
		commit()
	case n.Op == ir.OpBoxBool:
		dst, commit := lw.write(n.ID)
		src := lw.read(n.A, 0)
		lw.asm.BoxBool(dst, src)
		commit()
	case n.Op == ir.OpUnboxBool:
		dst, commit := lw.write(n.ID)
		src := lw.read(n.A, 0)
		lw.asm.UnboxBool(dst, src)
		commit()
	case n.Op == ir.OpBoxInt:
		dst, commit := lw.write(n.ID)
		src := lw.read(n.A, 0)
		lw.asm.BoxInt(dst, src)
		commit()
	case n.Op == ir.OpUnboxInt:
		dst, commit := lw.write(n.ID)
		src := lw.read(n.A, 0)
		lw.asm.UnboxInt(dst, src)
		commit()

	case n.Op.IsGuard():
		exit := lw.exitLabels[n.Imm.SnapID]
		v := lw.read(n.A, 0)
		switch n.Op {
		case ir.OpGuardIsNumber:
			lw.asm.GuardIsNumber(v, exit)
		case ir.OpGuardIsClass:
			lw.asm.GuardIsClass(v, n.Imm.Class, exit)
		case ir.OpGuardIsTruthy:
			// A native boolean (a compare result, 0 or 1) is tested
			// against zero; a boxed value uses the false/null test.
			if lw.b.At(n.A).Type == ir.TypeBool {
				lw.asm.JumpIfZero(v, exit)
			} else {
				lw.asm.GuardTruthy(v, exit)
			}
		case ir.OpGuardIsFalsy:
			if lw.b.At(n.A).Type == ir.TypeBool {
				lw.asm.JumpIfNotZero(v, exit)
			} else {
				lw.asm.GuardFalsy(v, exit)
			}
		case ir.OpGuardIsNotNull:
			lw.asm.GuardNotNull(v, exit)
		}

	case n.Op == ir.OpSideExit:
		lw.asm.Jump(lw.exitLabels[n.Imm.SnapID])
	case n.Op == ir.OpSnapshot:
		// Metadata only; copied out in Lower once lowering finishes.

	case n.Op == ir.OpCallPrimitive || n.Op == ir.OpCallMethod:
		dst, commit := lw.write(n.ID)
		var args []asmcontract.Reg
		if n.A != ir.NoOperand {
			args = append(args, lw.read(n.A, 0))
		}
		if n.B != ir.NoOperand {
			args = append(args, lw.read(n.B, 1))
		}
		lw.asm.CallPrimitive(dst, n.Imm.I64, args)
		commit()

	default:
		return fmt.Errorf("codegen: no lowering for op %s", n.Op)
	}
	return nil
}

// phiInit emits, once, before the native loop-header label, the move
// that seeds a phi's physical location with its pre-loop value.
func (lw *lowerer) phiInit(id ir.ID) {
	n := lw.b.At(id)
	class := classOf(n.Type)
	dst, commit := lw.write(id)
	src := lw.read(n.A, 0)
	lw.moveInto(dst, src, class)
	commit()
}

// phiAdvance emits, once, immediately before the native backward jump,
// the move that carries a phi's back-edge value into its physical
// location for the next iteration.
func (lw *lowerer) phiAdvance(id ir.ID) {
	n := lw.b.At(id)
	class := classOf(n.Type)
	dst, commit := lw.write(id)
	src := lw.read(n.B, 1)
	lw.moveInto(dst, src, class)
	commit()
}

// Lower walks b in order and emits b's native trace through asm,
// producing a CompiledTrace. alloc must be the result of running
// regalloc.Allocate over the same, already-optimized buffer.
func Lower(b *ir.Buffer, alloc *regalloc.Result, asm asmcontract.Assembler, cfg Config) (*CompiledTrace, error) {
	frame := asmcontract.FrameConfig{
		ScratchGP:  scratchPerClass,
		SavedGP:    cfg.GPRegisters,
		ScratchFP:  scratchPerClass,
		SavedFP:    cfg.FPRegisters,
		SpillSlots: int(alloc.NumSpillSlots),
	}
	asm.Prologue(frame)

	lw := &lowerer{b: b, alloc: alloc, asm: asm, frame: frame, lowered: make(map[ir.ID]bool)}

	lw.exitLabels = make([]asmcontract.Label, len(b.Snaps))
	for i := range b.Snaps {
		lw.exitLabels[i] = asm.NewLabel(fmt.Sprintf("exit%d", i+1))
	}

	hasLoop := b.LoopHeader != ir.NoOperand
	if hasLoop {
		lw.header = asm.NewLabel("loop_header")
	}

	// Every node up to (and, when there is no loop, including) the loop
	// header lowers in its natural array position: dead nodes and
	// unclaimed pre-header NOPs are skipped, and any pre-loop setup runs
	// once, before the loop proper.
	upTo := len(b.Nodes)
	if hasLoop {
		upTo = int(b.LoopHeader)
	}
	for i := 0; i < upTo; i++ {
		n := &b.Nodes[i]
		if n.IsDead() || n.Op == ir.OpNop {
			continue
		}
		if err := lw.lowerNode(n); err != nil {
			return nil, err
		}
	}

	if !hasLoop {
		asm.Return()
		return lw.finish(b)
	}

	// Flag-based LICM/guard-hoisting (spec §4.3 passes 5-6) leaves
	// loop-invariant nodes physically inside the loop body's array range;
	// the code generator is where that flag actually takes effect, by
	// emitting the flagged node's instructions here, once, before the
	// native header label, instead of at its in-order position.
	var phis []ir.ID
	for id := b.LoopHeader + 1; id < ir.ID(len(b.Nodes)); id++ {
		n := b.At(id)
		if n.IsDead() {
			continue
		}
		if n.Op == ir.OpPhi {
			phis = append(phis, id)
			continue
		}
		if n.Flags.Has(ir.FlagLoopInvariant) || n.Flags.Has(ir.FlagHoisted) {
			if err := lw.lowerNode(n); err != nil {
				return nil, err
			}
			lw.lowered[id] = true
		}
	}
	for _, id := range phis {
		lw.phiInit(id)
	}

	asm.Bind(lw.header)

	for id := b.LoopHeader + 1; id < ir.ID(len(b.Nodes)); id++ {
		n := b.At(id)
		if n.IsDead() || lw.lowered[id] || n.Op == ir.OpPhi {
			continue
		}
		if n.Op == ir.OpLoopBack {
			for _, pid := range phis {
				lw.phiAdvance(pid)
			}
			asm.Jump(lw.header)
			continue
		}
		if err := lw.lowerNode(n); err != nil {
			return nil, err
		}
	}

	asm.Return()
	return lw.finish(b)
}

func (lw *lowerer) finish(b *ir.Buffer) (*CompiledTrace, error) {
	for i := range b.Snaps {
		lw.asm.Bind(lw.exitLabels[i])
		lw.asm.ReturnExit(int32(i + 1))
	}
	lw.asm.Epilogue()

	buf, err := lw.asm.Generate()
	if err != nil {
		return nil, err
	}

	trace := &CompiledTrace{AnchorPC: b.AnchorPC, Buf: buf, Roots: lw.roots}
	trace.Snapshots = make([]SnapshotMeta, len(b.Snaps))
	for i, s := range b.Snaps {
		entries := b.SnapshotEntries(s.ID)
		trace.Snapshots[i] = SnapshotMeta{
			ResumePC:   s.ResumePC,
			StackDepth: s.StackDepth,
			Entries:    append([]ir.SnapshotEntry(nil), entries...),
		}
	}
	return trace, nil
}
