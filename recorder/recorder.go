package recorder

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/tracejit/tracejit/ir"
)

// Status is the recorder's state machine position (spec §2 "idle,
// recording, compiling").
type Status uint8

const (
	StatusRecording Status = iota
	StatusCompleted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusRecording:
		return "recording"
	case StatusCompleted:
		return "completed"
	case StatusAborted:
		return "aborted"
	default:
		return "?status?"
	}
}

// Limits bounds how much a single recording may do before it is aborted
// regardless of what it is tracing (spec §4.2 "abort conditions"). These
// are not spec-mandated exact numbers beyond the two named thresholds;
// MaxCallDepth and MaxInstructions are the two spec gives explicitly.
type Limits struct {
	MaxCallDepth    int
	MaxInstructions int
}

// DefaultLimits matches spec §4.2's named thresholds exactly.
func DefaultLimits() Limits {
	return Limits{MaxCallDepth: 8, MaxInstructions: 1000}
}

// Recorder builds one ir.Buffer by type-specializing bytecode
// instructions fetched from a Program, starting at an anchor PC assumed
// to be a loop header (spec §4.1's hot-counting always triggers at a
// backward-branch target).
type Recorder struct {
	buf      *ir.Buffer
	anchorPC uint32
	limits   Limits
	log      *zap.SugaredLogger

	status      Status
	abortReason string
	steps       int

	// slots holds the current SSA identifier for each interpreter slot
	// the recording has touched (spec §4.2 "slot map ... lazy-load-on-
	// first-use and cached SSA identifier").
	slots map[int32]ir.ID
	// phiFor records, for every slot whose first reference created a
	// phi, that phi's node ID, so the loop-closing step can wire its
	// back-edge operand to the slot's final value.
	phiFor map[int32]ir.ID
	// unboxedNum caches the OpUnboxNum result for a boxed identifier
	// already guarded+unboxed once this recording, so repeated uses of
	// the same slot's numeric value don't re-emit the guard.
	unboxedNum map[ir.ID]ir.ID

	// pending holds a conditional branch's condition until the next Step
	// call reveals, via the new pc, which direction the interpreter
	// actually took — only then is it known which successor is "taken"
	// (no guard needed, that is the path being recorded) and which is
	// "not taken" (the snapshot's resume point if the guard ever fails).
	pending *pendingBranch
}

type pendingBranch struct {
	cond          ir.ID
	pc            uint32
	targetPC      uint32
	fallthroughPC uint32
	stackDepth    int32
	// takenIsFalsy is true when reaching targetPC means the condition
	// was false (OpJumpIfFalse); false when reaching targetPC means the
	// condition was true (OpJumpIfTrue).
	takenIsFalsy bool
}

// New starts a new recording anchored at anchorPC, reserving
// preHeaderSlots NOP nodes for the slot-map's first-reference phis (spec
// §6 Configuration: "must be even and large enough... typical value >=
// 16" — see ir.DefaultPreHeaderSlots).
func New(anchorPC uint32, preHeaderSlots int, limits Limits, log *zap.SugaredLogger) *Recorder {
	b := ir.NewBuffer(anchorPC, preHeaderSlots)
	header := b.Append(ir.Node{Op: ir.OpLoopHeader, Type: ir.TypeVoid})
	b.LoopHeader = header

	return &Recorder{
		buf:        b,
		anchorPC:   anchorPC,
		limits:     limits,
		log:        log,
		slots:      make(map[int32]ir.ID),
		phiFor:     make(map[int32]ir.ID),
		unboxedNum: make(map[ir.ID]ir.ID),
	}
}

// Buffer returns the in-progress (or completed) IR buffer. Only
// meaningful once Status is StatusCompleted.
func (r *Recorder) Buffer() *ir.Buffer { return r.buf }

func (r *Recorder) Status() Status      { return r.status }
func (r *Recorder) AbortReason() string { return r.abortReason }
func (r *Recorder) Instructions() int   { return r.steps }

func (r *Recorder) abort(reason string) (Status, error) {
	r.status = StatusAborted
	r.abortReason = reason
	if r.log != nil {
		r.log.Debugw("trace recording aborted", "anchor_pc", r.anchorPC, "reason", reason, "instructions", r.steps)
	}
	return r.status, nil
}

// slotID returns the SSA identifier currently representing slot's value,
// lazily materializing a pre-header load + phi on first reference (spec
// §4.2 "lazy-load-on-first-use").
func (r *Recorder) slotID(slot int32) (ir.ID, error) {
	if id, ok := r.slots[slot]; ok {
		return id, nil
	}
	pre := r.buf.ClaimPreHeaderSlot()
	if pre == ir.NoOperand {
		return ir.NoOperand, fmt.Errorf("pre-header slot reservation exhausted")
	}
	*r.buf.At(pre) = ir.Node{ID: pre, Op: ir.OpSlotLoad, A: ir.NoOperand, B: ir.NoOperand, Type: ir.TypeBoxed, Imm: ir.Imm{Slot: slot}}

	phi := r.buf.Append(ir.Node{Op: ir.OpPhi, A: pre, B: ir.NoOperand, Type: ir.TypeBoxed})
	r.slots[slot] = phi
	r.phiFor[slot] = phi
	return phi, nil
}

func (r *Recorder) setSlot(slot int32, id ir.ID) { r.slots[slot] = id }

// numeric returns an unboxed double for the given slot, inserting the
// guard.number + unbox.num pair the first time this slot's current value
// is used numerically (spec §4.2 "numeric guard+unbox+op+box
// sequences").
func (r *Recorder) numeric(slot int32, resumePC uint32, stackDepth int32) (ir.ID, error) {
	boxed, err := r.slotID(slot)
	if err != nil {
		return ir.NoOperand, err
	}
	if id, ok := r.unboxedNum[boxed]; ok {
		return id, nil
	}
	snap := r.snapshot(resumePC, stackDepth)
	r.buf.Append(ir.Node{Op: ir.OpGuardIsNumber, A: boxed, Type: ir.TypeVoid, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap}})
	unboxed := r.buf.Emit(ir.OpUnboxNum, boxed, ir.NoOperand, ir.TypeF64, ir.Imm{})
	r.unboxedNum[boxed] = unboxed
	return unboxed, nil
}

// storeNumeric boxes an unboxed double and stores it back to slot,
// completing the "op+box" half of the numeric specialization sequence.
func (r *Recorder) storeNumeric(slot int32, value ir.ID) {
	boxed := r.buf.Emit(ir.OpBoxNum, value, ir.NoOperand, ir.TypeBoxed, ir.Imm{})
	r.buf.Append(ir.Node{Op: ir.OpSlotStore, A: boxed, Type: ir.TypeVoid, Imm: ir.Imm{Slot: slot}})
	r.setSlot(slot, boxed)
	r.unboxedNum[boxed] = value
}

// snapshot captures every slot the recording has touched so far, for a
// guard that is about to be emitted (spec §4.2 "Snapshot emission:
// immediately before each guard").
func (r *Recorder) snapshot(resumePC uint32, stackDepth int32) int32 {
	entries := make([]ir.SnapshotEntry, 0, len(r.slots))
	for slot, id := range r.slots {
		entries = append(entries, ir.SnapshotEntry{Slot: slot, Value: id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Slot < entries[j].Slot })
	return r.buf.EmitSnapshot(resumePC, stackDepth, entries)
}

var gp2OpFromBytecode = map[Op]ir.Op{
	OpAdd: ir.OpAdd, OpSub: ir.OpSub, OpMul: ir.OpMul, OpDiv: ir.OpDiv, OpMod: ir.OpMod,
}

var compareOpFromBytecode = map[Op]ir.Op{
	OpLt: ir.OpLt, OpLe: ir.OpLe, OpGt: ir.OpGt, OpGe: ir.OpGe, OpEq: ir.OpEq, OpNe: ir.OpNe,
}

var bitwiseOpFromBytecode = map[Op]ir.Op{
	OpBitAnd: ir.OpBitAnd, OpBitOr: ir.OpBitOr, OpBitXor: ir.OpBitXor, OpShl: ir.OpShl, OpAsr: ir.OpAsr,
}

// Step records one bytecode instruction at pc. stackDepth and callDepth
// are the interpreter's current logical stack depth and call-frame depth
// (spec §4.2 snapshot capture and the call-depth abort condition); the
// recorder has no operand stack or call-frame model of its own since
// this bytecode addresses locals directly through slots.
func (r *Recorder) Step(prog Program, pc uint32, stackDepth int32, callDepth int) (Status, error) {
	if r.status != StatusRecording {
		return r.status, fmt.Errorf("recorder: Step called after recording ended (%s)", r.status)
	}
	r.steps++
	if r.steps > r.limits.MaxInstructions {
		return r.abort("instruction count exceeded")
	}
	if stackDepth < 0 {
		return r.abort("stack underflow")
	}
	if callDepth > r.limits.MaxCallDepth {
		return r.abort("call depth exceeded")
	}

	if r.pending != nil {
		if status, err := r.resolvePendingBranch(pc); status != StatusRecording || err != nil {
			return status, err
		}
	}

	instr, ok := prog.Fetch(pc)
	if !ok {
		return r.abort(fmt.Sprintf("bad fetch at pc %d", pc))
	}

	switch {
	case instr.Op == OpNop:
		// nothing to record

	case instr.Op == OpLoadConstNum:
		v, ok := prog.ConstNum(instr.Imm)
		if !ok {
			return r.abort("bad constant index")
		}
		id := r.buf.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: v})
		boxed := r.buf.Emit(ir.OpBoxNum, id, ir.NoOperand, ir.TypeBoxed, ir.Imm{})
		r.setSlot(instr.Dst, boxed)
		r.unboxedNum[boxed] = id

	case instr.Op == OpLoadConstBool:
		id := r.buf.Emit(ir.OpConstBool, ir.NoOperand, ir.NoOperand, ir.TypeBoxed, ir.Imm{I64: instr.Imm})
		r.setSlot(instr.Dst, id)

	case instr.Op == OpLoadConstNull:
		id := r.buf.Emit(ir.OpConstNull, ir.NoOperand, ir.NoOperand, ir.TypeBoxed, ir.Imm{})
		r.setSlot(instr.Dst, id)

	case instr.Op == OpLoadConstObj:
		handle, ok := prog.ConstObj(instr.Imm)
		if !ok {
			return r.abort("bad constant index")
		}
		id := r.buf.Emit(ir.OpConstObj, ir.NoOperand, ir.NoOperand, ir.TypePtr, ir.Imm{I64: int64(handle)})
		boxed := r.buf.Emit(ir.OpBoxObj, id, ir.NoOperand, ir.TypeBoxed, ir.Imm{})
		r.setSlot(instr.Dst, boxed)

	case instr.Op == OpLoadConstInt:
		id := r.buf.Emit(ir.OpConstInt, ir.NoOperand, ir.NoOperand, ir.TypeInt, ir.Imm{I64: instr.Imm})
		boxed := r.buf.Emit(ir.OpBoxInt, id, ir.NoOperand, ir.TypeBoxed, ir.Imm{})
		r.setSlot(instr.Dst, boxed)

	case instr.Op.isArithmetic():
		a, err := r.numeric(instr.A, pc, stackDepth)
		if err != nil {
			return r.abort(err.Error())
		}
		var result ir.ID
		if instr.Op == OpNeg {
			result = r.buf.Emit(ir.OpNeg, a, ir.NoOperand, ir.TypeF64, ir.Imm{})
		} else {
			b, err := r.numeric(instr.B, pc, stackDepth)
			if err != nil {
				return r.abort(err.Error())
			}
			result = r.buf.Emit(gp2OpFromBytecode[instr.Op], a, b, ir.TypeF64, ir.Imm{})
		}
		r.storeNumeric(instr.Dst, result)

	case instr.Op.isCompare():
		a, err := r.numeric(instr.A, pc, stackDepth)
		if err != nil {
			return r.abort(err.Error())
		}
		b, err := r.numeric(instr.B, pc, stackDepth)
		if err != nil {
			return r.abort(err.Error())
		}
		cmp := r.buf.Emit(compareOpFromBytecode[instr.Op], a, b, ir.TypeBool, ir.Imm{})
		boxed := r.buf.Emit(ir.OpBoxBool, cmp, ir.NoOperand, ir.TypeBoxed, ir.Imm{})
		r.setSlot(instr.Dst, boxed)

	case instr.Op.isBitwise():
		if instr.Op == OpBitNot {
			boxed, err := r.slotID(instr.A)
			if err != nil {
				return r.abort(err.Error())
			}
			snap := r.snapshot(pc, stackDepth)
			r.buf.Append(ir.Node{Op: ir.OpGuardIsNumber, A: boxed, Type: ir.TypeVoid, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap}})
			unboxed := r.buf.Emit(ir.OpUnboxInt, boxed, ir.NoOperand, ir.TypeInt, ir.Imm{})
			notted := r.buf.Emit(ir.OpBitNot, unboxed, ir.NoOperand, ir.TypeInt, ir.Imm{})
			out := r.buf.Emit(ir.OpBoxInt, notted, ir.NoOperand, ir.TypeBoxed, ir.Imm{})
			r.setSlot(instr.Dst, out)
			break
		}
		aBoxed, err := r.slotID(instr.A)
		if err != nil {
			return r.abort(err.Error())
		}
		bBoxed, err := r.slotID(instr.B)
		if err != nil {
			return r.abort(err.Error())
		}
		snap := r.snapshot(pc, stackDepth)
		r.buf.Append(ir.Node{Op: ir.OpGuardIsNumber, A: aBoxed, Type: ir.TypeVoid, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap}})
		r.buf.Append(ir.Node{Op: ir.OpGuardIsNumber, A: bBoxed, Type: ir.TypeVoid, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap}})
		a := r.buf.Emit(ir.OpUnboxInt, aBoxed, ir.NoOperand, ir.TypeInt, ir.Imm{})
		b := r.buf.Emit(ir.OpUnboxInt, bBoxed, ir.NoOperand, ir.TypeInt, ir.Imm{})
		result := r.buf.Emit(bitwiseOpFromBytecode[instr.Op], a, b, ir.TypeInt, ir.Imm{})
		out := r.buf.Emit(ir.OpBoxInt, result, ir.NoOperand, ir.TypeBoxed, ir.Imm{})
		r.setSlot(instr.Dst, out)

	case instr.Op == OpFieldLoad:
		obj, err := r.slotID(instr.A)
		if err != nil {
			return r.abort(err.Error())
		}
		unboxed := r.buf.Emit(ir.OpUnboxObj, obj, ir.NoOperand, ir.TypePtr, ir.Imm{})
		loaded := r.buf.Emit(ir.OpFieldLoad, unboxed, ir.NoOperand, ir.TypeBoxed, ir.Imm{Field: int32(instr.Imm)})
		r.setSlot(instr.Dst, loaded)

	case instr.Op == OpFieldStore:
		obj, err := r.slotID(instr.A)
		if err != nil {
			return r.abort(err.Error())
		}
		val, err := r.slotID(instr.B)
		if err != nil {
			return r.abort(err.Error())
		}
		unboxed := r.buf.Emit(ir.OpUnboxObj, obj, ir.NoOperand, ir.TypePtr, ir.Imm{})
		r.buf.Append(ir.Node{Op: ir.OpFieldStore, A: unboxed, B: val, Type: ir.TypeVoid, Imm: ir.Imm{Field: int32(instr.Imm)}})

	case instr.Op == OpModLoad:
		id := r.buf.Emit(ir.OpModLoad, ir.NoOperand, ir.NoOperand, ir.TypeBoxed, ir.Imm{I64: instr.Imm})
		r.setSlot(instr.Dst, id)

	case instr.Op == OpModStore:
		val, err := r.slotID(instr.A)
		if err != nil {
			return r.abort(err.Error())
		}
		r.buf.Append(ir.Node{Op: ir.OpModStore, A: val, Type: ir.TypeVoid, Imm: ir.Imm{I64: instr.Imm}})

	case instr.Op == OpCallPrimitive:
		args, err := r.callArgs(instr)
		if err != nil {
			return r.abort(err.Error())
		}
		a, b := ir.NoOperand, ir.NoOperand
		if len(args) > 0 {
			a = args[0]
		}
		if len(args) > 1 {
			b = args[1]
		}
		result := r.buf.Append(ir.Node{Op: ir.OpCallPrimitive, A: a, B: b, Type: ir.TypeBoxed, Imm: ir.Imm{I64: instr.Imm}})
		r.setSlot(instr.Dst, result)

	case instr.Op == OpCallMethod:
		// Monomorphic method-symbol inlining (spec §4.2): guard the
		// receiver's class first; abort rather than record a polymorphic
		// call site, since the trace would be wrong for any other class.
		recv, err := r.slotID(instr.A)
		if err != nil {
			return r.abort(err.Error())
		}
		unboxed := r.buf.Emit(ir.OpUnboxObj, recv, ir.NoOperand, ir.TypePtr, ir.Imm{})
		snap := r.snapshot(pc, stackDepth)
		r.buf.Append(ir.Node{Op: ir.OpGuardIsClass, A: unboxed, Type: ir.TypeVoid, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap, Class: instr.ImmClass}})
		args, err := r.callArgs(instr)
		if err != nil {
			return r.abort(err.Error())
		}
		b := ir.NoOperand
		if len(args) > 0 {
			b = args[0]
		}
		result := r.buf.Append(ir.Node{Op: ir.OpCallMethod, A: unboxed, B: b, Type: ir.TypeBoxed, Imm: ir.Imm{I64: instr.Imm, Class: instr.ImmClass}})
		r.setSlot(instr.Dst, result)

	case instr.Op == OpJumpIfFalse || instr.Op == OpJumpIfTrue:
		cond, err := r.slotID(instr.A)
		if err != nil {
			return r.abort(err.Error())
		}
		// Which successor is "taken" is only known once the next Step
		// call reports the pc the interpreter actually landed on; the
		// guard and its snapshot are emitted then (spec §4.2 "conditional
		// branch -> truthy/falsy guard with not-taken-successor snapshot
		// PC; continue on taken path").
		r.pending = &pendingBranch{
			cond:          cond,
			pc:            pc,
			targetPC:      uint32(instr.Imm),
			fallthroughPC: pc + 1,
			stackDepth:    stackDepth,
			takenIsFalsy:  instr.Op == OpJumpIfFalse,
		}

	case instr.Op == OpJump:
		target := uint32(instr.Imm)
		if target == r.anchorPC {
			return r.closeLoop()
		}
		return r.abort("nested loop (backward branch to non-anchor target)")

	case instr.Op == OpReturn:
		return r.abort("function returned before the loop closed")

	default:
		return r.abort(fmt.Sprintf("unsupported opcode %s", instr.Op))
	}

	return r.status, nil
}

// callArgs resolves a call instruction's up-to-two slot arguments; the
// two-operand Instr shape already structurally forbids recording a call
// of more than two arguments (spec §4.2 "calls ... beyond inlined
// forms" abort), since there is no encoding for a third.
func (r *Recorder) callArgs(instr Instr) ([]ir.ID, error) {
	var args []ir.ID
	if instr.A != NoSlot && instr.Op != OpCallMethod {
		id, err := r.slotID(instr.A)
		if err != nil {
			return nil, err
		}
		args = append(args, id)
	}
	if instr.B != NoSlot {
		id, err := r.slotID(instr.B)
		if err != nil {
			return nil, err
		}
		args = append(args, id)
	}
	return args, nil
}

// resolvePendingBranch emits the deferred guard for the last conditional
// branch once pc reveals which successor was actually taken.
func (r *Recorder) resolvePendingBranch(pc uint32) (Status, error) {
	pb := r.pending
	r.pending = nil

	var guardOp ir.Op
	var resumePC uint32
	switch pc {
	case pb.targetPC:
		if pb.takenIsFalsy {
			guardOp = ir.OpGuardIsFalsy
		} else {
			guardOp = ir.OpGuardIsTruthy
		}
		resumePC = pb.fallthroughPC
	case pb.fallthroughPC:
		if pb.takenIsFalsy {
			guardOp = ir.OpGuardIsTruthy
		} else {
			guardOp = ir.OpGuardIsFalsy
		}
		resumePC = pb.targetPC
	default:
		return r.abort(fmt.Sprintf("branch at pc %d landed on unexpected pc %d", pb.pc, pc))
	}

	snap := r.snapshot(resumePC, pb.stackDepth)
	r.buf.Append(ir.Node{Op: guardOp, A: pb.cond, Type: ir.TypeVoid, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap}})
	return r.status, nil
}

// closeLoop finishes the recording once a backward branch to the anchor
// PC is seen (spec §4.2 "backward branch to anchor PC -> emit loop-back,
// transition to compiling, success"): every first-referenced slot's phi
// gets its back-edge operand wired to that slot's final value, then the
// loop-back node is appended.
func (r *Recorder) closeLoop() (Status, error) {
	for slot, phi := range r.phiFor {
		r.buf.At(phi).B = r.slots[slot]
	}
	back := r.buf.Append(ir.Node{Op: ir.OpLoopBack, Type: ir.TypeVoid})
	r.buf.LoopBack = back

	if err := ir.Verify(r.buf); err != nil {
		return r.abort(fmt.Sprintf("internal: recorded trace failed verification: %v", err))
	}

	r.status = StatusCompleted
	if r.log != nil {
		r.log.Infow("trace recording completed", "anchor_pc", r.anchorPC, "instructions", r.steps, "nodes", r.buf.Len())
	}
	return r.status, nil
}
