// Package genasm is the one concrete asmcontract.Assembler this
// repository ships. Spec §1 places "the portable assembler library used
// to emit native code" out of scope for the CORE, and §6 only asks the
// code generator to consume one through an interface. Since an
// architecture-specific encoder cannot be authored or checked here
// without running the Go toolchain against a target triple, genasm
// instead compiles each trace into a flat slice of Go closures — a
// classic threaded-code interpreter — that reads and writes two typed
// register files plus a spill area exactly the way a native prologue
// would, modeled on the node/assembler split in wazero's internal
// assembler (see asmcontract's doc comment for the source file). It is
// a stand-in for native codegen, not a native codegen; DESIGN.md records
// this as the deliberate resolution of an out-of-scope dependency.
package genasm

import (
	"fmt"
	"math"

	"github.com/tracejit/tracejit/asmcontract"
)

const (
	exitSentinel = -1 // closure returned: ctx.ExitCode is final
)

type label struct {
	label string
	bound bool
	// target is filled in by Bind; jump closures close over a pointer to
	// this field so a forward reference resolves once Generate runs.
	target int
}

func (l *label) Name() string { return l.label }

// instr is one threaded-code step: given the live context, it performs
// its effect and returns the index of the next instruction to execute,
// or exitSentinel if the trace is done (ctx.ExitCode is set).
type instr func(ctx *execContext) int

// execContext is the register/memory state one Run call operates over.
// It plays the role the real register file and stack frame would play
// in native code; ObjectAccess stands in for raw pointer dereferencing
// since this backend never computes real addresses.
type execContext struct {
	gp    []uint64
	fp    []float64
	spill []uint64
	tmp   uint64

	args     asmcontract.EntryArgs
	exitCode int32
}

// Assembler accumulates instr closures and resolves labels in a second
// pass at Generate time, the pure-Go analogue of late jump-target
// binding in a real assembler.
type Assembler struct {
	prog   []instr
	labels []*label

	frame asmcontract.FrameConfig
	// numExits tracks the highest exit index ReturnExit has emitted, so
	// Generate can size the execContext's... nothing extra is needed, but
	// it is kept for diagnostics.
	numExits int32
}

// New returns an empty Assembler ready to receive one trace's emission.
func New() *Assembler {
	return &Assembler{}
}

func (a *Assembler) NewLabel(name string) asmcontract.Label {
	l := &label{label: name, target: -1}
	a.labels = append(a.labels, l)
	return l
}

func (a *Assembler) Bind(l asmcontract.Label) {
	lb := l.(*label)
	lb.target = len(a.prog)
	lb.bound = true
}

func (a *Assembler) emit(i instr) {
	a.prog = append(a.prog, i)
}

func (a *Assembler) Prologue(cfg asmcontract.FrameConfig) {
	a.frame = cfg
	a.emit(func(ctx *execContext) int {
		ctx.gp = make([]uint64, cfg.ScratchGP+cfg.SavedGP)
		ctx.fp = make([]float64, cfg.ScratchFP+cfg.SavedFP)
		ctx.spill = make([]uint64, cfg.SpillSlots)
		return fallthroughMarker
	})
}

// fallthrough is represented as the literal next index; since prog is
// built incrementally we cannot know "next index" at emit time for a
// closure written inline, so every non-jump instr instead returns a
// relative marker resolved by Generate. To keep this simple and
// correct, non-control instructions return -2 ("fall through to i+1")
// and control instructions return either a resolved absolute index or
// -1 ("halt, ctx.exitCode is set").
const fallthroughMarker = -2

func (a *Assembler) Epilogue() {
	// Epilogue performs no register restoration in this backend: Go's
	// own stack discipline already saves/restores everything a real
	// callee-saved register set would. It exists as a placeholder step
	// so trace assembly always has a symmetric prologue/epilogue, matching
	// the shape spec §4.5 describes.
}

func (a *Assembler) Return() {
	a.emit(func(ctx *execContext) int {
		ctx.exitCode = 0
		return exitSentinel
	})
}

func (a *Assembler) ReturnExit(exitIndex int32) {
	if exitIndex > a.numExits {
		a.numExits = exitIndex
	}
	a.emit(func(ctx *execContext) int {
		ctx.exitCode = exitIndex
		return exitSentinel
	})
}

func (a *Assembler) MoveImmGP(dst asmcontract.Reg, imm uint64) {
	a.emit(func(ctx *execContext) int {
		ctx.gp[dst.Index] = imm
		return fallthroughMarker
	})
}

func (a *Assembler) MoveImmFP(dst asmcontract.Reg, imm float64) {
	a.emit(func(ctx *execContext) int {
		ctx.fp[dst.Index] = imm
		return fallthroughMarker
	})
}

func (a *Assembler) EmitGP1(op asmcontract.GP1Op, dst asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		switch op {
		case asmcontract.GP1Neg:
			ctx.gp[dst.Index] = uint64(-int64(ctx.gp[dst.Index]))
		case asmcontract.GP1Not:
			ctx.gp[dst.Index] = ^ctx.gp[dst.Index]
		}
		return fallthroughMarker
	})
}

func (a *Assembler) EmitGP2(op asmcontract.GP2Op, dst, src asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		d, s := int64(ctx.gp[dst.Index]), int64(ctx.gp[src.Index])
		switch op {
		case asmcontract.GP2Add:
			ctx.gp[dst.Index] = uint64(d + s)
		case asmcontract.GP2Sub:
			ctx.gp[dst.Index] = uint64(d - s)
		case asmcontract.GP2Mul:
			ctx.gp[dst.Index] = uint64(d * s)
		case asmcontract.GP2Div:
			ctx.gp[dst.Index] = uint64(d / s)
		case asmcontract.GP2Mod:
			ctx.gp[dst.Index] = uint64(d % s)
		case asmcontract.GP2And:
			ctx.gp[dst.Index] = uint64(d & s)
		case asmcontract.GP2Or:
			ctx.gp[dst.Index] = uint64(d | s)
		case asmcontract.GP2Xor:
			ctx.gp[dst.Index] = uint64(d ^ s)
		case asmcontract.GP2Shl:
			ctx.gp[dst.Index] = uint64(d << uint64(s))
		case asmcontract.GP2Asr:
			ctx.gp[dst.Index] = uint64(d >> uint64(s))
		case asmcontract.GP2Move:
			ctx.gp[dst.Index] = ctx.gp[src.Index]
		}
		return fallthroughMarker
	})
}

func (a *Assembler) EmitFP1(op asmcontract.FP1Op, dst asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		if op == asmcontract.FP1Neg {
			ctx.fp[dst.Index] = -ctx.fp[dst.Index]
		}
		return fallthroughMarker
	})
}

func (a *Assembler) EmitFP2(op asmcontract.FP2Op, dst, src asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		d, s := ctx.fp[dst.Index], ctx.fp[src.Index]
		switch op {
		case asmcontract.FP2Add:
			ctx.fp[dst.Index] = d + s
		case asmcontract.FP2Sub:
			ctx.fp[dst.Index] = d - s
		case asmcontract.FP2Mul:
			ctx.fp[dst.Index] = d * s
		case asmcontract.FP2Div:
			ctx.fp[dst.Index] = d / s
		case asmcontract.FP2Mod:
			ctx.fp[dst.Index] = math.Mod(d, s)
		case asmcontract.FP2Move:
			ctx.fp[dst.Index] = s
		}
		return fallthroughMarker
	})
}

func compareGP(cond asmcontract.Cond, a, b int64) bool {
	switch cond {
	case asmcontract.CondLt:
		return a < b
	case asmcontract.CondLe:
		return a <= b
	case asmcontract.CondGt:
		return a > b
	case asmcontract.CondGe:
		return a >= b
	case asmcontract.CondEq:
		return a == b
	case asmcontract.CondNe:
		return a != b
	}
	return false
}

func compareFP(cond asmcontract.Cond, a, b float64) bool {
	switch cond {
	case asmcontract.CondLt:
		return a < b
	case asmcontract.CondLe:
		return a <= b
	case asmcontract.CondGt:
		return a > b
	case asmcontract.CondGe:
		return a >= b
	case asmcontract.CondEq:
		return a == b
	case asmcontract.CondNe:
		return a != b
	}
	return false
}

func (a *Assembler) CompareGP(dst, x, y asmcontract.Reg, cond asmcontract.Cond) {
	a.emit(func(ctx *execContext) int {
		if compareGP(cond, int64(ctx.gp[x.Index]), int64(ctx.gp[y.Index])) {
			ctx.gp[dst.Index] = 1
		} else {
			ctx.gp[dst.Index] = 0
		}
		return fallthroughMarker
	})
}

func (a *Assembler) CompareFP(dst, x, y asmcontract.Reg, cond asmcontract.Cond) {
	a.emit(func(ctx *execContext) int {
		if compareFP(cond, ctx.fp[x.Index], ctx.fp[y.Index]) {
			ctx.gp[dst.Index] = 1
		} else {
			ctx.gp[dst.Index] = 0
		}
		return fallthroughMarker
	})
}

func (a *Assembler) LoadSlot(dst asmcontract.Reg, slot int32) {
	a.emit(func(ctx *execContext) int {
		ctx.gp[dst.Index] = ctx.args.StackSlots[slot]
		return fallthroughMarker
	})
}

func (a *Assembler) StoreSlot(slot int32, src asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		ctx.args.StackSlots[slot] = ctx.gp[src.Index]
		return fallthroughMarker
	})
}

func (a *Assembler) LoadField(dst, obj asmcontract.Reg, field int32) {
	a.emit(func(ctx *execContext) int {
		ctx.gp[dst.Index] = ctx.args.Objects.LoadField(ctx.gp[obj.Index], field)
		return fallthroughMarker
	})
}

func (a *Assembler) StoreField(obj asmcontract.Reg, field int32, src asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		ctx.args.Objects.StoreField(ctx.gp[obj.Index], field, ctx.gp[src.Index])
		return fallthroughMarker
	})
}

func (a *Assembler) LoadModuleVar(dst asmcontract.Reg, addr int32) {
	a.emit(func(ctx *execContext) int {
		ctx.gp[dst.Index] = ctx.args.ModuleVars[addr]
		return fallthroughMarker
	})
}

func (a *Assembler) StoreModuleVar(addr int32, src asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		ctx.args.ModuleVars[addr] = ctx.gp[src.Index]
		return fallthroughMarker
	})
}

func (a *Assembler) LoadSpill(dst asmcontract.Reg, slot int32) {
	a.emit(func(ctx *execContext) int {
		bits := ctx.spill[slot]
		if dst.Class == asmcontract.FP {
			ctx.fp[dst.Index] = math.Float64frombits(bits)
		} else {
			ctx.gp[dst.Index] = bits
		}
		return fallthroughMarker
	})
}

func (a *Assembler) StoreSpill(slot int32, src asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		if src.Class == asmcontract.FP {
			ctx.spill[slot] = math.Float64bits(ctx.fp[src.Index])
		} else {
			ctx.spill[slot] = ctx.gp[src.Index]
		}
		return fallthroughMarker
	})
}

func (a *Assembler) BitsGPToFP(dst, src asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		ctx.fp[dst.Index] = math.Float64frombits(ctx.gp[src.Index])
		return fallthroughMarker
	})
}

func (a *Assembler) BitsFPToGP(dst, src asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		ctx.gp[dst.Index] = math.Float64bits(ctx.fp[src.Index])
		return fallthroughMarker
	})
}

// Boxed representation constants mirror package value's NaN-boxing
// scheme bit for bit; genasm keeps its own copy in boxing.go rather
// than importing package value.

func (a *Assembler) BoxBool(dst, src asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		ctx.gp[dst.Index] = boxBool(ctx.gp[src.Index] != 0)
		return fallthroughMarker
	})
}

func (a *Assembler) UnboxBool(dst, src asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		if unboxBool(ctx.gp[src.Index]) {
			ctx.gp[dst.Index] = 1
		} else {
			ctx.gp[dst.Index] = 0
		}
		return fallthroughMarker
	})
}

func (a *Assembler) BoxObject(dst, src asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		ctx.gp[dst.Index] = boxObject(ctx.gp[src.Index])
		return fallthroughMarker
	})
}

func (a *Assembler) UnboxObject(dst, src asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		ctx.gp[dst.Index] = unboxObject(ctx.gp[src.Index])
		return fallthroughMarker
	})
}

func (a *Assembler) BoxInt(dst, src asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		ctx.gp[dst.Index] = boxInt(int32(ctx.gp[src.Index]))
		return fallthroughMarker
	})
}

func (a *Assembler) UnboxInt(dst, src asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		ctx.gp[dst.Index] = uint64(uint32(unboxInt(ctx.gp[src.Index])))
		return fallthroughMarker
	})
}

func (a *Assembler) jumpTo(l asmcontract.Label) instr {
	lb := l.(*label)
	return func(ctx *execContext) int { return lb.target }
}

func (a *Assembler) GuardIsNumber(v asmcontract.Reg, exit asmcontract.Label) {
	lb := exit.(*label)
	a.emit(func(ctx *execContext) int {
		if !isNumber(ctx.gp[v.Index]) {
			return lb.target
		}
		return fallthroughMarker
	})
}

func (a *Assembler) GuardIsClass(obj asmcontract.Reg, class int64, exit asmcontract.Label) {
	lb := exit.(*label)
	a.emit(func(ctx *execContext) int {
		if ctx.args.Objects.ClassOf(ctx.gp[obj.Index]) != class {
			return lb.target
		}
		return fallthroughMarker
	})
}

func (a *Assembler) GuardTruthy(v asmcontract.Reg, exit asmcontract.Label) {
	lb := exit.(*label)
	a.emit(func(ctx *execContext) int {
		if !isTruthy(ctx.gp[v.Index]) {
			return lb.target
		}
		return fallthroughMarker
	})
}

func (a *Assembler) GuardFalsy(v asmcontract.Reg, exit asmcontract.Label) {
	lb := exit.(*label)
	a.emit(func(ctx *execContext) int {
		if isTruthy(ctx.gp[v.Index]) {
			return lb.target
		}
		return fallthroughMarker
	})
}

func (a *Assembler) GuardNotNull(v asmcontract.Reg, exit asmcontract.Label) {
	lb := exit.(*label)
	a.emit(func(ctx *execContext) int {
		if isNull(ctx.gp[v.Index]) {
			return lb.target
		}
		return fallthroughMarker
	})
}

func (a *Assembler) Jump(target asmcontract.Label) {
	a.emit(a.jumpTo(target))
}

func (a *Assembler) JumpIfZero(v asmcontract.Reg, target asmcontract.Label) {
	lb := target.(*label)
	a.emit(func(ctx *execContext) int {
		if ctx.gp[v.Index] == 0 {
			return lb.target
		}
		return fallthroughMarker
	})
}

func (a *Assembler) JumpIfNotZero(v asmcontract.Reg, target asmcontract.Label) {
	lb := target.(*label)
	a.emit(func(ctx *execContext) int {
		if ctx.gp[v.Index] != 0 {
			return lb.target
		}
		return fallthroughMarker
	})
}

// PrimitiveFunc is a host-provided primitive callable from a trace via
// CallPrimitive, keyed by its constant handle.
type PrimitiveFunc func(args []uint64) uint64

// primitives is process-wide since genasm.Assembler values are created
// fresh per trace compile and have no other place to receive host
// bindings; RegisterPrimitive is called once at host start-up.
var primitives = map[int64]PrimitiveFunc{}

// RegisterPrimitive binds a host primitive function to the constant
// handle the IR's OpCallPrimitive nodes carry in Imm.I64.
func RegisterPrimitive(handle int64, fn PrimitiveFunc) {
	primitives[handle] = fn
}

func (a *Assembler) CallPrimitive(dst asmcontract.Reg, fn int64, args []asmcontract.Reg) {
	a.emit(func(ctx *execContext) int {
		f, ok := primitives[fn]
		if !ok {
			panic(fmt.Sprintf("genasm: no primitive registered for handle %d", fn))
		}
		raw := make([]uint64, len(args))
		for i, r := range args {
			raw[i] = ctx.gp[r.Index]
		}
		ctx.gp[dst.Index] = f(raw)
		return fallthroughMarker
	})
}

// buffer is the asmcontract.ExecBuffer this backend produces: an
// immutable program plus the frame shape needed to build a fresh
// execContext per Run call (traces are re-entrant: many fibers may run
// the same compiled trace concurrently).
type buffer struct {
	prog  []instr
	frame asmcontract.FrameConfig
}

func (buf *buffer) Run(args asmcontract.EntryArgs) int32 {
	// gp/fp/spill are allocated by the Prologue instruction at prog[0];
	// Run only supplies the entry arguments a real native call would pass
	// in argument registers.
	ctx := &execContext{args: args}
	i := 0
	for {
		next := buf.prog[i](ctx)
		if next == exitSentinel {
			return ctx.exitCode
		}
		if next == fallthroughMarker {
			i++
		} else {
			i = next
		}
	}
}

// Release is a no-op: the only resource this backend holds is ordinary
// Go-GC'd memory. A native backend would mprotect/munmap an executable
// mapping here.
func (buf *buffer) Release() {}

func (a *Assembler) Generate() (asmcontract.ExecBuffer, error) {
	for _, l := range a.labels {
		if !l.bound {
			return nil, fmt.Errorf("genasm: label %q was never bound", l.label)
		}
	}
	return &buffer{prog: a.prog, frame: a.frame}, nil
}
