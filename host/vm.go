package host

import (
	"errors"

	"go.uber.org/zap"

	"github.com/tracejit/tracejit/genasm"
	"github.com/tracejit/tracejit/jit"
)

var (
	errInvalidPC          = errors.New("host: program counter out of range")
	errUnsupportedOperand = errors.New("host: operand is not the type this opcode requires")
	errUnknownPrimitive   = errors.New("host: call to an unregistered primitive handle")
)

// Primitive is a host-native function callable from bytecode via
// OpCallPrimitive/OpCallMethod, keyed by the same constant handle
// genasm.RegisterPrimitive uses for a compiled trace's own
// CallPrimitive lowering — an interpreted call and a traced call reach
// the identical Go function.
type Primitive func(args []uint64) uint64

// VM is the interpreter: a heap, one module's variable storage, a
// primitive table, and the jit.State driving its hot loops. Grounded on
// GVM's VM struct (vm.go), generalized from a flat register file to
// NaN-boxed, per-frame stack slots.
type VM struct {
	Heap   *Heap
	Module *Module
	JIT    *jit.State

	log        *zap.SugaredLogger
	primitives map[int64]Primitive
}

// New creates a VM. jitState may be nil, in which case the VM
// interprets everything and never records or executes a trace.
func New(jitState *jit.State, log *zap.SugaredLogger) *VM {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &VM{
		Heap:       &Heap{},
		JIT:        jitState,
		log:        log,
		primitives: make(map[int64]Primitive),
	}
}

// RegisterPrimitive binds handle to fn for both the plain interpreter's
// OpCallPrimitive/OpCallMethod and, via genasm.RegisterPrimitive, any
// compiled trace's CallPrimitive lowering (spec §6 "primitive
// registration into the assembler backend").
func (vm *VM) RegisterPrimitive(handle int64, fn Primitive) {
	vm.primitives[handle] = fn
	genasm.RegisterPrimitive(handle, func(args []uint64) uint64 { return fn(args) })
}

func (vm *VM) moduleVars() []uint64 {
	if vm.Module == nil {
		return nil
	}
	return vm.Module.Vars
}

// NewCallFrame allocates a frame for routine and pushes it onto fiber,
// ready for Run to drive.
func (vm *VM) NewCallFrame(fiber *Fiber, routine *Routine) *Frame {
	fr := NewFrame(routine)
	fiber.Push(fr)
	return fr
}
