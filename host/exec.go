package host

import (
	"fmt"
	"math"

	"github.com/tracejit/tracejit/recorder"
	"github.com/tracejit/tracejit/value"
)

// execInstr interprets exactly one instruction against fr, returning the
// pc to execute next (meaningless when returned is true) and whether the
// routine just returned. Grounded on GVM's big-switch dispatch in
// exec.go/vm.go, generalized from raw uint32 register arithmetic to
// NaN-boxed value.Value operations.
func (vm *VM) execInstr(fiber *Fiber, fr *Frame, instr recorder.Instr) (nextPC uint32, returned bool, err error) {
	nextPC = fr.PC + 1

	switch {
	case isArithmeticOp(instr.Op):
		var b uint64
		if instr.B != recorder.NoSlot {
			b = fr.Slots[instr.B]
		}
		result, aerr := arithValue(instr.Op, fr.Slots[instr.A], b)
		if aerr != nil {
			return 0, false, aerr
		}
		fr.Slots[instr.Dst] = result
		return nextPC, false, nil

	case isCompareOp(instr.Op):
		result, cerr := compareValues(instr.Op, fr.Slots[instr.A], fr.Slots[instr.B])
		if cerr != nil {
			return 0, false, cerr
		}
		fr.Slots[instr.Dst] = value.Bool(result).Bits()
		return nextPC, false, nil

	case isBitwiseOp(instr.Op):
		var b uint64
		if instr.B != recorder.NoSlot {
			b = fr.Slots[instr.B]
		}
		result, berr := bitwiseValue(instr.Op, fr.Slots[instr.A], b)
		if berr != nil {
			return 0, false, berr
		}
		fr.Slots[instr.Dst] = result
		return nextPC, false, nil
	}

	switch instr.Op {
	case recorder.OpNop:
		// no-op

	case recorder.OpLoadConstNum:
		f, ok := fr.Routine.ConstNum(instr.Imm)
		if !ok {
			return 0, false, errInvalidPC
		}
		fr.Slots[instr.Dst] = value.Number(f).Bits()

	case recorder.OpLoadConstBool:
		fr.Slots[instr.Dst] = value.Bool(instr.Imm != 0).Bits()

	case recorder.OpLoadConstNull:
		fr.Slots[instr.Dst] = value.Null.Bits()

	case recorder.OpLoadConstObj:
		handle, ok := fr.Routine.ConstObj(instr.Imm)
		if !ok {
			return 0, false, errInvalidPC
		}
		fr.Slots[instr.Dst] = value.Object(handle).Bits()

	case recorder.OpLoadConstInt:
		fr.Slots[instr.Dst] = value.Int(int32(instr.Imm)).Bits()

	case recorder.OpFieldLoad:
		handle := value.FromBits(fr.Slots[instr.A]).AsObject()
		fr.Slots[instr.Dst] = vm.Heap.LoadField(handle, int32(instr.Imm))

	case recorder.OpFieldStore:
		handle := value.FromBits(fr.Slots[instr.A]).AsObject()
		vm.Heap.StoreField(handle, int32(instr.Imm), fr.Slots[instr.B])

	case recorder.OpModLoad:
		if vm.Module == nil || int(instr.Imm) >= len(vm.Module.Vars) {
			return 0, false, errInvalidPC
		}
		fr.Slots[instr.Dst] = vm.Module.Vars[instr.Imm]

	case recorder.OpModStore:
		if vm.Module == nil || int(instr.Imm) >= len(vm.Module.Vars) {
			return 0, false, errInvalidPC
		}
		vm.Module.Vars[instr.Imm] = fr.Slots[instr.A]

	case recorder.OpCallPrimitive:
		fn, ok := vm.primitives[instr.Imm]
		if !ok {
			return 0, false, errUnknownPrimitive
		}
		fr.Slots[instr.Dst] = fn(callArgs(fr, instr))

	case recorder.OpCallMethod:
		handle := value.FromBits(fr.Slots[instr.A]).AsObject()
		if instr.ImmClass != 0 {
			if class := vm.Heap.ClassOf(handle); class != instr.ImmClass {
				return 0, false, fmt.Errorf("host: call site expected class %d, receiver is class %d", instr.ImmClass, class)
			}
		}
		fn, ok := vm.primitives[instr.Imm]
		if !ok {
			return 0, false, errUnknownPrimitive
		}
		fr.Slots[instr.Dst] = fn(callArgs(fr, instr))

	case recorder.OpJumpIfFalse:
		if !value.FromBits(fr.Slots[instr.A]).IsTruthy() {
			nextPC = uint32(instr.Imm)
		}

	case recorder.OpJumpIfTrue:
		if value.FromBits(fr.Slots[instr.A]).IsTruthy() {
			nextPC = uint32(instr.Imm)
		}

	case recorder.OpJump:
		nextPC = uint32(instr.Imm)

	case recorder.OpReturn:
		return 0, true, nil

	default:
		return 0, false, fmt.Errorf("host: unhandled opcode %s", instr.Op)
	}

	return nextPC, false, nil
}

// isArithmeticOp/isCompareOp/isBitwiseOp mirror recorder's own (private)
// Op groupings exactly, since host dispatches by the same opcode set the
// recorder type-specializes but cannot reach recorder's unexported
// classification methods.
func isArithmeticOp(op recorder.Op) bool {
	switch op {
	case recorder.OpAdd, recorder.OpSub, recorder.OpMul, recorder.OpDiv, recorder.OpMod, recorder.OpNeg:
		return true
	}
	return false
}

func isCompareOp(op recorder.Op) bool {
	switch op {
	case recorder.OpLt, recorder.OpLe, recorder.OpGt, recorder.OpGe, recorder.OpEq, recorder.OpNe:
		return true
	}
	return false
}

func isBitwiseOp(op recorder.Op) bool {
	switch op {
	case recorder.OpBitAnd, recorder.OpBitOr, recorder.OpBitXor, recorder.OpBitNot, recorder.OpShl, recorder.OpAsr:
		return true
	}
	return false
}

func callArgs(fr *Frame, instr recorder.Instr) []uint64 {
	args := make([]uint64, 0, 2)
	if instr.A != recorder.NoSlot {
		args = append(args, fr.Slots[instr.A])
	}
	if instr.B != recorder.NoSlot {
		args = append(args, fr.Slots[instr.B])
	}
	return args
}

func arithValue(op recorder.Op, a, b uint64) (uint64, error) {
	va := value.FromBits(a)
	if !va.IsNumber() {
		return 0, errUnsupportedOperand
	}
	fa := va.AsNumber()

	if op == recorder.OpNeg {
		return value.Number(-fa).Bits(), nil
	}

	vb := value.FromBits(b)
	if !vb.IsNumber() {
		return 0, errUnsupportedOperand
	}
	fb := vb.AsNumber()

	var result float64
	switch op {
	case recorder.OpAdd:
		result = fa + fb
	case recorder.OpSub:
		result = fa - fb
	case recorder.OpMul:
		result = fa * fb
	case recorder.OpDiv:
		result = fa / fb
	case recorder.OpMod:
		result = math.Mod(fa, fb)
	default:
		return 0, fmt.Errorf("host: unhandled arithmetic op %s", op)
	}
	return value.Number(result).Bits(), nil
}

func compareValues(op recorder.Op, a, b uint64) (bool, error) {
	switch op {
	case recorder.OpEq:
		return a == b, nil
	case recorder.OpNe:
		return a != b, nil
	}

	va, vb := value.FromBits(a), value.FromBits(b)
	if !va.IsNumber() || !vb.IsNumber() {
		return false, errUnsupportedOperand
	}
	fa, fb := va.AsNumber(), vb.AsNumber()
	switch op {
	case recorder.OpLt:
		return fa < fb, nil
	case recorder.OpLe:
		return fa <= fb, nil
	case recorder.OpGt:
		return fa > fb, nil
	case recorder.OpGe:
		return fa >= fb, nil
	default:
		return false, fmt.Errorf("host: unhandled compare op %s", op)
	}
}

func bitwiseValue(op recorder.Op, a, b uint64) (uint64, error) {
	va := value.FromBits(a)
	if !va.IsInteger() {
		return 0, errUnsupportedOperand
	}
	ia := va.AsInt()

	if op == recorder.OpBitNot {
		return value.Int(^ia).Bits(), nil
	}

	vb := value.FromBits(b)
	if !vb.IsInteger() {
		return 0, errUnsupportedOperand
	}
	ib := vb.AsInt()

	var result int32
	switch op {
	case recorder.OpBitAnd:
		result = ia & ib
	case recorder.OpBitOr:
		result = ia | ib
	case recorder.OpBitXor:
		result = ia ^ ib
	case recorder.OpShl:
		result = ia << uint32(ib)
	case recorder.OpAsr:
		result = ia >> uint32(ib)
	default:
		return 0, fmt.Errorf("host: unhandled bitwise op %s", op)
	}
	return value.Int(result).Bits(), nil
}
