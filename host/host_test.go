package host

import (
	"testing"

	"github.com/tracejit/tracejit/jit"
	"github.com/tracejit/tracejit/recorder"
	"github.com/tracejit/tracejit/value"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// sumLoopRoutine is spec §8's canonical scenario ("sum loop -> 4950"):
// slot0=i, slot1=sum, slot2/slot3 hold the loop's two constants, slot4
// the loop condition. Unlike the recorder/jit packages' synthetic
// fixture (which jumps to a pc past the end of the array on exit, since
// those tests never actually resume execution there), this routine ends
// with a real OpReturn so host.Run can drive it end to end.
func sumLoopRoutine() *Routine {
	instrs := []recorder.Instr{
		0: {Op: recorder.OpLoadConstNum, Dst: 2, Imm: 0}, // slot2 = 100.0
		1: {Op: recorder.OpLt, Dst: 4, A: 0, B: 2},        // slot4 = i < 100
		2: {Op: recorder.OpJumpIfFalse, A: 4, Imm: 7},
		3: {Op: recorder.OpLoadConstNum, Dst: 3, Imm: 1}, // slot3 = 1.0
		4: {Op: recorder.OpAdd, Dst: 1, A: 1, B: 0},       // sum += i
		5: {Op: recorder.OpAdd, Dst: 0, A: 0, B: 3},       // i += 1
		6: {Op: recorder.OpJump, Imm: 0},
		7: {Op: recorder.OpReturn},
	}
	return NewRoutine("sum", instrs, []float64{100, 1}, nil, 5)
}

func runSumLoop(t *testing.T, vm *VM) *Frame {
	t.Helper()
	fiber := NewFiber()
	fr := vm.NewCallFrame(fiber, sumLoopRoutine())
	err := vm.Run(fiber)
	assert(t, err == nil, "unexpected error running sum loop: %v", err)
	return fr
}

func TestInterpretSumLoopWithoutJIT(t *testing.T) {
	vm := New(nil, nil)
	fr := runSumLoop(t, vm)

	i := value.FromBits(fr.Slots[0]).AsNumber()
	sum := value.FromBits(fr.Slots[1]).AsNumber()
	assert(t, i == 100, "expected i == 100, got %v", i)
	assert(t, sum == 4950, "expected sum == 4950, got %v", sum)
}

func TestInterpretSumLoopRecordsCompilesAndDeoptimizesThroughJIT(t *testing.T) {
	state := jit.New(jit.Config{
		Enabled:           true,
		HotThreshold:      3,
		CacheCapacityHint: 8,
		PreHeaderSlots:    16,
		RegGP:             6,
		RegFP:             6,
	}, nil)
	defer state.Free()

	vm := New(state, nil)
	fr := runSumLoop(t, vm)

	i := value.FromBits(fr.Slots[0]).AsNumber()
	sum := value.FromBits(fr.Slots[1]).AsNumber()
	assert(t, i == 100, "expected i == 100 after a deopt back into the interpreter, got %v", i)
	assert(t, sum == 4950, "expected sum == 4950 after a deopt back into the interpreter, got %v", sum)

	stats := state.Stats()
	assert(t, stats.TracesCompiled == 1, "expected exactly 1 compiled trace, got %d", stats.TracesCompiled)
	assert(t, stats.TotalExits >= 1, "expected at least 1 recorded trace exit, got %d", stats.TotalExits)
}

func TestRunReturnsErrorOnUnregisteredPrimitive(t *testing.T) {
	vm := New(nil, nil)
	instrs := []recorder.Instr{
		0: {Op: recorder.OpCallPrimitive, Dst: 0, Imm: 99},
		1: {Op: recorder.OpReturn},
	}
	routine := NewRoutine("callsBogusPrimitive", instrs, nil, nil, 1)
	fiber := NewFiber()
	vm.NewCallFrame(fiber, routine)

	err := vm.Run(fiber)
	assert(t, err == errUnknownPrimitive, "expected errUnknownPrimitive, got %v", err)
}

func TestRegisterPrimitiveIsCallableFromBytecode(t *testing.T) {
	vm := New(nil, nil)
	vm.RegisterPrimitive(1, func(args []uint64) uint64 {
		a := value.FromBits(args[0]).AsNumber()
		b := value.FromBits(args[1]).AsNumber()
		return value.Number(a + b).Bits()
	})

	instrs := []recorder.Instr{
		0: {Op: recorder.OpLoadConstNum, Dst: 0, Imm: 0},
		1: {Op: recorder.OpLoadConstNum, Dst: 1, Imm: 1},
		2: {Op: recorder.OpCallPrimitive, Dst: 2, A: 0, B: 1, Imm: 1},
		3: {Op: recorder.OpReturn},
	}
	routine := NewRoutine("addTwoConsts", instrs, []float64{3, 4}, nil, 3)
	fiber := NewFiber()
	fr := vm.NewCallFrame(fiber, routine)

	err := vm.Run(fiber)
	assert(t, err == nil, "unexpected error: %v", err)
	result := value.FromBits(fr.Slots[2]).AsNumber()
	assert(t, result == 7, "expected 3+4 == 7, got %v", result)
}
