package regalloc

import (
	"testing"

	"github.com/tracejit/tracejit/asmcontract"
	"github.com/tracejit/tracejit/ir"
)

func TestAllocateAssignsDisjointRegistersToOverlappingValues(t *testing.T) {
	b := ir.NewBuffer(0, 0)
	a := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 1})
	c := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 2})
	_ = b.Emit(ir.OpAdd, a, c, ir.TypeF64, ir.Imm{})

	res, err := Allocate(b, Config{NumGP: 4, NumFP: 4})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	allocA, okA := res.Alloc[a]
	allocC, okC := res.Alloc[c]
	if !okA || !okC {
		t.Fatalf("expected allocations for both operands")
	}
	if allocA.Kind != AllocRegister || allocC.Kind != AllocRegister {
		t.Fatalf("expected register allocations with 4 FP registers available")
	}
	if allocA.Reg == allocC.Reg {
		t.Fatalf("expected distinct registers for overlapping live ranges, both got %+v", allocA.Reg)
	}
}

func TestAllocateSpillsWhenRegistersExhausted(t *testing.T) {
	b := ir.NewBuffer(0, 0)
	var ids []ir.ID
	for i := 0; i < 4; i++ {
		ids = append(ids, b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: float64(i)}))
	}
	// Keep all four alive simultaneously with a single node that "uses"
	// them all via chained adds, forcing overlapping live ranges.
	sum := ids[0]
	for _, id := range ids[1:] {
		sum = b.Emit(ir.OpAdd, sum, id, ir.TypeF64, ir.Imm{})
	}
	_ = sum

	res, err := Allocate(b, Config{NumGP: 4, NumFP: 2})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	spilled := 0
	for _, id := range ids {
		if res.Alloc[id].Kind == AllocSpill {
			spilled++
		}
	}
	if spilled == 0 {
		t.Fatalf("expected at least one spill with only 2 FP registers for 4 overlapping values")
	}
	if res.NumSpillSlots == 0 {
		t.Fatalf("expected NumSpillSlots to reflect the spill(s)")
	}
}

func TestAllocateKeepsPhiLiveAcrossBackEdge(t *testing.T) {
	b := ir.NewBuffer(0x10, 0)
	zero := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 0})
	header := b.Append(ir.Node{Op: ir.OpLoopHeader})
	b.LoopHeader = header
	phi := b.Append(ir.Node{Op: ir.OpPhi, A: zero, B: ir.NoOperand, Type: ir.TypeF64})
	step := b.Emit(ir.OpAdd, phi, zero, ir.TypeF64, ir.Imm{})
	b.At(phi).B = step
	back := b.Append(ir.Node{Op: ir.OpLoopBack})
	b.LoopBack = back

	intervals := buildLiveIntervals(b)
	var phiInterval *LiveInterval
	for i := range intervals {
		if intervals[i].ID == phi {
			phiInterval = &intervals[i]
		}
	}
	if phiInterval == nil {
		t.Fatalf("expected an interval for the phi node")
	}
	if phiInterval.End < int32(back) {
		t.Fatalf("expected phi's live range to extend to the loop-back node %d, got End=%d", back, phiInterval.End)
	}

	res, err := Allocate(b, Config{NumGP: 2, NumFP: 2})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, ok := res.Alloc[phi]; !ok {
		t.Fatalf("expected phi to receive an allocation")
	}
	_ = asmcontract.GP
}
