package recorder

import (
	"testing"

	"github.com/tracejit/tracejit/ir"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// fakeProgram is a minimal Program backed by a flat instruction slice,
// indexed directly by pc — just enough to drive the recorder through a
// counted loop without pulling in package host.
type fakeProgram struct {
	instrs []Instr
	nums   []float64
	objs   []uint64
}

func (p *fakeProgram) Fetch(pc uint32) (Instr, bool) {
	if int(pc) >= len(p.instrs) {
		return Instr{}, false
	}
	return p.instrs[pc], true
}

func (p *fakeProgram) ConstNum(idx int64) (float64, bool) {
	if idx < 0 || int(idx) >= len(p.nums) {
		return 0, false
	}
	return p.nums[idx], true
}

func (p *fakeProgram) ConstObj(idx int64) (uint64, bool) {
	if idx < 0 || int(idx) >= len(p.objs) {
		return 0, false
	}
	return p.objs[idx], true
}

// sumLoopProgram builds the bytecode for `while (i < 100) { sum = sum + i;
// i = i + 1; }`'s body, slot 0 = i, slot 1 = sum, anchored at pc 0 — the
// spec §8 "sum loop" scenario reduced to its recordable loop body.
func sumLoopProgram() *fakeProgram {
	return &fakeProgram{
		nums: []float64{100, 1},
		instrs: []Instr{
			0: {Op: OpLoadConstNum, Dst: 2, Imm: 0},                 // slot2 = 100.0
			1: {Op: OpLt, Dst: 4, A: 0, B: 2},                       // slot4 = i < slot2
			2: {Op: OpJumpIfFalse, A: 4, Imm: 10},                   // exit to pc 10 once false
			3: {Op: OpLoadConstNum, Dst: 3, Imm: 1},                 // slot3 = 1.0
			4: {Op: OpAdd, Dst: 1, A: 1, B: 0},                      // sum = sum + i
			5: {Op: OpAdd, Dst: 0, A: 0, B: 3},                      // i = i + 1
			6: {Op: OpJump, Imm: 0},                                 // back to anchor
		},
	}
}

func recordAll(t *testing.T, r *Recorder, prog Program, pcs []uint32) {
	t.Helper()
	for _, pc := range pcs {
		status, err := r.Step(prog, pc, 0, 0)
		if err != nil {
			t.Fatalf("Step(pc=%d): %v", pc, err)
		}
		if status == StatusAborted {
			t.Fatalf("recording aborted at pc %d: %s", pc, r.AbortReason())
		}
	}
}

func TestRecorderCompletesACountedLoop(t *testing.T) {
	prog := sumLoopProgram()
	r := New(0, ir.DefaultPreHeaderSlots, DefaultLimits(), nil)

	recordAll(t, r, prog, []uint32{0, 1, 2, 3, 4, 5, 6})

	assert(t, r.Status() == StatusCompleted, "expected StatusCompleted, got %s (%s)", r.Status(), r.AbortReason())

	buf := r.Buffer()
	if err := ir.Verify(buf); err != nil {
		t.Fatalf("recorded buffer failed verification: %v", err)
	}

	assert(t, buf.LoopHeader != ir.NoOperand, "expected a loop header")
	assert(t, buf.LoopBack != ir.NoOperand, "expected a loop-back node")

	phiCount, guardCount, snapCount := 0, 0, len(buf.Snaps)
	for i := range buf.Nodes {
		n := &buf.Nodes[i]
		if n.IsDead() {
			continue
		}
		if n.Op == ir.OpPhi {
			phiCount++
			assert(t, n.A != ir.NoOperand && n.B != ir.NoOperand, "phi %d missing an operand", n.ID)
		}
		if n.Op.IsGuard() {
			guardCount++
		}
	}
	assert(t, phiCount == 2, "expected 2 phis (i and sum), got %d", phiCount)
	assert(t, guardCount >= 3, "expected at least 3 guards (2 numeric + 1 loop condition), got %d", guardCount)
	assert(t, snapCount >= 1, "expected at least one snapshot emitted")
}

func TestRecorderAbortsOnUnsupportedOpcode(t *testing.T) {
	prog := &fakeProgram{instrs: []Instr{0: {Op: OpReturn}}}
	r := New(0, ir.DefaultPreHeaderSlots, DefaultLimits(), nil)

	status, err := r.Step(prog, 0, 0, 0)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	assert(t, status == StatusAborted, "expected abort on a premature return, got %s", status)
	assert(t, r.AbortReason() != "", "expected a non-empty abort reason")
}

func TestRecorderAbortsOnNestedLoop(t *testing.T) {
	prog := &fakeProgram{instrs: []Instr{
		0: {Op: OpNop},
		1: {Op: OpJump, Imm: 1}, // backward-looking jump to a non-anchor pc
	}}
	r := New(0, ir.DefaultPreHeaderSlots, DefaultLimits(), nil)

	recordAll(t, r, prog, []uint32{0})
	status, err := r.Step(prog, 1, 0, 0)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	assert(t, status == StatusAborted, "expected abort on a nested loop, got %s", status)
}

func TestRecorderAbortsWhenInstructionLimitExceeded(t *testing.T) {
	instrs := make([]Instr, 0, 3)
	for i := 0; i < 3; i++ {
		instrs = append(instrs, Instr{Op: OpNop})
	}
	prog := &fakeProgram{instrs: instrs}
	r := New(0, ir.DefaultPreHeaderSlots, Limits{MaxCallDepth: 8, MaxInstructions: 2}, nil)

	recordAll(t, r, prog, []uint32{0, 1})
	status, err := r.Step(prog, 2, 0, 0)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	assert(t, status == StatusAborted, "expected abort once the instruction limit is exceeded, got %s", status)
}
