package opt

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

func buildSimpleLoop(t *testing.T) *ir.Buffer {
	b := ir.NewBuffer(0x200, ir.DefaultPreHeaderSlots)
	zero := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 0})
	one := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 1})
	bound := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 10})

	header := b.Append(ir.Node{Op: ir.OpLoopHeader})
	b.LoopHeader = header

	phi := b.Append(ir.Node{Op: ir.OpPhi, A: zero, B: ir.NoOperand, Type: ir.TypeF64})
	step := b.Emit(ir.OpAdd, phi, one, ir.TypeF64, ir.Imm{})
	b.At(phi).B = step

	cmp := b.Emit(ir.OpLt, step, bound, ir.TypeBool, ir.Imm{})
	snap := b.EmitSnapshot(0x204, 1, []ir.SnapshotEntry{{Slot: 0, Value: step}})
	b.Append(ir.Node{Op: ir.OpGuardIsTruthy, A: cmp, Type: ir.TypeVoid, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap}})

	back := b.Append(ir.Node{Op: ir.OpLoopBack})
	b.LoopBack = back

	if err := ir.Verify(b); err != nil {
		t.Fatalf("fixture invalid: %v", err)
	}
	return b
}

func TestRunProducesVerifiableBuffer(t *testing.T) {
	b := buildSimpleLoop(t)
	if _, err := Run(b, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestConstantFoldingReducesArithmeticChain(t *testing.T) {
	b := ir.NewBuffer(0, 0)
	a := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 2})
	c := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 3})
	sum := b.Emit(ir.OpAdd, a, c, ir.TypeF64, ir.Imm{})

	changed, err := constantFoldAndSimplify(b)
	if err != nil {
		t.Fatalf("constantFoldAndSimplify: %v", err)
	}
	assert(t, changed, "expected constant folding to fire")
	assert(t, b.At(sum).Op == ir.OpConstNum, "expected sum node to become a constant")
	assert(t, b.At(sum).Imm.F64 == 5, "expected folded value 5, got %v", b.At(sum).Imm.F64)
}

func TestAlgebraicIdentityAddZeroForwardsOperand(t *testing.T) {
	b := ir.NewBuffer(0, 0)
	// x is not a constant, so the add cannot be folded and only the x+0
	// identity applies.
	x := b.Emit(ir.OpSlotLoad, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{Slot: 0})
	zero := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 0})
	sum := b.Emit(ir.OpAdd, x, zero, ir.TypeF64, ir.Imm{})
	use := b.Emit(ir.OpNeg, sum, ir.NoOperand, ir.TypeF64, ir.Imm{})

	_, err := constantFoldAndSimplify(b)
	if err != nil {
		t.Fatalf("constantFoldAndSimplify: %v", err)
	}
	assert(t, b.At(sum).IsDead(), "expected x+0 node to be killed once forwarded")
	assert(t, b.At(use).A == x, "expected use of sum to be rewritten directly to x, got %d", b.At(use).A)
}

func TestBoxUnboxCancellation(t *testing.T) {
	b := ir.NewBuffer(0, 0)
	x := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 1})
	boxed := b.Emit(ir.OpBoxNum, x, ir.NoOperand, ir.TypeBoxed, ir.Imm{})
	unboxed := b.Emit(ir.OpUnboxNum, boxed, ir.NoOperand, ir.TypeF64, ir.Imm{})
	use := b.Emit(ir.OpNeg, unboxed, ir.NoOperand, ir.TypeF64, ir.Imm{})

	changed, err := eliminateBoxUnbox(b)
	if err != nil {
		t.Fatalf("eliminateBoxUnbox: %v", err)
	}
	assert(t, changed, "expected box/unbox pair to be eliminated")
	assert(t, b.At(use).A == x, "expected use to be rewritten to original value, got %d", b.At(use).A)
	assert(t, b.At(unboxed).IsDead(), "expected unbox node to be dead")
}

func TestGlobalValueNumberingDedupesIdenticalExpressions(t *testing.T) {
	b := ir.NewBuffer(0, 0)
	x := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 4})
	y := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 5})
	sum1 := b.Emit(ir.OpAdd, x, y, ir.TypeF64, ir.Imm{})
	sum2 := b.Emit(ir.OpAdd, x, y, ir.TypeF64, ir.Imm{})
	use := b.Emit(ir.OpNeg, sum2, ir.NoOperand, ir.TypeF64, ir.Imm{})

	changed, err := globalValueNumber(b)
	if err != nil {
		t.Fatalf("globalValueNumber: %v", err)
	}
	assert(t, changed, "expected GVN to fire")
	assert(t, b.At(sum2).IsDead(), "expected duplicate add to be killed")
	assert(t, b.At(use).A == sum1, "expected use to be rewritten to the first add, got %d", b.At(use).A)
}

func TestScopedGuardEliminationRemovesDuplicate(t *testing.T) {
	b := ir.NewBuffer(0, 0)
	x := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 1})
	snap := b.EmitSnapshot(0, 0, nil)
	g1 := b.Append(ir.Node{Op: ir.OpGuardIsNumber, A: x, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap}})
	g2 := b.Append(ir.Node{Op: ir.OpGuardIsNumber, A: x, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap}})

	changed, err := eliminateRedundantGuardsScoped(b)
	if err != nil {
		t.Fatalf("eliminateRedundantGuardsScoped: %v", err)
	}
	assert(t, changed, "expected the duplicate guard to be eliminated")
	assert(t, !b.At(g1).IsDead(), "expected the first guard to survive")
	assert(t, b.At(g2).IsDead(), "expected the duplicate guard to be killed")
}

func TestScopedGuardEliminationResetsAcrossSideEffect(t *testing.T) {
	b := ir.NewBuffer(0, 0)
	x := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 1})
	snap := b.EmitSnapshot(0, 0, nil)
	g1 := b.Append(ir.Node{Op: ir.OpGuardIsNumber, A: x, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap}})
	b.Append(ir.Node{Op: ir.OpCallPrimitive, Type: ir.TypeBoxed, Imm: ir.Imm{Class: 1}})
	g2 := b.Append(ir.Node{Op: ir.OpGuardIsNumber, A: x, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap}})

	_, err := eliminateRedundantGuardsScoped(b)
	if err != nil {
		t.Fatalf("eliminateRedundantGuardsScoped: %v", err)
	}
	assert(t, !b.At(g1).IsDead() && !b.At(g2).IsDead(), "expected a side effect between guards to widen scope and keep both")
}

func TestAlwaysNumericEliminationProvesArithmeticIsAlwaysNumber(t *testing.T) {
	b := ir.NewBuffer(0, 0)
	x := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 1})
	y := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 2})
	sum := b.Emit(ir.OpAdd, x, y, ir.TypeF64, ir.Imm{})
	snap := b.EmitSnapshot(0, 0, nil)
	g := b.Append(ir.Node{Op: ir.OpGuardIsNumber, A: sum, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap}})

	changed, err := markAlwaysNumericAndEliminate(b)
	if err != nil {
		t.Fatalf("markAlwaysNumericAndEliminate: %v", err)
	}
	assert(t, changed, "expected the guard to be statically eliminated")
	assert(t, b.At(g).IsDead(), "expected guard to be dead")
}

func TestBoundsGuardEliminationDedupesSameInductionVariableAndBound(t *testing.T) {
	b := ir.NewBuffer(0, 0)
	zero := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 0})
	one := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 1})
	bound := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 10})
	header := b.Append(ir.Node{Op: ir.OpLoopHeader, Type: ir.TypeVoid})
	b.LoopHeader = header

	phi := b.Append(ir.Node{Op: ir.OpPhi, Type: ir.TypeF64})
	b.At(phi).A = zero

	cmp1 := b.Emit(ir.OpLt, phi, bound, ir.TypeBool, ir.Imm{})
	snap1 := b.EmitSnapshot(0, 0, nil)
	g1 := b.Append(ir.Node{Op: ir.OpGuardIsTruthy, A: cmp1, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap1}})

	step := b.Emit(ir.OpAdd, phi, one, ir.TypeF64, ir.Imm{})
	b.At(phi).B = step

	cmp2 := b.Emit(ir.OpLt, step, bound, ir.TypeBool, ir.Imm{})
	snap2 := b.EmitSnapshot(0, 0, nil)
	g2 := b.Append(ir.Node{Op: ir.OpGuardIsTruthy, A: cmp2, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap2}})
	loopBack := b.Append(ir.Node{Op: ir.OpLoopBack, Type: ir.TypeVoid})
	b.LoopBack = loopBack
	_ = g1

	changed, err := eliminateRedundantBoundsGuards(b)
	if err != nil {
		t.Fatalf("eliminateRedundantBoundsGuards: %v", err)
	}
	assert(t, changed, "expected the second bound check on the same induction variable to be eliminated")
	assert(t, b.At(g2).IsDead(), "expected second occurrence killed")
}

func TestDeadCodeEliminationKillsUnreachableArithmetic(t *testing.T) {
	b := ir.NewBuffer(0, 0)
	live := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 1})
	snap := b.EmitSnapshot(0, 0, []ir.SnapshotEntry{{Slot: 0, Value: live}})
	b.Append(ir.Node{Op: ir.OpGuardIsNumber, A: live, Flags: ir.FlagIsGuard, Imm: ir.Imm{SnapID: snap}})
	dead := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 99})

	changed, err := deadCodeEliminate(b)
	if err != nil {
		t.Fatalf("deadCodeEliminate: %v", err)
	}
	assert(t, changed, "expected DCE to fire")
	assert(t, !b.At(live).IsDead(), "expected snapshot-referenced value to survive")
	assert(t, b.At(dead).IsDead(), "expected unreachable constant to be killed")
}

func TestInductionVariableRetypeDetectsCountedLoop(t *testing.T) {
	b := buildSimpleLoop(t)
	changed, err := inferInductionVariableTypes(b)
	if err != nil {
		t.Fatalf("inferInductionVariableTypes: %v", err)
	}
	assert(t, changed, "expected the loop counter to be retyped")

	var phi *ir.Node
	for i := range b.Nodes {
		if b.Nodes[i].Op == ir.OpPhi {
			phi = &b.Nodes[i]
		}
	}
	assert(t, phi != nil, "expected to find the phi node")
	assert(t, phi.Type == ir.TypeInt, "expected phi to be retyped to TypeInt, got %v", phi.Type)
}

func TestLoopInvariantHoistingFlagsPreLoopOnlyExpression(t *testing.T) {
	b := ir.NewBuffer(0x300, 0)
	k := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 2})
	m := b.Emit(ir.OpConstNum, ir.NoOperand, ir.NoOperand, ir.TypeF64, ir.Imm{F64: 3})
	header := b.Append(ir.Node{Op: ir.OpLoopHeader})
	b.LoopHeader = header
	invariant := b.Emit(ir.OpMul, k, m, ir.TypeF64, ir.Imm{})
	back := b.Append(ir.Node{Op: ir.OpLoopBack})
	b.LoopBack = back

	changed, err := hoistLoopInvariant(b)
	if err != nil {
		t.Fatalf("hoistLoopInvariant: %v", err)
	}
	assert(t, changed, "expected the pre-loop-only multiply to be flagged invariant")
	assert(t, b.At(invariant).Flags.Has(ir.FlagLoopInvariant), "expected FlagLoopInvariant to be set")
}
