package opt

import "github.com/tracejit/tracejit/ir"

func constNum(n *ir.Node) (float64, bool) {
	if n.Op == ir.OpConstNum {
		return n.Imm.F64, true
	}
	return 0, false
}

// foldConstant turns n into a plain OpConstNum carrying the given value,
// in place: its ID, and therefore every existing use of it, is
// unaffected. This is how every fold in this pass "replaces" a node
// without needing replaceUses.
func foldConstant(n *ir.Node, v float64) {
	n.Op = ir.OpConstNum
	n.Imm = ir.Imm{F64: v}
	n.A, n.B = ir.NoOperand, ir.NoOperand
}

func foldBool(n *ir.Node, v bool) {
	n.Op = ir.OpConstBool
	n.Imm = ir.Imm{}
	if v {
		n.Imm.I64 = 1
	}
	n.A, n.B = ir.NoOperand, ir.NoOperand
}

// constantFoldAndSimplify is pass 3 (spec §4.3): fold arithmetic and
// comparisons over two constant operands, and apply the handful of
// algebraic identities (x+0, x-0, x*0, x*1, x/1) that let an operand be
// forwarded without any arithmetic at all.
func constantFoldAndSimplify(b *ir.Buffer) (bool, error) {
	changed := false
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() {
			continue
		}

		if n.Op.IsArithmetic() && n.Op != ir.OpNeg {
			av, aConst := constNum(b.At(n.A))
			bv, bConst := constNum(b.At(n.B))
			if aConst && bConst {
				var r float64
				switch n.Op {
				case ir.OpAdd:
					r = av + bv
				case ir.OpSub:
					r = av - bv
				case ir.OpMul:
					r = av * bv
				case ir.OpDiv:
					r = av / bv
				case ir.OpMod:
					r = floatMod(av, bv)
				}
				foldConstant(n, r)
				changed = true
				continue
			}
			switch n.Op {
			case ir.OpAdd:
				if bConst && bv == 0 {
					replaceUses(b, n.ID, n.A)
					changed = true
					continue
				}
				if aConst && av == 0 {
					replaceUses(b, n.ID, n.B)
					changed = true
					continue
				}
			case ir.OpSub:
				if bConst && bv == 0 {
					replaceUses(b, n.ID, n.A)
					changed = true
					continue
				}
			case ir.OpMul:
				if bConst && bv == 1 {
					replaceUses(b, n.ID, n.A)
					changed = true
					continue
				}
				if aConst && av == 1 {
					replaceUses(b, n.ID, n.B)
					changed = true
					continue
				}
				if (bConst && bv == 0) || (aConst && av == 0) {
					foldConstant(n, 0)
					changed = true
					continue
				}
			case ir.OpDiv:
				if bConst && bv == 1 {
					replaceUses(b, n.ID, n.A)
					changed = true
					continue
				}
			}
		}

		if n.Op == ir.OpNeg {
			if av, ok := constNum(b.At(n.A)); ok {
				foldConstant(n, -av)
				changed = true
				continue
			}
		}

		if n.Op.IsCompare() {
			av, aConst := constNum(b.At(n.A))
			bv, bConst := constNum(b.At(n.B))
			if aConst && bConst {
				var r bool
				switch n.Op {
				case ir.OpLt:
					r = av < bv
				case ir.OpLe:
					r = av <= bv
				case ir.OpGt:
					r = av > bv
				case ir.OpGe:
					r = av >= bv
				case ir.OpEq:
					r = av == bv
				case ir.OpNe:
					r = av != bv
				}
				foldBool(n, r)
				changed = true
			}
		}
	}
	return changed, nil
}

func floatMod(a, b float64) float64 {
	m := a - b*float64(int64(a/b))
	return m
}

// strengthReduce is pass 7 (spec §4.3): replace an expensive operation
// with a cheaper, semantically equivalent one. Multiplication by the
// small constant 2 becomes a self-add, the one strength reduction that
// is unconditionally valid over doubles (unlike power-of-two-shift
// tricks, which only hold once pass 12 has proven a value is an
// integer).
func strengthReduce(b *ir.Buffer) (bool, error) {
	changed := false
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if n.IsDead() || n.Op != ir.OpMul {
			continue
		}
		if bv, ok := constNum(b.At(n.B)); ok && bv == 2 {
			n.Op = ir.OpAdd
			n.B = n.A
			changed = true
			continue
		}
		if av, ok := constNum(b.At(n.A)); ok && av == 2 {
			n.Op = ir.OpAdd
			n.A = n.B
			changed = true
		}
	}
	return changed, nil
}
