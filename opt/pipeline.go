// Package opt implements the fixed sequence of thirteen optimizer passes
// spec §4.3 requires to run, in order, over one trace's ir.Buffer before
// it reaches register allocation: box/unbox elimination, scoped
// redundant-guard elimination, constant propagation/folding and
// algebraic identities, global value numbering, loop-invariant code
// motion, guard hoisting, strength reduction, induction-variable bounds-
// guard deduplication, escape analysis, a first dead-code sweep, unscoped
// guard elimination (itself two phases: re-running the redundant-guard
// dedup without the loop-header reset, then proving is-number guards
// dead over always-numeric identifiers and killing dispensable stack
// stores), induction-variable type inference, and a second dead-code
// sweep.
//
// Every pass mutates nodes in place (ir.Buffer.At) and kills removed
// nodes rather than deleting them (ir.Node.Kill), preserving the
// forward-only array's addressing so later passes and the register
// allocator never have to renumber anything — the same discipline
// ir.Verify checks for.
package opt

import "github.com/tracejit/tracejit/ir"

// Pass is one optimizer transformation. It reports whether it changed
// anything, purely for diagnostics (the pipeline always runs every pass
// exactly once per spec §4.3 — passes are not iterated to a fixpoint).
type Pass func(b *ir.Buffer) (changed bool, err error)

// Result carries side information a pass produces that does not fit as
// an in-place Buffer mutation: currently only the escaping-object set
// pass 9 computes. The code generator does not read it; its GC-root list
// comes from object-constant nodes.
type Result struct {
	Escaping map[ir.ID]bool
}

// namedPass pairs a Pass with the diagnostic name used in JIT logging.
type namedPass struct {
	name string
	run  Pass
}

// order is the fixed pass sequence. Do not reorder: later passes rely on
// invariants established by earlier ones (GVN assumes constant folding
// already ran; the second DCE sweep assumes guard elimination and
// induction-variable retyping already killed what they were going to
// kill).
var order = []namedPass{
	{"box-unbox-elim", eliminateBoxUnbox},
	{"guard-elim-scoped", eliminateRedundantGuardsScoped},
	{"const-fold", constantFoldAndSimplify},
	{"gvn", globalValueNumber},
	{"licm", hoistLoopInvariant},
	{"guard-hoist", hoistInvariantGuards},
	{"strength-reduce", strengthReduce},
	{"bounds-guard-elim", eliminateRedundantBoundsGuards},
	{"escape-analysis", nil}, // handled specially: populates Result.Escaping
	{"dce-1", deadCodeEliminate},
	{"guard-elim-unscoped", eliminateRedundantGuardsUnscoped},
	{"always-numeric-elim", markAlwaysNumericAndEliminate},
	{"dispensable-store-elim", markDispensableSlotStores},
	{"iv-type-infer", inferInductionVariableTypes},
	{"dce-2", deadCodeEliminate},
}

// Diagnostics, when non-nil, receives the name of each pass as it runs
// and whether it changed the buffer — the hook package jit's zap logger
// attaches to for per-trace compile diagnostics (spec §7).
type Diagnostics func(pass string, changed bool)

// Run executes every pass in order exactly once and returns the escape
// set pass 9 computed.
func Run(b *ir.Buffer, diag Diagnostics) (*Result, error) {
	result := &Result{}
	for _, p := range order {
		if p.name == "escape-analysis" {
			result.Escaping = computeEscaping(b)
			if diag != nil {
				diag(p.name, len(result.Escaping) > 0)
			}
			continue
		}
		changed, err := p.run(b)
		if err != nil {
			return nil, err
		}
		if diag != nil {
			diag(p.name, changed)
		}
	}
	if err := ir.Verify(b); err != nil {
		return nil, err
	}
	return result, nil
}
