package host

import "github.com/tracejit/tracejit/recorder"

// Routine is one compiled bytecode function: a flat, pc-addressed
// instruction array plus its constant pools. It directly implements
// recorder.Program, since host's bytecode IS the recorder's instruction
// set — there is no separate translation step between what the
// interpreter executes and what the recorder type-specializes.
//
// hotCounts is the per-offset 16-bit counter array spec §4.1 requires
// ("each loop header bytecode offset carries its own counter"); dispatch
// reads and bumps it through jit.State.IncrementHot.
type Routine struct {
	Name     string
	Instrs   []recorder.Instr
	Nums     []float64
	Objs     []uint64
	NumSlots int32

	hotCounts []uint16
}

// NewRoutine builds a Routine from an already-assembled instruction
// stream and constant pools.
func NewRoutine(name string, instrs []recorder.Instr, nums []float64, objs []uint64, numSlots int32) *Routine {
	return &Routine{
		Name:      name,
		Instrs:    instrs,
		Nums:      nums,
		Objs:      objs,
		NumSlots:  numSlots,
		hotCounts: make([]uint16, len(instrs)),
	}
}

// Fetch implements recorder.Program.
func (r *Routine) Fetch(pc uint32) (recorder.Instr, bool) {
	if int(pc) >= len(r.Instrs) {
		return recorder.Instr{}, false
	}
	return r.Instrs[pc], true
}

// ConstNum implements recorder.Program.
func (r *Routine) ConstNum(idx int64) (float64, bool) {
	if idx < 0 || int(idx) >= len(r.Nums) {
		return 0, false
	}
	return r.Nums[idx], true
}

// ConstObj implements recorder.Program.
func (r *Routine) ConstObj(idx int64) (uint64, bool) {
	if idx < 0 || int(idx) >= len(r.Objs) {
		return 0, false
	}
	return r.Objs[idx], true
}
