package host

import (
	"github.com/tracejit/tracejit/asmcontract"
	"github.com/tracejit/tracejit/jit"
	"github.com/tracejit/tracejit/recorder"
)

// Run drives fiber's top frame to completion, consulting vm.JIT at
// every backward branch the way spec §4.1 describes: "before counting,
// the interpreter consults the trace cache." Grounded on GVM's
// execInstructions driving loop (run.go), generalized to interleave the
// recorder and the compiled-trace executor alongside plain bytecode
// dispatch.
func (vm *VM) Run(fiber *Fiber) error {
	for {
		fr := fiber.Top()
		if fr == nil {
			return nil
		}
		if err := vm.step(fiber, fr); err != nil {
			return err
		}
	}
}

// step executes exactly one bytecode position of fr. While a recording
// is in flight it also feeds the same pc to the recorder; at an
// already-idle backward branch it consults the trace cache and the hot
// counter before falling through to plain interpretation.
func (vm *VM) step(fiber *Fiber, fr *Frame) error {
	pc := fr.PC
	routine := fr.Routine

	wasRecording := vm.JIT != nil && vm.JIT.Mode() == jit.ModeRecording
	if wasRecording {
		if _, err := vm.JIT.RecordStep(routine, pc, fr.StackDepth, fiber.CallDepth()); err != nil {
			vm.JIT.AbortRecording(err.Error())
		}
	}

	instr, ok := routine.Fetch(pc)
	if !ok {
		return errInvalidPC
	}

	if !wasRecording && instr.Op == recorder.OpJump && vm.JIT != nil && vm.JIT.Enabled() {
		target := uint32(instr.Imm)
		if target <= pc {
			if trace, hit := vm.JIT.Lookup(target); hit {
				exit := vm.JIT.Execute(trace, asmcontract.EntryArgs{
					VM:         vm,
					Fiber:      fiber,
					StackSlots: fr.Slots,
					ModuleVars: vm.moduleVars(),
					Objects:    vm.Heap,
				})
				if resumePC, stackDepth, _, ok := vm.JIT.RestoreExit(trace, exit); ok {
					fr.PC = resumePC
					fr.StackDepth = stackDepth
					return nil
				}
			} else if vm.JIT.IncrementHot(routine.hotCounts, target) {
				vm.JIT.StartRecording(target)
			}
		}
	}

	nextPC, returned, err := vm.execInstr(fiber, fr, instr)
	if err != nil {
		return err
	}
	if returned {
		fiber.Pop()
		return nil
	}
	fr.PC = nextPC
	return nil
}
