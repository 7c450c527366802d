package main

import (
	"github.com/tracejit/tracejit/host"
	"github.com/tracejit/tracejit/recorder"
)

// builtinScenarios are spec §8's end-to-end examples, each returning a
// fresh host.Routine so the CLI can run the same scenario repeatedly
// without sharing mutable per-offset hot counters across runs.
var builtinScenarios = map[string]func() *host.Routine{
	"sum":       sumScenario,
	"range":     rangeScenario,
	"factorial": factorialScenario,
}

// sumScenario: sum of 0..99, expected result 4950 (spec §8 "sum loop").
func sumScenario() *host.Routine {
	instrs := []recorder.Instr{
		0: {Op: recorder.OpLoadConstNum, Dst: 2, Imm: 0}, // bound = 100
		1: {Op: recorder.OpLt, Dst: 4, A: 0, B: 2},
		2: {Op: recorder.OpJumpIfFalse, A: 4, Imm: 7},
		3: {Op: recorder.OpLoadConstNum, Dst: 3, Imm: 1}, // increment = 1
		4: {Op: recorder.OpAdd, Dst: 1, A: 1, B: 0},       // sum += i
		5: {Op: recorder.OpAdd, Dst: 0, A: 0, B: 3},       // i += 1
		6: {Op: recorder.OpJump, Imm: 0},
		7: {Op: recorder.OpReturn},
	}
	return host.NewRoutine("sum", instrs, []float64{100, 1}, nil, 5)
}

// rangeScenario: sum of the inclusive range 1..10, expected result 55
// (spec §8 "inclusive range").
func rangeScenario() *host.Routine {
	instrs := []recorder.Instr{
		0: {Op: recorder.OpLoadConstNum, Dst: 0, Imm: 0}, // i = 1
		1: {Op: recorder.OpLoadConstNum, Dst: 2, Imm: 1}, // bound = 10
		2: {Op: recorder.OpLe, Dst: 4, A: 0, B: 2},
		3: {Op: recorder.OpJumpIfFalse, A: 4, Imm: 8},
		4: {Op: recorder.OpLoadConstNum, Dst: 3, Imm: 2}, // increment = 1
		5: {Op: recorder.OpAdd, Dst: 1, A: 1, B: 0},       // sum += i
		6: {Op: recorder.OpAdd, Dst: 0, A: 0, B: 3},       // i += 1
		7: {Op: recorder.OpJump, Imm: 1},
		8: {Op: recorder.OpReturn},
	}
	return host.NewRoutine("range", instrs, []float64{1, 10, 1}, nil, 5)
}

// factorialScenario: product of 1..10, expected result 3628800 (spec §8
// "factorial-style").
func factorialScenario() *host.Routine {
	instrs := []recorder.Instr{
		0: {Op: recorder.OpLoadConstNum, Dst: 0, Imm: 0}, // i = 1
		1: {Op: recorder.OpLoadConstNum, Dst: 1, Imm: 0}, // product = 1
		2: {Op: recorder.OpLoadConstNum, Dst: 2, Imm: 1}, // bound = 10
		3: {Op: recorder.OpLe, Dst: 4, A: 0, B: 2},
		4: {Op: recorder.OpJumpIfFalse, A: 4, Imm: 9},
		5: {Op: recorder.OpMul, Dst: 1, A: 1, B: 0},       // product *= i
		6: {Op: recorder.OpLoadConstNum, Dst: 3, Imm: 2}, // increment = 1
		7: {Op: recorder.OpAdd, Dst: 0, A: 0, B: 3},       // i += 1
		8: {Op: recorder.OpJump, Imm: 2},
		9: {Op: recorder.OpReturn},
	}
	return host.NewRoutine("factorial", instrs, []float64{1, 10, 1}, nil, 5)
}
