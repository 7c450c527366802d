package genasm

import (
	"testing"

	"github.com/tracejit/tracejit/asmcontract"
)

type fakeObjects struct{}

func (fakeObjects) ClassOf(uint64) int64            { return 0 }
func (fakeObjects) FieldCount(uint64) int           { return 0 }
func (fakeObjects) LoadField(uint64, int32) uint64  { return 0 }
func (fakeObjects) StoreField(uint64, int32, uint64) {}

func TestStraightLineAddition(t *testing.T) {
	a := New()
	a.Prologue(asmcontract.FrameConfig{ScratchGP: 2})
	r0 := asmcontract.Reg{Class: asmcontract.GP, Index: 0}
	r1 := asmcontract.Reg{Class: asmcontract.GP, Index: 1}
	a.MoveImmGP(r0, 10)
	a.MoveImmGP(r1, 32)
	a.EmitGP2(asmcontract.GP2Add, r0, r1)
	a.StoreSlot(0, r0)
	a.Return()
	buf, err := a.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer buf.Release()

	slots := []uint64{0}
	code := buf.Run(asmcontract.EntryArgs{StackSlots: slots, Objects: fakeObjects{}})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if slots[0] != 42 {
		t.Fatalf("expected slot[0]=42, got %d", slots[0])
	}
}

func TestGuardFailureBranchesToSideExit(t *testing.T) {
	a := New()
	a.Prologue(asmcontract.FrameConfig{ScratchGP: 1})
	r0 := asmcontract.Reg{Class: asmcontract.GP, Index: 0}
	exit := a.NewLabel("exit1")
	a.MoveImmGP(r0, boxBool(false))
	a.GuardTruthy(r0, exit)
	a.Return()
	a.Bind(exit)
	a.ReturnExit(1)

	buf, err := a.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer buf.Release()

	code := buf.Run(asmcontract.EntryArgs{Objects: fakeObjects{}})
	if code != 1 {
		t.Fatalf("expected guard failure to exit code 1, got %d", code)
	}
}

func TestLoopBackJumpsBackward(t *testing.T) {
	a := New()
	a.Prologue(asmcontract.FrameConfig{ScratchGP: 3})
	counter := asmcontract.Reg{Class: asmcontract.GP, Index: 0}
	one := asmcontract.Reg{Class: asmcontract.GP, Index: 1}
	remaining := asmcontract.Reg{Class: asmcontract.GP, Index: 2}
	a.MoveImmGP(counter, 0)
	a.MoveImmGP(one, 1)
	a.MoveImmGP(remaining, 3)
	header := a.NewLabel("header")
	exit := a.NewLabel("exit1")
	a.Bind(header)
	a.EmitGP2(asmcontract.GP2Add, counter, one)
	a.EmitGP2(asmcontract.GP2Sub, remaining, one)
	a.JumpIfZero(remaining, exit)
	a.Jump(header)
	a.Bind(exit)
	a.StoreSlot(0, counter)
	a.ReturnExit(1)

	buf, err := a.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer buf.Release()

	slots := []uint64{0}
	code := buf.Run(asmcontract.EntryArgs{StackSlots: slots, Objects: fakeObjects{}})
	if code != 1 {
		t.Fatalf("expected side-exit code 1, got %d", code)
	}
	if slots[0] != 3 {
		t.Fatalf("expected loop to iterate 3 times, counter=%d", slots[0])
	}
}

func TestBitsFPToGPStoresReinterpretedValue(t *testing.T) {
	a := New()
	a.Prologue(asmcontract.FrameConfig{ScratchGP: 1, ScratchFP: 1})
	gp := asmcontract.Reg{Class: asmcontract.GP, Index: 0}
	fp := asmcontract.Reg{Class: asmcontract.FP, Index: 0}
	a.MoveImmFP(fp, 3.25)
	a.BitsFPToGP(gp, fp)
	a.StoreSlot(0, gp)
	a.Return()
	buf, err := a.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer buf.Release()
	slots := []uint64{0}
	buf.Run(asmcontract.EntryArgs{StackSlots: slots, Objects: fakeObjects{}})
	if slots[0] == 0 {
		t.Fatalf("expected bit-reinterpreted value to be stored")
	}
}
