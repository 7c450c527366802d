// Package jit wires the recorder, optimizer, register allocator, code
// generator and trace cache into the pipeline spec §2 describes, and
// exposes the host-facing hooks of §6 as methods on State. Nothing in
// this package knows anything about package host beyond the small
// recorder.Program/asmcontract.EntryArgs contracts those packages
// already define — host is the one thing that calls in, never the
// reverse, the same acyclic shape as every other CORE package.
package jit

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tracejit/tracejit/asmcontract"
	"github.com/tracejit/tracejit/cache"
	"github.com/tracejit/tracejit/codegen"
	"github.com/tracejit/tracejit/genasm"
	"github.com/tracejit/tracejit/ir"
	"github.com/tracejit/tracejit/opt"
	"github.com/tracejit/tracejit/recorder"
	"github.com/tracejit/tracejit/regalloc"
)

// Mode is the JIT's current position in its state machine (spec §2:
// idle, recording, compiling).
type Mode uint8

const (
	ModeIdle Mode = iota
	ModeRecording
	ModeCompiling
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRecording:
		return "recording"
	case ModeCompiling:
		return "compiling"
	default:
		return "?mode?"
	}
}

// Config is the JIT's own configuration (spec §6 "Configuration
// recognized"); internal/config loads, defaults and validates one of
// these before it reaches New.
type Config struct {
	Enabled bool

	// HotThreshold is the exact counter value that triggers recording
	// (spec §4.1 "the equality test (not >=)").
	HotThreshold uint16

	// CacheCapacityHint seeds the trace cache's initial table size.
	CacheCapacityHint int

	// PreHeaderSlots is the recorder's pre-loop NOP reservation (spec §6
	// "must be even ... typical value >= 16").
	PreHeaderSlots int

	// RegGP/RegFP are the allocatable (non-scratch, non-argument-bound)
	// register counts per class, passed to regalloc.Config.
	RegGP, RegFP int

	// DumpIR, when set, logs every optimizer pass's name and whether it
	// changed the buffer (spec §6 "optional diagnostic: dumping the IR
	// on compile").
	DumpIR bool
}

// DefaultConfig matches spec §4.1/§6's named defaults exactly.
func DefaultConfig() Config {
	codegenDefaults := codegen.DefaultConfig()
	return Config{
		Enabled:           true,
		HotThreshold:      50,
		CacheCapacityHint: 64,
		PreHeaderSlots:    ir.DefaultPreHeaderSlots,
		RegGP:             codegenDefaults.GPRegisters,
		RegFP:             codegenDefaults.FPRegisters,
		DumpIR:            false,
	}
}

// Stats are the only user-observable signals spec §7 allows a host to
// read: "traces_compiled, traces_aborted, total_exits."
type Stats struct {
	TracesCompiled int64
	TracesAborted  int64
	TotalExits     int64
}

// State is one VM instance's JIT state (spec §6 "init(vm) -> state").
// It contains no process-wide data — every field is owned by this one
// State, so multiple VM instances (multiple States) are independent
// (spec §5).
type State struct {
	cfg   Config
	log   *zap.SugaredLogger
	cache *cache.TraceCache

	mode     Mode
	recorder *recorder.Recorder
	anchorPC uint32

	tracesCompiled atomic.Int64
	tracesAborted  atomic.Int64
	totalExits     atomic.Int64

	enabled atomic.Bool
}

// New creates a JIT state. A nil log is replaced with a no-op logger,
// matching the defensive-default idiom the ignite example uses for its
// own long-lived *zap.SugaredLogger field.
func New(cfg Config, log *zap.SugaredLogger) *State {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &State{
		cfg:   cfg,
		log:   log,
		cache: cache.New(cfg.CacheCapacityHint),
		mode:  ModeIdle,
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

// Free releases every cached trace's native code. The State itself is
// ordinary Go memory and needs no further teardown.
func (s *State) Free() {
	s.cache.Close()
}

// SetEnabled toggles recording/lookup without discarding already
// compiled traces (spec §6 "set_enabled(state, bool)").
func (s *State) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

func (s *State) Enabled() bool { return s.enabled.Load() }

func (s *State) Mode() Mode { return s.mode }

func (s *State) Stats() Stats {
	return Stats{
		TracesCompiled: s.tracesCompiled.Load(),
		TracesAborted:  s.tracesAborted.Load(),
		TotalExits:     s.totalExits.Load(),
	}
}

// IncrementHot bumps the counter at pcOffset within a host-owned
// per-function counter array and reports whether it just crossed the
// hot threshold (spec §4.1: "the equality test (not >=) guarantees at
// most one recording attempt per threshold crossing. If the JIT is
// disabled or already recording, the test yields false without
// incrementing state.").
func (s *State) IncrementHot(counters []uint16, pcOffset uint32) bool {
	if !s.Enabled() || s.mode != ModeIdle {
		return false
	}
	counters[pcOffset]++
	return counters[pcOffset] == s.cfg.HotThreshold
}

// Lookup consults the trace cache (spec §4.1 "before counting, the
// interpreter consults the trace cache").
func (s *State) Lookup(pc uint32) (*codegen.CompiledTrace, bool) {
	return s.cache.Lookup(pc)
}

// StartRecording transitions idle -> recording, anchored at pc (spec §6
// "start_recording(state, anchor_pc)").
func (s *State) StartRecording(anchorPC uint32) {
	s.recorder = recorder.New(anchorPC, s.cfg.PreHeaderSlots, recorder.DefaultLimits(), s.log)
	s.anchorPC = anchorPC
	s.mode = ModeRecording
}

// RecordStep feeds one bytecode instruction to the in-progress recorder
// (spec §6 "record_step(state, vm, pc) -> completed"). On completion it
// runs the full optimize/allocate/lower pipeline and installs the
// resulting trace in the cache; on abort it discards the in-progress IR
// and returns to idle. Either way the caller learns only completed/not —
// the pipeline result, if any, is already reachable through Lookup.
func (s *State) RecordStep(prog recorder.Program, pc uint32, stackDepth int32, callDepth int) (completed bool, err error) {
	if s.mode != ModeRecording {
		return false, nil
	}
	status, err := s.recorder.Step(prog, pc, stackDepth, callDepth)
	if err != nil {
		return false, err
	}
	switch status {
	case recorder.StatusRecording:
		return false, nil
	case recorder.StatusAborted:
		s.tracesAborted.Add(1)
		s.mode = ModeIdle
		s.recorder = nil
		return false, nil
	case recorder.StatusCompleted:
		s.mode = ModeCompiling
		if _, err := s.compileAndStore(); err != nil {
			s.log.Debugw("trace compilation failed", "anchor_pc", s.anchorPC, "error", err)
		}
		s.mode = ModeIdle
		s.recorder = nil
		return true, nil
	default:
		return false, nil
	}
}

// AbortRecording discards the in-progress recording (spec §6
// "abort_recording(state, reason)"), used by a host that detects an
// abort condition the recorder itself cannot see (e.g. an upvalue
// access).
func (s *State) AbortRecording(reason string) {
	if s.mode != ModeRecording {
		return
	}
	s.log.Debugw("trace recording aborted by host", "anchor_pc", s.anchorPC, "reason", reason)
	s.tracesAborted.Add(1)
	s.mode = ModeIdle
	s.recorder = nil
}

// compileAndStore runs the pipeline (opt.Run -> regalloc.Allocate ->
// codegen.Lower) over the just-completed recorder's buffer and installs
// the result in the trace cache (spec §6 "compile_and_store(state, vm,
// fiber, frame) -> trace_or_null").
func (s *State) compileAndStore() (*codegen.CompiledTrace, error) {
	buf := s.recorder.Buffer()

	var diag opt.Diagnostics
	if s.cfg.DumpIR {
		anchor := s.anchorPC
		diag = func(pass string, changed bool) {
			s.log.Debugw("optimizer pass", "anchor_pc", anchor, "pass", pass, "changed", changed)
		}
	}
	if _, err := opt.Run(buf, diag); err != nil {
		s.tracesAborted.Add(1)
		return nil, err
	}

	alloc, err := regalloc.Allocate(buf, regalloc.Config{NumGP: s.cfg.RegGP, NumFP: s.cfg.RegFP})
	if err != nil {
		s.tracesAborted.Add(1)
		return nil, err
	}

	asm := genasm.New()
	trace, err := codegen.Lower(buf, alloc, asm, codegen.Config{GPRegisters: s.cfg.RegGP, FPRegisters: s.cfg.RegFP})
	if err != nil {
		s.tracesAborted.Add(1)
		return nil, err
	}

	s.cache.Insert(s.anchorPC, trace)
	s.tracesCompiled.Add(1)
	s.log.Infow("trace compiled", "anchor_pc", s.anchorPC, "snapshots", len(trace.Snapshots), "roots", len(trace.Roots))
	return trace, nil
}

// Execute runs a cached trace's native entry (spec §6 "execute(state,
// vm, trace) -> exit_code"). A nonzero return is a 1-based side-exit
// index the host resolves via RestoreExit.
func (s *State) Execute(trace *codegen.CompiledTrace, args asmcontract.EntryArgs) int32 {
	trace.Enters++
	exit := trace.Buf.Run(args)
	if exit != 0 {
		trace.Exits++
		s.totalExits.Add(1)
	}
	return exit
}

// RestoreExit resolves a nonzero exit code into the information a host
// needs to deoptimize (spec §4.7 "the deopt path reads that snapshot's
// resume PC ... truncates the fiber's stack top to the snapshot's
// recorded stack depth").
func (s *State) RestoreExit(trace *codegen.CompiledTrace, exitCode int32) (resumePC uint32, stackDepth int32, entries []ir.SnapshotEntry, ok bool) {
	if exitCode <= 0 || int(exitCode) > len(trace.Snapshots) {
		return 0, 0, nil, false
	}
	snap := trace.Snapshots[exitCode-1]
	return snap.ResumePC, snap.StackDepth, snap.Entries, true
}

// MarkRoots returns every cached trace's GC roots concatenated (spec §6
// "mark_roots(state, vm) -- iterate every cached trace's root list and
// gray each object"); graying the objects themselves is the host's job.
func (s *State) MarkRoots() []uint64 {
	return s.cache.MarkRoots()
}
