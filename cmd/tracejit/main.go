// Command tracejit assembles a small built-in bytecode routine and runs
// it to completion through host.VM, with the tracing JIT wired in via
// internal/config and jit.State. It exists to give the CORE packages an
// end-to-end driver the way GVM's own main.go drives its assembler and
// VM from CLI flags (spec §8's end-to-end scenarios are what this
// command exercises).
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tracejit/tracejit/host"
	"github.com/tracejit/tracejit/internal/config"
	"github.com/tracejit/tracejit/jit"
	"github.com/tracejit/tracejit/value"
)

var (
	enableJIT    = flag.Bool("jit", true, "enable the tracing JIT")
	hotThreshold = flag.Uint("hot-threshold", 0, "loop iterations before a trace is recorded (0 = default)")
	dumpIR       = flag.Bool("dump-ir", false, "log every optimizer pass on compile")
	verbose      = flag.Bool("v", false, "enable verbose structured logging")
	scenario     = flag.String("scenario", "sum", "built-in scenario to run: sum, range, factorial")
)

func main() {
	flag.Parse()

	var log *zap.SugaredLogger
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(os.Stderr, "tracejit: failed to build logger:", err)
			os.Exit(1)
		}
		defer l.Sync()
		log = l.Sugar()
	}

	jitEnabled := *enableJIT
	cfg, err := config.Load(config.Config{
		Enabled:      &jitEnabled,
		HotThreshold: uint16(*hotThreshold),
		DumpIR:       dumpIR,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "tracejit: invalid configuration:", err)
		os.Exit(1)
	}

	state := jit.New(cfg, log)
	defer state.Free()

	vm := host.New(state, log)

	routine, ok := builtinScenarios[*scenario]
	if !ok {
		fmt.Fprintf(os.Stderr, "tracejit: unknown scenario %q (want one of: sum, range, factorial)\n", *scenario)
		os.Exit(1)
	}

	fiber := host.NewFiber()
	fr := vm.NewCallFrame(fiber, routine())
	if err := vm.Run(fiber); err != nil {
		fmt.Fprintln(os.Stderr, "tracejit: execution failed:", err)
		os.Exit(1)
	}

	stats := state.Stats()
	fmt.Printf("scenario %q finished: result=%v\n", *scenario, resultSlot(*scenario, fr))
	fmt.Printf("traces_compiled=%d traces_aborted=%d total_exits=%d\n",
		stats.TracesCompiled, stats.TracesAborted, stats.TotalExits)
}

// resultSlot reports the slot each built-in scenario leaves its answer
// in, purely for the CLI's own printed summary.
func resultSlot(name string, fr *host.Frame) float64 {
	slot, ok := resultSlots[name]
	if !ok {
		return 0
	}
	return value.FromBits(fr.Slots[slot]).AsNumber()
}

var resultSlots = map[string]int32{
	"sum":       1,
	"range":     1,
	"factorial": 1,
}
