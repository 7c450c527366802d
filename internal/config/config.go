// Package config loads, defaults and validates the JIT's own
// configuration (spec §6 "Configuration recognized") before it reaches
// jit.New. It is a plain struct plus a validation pass, not a
// functional-options builder, matching the teacher's preference for
// concrete structs (Instruction, DeviceBaseInfo) over indirection.
package config

import (
	"errors"
	"fmt"

	"github.com/tracejit/tracejit/ir"
	"github.com/tracejit/tracejit/jit"
)

var (
	errHotThresholdNotPositive = errors.New("config: hot threshold must be a positive integer")
	errCacheCapacityNotPositive = errors.New("config: cache capacity hint must be a positive integer")
	errPreHeaderSlotsOdd       = errors.New("config: pre-header slot reservation must be even")
	errPreHeaderSlotsTooSmall  = errors.New("config: pre-header slot reservation must be at least 2")
	errRegisterCountNotPositive = errors.New("config: GP/FP register counts must be positive")
)

// Config is the on-disk/CLI-facing shape: every field spec §6 names,
// with zero (or nil, for the two booleans) meaning "use the default"
// rather than "use zero" — the distinction Load's defaulting pass
// exists to apply.
type Config struct {
	Enabled           *bool
	HotThreshold      uint16
	CacheCapacityHint int
	PreHeaderSlots    int
	RegGP             int
	RegFP             int
	DumpIR            *bool
}

// Load starts from jit.DefaultConfig(), overlays any non-zero field in
// override, and validates the result. A caller that only wants the
// defaults passes a zero-value Config.
func Load(override Config) (jit.Config, error) {
	defaults := jit.DefaultConfig()
	cfg := jit.Config{
		Enabled:           defaults.Enabled,
		HotThreshold:      defaults.HotThreshold,
		CacheCapacityHint: defaults.CacheCapacityHint,
		PreHeaderSlots:    defaults.PreHeaderSlots,
		RegGP:             defaults.RegGP,
		RegFP:             defaults.RegFP,
		DumpIR:            defaults.DumpIR,
	}

	if override.HotThreshold != 0 {
		cfg.HotThreshold = override.HotThreshold
	}
	if override.CacheCapacityHint != 0 {
		cfg.CacheCapacityHint = override.CacheCapacityHint
	}
	if override.PreHeaderSlots != 0 {
		cfg.PreHeaderSlots = override.PreHeaderSlots
	}
	if override.RegGP != 0 {
		cfg.RegGP = override.RegGP
	}
	if override.RegFP != 0 {
		cfg.RegFP = override.RegFP
	}
	if override.Enabled != nil {
		cfg.Enabled = *override.Enabled
	}
	if override.DumpIR != nil {
		cfg.DumpIR = *override.DumpIR
	}

	if err := Validate(cfg); err != nil {
		return jit.Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants spec §6 states directly: a positive
// hot threshold, a positive cache capacity hint, and an even pre-header
// slot count large enough to hold two nodes per loop-carried variable
// (ir.DefaultPreHeaderSlots is the typical >= 16 value named there).
func Validate(cfg jit.Config) error {
	if cfg.HotThreshold == 0 {
		return errHotThresholdNotPositive
	}
	if cfg.CacheCapacityHint <= 0 {
		return errCacheCapacityNotPositive
	}
	if cfg.PreHeaderSlots%2 != 0 {
		return errPreHeaderSlotsOdd
	}
	if cfg.PreHeaderSlots < 2 {
		return errPreHeaderSlotsTooSmall
	}
	if cfg.RegGP <= 0 || cfg.RegFP <= 0 {
		return errRegisterCountNotPositive
	}
	if cfg.PreHeaderSlots < ir.DefaultPreHeaderSlots {
		// Rejected as well, with its own message: the recorder claims
		// one pre-header slot per interpreter slot a trace reads, and
		// aborts the recording once the reservation runs out.
		return fmt.Errorf("config: pre-header slots %d is below the recommended minimum %d for multi-variable loops", cfg.PreHeaderSlots, ir.DefaultPreHeaderSlots)
	}
	return nil
}
