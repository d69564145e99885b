package model

// DexoptFlags are the caller-controlled boolean options that drive
// mode-downgrade and skip decisions in the per-container planner.
type DexoptFlags uint32

const (
	FlagForce DexoptFlags = 1 << iota
	FlagShouldDowngrade
	FlagIgnoreProfile
	FlagSkipIfStorageLow
	FlagForBootImage
)

func (f DexoptFlags) Has(bit DexoptFlags) bool { return f&bit != 0 }

// ExtendedFlags annotate a per-container planner result with
// diagnostic conditions observed while planning.
type ExtendedFlags uint32

const (
	ExtNoDexCode ExtendedFlags = 1 << iota
	ExtStorageLow
	ExtBadExternalProfile
)

func (f ExtendedFlags) Has(bit ExtendedFlags) bool { return f&bit != 0 }

// DexoptTrigger is the bitset passed to the compiler daemon's
// get_dexopt_needed call.
type DexoptTrigger uint32

const (
	TriggerIsBetter DexoptTrigger = 1 << iota
	TriggerIsSame
	TriggerIsWorse
	TriggerBootImageBecameUsable
	TriggerNeedExtraction
)

func (t DexoptTrigger) Has(bit DexoptTrigger) bool { return t&bit != 0 }
