// Package reason implements the static reason→defaults lookup table: a
// pure function over the closed set of canonical reason strings, with
// explicit support for caller-supplied custom reasons that must come
// with their own mode and priority.
package reason

import (
	"fmt"

	"github.com/banksean/dexopt/internal/model"
)

// Canonical reason strings.
const (
	FirstBoot                      = "first-boot"
	BootAfterOTA                   = "boot-after-ota"
	BootAfterMainlineUpdate        = "boot-after-mainline-update"
	Install                        = "install"
	InstallFast                    = "install-fast"
	InstallBulk                    = "install-bulk"
	InstallBulkSecondary           = "install-bulk-secondary"
	InstallBulkDowngraded          = "install-bulk-downgraded"
	InstallBulkSecondaryDowngraded = "install-bulk-secondary-downgraded"
	BgDexopt                       = "bg-dexopt"
	Inactive                       = "inactive"
	Cmdline                        = "cmdline"
)

// entry is one row of the reason/mode table.
type entry struct {
	mode        model.CompilerMode
	priority    model.PriorityClass
	concurrency int
	isBatch     bool
	isInstall   bool
	flags       model.DexoptFlags
}

// Config lets the table's extension points be tuned without touching
// lookup logic; all default to current (pre-existing) behavior.
type Config struct {
	// AllowSingleSplitPrimary gates whether a primary container may be
	// dexopted in isolation by split name. Defaults to false.
	AllowSingleSplitPrimary bool
	// HiddenApiPolicy is forwarded opaquely to the daemon on every
	// planner invocation; the core never interprets it.
	HiddenApiPolicy string
	// SdkSandboxIsIsolated controls whether the platform collaborator
	// classifies SDK-sandbox UIDs as isolated-process loaders.
	SdkSandboxIsIsolated bool
	// ConcurrencyOverride lets a system property
	// (pm.dexopt.<reason>.concurrency) override the table's default
	// per-reason worker count. Keyed by canonical reason string.
	ConcurrencyOverride map[string]int
}

// DefaultConfig returns a Config preserving current behavior.
func DefaultConfig() Config {
	return Config{
		AllowSingleSplitPrimary: false,
		SdkSandboxIsIsolated:    true,
	}
}

// Table is the reason/mode lookup.
type Table struct {
	cfg     Config
	entries map[string]entry
}

// New builds the canonical reason/mode table.
func New(cfg Config) *Table {
	return &Table{
		cfg: cfg,
		entries: map[string]entry{
			FirstBoot:                      {model.ModeSpeedProfile, model.PriorityBoot, 4, true, false, 0},
			BootAfterOTA:                   {model.ModeSpeedProfile, model.PriorityBoot, 4, true, false, 0},
			BootAfterMainlineUpdate:        {model.ModeSpeedProfile, model.PriorityBoot, 4, true, false, 0},
			Install:                        {model.ModeSpeedProfile, model.PriorityInteractive, 1, false, true, 0},
			InstallFast:                    {model.ModeAssumeVerified, model.PriorityInteractiveFast, 1, false, true, 0},
			InstallBulk:                    {model.ModeSpeedProfile, model.PriorityBackground, 2, false, true, 0},
			InstallBulkSecondary:           {model.ModeSpeedProfile, model.PriorityBackground, 2, false, true, 0},
			InstallBulkDowngraded:          {model.ModeVerify, model.PriorityBackground, 2, false, true, model.FlagShouldDowngrade},
			InstallBulkSecondaryDowngraded: {model.ModeVerify, model.PriorityBackground, 2, false, true, model.FlagShouldDowngrade},
			BgDexopt:                       {model.ModeSpeedProfile, model.PriorityBackground, 2, true, false, model.FlagSkipIfStorageLow},
			Inactive:                       {model.ModeVerify, model.PriorityBackground, 2, false, false, model.FlagShouldDowngrade | model.FlagSkipIfStorageLow},
			Cmdline:                        {model.ModeSpeedProfile, model.PriorityInteractive, 1, false, false, 0},
		},
	}
}

// ErrUnknownReason is returned by the strict lookups (DefaultMode,
// DefaultPriority) for a reason outside the canonical set. An unknown
// reason is only tolerated in *user-supplied batch overrides*; the
// planner must fail with an invalid-argument error, which callers
// construct by wrapping this sentinel.
var ErrUnknownReason = fmt.Errorf("reason: unknown reason")

func (t *Table) lookup(r string) (entry, bool) {
	e, ok := t.entries[r]
	return e, ok
}

// DefaultMode returns the default compiler mode for reason.
func (t *Table) DefaultMode(r string) (model.CompilerMode, error) {
	e, ok := t.lookup(r)
	if !ok {
		return model.ModeUnspecified, fmt.Errorf("reason %q: %w", r, ErrUnknownReason)
	}
	return e.mode, nil
}

// DefaultPriority returns the default priority class for reason.
func (t *Table) DefaultPriority(r string) (model.PriorityClass, error) {
	e, ok := t.lookup(r)
	if !ok {
		return model.PriorityUnspecified, fmt.Errorf("reason %q: %w", r, ErrUnknownReason)
	}
	return e.priority, nil
}

// Concurrency returns the worker-pool size for reason, always ≥ 1. A
// system-property override in cfg.ConcurrencyOverride takes precedence
// over the table default. Unknown reasons fall back to 1 rather than
// erroring, since concurrency is consulted by the batch driver even
// for caller-supplied custom reasons.
func (t *Table) Concurrency(r string) int {
	if t.cfg.ConcurrencyOverride != nil {
		if n, ok := t.cfg.ConcurrencyOverride[r]; ok && n >= 1 {
			return n
		}
	}
	e, ok := t.lookup(r)
	if !ok || e.concurrency < 1 {
		return 1
	}
	return e.concurrency
}

// DefaultFlags returns the default flag set for reason.
func (t *Table) DefaultFlags(r string) model.DexoptFlags {
	e, ok := t.lookup(r)
	if !ok {
		return 0
	}
	return e.flags
}

// IsBatch reports whether reason is one of the batch reasons: all boot
// reasons plus bg-dexopt.
func (t *Table) IsBatch(r string) bool {
	e, ok := t.lookup(r)
	return ok && e.isBatch
}

// IsInstall reports whether reason starts with "install".
func (t *Table) IsInstall(r string) bool {
	e, ok := t.lookup(r)
	if ok {
		return e.isInstall
	}
	return len(r) >= len("install") && r[:len("install")] == "install"
}

// Config returns the extension-point configuration this table was
// built with.
func (t *Table) Config() Config {
	return t.cfg
}
