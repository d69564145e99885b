package reason

import (
	"errors"
	"testing"

	"github.com/banksean/dexopt/internal/model"
)

func TestDefaultModeKnownReasons(t *testing.T) {
	tbl := New(DefaultConfig())
	for _, r := range []string{FirstBoot, BootAfterOTA, BootAfterMainlineUpdate, Install, InstallFast,
		InstallBulk, InstallBulkSecondary, InstallBulkDowngraded, InstallBulkSecondaryDowngraded,
		BgDexopt, Inactive, Cmdline} {
		if _, err := tbl.DefaultMode(r); err != nil {
			t.Errorf("DefaultMode(%q) returned error: %v", r, err)
		}
		if n := tbl.Concurrency(r); n < 1 {
			t.Errorf("Concurrency(%q) = %d, want >= 1", r, n)
		}
	}
}

func TestDefaultModeUnknownReason(t *testing.T) {
	tbl := New(DefaultConfig())
	if _, err := tbl.DefaultMode("totally-made-up"); !errors.Is(err, ErrUnknownReason) {
		t.Errorf("DefaultMode(unknown) error = %v, want wrapping ErrUnknownReason", err)
	}
}

func TestConcurrencyUnknownReasonFallsBackToOne(t *testing.T) {
	tbl := New(DefaultConfig())
	if n := tbl.Concurrency("totally-made-up"); n != 1 {
		t.Errorf("Concurrency(unknown) = %d, want 1", n)
	}
}

func TestConcurrencyOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConcurrencyOverride = map[string]int{BgDexopt: 7}
	tbl := New(cfg)
	if n := tbl.Concurrency(BgDexopt); n != 7 {
		t.Errorf("Concurrency(bg-dexopt) = %d, want 7 (override)", n)
	}
}

func TestIsBatch(t *testing.T) {
	tbl := New(DefaultConfig())
	for _, r := range []string{FirstBoot, BootAfterOTA, BootAfterMainlineUpdate, BgDexopt} {
		if !tbl.IsBatch(r) {
			t.Errorf("IsBatch(%q) = false, want true", r)
		}
	}
	for _, r := range []string{Install, Inactive, Cmdline} {
		if tbl.IsBatch(r) {
			t.Errorf("IsBatch(%q) = true, want false", r)
		}
	}
}

func TestIsInstall(t *testing.T) {
	tbl := New(DefaultConfig())
	for _, r := range []string{Install, InstallFast, InstallBulk, InstallBulkSecondary,
		InstallBulkDowngraded, InstallBulkSecondaryDowngraded} {
		if !tbl.IsInstall(r) {
			t.Errorf("IsInstall(%q) = false, want true", r)
		}
	}
	if tbl.IsInstall(BgDexopt) {
		t.Errorf("IsInstall(bg-dexopt) = true, want false")
	}
	// Custom reasons are classified purely by string prefix.
	if !tbl.IsInstall("install-custom-thing") {
		t.Errorf("IsInstall(install-custom-thing) = false, want true")
	}
}

func TestInactiveIsShouldDowngrade(t *testing.T) {
	tbl := New(DefaultConfig())
	if tbl.DefaultFlags(Inactive)&model.FlagShouldDowngrade == 0 {
		t.Errorf("Inactive reason should default to FlagShouldDowngrade")
	}
}
