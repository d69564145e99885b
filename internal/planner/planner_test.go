package planner

import (
	"context"
	"testing"

	"github.com/banksean/dexopt/internal/daemon"
	"github.com/banksean/dexopt/internal/daemon/daemontest"
	"github.com/banksean/dexopt/internal/dexuse"
	"github.com/banksean/dexopt/internal/model"
	"github.com/banksean/dexopt/internal/platform"
	"github.com/banksean/dexopt/internal/platform/platformtest"
	"github.com/banksean/dexopt/internal/reason"
)

type stubValidators struct{}

func (stubValidators) ValidateDexPath(path string) error           { return nil }
func (stubValidators) ValidateClassLoaderContext(clc string) error { return nil }

func newTestPlanner(t *testing.T) (*Planner, *daemontest.Fake, *platform.Platform) {
	t.Helper()
	fake := daemontest.New()
	plat, _, _, _, _ := platformtest.NewPlatform()
	registry := dexuse.New(plat, stubValidators{}, "", 15_000)
	tbl := reason.New(reason.DefaultConfig())
	return New(fake, registry, plat, tbl), fake, plat
}

func basicInput(mode model.CompilerMode) model.PlannerInput {
	return model.PlannerInput{
		Container: model.Container{
			Path:               "/data/app/com.example.app/base.apk",
			HasCode:            true,
			Primary:            true,
			ClassLoaderContext: "PCL[]",
			StorageUUID:        "default-uuid",
		},
		Abi:        model.Abi{Name: "arm64-v8a", Isa: "arm64", IsPrimaryAbi: true},
		TargetMode: mode,
		Reason:     reason.Cmdline,
		Priority:   model.PriorityInteractive,
	}
}

func TestPlanNoopSkipsWithoutDaemonCall(t *testing.T) {
	p, fake, _ := newTestPlanner(t)
	in := basicInput(model.ModeNoop)

	result := p.Plan(context.Background(), in, PackageContext{PackageName: "com.example.app"})
	if result.Status != model.StatusSkipped {
		t.Fatalf("Status = %v, want Skipped", result.Status)
	}
	if len(fake.Calls) != 0 {
		t.Fatalf("daemon calls = %v, want none", fake.Calls)
	}
}

func TestPlanVMSafeModeDowngradesAndSucceeds(t *testing.T) {
	p, _, _ := newTestPlanner(t)
	in := basicInput(model.ModeSpeed)

	result := p.Plan(context.Background(), in, PackageContext{PackageName: "com.example.app", VMSafeMode: true})
	if result.Status != model.StatusPerformed {
		t.Fatalf("Status = %v, want Performed", result.Status)
	}
	if result.ActualMode != model.ModeVerify {
		t.Fatalf("ActualMode = %v, want Verify", result.ActualMode)
	}
}

func TestPlanLauncherForcesSpeedProfile(t *testing.T) {
	p, fake, _ := newTestPlanner(t)
	fake.MergeNonEmpty = true
	in := basicInput(model.ModeVerify)

	result := p.Plan(context.Background(), in, PackageContext{PackageName: "com.android.launcher", IsLauncherPackage: true})
	if result.Status != model.StatusPerformed {
		t.Fatalf("Status = %v, want Performed", result.Status)
	}
	if result.ActualMode != model.ModeSpeedProfile {
		t.Fatalf("ActualMode = %v, want SpeedProfile", result.ActualMode)
	}
}

func TestPlanProfileGuidedNoProfileDowngradesToVerify(t *testing.T) {
	p, fake, _ := newTestPlanner(t)
	fake.MergeNonEmpty = false
	fake.FailCopyAndRewrite = true
	in := basicInput(model.ModeSpeedProfile)

	result := p.Plan(context.Background(), in, PackageContext{PackageName: "com.example.app"})
	if result.Status != model.StatusPerformed {
		t.Fatalf("Status = %v, want Performed", result.Status)
	}
	if result.ActualMode != model.ModeVerify {
		t.Fatalf("ActualMode = %v, want Verify (no profile produced)", result.ActualMode)
	}
}

func TestPlanNoDexCodeSkips(t *testing.T) {
	p, fake, _ := newTestPlanner(t)
	in := basicInput(model.ModeVerify)
	fake.Needed[in.Container.Path] = daemon.DexoptNeeded{IsDexoptNeeded: true, HasDexCode: false}

	result := p.Plan(context.Background(), in, PackageContext{PackageName: "com.example.app"})
	if result.Status != model.StatusSkipped {
		t.Fatalf("Status = %v, want Skipped", result.Status)
	}
	if result.Extended&model.ExtNoDexCode == 0 {
		t.Fatalf("Extended = %v, want ExtNoDexCode set", result.Extended)
	}
}

func TestPlanStorageLowSkips(t *testing.T) {
	p, fake, plat := newTestPlanner(t)
	in := basicInput(model.ModeVerify)
	in.Flags |= model.FlagSkipIfStorageLow
	fake.Needed[in.Container.Path] = daemon.DexoptNeeded{IsDexoptNeeded: true, HasDexCode: true}
	plat.Storage.(*platformtest.Storage).Set("default-uuid", 0)

	result := p.Plan(context.Background(), in, PackageContext{PackageName: "com.example.app"})
	if result.Status != model.StatusSkipped {
		t.Fatalf("Status = %v, want Skipped", result.Status)
	}
	if result.Extended&model.ExtStorageLow == 0 {
		t.Fatalf("Extended = %v, want ExtStorageLow set", result.Extended)
	}
}

func TestPlanCancellation(t *testing.T) {
	p, _, _ := newTestPlanner(t)
	in := basicInput(model.ModeVerify)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Plan(ctx, in, PackageContext{PackageName: "com.example.app"})
	if result.Status != model.StatusCancelled {
		t.Fatalf("Status = %v, want Cancelled", result.Status)
	}
}

func TestPlanEmbeddedDexForcesVerify(t *testing.T) {
	p, _, _ := newTestPlanner(t)
	in := basicInput(model.ModeSpeed)

	result := p.Plan(context.Background(), in, PackageContext{PackageName: "com.example.app", RequestsEmbeddedDex: true})
	if result.ActualMode != model.ModeVerify {
		t.Fatalf("ActualMode = %v, want Verify", result.ActualMode)
	}
}
