package batch

import (
	"context"
	"sync"
	"testing"

	"github.com/banksean/dexopt/internal/daemon/daemontest"
	"github.com/banksean/dexopt/internal/dexopter"
	"github.com/banksean/dexopt/internal/dexuse"
	"github.com/banksean/dexopt/internal/model"
	"github.com/banksean/dexopt/internal/planner"
	"github.com/banksean/dexopt/internal/platform"
	"github.com/banksean/dexopt/internal/platform/platformtest"
	"github.com/banksean/dexopt/internal/reason"
)

type stubValidators struct{}

func (stubValidators) ValidateDexPath(path string) error           { return nil }
func (stubValidators) ValidateClassLoaderContext(clc string) error { return nil }

func newTestDriver(t *testing.T, cfg reason.Config) (*Driver, *platformtest.Packages, *platform.Platform) {
	t.Helper()
	plat, pkgs, _, _, _ := platformtest.NewPlatform()
	registry := dexuse.New(plat, stubValidators{}, "", 15_000)
	tbl := reason.New(cfg)
	fake := daemontest.New()
	p := planner.New(fake, registry, plat, tbl)
	d := dexopter.New(p, plat, registry, tbl)
	return New(d, plat, tbl), pkgs, plat
}

func putPackage(pkgs *platformtest.Packages, name string) {
	pkgs.Put(platform.PackageInfo{
		Name: name,
		PrimaryContainers: []platform.PrimaryContainer{
			{Path: "/data/app/" + name + "/base.apk", HasCode: true},
		},
		Abis: []platform.Abi{{Name: "arm64-v8a", Isa: "arm64", IsPrimaryAbi: true}},
	})
}

func TestRunFansOutAcrossPackages(t *testing.T) {
	d, pkgs, _ := newTestDriver(t, reason.DefaultConfig())
	putPackage(pkgs, "com.example.one")
	putPackage(pkgs, "com.example.two")
	putPackage(pkgs, "com.example.three")

	result := d.Run(context.Background(), Request{
		Packages: []string{"com.example.one", "com.example.two", "com.example.three"},
		Mode:     model.ModeVerify,
		Reason:   reason.Cmdline,
	})

	if len(result.Packages) != 3 {
		t.Fatalf("Packages = %d, want 3", len(result.Packages))
	}
	for _, p := range result.Packages {
		if p.FinalStatus() != model.StatusPerformed {
			t.Errorf("pkg %q status = %v, want Performed", p.PackageName, p.FinalStatus())
		}
	}
}

func TestRunProgressCallbackSequencing(t *testing.T) {
	d, pkgs, _ := newTestDriver(t, reason.DefaultConfig())
	putPackage(pkgs, "com.example.one")
	putPackage(pkgs, "com.example.two")

	var mu sync.Mutex
	var calls [][2]int
	progress := func(current, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, [2]int{current, total})
	}

	d.Run(context.Background(), Request{
		Packages: []string{"com.example.one", "com.example.two"},
		Mode:     model.ModeVerify,
		Reason:   reason.Cmdline,
		Progress: progress,
	})

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 3 {
		t.Fatalf("progress calls = %d, want 3 (initial + 2 completions)", len(calls))
	}
	if calls[0] != [2]int{0, 2} {
		t.Fatalf("first call = %v, want {0, 2}", calls[0])
	}
	seen := map[int]bool{}
	for _, c := range calls[1:] {
		if c[1] != 2 {
			t.Errorf("call %v: total = %d, want 2", c, c[1])
		}
		seen[c[0]] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("calls = %v, want current values 1 and 2 to both appear", calls)
	}
}

func TestRunDoneCallbacksFIFO(t *testing.T) {
	d, pkgs, _ := newTestDriver(t, reason.DefaultConfig())
	putPackage(pkgs, "com.example.one")

	var mu sync.Mutex
	var order []int
	req := Request{
		Packages: []string{"com.example.one"},
		Mode:     model.ModeVerify,
		Reason:   reason.Cmdline,
		DoneCallbacks: []DoneCallback{
			{Fn: func(model.BatchResult) { mu.Lock(); order = append(order, 1); mu.Unlock() }},
			{Fn: func(model.BatchResult) { mu.Lock(); order = append(order, 2); mu.Unlock() }},
			{Fn: func(model.BatchResult) { mu.Lock(); order = append(order, 3); mu.Unlock() }},
		},
	}

	d.Run(context.Background(), req)

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRunDoneCallbackOnlyOnUpdatesSkippedWhenEmpty(t *testing.T) {
	d, pkgs, plat := newTestDriver(t, reason.DefaultConfig())
	putPackage(pkgs, "com.example.one")
	plat.Hibernation.(*platformtest.Hibernation).SetHibernating("com.example.one", 0, true)

	invoked := false
	d.Run(context.Background(), Request{
		Packages: []string{"com.example.one"},
		Mode:     model.ModeVerify,
		Reason:   reason.Cmdline,
		DoneCallbacks: []DoneCallback{
			{OnlyOnUpdates: true, Fn: func(model.BatchResult) { invoked = true }},
		},
	})

	if invoked {
		t.Fatalf("OnlyOnUpdates callback invoked, want skipped (no performed packages)")
	}
}

func TestRunDoneCallbackOnlyOnUpdatesFiltersResult(t *testing.T) {
	d, pkgs, plat := newTestDriver(t, reason.DefaultConfig())
	putPackage(pkgs, "com.example.performed")
	putPackage(pkgs, "com.example.skipped")
	plat.Hibernation.(*platformtest.Hibernation).SetHibernating("com.example.skipped", 0, true)

	var view model.BatchResult
	d.Run(context.Background(), Request{
		Packages: []string{"com.example.performed", "com.example.skipped"},
		Mode:     model.ModeVerify,
		Reason:   reason.Cmdline,
		DoneCallbacks: []DoneCallback{
			{OnlyOnUpdates: true, Fn: func(r model.BatchResult) { view = r }},
		},
	})

	if len(view.Packages) != 1 || view.Packages[0].PackageName != "com.example.performed" {
		t.Fatalf("filtered view = %+v, want only com.example.performed", view.Packages)
	}
}

func TestRunDoneCallbackPanicIsolated(t *testing.T) {
	d, pkgs, _ := newTestDriver(t, reason.DefaultConfig())
	putPackage(pkgs, "com.example.one")

	secondRan := false
	d.Run(context.Background(), Request{
		Packages: []string{"com.example.one"},
		Mode:     model.ModeVerify,
		Reason:   reason.Cmdline,
		DoneCallbacks: []DoneCallback{
			{Fn: func(model.BatchResult) { panic("boom") }},
			{Fn: func(model.BatchResult) { secondRan = true }},
		},
	})

	if !secondRan {
		t.Fatalf("second done-callback did not run after first panicked")
	}
}

func TestRunAcquiresAndReleasesWakelock(t *testing.T) {
	d, pkgs, plat := newTestDriver(t, reason.DefaultConfig())
	putPackage(pkgs, "com.example.one")

	d.Run(context.Background(), Request{
		Packages:   []string{"com.example.one"},
		Mode:       model.ModeVerify,
		Reason:     reason.Cmdline,
		WorkSource: "test-caller",
	})

	wake := plat.Wake.(*platformtest.WakeLock)
	if wake.Acquired != 1 || wake.Released != 1 {
		t.Fatalf("Acquired = %d, Released = %d, want 1, 1", wake.Acquired, wake.Released)
	}
}

func TestRunExpandsLibrariesWhenFollowed(t *testing.T) {
	d, pkgs, _ := newTestDriver(t, reason.DefaultConfig())
	putPackage(pkgs, "com.example.app")
	putPackage(pkgs, "com.example.lib")
	app, _ := pkgs.Get(context.Background(), "com.example.app")
	app.UsesLibraries = []string{"com.example.lib"}
	pkgs.Put(*app)

	result := d.Run(context.Background(), Request{
		Packages:        []string{"com.example.app"},
		FollowLibraries: true,
		Mode:            model.ModeVerify,
		Reason:          reason.Cmdline,
	})

	if len(result.Packages) != 2 {
		t.Fatalf("Packages = %d, want 2 (app + library)", len(result.Packages))
	}
}

func TestRunDoesNotExpandLibrariesWhenNotFollowed(t *testing.T) {
	d, pkgs, _ := newTestDriver(t, reason.DefaultConfig())
	putPackage(pkgs, "com.example.app")
	putPackage(pkgs, "com.example.lib")
	app, _ := pkgs.Get(context.Background(), "com.example.app")
	app.UsesLibraries = []string{"com.example.lib"}
	pkgs.Put(*app)

	result := d.Run(context.Background(), Request{
		Packages: []string{"com.example.app"},
		Mode:     model.ModeVerify,
		Reason:   reason.Cmdline,
	})

	if len(result.Packages) != 1 {
		t.Fatalf("Packages = %d, want 1 (library not followed)", len(result.Packages))
	}
}

func TestRunCancellationMarksRemainingCancelled(t *testing.T) {
	d, pkgs, _ := newTestDriver(t, reason.DefaultConfig())
	putPackage(pkgs, "com.example.one")
	putPackage(pkgs, "com.example.two")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := d.Run(ctx, Request{
		Packages: []string{"com.example.one", "com.example.two"},
		Mode:     model.ModeVerify,
		Reason:   reason.Cmdline,
	})

	if len(result.Packages) != 2 {
		t.Fatalf("Packages = %d, want 2", len(result.Packages))
	}
	for _, p := range result.Packages {
		if p.FinalStatus() == model.StatusPerformed {
			t.Errorf("pkg %q ran to completion under a pre-cancelled context", p.PackageName)
		}
	}
}
