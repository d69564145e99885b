package dexuse

import (
	"context"
	"errors"
	"testing"

	"github.com/banksean/dexopt/internal/platform"
	"github.com/banksean/dexopt/internal/platform/platformtest"
)

type acceptAllValidators struct{}

func (acceptAllValidators) ValidateDexPath(path string) error           { return nil }
func (acceptAllValidators) ValidateClassLoaderContext(clc string) error { return nil }

type rejectingValidators struct{ err error }

func (r rejectingValidators) ValidateDexPath(path string) error           { return r.err }
func (r rejectingValidators) ValidateClassLoaderContext(clc string) error { return nil }

func newTestRegistry(t *testing.T) (*Registry, *platformtest.Packages, *platformtest.Users, *platformtest.Clock, *platformtest.DataDirs) {
	t.Helper()
	p, pkgs, users, clock, dataDirs := platformtest.NewPlatform()
	r := New(p, acceptAllValidators{}, "", 15_000)
	return r, pkgs, users, clock, dataDirs
}

func TestNotifyLoadedPrimary(t *testing.T) {
	r, pkgs, _, clock, _ := newTestRegistry(t)
	clock.Set(100)

	pkgs.Put(platform.PackageInfo{
		Name: "com.example.app",
		PrimaryContainers: []platform.PrimaryContainer{
			{Path: "/data/app/com.example.app/base.apk", HasCode: true},
		},
		Abis: []platform.Abi{{Name: "arm64-v8a", Isa: "arm64", IsPrimaryAbi: true}},
	})

	err := r.NotifyLoaded(context.Background(), "com.example.app", false, map[string]string{
		"/data/app/com.example.app/base.apk": "",
	})
	if err != nil {
		t.Fatalf("NotifyLoaded: %v", err)
	}

	loaders := r.PrimaryLoaders("com.example.app", "/data/app/com.example.app/base.apk")
	if len(loaders) != 1 || loaders[0] != "com.example.app" {
		t.Fatalf("PrimaryLoaders = %v, want [com.example.app]", loaders)
	}
	if got := r.PackageLastUsedMs("com.example.app"); got != 100 {
		t.Fatalf("PackageLastUsedMs = %d, want 100", got)
	}
}

func TestNotifyLoadedCrossAppPrimary(t *testing.T) {
	r, pkgs, _, _, _ := newTestRegistry(t)

	pkgs.Put(platform.PackageInfo{
		Name: "com.example.lib",
		PrimaryContainers: []platform.PrimaryContainer{
			{Path: "/data/app/com.example.lib/base.apk", HasCode: true},
		},
	})
	pkgs.Put(platform.PackageInfo{Name: "com.example.consumer"})

	if err := r.NotifyLoaded(context.Background(), "com.example.consumer", false, map[string]string{
		"/data/app/com.example.lib/base.apk": "",
	}); err != nil {
		t.Fatalf("NotifyLoaded: %v", err)
	}

	loaders := r.PrimaryLoaders("com.example.lib", "/data/app/com.example.lib/base.apk")
	if len(loaders) != 1 || loaders[0] != "com.example.consumer" {
		t.Fatalf("PrimaryLoaders = %v, want [com.example.consumer]", loaders)
	}
}

func TestNotifyLoadedSecondary(t *testing.T) {
	r, pkgs, users, _, dataDirs := newTestRegistry(t)

	pkgs.Put(platform.PackageInfo{Name: "com.example.app"})
	users.Handles = []platform.UserHandle{0}
	dataDirs.SetCE("com.example.app", 0, "/data/user/0/com.example.app/")

	path := "/data/user/0/com.example.app/code_cache/dyn.jar"
	if err := r.NotifyLoaded(context.Background(), "com.example.app", false, map[string]string{
		path: "PCL[]",
	}); err != nil {
		t.Fatalf("NotifyLoaded: %v", err)
	}

	info := r.SecondaryDexInfo("com.example.app")
	if len(info) != 1 || info[0].Path != path {
		t.Fatalf("SecondaryDexInfo = %+v", info)
	}
	if info[0].ClassLoaderContext != "PCL[]" {
		t.Fatalf("ClassLoaderContext = %q, want PCL[]", info[0].ClassLoaderContext)
	}
}

func TestNotifyLoadedRejectsPlatformPackage(t *testing.T) {
	r, pkgs, _, _, _ := newTestRegistry(t)
	pkgs.Platform = "android"
	pkgs.Put(platform.PackageInfo{Name: "android"})

	err := r.NotifyLoaded(context.Background(), "android", false, map[string]string{"/x": ""})
	if !errors.Is(err, ErrPlatformPackageLoader) {
		t.Fatalf("err = %v, want ErrPlatformPackageLoader", err)
	}
}

func TestNotifyLoadedInvalidArgument(t *testing.T) {
	p, pkgs, _, _, _ := platformtest.NewPlatform()
	wantErr := errors.New("bad path")
	r := New(p, rejectingValidators{err: wantErr}, "", 15_000)
	pkgs.Put(platform.PackageInfo{Name: "com.example.app"})

	err := r.NotifyLoaded(context.Background(), "com.example.app", false, map[string]string{"/bad": ""})
	var invalid *ErrInvalidArgument
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want *ErrInvalidArgument", err)
	}
}

func TestCleanupRemovesUninstalledOwner(t *testing.T) {
	r, pkgs, _, _, _ := newTestRegistry(t)
	pkgs.Put(platform.PackageInfo{
		Name: "com.example.app",
		PrimaryContainers: []platform.PrimaryContainer{
			{Path: "/data/app/com.example.app/base.apk", HasCode: true},
		},
	})
	if err := r.NotifyLoaded(context.Background(), "com.example.app", false, map[string]string{
		"/data/app/com.example.app/base.apk": "",
	}); err != nil {
		t.Fatalf("NotifyLoaded: %v", err)
	}

	pkgs.Remove("com.example.app")

	removed, err := r.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if got := r.PrimaryLoaders("com.example.app", "/data/app/com.example.app/base.apk"); got != nil {
		t.Fatalf("PrimaryLoaders after cleanup = %v, want nil", got)
	}
}

func TestCleanupDropsLoaderFromUninstalledLoader(t *testing.T) {
	r, pkgs, _, _, _ := newTestRegistry(t)
	pkgs.Put(platform.PackageInfo{
		Name: "com.example.lib",
		PrimaryContainers: []platform.PrimaryContainer{
			{Path: "/data/app/com.example.lib/base.apk", HasCode: true},
		},
	})
	pkgs.Put(platform.PackageInfo{Name: "com.example.consumer"})

	if err := r.NotifyLoaded(context.Background(), "com.example.consumer", false, map[string]string{
		"/data/app/com.example.lib/base.apk": "",
	}); err != nil {
		t.Fatalf("NotifyLoaded: %v", err)
	}

	pkgs.Remove("com.example.consumer")

	removed, err := r.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1 (empty container pruned)", removed)
	}
}

func TestRevisionIncreasesOnMutation(t *testing.T) {
	r, pkgs, _, _, _ := newTestRegistry(t)
	pkgs.Put(platform.PackageInfo{
		Name: "com.example.app",
		PrimaryContainers: []platform.PrimaryContainer{
			{Path: "/data/app/com.example.app/base.apk", HasCode: true},
		},
	})
	if r.Revision() != 0 {
		t.Fatalf("initial revision = %d, want 0", r.Revision())
	}
	if err := r.NotifyLoaded(context.Background(), "com.example.app", false, map[string]string{
		"/data/app/com.example.app/base.apk": "",
	}); err != nil {
		t.Fatalf("NotifyLoaded: %v", err)
	}
	if r.Revision() == 0 {
		t.Fatalf("revision did not advance after mutation")
	}
}

func TestCleanupRemovesContainerWithMissingFile(t *testing.T) {
	p, pkgs, _, _, _ := platformtest.NewPlatform()
	r := New(p, acceptAllValidators{}, "", 15_000)

	pkgs.Put(platform.PackageInfo{
		Name: "com.example.app",
		PrimaryContainers: []platform.PrimaryContainer{
			{Path: "/a/f.jar", HasCode: true},
		},
	})
	if err := r.NotifyLoaded(context.Background(), "com.example.app", false, map[string]string{
		"/a/f.jar": "",
	}); err != nil {
		t.Fatalf("NotifyLoaded: %v", err)
	}

	p.Visibility.(*platformtest.Visibility).Set("/a/f.jar", platform.VisibilityNotFound)

	removed, err := r.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if got := r.PrimaryLoaders("com.example.app", "/a/f.jar"); got != nil {
		t.Fatalf("PrimaryLoaders after cleanup = %v, want nil", got)
	}
}

func TestCleanupDropsOtherAppSecondaryLoaderWhenNotWorldReadable(t *testing.T) {
	p, pkgs, users, _, dataDirs := platformtest.NewPlatform()
	r := New(p, acceptAllValidators{}, "", 15_000)

	pkgs.Put(platform.PackageInfo{Name: "com.example.app"})
	pkgs.Put(platform.PackageInfo{Name: "com.example.other"})
	users.Handles = []platform.UserHandle{0}
	dataDirs.SetCE("com.example.app", 0, "/data/user/0/com.example.app/")

	path := "/data/user/0/com.example.app/code_cache/dyn.jar"
	if err := r.NotifyLoaded(context.Background(), "com.example.app", false, map[string]string{
		path: "PCL[]",
	}); err != nil {
		t.Fatalf("NotifyLoaded: %v", err)
	}

	// NotifyLoaded always attributes a secondary container to the
	// loading package's own per-user directory, so an other-app loader
	// (another package, or the owner itself from an isolated process)
	// has to be injected directly to exercise the other-app predicate.
	r.mu.Lock()
	c := r.packageFor("com.example.app", true).containers[path]
	c.Secondary[Loader{LoadingPkg: "com.example.other"}] = Use{LastUsedMs: 1}
	c.Secondary[Loader{LoadingPkg: "com.example.app", IsIsolatedProcess: true}] = Use{LastUsedMs: 1}
	r.mu.Unlock()

	p.Visibility.(*platformtest.Visibility).Set(path, platform.VisibilityNotOtherReadable)

	if _, err := r.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	info := r.SecondaryDexInfo("com.example.app")
	if len(info) != 1 {
		t.Fatalf("SecondaryDexInfo = %+v, want 1 container", info)
	}
	for _, l := range info[0].Loaders {
		if l.LoadingPkg != "com.example.app" || l.IsIsolatedProcess {
			t.Fatalf("loader %+v survived cleanup, want only same-app non-isolated loaders", l)
		}
	}
}
