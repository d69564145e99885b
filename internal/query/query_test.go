package query

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/banksean/dexopt/internal/daemon"
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

func newTestQuery(t *testing.T) (*Query, *platformtest.Packages, *platform.Platform, *daemontest.Fake) {
	t.Helper()
	plat, pkgs, _, _, _ := platformtest.NewPlatform()
	registry := dexuse.New(plat, stubValidators{}, "", 15_000)
	tbl := reason.New(reason.DefaultConfig())
	fake := daemontest.New()
	p := planner.New(fake, registry, plat, tbl)
	d := dexopter.New(p, plat, registry, tbl)
	q := New(fake, plat, registry, d, tbl)
	return q, pkgs, plat, fake
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

func TestGetDexoptStatusUnknownPackage(t *testing.T) {
	q, _, _, _ := newTestQuery(t)
	_, err := q.GetDexoptStatus(context.Background(), "com.example.missing", AllScopes())
	if !errors.Is(err, ErrPackageNotFound) {
		t.Fatalf("err = %v, want ErrPackageNotFound", err)
	}
}

func TestGetDexoptStatusPrimaryEntry(t *testing.T) {
	q, pkgs, _, fake := newTestQuery(t)
	putPackage(pkgs, "com.example.app")
	fake.Status["/data/app/com.example.app/base.apk"] = daemon.DexoptStatus{
		CompilerFilter:    model.ModeSpeedProfile,
		CompilationReason: "install",
	}

	entries, err := q.GetDexoptStatus(context.Background(), "com.example.app", ScopePrimary)
	if err != nil {
		t.Fatalf("GetDexoptStatus: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %+v, want exactly 1", entries)
	}
	if entries[0].Err != nil {
		t.Fatalf("entries[0].Err = %v, want nil", entries[0].Err)
	}
	if entries[0].Status.CompilerFilter != model.ModeSpeedProfile {
		t.Fatalf("CompilerFilter = %v, want %v", entries[0].Status.CompilerFilter, model.ModeSpeedProfile)
	}
}

func TestGetDexoptStatusPerEntryErrorDoesNotAbort(t *testing.T) {
	q, pkgs, _, fake := newTestQuery(t)
	pkgs.Put(platform.PackageInfo{
		Name: "com.example.app",
		PrimaryContainers: []platform.PrimaryContainer{
			{Path: "/data/app/com.example.app/base.apk", HasCode: true},
			{Path: "/data/app/com.example.app/split_a.apk", HasCode: true, SplitName: "a"},
		},
		Abis: []platform.Abi{{Name: "arm64-v8a", Isa: "arm64", IsPrimaryAbi: true}},
	})
	fake.StatusErr = map[string]error{"/data/app/com.example.app/base.apk": errors.New("transport error")}
	fake.Status["/data/app/com.example.app/split_a.apk"] = daemon.DexoptStatus{CompilerFilter: model.ModeVerify}

	entries, err := q.GetDexoptStatus(context.Background(), "com.example.app", ScopePrimary)
	if err != nil {
		t.Fatalf("GetDexoptStatus: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want exactly 2", entries)
	}
	if entries[0].Err == nil {
		t.Fatalf("expected entries[0] to carry the per-entry error")
	}
	if entries[1].Err != nil || entries[1].Status.CompilerFilter != model.ModeVerify {
		t.Fatalf("entries[1] = %+v, want a successful ModeVerify entry", entries[1])
	}
}

func TestDeleteDexoptArtifactsSumsFreedBytes(t *testing.T) {
	q, pkgs, _, fake := newTestQuery(t)
	putPackage(pkgs, "com.example.app")
	fake.DeleteArtifactsBytes = 1000
	fake.DeleteRuntimeArtifactsBytes = 500

	freed, err := q.DeleteDexoptArtifacts(context.Background(), "com.example.app")
	if err != nil {
		t.Fatalf("DeleteDexoptArtifacts: %v", err)
	}
	if freed != 1500 {
		t.Fatalf("freed = %d, want 1500", freed)
	}
}

func TestClearAppProfilesDeletesReferenceAndCurrent(t *testing.T) {
	q, pkgs, _, fake := newTestQuery(t)
	putPackage(pkgs, "com.example.app")

	if err := q.ClearAppProfiles(context.Background(), "com.example.app"); err != nil {
		t.Fatalf("ClearAppProfiles: %v", err)
	}
	refPath := "/data/app/com.example.app/base.apk.prof"
	if !fake.Deleted[refPath] {
		t.Fatalf("expected reference profile %q to be deleted, deleted = %v", refPath, fake.Deleted)
	}
}

func TestResetDexoptStatusChainsDeleteClearAndDexopt(t *testing.T) {
	q, pkgs, _, fake := newTestQuery(t)
	putPackage(pkgs, "com.example.app")

	result, err := q.ResetDexoptStatus(context.Background(), "com.example.app")
	if err != nil {
		t.Fatalf("ResetDexoptStatus: %v", err)
	}
	if result.PackageName != "com.example.app" {
		t.Fatalf("PackageName = %q, want com.example.app", result.PackageName)
	}
	foundDexopt := false
	for _, req := range fake.DexoptCalls {
		if req.Filter != 0 {
			foundDexopt = true
		}
	}
	if !foundDexopt {
		t.Fatalf("expected a Dexopt call as part of the reset flow, calls = %+v", fake.DexoptCalls)
	}
}

func TestSnapshotAppProfileReturnsOpenHandleAndUnlinksBackingFile(t *testing.T) {
	q, pkgs, _, fake := newTestQuery(t)
	putPackage(pkgs, "com.example.app")
	fake.MergeNonEmpty = true

	f, err := q.SnapshotAppProfile(context.Background(), "com.example.app", "")
	if err != nil {
		t.Fatalf("SnapshotAppProfile: %v", err)
	}
	defer f.Close()

	if _, err := io.ReadAll(f); err != nil {
		t.Fatalf("reading the returned handle failed: %v", err)
	}
	if _, err := os.Stat(f.Name()); !os.IsNotExist(err) {
		t.Fatalf("backing file %q still exists (stat err = %v), want it unlinked", f.Name(), err)
	}
}

func TestSnapshotAppProfileUnknownSplit(t *testing.T) {
	q, pkgs, _, _ := newTestQuery(t)
	putPackage(pkgs, "com.example.app")

	_, err := q.SnapshotAppProfile(context.Background(), "com.example.app", "missing-split")
	if !errors.Is(err, ErrSplitNotFound) {
		t.Fatalf("err = %v, want ErrSplitNotFound", err)
	}
}

func TestSnapshotBootImageProfileUsesClasspathEnvVars(t *testing.T) {
	q, pkgs, _, fake := newTestQuery(t)
	putPackage(pkgs, "com.example.app")
	q.Getenv = func(key string) string {
		switch key {
		case "BOOTCLASSPATH":
			return "/system/framework/core.jar:/system/framework/ext.jar"
		case "SYSTEMSERVERCLASSPATH":
			return "/system/framework/services.jar"
		}
		return ""
	}

	f, err := q.SnapshotBootImageProfile(context.Background())
	if err != nil {
		t.Fatalf("SnapshotBootImageProfile: %v", err)
	}
	f.Close()

	found := false
	for _, call := range fake.Calls {
		if len(call) >= len("MergeProfiles") && call[:len("MergeProfiles")] == "MergeProfiles" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a MergeProfiles call, calls = %v", fake.Calls)
	}
}

func TestSnapshotBootImageProfileIncludesHibernatingPackage(t *testing.T) {
	q, pkgs, plat, fake := newTestQuery(t)
	putPackage(pkgs, "com.example.hibernating")
	plat.Hibernation.(*platformtest.Hibernation).SetHibernating("com.example.hibernating", platform.UserHandle(0), true)

	if _, err := q.SnapshotBootImageProfile(context.Background()); err != nil {
		t.Fatalf("SnapshotBootImageProfile: %v", err)
	}

	refPath := planner.ReferenceProfilePath(model.Container{Path: "/data/app/com.example.hibernating/base.apk"})
	call := fake.LastMergeProfiles
	found := call.Ref == refPath
	for _, c := range call.Current {
		if c == refPath {
			found = true
		}
	}
	if !found {
		t.Fatalf("hibernating package's profile was not included in the merge: current=%v ref=%q, want %q somewhere",
			call.Current, call.Ref, refPath)
	}
}
