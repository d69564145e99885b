package dexuse

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/banksean/dexopt/internal/platform"
	"github.com/banksean/dexopt/internal/platform/platformtest"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	persistPath := filepath.Join(dir, "registry.bin")

	p, pkgs, users, clock, dataDirs := platformtest.NewPlatform()
	pkgs.Put(platform.PackageInfo{
		Name: "com.example.app",
		PrimaryContainers: []platform.PrimaryContainer{
			{Path: "/data/app/com.example.app/base.apk", HasCode: true},
		},
	})
	users.Handles = []platform.UserHandle{0}
	dataDirs.SetCE("com.example.app", 0, "/data/user/0/com.example.app/")
	clock.Set(500)

	r := New(p, acceptAllValidators{}, persistPath, 15_000)
	ctx := context.Background()
	if err := r.NotifyLoaded(ctx, "com.example.app", false, map[string]string{
		"/data/app/com.example.app/base.apk":              "",
		"/data/user/0/com.example.app/code_cache/dyn.jar": "PCL[]",
	}); err != nil {
		t.Fatalf("NotifyLoaded: %v", err)
	}

	if err := r.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r2 := New(p, acceptAllValidators{}, persistPath, 15_000)
	if err := r2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := r2.PrimaryLoaders("com.example.app", "/data/app/com.example.app/base.apk"); len(got) != 1 || got[0] != "com.example.app" {
		t.Fatalf("PrimaryLoaders after reload = %v", got)
	}
	sec := r2.SecondaryDexInfo("com.example.app")
	if len(sec) != 1 || sec[0].ClassLoaderContext != "PCL[]" {
		t.Fatalf("SecondaryDexInfo after reload = %+v", sec)
	}
	if got := r2.PackageLastUsedMs("com.example.app"); got != 500 {
		t.Fatalf("PackageLastUsedMs after reload = %d, want 500", got)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	p, _, _, _, _ := platformtest.NewPlatform()
	r := New(p, acceptAllValidators{}, filepath.Join(t.TempDir(), "missing.bin"), 15_000)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Revision() != 0 {
		t.Fatalf("Revision = %d, want 0", r.Revision())
	}
}

func TestSaveNoopWithoutPersistPath(t *testing.T) {
	p, _, _, _, _ := platformtest.NewPlatform()
	r := New(p, acceptAllValidators{}, "", 15_000)
	if err := r.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
}
