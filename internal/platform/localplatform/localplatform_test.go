package localplatform

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/banksean/dexopt/internal/platform"
)

func writeManifest(t *testing.T, m Manifest) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadMissingFileYieldsEmptyManifest(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	pkgs, err := p.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(pkgs) != 0 {
		t.Fatalf("All = %v, want empty", pkgs)
	}
	users, err := p.InstalledUsers(context.Background())
	if err != nil {
		t.Fatalf("InstalledUsers: %v", err)
	}
	if len(users) != 1 || users[0] != 0 {
		t.Fatalf("InstalledUsers = %v, want [0]", users)
	}
}

func TestLoadPopulatesPackages(t *testing.T) {
	path := writeManifest(t, Manifest{
		Packages: []platform.PackageInfo{
			{Name: "com.example.app"},
		},
		LauncherPkg: "com.example.launcher",
	})
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	pkg, err := p.Get(context.Background(), "com.example.app")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pkg == nil {
		t.Fatalf("Get returned nil for an installed package")
	}
	launcher, err := p.LauncherPackage(context.Background())
	if err != nil {
		t.Fatalf("LauncherPackage: %v", err)
	}
	if launcher != "com.example.launcher" {
		t.Fatalf("LauncherPackage = %q, want com.example.launcher", launcher)
	}
}

func TestGetUnknownPackageReturnsNilNotError(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	pkg, err := p.Get(context.Background(), "com.example.missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pkg != nil {
		t.Fatalf("Get = %v, want nil", pkg)
	}
}

func TestFileVisibilityReflectsMode(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dir := t.TempDir()

	readable := filepath.Join(dir, "readable.prof")
	if err := os.WriteFile(readable, []byte("x"), 0o644); err != nil {
		t.Fatalf("write readable: %v", err)
	}
	private := filepath.Join(dir, "private.prof")
	if err := os.WriteFile(private, []byte("x"), 0o600); err != nil {
		t.Fatalf("write private: %v", err)
	}
	missing := filepath.Join(dir, "missing.prof")

	ctx := context.Background()
	if v, err := p.ProfileVisibility(ctx, readable); err != nil || v != platform.VisibilityOtherReadable {
		t.Fatalf("ProfileVisibility(readable) = %v, %v", v, err)
	}
	if v, err := p.ProfileVisibility(ctx, private); err != nil || v != platform.VisibilityNotOtherReadable {
		t.Fatalf("ProfileVisibility(private) = %v, %v", v, err)
	}
	if v, err := p.ProfileVisibility(ctx, missing); err != nil || v != platform.VisibilityNotFound {
		t.Fatalf("ProfileVisibility(missing) = %v, %v", v, err)
	}
}

func TestDataDirsUnderRoot(t *testing.T) {
	root := t.TempDir()
	path := writeManifest(t, Manifest{DataDirRoot: root})
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ce, _, err := p.CEDir(context.Background(), "com.example.app", platform.UserHandle(0))
	if err != nil {
		t.Fatalf("CEDir: %v", err)
	}
	want := filepath.Join(root, "user0", "com.example.app")
	if ce != want {
		t.Fatalf("CEDir = %q, want %q", ce, want)
	}
}

func TestSystemPropertiesFromManifest(t *testing.T) {
	path := writeManifest(t, Manifest{
		SysProps: map[string]string{
			"pm.dexopt.bg-dexopt": "speed-profile",
			"pm.dexopt.some_bool": "1",
			"pm.dexopt.some_int":  "7",
		},
	})
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := p.GetString("pm.dexopt.bg-dexopt"); got != "speed-profile" {
		t.Fatalf("GetString = %q", got)
	}
	if !p.GetBool("pm.dexopt.some_bool") {
		t.Fatalf("GetBool = false, want true")
	}
	if got := p.GetInt("pm.dexopt.some_int", -1); got != 7 {
		t.Fatalf("GetInt = %d, want 7", got)
	}
	if got := p.GetInt("pm.dexopt.unset", 42); got != 42 {
		t.Fatalf("GetInt default = %d, want 42", got)
	}
}

func TestHibernationAndWakeLockAreInert(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Available() {
		t.Fatalf("Available() = true, want false on a standalone host")
	}
	hibernating, err := p.IsHibernating(context.Background(), "com.example.app", platform.UserHandle(0))
	if err != nil || hibernating {
		t.Fatalf("IsHibernating = %v, %v", hibernating, err)
	}
	release, err := p.Acquire(context.Background(), "test", 1000)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
}
