// Package localplatform is a standalone-host implementation of every
// internal/platform collaborator interface, backed by a JSON package
// manifest and ordinary OS primitives. The real platform bindings
// (installd, PackageManagerService, hibernation manager, and so on)
// are host-specific integration work outside this module's scope;
// this package exists so cmd/dexopt can run end-to-end against a
// local manifest file instead of requiring that integration.
package localplatform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/banksean/dexopt/internal/platform"
)

// Manifest is the on-disk package-list shape Provider loads. It holds
// the subset of platform.PackageInfo a local manifest file needs to
// name explicitly; fields absent from the JSON default to their zero
// value.
type Manifest struct {
	Packages       []platform.PackageInfo `json:"packages"`
	LauncherPkg    string                 `json:"launcherPackage"`
	SystemUIPkg    string                 `json:"systemUIPackage"`
	PlatformPkg    string                 `json:"platformPackage"`
	InstalledUsers []int                  `json:"installedUsers"`
	SysProps       map[string]string      `json:"systemProperties"`
	DataDirRoot    string                 `json:"dataDirRoot"`
}

// Provider implements every platform.* collaborator interface over a
// Manifest and the local filesystem.
type Provider struct {
	mu       sync.RWMutex
	byName   map[string]platform.PackageInfo
	names    []string
	manifest Manifest
}

// Load reads a JSON manifest file at path and returns a Provider over
// it. A missing file yields an empty manifest (no installed packages,
// user 0 only) rather than an error, so a first run with no manifest
// still works.
func Load(path string) (*Provider, error) {
	var m Manifest
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("localplatform: read %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("localplatform: parse %s: %w", path, err)
		}
	}
	if len(m.InstalledUsers) == 0 {
		m.InstalledUsers = []int{0}
	}

	p := &Provider{manifest: m, byName: map[string]platform.PackageInfo{}}
	for _, pkg := range m.Packages {
		p.byName[pkg.Name] = pkg
		p.names = append(p.names, pkg.Name)
	}
	return p, nil
}

// Platform assembles a *platform.Platform wired entirely to p.
func (p *Provider) Platform() *platform.Platform {
	return &platform.Platform{
		Packages:    p,
		Users:       p,
		Hibernation: p,
		Storage:     p,
		Wake:        p,
		SysProps:    p,
		Clock:       p,
		Visibility:  p,
		DataDirs:    p,
	}
}

// PackageSnapshot

func (p *Provider) Get(ctx context.Context, name string) (*platform.PackageInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pkg, ok := p.byName[name]
	if !ok {
		return nil, nil
	}
	return &pkg, nil
}

func (p *Provider) All(ctx context.Context) ([]platform.PackageInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]platform.PackageInfo, 0, len(p.names))
	for _, name := range p.names {
		out = append(out, p.byName[name])
	}
	return out, nil
}

func (p *Provider) LauncherPackage(ctx context.Context) (string, error) {
	return p.manifest.LauncherPkg, nil
}
func (p *Provider) SystemUIPackage(ctx context.Context) (string, error) {
	return p.manifest.SystemUIPkg, nil
}
func (p *Provider) PlatformPackage(ctx context.Context) (string, error) {
	return p.manifest.PlatformPkg, nil
}

// UserManager

func (p *Provider) InstalledUsers(ctx context.Context) ([]platform.UserHandle, error) {
	out := make([]platform.UserHandle, len(p.manifest.InstalledUsers))
	for i, u := range p.manifest.InstalledUsers {
		out[i] = platform.UserHandle(u)
	}
	return out, nil
}

// HibernationManager: a standalone host has no hibernation manager of
// its own, so nothing is ever reported hibernating.

func (p *Provider) IsHibernating(ctx context.Context, pkg string, user platform.UserHandle) (bool, error) {
	return false, nil
}
func (p *Provider) Available() bool { return false }

// StorageManager reports real free space on the manifest's data-dir
// root's filesystem, ignoring storageUUID (a standalone host has one
// volume).

func (p *Provider) AllocatableBytes(ctx context.Context, storageUUID string) (int64, error) {
	root := p.manifest.DataDirRoot
	if root == "" {
		root = "."
	}
	var stat syscall.Statfs_t
	if err := syscall.Statfs(root, &stat); err != nil {
		return 0, fmt.Errorf("localplatform: statfs %s: %w", root, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// WakeLock: a standalone host has no wakelock service; Acquire
// succeeds immediately and release is a no-op.

func (p *Provider) Acquire(ctx context.Context, workSource string, timeout int64) (func(), error) {
	return func() {}, nil
}

// SystemProperties reads from the manifest's systemProperties map.

func (p *Provider) GetString(key string) string { return p.manifest.SysProps[key] }

func (p *Provider) GetBool(key string) bool {
	v, ok := p.manifest.SysProps[key]
	return ok && (v == "1" || v == "true")
}

func (p *Provider) GetInt(key string, def int) int {
	v, ok := p.manifest.SysProps[key]
	if !ok {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

// Clock

func (p *Provider) NowMs() int64 { return time.Now().UnixMilli() }

// DataDirs computes a per-user directory under the manifest's
// dataDirRoot, with no CE/DE distinction (both resolve to the same
// path on a standalone host).

func (p *Provider) CEDir(ctx context.Context, pkg string, user platform.UserHandle) (string, string, error) {
	return p.userDir(pkg, user), "", nil
}

func (p *Provider) DEDir(ctx context.Context, pkg string, user platform.UserHandle) (string, string, error) {
	return p.userDir(pkg, user), "", nil
}

func (p *Provider) userDir(pkg string, user platform.UserHandle) string {
	root := p.manifest.DataDirRoot
	if root == "" {
		root = "."
	}
	return filepath.Join(root, fmt.Sprintf("user%d", int(user)), pkg)
}

// FileVisibilityQuerier treats a file as OTHER_READABLE if its mode
// grants world-read permission, NOT_OTHER_READABLE if it exists but
// doesn't, and NOT_FOUND if it's missing.

func (p *Provider) ProfileVisibility(ctx context.Context, path string) (platform.FileVisibility, error) {
	return p.visibility(path)
}
func (p *Provider) DexFileVisibility(ctx context.Context, path string) (platform.FileVisibility, error) {
	return p.visibility(path)
}
func (p *Provider) DmFileVisibility(ctx context.Context, path string) (platform.FileVisibility, error) {
	return p.visibility(path)
}
func (p *Provider) ArtifactsVisibility(ctx context.Context, path string) (platform.FileVisibility, error) {
	return p.visibility(path)
}

func (p *Provider) visibility(path string) (platform.FileVisibility, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return platform.VisibilityNotFound, nil
		}
		return platform.VisibilityNotFound, fmt.Errorf("localplatform: stat %s: %w", path, err)
	}
	if info.Mode().Perm()&0o004 != 0 {
		return platform.VisibilityOtherReadable, nil
	}
	return platform.VisibilityNotOtherReadable, nil
}
