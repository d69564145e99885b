// Package platformtest provides in-memory fakes for every
// platform.Platform collaborator interface, for use by the core
// packages' tests without a real device.
package platformtest

import (
	"context"
	"sync"

	"github.com/banksean/dexopt/internal/platform"
)

// Packages is an in-memory platform.PackageSnapshot.
type Packages struct {
	mu       sync.Mutex
	byName   map[string]*platform.PackageInfo
	order    []string
	Launcher string
	SystemUI string
	Platform string
}

func NewPackages() *Packages {
	return &Packages{byName: map[string]*platform.PackageInfo{}}
}

// Put inserts or replaces pkg, preserving insertion order for All.
func (p *Packages) Put(pkg platform.PackageInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byName[pkg.Name]; !ok {
		p.order = append(p.order, pkg.Name)
	}
	cp := pkg
	p.byName[pkg.Name] = &cp
}

// Remove deletes pkg, simulating an uninstall.
func (p *Packages) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byName, name)
	for i, n := range p.order {
		if n == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

func (p *Packages) Get(ctx context.Context, name string) (*platform.PackageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pkg, ok := p.byName[name]
	if !ok {
		return nil, nil
	}
	cp := *pkg
	return &cp, nil
}

func (p *Packages) All(ctx context.Context) ([]platform.PackageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]platform.PackageInfo, 0, len(p.order))
	for _, n := range p.order {
		out = append(out, *p.byName[n])
	}
	return out, nil
}

func (p *Packages) LauncherPackage(ctx context.Context) (string, error) { return p.Launcher, nil }
func (p *Packages) SystemUIPackage(ctx context.Context) (string, error) { return p.SystemUI, nil }
func (p *Packages) PlatformPackage(ctx context.Context) (string, error) { return p.Platform, nil }

// Users is an in-memory platform.UserManager.
type Users struct {
	Handles []platform.UserHandle
}

func (u *Users) InstalledUsers(ctx context.Context) ([]platform.UserHandle, error) {
	return u.Handles, nil
}

// Clock is a settable platform.Clock.
type Clock struct {
	mu  sync.Mutex
	now int64
}

func NewClock(start int64) *Clock { return &Clock{now: start} }

func (c *Clock) NowMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ms
}

func (c *Clock) Advance(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
}

// DataDirs is an in-memory platform.DataDirs keyed by (pkg, user).
type DataDirs struct {
	CE          map[string]string // key: "pkg/user" -> dir
	DE          map[string]string
	StorageUUID string
}

func NewDataDirs() *DataDirs {
	return &DataDirs{CE: map[string]string{}, DE: map[string]string{}, StorageUUID: "default-uuid"}
}

func key(pkg string, user platform.UserHandle) string {
	return pkg + "/" + itoa(int(user))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (d *DataDirs) SetCE(pkg string, user platform.UserHandle, dir string) {
	d.CE[key(pkg, user)] = dir
}

func (d *DataDirs) SetDE(pkg string, user platform.UserHandle, dir string) {
	d.DE[key(pkg, user)] = dir
}

func (d *DataDirs) CEDir(ctx context.Context, pkg string, user platform.UserHandle) (string, string, error) {
	return d.CE[key(pkg, user)], d.StorageUUID, nil
}

func (d *DataDirs) DEDir(ctx context.Context, pkg string, user platform.UserHandle) (string, string, error) {
	return d.DE[key(pkg, user)], d.StorageUUID, nil
}

// Visibility is a settable platform.FileVisibilityQuerier; every query
// method consults the same path->visibility map.
type Visibility struct {
	mu sync.Mutex
	m  map[string]platform.FileVisibility
}

func NewVisibility() *Visibility {
	return &Visibility{m: map[string]platform.FileVisibility{}}
}

func (v *Visibility) Set(path string, vis platform.FileVisibility) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.m[path] = vis
}

func (v *Visibility) get(path string) platform.FileVisibility {
	v.mu.Lock()
	defer v.mu.Unlock()
	vis, ok := v.m[path]
	if !ok {
		return platform.VisibilityNotFound
	}
	return vis
}

func (v *Visibility) ProfileVisibility(ctx context.Context, path string) (platform.FileVisibility, error) {
	return v.get(path), nil
}
func (v *Visibility) DexFileVisibility(ctx context.Context, path string) (platform.FileVisibility, error) {
	return v.get(path), nil
}
func (v *Visibility) DmFileVisibility(ctx context.Context, path string) (platform.FileVisibility, error) {
	return v.get(path), nil
}
func (v *Visibility) ArtifactsVisibility(ctx context.Context, path string) (platform.FileVisibility, error) {
	return v.get(path), nil
}

// Storage is a settable platform.StorageManager.
type Storage struct {
	mu          sync.Mutex
	allocatable map[string]int64
}

func NewStorage() *Storage { return &Storage{allocatable: map[string]int64{}} }

func (s *Storage) Set(storageUUID string, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocatable[storageUUID] = bytes
}

// AllocatableBytes reports the value Set for storageUUID; a volume that
// was never Set reports 1 GiB free.
func (s *Storage) AllocatableBytes(ctx context.Context, storageUUID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.allocatable[storageUUID]; ok {
		return v, nil
	}
	return 1 << 30, nil
}

// Hibernation is a settable platform.HibernationManager.
type Hibernation struct {
	mu          sync.Mutex
	hibernating map[string]bool
	avail       bool
}

func NewHibernation(available bool) *Hibernation {
	return &Hibernation{hibernating: map[string]bool{}, avail: available}
}

func (h *Hibernation) SetHibernating(pkg string, user platform.UserHandle, v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hibernating[key(pkg, user)] = v
}

func (h *Hibernation) IsHibernating(ctx context.Context, pkg string, user platform.UserHandle) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hibernating[key(pkg, user)], nil
}

func (h *Hibernation) Available() bool { return h.avail }

// WakeLock always succeeds immediately and records Acquire/release
// call counts.
type WakeLock struct {
	mu       sync.Mutex
	Acquired int
	Released int
}

func (w *WakeLock) Acquire(ctx context.Context, workSource string, timeout int64) (func(), error) {
	w.mu.Lock()
	w.Acquired++
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		w.Released++
		w.mu.Unlock()
	}, nil
}

// SysProps is a settable platform.SystemProperties.
type SysProps struct {
	mu    sync.Mutex
	strs  map[string]string
	bools map[string]bool
	ints  map[string]int
}

func NewSysProps() *SysProps {
	return &SysProps{strs: map[string]string{}, bools: map[string]bool{}, ints: map[string]int{}}
}

func (s *SysProps) SetString(k, v string)    { s.mu.Lock(); defer s.mu.Unlock(); s.strs[k] = v }
func (s *SysProps) SetBool(k string, v bool) { s.mu.Lock(); defer s.mu.Unlock(); s.bools[k] = v }
func (s *SysProps) SetInt(k string, v int)   { s.mu.Lock(); defer s.mu.Unlock(); s.ints[k] = v }

func (s *SysProps) GetString(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strs[key]
}

func (s *SysProps) GetBool(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bools[key]
}

func (s *SysProps) GetInt(key string, def int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.ints[key]
	if !ok {
		return def
	}
	return v
}

// NewPlatform wires up a full *platform.Platform from fresh fakes,
// returning the concrete fakes too so tests can mutate them.
func NewPlatform() (*platform.Platform, *Packages, *Users, *Clock, *DataDirs) {
	pkgs := NewPackages()
	users := &Users{}
	clock := NewClock(1_000_000)
	dataDirs := NewDataDirs()

	p := &platform.Platform{
		Packages:    pkgs,
		Users:       users,
		Hibernation: NewHibernation(true),
		Storage:     NewStorage(),
		Wake:        &WakeLock{},
		SysProps:    NewSysProps(),
		Clock:       clock,
		Visibility:  NewVisibility(),
		DataDirs:    dataDirs,
	}
	return p, pkgs, users, clock, dataDirs
}
