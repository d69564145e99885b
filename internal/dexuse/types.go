// Package dexuse implements the dex-use registry: the
// persistent record of which app loaded which dex container under
// which class-loader context, consulted by the per-container planner
// and the janitor, and pruned of stale entries on package uninstall.
package dexuse

import (
	"context"
	"fmt"
	"sync"

	"github.com/banksean/dexopt/internal/platform"
)

// Loader identifies one process that loaded a container: the loading
// package's name, plus whether it ran as an isolated (sandboxed)
// process.
type Loader struct {
	LoadingPkg        string
	IsIsolatedProcess bool
}

// Use is one loader's recorded use of a container. ClassLoaderContext
// and Abi are populated for secondary records only.
type Use struct {
	LastUsedMs         int64
	ClassLoaderContext string
	Abi                string
}

// ContainerEntry is the per-(owning-pkg, container-path) record.
// Primary and secondary loads are tracked separately because only
// secondary loads carry class-loader-context and ABI, and only
// secondary entries carry an owning user handle.
type ContainerEntry struct {
	Path      string
	Primary   map[Loader]Use
	Secondary map[Loader]Use
	// SecondaryOwnerUser is the user handle that owns the file, for
	// secondary containers only.
	SecondaryOwnerUser platform.UserHandle
}

func newContainerEntry(path string) *ContainerEntry {
	return &ContainerEntry{
		Path:      path,
		Primary:   map[Loader]Use{},
		Secondary: map[Loader]Use{},
	}
}

// empty reports whether this container entry has no loaders left at
// all, the condition under which it (and, transitively, an emptied
// owning-pkg entry) is pruned.
func (c *ContainerEntry) empty() bool {
	return len(c.Primary) == 0 && len(c.Secondary) == 0
}

// packageEntry is the owning-package's map of container path to entry.
type packageEntry struct {
	containers map[string]*ContainerEntry
}

// Validators are the external helpers consulted on every notify_loaded
// call: paths and class-loader context strings are validated via these
// helpers, failing with invalid-argument on error.
type Validators interface {
	ValidateDexPath(path string) error
	ValidateClassLoaderContext(clc string) error
}

// Registry is the in-memory dex-use store guarded by a single interior
// mutex, with a revision counter and a
// debounced persistence path.
type Registry struct {
	mu       sync.Mutex
	packages map[string]*packageEntry
	// revision counts every mutation; committedRevision is only
	// advanced past what Save() has durably written.
	revision          int64
	committedRevision int64

	platform    *platform.Platform
	validators  Validators
	persistPath string
	debouncer   *debouncer
}

// ErrPlatformPackageLoader is returned by NotifyLoaded when loadingPkg
// is the platform package.
var ErrPlatformPackageLoader = fmt.Errorf("dexuse: platform package may not be a loader")

// ErrInvalidArgument wraps validator failures.
type ErrInvalidArgument struct{ Err error }

func (e *ErrInvalidArgument) Error() string {
	return fmt.Sprintf("dexuse: invalid argument: %v", e.Err)
}
func (e *ErrInvalidArgument) Unwrap() error { return e.Err }

// New constructs an empty registry. Call Load to populate it from a
// previously persisted file.
func New(p *platform.Platform, validators Validators, persistPath string, debounceWindowMs int64) *Registry {
	r := &Registry{
		packages:    map[string]*packageEntry{},
		platform:    p,
		validators:  validators,
		persistPath: persistPath,
	}
	r.debouncer = newDebouncer(debounceWindowMs, func() { _ = r.Save(context.Background()) })
	return r
}

// Revision returns the current in-memory revision counter, bumped on
// any mutation.
func (r *Registry) Revision() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revision
}

func (r *Registry) packageFor(name string, create bool) *packageEntry {
	p, ok := r.packages[name]
	if !ok {
		if !create {
			return nil
		}
		p = &packageEntry{containers: map[string]*ContainerEntry{}}
		r.packages[name] = p
	}
	return p
}

// pruneIfEmpty removes owner's entry if it now has zero containers.
func (r *Registry) pruneIfEmpty(owner string) {
	p, ok := r.packages[owner]
	if !ok {
		return
	}
	if len(p.containers) == 0 {
		delete(r.packages, owner)
	}
}
