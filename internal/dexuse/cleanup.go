package dexuse

import (
	"context"
	"fmt"

	"github.com/banksean/dexopt/internal/platform"
)

// containerKey identifies one (owner, path) container entry across
// Cleanup's unlocked visibility-probing pass.
type containerKey struct {
	owner string
	path  string
}

// Cleanup performs the registry's mark-and-sweep garbage collection in
// three passes: first, under lock, every surviving container's path is
// enumerated; second, with the lock released, each path's file
// visibility is probed; third, under lock again, entries are removed
// for (a) owning packages no longer installed, (b) containers whose
// file is no longer found, (c) loader records whose loading package
// was uninstalled, and (d) loader records that are other-app for a
// container that is no longer world-readable. Secondary containers
// whose owning user was removed are emptied outright, since none of
// their loaders can legally read the file. It returns the number of
// container entries removed.
func (r *Registry) Cleanup(ctx context.Context) (removed int, err error) {
	installed, err := r.platform.Packages.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("dexuse: cleanup: list packages: %w", err)
	}
	installedSet := make(map[string]bool, len(installed))
	for _, pkg := range installed {
		installedSet[pkg.Name] = true
	}

	users, err := r.platform.Users.InstalledUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("dexuse: cleanup: list users: %w", err)
	}
	installedUsers := make(map[int]bool, len(users))
	for _, u := range users {
		installedUsers[int(u)] = true
	}

	// Pass 1: enumerate every surviving container's path under lock.
	r.mu.Lock()
	var toProbe []containerKey
	for owner, p := range r.packages {
		for path := range p.containers {
			toProbe = append(toProbe, containerKey{owner, path})
		}
	}
	r.mu.Unlock()

	// Pass 2: probe file visibility with the lock released.
	visibility := make(map[containerKey]platform.FileVisibility, len(toProbe))
	if r.platform.Visibility != nil {
		for _, k := range toProbe {
			v, verr := r.platform.Visibility.DexFileVisibility(ctx, k.path)
			if verr != nil {
				continue
			}
			visibility[k] = v
		}
	}

	// Pass 3: remove under lock.
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for owner := range r.packages {
		if !installedSet[owner] {
			removed += len(r.packages[owner].containers)
			delete(r.packages, owner)
		}
	}

	for owner, p := range r.packages {
		for path, c := range p.containers {
			if v, probed := visibility[containerKey{owner, path}]; probed && v == platform.VisibilityNotFound {
				delete(p.containers, path)
				removed++
				continue
			}

			for l := range c.Primary {
				if !installedSet[l.LoadingPkg] {
					delete(c.Primary, l)
					changed = true
				}
			}

			notWorldReadable := false
			if v, probed := visibility[containerKey{owner, path}]; probed && v == platform.VisibilityNotOtherReadable {
				notWorldReadable = true
			}
			if len(c.Secondary) > 0 && !installedUsers[int(c.SecondaryOwnerUser)] {
				c.Secondary = map[Loader]Use{}
				changed = true
			} else {
				for l := range c.Secondary {
					switch {
					case !installedSet[l.LoadingPkg]:
						delete(c.Secondary, l)
						changed = true
					case notWorldReadable && (l.LoadingPkg != owner || l.IsIsolatedProcess):
						delete(c.Secondary, l)
						changed = true
					}
				}
			}

			if c.empty() {
				delete(p.containers, path)
				removed++
			}
		}
		r.pruneIfEmpty(owner)
	}

	if removed > 0 || changed {
		r.revision++
		r.debouncer.trigger()
	}
	return removed, nil
}
