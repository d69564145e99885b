package dexuse

import (
	"context"
	"sort"

	"github.com/banksean/dexopt/internal/model"
	"github.com/banksean/dexopt/internal/platform"
)

// PrimaryLoaders returns the sorted, deduplicated list of package names
// that have loaded owner's primary container at path.
func (r *Registry) PrimaryLoaders(owner, path string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.packageFor(owner, false)
	if p == nil {
		return nil
	}
	c, ok := p.containers[path]
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	for l := range c.Primary {
		seen[l.LoadingPkg] = true
	}
	out := make([]string, 0, len(seen))
	for pkg := range seen {
		out = append(out, pkg)
	}
	sort.Strings(out)
	return out
}

// SecondaryDexInfo is one secondary (dynamically loaded) dex container
// belonging to owner, with its class-loader context collapsed across
// every recorded loader.
type SecondaryDexInfo struct {
	Path               string
	OwnerUser          platform.UserHandle
	ClassLoaderContext string
	Abi                string
	Loaders            []Loader
}

// SecondaryDexInfo returns every secondary container owner has
// recorded, with loaders sorted deterministically.
func (r *Registry) SecondaryDexInfo(owner string) []SecondaryDexInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.packageFor(owner, false)
	if p == nil {
		return nil
	}

	out := make([]SecondaryDexInfo, 0, len(p.containers))
	for path, c := range p.containers {
		if len(c.Secondary) == 0 {
			continue
		}
		out = append(out, secondaryInfoFor(path, c, nil))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// sameAppSecondaryInfo re-reads owner's secondary info for path,
// retaining only loaders that are not other-app for owner (see the
// other-app predicate on FilteredDetailedSecondaryDexInfo). Returns
// nil if the container is gone or nothing survives the filter.
func (r *Registry) sameAppSecondaryInfo(owner, path string) *SecondaryDexInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.packageFor(owner, false)
	if p == nil {
		return nil
	}
	c, ok := p.containers[path]
	if !ok {
		return nil
	}
	info := secondaryInfoFor(path, c, func(l Loader) bool {
		return l.LoadingPkg == owner && !l.IsIsolatedProcess
	})
	if len(info.Loaders) == 0 {
		return nil
	}
	return &info
}

// secondaryInfoFor collapses c's secondary loaders into a
// SecondaryDexInfo. keep, if non-nil, restricts which loaders
// contribute to the collapse; nil means every loader contributes.
func secondaryInfoFor(path string, c *ContainerEntry, keep func(Loader) bool) SecondaryDexInfo {
	info := SecondaryDexInfo{Path: path, OwnerUser: c.SecondaryOwnerUser}

	loaders := make([]Loader, 0, len(c.Secondary))
	for l := range c.Secondary {
		if keep != nil && !keep(l) {
			continue
		}
		loaders = append(loaders, l)
	}
	sort.Slice(loaders, func(i, j int) bool {
		if loaders[i].LoadingPkg != loaders[j].LoadingPkg {
			return loaders[i].LoadingPkg < loaders[j].LoadingPkg
		}
		return !loaders[i].IsIsolatedProcess
	})
	info.Loaders = loaders

	clc := ""
	abi := ""
	first := true
	for _, l := range loaders {
		use := c.Secondary[l]
		if use.ClassLoaderContext == model.UnsupportedClassLoaderContext {
			clc = model.UnsupportedClassLoaderContext
		} else if first {
			clc = use.ClassLoaderContext
		} else if clc != model.UnsupportedClassLoaderContext && clc != use.ClassLoaderContext {
			clc = model.VaryingClassLoaderContext
		}
		if first {
			abi = use.Abi
		} else if abi != use.Abi {
			abi = "" // ABI disagreement is not classified; leave unset
		}
		first = false
	}
	info.ClassLoaderContext = clc
	info.Abi = abi
	return info
}

// FilteredDetailedSecondaryDexInfo returns pkg's secondary dex info
// with visibility filtering applied: containers whose file is missing
// are dropped entirely; containers whose file is not world-readable
// retain only pkg's own, non-isolated-process loaders (the "other-app"
// predicate below); world-readable containers are returned unchanged.
//
// A loader L is other-app for pkg iff L.LoadingPkg != pkg or
// L.IsIsolatedProcess is true — isolated processes can only read
// world-readable artifacts, so their presence forces the same
// same-app-only restriction as a loader from a different package.
func (r *Registry) FilteredDetailedSecondaryDexInfo(ctx context.Context, pkg string, visibility platform.FileVisibilityQuerier) ([]SecondaryDexInfo, error) {
	all := r.SecondaryDexInfo(pkg)
	if visibility == nil {
		return all, nil
	}

	out := make([]SecondaryDexInfo, 0, len(all))
	for _, info := range all {
		v, err := visibility.DexFileVisibility(ctx, info.Path)
		if err != nil {
			continue
		}
		switch v {
		case platform.VisibilityNotFound:
			continue
		case platform.VisibilityOtherReadable:
			out = append(out, info)
		default:
			if filtered := r.sameAppSecondaryInfo(pkg, info.Path); filtered != nil {
				out = append(out, *filtered)
			}
		}
	}
	return out, nil
}

// PackageLastUsedMs returns the most recent LastUsedMs recorded across
// every primary and secondary loader of every container owner owns, or
// 0 if owner has no recorded uses.
func (r *Registry) PackageLastUsedMs(owner string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.packageFor(owner, false)
	if p == nil {
		return 0
	}
	var max int64
	for _, c := range p.containers {
		for _, u := range c.Primary {
			if u.LastUsedMs > max {
				max = u.LastUsedMs
			}
		}
		for _, u := range c.Secondary {
			if u.LastUsedMs > max {
				max = u.LastUsedMs
			}
		}
	}
	return max
}
