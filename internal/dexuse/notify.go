package dexuse

import (
	"context"
	"fmt"
	"strings"

	"github.com/banksean/dexopt/internal/platform"
)

// NotifyLoaded records that loadingPkg loaded each container in paths
// under the given class-loader context, resolving ownership in this
// order:
//
//  1. loadingPkg itself declares the path as one of its primary split
//     paths;
//  2. else some other installed package declares it as a primary split
//     path;
//  3. else it is under loadingPkg's own CE/DE per-user directory, and
//     is treated as secondary;
//  4. else it is ignored (shared libs / foreign jars).
func (r *Registry) NotifyLoaded(ctx context.Context, loadingPkg string, isIsolated bool, paths map[string]string) error {
	platformPkg, err := r.platform.Packages.PlatformPackage(ctx)
	if err != nil {
		return fmt.Errorf("dexuse: resolve platform package: %w", err)
	}
	if platformPkg != "" && loadingPkg == platformPkg {
		return ErrPlatformPackageLoader
	}

	for path, clc := range paths {
		if err := r.validators.ValidateDexPath(path); err != nil {
			return &ErrInvalidArgument{Err: fmt.Errorf("path %q: %w", path, err)}
		}
		if clc != "" {
			if err := r.validators.ValidateClassLoaderContext(clc); err != nil {
				return &ErrInvalidArgument{Err: fmt.Errorf("clc %q: %w", clc, err)}
			}
		}
	}

	for path, clc := range paths {
		if err := r.notifyOne(ctx, loadingPkg, isIsolated, path, clc); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) notifyOne(ctx context.Context, loadingPkg string, isIsolated bool, path, clc string) error {
	loadingInfo, err := r.platform.Packages.Get(ctx, loadingPkg)
	if err != nil {
		return fmt.Errorf("dexuse: get package %q: %w", loadingPkg, err)
	}
	if loadingInfo == nil {
		return &ErrInvalidArgument{Err: fmt.Errorf("unknown loading package %q", loadingPkg)}
	}

	// (i) loadingPkg's own primary split paths.
	if owner, primaryAbi, ok := findPrimaryMatch(loadingInfo, path); ok {
		r.recordPrimary(loadingPkg, owner, path, isIsolated)
		_ = primaryAbi
		return nil
	}

	// (ii) scan all packages for a primary match.
	all, err := r.platform.Packages.All(ctx)
	if err != nil {
		return fmt.Errorf("dexuse: list packages: %w", err)
	}
	for _, pkg := range all {
		if pkg.Name == loadingPkg {
			continue // already checked above
		}
		if owner, _, ok := findPrimaryMatch(&pkg, path); ok {
			r.recordPrimary(loadingPkg, owner, path, isIsolated)
			return nil
		}
	}

	// (iii) under loadingPkg's own CE/DE per-user dir: secondary.
	if r.platform.DataDirs != nil && r.platform.Users != nil {
		users, err := r.platform.Users.InstalledUsers(ctx)
		if err != nil {
			return fmt.Errorf("dexuse: list users: %w", err)
		}
		for _, u := range users {
			if under, storageUUID, user, ok := r.underPerUserDir(ctx, loadingPkg, u, path); ok {
				_ = storageUUID
				r.recordSecondary(loadingPkg, path, clc, isIsolated, user)
				_ = under
				return nil
			}
		}
	}

	// (iv) shared lib / foreign jar: ignore.
	return nil
}

func (r *Registry) underPerUserDir(ctx context.Context, pkg string, u platform.UserHandle, path string) (bool, string, platform.UserHandle, bool) {
	if ceDir, uuid, err := r.platform.DataDirs.CEDir(ctx, pkg, u); err == nil && ceDir != "" && strings.HasPrefix(path, ceDir) {
		return true, uuid, u, true
	}
	if deDir, uuid, err := r.platform.DataDirs.DEDir(ctx, pkg, u); err == nil && deDir != "" && strings.HasPrefix(path, deDir) {
		return true, uuid, u, true
	}
	return false, "", 0, false
}

// findPrimaryMatch reports whether pkg declares path as a primary
// split path, and if so, pkg's name and primary ABI name.
func findPrimaryMatch(pkg *platform.PackageInfo, path string) (owner string, primaryAbi string, ok bool) {
	for _, c := range pkg.PrimaryContainers {
		if c.Path == path {
			for _, a := range pkg.Abis {
				if a.IsPrimaryAbi {
					primaryAbi = a.Name
					break
				}
			}
			return pkg.Name, primaryAbi, true
		}
	}
	return "", "", false
}

func (r *Registry) recordPrimary(loadingPkg, owner, path string, isIsolated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.platform.Clock.NowMs()
	p := r.packageFor(owner, true)
	c, ok := p.containers[path]
	if !ok {
		c = newContainerEntry(path)
		p.containers[path] = c
	}
	loader := Loader{LoadingPkg: loadingPkg, IsIsolatedProcess: isIsolated}
	use := c.Primary[loader]
	if now > use.LastUsedMs {
		use.LastUsedMs = now
	}
	c.Primary[loader] = use

	r.revision++
	r.debouncer.trigger()
}

func (r *Registry) recordSecondary(loadingPkg, path, clc string, isIsolated bool, owningUser platform.UserHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.platform.Clock.NowMs()
	p := r.packageFor(loadingPkg, true)
	c, ok := p.containers[path]
	if !ok {
		c = newContainerEntry(path)
		p.containers[path] = c
	}
	c.SecondaryOwnerUser = owningUser

	abi := ""
	if info, err := r.platform.Packages.Get(context.Background(), loadingPkg); err == nil && info != nil {
		for _, a := range info.Abis {
			if a.IsPrimaryAbi {
				abi = a.Name
				break
			}
		}
	}

	loader := Loader{LoadingPkg: loadingPkg, IsIsolatedProcess: isIsolated}
	use := c.Secondary[loader]
	if now > use.LastUsedMs {
		use.LastUsedMs = now
	}
	if clc != "" {
		use.ClassLoaderContext = clc
	}
	if abi != "" {
		use.Abi = abi
	}
	c.Secondary[loader] = use

	r.revision++
	r.debouncer.trigger()
}
