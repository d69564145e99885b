package query

import (
	"context"
	"fmt"
	"os"

	"github.com/banksean/dexopt/internal/daemon"
	"github.com/banksean/dexopt/internal/model"
	"github.com/banksean/dexopt/internal/planner"
	"github.com/banksean/dexopt/internal/platform"
)

// SnapshotAppProfile merges split's reference-or-init profile with
// every installed user's current profile and returns an open,
// unlinked read-only handle to the merged result. The returned file
// has no path on disk by the time this returns; the caller owns the
// handle and must Close it when done.
func (q *Query) SnapshotAppProfile(ctx context.Context, pkgName, splitName string) (*os.File, error) {
	return q.mergeAppProfile(ctx, pkgName, splitName, daemon.MergeProfilesOptions{ForceMerge: true})
}

// DumpAppProfile is the human-readable counterpart of
// SnapshotAppProfile: the daemon formats the merge as text instead of
// a binary profile, optionally including per-class-and-method detail.
func (q *Query) DumpAppProfile(ctx context.Context, pkgName, splitName string, dumpClassesAndMethods bool) (*os.File, error) {
	return q.mergeAppProfile(ctx, pkgName, splitName, daemon.MergeProfilesOptions{
		ForceMerge:            true,
		DumpOnly:              true,
		DumpClassesAndMethods: dumpClassesAndMethods,
	})
}

func (q *Query) mergeAppProfile(ctx context.Context, pkgName, splitName string, opts daemon.MergeProfilesOptions) (*os.File, error) {
	pkg, err := q.Platform.Packages.Get(ctx, pkgName)
	if err != nil {
		return nil, fmt.Errorf("query: get package %q: %w", pkgName, err)
	}
	if pkg == nil {
		return nil, ErrPackageNotFound
	}

	var container *model.Container
	for _, c := range pkg.PrimaryContainers {
		if c.SplitName == splitName {
			container = &model.Container{Path: c.Path, HasCode: c.HasCode, Primary: true, SplitName: c.SplitName}
			break
		}
	}
	if container == nil {
		return nil, ErrSplitNotFound
	}

	users, err := q.Platform.Users.InstalledUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: list installed users: %w", err)
	}
	current := make([]string, 0, len(users))
	for _, u := range users {
		current = append(current, planner.CurrentProfilePath(*container, u))
	}

	return q.mergeToHandle(ctx, current, planner.ReferenceProfilePath(*container), []string{container.Path}, opts)
}

// SnapshotBootImageProfile merges the platform package's profiles with
// the primary-container profiles of every package that has a
// code-carrying primary container (hibernating packages included),
// over the dex paths named by the boot and system-server classpath
// environment variables.
func (q *Query) SnapshotBootImageProfile(ctx context.Context) (*os.File, error) {
	var current []string
	var ref string

	platformPkgName, err := q.Platform.Packages.PlatformPackage(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: resolve platform package: %w", err)
	}
	users, err := q.Platform.Users.InstalledUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: list installed users: %w", err)
	}

	if platformPkgName != "" {
		if pkg, err := q.Platform.Packages.Get(ctx, platformPkgName); err == nil && pkg != nil {
			current, ref = q.appendPackageProfiles(current, ref, *pkg, users)
		}
	}

	all, err := q.Platform.Packages.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: list packages: %w", err)
	}
	for _, pkg := range all {
		if pkg.Name == platformPkgName {
			continue
		}
		if !hasCodeCarryingPrimaryContainer(pkg) {
			continue
		}
		current, ref = q.appendPackageProfiles(current, ref, pkg, users)
	}

	dexPaths := append(append(
		splitClasspath(q.Getenv("BOOTCLASSPATH")),
		splitClasspath(q.Getenv("SYSTEMSERVERCLASSPATH"))...),
		splitClasspath(q.Getenv("STANDALONE_SYSTEMSERVER_JARS"))...)

	return q.mergeToHandle(ctx, current, ref, dexPaths, daemon.MergeProfilesOptions{ForceMerge: true, ForBootImage: true})
}

// hasCodeCarryingPrimaryContainer reports whether pkg has at least one
// primary container worth merging into the boot-image profile. Unlike
// dexopt eligibility, this does not consult hibernation: a hibernating
// package's already-collected profiles still feed the boot image.
func hasCodeCarryingPrimaryContainer(pkg platform.PackageInfo) bool {
	for _, c := range pkg.PrimaryContainers {
		if c.HasCode {
			return true
		}
	}
	return false
}

// appendPackageProfiles appends every code-carrying primary
// container's current profiles to current and its first reference
// profile path to ref (merge_profiles takes a single ref argument;
// every other container's reference profile rides along as an extra
// "current" input, which the daemon still folds into the merge).
func (q *Query) appendPackageProfiles(current []string, ref string, pkg platform.PackageInfo, users []platform.UserHandle) ([]string, string) {
	for _, c := range pkg.PrimaryContainers {
		if !c.HasCode {
			continue
		}
		container := model.Container{Path: c.Path}
		refPath := planner.ReferenceProfilePath(container)
		if ref == "" {
			ref = refPath
		} else {
			current = append(current, refPath)
		}
		for _, u := range users {
			current = append(current, planner.CurrentProfilePath(container, u))
		}
	}
	return current, ref
}

func (q *Query) mergeToHandle(ctx context.Context, current []string, ref string, dexPaths []string, opts daemon.MergeProfilesOptions) (*os.File, error) {
	tmp, err := os.CreateTemp("", "dexopt-profile-*.prof")
	if err != nil {
		return nil, fmt.Errorf("query: create merge output temp file: %w", err)
	}
	outPath := tmp.Name()
	tmp.Close()

	nonEmpty, err := q.Daemon.MergeProfiles(ctx, current, ref, outPath, dexPaths, opts)
	if err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("query: merge profiles: %w", err)
	}
	if !nonEmpty {
		if err := os.WriteFile(outPath, nil, 0o600); err != nil {
			return nil, fmt.Errorf("query: write empty merge result: %w", err)
		}
	}

	f, err := os.Open(outPath)
	if err != nil {
		return nil, fmt.Errorf("query: open merged profile: %w", err)
	}
	if err := os.Remove(outPath); err != nil {
		f.Close()
		return nil, fmt.Errorf("query: unlink merged profile: %w", err)
	}
	return f, nil
}
