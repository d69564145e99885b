// Package janitor implements the two-pass mark-and-sweep garbage
// collector: walk every dexopt-eligible package's containers, mark
// whatever is still live, then ask the compiler daemon to delete
// everything else.
package janitor

import (
	"context"
	"log/slog"

	"github.com/banksean/dexopt/internal/daemon"
	"github.com/banksean/dexopt/internal/dexopter"
	"github.com/banksean/dexopt/internal/dexuse"
	"github.com/banksean/dexopt/internal/model"
	"github.com/banksean/dexopt/internal/planner"
	"github.com/banksean/dexopt/internal/platform"
)

// Janitor walks the installed-package snapshot and the dex-use
// registry to build the daemon's cleanup mark lists.
type Janitor struct {
	Daemon   daemon.Client
	Platform *platform.Platform
	Registry *dexuse.Registry
	Dexopter *dexopter.Dexopter
}

// New constructs a Janitor.
func New(d daemon.Client, plat *platform.Platform, registry *dexuse.Registry, dex *dexopter.Dexopter) *Janitor {
	return &Janitor{Daemon: d, Platform: plat, Registry: registry, Dexopter: dex}
}

// marks accumulates the four keep-lists the daemon's cleanup call
// consumes.
type marks struct {
	profiles, artifacts, vdex, runtime []string
}

// Clean walks every installed package, marks everything still
// referenced, and sweeps the rest via the daemon's cleanup primitive.
// Returns the number of bytes freed.
func (j *Janitor) Clean(ctx context.Context) (int64, error) {
	pkgs, err := j.Platform.Packages.All(ctx)
	if err != nil {
		return 0, err
	}

	var m marks
	for _, pkg := range pkgs {
		secondary, err := j.Registry.FilteredDetailedSecondaryDexInfo(ctx, pkg.Name, j.Platform.Visibility)
		if err != nil {
			slog.WarnContext(ctx, "janitor: list secondary dex info failed", "pkg", pkg.Name, "error", err)
		}
		// Profiles are marked for every installed package regardless of
		// hibernation: they outlive a hibernation cycle and must not be
		// swept out from under a package that will resume later.
		j.markProfiles(ctx, pkg, secondary, &m)

		eligible, err := j.Dexopter.Eligible(ctx, pkg.Name, 0)
		if err != nil {
			slog.WarnContext(ctx, "janitor: eligibility check failed", "pkg", pkg.Name, "error", err)
			continue
		}
		if !eligible {
			// Hibernating: its compiled artifacts are already gone, only
			// the profiles marked above need protecting.
			continue
		}
		j.markPrimary(ctx, pkg, &m)
		j.markSecondaryArtifacts(ctx, secondary, &m)
	}

	return j.Daemon.Cleanup(ctx, daemon.CleanupRequest{
		ProfilesKeep:         m.profiles,
		ArtifactsKeep:        m.artifacts,
		VdexKeep:             m.vdex,
		RuntimeArtifactsKeep: m.runtime,
	})
}

// markPrimary marks every code-carrying primary container/ABI whose
// daemon-reported compiler mode is not unspecified: the vdex is always
// kept, the oat is kept unless the mode is non-optimized, in which
// case the runtime image is kept instead.
func (j *Janitor) markPrimary(ctx context.Context, pkg platform.PackageInfo, m *marks) {
	for _, c := range pkg.PrimaryContainers {
		if !c.HasCode {
			continue
		}
		container := model.Container{Path: c.Path, HasCode: true, Primary: true, SplitName: c.SplitName, StorageUUID: c.StorageUUID}
		for _, abi := range pkg.Abis {
			modelAbi := model.Abi{Name: abi.Name, Isa: abi.Isa, IsPrimaryAbi: abi.IsPrimaryAbi}
			status, err := j.Daemon.GetDexoptStatus(ctx, c.Path, abi.Isa, "")
			if err != nil {
				slog.WarnContext(ctx, "janitor: get dexopt status failed", "path", c.Path, "error", err)
				continue
			}
			if status.CompilerFilter == model.ModeUnspecified {
				continue
			}
			m.vdex = append(m.vdex, planner.VdexPathFor(container, modelAbi, true), planner.VdexPathFor(container, modelAbi, false))
			if status.CompilerFilter.IsNonOptimized() {
				m.runtime = append(m.runtime, c.Path)
			} else {
				m.artifacts = append(m.artifacts, planner.OatPathFor(container, modelAbi, true), planner.OatPathFor(container, modelAbi, false))
			}
		}
	}
}

// markSecondaryArtifacts marks every secondary container's vdex (and
// oat, when optimized) the same way as markPrimary, minus runtime
// images. Takes the already-fetched secondary list so the caller can
// reuse it for profile marking even when the package turns out to be
// hibernating.
func (j *Janitor) markSecondaryArtifacts(ctx context.Context, secondary []dexuse.SecondaryDexInfo, m *marks) {
	for _, info := range secondary {
		container := model.Container{Path: info.Path, HasCode: true, Primary: false, ClassLoaderContext: info.ClassLoaderContext}
		modelAbi := model.Abi{Name: info.Abi, Isa: info.Abi}
		status, err := j.Daemon.GetDexoptStatus(ctx, info.Path, info.Abi, info.ClassLoaderContext)
		if err != nil {
			slog.WarnContext(ctx, "janitor: get dexopt status failed", "path", info.Path, "error", err)
			continue
		}
		if status.CompilerFilter == model.ModeUnspecified {
			continue
		}
		m.vdex = append(m.vdex, planner.VdexPathFor(container, modelAbi, true), planner.VdexPathFor(container, modelAbi, false))
		if !status.CompilerFilter.IsNonOptimized() {
			m.artifacts = append(m.artifacts, planner.OatPathFor(container, modelAbi, true), planner.OatPathFor(container, modelAbi, false))
		}
	}
}

// markProfiles marks reference and current profiles of every primary
// and secondary container belonging to pkg, regardless of whether that
// container's compiled output survived the first two passes: profiles
// outlive hibernation and outlive a downgrade to an unoptimized mode.
func (j *Janitor) markProfiles(ctx context.Context, pkg platform.PackageInfo, secondary []dexuse.SecondaryDexInfo, m *marks) {
	users, err := j.Platform.Users.InstalledUsers(ctx)
	if err != nil {
		slog.WarnContext(ctx, "janitor: list installed users failed", "error", err)
	}

	for _, c := range pkg.PrimaryContainers {
		if !c.HasCode {
			continue
		}
		container := model.Container{Path: c.Path}
		m.profiles = append(m.profiles, planner.ReferenceProfilePath(container))
		for _, u := range users {
			m.profiles = append(m.profiles, planner.CurrentProfilePath(container, u))
		}
	}
	for _, info := range secondary {
		container := model.Container{Path: info.Path}
		m.profiles = append(m.profiles, planner.ReferenceProfilePath(container))
		for _, u := range users {
			m.profiles = append(m.profiles, planner.CurrentProfilePath(container, u))
		}
	}
}
