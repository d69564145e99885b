// Package dexopter implements the per-package dexopter: decides whether
// a package is dexopt-eligible at all, then drives the per-container
// planner across every (container, ABI) pair that belongs to it.
package dexopter

import (
	"context"
	"fmt"

	"github.com/banksean/dexopt/internal/dexuse"
	"github.com/banksean/dexopt/internal/model"
	"github.com/banksean/dexopt/internal/planner"
	"github.com/banksean/dexopt/internal/platform"
	"github.com/banksean/dexopt/internal/reason"
)

// sharedOutputGID is the fixed group every world-readable compiled
// artifact is written with, mirroring the host platform's dedicated
// shared-app-gid convention.
const sharedOutputGID = 9997

// Request is one top-level dexopt request for a single package, the
// single-package counterpart of the batch driver's per-package fan-out.
type Request struct {
	PackageName     string
	Mode            model.CompilerMode
	Reason          string
	Priority        model.PriorityClass
	Flags           model.DexoptFlags
	HiddenApiPolicy string
	// IncludeSecondary requests that dynamically-loaded secondary
	// containers are dexopted too, after the primary set.
	IncludeSecondary bool
	// SplitName restricts the primary set to a single named split,
	// gated by reason.Config.AllowSingleSplitPrimary.
	SplitName string
	User      platform.UserHandle
}

// ErrPackageNotFound is returned when req.PackageName is not installed.
var ErrPackageNotFound = fmt.Errorf("dexopter: package not found")

// ErrSplitNotFound is returned for a single-split request naming a
// split the package does not have.
var ErrSplitNotFound = fmt.Errorf("dexopter: split not found")

// ErrSingleSplitNotAllowed is returned when a single-split request is
// made but reason.Config.AllowSingleSplitPrimary is false.
var ErrSingleSplitNotAllowed = fmt.Errorf("dexopter: single-split primary dexopt not allowed")

// Dexopter drives the planner across all containers of one package.
type Dexopter struct {
	Planner  *planner.Planner
	Platform *platform.Platform
	Registry *dexuse.Registry
	Reasons  *reason.Table
}

// New constructs a Dexopter.
func New(p *planner.Planner, plat *platform.Platform, registry *dexuse.Registry, reasons *reason.Table) *Dexopter {
	return &Dexopter{Planner: p, Platform: plat, Registry: registry, Reasons: reasons}
}

// Dexopt runs the full per-package dexopt sequence.
func (d *Dexopter) Dexopt(ctx context.Context, req Request) (model.PackageResult, error) {
	pkg, err := d.Platform.Packages.Get(ctx, req.PackageName)
	if err != nil {
		return model.PackageResult{}, fmt.Errorf("dexopter: get package %q: %w", req.PackageName, err)
	}
	if pkg == nil {
		return model.PackageResult{}, ErrPackageNotFound
	}

	if req.SplitName != "" && !d.Reasons.Config().AllowSingleSplitPrimary {
		return model.PackageResult{}, ErrSingleSplitNotAllowed
	}

	eligible, err := d.Eligible(ctx, pkg.Name, req.User)
	if err != nil {
		return model.PackageResult{}, fmt.Errorf("dexopter: eligibility check: %w", err)
	}
	if !eligible {
		return model.PackageResult{PackageName: req.PackageName}, nil
	}

	primary, err := d.selectPrimary(pkg, req.SplitName)
	if err != nil {
		return model.PackageResult{}, err
	}

	pkgCtx := planner.PackageContext{
		PackageName:         req.PackageName,
		IsSystemUIPackage:   pkg.IsSystemUI,
		IsLauncherPackage:   pkg.IsLauncher,
		VMSafeMode:          pkg.VMSafeMode,
		Debuggable:          pkg.Debuggable,
		RequestsEmbeddedDex: pkg.RequestsEmbeddedDex,
		SharedGID:           sharedOutputGID,
		SharedRequired:      !pkg.IsolatedSplitLoading,
	}

	var results []model.PlannerResult
	cancelled := false

	for _, c := range primary {
		if cancelled {
			break
		}
		for _, abi := range pkg.Abis {
			if cancelled {
				break
			}
			in := model.PlannerInput{
				Container: model.Container{
					Path:               c.Path,
					HasCode:            c.HasCode,
					Primary:            true,
					SplitName:          c.SplitName,
					ClassLoaderContext: primaryClassLoaderContext(pkg, c),
					StorageUUID:        c.StorageUUID,
				},
				Abi:             toModelAbi(abi),
				TargetMode:      req.Mode,
				Reason:          req.Reason,
				Priority:        req.Priority,
				Flags:           req.Flags,
				HiddenApiPolicy: req.HiddenApiPolicy,
			}
			result := d.Planner.Plan(ctx, in, pkgCtx)
			results = append(results, result)
			if result.Status == model.StatusCancelled {
				cancelled = true
			}
		}
	}

	if req.IncludeSecondary && !cancelled {
		for _, info := range d.Registry.SecondaryDexInfo(req.PackageName) {
			if cancelled {
				break
			}
			abi := secondaryAbi(pkg, info.Abi)
			in := model.PlannerInput{
				Container: model.Container{
					Path:               info.Path,
					HasCode:            true,
					Primary:            false,
					ClassLoaderContext: info.ClassLoaderContext,
					StorageUUID:        "",
				},
				Abi:             abi,
				TargetMode:      req.Mode,
				Reason:          req.Reason,
				Priority:        req.Priority,
				Flags:           req.Flags,
				HiddenApiPolicy: req.HiddenApiPolicy,
			}
			result := d.Planner.Plan(ctx, in, pkgCtx)
			results = append(results, result)
			if result.Status == model.StatusCancelled {
				cancelled = true
			}
		}
	}

	return model.PackageResult{
		PackageName: req.PackageName,
		Containers:  results,
		Cancelled:   cancelled,
	}, nil
}

// Eligible reports whether pkgName is dexopt-eligible: not hibernating,
// when a hibernation manager is wired in at all. Shared with the batch
// driver and background job controller so every component applies the
// same predicate.
func (d *Dexopter) Eligible(ctx context.Context, pkgName string, user platform.UserHandle) (bool, error) {
	if d.Platform.Hibernation == nil || !d.Platform.Hibernation.Available() {
		return true, nil
	}
	hibernating, err := d.Platform.Hibernation.IsHibernating(ctx, pkgName, user)
	if err != nil {
		return false, err
	}
	return !hibernating, nil
}

// selectPrimary returns pkg's code-carrying primary containers,
// restricted to splitName when set; a single-split request names a
// split that must exist.
func (d *Dexopter) selectPrimary(pkg *platform.PackageInfo, splitName string) ([]platform.PrimaryContainer, error) {
	if splitName == "" {
		out := make([]platform.PrimaryContainer, 0, len(pkg.PrimaryContainers))
		for _, c := range pkg.PrimaryContainers {
			if c.HasCode {
				out = append(out, c)
			}
		}
		return out, nil
	}

	for _, c := range pkg.PrimaryContainers {
		if c.SplitName == splitName {
			if !c.HasCode {
				return nil, nil
			}
			return []platform.PrimaryContainer{c}, nil
		}
	}
	return nil, ErrSplitNotFound
}

// primaryClassLoaderContext derives a primary container's class-
// loader-context string deterministically from the manifest. A shared
// (non-isolated) package chains every split under the base APK's
// loader; an isolated one parents each split under its declared parent.
func primaryClassLoaderContext(pkg *platform.PackageInfo, c platform.PrimaryContainer) string {
	if c.SplitName == "" {
		return "PCL[]" // base APK: no parent class loader
	}
	if pkg.IsolatedSplitLoading {
		if c.ParentSplit != "" {
			return "PCL[" + c.ParentSplit + "]"
		}
		return "PCL[]"
	}
	return "PCL[base.apk]"
}

func toModelAbi(a platform.Abi) model.Abi {
	return model.Abi{Name: a.Name, Isa: a.Isa, IsPrimaryAbi: a.IsPrimaryAbi}
}

func secondaryAbi(pkg *platform.PackageInfo, abiName string) model.Abi {
	for _, a := range pkg.Abis {
		if a.Name == abiName {
			return toModelAbi(a)
		}
	}
	for _, a := range pkg.Abis {
		if a.IsPrimaryAbi {
			return toModelAbi(a)
		}
	}
	return model.Abi{}
}

// DeleteRuntimeImages deletes stale app-image files for every
// code-carrying primary container of pkg, with one daemon call per
// container (ABIs are not iterated), used by top-level resets.
func (d *Dexopter) DeleteRuntimeImages(ctx context.Context, pkgName string) error {
	pkg, err := d.Platform.Packages.Get(ctx, pkgName)
	if err != nil {
		return fmt.Errorf("dexopter: get package %q: %w", pkgName, err)
	}
	if pkg == nil {
		return ErrPackageNotFound
	}
	for _, c := range pkg.PrimaryContainers {
		if !c.HasCode {
			continue
		}
		if _, err := d.Planner.Daemon.DeleteRuntimeArtifacts(ctx, c.Path); err != nil {
			return fmt.Errorf("dexopter: delete runtime artifacts %q: %w", c.Path, err)
		}
	}
	return nil
}
