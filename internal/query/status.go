package query

import (
	"context"
	"fmt"

	"github.com/banksean/dexopt/internal/daemon"
	"github.com/banksean/dexopt/internal/model"
)

// Scope selects which container sets get_dexopt_status/delete walk.
type Scope uint8

const (
	ScopePrimary Scope = 1 << iota
	ScopeSecondary
)

// Has reports whether s includes bit.
func (s Scope) Has(bit Scope) bool { return s&bit != 0 }

// AllScopes covers both primary and secondary containers.
func AllScopes() Scope { return ScopePrimary | ScopeSecondary }

// StatusEntry is one (container, ABI) pair's status, or the error that
// prevented its retrieval. A per-entry error never aborts the whole
// query.
type StatusEntry struct {
	Container model.Container
	Abi       model.Abi
	Status    daemon.DexoptStatus
	Err       error
}

// GetDexoptStatus asks the daemon for the compiler mode, compilation
// reason, and location debug string of every (container, ABI) pair
// scope selects.
func (q *Query) GetDexoptStatus(ctx context.Context, pkgName string, scope Scope) ([]StatusEntry, error) {
	pkg, err := q.Platform.Packages.Get(ctx, pkgName)
	if err != nil {
		return nil, fmt.Errorf("query: get package %q: %w", pkgName, err)
	}
	if pkg == nil {
		return nil, ErrPackageNotFound
	}

	var entries []StatusEntry
	if scope.Has(ScopePrimary) {
		for _, c := range pkg.PrimaryContainers {
			if !c.HasCode {
				continue
			}
			container := model.Container{Path: c.Path, HasCode: true, Primary: true, SplitName: c.SplitName, StorageUUID: c.StorageUUID}
			for _, abi := range pkg.Abis {
				modelAbi := model.Abi{Name: abi.Name, Isa: abi.Isa, IsPrimaryAbi: abi.IsPrimaryAbi}
				entries = append(entries, q.statusEntry(ctx, container, modelAbi, ""))
			}
		}
	}
	if scope.Has(ScopeSecondary) {
		secondary, err := q.Registry.FilteredDetailedSecondaryDexInfo(ctx, pkgName, q.Platform.Visibility)
		if err != nil {
			return entries, fmt.Errorf("query: list secondary dex info for %q: %w", pkgName, err)
		}
		for _, info := range secondary {
			container := model.Container{Path: info.Path, HasCode: true, Primary: false, ClassLoaderContext: info.ClassLoaderContext}
			modelAbi := model.Abi{Name: info.Abi, Isa: info.Abi}
			entries = append(entries, q.statusEntry(ctx, container, modelAbi, info.ClassLoaderContext))
		}
	}
	return entries, nil
}

func (q *Query) statusEntry(ctx context.Context, container model.Container, abi model.Abi, clc string) StatusEntry {
	status, err := q.Daemon.GetDexoptStatus(ctx, container.Path, abi.Isa, clc)
	return StatusEntry{Container: container, Abi: abi, Status: status, Err: err}
}
