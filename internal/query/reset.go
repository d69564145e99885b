package query

import (
	"context"
	"fmt"

	"github.com/banksean/dexopt/internal/dexopter"
	"github.com/banksean/dexopt/internal/model"
	"github.com/banksean/dexopt/internal/reason"
)

// ResetDexoptStatus deletes pkgName's compiled artifacts, clears its
// profiles, then dexopts it at reason install, primary-only — so that
// any DM-embedded vdex or profile is re-materialized from scratch.
func (q *Query) ResetDexoptStatus(ctx context.Context, pkgName string) (model.PackageResult, error) {
	if _, err := q.DeleteDexoptArtifacts(ctx, pkgName); err != nil {
		return model.PackageResult{}, err
	}
	if err := q.ClearAppProfiles(ctx, pkgName); err != nil {
		return model.PackageResult{}, err
	}

	mode, err := q.Reasons.DefaultMode(reason.Install)
	if err != nil {
		return model.PackageResult{}, fmt.Errorf("query: resolve install mode: %w", err)
	}
	priority, err := q.Reasons.DefaultPriority(reason.Install)
	if err != nil {
		return model.PackageResult{}, fmt.Errorf("query: resolve install priority: %w", err)
	}
	result, err := q.Dexopter.Dexopt(ctx, dexopter.Request{
		PackageName:      pkgName,
		Mode:             mode,
		Reason:           reason.Install,
		Priority:         priority,
		Flags:            q.Reasons.DefaultFlags(reason.Install),
		IncludeSecondary: false,
	})
	if err != nil {
		return model.PackageResult{}, fmt.Errorf("query: reset dexopt for %q: %w", pkgName, err)
	}
	return result, nil
}
