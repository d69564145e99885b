package query

import (
	"context"
	"fmt"
	"log/slog"
)

// DeleteDexoptArtifacts deletes every compiled artifact (and, for
// primary containers, the runtime image) belonging to pkgName,
// returning the total bytes freed. A per-container delete failure is
// logged and does not abort the rest of the walk.
func (q *Query) DeleteDexoptArtifacts(ctx context.Context, pkgName string) (int64, error) {
	pkg, err := q.Platform.Packages.Get(ctx, pkgName)
	if err != nil {
		return 0, fmt.Errorf("query: get package %q: %w", pkgName, err)
	}
	if pkg == nil {
		return 0, ErrPackageNotFound
	}

	var freed int64
	for _, c := range pkg.PrimaryContainers {
		if !c.HasCode {
			continue
		}
		if n, err := q.Daemon.DeleteArtifacts(ctx, c.Path); err != nil {
			slog.WarnContext(ctx, "query: delete artifacts failed", "path", c.Path, "error", err)
		} else {
			freed += n
		}
		if n, err := q.Daemon.DeleteRuntimeArtifacts(ctx, c.Path); err != nil {
			slog.WarnContext(ctx, "query: delete runtime artifacts failed", "path", c.Path, "error", err)
		} else {
			freed += n
		}
	}

	secondary, err := q.Registry.FilteredDetailedSecondaryDexInfo(ctx, pkgName, q.Platform.Visibility)
	if err != nil {
		slog.WarnContext(ctx, "query: list secondary dex info failed", "pkg", pkgName, "error", err)
	}
	for _, info := range secondary {
		if n, err := q.Daemon.DeleteArtifacts(ctx, info.Path); err != nil {
			slog.WarnContext(ctx, "query: delete secondary artifacts failed", "path", info.Path, "error", err)
		} else {
			freed += n
		}
	}
	return freed, nil
}
