package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/banksean/dexopt/internal/model"
	"github.com/banksean/dexopt/internal/planner"
)

// ClearAppProfiles deletes pkgName's reference profile and every
// installed user's current profile, for every primary and secondary
// container. A per-profile delete failure is logged and does not
// abort the rest of the walk.
func (q *Query) ClearAppProfiles(ctx context.Context, pkgName string) error {
	pkg, err := q.Platform.Packages.Get(ctx, pkgName)
	if err != nil {
		return fmt.Errorf("query: get package %q: %w", pkgName, err)
	}
	if pkg == nil {
		return ErrPackageNotFound
	}

	users, err := q.Platform.Users.InstalledUsers(ctx)
	if err != nil {
		slog.WarnContext(ctx, "query: list installed users failed", "error", err)
	}

	clear := func(path string) {
		container := model.Container{Path: path}
		if err := q.Daemon.DeleteProfile(ctx, planner.ReferenceProfilePath(container)); err != nil {
			slog.WarnContext(ctx, "query: delete reference profile failed", "path", path, "error", err)
		}
		for _, u := range users {
			if err := q.Daemon.DeleteProfile(ctx, planner.CurrentProfilePath(container, u)); err != nil {
				slog.WarnContext(ctx, "query: delete current profile failed", "path", path, "user", u, "error", err)
			}
		}
	}

	for _, c := range pkg.PrimaryContainers {
		if !c.HasCode {
			continue
		}
		clear(c.Path)
	}
	secondary, err := q.Registry.FilteredDetailedSecondaryDexInfo(ctx, pkgName, q.Platform.Visibility)
	if err != nil {
		slog.WarnContext(ctx, "query: list secondary dex info failed", "pkg", pkgName, "error", err)
	}
	for _, info := range secondary {
		clear(info.Path)
	}
	return nil
}
