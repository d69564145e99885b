package bgjob

import (
	"context"
	"sort"

	"github.com/banksean/dexopt/internal/platform"
	"github.com/banksean/dexopt/internal/reason"
)

// inactiveSyspropKey overrides downgradeAfterInactiveDays when set.
const inactiveSyspropKey = "pm.dexopt.downgrade_after_inactive_days"

// millisPerDay converts the inactivity threshold (days) into the
// millisecond units lastActiveMs/NowMs deal in.
const millisPerDay = int64(24 * 60 * 60 * 1000)

// downgradeAfterInactiveDays resolves the configured inactivity
// threshold: the system property takes precedence over config, and 0
// (unset) means the threshold is effectively infinite (never inactive).
func (c *Controller) downgradeAfterInactiveDays() int {
	return c.Platform.SysProps.GetInt(inactiveSyspropKey, c.Config.DowngradeAfterInactiveDays)
}

// lastActiveMs is the max of the platform's own last-used timestamp
// and the dex-use registry's, per package.
func (c *Controller) lastActiveMs(pkg platform.PackageInfo) int64 {
	last := pkg.LastActiveMs
	if c.Registry != nil {
		if regLast := c.Registry.PackageLastUsedMs(pkg.Name); regLast > last {
			last = regLast
		}
	}
	return last
}

// isInactive reports whether pkg's last-active time is at or before
// now minus the configured inactivity threshold. A zero threshold
// means the package can never be considered inactive.
func (c *Controller) isInactive(pkg platform.PackageInfo, nowMs int64) bool {
	days := c.downgradeAfterInactiveDays()
	if days <= 0 {
		return false
	}
	threshold := nowMs - int64(days)*millisPerDay
	return c.lastActiveMs(pkg) <= threshold
}

// eligiblePackages filters snapshot down to the packages the daemon
// would actually dexopt: has code, and (via the same check the
// dexopter itself uses) not hibernating.
func (c *Controller) eligiblePackages(ctx context.Context, snapshot []platform.PackageInfo) []platform.PackageInfo {
	out := make([]platform.PackageInfo, 0, len(snapshot))
	for _, pkg := range snapshot {
		hasCode := false
		for _, p := range pkg.PrimaryContainers {
			if p.HasCode {
				hasCode = true
				break
			}
		}
		if !hasCode {
			continue
		}
		eligible, err := c.Driver.Dexopter.Eligible(ctx, pkg.Name, 0)
		if err != nil || !eligible {
			continue
		}
		out = append(out, pkg)
	}
	return out
}

// selectInactivePackages returns every eligible, inactive package name,
// ascending by last-active time (oldest first).
func (c *Controller) selectInactivePackages(ctx context.Context, snapshot []platform.PackageInfo) ([]string, error) {
	now := c.Platform.Clock.NowMs()
	eligible := c.eligiblePackages(ctx, snapshot)
	var selected []platform.PackageInfo
	for _, pkg := range eligible {
		if c.isInactive(pkg, now) {
			selected = append(selected, pkg)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return c.lastActiveMs(selected[i]) < c.lastActiveMs(selected[j])
	})
	names := make([]string, len(selected))
	for i, pkg := range selected {
		names[i] = pkg.Name
	}
	return names, nil
}

// defaultPackageList implements the per-reason default package
// selection table: boot-after-mainline-update picks system-UI/launcher
// roles, inactive picks eligible-and-inactive ascending, everything
// else picks eligible-and-not-inactive descending by last-active.
func (c *Controller) defaultPackageList(ctx context.Context, r string, snapshot []platform.PackageInfo) ([]string, error) {
	switch r {
	case reason.BootAfterMainlineUpdate:
		return c.systemUIOrLauncher(ctx, snapshot)
	case reason.Inactive:
		return c.selectInactivePackages(ctx, snapshot)
	default:
		return c.selectActivePackages(ctx, snapshot)
	}
}

func (c *Controller) systemUIOrLauncher(ctx context.Context, snapshot []platform.PackageInfo) ([]string, error) {
	systemUI, err := c.Platform.Packages.SystemUIPackage(ctx)
	if err != nil {
		return nil, err
	}
	launcher, err := c.Platform.Packages.LauncherPackage(ctx)
	if err != nil {
		return nil, err
	}
	eligible := make(map[string]bool, len(snapshot))
	for _, pkg := range c.eligiblePackages(ctx, snapshot) {
		eligible[pkg.Name] = true
	}
	var out []string
	if systemUI != "" && eligible[systemUI] {
		out = append(out, systemUI)
	}
	if launcher != "" && launcher != systemUI && eligible[launcher] {
		out = append(out, launcher)
	}
	return out, nil
}

// selectActivePackages returns every eligible, non-inactive package
// name, descending by last-active time (most recently used first).
func (c *Controller) selectActivePackages(ctx context.Context, snapshot []platform.PackageInfo) ([]string, error) {
	now := c.Platform.Clock.NowMs()
	eligible := c.eligiblePackages(ctx, snapshot)
	var selected []platform.PackageInfo
	for _, pkg := range eligible {
		if !c.isInactive(pkg, now) {
			selected = append(selected, pkg)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return c.lastActiveMs(selected[i]) > c.lastActiveMs(selected[j])
	})
	names := make([]string, len(selected))
	for i, pkg := range selected {
		names[i] = pkg.Name
	}
	return names, nil
}
