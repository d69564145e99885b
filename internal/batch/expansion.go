package batch

import (
	"context"

	"github.com/banksean/dexopt/internal/dexopter"
	"github.com/banksean/dexopt/internal/platform"
)

// expandPackageList starts from base and, when followLibraries is set,
// transitively follows each package's UsesLibraries edges: a BFS in
// deterministic insertion order that visits each library name at most
// once. Only libraries that resolve to an APK-packaged, non-native
// (i.e. code-carrying) installed package are added, and every added
// package is re-checked against the dexopt-eligibility predicate
// before being kept.
func expandPackageList(ctx context.Context, plat *platform.Platform, d *dexopter.Dexopter, base []string, followLibraries bool) ([]string, error) {
	seen := make(map[string]bool, len(base))
	var out []string

	enqueue := func(name string) error {
		if seen[name] {
			return nil
		}
		seen[name] = true
		pkg, err := plat.Packages.Get(ctx, name)
		if err != nil {
			return err
		}
		if pkg == nil {
			return nil
		}
		eligible, err := d.Eligible(ctx, pkg.Name, 0)
		if err != nil {
			return err
		}
		if !eligible {
			return nil
		}
		out = append(out, name)
		return nil
	}

	queue := make([]string, 0, len(base))
	for _, name := range base {
		if err := enqueue(name); err != nil {
			return nil, err
		}
		queue = append(queue, name)
	}
	if !followLibraries {
		return out, nil
	}

	for i := 0; i < len(queue); i++ {
		pkg, err := plat.Packages.Get(ctx, queue[i])
		if err != nil {
			return nil, err
		}
		if pkg == nil {
			continue
		}
		for _, lib := range pkg.UsesLibraries {
			if seen[lib] {
				continue
			}
			libPkg, err := plat.Packages.Get(ctx, lib)
			if err != nil {
				return nil, err
			}
			if libPkg == nil || !hasCode(libPkg) {
				seen[lib] = true
				continue
			}
			if err := enqueue(lib); err != nil {
				return nil, err
			}
			queue = append(queue, lib)
		}
	}
	return out, nil
}

func hasCode(pkg *platform.PackageInfo) bool {
	for _, c := range pkg.PrimaryContainers {
		if c.HasCode {
			return true
		}
	}
	return false
}
