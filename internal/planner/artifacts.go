package planner

import (
	"github.com/banksean/dexopt/internal/daemon"
	"github.com/banksean/dexopt/internal/model"
)

// OutputArtifactsFor derives the output-artifacts descriptor and
// permission settings for one dexopt invocation: directories are always
// owner=system with execute-only access for others, while files use the
// shared GID and the can-be-public bit.
func OutputArtifactsFor(c model.Container, abi model.Abi, pkgCtx PackageContext, canBePublic bool, needed daemon.DexoptNeeded) daemon.OutputArtifacts {
	inDalvikCache := needed.ArtifactsLocation == daemon.LocationDalvikCache

	oat := OatPathFor(c, abi, inDalvikCache)
	vdex := VdexPathFor(c, abi, inDalvikCache)

	return daemon.OutputArtifacts{
		OatPath:       oat,
		VdexPath:      vdex,
		OwnerUID:      systemOwnerUID,
		SharedGID:     pkgCtx.SharedGID,
		OtherReadable: canBePublic,
		InDalvikCache: inDalvikCache,
	}
}

// systemOwnerUID is the fixed host-platform UID that owns every
// dexopt output directory.
const systemOwnerUID = 1000

// OatPathFor derives the oat-file path for c/abi at the given
// location, shared with the janitor so marking and writing agree on
// the same naming scheme.
func OatPathFor(c model.Container, abi model.Abi, inDalvikCache bool) string {
	if inDalvikCache {
		return dalvikCachePath(c, abi) + ".oat"
	}
	return c.Path + "-" + abi.Name + ".odex"
}

// VdexPathFor derives the vdex-file path for c/abi at the given
// location, shared with the janitor.
func VdexPathFor(c model.Container, abi model.Abi, inDalvikCache bool) string {
	if inDalvikCache {
		return dalvikCachePath(c, abi) + ".vdex"
	}
	return c.Path + "-" + abi.Name + ".vdex"
}

func dalvikCachePath(c model.Container, abi model.Abi) string {
	return "/data/dalvik-cache/" + abi.Isa + flattenPath(c.Path)
}

func flattenPath(path string) string {
	out := make([]byte, 0, len(path)+1)
	out = append(out, '@')
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			out = append(out, '@')
		} else {
			out = append(out, path[i])
		}
	}
	return string(out)
}
