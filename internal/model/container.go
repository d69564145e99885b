package model

// Container describes one dex container (an APK or JAR carrying
// managed-runtime bytecode) owned by a package.
type Container struct {
	// Path is the absolute filesystem path to the container.
	Path string
	// HasCode reports whether the container carries any dex code at all.
	HasCode bool
	// Primary is true for containers shipped inside the package (base
	// or split); false for containers the app dropped into its private
	// data directory at runtime ("secondary").
	Primary bool
	// SplitName is set only for primary containers that are splits;
	// empty for the base APK and for all secondary containers.
	SplitName string
	// ClassLoaderContext is the class-loader chain string this
	// container is loaded with. For primary containers it is derived
	// deterministically from the package manifest (see
	// primaryClassLoaderContext in internal/dexopter); for secondary containers
	// it is whatever the loading app last reported via the dex-use
	// registry, and may be empty if unknown.
	ClassLoaderContext string
	// StorageUUID identifies the storage volume this container's file
	// lives on, for allocatable-bytes queries.
	StorageUUID string
}

// Abi is a (name, ISA, is-primary) triple. A package has at least one
// ABI and exactly one of them has IsPrimaryAbi set.
type Abi struct {
	Name         string
	Isa          string
	IsPrimaryAbi bool
}

// ClassLoaderContextKind distinguishes how a primary package's manifest
// declares its class-loader chain.
type ClassLoaderContextKind int

const (
	ClcSharedClassLoader ClassLoaderContextKind = iota
	ClcIsolatedClassLoader
)

// VaryingClassLoaderContext is the sentinel string used when a
// secondary container's retained loaders disagree on class-loader
// context: the container is then non-optimizable, though
// its vdex remains usable.
const VaryingClassLoaderContext = "VARYING"

// UnsupportedClassLoaderContext is the sentinel context a loader may
// record for a secondary container. The dex-use registry's collapse
// yields it whenever any retained loader recorded it. A container with
// no retained loaders does not get this sentinel: its collapsed context
// is empty, and the visibility-filtered query drops it.
const UnsupportedClassLoaderContext = "UNSUPPORTED"
