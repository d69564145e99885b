// Package platform defines the external collaborators the dexopt core
// treats as out of scope: package metadata, user management, storage
// queries, wakelocks, hibernation, and system properties. Every core
// component takes a *platform.Platform by shared reference instead of
// reaching for a DI container.
package platform

import "context"

// PackageInfo is the host platform's package-metadata-snapshot view of
// one installed package, as consumed by the core.
type PackageInfo struct {
	Name                string
	IsSystemUI          bool
	IsLauncher          bool
	IsPlatformPackage   bool
	VMSafeMode          bool
	Debuggable          bool
	RequestsEmbeddedDex bool
	PrimaryContainers   []PrimaryContainer
	Abis                []Abi
	// UsesLibraries lists the package names of shared libraries this
	// package declares via <uses-library>, for batch expansion.
	UsesLibraries []string
	// LastActiveMs is the platform's most recent "last used" timestamp
	// for this package across all users; 0 if never used.
	LastActiveMs int64
	// IsolatedSplitLoading mirrors the manifest's
	// android:isolatedSplitLoading attribute: when false, every split's
	// class loader is shared with the base APK's, so its dexopt
	// artifacts must end up world-readable.
	IsolatedSplitLoading bool
}

// PrimaryContainer is one primary (package-shipped) container plus the
// manifest-derived data needed to compute its class-loader context.
type PrimaryContainer struct {
	Path      string
	HasCode   bool
	SplitName string // empty for the base APK
	// ParentSplit names the split this one's class loader is parented
	// under, for the isolated class-loader-context form. Empty for the
	// base APK and for shared-form packages.
	ParentSplit string
	StorageUUID string
}

// Abi mirrors model.Abi without importing the model package, to keep
// platform collaborator-facing.
type Abi struct {
	Name         string
	Isa          string
	IsPrimaryAbi bool
}

// PackageSnapshot is the host platform's package-metadata-snapshot
// query surface.
type PackageSnapshot interface {
	// Get returns the package info for name, or (nil, nil) if the
	// package is not installed.
	Get(ctx context.Context, name string) (*PackageInfo, error)
	// All returns every installed package, in a stable, deterministic
	// order.
	All(ctx context.Context) ([]PackageInfo, error)
	// LauncherPackage and SystemUIPackage return the configured package
	// name for each role, or "" if none is configured.
	LauncherPackage(ctx context.Context) (string, error)
	SystemUIPackage(ctx context.Context) (string, error)
	PlatformPackage(ctx context.Context) (string, error)
}

// UserHandle identifies one installed Android-style user profile.
type UserHandle int

// UserManager is the host platform's user-management collaborator.
type UserManager interface {
	// InstalledUsers returns every user handle the platform currently
	// has installed, used when merging "current profiles" (one per
	// installed user).
	InstalledUsers(ctx context.Context) ([]UserHandle, error)
}

// HibernationManager reports whether a package is currently dormant.
type HibernationManager interface {
	IsHibernating(ctx context.Context, pkg string, user UserHandle) (bool, error)
	// Available reports whether a hibernation manager is wired in at
	// all; when false, the dexopter's dexoptability check treats no
	// package as hibernating.
	Available() bool
}

// StorageManager answers allocatable-bytes queries for a storage
// volume, keyed by the UUID a container's file lives on.
type StorageManager interface {
	AllocatableBytes(ctx context.Context, storageUUID string) (int64, error)
}

// WakeLock is a partial wakelock keyed to a caller's work source,
// acquired for the duration of a batch run.
type WakeLock interface {
	// Acquire blocks until the lock is held and returns a release
	// function. timeout is a last-resort fuse: the platform wakelock
	// service releases the lock on its own after timeout elapses even
	// if release is never called.
	Acquire(ctx context.Context, workSource string, timeout int64) (release func(), err error)
}

// SystemProperties reads the handful of system properties the core
// consumes.
type SystemProperties interface {
	GetString(key string) string
	GetBool(key string) bool
	GetInt(key string, def int) int
}

// Clock is the time source collaborator, so planner/registry/job-
// controller logic is deterministic under test.
type Clock interface {
	NowMs() int64
}

// DataDirs resolves a package's per-user credential-encrypted (CE) and
// device-encrypted (DE) private data directories, used by the dex-use
// registry to classify a loaded path as a secondary container.
type DataDirs interface {
	CEDir(ctx context.Context, pkg string, user UserHandle) (dir, storageUUID string, err error)
	DEDir(ctx context.Context, pkg string, user UserHandle) (dir, storageUUID string, err error)
}

// FileVisibility is the tri-state result of a file visibility query:
// not found, present-but-not-world-readable, or world-readable.
type FileVisibility int

const (
	VisibilityNotFound FileVisibility = iota
	VisibilityNotOtherReadable
	VisibilityOtherReadable
)

// FileVisibilityQuerier answers the filesystem-visibility questions the
// planner and registry need.
type FileVisibilityQuerier interface {
	ProfileVisibility(ctx context.Context, path string) (FileVisibility, error)
	DexFileVisibility(ctx context.Context, path string) (FileVisibility, error)
	DmFileVisibility(ctx context.Context, path string) (FileVisibility, error)
	ArtifactsVisibility(ctx context.Context, path string) (FileVisibility, error)
}

// Platform bundles every external collaborator the core calls into,
// passed by shared reference to each component constructor.
type Platform struct {
	Packages    PackageSnapshot
	Users       UserManager
	Hibernation HibernationManager
	Storage     StorageManager
	Wake        WakeLock
	SysProps    SystemProperties
	Clock       Clock
	Visibility  FileVisibilityQuerier
	DataDirs    DataDirs
}
