package daemon

import (
	"context"

	"github.com/banksean/dexopt/internal/model"
	"github.com/banksean/dexopt/internal/platform"
)

// Visibility reuses platform.FileVisibility: the daemon's own
// get_*_visibility replies answer the same three-state
// question ("not found" / "present, not world-readable" / "world
// readable") as the platform's independent filesystem-visibility
// collaborator, just scoped to daemon-owned profile/artifact files
// instead of raw dex/DM files.
type Visibility = platform.FileVisibility

const (
	VisibilityNotFound         = platform.VisibilityNotFound
	VisibilityNotOtherReadable = platform.VisibilityNotOtherReadable
	VisibilityOtherReadable    = platform.VisibilityOtherReadable
)

// Client is the core's view of the compiler daemon's RPC surface.
// Errors returned by implementations must already be classified by the
// caller convention: transport failures and unrecognized enum values
// are internal invariant violations (the caller aborts the whole
// operation), while per-item compiler failures are service-specific
// and recorded as a FAILED entry by the planner.
type Client interface {
	GetDexoptStatus(ctx context.Context, dexPath, isa, clc string) (DexoptStatus, error)
	GetDexoptNeeded(ctx context.Context, dexPath, isa, clc string, filter model.CompilerMode, trigger model.DexoptTrigger) (DexoptNeeded, error)
	Dexopt(ctx context.Context, req DexoptRequest) (DexoptReply, error)

	CreateCancellationSignal(ctx context.Context) (CancelHandle, error)

	GetProfileVisibility(ctx context.Context, path string) (Visibility, error)
	GetDexFileVisibility(ctx context.Context, path string) (Visibility, error)
	GetDmFileVisibility(ctx context.Context, path string) (Visibility, error)
	GetArtifactsVisibility(ctx context.Context, path string) (Visibility, error)

	CopyAndRewriteProfile(ctx context.Context, src, out, dexPath string) (bool, error)
	IsProfileUsable(ctx context.Context, profilePath, dexPath string) (bool, error)
	MergeProfiles(ctx context.Context, current []string, ref string, out string, dexPaths []string, opts MergeProfilesOptions) (nonEmpty bool, err error)
	CommitTmpProfile(ctx context.Context, tmpRef string) error
	DeleteProfile(ctx context.Context, path string) error
	DeleteArtifacts(ctx context.Context, path string) (freedBytes int64, err error)
	DeleteRuntimeArtifacts(ctx context.Context, path string) (freedBytes int64, err error)

	Cleanup(ctx context.Context, req CleanupRequest) (freedBytes int64, err error)
}
