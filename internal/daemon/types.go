// Package daemon defines the core's view of the compiler daemon: the
// external, out-of-scope collaborator that actually transforms dex
// containers into compiled artifacts. The core only
// issues commands and observes visibility; this package models those
// commands as a Go interface plus a gRPC-backed implementation,
// generalizing the platform's otel/grpc stack onto the one RPC peer
// the configuration names.
package daemon

import (
	"context"

	"github.com/banksean/dexopt/internal/model"
)

// ArtifactsLocation is where the compiler daemon found (or would put)
// a reusable vdex.
type ArtifactsLocation int

const (
	LocationUnknown ArtifactsLocation = iota
	LocationDalvikCache
	LocationNextToDex
	LocationDM
)

// DexoptStatus is the reply shape of get_dexopt_status.
type DexoptStatus struct {
	CompilerFilter      model.CompilerMode
	CompilationReason   string
	LocationDebugString string
}

// DexoptNeeded is the reply shape of get_dexopt_needed.
type DexoptNeeded struct {
	IsDexoptNeeded    bool
	HasDexCode        bool
	IsVdexUsable      bool
	ArtifactsLocation ArtifactsLocation
}

// OutputArtifacts describes where the daemon should write compiled
// output for one dexopt invocation, including the permission settings
// the planner derives for it.
type OutputArtifacts struct {
	OatPath       string
	VdexPath      string
	ImagePath     string // app image, optional
	OwnerUID      int
	SharedGID     int
	OtherReadable bool
	InDalvikCache bool
}

// DexoptOptions carries the small number of opaque, daemon-interpreted
// knobs the core forwards without understanding.
type DexoptOptions struct {
	HiddenApiPolicy  string
	Threads          string
	CPUSet           string
	GenerateAppImage bool
}

// DexoptRequest bundles every input to a dexopt RPC call.
type DexoptRequest struct {
	Output        OutputArtifacts
	DexPath       string
	Isa           string
	Clc           string
	Filter        model.CompilerMode
	ProfilePath   string // empty if no profile input
	InputVdexPath string // empty unless reused from a non-DM location
	DmPath        string // empty unless a DM file is visible
	Priority      model.PriorityClass
	Options       DexoptOptions
	Cancel        CancelHandle
}

// DexoptReply is the reply shape of dexopt().
type DexoptReply struct {
	Cancelled       bool
	WallMs          int64
	CpuMs           int64
	SizeBytes       int64
	SizeBeforeBytes int64
}

// MergeProfilesOptions mirrors the daemon's merge_profiles options.
type MergeProfilesOptions struct {
	ForceMerge            bool
	ForBootImage          bool
	DumpOnly              bool
	DumpClassesAndMethods bool
}

// CleanupRequest bundles the janitor's mark lists.
type CleanupRequest struct {
	ProfilesKeep         []string
	ArtifactsKeep        []string
	VdexKeep             []string
	RuntimeArtifactsKeep []string
}

// CancelHandle is a daemon-issued cancellation token for one in-flight
// dexopt call.
type CancelHandle interface {
	Cancel(ctx context.Context) error
}
