package model

// PlannerInput is the fully-resolved set of inputs the per-container
// planner needs for one (container, ABI, target-mode) triple.
type PlannerInput struct {
	Container Container
	Abi       Abi
	// TargetMode is the mode requested before any reason-driven
	// downgrade is applied.
	TargetMode CompilerMode
	Reason     string
	Priority   PriorityClass
	Flags      DexoptFlags
	// HiddenApiPolicy is an opaque passthrough forwarded to the daemon,
	// never interpreted by the core.
	HiddenApiPolicy string
}

// PlannerResult is the outcome of planning+executing one (container,
// ABI) pair.
type PlannerResult struct {
	Container             Container
	Abi                   Abi
	Status                Status
	WallMs                int64
	CpuMs                 int64
	SizeBytes             int64
	PriorSizeBytes        int64
	Extended              ExtendedFlags
	ExternalProfileErrors []string
	// ActualMode is the mode actually used after reason-driven and
	// profile-driven downgrades; may differ from the input TargetMode.
	ActualMode CompilerMode
	// CompilationReason is the reason string recorded with the
	// compiled output, possibly suffixed "-dm".
	CompilationReason string
}

// Empty reports whether this is the empty result returned for a
// ModeNoop target.
func (r PlannerResult) Empty() bool {
	return r.Status == StatusSkipped &&
		r.WallMs == 0 && r.CpuMs == 0 && r.SizeBytes == 0 && r.PriorSizeBytes == 0 &&
		r.Extended == 0 && len(r.ExternalProfileErrors) == 0 &&
		r.ActualMode == ModeUnspecified && r.CompilationReason == ""
}

// PackageResult aggregates per-container planner results for one
// package.
type PackageResult struct {
	PackageName string
	Containers  []PlannerResult
	Cancelled   bool
}

// FinalStatus derives the worst non-skipped outcome across all
// container results. A package with only SKIPPED entries (or none at
// all) has final status SKIPPED.
func (p PackageResult) FinalStatus() Status {
	worst := StatusSkipped
	for _, c := range p.Containers {
		if c.Status.Worse(worst) {
			worst = c.Status
		}
	}
	if p.Cancelled && !worst.Worse(StatusCancelled) {
		worst = StatusCancelled
	}
	return worst
}

// BatchPass identifies which addressable pass of a background job
// batch a BatchResult describes.
type BatchPass int

const (
	PassMain BatchPass = iota
	PassDowngrade
)

// BatchResult is the outcome of running dexopt over a package list.
type BatchResult struct {
	Mode     CompilerMode
	Reason   string
	Packages []PackageResult
	Pass     BatchPass
}

// DexoptedCount returns the number of packages whose final status is
// PERFORMED, used for the metrics the background job emits.
func (b BatchResult) DexoptedCount() int {
	n := 0
	for _, p := range b.Packages {
		if p.FinalStatus() == StatusPerformed {
			n++
		}
	}
	return n
}
