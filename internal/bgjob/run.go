package bgjob

import (
	"context"
	"log/slog"
	"time"

	"github.com/banksean/dexopt/internal/batch"
	"github.com/banksean/dexopt/internal/history"
	"github.com/banksean/dexopt/internal/model"
	"github.com/banksean/dexopt/internal/platform"
	"github.com/banksean/dexopt/internal/reason"
)

// RunParams is one run request, whether scheduler- or caller-
// initiated. A nil Packages means "use the default selection for
// Reason"; a zero Mode/Flags means "use the reason table's defaults".
type RunParams struct {
	Reason          string
	Mode            model.CompilerMode
	Flags           model.DexoptFlags
	Packages        []string
	FollowLibraries bool
	WorkSource      string
}

func defaultRunParams() RunParams {
	return RunParams{Reason: reason.BgDexopt, WorkSource: "bg-dexopt-job"}
}

// RunResult is the outcome of one background job run.
type RunResult struct {
	Status                 string
	Main                   model.BatchResult
	Downgrade              *model.BatchResult
	FreedBytes             int64
	WallDuration           time.Duration
	PackagesDexopted       int64
	BootClasspathDependent int64
}

// Terminal run statuses, mirroring telemetry.JobStatus's values as
// plain strings so this package doesn't need telemetry for anything
// but the metrics emission itself.
const (
	JobFinished         = "JOB_FINISHED"
	AbortByCancellation = "ABORT_BY_CANCELLATION"
	AbortByAPI          = "ABORT_BY_API"
	AbortNoSpaceLeft    = "ABORT_NO_SPACE_LEFT"
	FatalError          = "FATAL_ERROR"
)

// lowStorageCriticalBytes is the threshold at or below which the run aborts
// outright rather than merely triggering the downgrade pass: the
// downgrade pass itself needs room to write new artifacts.
const lowStorageCriticalBytes = 0

func (c *Controller) runOnce(ctx context.Context, params RunParams) (result RunResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bgjob: run panicked", "panic", r)
			result = RunResult{Status: FatalError}
		}
		result.WallDuration = time.Since(start)
		c.emitMetrics(ctx, result)
		c.recordHistory(ctx, start, params.Reason, result)
	}()

	mode := params.Mode
	if mode == model.ModeUnspecified {
		m, err := c.Reasons.DefaultMode(params.Reason)
		if err != nil {
			slog.ErrorContext(ctx, "bgjob: resolve default mode failed", "reason", params.Reason, "error", err)
			return RunResult{Status: FatalError}
		}
		mode = m
	}
	flags := params.Flags
	if flags == 0 {
		flags = c.Reasons.DefaultFlags(params.Reason)
	}

	snapshot, err := c.Platform.Packages.All(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "bgjob: package snapshot failed", "error", err)
		return RunResult{Status: FatalError}
	}

	mainList := params.Packages
	if mainList == nil {
		mainList, err = c.defaultPackageList(ctx, params.Reason, snapshot)
		if err != nil {
			slog.ErrorContext(ctx, "bgjob: default package selection failed", "reason", params.Reason, "error", err)
			return RunResult{Status: FatalError}
		}
	}

	allocatable, storageErr := c.Platform.Storage.AllocatableBytes(ctx, "")
	if storageErr == nil && allocatable <= lowStorageCriticalBytes {
		return RunResult{Status: AbortNoSpaceLeft}
	}

	var downgradeResult *model.BatchResult
	if params.Reason == reason.BgDexopt && storageErr == nil && allocatable < c.Config.DowngradePassStorageOffsetBytes {
		downgradeResult = c.runDowngradePass(ctx, snapshot, mainList, params.WorkSource)
	}

	if ctx.Err() != nil {
		return RunResult{Status: c.cancellationStatus(), Downgrade: downgradeResult}
	}

	mainResult := c.Driver.Run(ctx, batch.Request{
		Packages:        mainList,
		FollowLibraries: params.FollowLibraries,
		Mode:            mode,
		Reason:          params.Reason,
		Flags:           flags,
		Pass:            model.PassMain,
		WorkSource:      params.WorkSource,
	})

	cancelled := ctx.Err() != nil
	for _, p := range mainResult.Packages {
		if p.Cancelled {
			cancelled = true
			break
		}
	}
	if cancelled {
		return RunResult{
			Status:                 c.cancellationStatus(),
			Main:                   mainResult,
			Downgrade:              downgradeResult,
			PackagesDexopted:       int64(mainResult.DexoptedCount()),
			BootClasspathDependent: bootClasspathDependentCount(&mainResult, downgradeResult),
		}
	}

	freed, err := c.Janitor.Clean(ctx)
	if err != nil {
		slog.WarnContext(ctx, "bgjob: janitor cleanup failed", "error", err)
	}

	return RunResult{
		Status:                 JobFinished,
		Main:                   mainResult,
		Downgrade:              downgradeResult,
		FreedBytes:             freed,
		PackagesDexopted:       int64(mainResult.DexoptedCount()),
		BootClasspathDependent: bootClasspathDependentCount(&mainResult, downgradeResult),
	}
}

// recordHistory persists one row per completed run. Failures to
// record are logged, not propagated: the run itself already
// happened, and losing its history entry isn't worth failing for.
func (c *Controller) recordHistory(ctx context.Context, startedAt time.Time, reasonName string, result RunResult) {
	if c.History == nil {
		return
	}
	packageCount := len(result.Main.Packages)
	if result.Downgrade != nil {
		packageCount += len(result.Downgrade.Packages)
	}
	err := c.History.Record(ctx, history.Record{
		StartedAt:     startedAt,
		Reason:        reasonName,
		Status:        result.Status,
		PackageCount:  packageCount,
		DexoptedCount: int(result.PackagesDexopted),
		WallMs:        result.WallDuration.Milliseconds(),
		FreedBytes:    result.FreedBytes,
	})
	if err != nil {
		slog.WarnContext(ctx, "bgjob: record run history failed", "error", err)
	}
}

// cancellationStatus distinguishes a scheduler-issued stop
// (OnJobStopped recorded a reason) from a plain API-cancelled context.
func (c *Controller) cancellationStatus() string {
	if c.StopReason() != "" {
		return AbortByCancellation
	}
	return AbortByAPI
}

// runDowngradePass lists inactive packages not already in the main
// pass's list and dexopts them at reason Inactive.
func (c *Controller) runDowngradePass(ctx context.Context, snapshot []platform.PackageInfo, mainList []string, workSource string) *model.BatchResult {
	inactive, err := c.selectInactivePackages(ctx, snapshot)
	if err != nil {
		slog.WarnContext(ctx, "bgjob: inactive package selection failed", "error", err)
		return nil
	}
	inMain := make(map[string]bool, len(mainList))
	for _, p := range mainList {
		inMain[p] = true
	}
	remaining := inactive[:0:0]
	for _, p := range inactive {
		if !inMain[p] {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) == 0 {
		return nil
	}

	mode, err := c.Reasons.DefaultMode(reason.Inactive)
	if err != nil {
		slog.ErrorContext(ctx, "bgjob: resolve inactive mode failed", "error", err)
		return nil
	}
	result := c.Driver.Run(ctx, batch.Request{
		Packages:   remaining,
		Mode:       mode,
		Reason:     reason.Inactive,
		Flags:      c.Reasons.DefaultFlags(reason.Inactive),
		Pass:       model.PassDowngrade,
		WorkSource: workSource,
	})
	return &result
}

// bootClasspathDependentCount counts every PERFORMED container entry
// whose actual compiler mode is one of the optimizing modes: only
// those embed a boot-image checksum dependency, unlike the cheap
// non-optimizing modes (verify/extract/assume-verified/skip), whose
// vdex-only output is boot-image-agnostic.
func bootClasspathDependentCount(results ...*model.BatchResult) int64 {
	var n int64
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, pkg := range r.Packages {
			for _, c := range pkg.Containers {
				if c.Status == model.StatusPerformed && c.ActualMode.IsOptimized() {
					n++
				}
			}
		}
	}
	return n
}
