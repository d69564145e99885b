package batch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/banksean/dexopt/internal/dexopter"
	"github.com/banksean/dexopt/internal/model"
	"github.com/banksean/dexopt/internal/platform"
	"github.com/banksean/dexopt/internal/reason"
)

// ProgressFunc is invoked as packages complete: (current, total), with
// an initial (0, total) notification sent before any completion event.
type ProgressFunc func(current, total int)

// DoneCallback receives the finished batch result. When OnlyOnUpdates
// is set, Fn is only invoked with a result view filtered down to
// packages whose final status is PERFORMED, and is skipped entirely
// when that filtered view is empty.
type DoneCallback struct {
	Fn            func(model.BatchResult)
	OnlyOnUpdates bool
}

// Request is one batch-dexopt invocation.
type Request struct {
	Packages        []string
	FollowLibraries bool
	Mode            model.CompilerMode
	Reason          string
	Flags           model.DexoptFlags
	Pass            model.BatchPass
	Progress        ProgressFunc
	DoneCallbacks   []DoneCallback
	// WorkSource names the caller for the duration wakelock.
	WorkSource string
}

// Driver fans a batch request out across a bounded worker pool, one
// task per package, honoring the per-reason concurrency the reason
// table configures.
type Driver struct {
	Dexopter *dexopter.Dexopter
	Platform *platform.Platform
	Reasons  *reason.Table
}

// New constructs a Driver.
func New(d *dexopter.Dexopter, plat *platform.Platform, reasons *reason.Table) *Driver {
	return &Driver{Dexopter: d, Platform: plat, Reasons: reasons}
}

// wakeLockTimeoutMs is the last-resort fuse duration for the batch
// driver's wakelock: long enough that only a truly stuck run would
// ever hit it.
const wakeLockTimeoutMs = 10 * 60 * 1000

// Run expands req's package list, fans out one task per package across
// a worker pool sized by the reason table, and invokes progress and
// done callbacks as work completes.
func (d *Driver) Run(ctx context.Context, req Request) model.BatchResult {
	if d.Platform.Wake != nil {
		release, err := d.Platform.Wake.Acquire(ctx, req.WorkSource, wakeLockTimeoutMs)
		if err != nil {
			slog.WarnContext(ctx, "batch: wakelock acquire failed", "error", err)
		} else {
			defer release()
		}
	}

	packages, err := expandPackageList(ctx, d.Platform, d.Dexopter, req.Packages, req.FollowLibraries)
	if err != nil {
		slog.ErrorContext(ctx, "batch: package-list expansion failed", "error", err)
		packages = nil
	}

	total := len(packages)
	results := make([]model.PackageResult, total)

	if req.Progress != nil {
		req.Progress(0, total)
	}

	pool := newWorkerPool(d.Reasons.Concurrency(req.Reason))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)

	for i, pkgName := range packages {
		i, pkgName := i, pkgName
		wg.Add(1)
		go func() {
			defer wg.Done()
			taskCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			err := pool.run(taskCtx, func() {
				result, err := d.Dexopter.Dexopt(taskCtx, dexopter.Request{
					PackageName:      pkgName,
					Mode:             req.Mode,
					Reason:           req.Reason,
					Priority:         model.PriorityBackground,
					Flags:            req.Flags,
					IncludeSecondary: true,
				})
				if err != nil {
					slog.ErrorContext(taskCtx, "batch: dexopt failed", "pkg", pkgName, "error", err)
					result = model.PackageResult{PackageName: pkgName}
				}
				mu.Lock()
				results[i] = result
				done++
				current := done
				mu.Unlock()
				if req.Progress != nil {
					req.Progress(current, total)
				}
			})
			if err != nil {
				mu.Lock()
				results[i] = model.PackageResult{PackageName: pkgName, Cancelled: true}
				done++
				current := done
				mu.Unlock()
				if req.Progress != nil {
					req.Progress(current, total)
				}
			}
		}()
	}
	wg.Wait()

	batchResult := model.BatchResult{
		Mode:     req.Mode,
		Reason:   req.Reason,
		Packages: results,
		Pass:     req.Pass,
	}

	d.invokeDoneCallbacks(req.DoneCallbacks, batchResult)
	return batchResult
}

// invokeDoneCallbacks runs every registered callback in FIFO order. A
// panicking callback is recovered and logged so it cannot affect the
// batch result or stop the remaining callbacks from running.
func (d *Driver) invokeDoneCallbacks(callbacks []DoneCallback, result model.BatchResult) {
	for _, cb := range callbacks {
		view := result
		if cb.OnlyOnUpdates {
			filtered := make([]model.PackageResult, 0, len(result.Packages))
			for _, p := range result.Packages {
				if p.FinalStatus() == model.StatusPerformed {
					filtered = append(filtered, p)
				}
			}
			if len(filtered) == 0 {
				continue
			}
			view.Packages = filtered
		}
		d.invokeOne(cb.Fn, view)
	}
}

func (d *Driver) invokeOne(fn func(model.BatchResult), view model.BatchResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("batch: done-callback panicked", "panic", r)
		}
	}()
	fn(view)
}
