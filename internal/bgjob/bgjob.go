// Package bgjob implements the background job controller: a periodic,
// constraint-gated dexopt run that the scheduler starts (or a caller
// starts manually), with a storage-pressure downgrade pass ahead of
// the main pass and a janitor sweep after it.
package bgjob

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banksean/dexopt/internal/batch"
	"github.com/banksean/dexopt/internal/config"
	"github.com/banksean/dexopt/internal/dexuse"
	"github.com/banksean/dexopt/internal/history"
	"github.com/banksean/dexopt/internal/janitor"
	"github.com/banksean/dexopt/internal/platform"
	"github.com/banksean/dexopt/internal/reason"
	"github.com/banksean/dexopt/internal/telemetry"
)

// State is the controller's run state.
type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "RUNNING"
	}
	return "IDLE"
}

// minPeriodFloor is the shortest period schedule() will ever accept,
// regardless of config: the job is background maintenance, never
// more frequent than daily.
const minPeriodFloor = 24 * time.Hour

// JobSpec is the plain, scheduler-agnostic description of the periodic
// job schedule() builds. RequireStorageNotLow and RetryPolicy are
// reserved for the controller's own logic: an override that sets
// either is rejected.
type JobSpec struct {
	MinPeriod            time.Duration
	RequireDeviceIdle    bool
	RequireCharging      bool
	RequireBatteryNotLow bool
	// RequireStorageNotLow must stay false: the controller runs its own
	// storage-pressure downgrade pass instead of deferring the whole job.
	RequireStorageNotLow bool
	// RetryPolicy must stay nil: retry/backoff policy is the
	// controller's to decide, via OnJobStopped's return value.
	RetryPolicy *RetryPolicy
}

// RetryPolicy is the reschedule policy the controller hands back after
// a stopped run, so the scheduler knows how soon to try again.
type RetryPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy is the policy returned by OnJobStopped: doubling
// backoff from one minute up to minPeriodFloor (one day), so a flapping
// job backs off but never waits longer than the shortest period
// Schedule accepts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialBackoff: time.Minute,
		MaxBackoff:     minPeriodFloor,
		Multiplier:     2.0,
	}
}

// ErrReservedConstraint is returned by Schedule when an override sets
// RequireStorageNotLow: that constraint belongs to the controller.
var ErrReservedConstraint = errors.New("bgjob: storage-not-low constraint is reserved for the controller")

// ErrRetryPolicyReserved is returned by Schedule when an override sets
// a RetryPolicy: retry/backoff policy belongs to the controller.
var ErrRetryPolicyReserved = errors.New("bgjob: retry/backoff policy is reserved for the controller")

// Scheduler is the host platform's periodic-job collaborator. New and
// scheduler.Schedule/Cancel are the only surface the controller needs;
// the platform decides how a JobSpec maps onto its own job system.
type Scheduler interface {
	Schedule(ctx context.Context, spec JobSpec) error
	Cancel(ctx context.Context) error
}

// ScheduleOutcome reports what schedule() actually did.
type ScheduleOutcome string

const (
	ScheduleOK                ScheduleOutcome = "SCHEDULED"
	ScheduleDisabledBySysprop ScheduleOutcome = "DISABLED_BY_SYSPROP"
)

// OverrideFunc lets a caller mutate the job spec schedule() builds
// before it is handed to the scheduler.
type OverrideFunc func(*JobSpec)

// Controller owns the single background-job run slot: only one run
// goes at a time, whether scheduler-initiated (OnJobStarted) or
// manually triggered (Start).
type Controller struct {
	Platform  *platform.Platform
	Driver    *batch.Driver
	Janitor   *janitor.Janitor
	Registry  *dexuse.Registry
	Reasons   *reason.Table
	Metrics   *telemetry.Metrics
	Scheduler Scheduler
	Config    config.Config
	// History records a row per completed run, if non-nil.
	History *history.Store

	mu         sync.Mutex
	state      State
	cancel     context.CancelFunc
	waiters    []chan RunResult
	stopReason string
}

// New constructs a Controller. hist may be nil, in which case runs
// are not persisted to a history log.
func New(plat *platform.Platform, driver *batch.Driver, jan *janitor.Janitor, registry *dexuse.Registry, reasons *reason.Table, metrics *telemetry.Metrics, scheduler Scheduler, cfg config.Config, hist *history.Store) *Controller {
	return &Controller{
		Platform:  plat,
		Driver:    driver,
		Janitor:   jan,
		Registry:  registry,
		Reasons:   reasons,
		Metrics:   metrics,
		Scheduler: scheduler,
		Config:    cfg,
		History:   hist,
	}
}

// State reports whether a run is currently in flight.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Schedule builds the periodic job requiring device-idle, charging,
// and battery-not-low, applies override (if any), and hands the
// result to the platform scheduler. A disabled system property
// short-circuits before override is even consulted.
func (c *Controller) Schedule(ctx context.Context, override OverrideFunc) (ScheduleOutcome, error) {
	if c.Platform.SysProps.GetBool("pm.dexopt.disable_bg_dexopt") {
		return ScheduleDisabledBySysprop, nil
	}

	period := c.Config.BackgroundJobMinPeriod
	if period < minPeriodFloor {
		period = minPeriodFloor
	}
	spec := JobSpec{
		MinPeriod:            period,
		RequireDeviceIdle:    true,
		RequireCharging:      true,
		RequireBatteryNotLow: true,
	}
	if override != nil {
		override(&spec)
		if spec.RequireStorageNotLow {
			return "", ErrReservedConstraint
		}
		if spec.RetryPolicy != nil {
			return "", ErrRetryPolicyReserved
		}
	}
	if err := c.Scheduler.Schedule(ctx, spec); err != nil {
		return "", err
	}
	return ScheduleOK, nil
}

// Start manually triggers a run with params. If a run is already in
// flight, the returned future receives the existing run's result
// instead of a second run being started.
func (c *Controller) Start(ctx context.Context, params RunParams) <-chan RunResult {
	return c.beginRun(ctx, params)
}

// OnJobStarted is the scheduler-initiated entry point: builds the
// default bg-dexopt params, lets override replace the package list
// and/or batch params, but never the reason, then begins a run (or
// joins the one already in flight).
func (c *Controller) OnJobStarted(ctx context.Context, override func(*RunParams)) <-chan RunResult {
	params := defaultRunParams()
	if override != nil {
		override(&params)
		params.Reason = reason.BgDexopt
	}
	return c.beginRun(ctx, params)
}

func (c *Controller) beginRun(ctx context.Context, params RunParams) <-chan RunResult {
	future := make(chan RunResult, 1)
	c.mu.Lock()
	if c.state == StateRunning {
		c.waiters = append(c.waiters, future)
		c.mu.Unlock()
		return future
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.state = StateRunning
	c.cancel = cancel
	c.stopReason = ""
	c.waiters = []chan RunResult{future}
	c.mu.Unlock()

	go func() {
		result := c.runOnce(runCtx, params)
		cancel()
		c.mu.Lock()
		c.state = StateIdle
		c.cancel = nil
		waiters := c.waiters
		c.waiters = nil
		c.mu.Unlock()
		for _, w := range waiters {
			w <- result
			close(w)
		}
	}()
	return future
}

// OnJobStopped records reason and cancels the in-flight run, if any.
// Always returns the default reschedule policy: the scheduler decides
// when to call again, the controller only ever hands back one policy.
func (c *Controller) OnJobStopped(reason string) RetryPolicy {
	c.mu.Lock()
	c.stopReason = reason
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return DefaultRetryPolicy()
}

// StopReason returns the reason passed to the most recent OnJobStopped
// call, or "" if none occurred since the last run began.
func (c *Controller) StopReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopReason
}
