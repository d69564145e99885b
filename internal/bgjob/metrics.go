package bgjob

import (
	"context"

	"github.com/banksean/dexopt/internal/telemetry"
)

var statusToTelemetry = map[string]telemetry.JobStatus{
	JobFinished:         telemetry.JobFinished,
	AbortByCancellation: telemetry.AbortByCancellation,
	AbortByAPI:          telemetry.AbortByAPI,
	AbortNoSpaceLeft:    telemetry.AbortNoSpaceLeft,
	FatalError:          telemetry.FatalError,
}

// emitMetrics records one run's outcome. A nil c.Metrics (no telemetry
// wired in) is a no-op via telemetry.Metrics' own nil-receiver safety.
func (c *Controller) emitMetrics(ctx context.Context, result RunResult) {
	status, ok := statusToTelemetry[result.Status]
	if !ok {
		status = telemetry.FatalError
	}
	c.Metrics.RecordJobRun(ctx, status, result.PackagesDexopted, result.BootClasspathDependent, float64(result.WallDuration.Milliseconds()))
}
