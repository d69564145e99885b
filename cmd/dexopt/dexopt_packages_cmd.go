package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/banksean/dexopt/internal/batch"
	"github.com/banksean/dexopt/internal/bgjob"
	"github.com/banksean/dexopt/internal/history"
)

type DexoptPackagesCmd struct {
	Reason string `short:"r" required:"" help:"batch reason to dexopt for (e.g. first-boot, bg-dexopt)"`
}

func (c *DexoptPackagesCmd) Run(cctx *Context) error {
	ctx := context.Background()
	reasons := cctx.Service.Reasons

	mode, err := reasons.DefaultMode(c.Reason)
	if err != nil {
		return err
	}

	if !reasons.IsBatch(c.Reason) {
		return fmt.Errorf("%q is not a batch reason", c.Reason)
	}

	installed, err := cctx.Service.Platform.Packages.All(ctx)
	if err != nil {
		return fmt.Errorf("listing installed packages: %w", err)
	}
	packages := make([]string, len(installed))
	for i, pkg := range installed {
		packages[i] = pkg.Name
	}

	started := time.Now()
	result := cctx.Service.Driver.Run(ctx, batch.Request{
		Packages:        packages,
		FollowLibraries: true,
		Mode:            mode,
		Reason:          c.Reason,
		Flags:           reasons.DefaultFlags(c.Reason),
		WorkSource:      "dexopt-packages",
	})
	printBatchResult(result)

	status := bgjob.JobFinished
	for _, p := range result.Packages {
		if p.Cancelled {
			status = bgjob.AbortByAPI
			break
		}
	}
	err = cctx.Service.History.Record(ctx, history.Record{
		StartedAt:     started,
		Reason:        c.Reason,
		Status:        status,
		PackageCount:  len(result.Packages),
		DexoptedCount: result.DexoptedCount(),
		WallMs:        time.Since(started).Milliseconds(),
	})
	if err != nil {
		slog.WarnContext(ctx, "dexopt-packages: record run history failed", "error", err)
	}
	return nil
}
