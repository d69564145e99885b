package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/banksean/dexopt/internal/bgjob"
	"github.com/banksean/dexopt/internal/reason"
)

type BgDexoptJobCmd struct {
	Enable  bool `help:"schedule the periodic background job"`
	Disable bool `help:"cancel the periodic schedule without running anything"`
	Cancel  bool `help:"cancel an in-flight run"`
}

var errMutuallyExclusiveBgJobFlags = errors.New("bg-dexopt-job: pass at most one of --enable, --disable, --cancel")

func (c *BgDexoptJobCmd) Run(cctx *Context) error {
	ctx := context.Background()
	chosen := 0
	for _, b := range []bool{c.Enable, c.Disable, c.Cancel} {
		if b {
			chosen++
		}
	}
	if chosen > 1 {
		return errMutuallyExclusiveBgJobFlags
	}

	ctrl := cctx.Service.BgJob
	switch {
	case c.Enable:
		outcome, err := ctrl.Schedule(ctx, nil)
		if err != nil {
			return err
		}
		fmt.Println(outcome)
		return nil
	case c.Disable:
		return ctrl.Scheduler.Cancel(ctx)
	case c.Cancel:
		ctrl.OnJobStopped("cmdline-cancel")
		fmt.Println("cancelled")
		return nil
	default:
		future := ctrl.Start(ctx, bgjob.RunParams{Reason: reason.BgDexopt, WorkSource: "bg-dexopt-job"})
		result := <-future
		fmt.Printf("status=%s freed_bytes=%d packages_dexopted=%d wall=%s\n",
			result.Status, result.FreedBytes, result.PackagesDexopted, result.WallDuration)
		return nil
	}
}
