package main

import (
	"context"
	"fmt"

	"github.com/banksean/dexopt/internal/bgjob"
	"github.com/banksean/dexopt/internal/config"
	"github.com/banksean/dexopt/internal/dexuse"
	"github.com/banksean/dexopt/internal/platform/localplatform"
	"github.com/banksean/dexopt/internal/service"
)

// manifestValidators accepts every dex path and class-loader context:
// a standalone host has no installd to consult, so there is nothing
// further to validate beyond what the dex-use registry itself already
// checks.
type manifestValidators struct{}

func (manifestValidators) ValidateDexPath(path string) error           { return nil }
func (manifestValidators) ValidateClassLoaderContext(clc string) error { return nil }

// noopScheduler answers Schedule/Cancel without a host job scheduler
// behind it: periodic background-job scheduling is the host platform's
// responsibility, so a standalone run treats every schedule request as
// accepted and every cancel as already satisfied.
type noopScheduler struct{}

func (noopScheduler) Schedule(ctx context.Context, spec bgjob.JobSpec) error { return nil }
func (noopScheduler) Cancel(ctx context.Context) error                       { return nil }

// buildService wires a local-filesystem platform adapter, a permissive
// dex-use validator, and a no-op job scheduler into the one Service
// this process is allowed to build.
func buildService(ctx context.Context, cfg config.Config) (*service.Service, error) {
	provider, err := localplatform.Load(cfg.PlatformManifestPath)
	if err != nil {
		return nil, fmt.Errorf("loading platform manifest: %w", err)
	}

	svc, err := service.New(ctx, service.Options{
		Config:     cfg,
		Platform:   provider.Platform(),
		Validators: dexuse.Validators(manifestValidators{}),
		Scheduler:  noopScheduler{},
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}
