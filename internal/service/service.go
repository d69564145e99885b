// Package service wires together the core collaborators — the dex-use
// registry, reason table, planner/dexopter/batch stack, janitor,
// background-job controller, query surface, and run-history store —
// into the single top-level handle the CLI and any host process build
// on. It owns the two process-wide singletons (the registry and the
// background-job controller) and refuses to construct a second one.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banksean/dexopt/internal/batch"
	"github.com/banksean/dexopt/internal/bgjob"
	"github.com/banksean/dexopt/internal/config"
	"github.com/banksean/dexopt/internal/daemon"
	"github.com/banksean/dexopt/internal/dexopter"
	"github.com/banksean/dexopt/internal/dexuse"
	"github.com/banksean/dexopt/internal/history"
	"github.com/banksean/dexopt/internal/janitor"
	"github.com/banksean/dexopt/internal/planner"
	"github.com/banksean/dexopt/internal/platform"
	"github.com/banksean/dexopt/internal/query"
	"github.com/banksean/dexopt/internal/reason"
	"github.com/banksean/dexopt/internal/telemetry"
	"go.opentelemetry.io/otel/metric"
)

// ErrAlreadyCreated is returned by New when a Service has already been
// built in this process: the registry and background-job controller
// are process-wide singletons, so a second New is a caller bug rather
// than something to paper over.
var ErrAlreadyCreated = errors.New("service: already created")

var (
	createMu sync.Mutex
	created  bool
)

// Options configures New. Platform, Validators and Scheduler must be
// supplied by the caller (cmd/dexopt builds its Platform from
// internal/platform/localplatform); everything else has a sane default.
type Options struct {
	Config     config.Config
	Platform   *platform.Platform
	Validators dexuse.Validators
	Scheduler  bgjob.Scheduler

	// Daemon overrides the dialed compiler-daemon client, primarily for
	// tests. Leave nil to dial Config.DaemonTarget.
	Daemon daemon.Client
	// Meter enables telemetry.Metrics when non-nil. Leave nil to run
	// without metrics emission (e.g. in tests).
	Meter metric.Meter
}

// Service bundles every core collaborator behind one handle.
type Service struct {
	Config   config.Config
	Platform *platform.Platform
	Daemon   daemon.Client
	Registry *dexuse.Registry
	Reasons  *reason.Table
	Planner  *planner.Planner
	Dexopter *dexopter.Dexopter
	Driver   *batch.Driver
	Janitor  *janitor.Janitor
	BgJob    *bgjob.Controller
	Query    *query.Query
	History  *history.Store
	Metrics  *telemetry.Metrics

	closeDaemon func() error
}

// New builds the one Service this process is allowed to have. A
// second call, without an intervening process restart, returns
// ErrAlreadyCreated.
func New(ctx context.Context, opts Options) (*Service, error) {
	createMu.Lock()
	defer createMu.Unlock()
	if created {
		return nil, ErrAlreadyCreated
	}

	if opts.Platform == nil {
		return nil, fmt.Errorf("service: Platform is required")
	}
	if opts.Validators == nil {
		return nil, fmt.Errorf("service: Validators is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("service: Scheduler is required")
	}

	svc, err := build(ctx, opts)
	if err != nil {
		return nil, err
	}
	created = true
	return svc, nil
}

func build(ctx context.Context, opts Options) (*Service, error) {
	cfg := opts.Config

	client := opts.Daemon
	var closeDaemon func() error
	if client == nil {
		grpcClient, err := daemon.Dial(ctx, cfg.DaemonTarget)
		if err != nil {
			return nil, fmt.Errorf("service: dial compiler daemon: %w", err)
		}
		client = grpcClient
		closeDaemon = grpcClient.Close
	}

	registry := dexuse.New(opts.Platform, opts.Validators, cfg.RegistryPersistPath, int64(cfg.RegistrySaveDebounce.Milliseconds()))
	if err := registry.Load(ctx); err != nil {
		if closeDaemon != nil {
			closeDaemon()
		}
		return nil, fmt.Errorf("service: load dex-use registry: %w", err)
	}

	reasonCfg := reason.DefaultConfig()
	reasonCfg.AllowSingleSplitPrimary = cfg.Reason.AllowSingleSplitPrimary
	reasonCfg.HiddenApiPolicy = cfg.Reason.HiddenApiPolicy
	reasonCfg.SdkSandboxIsIsolated = cfg.Reason.SdkSandboxIsIsolated
	reasons := reason.New(reasonCfg)

	plnr := planner.New(client, registry, opts.Platform, reasons)
	dex := dexopter.New(plnr, opts.Platform, registry, reasons)
	driver := batch.New(dex, opts.Platform, reasons)
	jan := janitor.New(client, opts.Platform, registry, dex)

	var metrics *telemetry.Metrics
	if opts.Meter != nil {
		m, err := telemetry.NewMetrics(opts.Meter)
		if err != nil {
			if closeDaemon != nil {
				closeDaemon()
			}
			return nil, fmt.Errorf("service: build metrics: %w", err)
		}
		metrics = m
	}

	hist, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		if closeDaemon != nil {
			closeDaemon()
		}
		return nil, fmt.Errorf("service: open history store: %w", err)
	}

	bg := bgjob.New(opts.Platform, driver, jan, registry, reasons, metrics, opts.Scheduler, cfg, hist)

	q := query.New(client, opts.Platform, registry, dex, reasons)

	return &Service{
		Config:      cfg,
		Platform:    opts.Platform,
		Daemon:      client,
		Registry:    registry,
		Reasons:     reasons,
		Planner:     plnr,
		Dexopter:    dex,
		Driver:      driver,
		Janitor:     jan,
		BgJob:       bg,
		Query:       q,
		History:     hist,
		Metrics:     metrics,
		closeDaemon: closeDaemon,
	}, nil
}

// Close flushes the dex-use registry, closes the run-history store,
// and (if this Service dialed it) closes the daemon connection.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if err := s.Registry.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush registry: %w", err))
	}
	if err := s.History.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close history: %w", err))
	}
	if s.closeDaemon != nil {
		if err := s.closeDaemon(); err != nil {
			errs = append(errs, fmt.Errorf("close daemon: %w", err))
		}
	}
	return errors.Join(errs...)
}
