package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/banksean/dexopt/internal/bgjob"
	"github.com/banksean/dexopt/internal/config"
	"github.com/banksean/dexopt/internal/daemon/daemontest"
	"github.com/banksean/dexopt/internal/platform/platformtest"
)

type stubValidators struct{}

func (stubValidators) ValidateDexPath(path string) error           { return nil }
func (stubValidators) ValidateClassLoaderContext(clc string) error { return nil }

type stubScheduler struct{}

func (stubScheduler) Schedule(ctx context.Context, spec bgjob.JobSpec) error { return nil }
func (stubScheduler) Cancel(ctx context.Context) error                       { return nil }

// resetSingleton clears the package-level "already created" guard so
// each test starts from a clean slate; New itself never exposes a way
// to do this, by design.
func resetSingleton(t *testing.T) {
	t.Helper()
	clear := func() {
		createMu.Lock()
		created = false
		createMu.Unlock()
	}
	clear()
	t.Cleanup(clear)
}

func testOptions(t *testing.T) Options {
	t.Helper()
	plat, _, _, _, _ := platformtest.NewPlatform()
	cfg := config.Default()
	cfg.HistoryDBPath = filepath.Join(t.TempDir(), "history.db")
	return Options{
		Config:     cfg,
		Platform:   plat,
		Validators: stubValidators{},
		Scheduler:  stubScheduler{},
		Daemon:     daemontest.New(),
	}
}

func TestNewBuildsService(t *testing.T) {
	resetSingleton(t)
	svc, err := New(context.Background(), testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close(context.Background())

	if svc.Registry == nil || svc.Reasons == nil || svc.Planner == nil || svc.Dexopter == nil ||
		svc.Driver == nil || svc.Janitor == nil || svc.BgJob == nil || svc.Query == nil || svc.History == nil {
		t.Fatalf("Service has a nil collaborator: %+v", svc)
	}
}

func TestNewRejectsSecondCall(t *testing.T) {
	resetSingleton(t)
	svc, err := New(context.Background(), testOptions(t))
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	defer svc.Close(context.Background())

	_, err = New(context.Background(), testOptions(t))
	if !errors.Is(err, ErrAlreadyCreated) {
		t.Fatalf("second New err = %v, want ErrAlreadyCreated", err)
	}
}

func TestNewRequiresPlatform(t *testing.T) {
	resetSingleton(t)
	opts := testOptions(t)
	opts.Platform = nil
	if _, err := New(context.Background(), opts); err == nil {
		t.Fatalf("expected an error for nil Platform")
	}
}

func TestNewRequiresValidatorsAndScheduler(t *testing.T) {
	resetSingleton(t)
	opts := testOptions(t)
	opts.Validators = nil
	if _, err := New(context.Background(), opts); err == nil {
		t.Fatalf("expected an error for nil Validators")
	}

	resetSingleton(t)
	opts = testOptions(t)
	opts.Scheduler = nil
	if _, err := New(context.Background(), opts); err == nil {
		t.Fatalf("expected an error for nil Scheduler")
	}
}
