// Package daemontest provides an in-process fake of daemon.Client for
// exercising the planner/dexopter/batch/janitor/query packages without
// a real compiler daemon process.
package daemontest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banksean/dexopt/internal/daemon"
	"github.com/banksean/dexopt/internal/model"
)

// Fake is a scriptable, call-recording implementation of daemon.Client.
type Fake struct {
	mu sync.Mutex

	// Status and Needed let tests script replies keyed by dex path. A
	// path missing from Status gets the zero DexoptStatus; a path
	// missing from Needed reports that dexopt is needed and that the
	// container has dex code.
	Status map[string]daemon.DexoptStatus
	Needed map[string]daemon.DexoptNeeded
	// StatusErr, keyed by dex path, makes GetDexoptStatus fail for that
	// path instead of returning Status[path], simulating a per-item
	// transport failure.
	StatusErr map[string]error
	// DeleteArtifactsBytes and DeleteRuntimeArtifactsBytes override the
	// bytes DeleteArtifacts/DeleteRuntimeArtifacts report freed; 0 keeps
	// the historical hard-coded defaults (1024/512).
	DeleteArtifactsBytes        int64
	DeleteRuntimeArtifactsBytes int64
	// MergeNonEmpty controls MergeProfiles' return value.
	MergeNonEmpty bool
	// FailCopyAndRewrite, when set, makes CopyAndRewriteProfile always
	// report no profile was produced, simulating the absence of any
	// external profile source.
	FailCopyAndRewrite bool
	// Visible controls the four visibility queries, keyed by path.
	Visible map[string]daemon.Visibility
	// FailDexopt, when set, makes Dexopt return this error instead of
	// succeeding (simulating a service-specific per-item failure).
	FailDexopt error
	// Dexopt always returns Cancelled: true when its context is done
	// or its cancellation handle has been cancelled.

	Calls       []string
	DexoptCalls []daemon.DexoptRequest
	Deleted     map[string]bool
	// LastCleanup records the mark lists passed to the most recent
	// Cleanup call, so janitor tests can assert on what was kept.
	LastCleanup daemon.CleanupRequest
	// CleanupFreedBytes controls Cleanup's return value.
	CleanupFreedBytes int64
	// LastMergeProfiles records the most recent MergeProfiles call's
	// arguments, so query tests can assert on which profiles were fed
	// into the merge.
	LastMergeProfiles MergeProfilesCall

	cancelSeq atomic.Int64
	cancelled map[string]bool
}

func New() *Fake {
	return &Fake{
		Status:    map[string]daemon.DexoptStatus{},
		Needed:    map[string]daemon.DexoptNeeded{},
		StatusErr: map[string]error{},
		Visible:   map[string]daemon.Visibility{},
		Deleted:   map[string]bool{},
		cancelled: map[string]bool{},
	}
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
}

func (f *Fake) GetDexoptStatus(ctx context.Context, dexPath, isa, clc string) (daemon.DexoptStatus, error) {
	f.record("GetDexoptStatus:" + dexPath)
	if err, ok := f.StatusErr[dexPath]; ok {
		return daemon.DexoptStatus{}, err
	}
	return f.Status[dexPath], nil
}

func (f *Fake) GetDexoptNeeded(ctx context.Context, dexPath, isa, clc string, filter model.CompilerMode, trigger model.DexoptTrigger) (daemon.DexoptNeeded, error) {
	f.record("GetDexoptNeeded:" + dexPath)
	n, ok := f.Needed[dexPath]
	if !ok {
		n = daemon.DexoptNeeded{IsDexoptNeeded: true, HasDexCode: true}
	}
	return n, nil
}

func (f *Fake) Dexopt(ctx context.Context, req daemon.DexoptRequest) (daemon.DexoptReply, error) {
	f.mu.Lock()
	f.DexoptCalls = append(f.DexoptCalls, req)
	f.mu.Unlock()
	f.record("Dexopt:" + req.DexPath)

	select {
	case <-ctx.Done():
		return daemon.DexoptReply{Cancelled: true}, nil
	default:
	}

	if req.Cancel != nil {
		if h, ok := req.Cancel.(*fakeCancelHandle); ok {
			f.mu.Lock()
			cancelled := f.cancelled[h.token]
			f.mu.Unlock()
			if cancelled {
				return daemon.DexoptReply{Cancelled: true}, nil
			}
		}
	}

	if f.FailDexopt != nil {
		return daemon.DexoptReply{}, f.FailDexopt
	}
	return daemon.DexoptReply{WallMs: 10, CpuMs: 8, SizeBytes: 4096, SizeBeforeBytes: 0}, nil
}

type fakeCancelHandle struct {
	fake  *Fake
	token string
}

func (h *fakeCancelHandle) Cancel(ctx context.Context) error {
	h.fake.mu.Lock()
	defer h.fake.mu.Unlock()
	h.fake.cancelled[h.token] = true
	return nil
}

func (f *Fake) CreateCancellationSignal(ctx context.Context) (daemon.CancelHandle, error) {
	token := fmt.Sprintf("tok-%d", f.cancelSeq.Add(1))
	return &fakeCancelHandle{fake: f, token: token}, nil
}

func (f *Fake) visibility(path string) daemon.Visibility {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.Visible[path]; ok {
		return v
	}
	return daemon.VisibilityNotFound
}

func (f *Fake) GetProfileVisibility(ctx context.Context, path string) (daemon.Visibility, error) {
	f.record("GetProfileVisibility:" + path)
	return f.visibility(path), nil
}
func (f *Fake) GetDexFileVisibility(ctx context.Context, path string) (daemon.Visibility, error) {
	f.record("GetDexFileVisibility:" + path)
	return f.visibility(path), nil
}
func (f *Fake) GetDmFileVisibility(ctx context.Context, path string) (daemon.Visibility, error) {
	f.record("GetDmFileVisibility:" + path)
	return f.visibility(path), nil
}
func (f *Fake) GetArtifactsVisibility(ctx context.Context, path string) (daemon.Visibility, error) {
	f.record("GetArtifactsVisibility:" + path)
	return f.visibility(path), nil
}

func (f *Fake) CopyAndRewriteProfile(ctx context.Context, src, out, dexPath string) (bool, error) {
	f.record("CopyAndRewriteProfile:" + src)
	if f.FailCopyAndRewrite {
		return false, nil
	}
	return src != "", nil
}

func (f *Fake) IsProfileUsable(ctx context.Context, profilePath, dexPath string) (bool, error) {
	f.record("IsProfileUsable:" + profilePath)
	return f.visibility(profilePath) != daemon.VisibilityNotFound, nil
}

// MergeProfilesCall snapshots one MergeProfiles invocation's inputs.
type MergeProfilesCall struct {
	Current  []string
	Ref      string
	DexPaths []string
	Opts     daemon.MergeProfilesOptions
}

func (f *Fake) MergeProfiles(ctx context.Context, current []string, ref string, out string, dexPaths []string, opts daemon.MergeProfilesOptions) (bool, error) {
	f.mu.Lock()
	f.LastMergeProfiles = MergeProfilesCall{Current: current, Ref: ref, DexPaths: dexPaths, Opts: opts}
	f.mu.Unlock()
	f.record("MergeProfiles:" + out)
	return f.MergeNonEmpty, nil
}

func (f *Fake) CommitTmpProfile(ctx context.Context, tmpRef string) error {
	f.record("CommitTmpProfile:" + tmpRef)
	return nil
}

func (f *Fake) DeleteProfile(ctx context.Context, path string) error {
	f.mu.Lock()
	f.Deleted[path] = true
	f.mu.Unlock()
	f.record("DeleteProfile:" + path)
	return nil
}

func (f *Fake) DeleteArtifacts(ctx context.Context, path string) (int64, error) {
	f.mu.Lock()
	f.Deleted[path] = true
	f.mu.Unlock()
	f.record("DeleteArtifacts:" + path)
	if f.DeleteArtifactsBytes != 0 {
		return f.DeleteArtifactsBytes, nil
	}
	return 1024, nil
}

func (f *Fake) DeleteRuntimeArtifacts(ctx context.Context, path string) (int64, error) {
	f.mu.Lock()
	f.Deleted[path] = true
	f.mu.Unlock()
	f.record("DeleteRuntimeArtifacts:" + path)
	if f.DeleteRuntimeArtifactsBytes != 0 {
		return f.DeleteRuntimeArtifactsBytes, nil
	}
	return 512, nil
}

func (f *Fake) Cleanup(ctx context.Context, req daemon.CleanupRequest) (int64, error) {
	f.mu.Lock()
	f.LastCleanup = req
	f.mu.Unlock()
	f.record("Cleanup")
	if f.CleanupFreedBytes != 0 {
		return f.CleanupFreedBytes, nil
	}
	return 2048, nil
}

var _ daemon.Client = (*Fake)(nil)
