// Package profile implements an RAII-like scoped temporary-profile
// handle: the file is deleted on scope exit unless Commit succeeded
// first.
package profile

import (
	"context"
	"log/slog"

	"github.com/banksean/dexopt/internal/daemon"
)

// Temp represents a temporary reference profile created while planning
// one (container, ABI) pair. Its
// zero-value Path means no profile was produced.
type Temp struct {
	client daemon.Client
	Path   string
	// FinalPath is where Commit should rename the temp profile to,
	// typically the container's persistent reference-profile slot.
	FinalPath string

	committed bool
	merged    bool
}

// New wraps an already-created temp profile file at path, which will
// be committed to finalPath or deleted depending on how the caller
// calls Commit/Close.
func New(client daemon.Client, path, finalPath string) *Temp {
	return &Temp{client: client, Path: path, FinalPath: finalPath}
}

// MarkMerged records that this temp profile is the result of merging
// current-profiles into the reference profile.
func (t *Temp) MarkMerged() { t.merged = true }

// Merged reports whether MarkMerged was called.
func (t *Temp) Merged() bool { return t != nil && t.merged }

// Commit renames the temp profile into its final reference-profile
// slot. After Commit succeeds,
// Close is a no-op.
func (t *Temp) Commit(ctx context.Context) error {
	if t == nil || t.Path == "" {
		return nil
	}
	if err := t.client.CommitTmpProfile(ctx, t.Path); err != nil {
		return err
	}
	t.committed = true
	return nil
}

// Close deletes the temp profile file unless Commit already succeeded.
// Safe to call on a nil or already-committed/empty handle.
func (t *Temp) Close(ctx context.Context) {
	if t == nil || t.Path == "" || t.committed {
		return
	}
	if err := t.client.DeleteProfile(ctx, t.Path); err != nil {
		slog.WarnContext(ctx, "profile.Temp.Close: delete residual temp profile", "path", t.Path, "error", err)
	}
}
