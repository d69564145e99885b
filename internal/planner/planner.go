// Package planner implements the per-container planner: the core decision logic that turns one (container, ABI,
// target-mode) triple into a single compiler-daemon invocation (or a
// documented reason to skip one).
package planner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/banksean/dexopt/internal/daemon"
	"github.com/banksean/dexopt/internal/dexuse"
	"github.com/banksean/dexopt/internal/model"
	"github.com/banksean/dexopt/internal/platform"
	"github.com/banksean/dexopt/internal/profile"
	"github.com/banksean/dexopt/internal/reason"
)

// PackageContext is the owning-package facts the planner needs beyond
// what model.PlannerInput already carries: system-UI/launcher overrides, VM-safe-mode, embedded-dex.
type PackageContext struct {
	PackageName         string
	IsSystemUIPackage   bool
	IsLauncherPackage   bool
	VMSafeMode          bool
	Debuggable          bool
	RequestsEmbeddedDex bool
	// SharedGID is the group used for "can be public" output permission
	// settings.
	SharedGID int
	// SharedRequired means the owning package's class-loader context is
	// shared (not isolated): artifacts for this container must end up
	// world-readable if profile-guided at all.
	SharedRequired bool
}

// SharedFilterFallback is the configured compiler mode used when a
// shared-required container's profile-guided mode must downgrade and
// no profile could be produced, the configured compiler filter for shared-required containers.
const SharedFilterFallback = model.ModeSpeed

// Planner holds the collaborators C3 is built with: the compiler
// daemon, the dex-use registry (Plan itself does not consult it), the
// platform collaborators (including the system properties the
// system-UI mode override is read from), and the reason table (for the
// install-reason check on the recorded compilation reason).
type Planner struct {
	Daemon   daemon.Client
	Registry *dexuse.Registry
	Platform *platform.Platform
	Reasons  *reason.Table
}

// New constructs a Planner.
func New(client daemon.Client, registry *dexuse.Registry, plat *platform.Platform, reasons *reason.Table) *Planner {
	return &Planner{Daemon: client, Registry: registry, Platform: plat, Reasons: reasons}
}

// Plan executes the full C3 decision sequence for one (container, ABI)
// pair. ctx's cancellation is wired to the
// daemon-issued cancellation handle before the dexopt call.
func (p *Planner) Plan(ctx context.Context, in model.PlannerInput, pkgCtx PackageContext) model.PlannerResult {
	result := model.PlannerResult{Container: in.Container, Abi: in.Abi}

	mode := p.adjustMode(in, pkgCtx)
	if mode == model.ModeNoop {
		result.Status = model.StatusSkipped
		return result
	}

	var profileState profileState
	if mode.IsProfileGuided() {
		var downgraded bool
		mode, profileState, downgraded = p.selectProfile(ctx, in, pkgCtx, mode)
		if downgraded && mode.IsProfileGuided() {
			// Invariant: after a profile-guided downgrade, the mode is
			// no longer profile-guided with a null profile.
			panic("planner: profile-guided mode survived downgrade with no profile")
		}
	}
	defer profileState.temp.Close(ctx)

	canBePublic := p.canBePublic(ctx, in, mode, profileState)
	needsToBeShared := pkgCtx.SharedRequired
	if needsToBeShared && !canBePublic {
		slog.WarnContext(ctx, "planner: shared-required container cannot be made public",
			"pkg", pkgCtx.PackageName, "path", in.Container.Path)
	}

	trigger := p.dexoptTrigger(in.Flags, profileState.merged, needsToBeShared, canBePublic)

	needed, err := p.Daemon.GetDexoptNeeded(ctx, in.Container.Path, in.Abi.Isa, in.Container.ClassLoaderContext, mode, trigger)
	if err != nil {
		slog.ErrorContext(ctx, "planner: GetDexoptNeeded failed", "path", in.Container.Path, "error", err)
		result.Status = model.StatusFailed
		return result
	}
	if !needed.HasDexCode {
		result.Extended |= model.ExtNoDexCode
		result.Status = model.StatusSkipped
		return result
	}
	if !needed.IsDexoptNeeded {
		result.Status = model.StatusSkipped
		return result
	}

	if in.Flags.Has(model.FlagSkipIfStorageLow) {
		allocatable, err := p.Platform.Storage.AllocatableBytes(ctx, in.Container.StorageUUID)
		if err == nil && allocatable <= 0 {
			result.Extended |= model.ExtStorageLow
			result.Status = model.StatusSkipped
			return result
		}
	}

	reply, compilationReason, ok := p.invoke(ctx, in, pkgCtx, mode, needed, profileState, canBePublic)
	if !ok {
		result.Status = model.StatusFailed
		return result
	}

	result.ActualMode = mode
	result.CompilationReason = compilationReason
	result.WallMs = reply.WallMs
	result.CpuMs = reply.CpuMs
	result.SizeBytes = reply.SizeBytes
	result.PriorSizeBytes = reply.SizeBeforeBytes

	if reply.Cancelled {
		result.Status = model.StatusCancelled
		return result
	}

	p.postSuccess(ctx, in, profileState)
	result.Status = model.StatusPerformed
	return result
}

// adjustMode applies reason-driven, monotonic downgrade-only mode
// adjustment.
func (p *Planner) adjustMode(in model.PlannerInput, pkgCtx PackageContext) model.CompilerMode {
	mode := in.TargetMode

	if pkgCtx.IsSystemUIPackage {
		if override := p.Platform.SysProps.GetString("dalvik.vm.systemuicompilerfilter"); override != "" {
			if m, ok := parseMode(override); ok {
				mode = m
			}
		}
	} else if pkgCtx.IsLauncherPackage {
		mode = model.ModeSpeedProfile
	}

	if pkgCtx.VMSafeMode || pkgCtx.Debuggable {
		mode = mode.SafeModeEquivalent()
	}
	if in.Container.ClassLoaderContext == "" && mode.IsOptimized() {
		mode = model.ModeVerify
	}
	if pkgCtx.RequestsEmbeddedDex && mode.IsOptimized() {
		mode = model.ModeVerify
	}
	if in.Flags.Has(model.FlagIgnoreProfile) && mode.IsProfileGuided() {
		mode = model.ModeVerify
	}
	return mode
}

func parseMode(s string) (model.CompilerMode, bool) {
	for _, m := range []model.CompilerMode{
		model.ModeSkip, model.ModeAssumeVerified, model.ModeExtract, model.ModeVerify,
		model.ModeSpaceProfile, model.ModeSpace, model.ModeSpeedProfile, model.ModeSpeed,
		model.ModeEverythingProfile, model.ModeEverything,
	} {
		if m.String() == s {
			return m, true
		}
	}
	return model.ModeUnspecified, false
}

type profileState struct {
	temp               *profile.Temp
	path               string
	otherReadable      bool
	merged             bool
	externalProfileErr string
}

// selectProfile resolves the profile to compile against. Returns the possibly
// downgraded mode, the resolved profile state, and whether a downgrade
// occurred.
func (p *Planner) selectProfile(ctx context.Context, in model.PlannerInput, pkgCtx PackageContext, mode model.CompilerMode) (model.CompilerMode, profileState, bool) {
	var state profileState

	refPath := ReferenceProfilePath(in.Container)
	tmpPath := tempProfilePath(in.Container)

	if pkgCtx.SharedRequired {
		ok := p.initFromExternal(ctx, in, refPath, tmpPath, &state)
		if !ok {
			return p.downgradeNoProfile(mode, pkgCtx), state, true
		}
		return mode, state, false
	}

	usable := false
	if vis, err := p.Daemon.GetProfileVisibility(ctx, refPath); err == nil && vis != daemon.VisibilityNotFound {
		if ok, err := p.Daemon.IsProfileUsable(ctx, refPath, in.Container.Path); err == nil && ok {
			usable = true
		}
	}
	if usable {
		state.path = refPath
		state.otherReadable = false
	} else {
		p.initFromExternal(ctx, in, refPath, tmpPath, &state)
	}

	current := p.currentProfilePaths(ctx, in.Container)
	baseline := state.path
	mergeOut := tmpPath
	nonEmpty, err := p.Daemon.MergeProfiles(ctx, current, baseline, mergeOut, []string{in.Container.Path}, daemon.MergeProfilesOptions{})
	if err == nil && nonEmpty {
		state.temp = profile.New(p.Daemon, mergeOut, refPath)
		state.temp.MarkMerged()
		state.path = mergeOut
		state.otherReadable = false
		state.merged = true
	}

	if state.path == "" {
		return p.downgradeNoProfile(mode, pkgCtx), state, true
	}
	return mode, state, false
}

func (p *Planner) initFromExternal(ctx context.Context, in model.PlannerInput, refPath, tmpPath string, state *profileState) bool {
	prebuilt := prebuiltProfilePath(in.Container)
	if ok, err := p.Daemon.CopyAndRewriteProfile(ctx, prebuilt, tmpPath, in.Container.Path); err == nil && ok {
		state.temp = profile.New(p.Daemon, tmpPath, refPath)
		state.path = tmpPath
		state.otherReadable = true
		return true
	}

	dmPath := dmProfilePath(in.Container)
	if vis, err := p.Daemon.GetDmFileVisibility(ctx, dmPath); err == nil && vis == daemon.VisibilityOtherReadable {
		if ok, err := p.Daemon.CopyAndRewriteProfile(ctx, dmPath, tmpPath, in.Container.Path); err == nil && ok {
			state.temp = profile.New(p.Daemon, tmpPath, refPath)
			state.path = tmpPath
			state.otherReadable = true
			return true
		}
	}

	state.externalProfileErr = "no external profile source available"
	return false
}

func (p *Planner) currentProfilePaths(ctx context.Context, c model.Container) []string {
	users, err := p.Platform.Users.InstalledUsers(ctx)
	if err != nil {
		return nil
	}
	paths := make([]string, 0, len(users))
	for _, u := range users {
		paths = append(paths, CurrentProfilePath(c, u))
	}
	return paths
}

// downgradeNoProfile is the final fallback when a profile-guided mode
// has no profile to compile against and must downgrade.
func (p *Planner) downgradeNoProfile(mode model.CompilerMode, pkgCtx PackageContext) model.CompilerMode {
	if pkgCtx.SharedRequired {
		return SharedFilterFallback
	}
	return model.ModeVerify
}

// canBePublic reports whether this container's output artifacts may
// be made world-readable.
func (p *Planner) canBePublic(ctx context.Context, in model.PlannerInput, mode model.CompilerMode, state profileState) bool {
	fileVisible := true
	if p.Platform.Visibility != nil {
		if vis, err := p.Platform.Visibility.DexFileVisibility(ctx, in.Container.Path); err == nil {
			fileVisible = vis == platform.VisibilityOtherReadable
		}
	}
	profileOK := !mode.IsProfileGuided() || state.otherReadable
	return profileOK && fileVisible
}

// dexoptTrigger computes the trigger bitset controlling when a
// recompile is needed.
func (p *Planner) dexoptTrigger(flags model.DexoptFlags, merged, needsToBeShared, canBePublic bool) model.DexoptTrigger {
	if flags.Has(model.FlagForce) {
		return model.TriggerIsBetter | model.TriggerIsSame | model.TriggerIsWorse |
			model.TriggerBootImageBecameUsable | model.TriggerNeedExtraction
	}
	if flags.Has(model.FlagShouldDowngrade) {
		return model.TriggerIsWorse
	}

	t := model.TriggerIsBetter | model.TriggerBootImageBecameUsable | model.TriggerNeedExtraction
	if merged {
		t |= model.TriggerIsSame
	}
	if needsToBeShared && !canBePublic {
		t |= model.TriggerIsSame | model.TriggerIsWorse
	}
	return t
}

// invoke issues the compiler-daemon call and maps a failure to a
// false return; success/cancel mapping happens back in Plan.
func (p *Planner) invoke(ctx context.Context, in model.PlannerInput, pkgCtx PackageContext, mode model.CompilerMode, needed daemon.DexoptNeeded, state profileState, canBePublic bool) (daemon.DexoptReply, string, bool) {
	cancel, err := p.Daemon.CreateCancellationSignal(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "planner: CreateCancellationSignal failed", "error", err)
		return daemon.DexoptReply{}, "", false
	}

	go func() {
		<-ctx.Done()
		_ = cancel.Cancel(context.Background())
	}()

	req := daemon.DexoptRequest{
		Output:   OutputArtifactsFor(in.Container, in.Abi, pkgCtx, canBePublic, needed),
		DexPath:  in.Container.Path,
		Isa:      in.Abi.Isa,
		Clc:      in.Container.ClassLoaderContext,
		Filter:   mode,
		Priority: in.Priority,
		Options:  daemon.DexoptOptions{HiddenApiPolicy: in.HiddenApiPolicy},
		Cancel:   cancel,
	}
	if state.path != "" {
		req.ProfilePath = state.path
	}
	if needed.IsVdexUsable && needed.ArtifactsLocation != daemon.LocationDM {
		req.InputVdexPath = VdexPathFor(in.Container, in.Abi, needed.ArtifactsLocation == daemon.LocationDalvikCache)
	}

	compilationReason := in.Reason
	dmPath := dmProfilePath(in.Container)
	if vis, err := p.Daemon.GetDmFileVisibility(ctx, dmPath); err == nil && vis != daemon.VisibilityNotFound {
		req.DmPath = dmPath
		if p.Reasons.IsInstall(in.Reason) {
			compilationReason = in.Reason + "-dm"
		}
	}

	reply, err := p.Daemon.Dexopt(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "planner: Dexopt failed", "path", in.Container.Path, "error", err)
		return daemon.DexoptReply{}, "", false
	}
	return reply, compilationReason, true
}

// postSuccess commits the reference profile, drops stale current
// profiles after a merge, and clears the runtime image. Residual
// temp-profile cleanup is handled by the caller's deferred
// profileState.temp.Close; a cancelled result skips the commit
// because Plan only calls postSuccess on the non-cancelled path.
func (p *Planner) postSuccess(ctx context.Context, in model.PlannerInput, state profileState) {
	if state.temp != nil {
		if err := state.temp.Commit(ctx); err != nil {
			slog.WarnContext(ctx, "planner: commit reference profile failed", "path", state.path, "error", err)
			return
		}
		if state.temp.Merged() {
			users, err := p.Platform.Users.InstalledUsers(ctx)
			if err == nil {
				for _, u := range users {
					_ = p.Daemon.DeleteProfile(ctx, CurrentProfilePath(in.Container, u))
				}
			}
		}
	}
	if _, err := p.Daemon.DeleteRuntimeArtifacts(ctx, in.Container.Path); err != nil {
		slog.WarnContext(ctx, "planner: stale runtime-image cleanup failed", "path", in.Container.Path, "error", err)
	}
}

// ReferenceProfilePath derives c's reference-profile path, shared with
// the janitor so marking and writing agree on the same naming scheme.
func ReferenceProfilePath(c model.Container) string { return c.Path + ".prof" }
func tempProfilePath(c model.Container) string      { return c.Path + ".prof.tmp" }
func prebuiltProfilePath(c model.Container) string  { return c.Path + ".prof" }
func dmProfilePath(c model.Container) string        { return c.Path + ".dm" }

// CurrentProfilePath derives u's current-profile path for c, shared
// with the janitor.
func CurrentProfilePath(c model.Container, u platform.UserHandle) string {
	return fmt.Sprintf("%s.cur.%d.prof", c.Path, int(u))
}
