// Package query implements the read/inspect/repair surface exposed to
// the command-line tooling: dexopt status, artifact/profile deletion,
// profile snapshots, and the reset flow that chains them together.
package query

import (
	"fmt"

	"github.com/banksean/dexopt/internal/daemon"
	"github.com/banksean/dexopt/internal/dexopter"
	"github.com/banksean/dexopt/internal/dexuse"
	"github.com/banksean/dexopt/internal/platform"
	"github.com/banksean/dexopt/internal/reason"
)

// ErrPackageNotFound is returned when the named package is not
// installed.
var ErrPackageNotFound = fmt.Errorf("query: package not found")

// ErrSplitNotFound is returned when a split name does not match any of
// the package's primary containers.
var ErrSplitNotFound = fmt.Errorf("query: split not found")

// Query bundles the collaborators the query surface reads from and
// writes through: the daemon RPC client, platform package metadata,
// the dex-use registry (for secondary container discovery), and the
// single-package dexopter (for the reset flow's final install-reason
// dexopt).
type Query struct {
	Daemon   daemon.Client
	Platform *platform.Platform
	Registry *dexuse.Registry
	Dexopter *dexopter.Dexopter
	Reasons  *reason.Table

	// Getenv resolves classpath environment variables for boot-image
	// profile snapshotting. Defaults to os.Getenv; overridable for
	// tests.
	Getenv func(string) string
}

// New constructs a Query.
func New(d daemon.Client, plat *platform.Platform, registry *dexuse.Registry, dex *dexopter.Dexopter, reasons *reason.Table) *Query {
	return &Query{Daemon: d, Platform: plat, Registry: registry, Dexopter: dex, Reasons: reasons, Getenv: defaultGetenv}
}
