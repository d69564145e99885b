package dexuse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banksean/dexopt/internal/platform"
)

// Wire format: a sequence of top-level field-1 length-delimited
// records, each one container entry, protobuf-wire-compatible so the
// on-disk file can be inspected with generic protobuf tooling without
// a.proto schema being checked in.
const fieldContainerEntry = protowire.Number(1)

// containerEntry submessage fields.
const (
	fieldOwnerPkg     = protowire.Number(1)
	fieldPath         = protowire.Number(2)
	fieldOwnerUser    = protowire.Number(3)
	fieldPrimaryUse   = protowire.Number(4)
	fieldSecondaryUse = protowire.Number(5)
)

// loaderUse submessage fields.
const (
	fieldLoadingPkg = protowire.Number(1)
	fieldIsolated   = protowire.Number(2)
	fieldLastUsedMs = protowire.Number(3)
	fieldClc        = protowire.Number(4)
	fieldAbi        = protowire.Number(5)
)

func appendLoaderUse(b []byte, l Loader, u Use) []byte {
	b = protowire.AppendTag(b, fieldLoadingPkg, protowire.BytesType)
	b = protowire.AppendString(b, l.LoadingPkg)
	b = protowire.AppendTag(b, fieldIsolated, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(l.IsIsolatedProcess))
	b = protowire.AppendTag(b, fieldLastUsedMs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(u.LastUsedMs))
	if u.ClassLoaderContext != "" {
		b = protowire.AppendTag(b, fieldClc, protowire.BytesType)
		b = protowire.AppendString(b, u.ClassLoaderContext)
	}
	if u.Abi != "" {
		b = protowire.AppendTag(b, fieldAbi, protowire.BytesType)
		b = protowire.AppendString(b, u.Abi)
	}
	return b
}

func boolToVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func appendContainerEntry(b []byte, owner string, c *ContainerEntry) []byte {
	var entry []byte
	entry = protowire.AppendTag(entry, fieldOwnerPkg, protowire.BytesType)
	entry = protowire.AppendString(entry, owner)
	entry = protowire.AppendTag(entry, fieldPath, protowire.BytesType)
	entry = protowire.AppendString(entry, c.Path)
	if c.SecondaryOwnerUser != 0 {
		entry = protowire.AppendTag(entry, fieldOwnerUser, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(c.SecondaryOwnerUser))
	}
	for l, u := range c.Primary {
		entry = protowire.AppendTag(entry, fieldPrimaryUse, protowire.BytesType)
		entry = protowire.AppendBytes(entry, appendLoaderUse(nil, l, u))
	}
	for l, u := range c.Secondary {
		entry = protowire.AppendTag(entry, fieldSecondaryUse, protowire.BytesType)
		entry = protowire.AppendBytes(entry, appendLoaderUse(nil, l, u))
	}

	b = protowire.AppendTag(b, fieldContainerEntry, protowire.BytesType)
	b = protowire.AppendBytes(b, entry)
	return b
}

// Save writes the full registry state to persistPath, via a temp file
// plus atomic rename, and advances committedRevision to the revision
// that was actually written.
func (r *Registry) Save(ctx context.Context) error {
	if r.persistPath == "" {
		return nil
	}

	r.mu.Lock()
	rev := r.revision
	if rev <= r.committedRevision {
		r.mu.Unlock()
		return nil
	}
	var buf []byte
	for owner, p := range r.packages {
		for _, c := range p.containers {
			buf = appendContainerEntry(buf, owner, c)
		}
	}
	r.mu.Unlock()

	dir := filepath.Dir(r.persistPath)
	tmp, err := os.CreateTemp(dir, ".dexuse-registry-*.tmp")
	if err != nil {
		return fmt.Errorf("dexuse: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("dexuse: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("dexuse: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("dexuse: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, r.persistPath); err != nil {
		return fmt.Errorf("dexuse: rename temp file: %w", err)
	}

	r.mu.Lock()
	if rev > r.committedRevision {
		r.committedRevision = rev
	}
	r.mu.Unlock()
	return nil
}

// Load replaces the registry's in-memory state with the contents of
// persistPath, dropping (and logging) any entry that fails to decode
// instead of failing the whole load. A missing file leaves the registry empty.
func (r *Registry) Load(ctx context.Context) error {
	if r.persistPath == "" {
		return nil
	}
	data, err := os.ReadFile(r.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("dexuse: read %s: %w", r.persistPath, err)
	}

	packages := map[string]*packageEntry{}
	dropped := 0

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 || typ != protowire.BytesType || num != fieldContainerEntry {
			dropped++
			break
		}
		b = b[n:]
		entryBytes, n := protowire.ConsumeBytes(b)
		if n < 0 {
			dropped++
			break
		}
		b = b[n:]

		owner, path, c, ok := decodeContainerEntry(entryBytes)
		if !ok {
			dropped++
			continue
		}
		p, exists := packages[owner]
		if !exists {
			p = &packageEntry{containers: map[string]*ContainerEntry{}}
			packages[owner] = p
		}
		p.containers[path] = c
	}

	if dropped > 0 {
		slog.WarnContext(ctx, "dexuse: dropped malformed registry entries on load", "count", dropped)
	}

	r.mu.Lock()
	r.packages = packages
	r.revision = 0
	r.committedRevision = 0
	r.mu.Unlock()
	return nil
}

func decodeContainerEntry(b []byte) (owner, path string, c *ContainerEntry, ok bool) {
	var ownerUser platform.UserHandle
	primary := map[Loader]Use{}
	secondary := map[Loader]Use{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", nil, false
		}
		b = b[n:]

		switch num {
		case fieldOwnerPkg:
			if typ != protowire.BytesType {
				return "", "", nil, false
			}
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", "", nil, false
			}
			owner = s
			b = b[n:]
		case fieldPath:
			if typ != protowire.BytesType {
				return "", "", nil, false
			}
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", "", nil, false
			}
			path = s
			b = b[n:]
		case fieldOwnerUser:
			if typ != protowire.VarintType {
				return "", "", nil, false
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return "", "", nil, false
			}
			ownerUser = platform.UserHandle(v)
			b = b[n:]
		case fieldPrimaryUse, fieldSecondaryUse:
			if typ != protowire.BytesType {
				return "", "", nil, false
			}
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", "", nil, false
			}
			b = b[n:]
			l, u, ok := decodeLoaderUse(sub)
			if !ok {
				continue // drop just this nested record
			}
			if num == fieldPrimaryUse {
				primary[l] = u
			} else {
				secondary[l] = u
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", "", nil, false
			}
			b = b[n:]
		}
	}

	if owner == "" || path == "" {
		return "", "", nil, false
	}
	return owner, path, &ContainerEntry{
		Path:               path,
		Primary:            primary,
		Secondary:          secondary,
		SecondaryOwnerUser: ownerUser,
	}, true
}

func decodeLoaderUse(b []byte) (Loader, Use, bool) {
	var l Loader
	var u Use

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Loader{}, Use{}, false
		}
		b = b[n:]

		switch num {
		case fieldLoadingPkg:
			if typ != protowire.BytesType {
				return Loader{}, Use{}, false
			}
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return Loader{}, Use{}, false
			}
			l.LoadingPkg = s
			b = b[n:]
		case fieldIsolated:
			if typ != protowire.VarintType {
				return Loader{}, Use{}, false
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Loader{}, Use{}, false
			}
			l.IsIsolatedProcess = v != 0
			b = b[n:]
		case fieldLastUsedMs:
			if typ != protowire.VarintType {
				return Loader{}, Use{}, false
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Loader{}, Use{}, false
			}
			u.LastUsedMs = int64(v)
			b = b[n:]
		case fieldClc:
			if typ != protowire.BytesType {
				return Loader{}, Use{}, false
			}
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return Loader{}, Use{}, false
			}
			u.ClassLoaderContext = s
			b = b[n:]
		case fieldAbi:
			if typ != protowire.BytesType {
				return Loader{}, Use{}, false
			}
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return Loader{}, Use{}, false
			}
			u.Abi = s
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Loader{}, Use{}, false
			}
			b = b[n:]
		}
	}
	return l, u, true
}

// Flush forces an immediate, synchronous save regardless of the
// debounce window.
func (r *Registry) Flush(ctx context.Context) error {
	r.debouncer.flushNow()
	return nil
}
