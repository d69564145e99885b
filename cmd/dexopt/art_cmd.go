package main

import (
	"context"
	"fmt"

	"github.com/banksean/dexopt/internal/query"
)

type ArtCmd struct {
	Dump ArtDumpCmd `cmd:"" help:"dump dexopt status for a package, or recent run history with no package"`
}

type ArtDumpCmd struct {
	Package string `arg:"" optional:"" help:"package name to dump status for; omit to print recent run history"`
}

func (c *ArtDumpCmd) Run(cctx *Context) error {
	ctx := context.Background()

	if c.Package == "" {
		records, err := cctx.Service.History.Recent(ctx, 20)
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Printf("%s reason=%s status=%s packages=%d dexopted=%d wall_ms=%d freed_bytes=%d\n",
				r.StartedAt.Format("2006-01-02T15:04:05"), r.Reason, r.Status, r.PackageCount, r.DexoptedCount, r.WallMs, r.FreedBytes)
		}
		return nil
	}

	entries, err := cctx.Service.Query.GetDexoptStatus(ctx, c.Package, query.AllScopes())
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Err != nil {
			fmt.Printf("%s (%s): error: %v\n", e.Container.Path, e.Abi.Name, e.Err)
			continue
		}
		fmt.Printf("%s (%s): mode=%s reason=%s location=%s\n",
			e.Container.Path, e.Abi.Name, e.Status.CompilerFilter, e.Status.CompilationReason, e.Status.LocationDebugString)
	}
	return nil
}
