package main

import (
	"context"

	"github.com/banksean/dexopt/internal/dexopter"
	"github.com/banksean/dexopt/internal/model"
)

type DexoptPackageCmd struct {
	Package      string `arg:"" help:"package name to dexopt"`
	Mode         string `short:"m" default:"" help:"compiler mode override (e.g. speed-profile); empty uses the reason's default"`
	Priority     string `short:"p" default:"" help:"priority class override; empty uses the reason's default"`
	Reason       string `short:"r" default:"cmdline" help:"reason this dexopt is being requested"`
	Force        bool   `short:"f" help:"force recompilation even if already up to date"`
	SecondaryDex bool   `help:"include the package's dynamically-loaded secondary containers"`
	Split        string `help:"restrict to a single named split"`
	Reset        bool   `help:"reset dexopt state to as-installed instead of dexopting"`
}

func (c *DexoptPackageCmd) Run(cctx *Context) error {
	ctx := context.Background()

	if c.Reset {
		res, err := cctx.Service.Query.ResetDexoptStatus(ctx, c.Package)
		if err != nil {
			return err
		}
		printPackageResult(res)
		return nil
	}

	mode, err := parseMode(c.Mode)
	if err != nil {
		return err
	}
	if mode == model.ModeUnspecified {
		mode, err = cctx.Service.Reasons.DefaultMode(c.Reason)
		if err != nil {
			return err
		}
	}
	priority, err := parsePriority(c.Priority)
	if err != nil {
		return err
	}
	if priority == model.PriorityUnspecified {
		priority, err = cctx.Service.Reasons.DefaultPriority(c.Reason)
		if err != nil {
			return err
		}
	}

	flags := cctx.Service.Reasons.DefaultFlags(c.Reason)
	if c.Force {
		flags |= model.FlagForce
	}

	res, err := cctx.Service.Dexopter.Dexopt(ctx, dexopter.Request{
		PackageName:      c.Package,
		Mode:             mode,
		Reason:           c.Reason,
		Priority:         priority,
		Flags:            flags,
		IncludeSecondary: c.SecondaryDex,
		SplitName:        c.Split,
	})
	if err != nil {
		return err
	}
	printPackageResult(res)
	return nil
}
