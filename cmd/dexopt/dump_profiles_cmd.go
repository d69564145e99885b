package main

import (
	"context"
	"io"
	"os"
)

type DumpProfilesCmd struct {
	Package               string `arg:"" help:"package name whose merged profile is printed"`
	Split                 string `help:"split name to dump; empty means the base APK"`
	DumpClassesAndMethods bool   `help:"include per-class-and-method detail in the dump"`
}

func (c *DumpProfilesCmd) Run(cctx *Context) error {
	f, err := cctx.Service.Query.DumpAppProfile(context.Background(), c.Package, c.Split, c.DumpClassesAndMethods)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(os.Stdout, f)
	return err
}
