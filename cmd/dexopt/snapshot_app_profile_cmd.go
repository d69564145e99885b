package main

import (
	"context"
	"io"
	"os"
)

type SnapshotAppProfileCmd struct {
	Package string `arg:"" help:"package name whose merged profile is snapshotted"`
	Split   string `help:"split name to snapshot; empty means the base APK"`
}

func (c *SnapshotAppProfileCmd) Run(cctx *Context) error {
	f, err := cctx.Service.Query.SnapshotAppProfile(context.Background(), c.Package, c.Split)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(os.Stdout, f)
	return err
}
