package main

import (
	"context"
	"io"
	"os"
)

type SnapshotBootImageProfileCmd struct{}

func (c *SnapshotBootImageProfileCmd) Run(cctx *Context) error {
	f, err := cctx.Service.Query.SnapshotBootImageProfile(context.Background())
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(os.Stdout, f)
	return err
}
