package main

import (
	"context"
	"fmt"
)

type ClearAppProfilesCmd struct {
	Package string `arg:"" help:"package name whose reference and current profiles are deleted"`
}

func (c *ClearAppProfilesCmd) Run(cctx *Context) error {
	if err := cctx.Service.Query.ClearAppProfiles(context.Background(), c.Package); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}
