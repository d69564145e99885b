package main

import "context"

type ClearProfilesAndDeleteDexoptArtifactsCmd struct {
	Package string `arg:"" help:"package name to reset to its as-installed dexopt state"`
}

func (c *ClearProfilesAndDeleteDexoptArtifactsCmd) Run(cctx *Context) error {
	res, err := cctx.Service.Query.ResetDexoptStatus(context.Background(), c.Package)
	if err != nil {
		return err
	}
	printPackageResult(res)
	return nil
}
