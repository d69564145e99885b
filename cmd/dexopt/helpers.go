package main

import (
	"fmt"

	"github.com/banksean/dexopt/internal/model"
)

var modesByName = map[string]model.CompilerMode{
	"skip":               model.ModeSkip,
	"assume-verified":    model.ModeAssumeVerified,
	"extract":            model.ModeExtract,
	"verify":             model.ModeVerify,
	"space-profile":      model.ModeSpaceProfile,
	"space":              model.ModeSpace,
	"speed-profile":      model.ModeSpeedProfile,
	"speed":              model.ModeSpeed,
	"everything-profile": model.ModeEverythingProfile,
	"everything":         model.ModeEverything,
}

func parseMode(s string) (model.CompilerMode, error) {
	if s == "" {
		return model.ModeUnspecified, nil
	}
	m, ok := modesByName[s]
	if !ok {
		return model.ModeUnspecified, fmt.Errorf("unknown compiler mode %q", s)
	}
	return m, nil
}

var prioritiesByName = map[string]model.PriorityClass{
	"background":       model.PriorityBackground,
	"interactive-fast": model.PriorityInteractiveFast,
	"interactive":      model.PriorityInteractive,
	"boot":             model.PriorityBoot,
}

func parsePriority(s string) (model.PriorityClass, error) {
	if s == "" {
		return model.PriorityUnspecified, nil
	}
	p, ok := prioritiesByName[s]
	if !ok {
		return model.PriorityUnspecified, fmt.Errorf("unknown priority class %q", s)
	}
	return p, nil
}

func printPackageResult(res model.PackageResult) {
	fmt.Printf("%s: %s\n", res.PackageName, res.FinalStatus())
	for _, c := range res.Containers {
		fmt.Printf("  %s (%s): %s mode=%s reason=%s wall_ms=%d size_bytes=%d\n",
			c.Container.Path, c.Abi.Name, c.Status, c.ActualMode, c.CompilationReason, c.WallMs, c.SizeBytes)
		for _, e := range c.ExternalProfileErrors {
			fmt.Printf("    external profile error: %s\n", e)
		}
	}
}

func printBatchResult(res model.BatchResult) {
	fmt.Printf("reason=%s mode=%s dexopted=%d/%d\n", res.Reason, res.Mode, res.DexoptedCount(), len(res.Packages))
	for _, p := range res.Packages {
		printPackageResult(p)
	}
}
