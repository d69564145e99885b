// Package config holds the tunables that would otherwise be hard-coded
// constants: the low-storage downgrade-pass offset, the registry save
// debounce window, and the inactivity threshold. Loaded from YAML,
// following the same kong.Configuration(kong.JSON,...)-style pattern
// generalized onto yaml.v3.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the static, file-backed tuning surface for the dexopt
// core. Every field has a zero-value-safe default applied by Default().
type Config struct {
	// DowngradePassStorageOffsetBytes is added to the low-storage
	// threshold when deciding whether to run the background job's
	// inactive-package downgrade pass. Defaults to 500,000,000.
	DowngradePassStorageOffsetBytes int64 `yaml:"downgradePassStorageOffsetBytes"`

	// DowngradeAfterInactiveDays mirrors the
	// pm.dexopt.downgrade_after_inactive_days system property default,
	// used only if that property is unset. 0 means the
	// system property is authoritative and there is no config fallback.
	DowngradeAfterInactiveDays int `yaml:"downgradeAfterInactiveDays"`

	// RegistrySaveDebounce is the quiet window the dex-use registry's
	// debouncer waits before flushing to disk.
	RegistrySaveDebounce time.Duration `yaml:"registrySaveDebounce"`

	// BackgroundJobMinPeriod is the minimum period enforced when
	// scheduling the periodic background job.
	BackgroundJobMinPeriod time.Duration `yaml:"backgroundJobMinPeriod"`

	// HistoryDBPath is where internal/history keeps its sqlite-backed
	// run-history store.
	HistoryDBPath string `yaml:"historyDBPath"`

	// RegistryPersistPath is where the dex-use registry saves its
	// debounced snapshot. Empty disables persistence (in-memory only).
	RegistryPersistPath string `yaml:"registryPersistPath"`

	// DaemonTarget is the gRPC dial target for the compiler daemon.
	DaemonTarget string `yaml:"daemonTarget"`

	// PlatformManifestPath points at the JSON package manifest
	// cmd/dexopt's local platform adapter loads. Empty means an empty
	// manifest: no installed packages, user 0 only.
	PlatformManifestPath string `yaml:"platformManifestPath"`

	Reason ReasonConfig `yaml:"reason"`
}

// ReasonConfig mirrors the extension points exposed by
// internal/reason.Config, kept here so they're settable from the same
// config file.
type ReasonConfig struct {
	AllowSingleSplitPrimary bool   `yaml:"allowSingleSplitPrimary"`
	HiddenApiPolicy         string `yaml:"hiddenApiPolicy"`
	SdkSandboxIsIsolated    bool   `yaml:"sdkSandboxIsIsolated"`
}

// Default returns the configuration matching the system's historical
// hard-coded behavior exactly.
func Default() Config {
	return Config{
		DowngradePassStorageOffsetBytes: 500_000_000,
		DowngradeAfterInactiveDays:      0,
		RegistrySaveDebounce:            15 * time.Second,
		BackgroundJobMinPeriod:          24 * time.Hour,
		HistoryDBPath:                   "",
		RegistryPersistPath:             "",
		DaemonTarget:                    "unix:///run/dexopt/daemon.sock",
		PlatformManifestPath:            "",
		Reason: ReasonConfig{
			AllowSingleSplitPrimary: false,
			SdkSandboxIsIsolated:    true,
		},
	}
}

// Load reads a YAML config file at path, applying it on top of
// Default(). A missing file is not an error; Default() is returned
// unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
