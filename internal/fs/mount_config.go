package fs

import (
	"os"

	"github.com/imdario/mergo"
	"gopkg.in/yaml.v3"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
)

// mountConfig is the durable per-mount record persisted alongside the
// overlay (spec §4.10 "config.json ... records the mount path, the
// parent commit id(s), and the case-sensitivity policy", SPEC_FULL §1.3).
// It mirrors the teacher's YAML-plus-mergo-defaults config pattern rather
// than hand-rolling a flat key/value file.
type mountConfig struct {
	ParentRoot RootId     `yaml:"parent_root"`
	CasePolicy CasePolicy `yaml:"case_policy"`
}

func defaultMountConfig() mountConfig {
	return mountConfig{CasePolicy: CaseSensitive}
}

// loadMountConfig reads config.json (actually YAML, following the
// teacher's naming-vs-format looseness in cache.go's config file), merging
// defaults over any field the file happens to omit. ok is false if the
// file does not exist yet (a brand-new mount).
func loadMountConfig(path string) (mountConfig, bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return mountConfig{}, false, nil
	}
	if err != nil {
		return mountConfig{}, false, edenerrors.NewOverlay("read mount config", err)
	}
	cfg := mountConfig{}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return mountConfig{}, false, edenerrors.NewOverlay("parse mount config", err)
	}
	defaults := defaultMountConfig()
	if err := mergo.Merge(&cfg, defaults); err != nil {
		return mountConfig{}, false, edenerrors.NewOverlay("apply mount config defaults", err)
	}
	return cfg, true, nil
}

func saveMountConfig(path string, cfg mountConfig) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return edenerrors.NewOverlay("marshal mount config", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return edenerrors.NewOverlay("write mount config", err)
	}
	return nil
}
