package config

import (
	"path/filepath"
	"testing"

	"github.com/edenfs-go/eden/internal/fs"
	"github.com/edenfs-go/eden/internal/logging"
)

func testLogger() *logging.ScopedLogger {
	return logging.NewLogContext("config_test").Logger()
}

func TestCreateDefaultConfigIsValid(t *testing.T) {
	cfg := createDefaultConfig()
	before := cfg
	validateConfig(testLogger(), &cfg)
	if cfg != before {
		t.Fatalf("default config should already pass validation unchanged, got %+v want %+v", cfg, before)
	}
}

func TestValidateConfigResetsInvalidFields(t *testing.T) {
	cfg := Config{
		CacheDir:               "",
		LogLevel:               "not-a-level",
		DefaultCasePolicy:      "bogus",
		ParentsLockTimeoutSecs: -1,
		OverlayDurability:      "sometimes",
	}
	validateConfig(testLogger(), &cfg)

	defaults := createDefaultConfig()
	if cfg.LogLevel != defaults.LogLevel {
		t.Errorf("LogLevel not reset: got %q", cfg.LogLevel)
	}
	if cfg.DefaultCasePolicy != defaults.DefaultCasePolicy {
		t.Errorf("DefaultCasePolicy not reset: got %q", cfg.DefaultCasePolicy)
	}
	if cfg.ParentsLockTimeoutSecs != defaults.ParentsLockTimeoutSecs {
		t.Errorf("ParentsLockTimeoutSecs not reset: got %d", cfg.ParentsLockTimeoutSecs)
	}
	if cfg.OverlayDurability != defaults.OverlayDurability {
		t.Errorf("OverlayDurability not reset: got %q", cfg.OverlayDurability)
	}
	if cfg.CacheDir == "" {
		t.Errorf("CacheDir should have been reset to a non-empty default")
	}
}

func TestLoadFallsBackToDefaultsWhenFileMissing(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	defaults := createDefaultConfig()
	if cfg.LogLevel != defaults.LogLevel || cfg.DefaultCasePolicy != defaults.DefaultCasePolicy {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yml")
	cfg := createDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.OverlayDurability = "async"

	if err := cfg.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	loaded := Load(path)
	if loaded.LogLevel != "debug" || loaded.OverlayDurability != "async" {
		t.Fatalf("round trip mismatch: got %+v", loaded)
	}
}

func TestCasePolicyAndAsyncDurabilityAccessors(t *testing.T) {
	cfg := Config{DefaultCasePolicy: "insensitive-preserving", OverlayDurability: "async"}
	if !cfg.AsyncDurability() {
		t.Errorf("expected AsyncDurability true for OverlayDurability=async")
	}
	if cfg.CasePolicy() != fs.CaseInsensitivePreserving {
		t.Errorf("expected CaseInsensitivePreserving, got %v", cfg.CasePolicy())
	}

	sensitive := Config{DefaultCasePolicy: "sensitive"}
	if sensitive.AsyncDurability() {
		t.Errorf("expected AsyncDurability false for unset OverlayDurability")
	}
	if sensitive.CasePolicy() != fs.CaseSensitive {
		t.Errorf("expected CaseSensitive, got %v", sensitive.CasePolicy())
	}
}
