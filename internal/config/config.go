// Package config loads edenfsd's process-wide configuration: the daemon
// config layer described in SPEC_FULL §1.3, distinct from the per-mount
// config.json the mount coordinator owns (internal/fs/mount_config.go).
// It mirrors the teacher's cmd/common/config.go split of
// read/parse/merge-defaults/validate into separate, individually testable
// steps.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/imdario/mergo"
	"gopkg.in/yaml.v3"

	"github.com/edenfs-go/eden/internal/fs"
	"github.com/edenfs-go/eden/internal/logging"
)

// Config is edenfsd's daemon-wide configuration (SPEC_FULL §1.3).
type Config struct {
	CacheDir               string `yaml:"cacheDir"`
	LogLevel               string `yaml:"logLevel"`
	DefaultCasePolicy      string `yaml:"defaultCasePolicy"` // "sensitive" | "insensitive-preserving"
	ParentsLockTimeoutSecs int    `yaml:"parentsLockTimeoutSecs"`
	OverlayDurability      string `yaml:"overlayDurability"` // "fsync" | "async"
}

func validLogLevels() []string {
	return []string{"trace", "debug", "info", "warn", "error"}
}

// DefaultConfigPath returns the default config location, following the
// teacher's XDG-config-dir convention (cmd/common/config.go
// DefaultConfigPath).
func DefaultConfigPath() string {
	confDir, err := os.UserConfigDir()
	if err != nil {
		logging.NewLogContext("config").Logger().Error().Err(err).Msg("could not determine configuration directory")
	}
	return filepath.Join(confDir, "edenfsd/config.yml")
}

func createDefaultConfig() Config {
	xdgCacheDir, _ := os.UserCacheDir()
	return Config{
		CacheDir:               filepath.Join(xdgCacheDir, "edenfsd"),
		LogLevel:               "info",
		DefaultCasePolicy:      "sensitive",
		ParentsLockTimeoutSecs: 10,
		OverlayDurability:      "fsync",
	}
}

func parseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	err := yaml.Unmarshal(data, cfg)
	return cfg, err
}

func validateConfig(log *logging.ScopedLogger, cfg *Config) {
	valid := false
	for _, lvl := range validLogLevels() {
		if strings.ToLower(cfg.LogLevel) == lvl {
			valid = true
			break
		}
	}
	if !valid {
		log.Warn().Str("logLevel", cfg.LogLevel).Msg("invalid log level, using default")
		cfg.LogLevel = "info"
	}

	if cfg.DefaultCasePolicy != "sensitive" && cfg.DefaultCasePolicy != "insensitive-preserving" {
		log.Warn().Str("defaultCasePolicy", cfg.DefaultCasePolicy).Msg("invalid case policy, using default")
		cfg.DefaultCasePolicy = "sensitive"
	}

	if cfg.ParentsLockTimeoutSecs <= 0 {
		log.Warn().Int("parentsLockTimeoutSecs", cfg.ParentsLockTimeoutSecs).Msg("parents-lock timeout must be positive, using default")
		cfg.ParentsLockTimeoutSecs = 10
	}

	if cfg.OverlayDurability != "fsync" && cfg.OverlayDurability != "async" {
		log.Warn().Str("overlayDurability", cfg.OverlayDurability).Msg("invalid overlay durability mode, using default")
		cfg.OverlayDurability = "fsync"
	}

	if cfg.CacheDir == "" {
		log.Warn().Msg("cache directory cannot be empty, using default")
		xdgCacheDir, _ := os.UserCacheDir()
		cfg.CacheDir = filepath.Join(xdgCacheDir, "edenfsd")
	}
}

// CasePolicy translates DefaultCasePolicy into the fs package's enum.
func (c Config) CasePolicy() fs.CasePolicy {
	if c.DefaultCasePolicy == "insensitive-preserving" {
		return fs.CaseInsensitivePreserving
	}
	return fs.CaseSensitive
}

// AsyncDurability reports whether OverlayDurability selects the async
// (NoSync) overlay mode.
func (c Config) AsyncDurability() bool {
	return c.OverlayDurability == "async"
}

// Load is the primary way of loading edenfsd's config: read, parse,
// merge onto defaults, validate — falling back to defaults wholesale on
// any read/parse failure, exactly as the teacher's LoadConfig does.
func Load(path string) *Config {
	log := logging.NewLogContext("config").Logger()
	defaults := createDefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("configuration file not found, using defaults")
		return &defaults
	}

	cfg, err := parseConfig(raw)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("could not parse configuration file, using defaults")
		return &defaults
	}

	if err := mergo.Merge(cfg, defaults); err != nil {
		log.Error().Err(err).Str("path", path).Msg("could not merge configuration with defaults, using defaults only")
		return &defaults
	}

	validateConfig(log, cfg)
	return cfg
}

// Write persists the config as YAML, creating the parent directory if
// needed (mirrors the teacher's Config.WriteConfig).
func (c Config) Write(path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0600)
}
