// Package config holds the server configuration. Values resolve in three
// layers: compiled defaults, an optional TOML file, and command-line flag
// overrides applied by cmd/server.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the full server configuration.
type Config struct {
	// Listen is the HTTP bind address, e.g. ":8080".
	Listen string `toml:"listen"`

	// DatabasePath is the SQLite file. ":memory:" runs without a file;
	// an empty path selects the in-memory store instead of SQLite.
	DatabasePath string `toml:"database_path"`

	// RulesDir holds the *.json rule files. Empty means no file catalog;
	// the server then requires demo mode for a rule source.
	RulesDir string `toml:"rules_dir"`

	// ReloadMinutes is the period for automatic catalog reloads.
	// Zero disables the reload scheduler.
	ReloadMinutes int `toml:"reload_minutes"`

	// Demo seeds the built-in demo rules and consumers.
	Demo bool `toml:"demo"`

	// AllowedOrigins feeds the CORS middleware.
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{
		Listen:         ":8080",
		DatabasePath:   "loyalty.db",
		RulesDir:       "",
		ReloadMinutes:  0,
		Demo:           false,
		AllowedOrigins: []string{"*"},
	}
}

// Load reads a TOML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.ReloadMinutes < 0 {
		return fmt.Errorf("reload_minutes must not be negative")
	}
	if c.RulesDir == "" && !c.Demo {
		return fmt.Errorf("either rules_dir or demo mode is required")
	}
	return nil
}
