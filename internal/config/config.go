// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads domain.Config from a TOML file, environment
// variables, and defaults, via github.com/spf13/viper. Adapted from the
// teacher's internal/config.New: same TOML-file-plus-env-override shape
// (env vars prefixed REFLINKDEDUPE_, e.g. REFLINKDEDUPE_CONCURRENCY, with a
// double underscore standing in for a nested key's dot) and same on-disk
// scaffolding (a commented-out default config file is written if none
// exists), trimmed of the teacher's web-server fields, OIDC/session
// secret generation, and the commented-TOML rewrite-in-place persistence
// helper (updateLogSettingsInTOML) since this CLI has no running settings
// page that mutates its own config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/domain"
)

const envPrefix = "REFLINKDEDUPE"

// AppConfig wraps the loaded domain.Config with the viper instance it was
// read from, so callers can write it back out if they ever add that.
type AppConfig struct {
	Config *domain.Config
	v      *viper.Viper
}

// New loads configuration from path (writing the commented-out default
// template there if none exists), overlaying environment variables and the spec's documented
// defaults.
func New(path string) (*AppConfig, error) {
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("config: create directory %s: %w", dir, err)
				}
			}
			if err := os.WriteFile(path, []byte(defaultTOML), 0o644); err != nil {
				return nil, fmt.Errorf("config: write default config %s: %w", path, err)
			}
			log.Info().Str("path", path).Msg("config: wrote default configuration")
		}
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	// viper.Unmarshal only considers env vars for keys it already knows
	// about (from defaults, config, or an explicit bind), so every
	// mapstructure key needs a zero-value default registered up front.
	for _, key := range []string{"logLevel", "logPath", "catalogDbPath", "pieceHashDbPath", "dedupRoot"} {
		v.SetDefault(key, "")
	}
	for _, key := range []string{"concurrency", "boundaryCombinatorialCap", "pieceHashMemoryEntries"} {
		v.SetDefault(key, 0)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.ApplyDefaults()

	if path != "" {
		cfg.PieceHashDBPath = resolveNextTo(path, cfg.PieceHashDBPath)
		cfg.CatalogDBPath = resolveNextTo(path, cfg.CatalogDBPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &AppConfig{Config: &cfg, v: v}, nil
}

// resolveNextTo makes a relative db path relative to the config file's
// directory rather than the process's working directory, matching the
// teacher's GetDatabasePath behavior ("next to config by default").
func resolveNextTo(configPath, dbPath string) string {
	if dbPath == "" || filepath.IsAbs(dbPath) {
		return dbPath
	}
	return filepath.Join(filepath.Dir(configPath), dbPath)
}

const defaultTOML = `# reflinkdedupe config - auto-generated on first run

# Catalog database (required): the read-only "files" table, spec.md §6.
#catalogDbPath = "catalog.db"

# Piece-hash cache database. Defaults to catalogDbPath when unset.
#pieceHashDbPath = "pieces.db"

# Root directory relative catalog paths are resolved against.
#dedupRoot = ""

# Resource caps
#concurrency = 8
#boundaryCombinatorialCap = 10000
#pieceHashMemoryEntries = 4096

#logLevel = "info"
#logPath = ""
`
