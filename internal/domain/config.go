// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package domain holds the configuration struct shared by internal/config's
// loader and cmd/reflinkdedupe. Adapted from the teacher's internal/domain
// package: the struct-tags-for-viper approach is kept, trimmed down from the
// teacher's web-application fields (OIDC, HTTP host/port, session secret,
// metrics, pprof) to what a catalog-matching CLI actually needs.
package domain

import "fmt"

// Config holds every setting internal/config can load from file, env, or
// flags.
type Config struct {
	LogLevel string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath  string `toml:"logPath" mapstructure:"logPath"`

	// CatalogDBPath is the SQLite database holding the read-only "files"
	// table (spec.md §6).
	CatalogDBPath string `toml:"catalogDbPath" mapstructure:"catalogDbPath"`

	// PieceHashDBPath is the SQLite database holding the persisted
	// "file_pieces" cache (spec.md §6, C1). Defaults to CatalogDBPath when
	// empty, since both tables are safe to share one file.
	PieceHashDBPath string `toml:"pieceHashDbPath" mapstructure:"pieceHashDbPath"`

	// DedupRoot resolves catalog rows whose stored path is relative. Empty
	// means the catalog stores only absolute paths.
	DedupRoot string `toml:"dedupRoot" mapstructure:"dedupRoot"`

	// Concurrency bounds outstanding file reads (spec.md §4.2/§5).
	Concurrency int `toml:"concurrency" mapstructure:"concurrency"`

	// BoundaryCombinatorialCap bounds the per-boundary candidate product
	// before the false-positive-biased fallback kicks in (spec.md §5/§9).
	BoundaryCombinatorialCap int `toml:"boundaryCombinatorialCap" mapstructure:"boundaryCombinatorialCap"`

	// PieceHashMemoryEntries bounds the C1 in-memory LRU tier.
	PieceHashMemoryEntries int `toml:"pieceHashMemoryEntries" mapstructure:"pieceHashMemoryEntries"`
}

// Default resource caps, mirrored from spec.md §5 and §9.
const (
	DefaultConcurrency              = 8
	DefaultBoundaryCombinatorialCap = 10000
	DefaultPieceHashMemoryEntries   = 4096
)

// Validate checks the fields internal/config can't enforce through viper
// defaults alone (required paths, non-negative caps).
func (c *Config) Validate() error {
	if c.CatalogDBPath == "" {
		return fmt.Errorf("domain: catalogDbPath is required")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("domain: concurrency must be >= 0, got %d", c.Concurrency)
	}
	if c.BoundaryCombinatorialCap < 0 {
		return fmt.Errorf("domain: boundaryCombinatorialCap must be >= 0, got %d", c.BoundaryCombinatorialCap)
	}
	return nil
}

// ApplyDefaults fills in zero-valued fields with the spec's documented
// defaults, matching the teacher's pattern of post-load default application
// in internal/config rather than relying solely on viper.SetDefault.
func (c *Config) ApplyDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.BoundaryCombinatorialCap == 0 {
		c.BoundaryCombinatorialCap = DefaultBoundaryCombinatorialCap
	}
	if c.PieceHashMemoryEntries == 0 {
		c.PieceHashMemoryEntries = DefaultPieceHashMemoryEntries
	}
	if c.PieceHashDBPath == "" {
		c.PieceHashDBPath = c.CatalogDBPath
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
