// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/catalog"
	"github.com/Dark3clipse/reflink-dedupe-server/internal/database"
	"github.com/Dark3clipse/reflink-dedupe-server/internal/matcher"
	"github.com/Dark3clipse/reflink-dedupe-server/internal/piecehash"
	"github.com/Dark3clipse/reflink-dedupe-server/internal/torrentfile"
)

var matchOpts struct {
	jsonOnly bool
}

var matchCmd = &cobra.Command{
	Use:   "match <torrent-file>",
	Short: "Match a torrent's files against the local catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runMatch,
}

func init() {
	matchCmd.Flags().SortFlags = false
	matchCmd.Flags().BoolVar(&matchOpts.jsonOnly, "json", false, "print only the JSON result (suppress progress lines)")
}

// Result is the CLI-level report for one match invocation: per-slot location
// lists plus the cache activity observed along the way.
type Result struct {
	TorrentPath string               `json:"torrent_path"`
	Files       []matcher.SlotResult `json:"files"`
	CacheStats  piecehash.Stats      `json:"cache_stats"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	torrentPath := args[0]
	cfg := loadConfig()

	descriptor, err := torrentfile.Load(torrentPath)
	if err != nil {
		return fmt.Errorf("match: %w", err)
	}

	catalogDB, err := database.OpenFromPath(cfg.Config.CatalogDBPath)
	if err != nil {
		return fmt.Errorf("match: open catalog db: %w", err)
	}
	defer catalogDB.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := catalog.EnsureSchema(ctx, catalogDB); err != nil {
		return fmt.Errorf("match: %w", err)
	}

	pieceHashDB := catalogDB
	if cfg.Config.PieceHashDBPath != cfg.Config.CatalogDBPath {
		pieceHashDB, err = database.OpenFromPath(cfg.Config.PieceHashDBPath)
		if err != nil {
			return fmt.Errorf("match: open piece-hash db: %w", err)
		}
		defer pieceHashDB.Close()
	}
	if err := piecehash.EnsureSchema(ctx, pieceHashDB); err != nil {
		return fmt.Errorf("match: %w", err)
	}

	source := catalog.New(catalogDB, cfg.Config.DedupRoot)
	cache := piecehash.New(cfg.Config.PieceHashMemoryEntries, piecehash.NewRepository(pieceHashDB))

	opts := matcher.Options{
		Concurrency:              cfg.Config.Concurrency,
		BoundaryCombinatorialCap: cfg.Config.BoundaryCombinatorialCap,
		Cache:                    cache,
	}
	if !matchOpts.jsonOnly {
		opts.Progress = reportProgress
	}

	results, err := matcher.Match(ctx, descriptor, source, opts)
	if err != nil {
		return fmt.Errorf("match: %w", err)
	}

	out := Result{
		TorrentPath: torrentPath,
		Files:       results,
		CacheStats:  cache.Stats(),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func reportProgress(p matcher.Progress) {
	stage := color.New(color.FgGreen).SprintFunc()
	log.Info().Msgf("%s slot %s/%s: %d/%d candidates survived",
		stage(p.Stage),
		humanize.Comma(int64(p.SlotIndex+1)), humanize.Comma(int64(p.SlotCount)),
		p.CandidatesVerified, p.CandidatesTotal)
}
