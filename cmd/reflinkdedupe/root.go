// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/config"
)

var rootOpts struct {
	configPath string
	verbose    bool
}

var rootCmd = &cobra.Command{
	Use:   "reflinkdedupe",
	Short: "Find which local files are byte-identical to a torrent's pieces",
	Long: `reflinkdedupe matches the files described by a .torrent against a
catalog of locally indexed files, using the torrent's own piece hashes as
the proof of identity rather than relying on filenames or paths.`,
	SilenceUsage:               true,
	DisableFlagsInUseLine:      true,
	SuggestionsMinimumDistance: 1,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootOpts.configPath, "config", "c", "reflinkdedupe.toml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&rootOpts.verbose, "verbose", "v", false, "verbose logging")
	rootCmd.AddCommand(matchCmd)
}

func loadConfig() *config.AppConfig {
	level := zerolog.InfoLevel
	if rootOpts.verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).Level(level)

	cfg, err := config.New(rootOpts.configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("reflinkdedupe: failed to load configuration")
	}
	if rootOpts.verbose {
		cfg.Config.LogLevel = "debug"
	}
	return cfg
}
