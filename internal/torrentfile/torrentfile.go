// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torrentfile adapts decoded .torrent metainfo into the
// matcher.TorrentDescriptor the core matching engine consumes. This is the
// only place in the repository that touches torrent metainfo bytes — the
// core itself never parses them (spec.md §1 Non-goals).
package torrentfile

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/matcher"
)

// Load reads and decodes a .torrent file from path and converts its info
// dictionary into a matcher.TorrentDescriptor.
func Load(path string) (*matcher.TorrentDescriptor, error) {
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("torrentfile: load %s: %w", path, err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("torrentfile: unmarshal info in %s: %w", path, err)
	}
	return FromInfo(&info)
}

// FromInfo converts an already-decoded metainfo.Info into a
// matcher.TorrentDescriptor, preserving file order.
func FromInfo(info *metainfo.Info) (*matcher.TorrentDescriptor, error) {
	upverted := info.UpvertedFiles()
	files := make([]matcher.TorrentFile, len(upverted))
	for i, f := range upverted {
		files[i] = matcher.TorrentFile{
			Path:   displayPath(info, f),
			Length: f.Length,
		}
	}

	d := &matcher.TorrentDescriptor{
		PieceLength:  info.PieceLength,
		PieceDigests: info.Pieces,
		Files:        files,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// displayPath renders a file entry's path the way it will appear on disk
// under the torrent's name, using forward slashes so results are stable
// across platforms regardless of which OS built the .torrent.
func displayPath(info *metainfo.Info, f metainfo.FileInfo) string {
	parts := f.Path
	if len(parts) == 0 {
		return info.Name
	}
	full := append([]string{info.Name}, parts...)
	return strings.Join(full, "/")
}

// LocalPath converts a torrent-relative display path (forward-slash
// separated) into an OS-native relative path for filesystem use.
func LocalPath(displayPath string) string {
	return filepath.FromSlash(displayPath)
}
