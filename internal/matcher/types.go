// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package matcher implements the piece-aware matching engine: given a
// torrent's piece layout and a catalog of locally indexed files, it finds
// which local files are byte-identical to each file the torrent describes.
//
// The package never touches the filesystem directly for catalog or cache
// concerns (those are injected as interfaces) and never parses torrent
// metainfo bytes — callers decode a .torrent file (internal/torrentfile does
// this for the CLI) and hand the engine an already-built TorrentDescriptor.
package matcher

const pieceDigestSize = 20

// TorrentDescriptor is the immutable, already-decoded torrent metainfo the
// engine matches against. The virtual concatenation of Files in order has
// total length T = sum(Files[i].Length); PieceCount = ceil(T / PieceLength).
type TorrentDescriptor struct {
	// PieceDigests is the concatenation of all piece SHA-1 digests, 20 bytes each.
	PieceDigests []byte
	Files        []TorrentFile
	PieceLength  int64
}

// TorrentFile is one file entry from the torrent's virtual file list, in
// the order the torrent lays them out end to end.
type TorrentFile struct {
	Path   string
	Length int64
}

// PieceCount returns the number of pieces implied by the descriptor's total
// size and piece length. Callers should validate the descriptor (Validate)
// before trusting this value.
func (d *TorrentDescriptor) PieceCount() int {
	total := d.TotalLength()
	if d.PieceLength <= 0 {
		return 0
	}
	return int((total + d.PieceLength - 1) / d.PieceLength)
}

// TotalLength returns T, the sum of all file lengths.
func (d *TorrentDescriptor) TotalLength() int64 {
	var total int64
	for _, f := range d.Files {
		total += f.Length
	}
	return total
}

// Validate checks the invariants spec.md requires of a TorrentDescriptor
// before it is used to build slots. A malformed descriptor is fatal (§7).
func (d *TorrentDescriptor) Validate() error {
	if d.PieceLength <= 0 {
		return ErrTorrentMalformed
	}
	if len(d.PieceDigests)%pieceDigestSize != 0 {
		return ErrTorrentMalformed
	}
	if len(d.PieceDigests)/pieceDigestSize != d.PieceCount() {
		return ErrTorrentMalformed
	}
	return nil
}

// pieceDigest returns the expected 20-byte digest for piece index idx.
func (d *TorrentDescriptor) pieceDigest(idx int) []byte {
	start := idx * pieceDigestSize
	return d.PieceDigests[start : start+pieceDigestSize]
}

// Candidate is a local file whose size matches a slot's size, proposed by
// the candidate source (C4) as a possible content match.
type Candidate struct {
	AbsolutePath  string
	WholeFileHash string
	Size          int64
}

// SlotResult is the final, per-slot output of a Match call: the torrent
// file's path and size, plus the absolute local paths that were accepted as
// content-identical, in candidate-source order.
type SlotResult struct {
	Path      string   `json:"path"`
	Size      int64    `json:"size"`
	Locations []string `json:"locations"`
}

// Progress is delivered via an optional callback during Match so long-running
// matches can report where they are. It is not used for control flow.
type Progress struct {
	Stage              string
	SlotIndex          int
	SlotCount          int
	CandidatesVerified int
	CandidatesTotal    int
}

// ProgressFunc receives Progress updates. A nil func disables reporting.
type ProgressFunc func(Progress)
