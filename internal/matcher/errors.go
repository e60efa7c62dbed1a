// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package matcher

import "errors"

// Error kinds surfaced by the matching engine. Fatal kinds abort a Match call;
// the rest are recovered locally (the offending candidate or cache entry is
// dropped and the match continues) per the error handling design.
var (
	// ErrCatalogUnavailable means the candidate source could not be queried at all.
	// Fatal: the match cannot proceed.
	ErrCatalogUnavailable = errors.New("matcher: catalog unavailable")

	// ErrTorrentMalformed means the descriptor's piece digests don't agree with
	// its piece count, or piece_length is zero. Fatal: surfaced to the caller.
	ErrTorrentMalformed = errors.New("matcher: torrent descriptor malformed")

	// ErrCandidatePathMissing means a candidate's on-disk path no longer exists.
	// Recovered: the candidate is dropped.
	ErrCandidatePathMissing = errors.New("matcher: candidate path missing")

	// ErrIoTruncated means a read returned fewer bytes than requested before EOF.
	// Recovered: the candidate is eliminated.
	ErrIoTruncated = errors.New("matcher: truncated read")

	// ErrIoRead is a generic read failure distinct from truncation.
	// Recovered: the candidate is eliminated.
	ErrIoRead = errors.New("matcher: read failed")

	// ErrBoundaryFallbackOverflow means a boundary's candidate product exceeded
	// the configured combinatorial cap. Recovered: the boundary falls back to
	// reporting all candidates as possible survivors (false-positive biased).
	ErrBoundaryFallbackOverflow = errors.New("matcher: boundary fallback overflow")
)
