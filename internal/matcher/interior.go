// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package matcher

import (
	"bytes"
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/piecehash"
	"github.com/Dark3clipse/reflink-dedupe-server/internal/piecehasher"
)

// interiorVerdict is the per-candidate outcome of interior verification (C5).
type interiorVerdict struct {
	candidate Candidate
	// matched is true iff every interior piece of the slot hashed to the
	// torrent's digest for this candidate (including the "no interior
	// pieces" edge case, where it is vacuously true).
	matched bool
}

// verifyInterior runs C5 for one slot against its candidate list: for each
// candidate, recompute every interior piece's digest (via cache or the
// hasher) and compare against the torrent's digests, eliminating on first
// mismatch. Surviving candidates have their verified digests written back to
// the piece-hash store.
func verifyInterior(ctx context.Context, d *TorrentDescriptor, slot *Slot, candidates []Candidate, cache *piecehash.Store, hasher *piecehasher.Hasher) []interiorVerdict {
	verdicts := make([]interiorVerdict, len(candidates))

	if len(slot.InteriorPieces) == 0 {
		// §4.5 edge case: every piece of this slot is a boundary piece (or the
		// slot is zero-length). Every candidate passes interior verification
		// unconditionally; C6 decides the rest.
		for i, c := range candidates {
			verdicts[i] = interiorVerdict{candidate: c, matched: true}
		}
		return verdicts
	}

	// Embarrassingly parallel across candidates (spec.md §4.5 "Parallelism").
	// The hasher's own semaphore bounds outstanding I/O across all of them.
	results := make(chan interiorVerdict, len(candidates))
	for _, c := range candidates {
		c := c
		go func() {
			results <- verifyInteriorCandidate(ctx, d, slot, c, cache, hasher)
		}()
	}
	// Channel delivery order is not the candidate order; rebuild indexed by
	// identity so callers can rely on verdicts lining up with candidates.
	byPath := make(map[string]interiorVerdict, len(candidates))
	for range candidates {
		v := <-results
		byPath[v.candidate.AbsolutePath] = v
	}
	for i, c := range candidates {
		verdicts[i] = byPath[c.AbsolutePath]
	}
	return verdicts
}

func verifyInteriorCandidate(ctx context.Context, d *TorrentDescriptor, slot *Slot, c Candidate, cache *piecehash.Store, hasher *piecehasher.Hasher) interiorVerdict {
	var cached piecehash.Mapping
	if cache != nil {
		cached = cache.Lookup(ctx, c.WholeFileHash, d.PieceLength)
	}

	computed := piecehash.Mapping{}
	for _, k := range slot.InteriorPieces {
		var digest piecehash.Digest
		if d2, ok := cached[k]; ok {
			digest = d2
		} else {
			localOffset := int64(k)*d.PieceLength - slot.OffsetStart
			length := pieceLengthAt(d, k)
			sum, err := hasher.HashRange(ctx, c.AbsolutePath, localOffset, length)
			if err != nil {
				logRecoverable(err, c.AbsolutePath)
				return interiorVerdict{candidate: c, matched: false}
			}
			copy(digest[:], sum)
		}

		if !bytes.Equal(digest[:], d.pieceDigest(k)) {
			return interiorVerdict{candidate: c, matched: false}
		}
		computed[k] = digest
	}

	if cache != nil && len(computed) > 0 {
		cache.Store(ctx, c.WholeFileHash, d.PieceLength, computed)
	}
	return interiorVerdict{candidate: c, matched: true}
}

// pieceLengthAt returns the byte length of piece idx: PieceLength for every
// piece but the last, which may be shorter.
func pieceLengthAt(d *TorrentDescriptor, idx int) int64 {
	if idx == d.PieceCount()-1 {
		if rem := d.TotalLength() % d.PieceLength; rem != 0 {
			return rem
		}
	}
	return d.PieceLength
}

func logRecoverable(err error, path string) {
	switch {
	case errors.Is(err, ErrIoTruncated), errors.Is(err, piecehasher.ErrTruncated):
		log.Debug().Err(err).Str("path", path).Msg("matcher: truncated read, eliminating candidate")
	default:
		log.Debug().Err(err).Str("path", path).Msg("matcher: read failed, eliminating candidate")
	}
}
