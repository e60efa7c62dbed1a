// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package matcher

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/piecehash"
	"github.com/Dark3clipse/reflink-dedupe-server/internal/piecehasher"
)

// CandidateSource is C4: given a torrent-relative path (used only for the
// advisory ordering heuristic) and a size, it returns every local file the
// catalog knows of with that size.
type CandidateSource interface {
	Candidates(ctx context.Context, torrentPath string, size int64) ([]Candidate, error)
}

// Options configures a Match call's resource caps and observability hooks.
// The zero value is valid and uses the spec's defaults.
type Options struct {
	// Concurrency bounds outstanding file reads (spec.md §4.2/§5, default 8).
	Concurrency int
	// BoundaryCombinatorialCap bounds the candidate product considered per
	// boundary before falling back to a false-positive-biased result
	// (spec.md §5/§7, default 10000).
	BoundaryCombinatorialCap int
	// Progress, if non-nil, receives updates as slots are processed.
	Progress ProgressFunc
	// Cache backs C1. A nil Cache makes every match recompute from scratch.
	Cache *piecehash.Store
}

// Match is C7: it builds slots (C3), fetches candidates per slot (C4), runs
// interior verification (C5), then boundary joins across the whole torrent
// (C6), and assembles the final per-slot result list.
func Match(ctx context.Context, d *TorrentDescriptor, source CandidateSource, opts Options) ([]SlotResult, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	slots := BuildSlots(d)
	hasher := piecehasher.New(opts.Concurrency)

	survivors := make(map[int][]Candidate, len(slots))
	zeroLength := make(map[int][]Candidate)

	for i := range slots {
		slot := &slots[i]
		reportProgress(opts.Progress, Progress{Stage: "candidates", SlotIndex: i, SlotCount: len(slots)})

		candidates, err := source.Candidates(ctx, slot.PathInTorrent, slot.Size)
		if err != nil {
			return nil, fmt.Errorf("matcher: slot %d candidates: %w", i, err)
		}

		if slot.IsZeroLength() {
			// §9 open question: every zero-length local file counts as a
			// match, not just one — there is no content to distinguish them by.
			zeroLength[i] = candidates
			continue
		}

		verdicts := verifyInterior(ctx, d, slot, candidates, opts.Cache, hasher)
		var kept []Candidate
		for _, v := range verdicts {
			if v.matched {
				kept = append(kept, v.candidate)
			}
		}
		survivors[i] = kept

		reportProgress(opts.Progress, Progress{
			Stage: "interior_verified", SlotIndex: i, SlotCount: len(slots),
			CandidatesVerified: len(kept), CandidatesTotal: len(candidates),
		})
	}

	bj := newBoundaryJoiner(d, slots, hasher, opts.BoundaryCombinatorialCap)
	survivors = bj.join(ctx, survivors)

	results := make([]SlotResult, len(slots))
	for i, slot := range slots {
		var accepted []Candidate
		if slot.IsZeroLength() {
			accepted = zeroLength[i]
		} else {
			accepted = survivors[i]
		}

		locations := make([]string, 0, len(accepted))
		for _, c := range accepted {
			locations = append(locations, c.AbsolutePath)
		}
		results[i] = SlotResult{
			Path:      slot.PathInTorrent,
			Size:      slot.Size,
			Locations: locations,
		}
	}

	reportProgress(opts.Progress, Progress{Stage: "done", SlotIndex: len(slots), SlotCount: len(slots)})
	log.Debug().Int("slots", len(slots)).Msg("matcher: match complete")
	return results, nil
}

func reportProgress(fn ProgressFunc, p Progress) {
	if fn != nil {
		fn(p)
	}
}
