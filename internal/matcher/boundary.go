// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package matcher

import (
	"bytes"
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/piecehasher"
)

// DefaultBoundaryCombinatorialCap bounds the candidate product considered
// per boundary before falling back to a false-positive-biased result
// (spec.md §5, §7 BoundaryFallbackOverflow).
const DefaultBoundaryCombinatorialCap = 10000

// boundaryJoiner runs C6: it takes each slot's interior-verified candidates
// and narrows them further across cross-file piece boundaries, iterating to
// a fixed point since eliminating one slot's candidates can eliminate its
// neighbor's (spec.md §4.6 "Chain propagation").
type boundaryJoiner struct {
	descriptor *TorrentDescriptor
	slots      []Slot
	hasher     *piecehasher.Hasher
	cap        int
}

func newBoundaryJoiner(d *TorrentDescriptor, slots []Slot, hasher *piecehasher.Hasher, cap int) *boundaryJoiner {
	if cap <= 0 {
		cap = DefaultBoundaryCombinatorialCap
	}
	return &boundaryJoiner{descriptor: d, slots: slots, hasher: hasher, cap: cap}
}

// join narrows survivors (slot index -> interior-verified candidates) in
// place across all boundaries and returns the result. survivors for slots
// with no candidates are simply absent/empty and are left alone.
func (bj *boundaryJoiner) join(ctx context.Context, survivors map[int][]Candidate) map[int][]Candidate {
	content := contentSlotIndices(bj.slots)
	if len(content) < 2 {
		return survivors
	}

	maxPasses := 2 * (len(content) - 1)
	if maxPasses < 1 {
		maxPasses = 1
	}

	for pass := 0; pass < maxPasses; pass++ {
		changed := false
		idx := 0
		for idx < len(content)-1 {
			a := content[idx]
			b := content[idx+1]

			if idx+2 < len(content) && isSinglePieceMiddle(&bj.slots[b]) {
				c := content[idx+2]
				if bj.tripleJoin(ctx, a, b, c, survivors) {
					changed = true
				}
				idx += 2
				continue
			}

			if bj.pairwiseJoin(ctx, a, b, survivors) {
				changed = true
			}
			idx++
		}
		if !changed {
			break
		}
	}

	return survivors
}

// contentSlotIndices returns the indices of slots with non-zero size, in
// torrent order. Zero-length slots carry no bytes and are transparent to
// boundary geometry: the content slots on either side of one are adjacent in
// the byte stream exactly as if it weren't there.
func contentSlotIndices(slots []Slot) []int {
	var out []int
	for i, s := range slots {
		if s.Size > 0 {
			out = append(out, i)
		}
	}
	return out
}

// isSinglePieceMiddle reports whether s fits entirely inside one piece that
// is also claimed by a neighbor on each side — the §4.6 "whole-file-in-one-
// piece" case requiring a three-way join instead of two independent
// pairwise ones.
func isSinglePieceMiddle(s *Slot) bool {
	return s.FirstPiece == s.LastPiece && s.HasLeadingBoundary() && s.HasTrailingBoundary()
}

// pairwiseJoin narrows survivors[a] and survivors[b] across the single piece
// they share (slots[a].LastPiece == slots[b].FirstPiece). It returns true if
// either side's survivor set shrank.
func (bj *boundaryJoiner) pairwiseJoin(ctx context.Context, a, b int, survivors map[int][]Candidate) bool {
	left := bj.slots[a]
	right := bj.slots[b]
	if !left.HasTrailingBoundary() {
		// Piece-aligned boundary: no cross-file piece here, nothing to join.
		return false
	}

	piece := left.LastPiece
	target := bj.descriptor.pieceDigest(piece)
	tailLen := right.PrefixLen
	headLen := left.SuffixLen

	lefts := survivors[a]
	rights := survivors[b]
	if len(lefts) == 0 || len(rights) == 0 {
		return false
	}

	if len(lefts)*len(rights) > bj.cap {
		log.Warn().Int("piece", piece).Int("left_candidates", len(lefts)).Int("right_candidates", len(rights)).
			Msg("matcher: boundary combinatorial cap exceeded, reporting all candidates as possible survivors")
		return false
	}

	leftSnapshots := make([]piecehasher.Snapshot, len(lefts))
	for i, l := range lefts {
		tail, err := bj.hasher.ReadBytes(ctx, l.AbsolutePath, l.Size-tailLen, tailLen)
		if err != nil {
			log.Debug().Err(err).Str("path", l.AbsolutePath).Msg("matcher: boundary tail read failed, eliminating candidate")
			continue
		}
		snap, err := piecehasher.NewSnapshot(tail)
		if err != nil {
			log.Debug().Err(err).Msg("matcher: snapshot failed, eliminating candidate")
			continue
		}
		leftSnapshots[i] = snap
	}

	rightHeads := make([][]byte, len(rights))
	for j, r := range rights {
		head, err := bj.hasher.ReadBytes(ctx, r.AbsolutePath, 0, headLen)
		if err != nil {
			log.Debug().Err(err).Str("path", r.AbsolutePath).Msg("matcher: boundary head read failed, eliminating candidate")
			continue
		}
		rightHeads[j] = head
	}

	leftSurvives := make([]bool, len(lefts))
	rightSurvives := make([]bool, len(rights))
	for i, snap := range leftSnapshots {
		if snap == nil {
			continue
		}
		for j, head := range rightHeads {
			if head == nil && headLen > 0 {
				continue
			}
			digest, err := snap.Finalize(head)
			if err != nil {
				continue
			}
			if bytes.Equal(digest, target) {
				leftSurvives[i] = true
				rightSurvives[j] = true
			}
		}
	}

	changedLeft := applySurvival(survivors, a, lefts, leftSurvives)
	changedRight := applySurvival(survivors, b, rights, rightSurvives)
	return changedLeft || changedRight
}

// tripleJoin narrows survivors[a] (left), survivors[b] (middle, single-piece),
// and survivors[c] (right) across the one piece all three share.
func (bj *boundaryJoiner) tripleJoin(ctx context.Context, a, b, c int, survivors map[int][]Candidate) bool {
	left := bj.slots[a]
	middle := bj.slots[b]
	right := bj.slots[c]
	piece := left.LastPiece
	target := bj.descriptor.pieceDigest(piece)
	tailLen := middle.PrefixLen
	headLen := middle.SuffixLen

	lefts := survivors[a]
	middles := survivors[b]
	rights := survivors[c]
	if len(lefts) == 0 || len(middles) == 0 || len(rights) == 0 {
		return false
	}

	if len(lefts)*len(middles)*len(rights) > bj.cap {
		log.Warn().Int("piece", piece).Msg("matcher: boundary triple combinatorial cap exceeded, reporting all candidates as possible survivors")
		return false
	}

	leftSnaps := make([]piecehasher.Snapshot, len(lefts))
	for i, l := range lefts {
		tail, err := bj.hasher.ReadBytes(ctx, l.AbsolutePath, l.Size-tailLen, tailLen)
		if err != nil {
			continue
		}
		snap, err := piecehasher.NewSnapshot(tail)
		if err != nil {
			continue
		}
		leftSnaps[i] = snap
	}

	middleBytes := make([][]byte, len(middles))
	for j, m := range middles {
		content, err := bj.hasher.ReadBytes(ctx, m.AbsolutePath, 0, m.Size)
		if err != nil {
			continue
		}
		middleBytes[j] = content
	}

	rightHeads := make([][]byte, len(rights))
	for k, r := range rights {
		head, err := bj.hasher.ReadBytes(ctx, r.AbsolutePath, 0, headLen)
		if err != nil {
			continue
		}
		rightHeads[k] = head
	}

	leftSurvives := make([]bool, len(lefts))
	middleSurvives := make([]bool, len(middles))
	rightSurvives := make([]bool, len(rights))

	for i, snap := range leftSnaps {
		if snap == nil {
			continue
		}
		for j, mid := range middleBytes {
			if mid == nil && middles[j].Size > 0 {
				continue
			}
			extended, err := snap.Extend(mid)
			if err != nil {
				continue
			}
			for k, head := range rightHeads {
				if head == nil && headLen > 0 {
					continue
				}
				digest, err := extended.Finalize(head)
				if err != nil {
					continue
				}
				if bytes.Equal(digest, target) {
					leftSurvives[i] = true
					middleSurvives[j] = true
					rightSurvives[k] = true
				}
			}
		}
	}

	changedLeft := applySurvival(survivors, a, lefts, leftSurvives)
	changedMiddle := applySurvival(survivors, b, middles, middleSurvives)
	changedRight := applySurvival(survivors, c, rights, rightSurvives)
	return changedLeft || changedMiddle || changedRight
}

// applySurvival replaces survivors[slotIdx] with the subset of original
// flagged true, preserving order. Returns whether the set shrank.
func applySurvival(survivors map[int][]Candidate, slotIdx int, original []Candidate, survives []bool) bool {
	kept := make([]Candidate, 0, len(original))
	for i, c := range original {
		if survives[i] {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(original) {
		return false
	}
	survivors[slotIdx] = kept
	return true
}
