// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package matcher

// Slot is the byte range in the torrent's virtual stream occupied by one
// torrent file, plus the piece-coverage geometry needed to verify it.
//
// Slots are derived once per match by BuildSlots and are read-only for the
// rest of the match's lifetime.
type Slot struct {
	PathInTorrent string
	Index         int
	Size          int64
	OffsetStart   int64
	OffsetEnd     int64
	FirstPiece    int
	LastPiece     int
	// PrefixLen is the number of bytes the first piece borrows from the
	// previous slot. Zero iff the slot starts piece-aligned.
	PrefixLen int64
	// SuffixLen is the number of bytes the last piece borrows from the next
	// slot. Zero iff the slot ends piece-aligned or is the final slot.
	SuffixLen int64
	// InteriorPieces holds the piece indices wholly contained within this
	// slot, in ascending order. May be empty.
	InteriorPieces []int
}

// HasLeadingBoundary reports whether this slot's first piece straddles the
// previous slot (PrefixLen > 0).
func (s *Slot) HasLeadingBoundary() bool {
	return s.PrefixLen > 0
}

// HasTrailingBoundary reports whether this slot's last piece straddles the
// next slot (SuffixLen > 0).
func (s *Slot) HasTrailingBoundary() bool {
	return s.SuffixLen > 0
}

// IsZeroLength reports whether this slot corresponds to a zero-length
// torrent file. Such slots have no pieces at all (§9 open question: every
// zero-length local file in the catalog is treated as a match).
func (s *Slot) IsZeroLength() bool {
	return s.Size == 0
}

// BuildSlots is the pure function from a validated TorrentDescriptor to its
// ordered sequence of slots (C3). Callers must call Validate on the
// descriptor first; BuildSlots does not re-derive piece_count itself beyond
// what it needs to compute per-slot geometry.
//
// BuildSlots fixes the source implementation's global-offset indexing bug
// (§9): piece indices are derived per slot from that slot's own
// OffsetStart/OffsetEnd rather than from a running "globalOffset +
// i*pieceLength" computation that misaligns whenever a slot does not start
// on a piece boundary.
func BuildSlots(d *TorrentDescriptor) []Slot {
	pl := d.PieceLength
	slots := make([]Slot, len(d.Files))
	var offset int64
	for i, f := range d.Files {
		s := Slot{
			Index:         i,
			PathInTorrent: f.Path,
			Size:          f.Length,
			OffsetStart:   offset,
			OffsetEnd:     offset + f.Length,
		}
		offset = s.OffsetEnd

		if s.Size > 0 {
			s.FirstPiece = int(s.OffsetStart / pl)
			s.LastPiece = int((s.OffsetEnd - 1) / pl)
			s.PrefixLen = s.OffsetStart % pl
			if s.OffsetEnd%pl != 0 {
				s.SuffixLen = pl - (s.OffsetEnd % pl)
			}
			s.InteriorPieces = interiorPieceRange(s.FirstPiece, s.LastPiece, s.PrefixLen, s.SuffixLen)
		} else {
			// Zero-length file: no pieces at all, leading/trailing flags stay
			// false, FirstPiece/LastPiece are left at the slot's offset piece
			// for informational purposes only (no hashing ever touches them).
			s.FirstPiece = int(s.OffsetStart / pl)
			s.LastPiece = s.FirstPiece
		}

		slots[i] = s
	}

	// The final *content* slot never borrows from a "next" slot even if its
	// last byte doesn't land on a piece boundary at the very end of the
	// stream: there is no trailing data to straddle into. This must be the
	// last non-zero-length slot, not the literal last array entry - one or
	// more zero-length files after the real final content file must not
	// shadow this fix-up, or that content slot's trailing piece would be
	// left looking like an unverified boundary that never gets joined.
	if idx := lastContentSlotIndex(slots); idx >= 0 {
		last := &slots[idx]
		if last.SuffixLen > 0 {
			last.InteriorPieces = append(last.InteriorPieces, last.LastPiece)
			last.SuffixLen = 0
		}
	}

	return slots
}

// lastContentSlotIndex returns the index of the last non-zero-length slot,
// or -1 if every slot is zero-length.
func lastContentSlotIndex(slots []Slot) int {
	for i := len(slots) - 1; i >= 0; i-- {
		if slots[i].Size > 0 {
			return i
		}
	}
	return -1
}

// interiorPieceRange returns the contiguous range of piece indices in
// [firstPiece, lastPiece] that are not claimed as a boundary piece by
// prefixLen/suffixLen.
func interiorPieceRange(firstPiece, lastPiece int, prefixLen, suffixLen int64) []int {
	lo := firstPiece
	if prefixLen > 0 {
		lo++
	}
	hi := lastPiece
	if suffixLen > 0 {
		hi--
	}
	if lo > hi {
		return nil
	}
	pieces := make([]int, 0, hi-lo+1)
	for k := lo; k <= hi; k++ {
		pieces = append(pieces, k)
	}
	return pieces
}
