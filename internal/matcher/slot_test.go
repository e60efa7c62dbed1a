// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptorOf(pieceLength int64, pieceCount int, fileLengths ...int64) *TorrentDescriptor {
	files := make([]TorrentFile, len(fileLengths))
	for i, l := range fileLengths {
		files[i] = TorrentFile{Path: "f", Length: l}
	}
	return &TorrentDescriptor{
		PieceLength:  pieceLength,
		PieceDigests: make([]byte, pieceCount*pieceDigestSize),
		Files:        files,
	}
}

func TestBuildSlotsSingleFileExactPieces(t *testing.T) {
	// 3 pieces exactly, one file: no boundaries at all, three interior pieces.
	d := descriptorOf(100, 3, 300)
	require.NoError(t, d.Validate())

	slots := BuildSlots(d)
	require.Len(t, slots, 1)
	s := slots[0]
	assert.Equal(t, int64(0), s.OffsetStart)
	assert.Equal(t, int64(300), s.OffsetEnd)
	assert.Equal(t, 0, s.FirstPiece)
	assert.Equal(t, 2, s.LastPiece)
	assert.False(t, s.HasLeadingBoundary())
	assert.False(t, s.HasTrailingBoundary())
	assert.Equal(t, []int{0, 1, 2}, s.InteriorPieces)
}

func TestBuildSlotsTwoFilesCleanBoundary(t *testing.T) {
	// f1 = one piece, f2 = one piece: no straddling piece (scenario 3).
	d := descriptorOf(100, 2, 100, 100)
	require.NoError(t, d.Validate())

	slots := BuildSlots(d)
	require.Len(t, slots, 2)
	assert.False(t, slots[0].HasTrailingBoundary())
	assert.False(t, slots[1].HasLeadingBoundary())
	assert.Equal(t, []int{0}, slots[0].InteriorPieces)
	assert.Equal(t, []int{1}, slots[1].InteriorPieces)
}

func TestBuildSlotsTwoFilesStraddlingPiece(t *testing.T) {
	// f1 = piece_length - 10, f2 = piece_length + 10: piece 0 straddles (scenario 4).
	d := descriptorOf(100, 2, 90, 110)
	require.NoError(t, d.Validate())

	slots := BuildSlots(d)
	require.Len(t, slots, 2)

	f1, f2 := slots[0], slots[1]
	assert.Equal(t, 0, f1.LastPiece)
	assert.True(t, f1.HasTrailingBoundary())
	assert.Equal(t, int64(10), f1.SuffixLen)
	assert.Empty(t, f1.InteriorPieces)

	assert.Equal(t, 0, f2.FirstPiece)
	assert.True(t, f2.HasLeadingBoundary())
	assert.Equal(t, int64(90), f2.PrefixLen)
	assert.Equal(t, f1.SuffixLen+f2.PrefixLen, d.PieceLength)
	assert.Equal(t, []int{1}, f2.InteriorPieces)
}

func TestBuildSlotsFinalSlotNeverHasTrailingBoundary(t *testing.T) {
	// Last piece is short (not a full piece_length) but there is no next
	// slot to straddle into, so it must be an ordinary interior piece.
	d := descriptorOf(100, 2, 150)
	require.NoError(t, d.Validate())

	slots := BuildSlots(d)
	require.Len(t, slots, 1)
	s := slots[0]
	assert.False(t, s.HasTrailingBoundary())
	assert.Equal(t, []int{0, 1}, s.InteriorPieces)
}

func TestBuildSlotsFinalSlotFixupSkipsTrailingZeroLengthFiles(t *testing.T) {
	// The real final content file ends mid-piece (1000 bytes, piece_length
	// 1024), followed by a zero-length file. The literal last array entry is
	// the zero-length slot, but the fix-up must still land on the content
	// slot before it rather than leaving its bogus SuffixLen in place.
	d := descriptorOf(1024, 1, 1000, 0)
	require.NoError(t, d.Validate())

	slots := BuildSlots(d)
	require.Len(t, slots, 2)

	content, zero := slots[0], slots[1]
	assert.True(t, zero.IsZeroLength())
	assert.False(t, content.HasTrailingBoundary())
	assert.Equal(t, int64(0), content.SuffixLen)
	assert.Equal(t, []int{0}, content.InteriorPieces)
}

func TestBuildSlotsFinalSlotFixupSkipsMultipleTrailingZeroLengthFiles(t *testing.T) {
	d := descriptorOf(1024, 1, 1000, 0, 0)
	require.NoError(t, d.Validate())

	slots := BuildSlots(d)
	require.Len(t, slots, 3)

	content := slots[0]
	assert.False(t, content.HasTrailingBoundary())
	assert.Equal(t, []int{0}, content.InteriorPieces)
}

func TestBuildSlotsZeroLengthFileIsTransparent(t *testing.T) {
	// A zero-length file between two content files doesn't introduce or
	// absorb any boundary geometry between its neighbors.
	d := descriptorOf(100, 2, 90, 0, 110)
	require.NoError(t, d.Validate())

	slots := BuildSlots(d)
	require.Len(t, slots, 3)
	assert.True(t, slots[1].IsZeroLength())
	assert.True(t, slots[0].HasTrailingBoundary())
	assert.True(t, slots[2].HasLeadingBoundary())
	assert.Equal(t, slots[0].LastPiece, slots[2].FirstPiece)
}

func TestTorrentDescriptorValidate(t *testing.T) {
	t.Run("rejects zero piece length", func(t *testing.T) {
		d := &TorrentDescriptor{PieceLength: 0, PieceDigests: make([]byte, 20), Files: []TorrentFile{{Length: 1}}}
		assert.ErrorIs(t, d.Validate(), ErrTorrentMalformed)
	})

	t.Run("rejects digest length not a multiple of 20", func(t *testing.T) {
		d := &TorrentDescriptor{PieceLength: 10, PieceDigests: make([]byte, 15), Files: []TorrentFile{{Length: 10}}}
		assert.ErrorIs(t, d.Validate(), ErrTorrentMalformed)
	})

	t.Run("rejects digest count mismatch", func(t *testing.T) {
		d := &TorrentDescriptor{PieceLength: 10, PieceDigests: make([]byte, 20), Files: []TorrentFile{{Length: 25}}}
		assert.ErrorIs(t, d.Validate(), ErrTorrentMalformed)
	})

	t.Run("accepts a well-formed descriptor", func(t *testing.T) {
		d := descriptorOf(100, 3, 300)
		assert.NoError(t, d.Validate())
	})
}
