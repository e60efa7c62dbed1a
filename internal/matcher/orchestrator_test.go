// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package matcher

import (
	"context"
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/piecehash"
)

// fakeSource answers Candidates from a fixed, size-indexed candidate list,
// ignoring the torrentPath ordering hint (tests don't care about order).
type fakeSource struct {
	bySize map[int64][]Candidate
}

func (f *fakeSource) Candidates(_ context.Context, _ string, size int64) ([]Candidate, error) {
	return f.bySize[size], nil
}

// writeFile writes content to dir/name and returns a Candidate describing it.
func writeFile(t *testing.T, dir, name string, content []byte) Candidate {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return Candidate{AbsolutePath: path, WholeFileHash: name, Size: int64(len(content))}
}

// digestsFor computes the torrent-style concatenated piece digests for a
// virtual stream built by concatenating parts, at the given piece length.
func digestsFor(pieceLength int64, parts ...[]byte) []byte {
	var all []byte
	for _, p := range parts {
		all = append(all, p...)
	}
	var out []byte
	for off := int64(0); off < int64(len(all)); off += pieceLength {
		end := off + pieceLength
		if end > int64(len(all)) {
			end = int64(len(all))
		}
		sum := sha1.Sum(all[off:end])
		out = append(out, sum[:]...)
	}
	return out
}

func TestMatchSingleFileExactCandidate(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 317) // 3*100 + 17
	for i := range content {
		content[i] = byte(i)
	}
	correct := writeFile(t, dir, "a.bin", content)

	d := &TorrentDescriptor{
		PieceLength:  100,
		PieceDigests: digestsFor(100, content),
		Files:        []TorrentFile{{Path: "a.bin", Length: int64(len(content))}},
	}
	require.NoError(t, d.Validate())

	source := &fakeSource{bySize: map[int64][]Candidate{int64(len(content)): {correct}}}
	results, err := Match(context.Background(), d, source, Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{correct.AbsolutePath}, results[0].Locations)
}

func TestMatchSingleFileWrongContentCandidate(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 317)
	for i := range content {
		content[i] = byte(i)
	}
	digests := digestsFor(100, content)

	corrupted := make([]byte, len(content))
	copy(corrupted, content)
	corrupted[100] ^= 0xFF // flip a byte in piece index 1

	wrong := writeFile(t, dir, "a.bin", corrupted)

	d := &TorrentDescriptor{
		PieceLength:  100,
		PieceDigests: digests,
		Files:        []TorrentFile{{Path: "a.bin", Length: int64(len(content))}},
	}
	require.NoError(t, d.Validate())

	source := &fakeSource{bySize: map[int64][]Candidate{int64(len(content)): {wrong}}}
	results, err := Match(context.Background(), d, source, Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Locations)
}

func TestMatchTwoFilesCleanBoundary(t *testing.T) {
	dir := t.TempDir()
	f1Content := make([]byte, 100)
	f2Content := make([]byte, 100)
	for i := range f1Content {
		f1Content[i] = byte(i)
	}
	for i := range f2Content {
		f2Content[i] = byte(200 - i)
	}

	c1 := writeFile(t, dir, "f1.bin", f1Content)
	c2 := writeFile(t, dir, "f2.bin", f2Content)

	d := &TorrentDescriptor{
		PieceLength:  100,
		PieceDigests: digestsFor(100, f1Content, f2Content),
		Files: []TorrentFile{
			{Path: "f1.bin", Length: 100},
			{Path: "f2.bin", Length: 100},
		},
	}
	require.NoError(t, d.Validate())

	source := &fakeSource{bySize: map[int64][]Candidate{100: {c1, c2}}}
	results, err := Match(context.Background(), d, source, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Locations, c1.AbsolutePath)
	assert.Contains(t, results[1].Locations, c2.AbsolutePath)
}

func TestMatchTwoFilesStraddlingPieceEliminatesWrongPair(t *testing.T) {
	dir := t.TempDir()
	// f1 = 90 bytes, f2 = 110 bytes; piece 0 straddles both (pieceLength=100).
	f1Correct := make([]byte, 90)
	f2Correct := make([]byte, 110)
	for i := range f1Correct {
		f1Correct[i] = byte(i + 1)
	}
	for i := range f2Correct {
		f2Correct[i] = byte(i + 50)
	}

	f1Wrong := make([]byte, 90)
	copy(f1Wrong, f1Correct)
	f1Wrong[89] ^= 0xFF // same size, different tail bytes -> different boundary piece

	c1Correct := writeFile(t, dir, "f1-correct.bin", f1Correct)
	c1Wrong := writeFile(t, dir, "f1-wrong.bin", f1Wrong)
	c2Correct := writeFile(t, dir, "f2-correct.bin", f2Correct)

	d := &TorrentDescriptor{
		PieceLength:  100,
		PieceDigests: digestsFor(100, f1Correct, f2Correct),
		Files: []TorrentFile{
			{Path: "f1.bin", Length: 90},
			{Path: "f2.bin", Length: 110},
		},
	}
	require.NoError(t, d.Validate())

	source := &fakeSource{bySize: map[int64][]Candidate{
		90:  {c1Correct, c1Wrong},
		110: {c2Correct},
	}}
	results, err := Match(context.Background(), d, source, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, []string{c1Correct.AbsolutePath}, results[0].Locations)
	assert.Equal(t, []string{c2Correct.AbsolutePath}, results[1].Locations)
}

func TestMatchAmbiguousBoundaryAcceptsBothTailCandidates(t *testing.T) {
	dir := t.TempDir()
	// Two f1 candidates at different paths hold the same bytes, so both pair
	// correctly with the one f2 candidate's head.
	f2Content := make([]byte, 110)
	for i := range f2Content {
		f2Content[i] = byte(i + 7)
	}

	base := make([]byte, 90)
	for i := range base {
		base[i] = byte(i + 1)
	}
	variantA := append([]byte(nil), base...)
	variantB := append([]byte(nil), base...)
	// f1 is only 90 bytes and fits entirely within the shared boundary piece,
	// so any byte difference between two f1 candidates would change the
	// boundary digest and eliminate one of them (exercised by
	// TestMatchTwoFilesStraddlingPieceEliminatesWrongPair above). A genuinely
	// ambiguous boundary where two *different* byte sequences both produce
	// the correct digest would require a SHA-1 collision; the achievable
	// version of spec.md §8 scenario 5 is two byte-identical local
	// duplicates under different catalog paths, both of which must survive.
	c1A := writeFile(t, dir, "f1-a.bin", variantA)
	c1B := writeFile(t, dir, "f1-b.bin", variantB)
	c2 := writeFile(t, dir, "f2.bin", f2Content)

	d := &TorrentDescriptor{
		PieceLength:  100,
		PieceDigests: digestsFor(100, base, f2Content),
		Files: []TorrentFile{
			{Path: "f1.bin", Length: 90},
			{Path: "f2.bin", Length: 110},
		},
	}
	require.NoError(t, d.Validate())

	source := &fakeSource{bySize: map[int64][]Candidate{
		90:  {c1A, c1B},
		110: {c2},
	}}
	results, err := Match(context.Background(), d, source, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.ElementsMatch(t, []string{c1A.AbsolutePath, c1B.AbsolutePath}, results[0].Locations)
	assert.Equal(t, []string{c2.AbsolutePath}, results[1].Locations)
}

// TestMatchRejectsWrongContentBeforeTrailingZeroLengthFile is a regression
// test for the final-content-slot fix-up in BuildSlots: a trailing
// zero-length file must not shadow the real last content file's boundary
// geometry and let a wrong-content candidate through unverified.
func TestMatchRejectsWrongContentBeforeTrailingZeroLengthFile(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 150) // piece_length=100: one interior piece + a short final piece
	for i := range content {
		content[i] = byte(i)
	}
	correct := writeFile(t, dir, "correct.bin", content)

	corrupted := make([]byte, len(content))
	copy(corrupted, content)
	corrupted[149] ^= 0xFF // flip a byte in the final, non-piece-aligned piece
	wrong := writeFile(t, dir, "wrong.bin", corrupted)

	d := &TorrentDescriptor{
		PieceLength:  100,
		PieceDigests: digestsFor(100, content),
		Files: []TorrentFile{
			{Path: "a.bin", Length: int64(len(content))},
			{Path: "empty.bin", Length: 0},
		},
	}
	require.NoError(t, d.Validate())

	source := &fakeSource{bySize: map[int64][]Candidate{
		int64(len(content)): {wrong},
		0:                    {{AbsolutePath: "", Size: 0}},
	}}
	results, err := Match(context.Background(), d, source, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Empty(t, results[0].Locations, "wrong-content candidate for the final content slot must be rejected")

	source.bySize[int64(len(content))] = []Candidate{correct}
	results, err = Match(context.Background(), d, source, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{correct.AbsolutePath}, results[0].Locations)
}

func TestMatchCacheHitAcrossRepeatedRuns(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 317)
	for i := range content {
		content[i] = byte(i)
	}
	correct := writeFile(t, dir, "a.bin", content)

	d := &TorrentDescriptor{
		PieceLength:  100,
		PieceDigests: digestsFor(100, content),
		Files:        []TorrentFile{{Path: "a.bin", Length: int64(len(content))}},
	}
	require.NoError(t, d.Validate())

	source := &fakeSource{bySize: map[int64][]Candidate{int64(len(content)): {correct}}}
	cache := piecehash.New(0, nil)

	first, err := Match(context.Background(), d, source, Options{Cache: cache})
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, []string{correct.AbsolutePath}, first[0].Locations)

	second, err := Match(context.Background(), d, source, Options{Cache: cache})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Locations, second[0].Locations)
	assert.Greater(t, cache.Stats().Hits, int64(0))
}
