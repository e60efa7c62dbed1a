// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/moistari/rls"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/matcher"
	"github.com/Dark3clipse/reflink-dedupe-server/pkg/stringutils"
)

// orderCandidates sorts candidates in place by the C4 ordering heuristic
// (spec.md §4.4, §9): exact basename match with torrentPath first, then
// longest-common-substring of normalized basenames, then a release-token
// similarity signal, with ties broken by the candidates' existing (catalog
// insertion) order. The order never affects which candidates are considered,
// only the sequence results are reported in.
func orderCandidates(torrentPath string, candidates []matcher.Candidate) {
	targetBase := normalizeBasename(torrentPath)
	targetRelease := rls.ParseString(filepath.Base(torrentPath))

	scored := make([]scoredCandidate, len(candidates))
	for i, c := range candidates {
		base := normalizeBasename(c.AbsolutePath)
		scored[i] = scoredCandidate{
			candidate:    c,
			exactBase:    base == targetBase,
			lcs:          longestCommonSubstring(targetBase, base),
			releaseMatch: releaseTokensMatch(targetRelease, rls.ParseString(filepath.Base(c.AbsolutePath))),
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].less(scored[j])
	})

	for i, sc := range scored {
		candidates[i] = sc.candidate
	}
}

// scoredCandidate pairs a Candidate with its precomputed ordering signals so
// sort.SliceStable can permute both together; ties fall back to the stable
// sort's preservation of the slice's original (catalog insertion) order.
type scoredCandidate struct {
	candidate    matcher.Candidate
	exactBase    bool
	lcs          int
	releaseMatch bool
}

func (a scoredCandidate) less(b scoredCandidate) bool {
	if a.exactBase != b.exactBase {
		return a.exactBase
	}
	if a.lcs != b.lcs {
		return a.lcs > b.lcs
	}
	if a.releaseMatch != b.releaseMatch {
		return a.releaseMatch
	}
	return false
}

// normalizeBasename folds a filename down to a form comparable across minor
// punctuation and diacritic differences between how a torrent names a file
// and how the same release was named when it was indexed locally.
func normalizeBasename(p string) string {
	return stringutils.NormalizeForMatching(filepath.Base(p))
}

// longestCommonSubstring returns the length of the longest contiguous
// substring shared by a and b, via classic O(len(a)*len(b)) DP. Basenames
// are short (a few hundred bytes at most) so this is cheap.
func longestCommonSubstring(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	best := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > best {
					best = curr[j]
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return best
}

// releaseTokensMatch reports whether two parsed release names plausibly
// describe the same release, used only as a secondary ordering signal (never
// for correctness). Grounded on internal/services/crossseed's title/year
// comparison in matching.go, simplified since we don't need the
// TV-vs-movie branching that service performs for cross-seed alignment.
func releaseTokensMatch(a, b rls.Release) bool {
	at, bt := strings.ToLower(a.Title), strings.ToLower(b.Title)
	if at == "" || bt == "" {
		return false
	}
	if at != bt {
		return false
	}
	if a.Year != 0 && b.Year != 0 && a.Year != b.Year {
		return false
	}
	return true
}
