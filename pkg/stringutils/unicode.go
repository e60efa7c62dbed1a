// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stringutils

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeUnicode removes diacritics and decomposes ligatures:
//   - "Shōgun" → "Shogun"
//   - "Amélie" → "Amelie"
//   - "naïve" → "naive"
//   - "Björk" → "Bjork"
//   - "æ" → "ae"
//
// Adapted from the teacher's crossseed unicode normalization, used here by
// the catalog's candidate-ordering heuristic so release names that differ
// only by diacritics or transliteration still compare equal.
func NormalizeUnicode(s string) string {
	// Handle special characters NFKD doesn't decompose to ASCII equivalents
	// (distinct letters in Nordic/Germanic languages, not composed characters).
	s = strings.ReplaceAll(s, "æ", "ae")
	s = strings.ReplaceAll(s, "Æ", "AE")
	s = strings.ReplaceAll(s, "œ", "oe")
	s = strings.ReplaceAll(s, "Œ", "OE")
	s = strings.ReplaceAll(s, "ø", "o")
	s = strings.ReplaceAll(s, "Ø", "O")
	s = strings.ReplaceAll(s, "ß", "ss")
	s = strings.ReplaceAll(s, "ð", "d")
	s = strings.ReplaceAll(s, "Ð", "D")
	s = strings.ReplaceAll(s, "þ", "th")
	s = strings.ReplaceAll(s, "Þ", "TH")

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// NormalizeForMatching applies full normalization for filename/release-name
// comparison: unicode folding, lowercasing, and stripping the punctuation
// that commonly varies between otherwise-identical release names.
//   - "Shōgun S01" → "shogun s01"
//   - "Bob's Burgers" → "bobs burgers"
//   - "CSI: Miami" → "csi miami"
//   - "Spider-Man" → "spider man"
func NormalizeForMatching(s string) string {
	s = NormalizeUnicode(s)
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "’", "")
	s = strings.ReplaceAll(s, "‘", "")
	s = strings.ReplaceAll(s, "`", "")
	s = strings.ReplaceAll(s, ":", "")
	s = strings.ReplaceAll(s, "&", " and ")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(s), " ")
}
