// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package stringutils provides string normalization and interning helpers
// via Go 1.23's unique package, for strings that recur often enough across a
// match (whole-file hashes, release basenames) that canonicalizing them is
// worth the lookup.
package stringutils

import (
	"strings"
	"unique"
)

// InternNormalized interns a trimmed and lowercased version of the string.
// This is the canonical form for case-insensitive string matching: the same
// whole-file hash recurs across many slots and candidates during a single
// match, so canonicalizing it once avoids redundant allocations.
func InternNormalized(s string) string {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "" {
		return ""
	}
	return unique.Make(normalized).Value()
}
