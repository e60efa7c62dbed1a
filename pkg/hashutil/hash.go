// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hashutil normalizes the whole-file hashes stored in the catalog
// and piece-hash cache so that case or incidental whitespace differences
// between how a hash was indexed and how it is looked up never cause a
// false cache miss or a spurious non-match.
package hashutil

import "github.com/Dark3clipse/reflink-dedupe-server/pkg/stringutils"

// Normalize canonicalizes a hash by trimming whitespace and lowercasing it.
// Returns an empty string if the input is blank. The returned string is
// interned via Go's unique package, since the same few whole-file hashes
// recur across many slots and candidates during a single match.
func Normalize(hash string) string {
	return stringutils.InternNormalized(hash)
}
