// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"errors"
	"strings"
)

// OpenFromPath is a small convenience wrapper over New, kept as its own
// function (rather than inlining New everywhere) so callers that previously
// went through the teacher's multi-dialect Open have a single obvious
// successor. This server only ever speaks SQLite (spec.md §6 names no other
// backend for either the catalog or the piece-hash cache), so there is no
// engine switch to make here — see DESIGN.md for why the teacher's Postgres
// dialect was dropped rather than carried forward unused.
func OpenFromPath(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database: path is required")
	}
	return New(path)
}
