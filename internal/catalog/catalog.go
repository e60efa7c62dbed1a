// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package catalog implements the candidate source (C4): a read-only view
// over the external file catalog described in spec.md §6, queried by size
// and ordered by a stable heuristic that favors likely matches without
// affecting correctness (spec.md §4.4, §9 open question).
//
// Grounded on internal/services/filesmanager.Repository's querier-over-
// dbinterface.Querier shape in the teacher, and on
// internal/services/crossseed/align.go's size-bucketed candidate matching
// for the ordering heuristic (basename-first, then substring similarity).
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/dbinterface"
	"github.com/Dark3clipse/reflink-dedupe-server/internal/matcher"
	"github.com/Dark3clipse/reflink-dedupe-server/pkg/hashutil"
	"github.com/Dark3clipse/reflink-dedupe-server/pkg/pathcmp"
	"github.com/rs/zerolog/log"
)

// Source is the C4 candidate source.
type Source struct {
	db        dbinterface.Querier
	dedupRoot string
}

// New wraps db as a read-only candidate source. dedupRoot resolves
// catalog rows whose stored path is relative (spec.md §4.4); it may be empty
// if the catalog stores only absolute paths.
func New(db dbinterface.Querier, dedupRoot string) *Source {
	return &Source{db: db, dedupRoot: dedupRoot}
}

// EnsureSchema creates the files table and its size/hash indexes if absent.
// The core treats the catalog as read-only in steady state; this exists so
// tests and standalone tooling can stand up a catalog without a separate
// migration step.
func EnsureSchema(ctx context.Context, db dbinterface.Querier) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS files (
	path      TEXT    NOT NULL,
	hash      TEXT    NOT NULL,
	file_size INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_size ON files(file_size);
CREATE INDEX IF NOT EXISTS idx_files_hash ON files(hash);
`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("catalog: ensure schema: %w", err)
	}
	return nil
}

// Candidates returns every catalog entry whose file_size equals size,
// resolved to absolute paths, sorted by the ordering heuristic relative to
// torrentPath. Entries whose on-disk path no longer exists are silently
// skipped (spec.md §4.4). The returned order is advisory only.
func (s *Source) Candidates(ctx context.Context, torrentPath string, size int64) ([]matcher.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, hash FROM files WHERE file_size = ?`, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", matcher.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	type row struct {
		rawPath string
		hash    string
	}
	var raw []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.rawPath, &r.hash); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", matcher.ErrCatalogUnavailable, err)
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", matcher.ErrCatalogUnavailable, err)
	}

	candidates := make([]matcher.Candidate, 0, len(raw))
	for _, r := range raw {
		abs := s.resolvePath(r.rawPath)
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			log.Debug().Err(err).Str("path", abs).Msg("catalog: stat failed, skipping candidate")
			continue
		}
		if info.IsDir() || info.Size() != size {
			// The catalog row is stale (size drifted since indexing); skip it
			// rather than feed the verifier a mismatched length.
			continue
		}
		candidates = append(candidates, matcher.Candidate{
			AbsolutePath:  abs,
			WholeFileHash: hashutil.Normalize(r.hash),
			Size:          size,
		})
	}

	orderCandidates(torrentPath, candidates)
	return candidates, nil
}

func (s *Source) resolvePath(p string) string {
	normalized := pathcmp.NormalizePath(p)
	if filepath.IsAbs(normalized) || s.dedupRoot == "" {
		return filepath.FromSlash(normalized)
	}
	return filepath.Join(s.dedupRoot, filepath.FromSlash(normalized))
}
