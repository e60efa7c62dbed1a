// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package piecehash

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/dbinterface"
)

// Repository persists piece-hash rows to the file_pieces table described in
// spec.md §6. It implements Persister. Grounded on
// internal/services/filesmanager.Repository in the teacher: a thin struct
// over a dbinterface.Querier, one method per operation, no ORM.
type Repository struct {
	db dbinterface.Querier
}

// NewRepository wraps db (either *sql.DB or a *database.DB single-writer
// handle) as a Persister.
func NewRepository(db dbinterface.Querier) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the file_pieces table and its index if absent, per
// spec.md §6 ("the engine creates the schema if absent").
func EnsureSchema(ctx context.Context, db dbinterface.Querier) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS file_pieces (
	file_hash    TEXT    NOT NULL,
	piece_length INTEGER NOT NULL,
	piece_index  INTEGER NOT NULL,
	piece_hash   TEXT    NOT NULL,
	PRIMARY KEY (file_hash, piece_length, piece_index)
);
CREATE INDEX IF NOT EXISTS idx_file_pieces_hash_len ON file_pieces(file_hash, piece_length);
`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("piecehash: ensure schema: %w", err)
	}
	return nil
}

// Lookup returns every persisted digest for (wholeFileHash, pieceLength).
func (r *Repository) Lookup(ctx context.Context, wholeFileHash string, pieceLength int64) (Mapping, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT piece_index, piece_hash FROM file_pieces WHERE file_hash = ? AND piece_length = ?`,
		wholeFileHash, pieceLength)
	if err != nil {
		return nil, fmt.Errorf("piecehash: lookup query: %w", err)
	}
	defer rows.Close()

	out := Mapping{}
	for rows.Next() {
		var idx int
		var hexDigest string
		if err := rows.Scan(&idx, &hexDigest); err != nil {
			return nil, fmt.Errorf("piecehash: lookup scan: %w", err)
		}
		d, err := decodeDigest(hexDigest)
		if err != nil {
			// A corrupt row is treated as a miss for that piece only (§7
			// CacheReadCorrupt); the rest of the mapping is still usable.
			continue
		}
		out[idx] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("piecehash: lookup rows: %w", err)
	}
	return out, nil
}

// Store idempotently upserts every entry of m for (wholeFileHash, pieceLength).
func (r *Repository) Store(ctx context.Context, wholeFileHash string, pieceLength int64, m Mapping) error {
	for idx, d := range m {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO file_pieces (file_hash, piece_length, piece_index, piece_hash)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(file_hash, piece_length, piece_index) DO UPDATE SET piece_hash = excluded.piece_hash`,
			wholeFileHash, pieceLength, idx, hex.EncodeToString(d[:]))
		if err != nil {
			return fmt.Errorf("piecehash: store piece %d: %w", idx, err)
		}
	}
	return nil
}

func decodeDigest(hexDigest string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(hexDigest)
	if err != nil {
		return d, err
	}
	if len(b) != len(d) {
		return d, errors.New("piecehash: digest wrong length")
	}
	copy(d[:], b)
	return d, nil
}

// ensure *sql.DB satisfies dbinterface.Querier at compile time via this
// package's expected usage (documentation only, no behavior).
var _ dbinterface.Querier = (*sql.DB)(nil)
