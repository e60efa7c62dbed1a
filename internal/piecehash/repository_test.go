// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package piecehash

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dark3clipse/reflink-dedupe-server/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "piecehash.db")
	db, err := database.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, EnsureSchema(context.Background(), db))
	return db
}

func TestRepositoryStoreThenLookupRoundTrips(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	m := Mapping{
		0: digestOf("piece-zero"),
		1: digestOf("piece-one"),
	}
	require.NoError(t, repo.Store(ctx, "abc123", 524288, m))

	got, err := repo.Lookup(ctx, "abc123", 524288)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestRepositoryLookupMissReturnsEmptyMapping(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)

	got, err := repo.Lookup(context.Background(), "no-such-hash", 1024)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRepositoryStoreIsIdempotentUpsert(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	first := Mapping{0: digestOf("v1")}
	require.NoError(t, repo.Store(ctx, "h", 100, first))

	second := Mapping{0: digestOf("v2"), 1: digestOf("v3")}
	require.NoError(t, repo.Store(ctx, "h", 100, second))

	got, err := repo.Lookup(ctx, "h", 100)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestRepositoryKeysAreScopedByPieceLength(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, "h", 100, Mapping{0: digestOf("a")}))
	require.NoError(t, repo.Store(ctx, "h", 200, Mapping{0: digestOf("b")}))

	got100, err := repo.Lookup(ctx, "h", 100)
	require.NoError(t, err)
	got200, err := repo.Lookup(ctx, "h", 200)
	require.NoError(t, err)

	assert.Equal(t, Mapping{0: digestOf("a")}, got100)
	assert.Equal(t, Mapping{0: digestOf("b")}, got200)
}

func digestOf(s string) Digest {
	var d Digest
	copy(d[:], s)
	return d
}
