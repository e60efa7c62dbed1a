// Copyright (c) 2025-2026, Dark3clipse and the reflink-dedupe-server contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package piecehash implements the piece-hash store (C1): a two-tier cache
// mapping (whole_file_hash, piece_length) to a piece_index -> digest
// mapping, backed by an in-memory LRU and a persisted SQLite table.
//
// Grounded on internal/services/filesmanager's repository/service split in
// the teacher (autobrr-qui): a thin repository owns the SQL, a service wraps
// it with the caching and freshness policy the rest of the engine depends
// on. The in-memory tier uses hashicorp/golang-lru/v2 rather than the
// teacher's ttlcache, since ttlcache is vendored inside the separate
// autobrr/autobrr application and pulling it in for one bounded map is not
// worth the dependency (see DESIGN.md).
package piecehash

import (
	"context"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/Dark3clipse/reflink-dedupe-server/pkg/hashutil"
)

// DefaultMemoryEntries bounds the number of (whole_file_hash, piece_length)
// keys retained in the in-memory tier. Each entry holds one torrent-file's
// worth of 20-byte digests, so this is sized generously rather than tightly.
const DefaultMemoryEntries = 4096

// Digest is a 20-byte SHA-1 piece digest.
type Digest = [20]byte

// Mapping is piece_index -> digest for one (whole_file_hash, piece_length) key.
type Mapping map[int]Digest

// key identifies one cache entry.
type key struct {
	wholeFileHash string
	pieceLength   int64
}

// Persister is the durable half of the store (C1's PieceHashRow table,
// spec.md §6). Implementations must make Store idempotent and Lookup safe
// to call concurrently with Store.
type Persister interface {
	Lookup(ctx context.Context, wholeFileHash string, pieceLength int64) (Mapping, error)
	Store(ctx context.Context, wholeFileHash string, pieceLength int64, m Mapping) error
}

// Stats reports in-memory cache activity, included in the CLI match
// command's JSON result. Grounded on filesmanager.Repository.GetCacheStats in the teacher.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Store is the two-tier piece-hash cache. Lookups read both the in-memory
// and the persisted tier and merge them; stores write to both.
// A nil Persister is valid and makes Store memory-only (used in tests).
type Store struct {
	mem       *lru.Cache[key, Mapping]
	persister Persister

	hits   atomic.Int64
	misses atomic.Int64

	// fence serializes store-then-lookup for the same key within a process,
	// per spec.md §4.1's "write-then-fence-before-read" guarantee: a lookup
	// for a key currently being persisted waits for that persist to finish.
	fenceMu sync.Mutex
	fences  map[key]*sync.WaitGroup
}

// New constructs a Store with the given in-memory capacity (<=0 uses
// DefaultMemoryEntries) backed by persister. persister may be nil.
func New(memoryEntries int, persister Persister) *Store {
	if memoryEntries <= 0 {
		memoryEntries = DefaultMemoryEntries
	}
	mem, err := lru.New[key, Mapping](memoryEntries)
	if err != nil {
		// Only returns an error for a non-positive size, already guarded above.
		panic(err)
	}
	return &Store{
		mem:       mem,
		persister: persister,
		fences:    make(map[key]*sync.WaitGroup),
	}
}

// Lookup returns the union of in-memory and persisted entries for
// (wholeFileHash, pieceLength). A read failure against the persisted tier is
// treated as an empty result for that tier (CacheReadCorrupt, §7) rather than
// propagated, since matching can always recompute.
func (s *Store) Lookup(ctx context.Context, wholeFileHash string, pieceLength int64) Mapping {
	wholeFileHash = hashutil.Normalize(wholeFileHash)
	k := key{wholeFileHash, pieceLength}

	s.waitFence(k)

	out := Mapping{}
	if m, ok := s.mem.Get(k); ok {
		s.hits.Add(1)
		for idx, d := range m {
			out[idx] = d
		}
	} else {
		s.misses.Add(1)
	}

	if s.persister != nil {
		m, err := s.persister.Lookup(ctx, wholeFileHash, pieceLength)
		if err != nil {
			log.Debug().Err(err).Str("whole_file_hash", wholeFileHash).Msg("piecehash: persisted lookup failed, treating as miss")
		} else {
			for idx, d := range m {
				if _, ok := out[idx]; !ok {
					out[idx] = d
				}
			}
			// Warm the in-memory tier with the persisted entries. Later lookups
			// still query the persisted tier as well.
			if len(m) > 0 {
				s.mem.Add(k, mergeMapping(s.peekMem(k), m))
			}
		}
	}

	return out
}

// Store writes m into both tiers idempotently. Persistence happens
// synchronously here but its failure is non-fatal: it is logged and
// dropped, per §4.1/§7 (CacheWriteFailed). The in-memory write always
// succeeds.
func (s *Store) Store(ctx context.Context, wholeFileHash string, pieceLength int64, m Mapping) {
	if len(m) == 0 {
		return
	}
	wholeFileHash = hashutil.Normalize(wholeFileHash)
	k := key{wholeFileHash, pieceLength}

	wg := s.beginFence(k)
	defer s.endFence(k, wg)

	merged := mergeMapping(s.peekMem(k), m)
	s.mem.Add(k, merged)

	if s.persister != nil {
		if err := s.persister.Store(ctx, wholeFileHash, pieceLength, m); err != nil {
			log.Warn().Err(err).Str("whole_file_hash", wholeFileHash).Msg("piecehash: persisted store failed, will recompute next match")
		}
	}
}

// Stats returns a snapshot of in-memory cache activity.
func (s *Store) Stats() Stats {
	return Stats{
		Entries: s.mem.Len(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}
}

func (s *Store) peekMem(k key) Mapping {
	if m, ok := s.mem.Peek(k); ok {
		return m
	}
	return nil
}

func mergeMapping(base, add Mapping) Mapping {
	out := make(Mapping, len(base)+len(add))
	for idx, d := range base {
		out[idx] = d
	}
	for idx, d := range add {
		out[idx] = d
	}
	return out
}

// beginFence registers an in-flight store for k so concurrent lookups block
// until it completes, and returns the WaitGroup to signal on completion.
func (s *Store) beginFence(k key) *sync.WaitGroup {
	s.fenceMu.Lock()
	defer s.fenceMu.Unlock()
	wg := &sync.WaitGroup{}
	wg.Add(1)
	s.fences[k] = wg
	return wg
}

func (s *Store) endFence(k key, wg *sync.WaitGroup) {
	s.fenceMu.Lock()
	if s.fences[k] == wg {
		delete(s.fences, k)
	}
	s.fenceMu.Unlock()
	wg.Done()
}

func (s *Store) waitFence(k key) {
	s.fenceMu.Lock()
	wg := s.fences[k]
	s.fenceMu.Unlock()
	if wg != nil {
		wg.Wait()
	}
}
