// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package store implements the external "stowage" collaborator: an
// LMDB-like key-value store holding two tables (named roots and
// content-addressed blobs) plus a pending reference-count-delta table
// used for lazy blob garbage collection.
//
// The core evaluator (package vm) never reaches into the on-disk
// layout directly; it speaks to a *Store only through stow, the
// txn_* operations, and transparent blob fetches. This package is the
// directory-backed reference implementation of that seam, in the same
// "a local directory is the database" idiom the reference codebase
// uses for its own object store (a directory of immutable, named
// files plus small index files next to them), generalized here from a
// columnar-block object store down to a plain two-table KV store.
package store

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	rootsDir  = "roots"
	blobsDir  = "blobs"
	deltaFile = "deltas.dat"
)

// Store is one environment's persisted state: the directory holding
// the roots and blobs tables, and the in-memory pending refcount-delta
// table that batches blob GC bookkeeping (see gc.go).
//
// A Store is safe for concurrent use; writers are serialized through a
// single-writer transaction (see txn.go), readers never block.
type Store struct {
	dir     string
	maxSize int64 // bytes; 0 means unbounded

	id uuid.UUID

	writeLocked int32 // atomic: 1 while a Txn holds the write lock

	mu      sync.RWMutex // guards deltas
	deltas  map[BlobKey]int64
	deltasDirty bool

	cache *blobCache

	logf func(format string, args ...any)
}

// GCConfig tunes the pending reference-count-delta sweep performed by
// (*Store).GC. It mirrors the reference codebase's GCConfig/Logf
// diagnostic-callback shape.
type GCConfig struct {
	// MinAge is accepted for configuration but GC does not read it:
	// every entry with a delta <= 0 is eligible on the first pass that
	// reaches it, with no grace period for in-flight stows.
	MinAge int
	// MaxPause bounds how many blobs a single GC call will inspect,
	// so a GC pass never becomes an unbounded stop-the-world sweep.
	MaxPause int
	// Logf, if non-nil, receives one line per blob reclaimed or
	// skipped. Defaults to a no-op.
	Logf func(format string, args ...any)
}

// Open opens (creating if necessary) a directory-backed Store rooted
// at dir. maxStoreMB bounds the combined size of the blobs table; 0
// means unbounded.
func Open(dir string, maxStoreMB int) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, rootsDir), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating roots table: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, blobsDir), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating blobs table: %w", err)
	}
	s := &Store{
		dir:     dir,
		maxSize: int64(maxStoreMB) << 20,
		id:      uuid.New(),
		deltas:  make(map[BlobKey]int64),
		cache:   newBlobCache(),
	}
	if err := s.loadDeltas(); err != nil {
		return nil, err
	}
	return s, nil
}

// ID identifies this Store instance for diagnostics (e.g. reporting
// which environment a lock conflict belongs to).
func (s *Store) ID() uuid.UUID { return s.id }

// SetLogf installs a diagnostic callback invoked for notable store
// events (currently: GC sweep results). A nil logf silences it.
func (s *Store) SetLogf(logf func(format string, args ...any)) {
	s.logf = logf
}

func (s *Store) logln(format string, args ...any) {
	if s.logf != nil {
		s.logf(format, args...)
	}
}

// Sync flushes the pending reference-count-delta table to disk. The
// roots and blobs tables are already durable as of each successful
// Commit; Sync only needs to persist the batched GC bookkeeping that
// Commit defers (see gc.go).
func (s *Store) Sync() error {
	return s.flushDeltas()
}

// Close flushes any pending state. It does not remove the directory.
func (s *Store) Close() error {
	return s.Sync()
}

// du reports the current combined size in bytes of the blobs table,
// used by Put to enforce maxSize.
func (s *Store) du() (int64, error) {
	var total int64
	err := filepath.WalkDir(filepath.Join(s.dir, blobsDir), func(_ string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) tryLockWriter() bool {
	return atomic.CompareAndSwapInt32(&s.writeLocked, 0, 1)
}

func (s *Store) unlockWriter() {
	atomic.StoreInt32(&s.writeLocked, 0)
}
