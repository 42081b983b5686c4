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

package store

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"

	"golang.org/x/exp/maps"

	"github.com/kodeflow/abcvm/heap"
)

// addDelta records a pending reference-count change for key. Positive
// deltas come from Put; negative deltas come from Release. Deltas are batched in memory (and persisted by
// Sync/flushDeltas) rather than applied to a per-blob refcount file on
// every call, matching the reference codebase's own batched-refcount
// design for its object store (see DESIGN.md's "pending reference-
// count deltas" note).
func (s *Store) addDelta(key BlobKey, delta int64) {
	s.mu.Lock()
	s.deltas[key] += delta
	s.deltasDirty = true
	s.mu.Unlock()
}

// Release records that a previously-stowed blob lost a reference, the
// counterpart to the +1 recorded by Put. Package vm does not call it:
// vm's Drop of a stowed value records no delta.
func (s *Store) Release(key BlobKey) {
	s.addDelta(key, -1)
}

type deltaEntry struct {
	key   BlobKey
	delta int64
}

func deltaLess(a, b deltaEntry) bool {
	// visit the most negative (most over-referenced-for-deletion)
	// deltas first, so a bounded GC pass reclaims the blobs likeliest
	// to be garbage before it runs out of budget
	return a.delta < b.delta
}

// GC applies a bounded sweep of the pending delta table: entries whose
// cumulative delta is <= 0 are candidates for deletion (their last
// reference was dropped at least as many times as a new one was
// taken), visited in min-heap order via package heap so the sweep is
// deterministic and can stop early once MaxPause blobs have been
// inspected.
//
// GC does not track per-blob reference counts directly (the store
// never had them to begin with — only the deltas); a delta <= 0 is
// therefore a heuristic "probably dead" signal; deleting a blob that
// still has live stows outstanding only costs those stows a re-fetch
// failure (ErrBlobNotFound). GC applies no age check (cfg.MinAge is not
// consulted), so nothing here narrows that race.
func (s *Store) GC(cfg GCConfig) (reclaimed int, err error) {
	if cfg.Logf == nil {
		cfg.Logf = s.logf
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}

	s.mu.Lock()
	entries := make([]deltaEntry, 0, len(s.deltas))
	for k, d := range s.deltas {
		entries = append(entries, deltaEntry{k, d})
	}
	s.mu.Unlock()

	heap.OrderSlice(entries, deltaLess)

	visited := 0
	toForget := make([]BlobKey, 0)
	for len(entries) > 0 && (cfg.MaxPause <= 0 || visited < cfg.MaxPause) {
		e := heap.PopSlice(&entries, deltaLess)
		visited++
		if e.delta > 0 {
			// deltas are visited smallest-first; once we see a
			// positive one every remaining entry is also net-positive
			break
		}
		if err := s.Delete(e.key); err != nil {
			cfg.Logf("store: gc: failed to delete %s: %v", e.key, err)
			continue
		}
		cfg.Logf("store: gc: reclaimed blob %s (delta=%d)", e.key, e.delta)
		toForget = append(toForget, e.key)
		reclaimed++
	}

	if len(toForget) > 0 {
		s.mu.Lock()
		for _, k := range toForget {
			delete(s.deltas, k)
		}
		s.deltasDirty = true
		s.mu.Unlock()
	}
	return reclaimed, s.flushDeltas()
}

// deltaRecordSize is the on-disk encoding of one (BlobKey, delta)
// pair: the raw 32-byte key followed by an 8-byte little-endian
// signed delta.
const deltaRecordSize = len(BlobKey{}) + 8

func (s *Store) deltaPath() string {
	return filepath.Join(s.dir, deltaFile)
}

func (s *Store) loadDeltas() error {
	raw, err := os.ReadFile(s.deltaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(raw) >= deltaRecordSize {
		var key BlobKey
		copy(key[:], raw[:len(key)])
		delta := int64(binary.LittleEndian.Uint64(raw[len(key) : len(key)+8]))
		s.deltas[key] = delta
		raw = raw[deltaRecordSize:]
	}
	return nil
}

func (s *Store) flushDeltas() error {
	s.mu.Lock()
	if !s.deltasDirty {
		s.mu.Unlock()
		return nil
	}
	keys := maps.Keys(s.deltas)
	var buf bytes.Buffer
	buf.Grow(len(keys) * deltaRecordSize)
	for _, k := range keys {
		buf.Write(k[:])
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(s.deltas[k]))
		buf.Write(tmp[:])
	}
	s.deltasDirty = false
	s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".deltas-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.deltaPath())
}
