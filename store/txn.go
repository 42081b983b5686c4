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
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxKeyLen is the named-roots key length limit: "Keys are valid
// UTF-8 up to 255 bytes" (programmatic surface, txn_read/txn_write).
const MaxKeyLen = 255

// ErrKeyTooLong and ErrKeyInvalid are returned by Write/Read when key
// fails the programmatic surface's key-validity rule.
var (
	ErrKeyTooLong = errors.New("store: root key exceeds 255 bytes")
	ErrKeyInvalid = errors.New("store: root key is not valid UTF-8")
)

// ErrTxnConflict is returned by CreateTxn when another transaction is
// already open against the same Store; the store allows at most one
// writer at a time (§6, "protected by its own mutex/transaction
// layer").
var ErrTxnConflict = errors.New("store: transaction conflict: a writer is already open")

// Txn is a single-writer transaction over a Store's named-roots
// table, implementing txn_create/txn_read/txn_write/txn_abort/
// txn_commit/txn_durable. Writes are buffered in memory and only take
// effect on Commit; Read sees the transaction's own uncommitted writes
// (read-your-writes) layered over the store's committed state.
type Txn struct {
	store    *Store
	id       uuid.UUID
	writes   map[string][]byte
	deleted  map[string]bool
	done     bool
	durable  bool
}

// CreateTxn opens a new write transaction against s. It fails with
// ErrTxnConflict if another transaction is already open.
func (s *Store) CreateTxn() (*Txn, error) {
	if !s.tryLockWriter() {
		return nil, ErrTxnConflict
	}
	return &Txn{
		store:   s,
		id:      uuid.New(),
		writes:  make(map[string][]byte),
		deleted: make(map[string]bool),
	}, nil
}

// ID returns the transaction's identifier, used for diagnostics when
// reporting a lock conflict or a commit failure.
func (t *Txn) ID() uuid.UUID { return t.id }

func validKey(key string) error {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return ErrKeyTooLong
	}
	if !utf8.ValidString(key) {
		return ErrKeyInvalid
	}
	return nil
}

func (s *Store) rootPath(key string) string {
	return filepath.Join(s.dir, rootsDir, hex.EncodeToString([]byte(key)))
}

// Read returns the value last written to key, either by this
// transaction (uncommitted) or by a prior committed transaction. The
// second return value is false if the key has no value.
func (t *Txn) Read(key string) ([]byte, bool, error) {
	if t.done {
		return nil, false, errors.New("store: read from a finished transaction")
	}
	if err := validKey(key); err != nil {
		return nil, false, err
	}
	if t.deleted[key] {
		return nil, false, nil
	}
	if v, ok := t.writes[key]; ok {
		return v, true, nil
	}
	raw, err := os.ReadFile(t.store.rootPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return raw, true, nil
}

// Write buffers key=value for this transaction; it is not durable
// until Commit succeeds. Writing a nil value deletes the key.
func (t *Txn) Write(key string, value []byte) error {
	if t.done {
		return errors.New("store: write to a finished transaction")
	}
	if err := validKey(key); err != nil {
		return err
	}
	if value == nil {
		delete(t.writes, key)
		t.deleted[key] = true
		return nil
	}
	delete(t.deleted, key)
	buf := make([]byte, len(value))
	copy(buf, value)
	t.writes[key] = buf
	return nil
}

// Abort discards the transaction's buffered writes and releases the
// writer lock.
func (t *Txn) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.unlockWriter()
	return nil
}

// Commit applies the transaction's buffered writes to the roots
// table, deletions first, one file per key. A failed write mid-commit
// abandons the remaining writes and releases the writer lock; keys
// already deleted or written before the failure stay applied, so a
// failed commit is not all-or-nothing across keys.
func (t *Txn) Commit() error {
	if t.done {
		return errors.New("store: commit of a finished transaction")
	}
	defer func() {
		t.done = true
		t.store.unlockWriter()
	}()

	for key := range t.deleted {
		path := t.store.rootPath(key)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("store: commit: deleting %q: %w", key, err)
		}
	}
	for key, value := range t.writes {
		path := t.store.rootPath(key)
		tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
		if err != nil {
			return fmt.Errorf("store: commit: %w", err)
		}
		if _, err := tmp.Write(value); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("store: commit: writing %q: %w", key, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("store: commit: %w", err)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("store: commit: renaming %q: %w", key, err)
		}
	}
	return nil
}

// Durable forces the written roots to be fsync'd to stable storage,
// implementing txn_durable. It must be called after Commit.
func (t *Txn) Durable() error {
	dir, err := os.Open(filepath.Join(t.store.dir, rootsDir))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
