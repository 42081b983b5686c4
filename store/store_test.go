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
	"strings"
	"testing"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBlobRoundTrip(t *testing.T) {
	s := openTest(t)
	data := []byte("hello, stowage")
	key, err := s.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestBlobRoundTripCompressible(t *testing.T) {
	s := openTest(t)
	data := bytes.Repeat([]byte("compress me please "), 100)
	key, err := s.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("round trip through compression changed the payload")
	}
}

func TestBlobNotFound(t *testing.T) {
	s := openTest(t)
	_, err := s.Get(HashBlob([]byte("never written")))
	if err != ErrBlobNotFound {
		t.Fatalf("got %v, want ErrBlobNotFound", err)
	}
}

func TestPutIsContentAddressed(t *testing.T) {
	s := openTest(t)
	data := []byte("same bytes twice")
	k1, err := s.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := s.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Fatalf("expected identical content to hash identically: %v != %v", k1, k2)
	}
}

func TestTxnReadYourWrites(t *testing.T) {
	s := openTest(t)
	txn, err := s.CreateTxn()
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.Write("k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	got, ok, err := txn.Read("k")
	if err != nil || !ok || string(got) != "v1" {
		t.Fatalf("Read within txn = %q, %v, %v", got, ok, err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	txn2, err := s.CreateTxn()
	if err != nil {
		t.Fatal(err)
	}
	defer txn2.Abort()
	got, ok, err = txn2.Read("k")
	if err != nil || !ok || string(got) != "v1" {
		t.Fatalf("Read after commit = %q, %v, %v", got, ok, err)
	}
}

func TestTxnAbortDiscardsWrites(t *testing.T) {
	s := openTest(t)
	txn, err := s.CreateTxn()
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.Write("k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := txn.Abort(); err != nil {
		t.Fatal(err)
	}

	txn2, err := s.CreateTxn()
	if err != nil {
		t.Fatal(err)
	}
	defer txn2.Abort()
	_, ok, err := txn2.Read("k")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("aborted write should not be visible")
	}
}

func TestTxnConflict(t *testing.T) {
	s := openTest(t)
	txn, err := s.CreateTxn()
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Abort()
	if _, err := s.CreateTxn(); err != ErrTxnConflict {
		t.Fatalf("got %v, want ErrTxnConflict", err)
	}
}

func TestTxnKeyTooLong(t *testing.T) {
	s := openTest(t)
	txn, err := s.CreateTxn()
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Abort()
	longKey := strings.Repeat("k", MaxKeyLen+1)
	if err := txn.Write(longKey, []byte("v")); err != ErrKeyTooLong {
		t.Fatalf("got %v, want ErrKeyTooLong", err)
	}
}

func TestGCReclaimsZeroDelta(t *testing.T) {
	s := openTest(t)
	data := []byte("garbage candidate")
	key, err := s.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	s.Release(key) // cancels the +1 recorded by Put

	reclaimed, err := s.GC(GCConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}
	if _, err := s.Get(key); err != ErrBlobNotFound {
		t.Fatalf("blob should have been collected, got err=%v", err)
	}
}

func TestGCSkipsLiveDeltas(t *testing.T) {
	s := openTest(t)
	key, err := s.Put([]byte("still referenced"))
	if err != nil {
		t.Fatal(err)
	}
	reclaimed, err := s.GC(GCConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if reclaimed != 0 {
		t.Fatalf("reclaimed = %d, want 0", reclaimed)
	}
	if _, err := s.Get(key); err != nil {
		t.Fatalf("live blob should still be present: %v", err)
	}
}

func TestDeltasSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	key, err := s.Put([]byte("persisted delta"))
	if err != nil {
		t.Fatal(err)
	}
	s.Release(key)
	if err := s.Sync(); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	reclaimed, err := s2.GC(GCConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1 (delta should have survived reopen)", reclaimed)
	}
}
