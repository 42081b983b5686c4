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

package arena

import "testing"

func TestNewClampsSize(t *testing.T) {
	r, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if int(r.HalfSize())*2 != MinSize {
		t.Fatalf("expected region clamped to MinSize, got half=%d", r.HalfSize())
	}
}

func TestReserveAlloc(t *testing.T) {
	r, err := New(MinSize)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if !r.Reserve(64) {
		t.Fatal("Reserve(64) failed on empty region")
	}
	off := r.Alloc(64)
	if off != r.HalfSize()-64 {
		t.Fatalf("Alloc returned %d, want %d", off, r.HalfSize()-64)
	}
	if r.Occupied() != 64 {
		t.Fatalf("Occupied() = %d, want 64", r.Occupied())
	}
}

func TestAllocBeyondReservationPanics(t *testing.T) {
	r, err := New(MinSize)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	r.Reserve(16)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic allocating beyond the reservation")
		}
	}()
	r.Alloc(17)
}

func TestReserveFailsWhenFull(t *testing.T) {
	r, err := New(MinSize)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if !r.Reserve(r.HalfSize()) {
		t.Fatal("expected to reserve the whole half")
	}
	r.Alloc(r.HalfSize())
	if r.Reserve(1) {
		t.Fatal("expected Reserve to fail once the half is full")
	}
}

func TestCompactionSwapsHalvesAndUpdatesCounters(t *testing.T) {
	r, err := New(MinSize)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	r.Reserve(1024)
	r.Alloc(1024)
	if r.Occupied() != 1024 {
		t.Fatalf("Occupied() = %d, want 1024", r.Occupied())
	}

	src, dst := r.BeginCompaction()
	if len(src) != int(r.HalfSize()) || len(dst) != int(r.HalfSize()) {
		t.Fatalf("unexpected half lengths: src=%d dst=%d", len(src), len(dst))
	}
	// simulate relocating half the live data (512 bytes survive)
	newBump := r.HalfSize() - 512
	r.FinishCompaction(newBump)

	if r.Occupied() != 512 {
		t.Fatalf("Occupied() after compaction = %d, want 512", r.Occupied())
	}
	compactions, collected := r.Stats()
	if compactions != 1 {
		t.Fatalf("compactions = %d, want 1", compactions)
	}
	if collected != 512 {
		t.Fatalf("bytesCollected = %d, want 512", collected)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	r, err := New(MinSize)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	r.Reserve(128)
	r.Alloc(128)
	r.Reset()
	used1 := r.Occupied()
	r.Reset()
	used2 := r.Occupied()
	if used1 != 0 || used2 != 0 {
		t.Fatalf("Reset did not empty the arena: %d, %d", used1, used2)
	}
}
