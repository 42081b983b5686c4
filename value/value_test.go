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

package value

import "testing"

func TestSmallIntRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 42, SmallIntMax, SmallIntMin, 1_000_000_000_000}
	for _, n := range cases {
		if !FitsSmallInt(n) {
			t.Fatalf("FitsSmallInt(%d) = false, want true", n)
		}
		w := MakeSmallInt(n)
		if w.Tag() != TagSmallInt {
			t.Fatalf("MakeSmallInt(%d).Tag() = %v, want TagSmallInt", n, w.Tag())
		}
		if got := w.SmallInt(); got != n {
			t.Fatalf("MakeSmallInt(%d).SmallInt() = %d", n, got)
		}
		if !w.Shallow() {
			t.Fatalf("small int %d should be shallow", n)
		}
	}
}

func TestSmallIntOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic constructing out-of-range small int")
		}
	}()
	MakeSmallInt(SmallIntMax + 1)
}

func TestShallowPredicate(t *testing.T) {
	shallow := []Word{Unit, UnitLeft, UnitRight, MakeSmallInt(7)}
	for _, w := range shallow {
		if !w.Shallow() {
			t.Fatalf("%v: expected shallow", w.Tag())
		}
	}
	deep := []Word{Ptr(TagBoxed, 8), Ptr(TagProduct, 16), Ptr(TagSumLeft, 24), Ptr(TagSumRight, 32)}
	for _, w := range deep {
		if w.Shallow() {
			t.Fatalf("%v: expected not shallow", w.Tag())
		}
	}
}

func TestPtrAddrRoundTrip(t *testing.T) {
	for _, tag := range []Tag{TagBoxed, TagProduct, TagSumLeft, TagSumRight} {
		w := Ptr(tag, 123456)
		if w.Tag() != tag {
			t.Fatalf("Ptr(%v, _).Tag() = %v", tag, w.Tag())
		}
		if w.Addr() != 123456 {
			t.Fatalf("Ptr(%v, 123456).Addr() = %d", tag, w.Addr())
		}
	}
}

func TestWithBranch(t *testing.T) {
	w := Ptr(TagProduct, 64)
	left := w.WithBranch(false)
	right := w.WithBranch(true)
	if left.Tag() != TagSumLeft || left.InRight() {
		t.Fatalf("WithBranch(false) = %v", left.Tag())
	}
	if right.Tag() != TagSumRight || !right.InRight() {
		t.Fatalf("WithBranch(true) = %v", right.Tag())
	}
	if left.AsProduct().Tag() != TagProduct || left.AsProduct().Addr() != 64 {
		t.Fatalf("AsProduct lost the address")
	}
}

func TestHeaderPacking(t *testing.T) {
	h := MakeHeader(ObjArray, 0xABCDEF)
	if h.Type() != ObjArray {
		t.Fatalf("Type() = %v", h.Type())
	}
	if h.Data() != 0xABCDEF {
		t.Fatalf("Data() = %x", h.Data())
	}
	h2 := h.WithData(1)
	if h2.Type() != ObjArray || h2.Data() != 1 {
		t.Fatalf("WithData broke the header: %v/%x", h2.Type(), h2.Data())
	}
}

func TestSubstructureUnion(t *testing.T) {
	a := Affine
	b := Relevant | Pending
	u := a.Union(b)
	if !u.Affine() || !u.Relevant() || !u.Pending() {
		t.Fatalf("Union() = %v, want all three flags", u)
	}
}
