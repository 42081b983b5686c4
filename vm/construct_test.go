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

package vm

import (
	"testing"

	"github.com/kodeflow/abcvm/value"
)

func TestIntroElimUnitRoundTrip(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroUnitLeft(); err != 0 {
		t.Fatalf("IntroUnitLeft: %v", err)
	}
	if err := cx.ElimUnitLeft(); err != 0 {
		t.Fatalf("ElimUnitLeft: %v", err)
	}
	if cx.val != value.Unit {
		t.Fatalf("value not restored: %v", cx.val)
	}
}

func TestIntroUnitRightRoundTrip(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI32(7); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	if err := cx.IntroUnitRight(); err != 0 {
		t.Fatalf("IntroUnitRight: %v", err)
	}
	if err := cx.ElimUnitRight(); err != 0 {
		t.Fatalf("ElimUnitRight: %v", err)
	}
	n, err := cx.PeekI32()
	if err != 0 {
		t.Fatalf("PeekI32: %v", err)
	}
	if n != 7 {
		t.Fatalf("got %d, want 7", n)
	}
}

func TestWrapUnwrapSum(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI32(42); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	if err := cx.WrapSum(true); err != 0 {
		t.Fatalf("WrapSum: %v", err)
	}
	right, err := cx.UnwrapSum()
	if err != 0 {
		t.Fatalf("UnwrapSum: %v", err)
	}
	if !right {
		t.Fatalf("expected right branch")
	}
	n, err := cx.PeekI32()
	if err != 0 {
		t.Fatalf("PeekI32: %v", err)
	}
	if n != 42 {
		t.Fatalf("got %d, want 42", n)
	}
}

func TestWrapSumDeepChain(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI32(1); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	// A small int can't be pointer-retagged, so this exercises the
	// boxed ObjDeepSum path for every layer.
	branches := []bool{true, false, true, true, false}
	for _, b := range branches {
		if err := cx.WrapSum(b); err != 0 {
			t.Fatalf("WrapSum: %v", err)
		}
	}
	for i := len(branches) - 1; i >= 0; i-- {
		right, err := cx.UnwrapSum()
		if err != 0 {
			t.Fatalf("UnwrapSum: %v", err)
		}
		if right != branches[i] {
			t.Fatalf("layer %d: got %v, want %v", i, right, branches[i])
		}
	}
	n, err := cx.PeekI32()
	if err != 0 {
		t.Fatalf("PeekI32: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d, want 1", n)
	}
}

func TestIntroPeekIStrBignum(t *testing.T) {
	cx := newTestContext(t)
	big := "123456789012345678901234567890"
	if err := cx.IntroIStr(big); err != 0 {
		t.Fatalf("IntroIStr: %v", err)
	}
	var buf [64]byte
	n, err := cx.PeekIStr(buf[:])
	if err != 0 {
		t.Fatalf("PeekIStr: %v", err)
	}
	if string(buf[:n]) != big {
		t.Fatalf("got %q, want %q", buf[:n], big)
	}
}

func TestIntroPeekI64Small(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI64(-12345); err != 0 {
		t.Fatalf("IntroI64: %v", err)
	}
	n, err := cx.PeekI64()
	if err != 0 {
		t.Fatalf("PeekI64: %v", err)
	}
	if n != -12345 {
		t.Fatalf("got %d, want -12345", n)
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	cx := newTestContext(t)
	data := []byte("hello, world")
	if err := cx.IntroBinary(data); err != 0 {
		t.Fatalf("IntroBinary: %v", err)
	}
	buf := make([]byte, len(data))
	n, err := cx.ReadBinary(buf)
	if err != 0 {
		t.Fatalf("ReadBinary: %v", err)
	}
	if string(buf[:n]) != string(data) {
		t.Fatalf("got %q, want %q", buf[:n], data)
	}
}

func TestBinaryPartialRead(t *testing.T) {
	cx := newTestContext(t)
	data := []byte("0123456789")
	if err := cx.IntroBinary(data); err != 0 {
		t.Fatalf("IntroBinary: %v", err)
	}
	buf := make([]byte, 4)
	n, err := cx.ReadBinary(buf)
	if err != 0 {
		t.Fatalf("ReadBinary: %v", err)
	}
	if string(buf[:n]) != "0123" {
		t.Fatalf("got %q, want 0123", buf[:n])
	}
	rest := make([]byte, 6)
	n, err = cx.ReadBinary(rest)
	if err != 0 {
		t.Fatalf("ReadBinary: %v", err)
	}
	if string(rest[:n]) != "456789" {
		t.Fatalf("got %q, want 456789", rest[:n])
	}
}

func TestTextRoundTripRuneSafe(t *testing.T) {
	cx := newTestContext(t)
	data := []byte("aé中\U0001F600b") // mixes 1/2/3/4-byte runes
	if err := cx.IntroText(data); err != 0 {
		t.Fatalf("IntroText: %v", err)
	}
	var got []byte
	for {
		buf := make([]byte, 4) // just fits the widest rune, so most reads must back off a boundary
		n, _, err := cx.ReadText(buf)
		if err != 0 {
			t.Fatalf("ReadText: %v", err)
		}
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestIntroTextRejectsInvalid(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroText([]byte{0x00}); err == 0 {
		t.Fatalf("expected ErrInvalidArg for NUL byte")
	}
}

func TestWrapUnwrapSealSmall(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI32(5); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	if err := cx.WrapSeal("abc"); err != 0 {
		t.Fatalf("WrapSeal: %v", err)
	}
	tok, err := cx.UnwrapSeal()
	if err != 0 {
		t.Fatalf("UnwrapSeal: %v", err)
	}
	if tok != "abc" {
		t.Fatalf("got %q, want abc", tok)
	}
	n, err := cx.PeekI32()
	if err != 0 {
		t.Fatalf("PeekI32: %v", err)
	}
	if n != 5 {
		t.Fatalf("got %d, want 5", n)
	}
}

func TestWrapUnwrapSealGeneral(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI32(9); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	const tok = "a-much-longer-sealer-token"
	if err := cx.WrapSeal(tok); err != 0 {
		t.Fatalf("WrapSeal: %v", err)
	}
	got, err := cx.UnwrapSeal()
	if err != 0 {
		t.Fatalf("UnwrapSeal: %v", err)
	}
	if got != tok {
		t.Fatalf("got %q, want %q", got, tok)
	}
}

func TestWrapSealRejectsInvalidToken(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI32(1); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	if err := cx.WrapSeal(""); err == 0 {
		t.Fatalf("expected error for empty token")
	}
}
