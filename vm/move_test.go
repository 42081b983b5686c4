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

import "testing"

func TestMoveAcrossArenasBinary(t *testing.T) {
	src := newTestContext(t)
	dst := newTestContext(t)

	if err := src.IntroBinary([]byte("payload")); err != 0 {
		t.Fatalf("IntroBinary: %v", err)
	}
	head, _, err := src.splitVal()
	if err != 0 {
		t.Fatalf("splitVal: %v", err)
	}
	moved, err := src.Move(dst, head)
	if err != 0 {
		t.Fatalf("Move: %v", err)
	}

	dst.val, err = dst.allocProduct(moved, dst.val)
	if err != 0 {
		t.Fatalf("allocProduct: %v", err)
	}
	buf := make([]byte, 7)
	n, err := dst.ReadBinary(buf)
	if err != 0 {
		t.Fatalf("ReadBinary: %v", err)
	}
	if string(buf[:n]) != "payload" {
		t.Fatalf("got %q, want payload", buf[:n])
	}
}

func TestMoveForkedSiblingIsIdentity(t *testing.T) {
	cx := newTestContext(t)
	sib, err := cx.Fork()
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	if err := cx.IntroI32(42); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	head, _, err := cx.splitVal()
	if err != 0 {
		t.Fatalf("splitVal: %v", err)
	}
	moved, err := cx.Move(sib, head)
	if err != 0 {
		t.Fatalf("Move: %v", err)
	}
	if moved != head {
		t.Fatalf("expected identity move across forked siblings")
	}
}

func TestMoveBlockWithQuotedOperand(t *testing.T) {
	src := newTestContext(t)
	dst := newTestContext(t)

	if err := src.IntroI32(9); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	if err := primQuote(src); err != 0 {
		t.Fatalf("quote: %v", err)
	}
	block, _, err := src.splitVal()
	if err != 0 {
		t.Fatalf("splitVal: %v", err)
	}
	moved, err := src.Move(dst, block)
	if err != 0 {
		t.Fatalf("Move: %v", err)
	}
	if err := dst.Run(moved, Quota{}); err != 0 {
		t.Fatalf("Run: %v", err)
	}
	requireI32(t, dst, 9)
}
