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

func TestRunSwapBlock(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI32(2); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	if err := cx.IntroI32(1); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	b, err := cx.makeBlock(OpList{opPrim(OpSwap)}, false, false)
	if err != 0 {
		t.Fatalf("makeBlock: %v", err)
	}
	if err := cx.Run(b, Quota{}); err != 0 {
		t.Fatalf("run: %v", err)
	}
	requireI32(t, cx, 2)
}

func TestRunAddBlock(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI32(3); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	if err := cx.IntroI32(4); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	b, err := cx.makeBlock(OpList{opPrim(OpAdd)}, false, false)
	if err != 0 {
		t.Fatalf("makeBlock: %v", err)
	}
	if err := cx.Run(b, Quota{}); err != 0 {
		t.Fatalf("Run: %v", err)
	}
	requireI32(t, cx, 7)
}

// TestApplyBlock exercises $ with a itself shaped (N*e'), the form
// neg's own (N*e)->(-N*e) contract expects of whatever register it
// runs against. Asserts both that the block ran (-10) and that the
// environment apply holds aside (e, here Unit) comes back reattached
// rather than lost.
func TestApplyBlock(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI32(10); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	a := cx.val
	neg, err := cx.makeBlock(OpList{opPrim(OpNeg)}, false, false)
	if err != 0 {
		t.Fatalf("makeBlock: %v", err)
	}
	outer, err := cx.makeBlock(OpList{opPrim(OpApply)}, false, false)
	if err != 0 {
		t.Fatalf("makeBlock: %v", err)
	}
	argEnv, err := cx.allocProduct(a, value.Unit)
	if err != 0 {
		t.Fatalf("allocProduct: %v", err)
	}
	wrapped, err := cx.allocProduct(neg, argEnv)
	if err != 0 {
		t.Fatalf("allocProduct: %v", err)
	}
	cx.val = wrapped
	if err := cx.Run(outer, Quota{}); err != 0 {
		t.Fatalf("Run: %v", err)
	}
	b, e, err := cx.splitVal()
	if err != 0 {
		t.Fatalf("splitVal: %v", err)
	}
	if e != value.Unit {
		t.Fatalf("hidden environment not reattached: got %v", e)
	}
	cx.val = b
	requireI32(t, cx, -10)
}

// TestApplyBlockWithCompoundArgument exercises $ where a is itself a
// compound pair rather than a bare shallow word — the shape that
// exposed apply folding the hidden environment into the block's
// register instead of narrowing to a alone.
func TestApplyBlockWithCompoundArgument(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI32(4); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	if err := cx.IntroI32(3); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	a := cx.val // (3*(4*Unit))
	add, err := cx.makeBlock(OpList{opPrim(OpAdd)}, false, false)
	if err != 0 {
		t.Fatalf("makeBlock: %v", err)
	}
	outer, err := cx.makeBlock(OpList{opPrim(OpApply)}, false, false)
	if err != 0 {
		t.Fatalf("makeBlock: %v", err)
	}
	argEnv, err := cx.allocProduct(a, value.Unit)
	if err != 0 {
		t.Fatalf("allocProduct: %v", err)
	}
	wrapped, err := cx.allocProduct(add, argEnv)
	if err != 0 {
		t.Fatalf("allocProduct: %v", err)
	}
	cx.val = wrapped
	if err := cx.Run(outer, Quota{}); err != 0 {
		t.Fatalf("Run: %v", err)
	}
	b, e, err := cx.splitVal()
	if err != 0 {
		t.Fatalf("splitVal: %v", err)
	}
	if e != value.Unit {
		t.Fatalf("hidden environment not reattached: got %v", e)
	}
	cx.val = b
	requireI32(t, cx, 7)
}

// TestAccelInlineBlock exercises vr$c: like apply, but resolved
// synchronously via a recursive Run call rather than by growing the
// continuation stack, with the hidden environment reattached once
// that nested Run returns.
func TestAccelInlineBlock(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI32(10); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	a := cx.val
	neg, err := cx.makeBlock(OpList{opPrim(OpNeg)}, false, false)
	if err != 0 {
		t.Fatalf("makeBlock: %v", err)
	}
	outer, err := cx.makeBlock(OpList{opPrim(OpAccelInline)}, false, false)
	if err != 0 {
		t.Fatalf("makeBlock: %v", err)
	}
	argEnv, err := cx.allocProduct(a, value.Unit)
	if err != 0 {
		t.Fatalf("allocProduct: %v", err)
	}
	wrapped, err := cx.allocProduct(neg, argEnv)
	if err != 0 {
		t.Fatalf("allocProduct: %v", err)
	}
	cx.val = wrapped
	if err := cx.Run(outer, Quota{}); err != 0 {
		t.Fatalf("Run: %v", err)
	}
	b, e, err := cx.splitVal()
	if err != 0 {
		t.Fatalf("splitVal: %v", err)
	}
	if e != value.Unit {
		t.Fatalf("hidden environment not reattached: got %v", e)
	}
	cx.val = b
	requireI32(t, cx, -10)
}

// TestAccelTailcallBlock exercises $c: "apply, then eliminate a
// trailing unit" — the result is the block's bare output, not a
// (b*Unit) pair, since the tailcall's own contract requires the
// hidden environment to already be Unit and strips it rather than
// reattaching it.
func TestAccelTailcallBlock(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI32(10); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	a := cx.val
	neg, err := cx.makeBlock(OpList{opPrim(OpNeg)}, false, false)
	if err != 0 {
		t.Fatalf("makeBlock: %v", err)
	}
	outer, err := cx.makeBlock(OpList{opPrim(OpAccelTailcall)}, false, false)
	if err != 0 {
		t.Fatalf("makeBlock: %v", err)
	}
	argEnv, err := cx.allocProduct(a, value.Unit)
	if err != 0 {
		t.Fatalf("allocProduct: %v", err)
	}
	wrapped, err := cx.allocProduct(neg, argEnv)
	if err != 0 {
		t.Fatalf("allocProduct: %v", err)
	}
	cx.val = wrapped
	if err := cx.Run(outer, Quota{}); err != 0 {
		t.Fatalf("Run: %v", err)
	}
	requireI32(t, cx, -10)
}

// TestAccelTailcallRejectsNonUnitEnvironment checks that $c refuses a
// hidden environment other than Unit rather than silently dropping it.
func TestAccelTailcallRejectsNonUnitEnvironment(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI32(10); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	a := cx.val
	neg, err := cx.makeBlock(OpList{opPrim(OpNeg)}, false, false)
	if err != 0 {
		t.Fatalf("makeBlock: %v", err)
	}
	outer, err := cx.makeBlock(OpList{opPrim(OpAccelTailcall)}, false, false)
	if err != 0 {
		t.Fatalf("makeBlock: %v", err)
	}
	nonUnitEnv := value.MakeSmallInt(99)
	argEnv, err := cx.allocProduct(a, nonUnitEnv)
	if err != 0 {
		t.Fatalf("allocProduct: %v", err)
	}
	wrapped, err := cx.allocProduct(neg, argEnv)
	if err != 0 {
		t.Fatalf("allocProduct: %v", err)
	}
	cx.val = wrapped
	if err := cx.Run(outer, Quota{}); err != ErrTypeError {
		t.Fatalf("got %v, want ErrTypeError for a non-unit $c environment", err)
	}
}

// TestSuspendResume drives suspend directly to capture a residual
// computation (as Run's quota-check path would on exhaustion), then
// checks that the resulting ObjPending value resumes correctly
// through a second Run call. Exercising suspend directly, rather than
// tuning an allocation pattern to trip the compaction-count quota
// check, keeps the test's pass/fail independent of arena sizing.
func TestSuspendResume(t *testing.T) {
	cx := newTestContext(t)
	if err := cx.IntroI32(3); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	if err := cx.IntroI32(4); err != 0 {
		t.Fatalf("IntroI32: %v", err)
	}
	ops := OpList{opPrim(OpAdd)}
	if err := cx.suspend(ops, 0, nil); err != ErrQuotaExhausted {
		t.Fatalf("suspend: got %v, want ErrQuotaExhausted", err)
	}
	pending := cx.val
	h, err := cx.boxedHeader(pending)
	if err != 0 {
		t.Fatalf("boxedHeader: %v", err)
	}
	if h.Type() != value.ObjPending {
		t.Fatalf("got type %v, want ObjPending", h.Type())
	}
	if err := cx.Run(pending, Quota{}); err != 0 {
		t.Fatalf("Run (resume): %v", err)
	}
	requireI32(t, cx, 7)
}
