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

import "github.com/kodeflow/abcvm/value"

// patchKind distinguishes the two places a relocated word can be
// written back to during compaction: a Go-level root (the context's
// own registers, or a block table entry) versus a slot already copied
// into the destination half (a product cell's field, a boxed object's
// inner word).
type patchKind uint8

const (
	patchRoot patchKind = iota
	patchSlot
)

type patch struct {
	kind   patchKind
	root   *value.Word
	dstOff uint32
}

type copyTask struct {
	w value.Word
	to patch
}

// reserveAlloc reserves and allocates n bytes, triggering a compaction
// via compact if the reservation fails. Callers must already hold
// cx.arenaLock.
func (cx *Context) reserveAlloc(n uint32) (uint32, ErrCode) {
	if !cx.region.Reserve(n) {
		if !cx.compact(n) || !cx.region.Reserve(n) {
			return 0, cx.fail(ErrContextFull)
		}
	}
	return cx.region.Alloc(n), 0
}

// compact runs a full semispace collection rooted at the context's
// primary value register and its block table, then reports whether
// need bytes are now available. Because every value in this calculus
// is linear or affine (at most one live reference, by construction —
// copy always allocates a fresh cell rather than aliasing), the live
// graph is a tree: no forwarding-pointer bookkeeping is required to
// avoid copying shared structure twice, unlike a general-purpose
// copying collector. Callers must already hold cx.arenaLock.
func (cx *Context) compact(need uint32) bool {
	src, dst := cx.region.BeginCompaction()
	bump := uint32(len(dst))

	var stack []copyTask
	push := func(w value.Word, to patch) {
		stack = append(stack, copyTask{w, to})
	}

	push(cx.val, patch{kind: patchRoot, root: &cx.val})
	for i := range cx.blocks.entries {
		for j := range cx.blocks.entries[i].ops {
			op := &cx.blocks.entries[i].ops[j]
			if op.Kind == operandValue {
				push(op.Value, patch{kind: patchRoot, root: &op.Value})
			}
		}
	}
	// A suspended Run call's saved register and held-aside frame tails
	// are live roots exactly like cx.val: nothing else in the arena
	// graph references them, since they sit in the pending table rather
	// than in any traced cell.
	for i := range cx.pending.entries {
		rs := &cx.pending.entries[i]
		push(rs.val, patch{kind: patchRoot, root: &rs.val})
		for j := range rs.stack {
			push(rs.stack[j].tail, patch{kind: patchRoot, root: &rs.stack[j].tail})
		}
	}

	for len(stack) > 0 {
		task := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		newWord := cx.relocateOne(src, dst, &bump, task.w, push)
		switch task.to.kind {
		case patchRoot:
			*task.to.root = newWord
		case patchSlot:
			writeWord(dst, task.to.dstOff, newWord)
		}
	}

	cx.region.FinishCompaction(bump)
	return bump >= need
}

// relocateOne copies the single object w points to (if any) from src
// to dst, bump-allocating downward from *bump, and schedules its own
// children (via push) to be relocated and patched into the
// newly-written slot. Shallow words (no heap pointer) are returned
// unchanged without touching the stack.
func (cx *Context) relocateOne(src, dst []byte, bump *uint32, w value.Word, push func(value.Word, patch)) value.Word {
	switch w.Tag() {
	case value.TagSmallInt, value.TagUnit, value.TagUnitLeft, value.TagUnitRight:
		return w
	case value.TagProduct, value.TagSumLeft, value.TagSumRight:
		oldAddr := uint32(w.Addr())
		a, b := cellAt(src, oldAddr)
		*bump -= cellSize
		newAddr := *bump
		writeCellAt(dst, newAddr, a, b)
		push(a, patch{kind: patchSlot, dstOff: newAddr})
		push(b, patch{kind: patchSlot, dstOff: newAddr + wordSize})
		newWord := value.Ptr(value.TagProduct, uint64(newAddr))
		switch w.Tag() {
		case value.TagSumLeft:
			newWord = newWord.WithBranch(false)
		case value.TagSumRight:
			newWord = newWord.WithBranch(true)
		}
		return newWord
	case value.TagBoxed:
		return cx.relocateBoxed(src, dst, bump, w, push)
	default:
		return w
	}
}

func (cx *Context) relocateBoxed(src, dst []byte, bump *uint32, w value.Word, push func(value.Word, patch)) value.Word {
	oldAddr := uint32(w.Addr())
	h := readHeader(src, oldAddr)

	alloc := func(n uint32) uint32 {
		*bump -= n
		return *bump
	}

	switch h.Type() {
	case value.ObjDeepSum:
		inner := readWord(src, oldAddr+headerSize)
		newAddr := alloc(deepSumObjSize)
		writeHeader(dst, newAddr, h)
		writeWord(dst, newAddr+headerSize, inner)
		push(inner, patch{kind: patchSlot, dstOff: newAddr + headerSize})
		return value.Ptr(value.TagBoxed, uint64(newAddr))

	case value.ObjBinary, value.ObjText, value.ObjBignum, value.ObjArray, value.ObjOpval:
		n := headerSize + h.Data()
		newAddr := alloc(n)
		copy(dst[newAddr:newAddr+n], src[oldAddr:oldAddr+n])
		return value.Ptr(value.TagBoxed, uint64(newAddr))

	case value.ObjSeal:
		tokLen := h.Data()
		n := headerSize + wordSize + tokLen
		inner := readWord(src, oldAddr+headerSize)
		newAddr := alloc(n)
		copy(dst[newAddr:newAddr+headerSize], src[oldAddr:oldAddr+headerSize])
		writeWord(dst, newAddr+headerSize, inner)
		copy(dst[newAddr+headerSize+wordSize:newAddr+n], src[oldAddr+headerSize+wordSize:oldAddr+n])
		push(inner, patch{kind: patchSlot, dstOff: newAddr + headerSize})
		return value.Ptr(value.TagBoxed, uint64(newAddr))

	case value.ObjSealSmall:
		n := uint32(sealSmallObjSize)
		inner := readWord(src, oldAddr+headerSize+sealSmallTokenBytes)
		newAddr := alloc(n)
		copy(dst[newAddr:newAddr+headerSize+sealSmallTokenBytes], src[oldAddr:oldAddr+headerSize+sealSmallTokenBytes])
		writeWord(dst, newAddr+headerSize+sealSmallTokenBytes, inner)
		push(inner, patch{kind: patchSlot, dstOff: newAddr + headerSize + sealSmallTokenBytes})
		return value.Ptr(value.TagBoxed, uint64(newAddr))

	case value.ObjPending:
		inner := readWord(src, oldAddr+headerSize)
		newAddr := alloc(headerSize + wordSize)
		writeHeader(dst, newAddr, h)
		writeWord(dst, newAddr+headerSize, inner)
		push(inner, patch{kind: patchSlot, dstOff: newAddr + headerSize})
		return value.Ptr(value.TagBoxed, uint64(newAddr))

	case value.ObjBlock, value.ObjTrash:
		newAddr := alloc(headerSize)
		writeHeader(dst, newAddr, h)
		return value.Ptr(value.TagBoxed, uint64(newAddr))

	default:
		errorf("vm: compaction: unknown boxed object type %v at %d", h.Type(), oldAddr)
		newAddr := alloc(headerSize)
		writeHeader(dst, newAddr, h)
		return value.Ptr(value.TagBoxed, uint64(newAddr))
	}
}
