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

// sizeOfDeepCopy walks w's graph iteratively and sums the bytes a full
// structural copy would require, without allocating anything. A
// primitive that needs to duplicate a value reserves this size up
// front and only then performs the actual copy (§4.5: "copy first
// sizes, then reserves, then copies" — this two-pass shape is what
// lets a primitive satisfy the single up-front Reserve discipline
// even though the size of what it is about to allocate depends on
// the value it was handed).
func (cx *Context) sizeOfDeepCopy(w value.Word) (uint32, ErrCode) {
	var total uint32
	stack := []value.Word{w}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch v.Tag() {
		case value.TagSmallInt, value.TagUnit, value.TagUnitLeft, value.TagUnitRight:
			continue
		case value.TagProduct, value.TagSumLeft, value.TagSumRight:
			a, b, err := cx.splitProduct(v)
			if err != 0 {
				return 0, err
			}
			total += cellSize
			stack = append(stack, a, b)
		case value.TagBoxed:
			h, err := cx.boxedHeader(v)
			if err != 0 {
				return 0, err
			}
			n, hasInner, err := boxedSizeAndInner(h)
			if err != 0 {
				return 0, err
			}
			total += n
			if hasInner {
				iv, err := cx.boxedInner(v, h)
				if err != 0 {
					return 0, err
				}
				stack = append(stack, iv)
			}
		}
	}
	return total, 0
}

// boxedSizeAndInner reports a boxed object's own wire size and
// whether it wraps exactly one inner value.Word that must also be
// sized/copied.
func boxedSizeAndInner(h value.Header) (size uint32, hasInner bool, err ErrCode) {
	switch h.Type() {
	case value.ObjDeepSum, value.ObjPending:
		return deepSumObjSize, true, 0
	case value.ObjSealSmall:
		return sealSmallObjSize, true, 0
	case value.ObjSeal:
		return headerSize + wordSize + h.Data(), true, 0
	case value.ObjBinary, value.ObjText, value.ObjBignum, value.ObjArray, value.ObjOpval:
		return headerSize + h.Data(), false, 0
	case value.ObjBlock, value.ObjTrash:
		return headerSize, false, 0
	default:
		return 0, false, ErrTypeError
	}
}

// Copy implements the deep-copy half of the `copy` primitive: it
// duplicates w's entire reachable value graph (not the contents of
// any block it reaches, which are immutable and shared by reference
// through the block table) into freshly allocated cells of the same
// arena.
func (cx *Context) Copy(w value.Word) (value.Word, ErrCode) {
	need, err := cx.sizeOfDeepCopy(w)
	if err != 0 {
		return 0, err
	}
	if !cx.region.Reserve(need) {
		if !cx.compact(need) || !cx.region.Reserve(need) {
			return 0, ErrContextFull
		}
	}
	return cx.copyOne(w)
}

// copyOne performs the actual duplication, assuming sizeOfDeepCopy's
// worst case has already been reserved. It never triggers a
// compaction itself — doing so mid-copy would invalidate the pointers
// it is still walking.
func (cx *Context) copyOne(w value.Word) (value.Word, ErrCode) {
	switch w.Tag() {
	case value.TagSmallInt, value.TagUnit, value.TagUnitLeft, value.TagUnitRight:
		return w, 0
	case value.TagProduct, value.TagSumLeft, value.TagSumRight:
		a, b, err := cx.splitProduct(w)
		if err != 0 {
			return 0, err
		}
		na, err := cx.copyOne(a)
		if err != 0 {
			return 0, err
		}
		nb, err := cx.copyOne(b)
		if err != 0 {
			return 0, err
		}
		addr := cx.region.Alloc(cellSize)
		writeCellAt(cx.region.ActiveHalf(), addr, na, nb)
		cell := value.Ptr(value.TagProduct, uint64(addr))
		switch w.Tag() {
		case value.TagSumLeft:
			cell = cell.WithBranch(false)
		case value.TagSumRight:
			cell = cell.WithBranch(true)
		}
		return cell, 0
	case value.TagBoxed:
		return cx.copyBoxed(w)
	default:
		return 0, ErrTypeError
	}
}

func (cx *Context) copyBoxed(w value.Word) (value.Word, ErrCode) {
	h, err := cx.boxedHeader(w)
	if err != 0 {
		return 0, err
	}
	half := cx.region.ActiveHalf()
	addr := uint32(w.Addr())

	switch h.Type() {
	case value.ObjDeepSum, value.ObjPending:
		inner, err := cx.boxedInner(w, h)
		if err != 0 {
			return 0, err
		}
		ninner, err := cx.copyOne(inner)
		if err != 0 {
			return 0, err
		}
		naddr := cx.region.Alloc(deepSumObjSize)
		writeHeader(half, naddr, h)
		writeWord(half, naddr+headerSize, ninner)
		return value.Ptr(value.TagBoxed, uint64(naddr)), 0

	case value.ObjSealSmall:
		inner, err := cx.boxedInner(w, h)
		if err != 0 {
			return 0, err
		}
		ninner, err := cx.copyOne(inner)
		if err != 0 {
			return 0, err
		}
		naddr := cx.region.Alloc(sealSmallObjSize)
		copy(half[naddr:naddr+headerSize+sealSmallTokenBytes], half[addr:addr+headerSize+sealSmallTokenBytes])
		writeWord(half, naddr+headerSize+sealSmallTokenBytes, ninner)
		return value.Ptr(value.TagBoxed, uint64(naddr)), 0

	case value.ObjSeal:
		tokLen := h.Data()
		inner, err := cx.boxedInner(w, h)
		if err != 0 {
			return 0, err
		}
		ninner, err := cx.copyOne(inner)
		if err != 0 {
			return 0, err
		}
		n := headerSize + wordSize + tokLen
		naddr := cx.region.Alloc(n)
		writeHeader(half, naddr, h)
		writeWord(half, naddr+headerSize, ninner)
		copy(half[naddr+headerSize+wordSize:naddr+n], half[addr+headerSize+wordSize:addr+n])
		return value.Ptr(value.TagBoxed, uint64(naddr)), 0

	case value.ObjBinary, value.ObjText, value.ObjBignum, value.ObjArray, value.ObjOpval:
		n := headerSize + h.Data()
		naddr := cx.region.Alloc(n)
		copy(half[naddr:naddr+n], half[addr:addr+n])
		return value.Ptr(value.TagBoxed, uint64(naddr)), 0

	case value.ObjBlock:
		// Blocks are immutable program data shared by reference
		// through the block table; "copying" one is just duplicating
		// the handle, matching how the spec treats a quoted block as
		// an ordinary (trivially copyable) value once built.
		naddr := cx.region.Alloc(headerSize)
		writeHeader(half, naddr, h)
		return value.Ptr(value.TagBoxed, uint64(naddr)), 0

	case value.ObjTrash:
		naddr := cx.region.Alloc(headerSize)
		writeHeader(half, naddr, h)
		return value.Ptr(value.TagBoxed, uint64(naddr)), 0

	default:
		return 0, ErrTypeError
	}
}

// Drop implements the `drop` primitive: it discards w, failing with
// ErrTypeError if w's substructure reports Relevant (relevant values
// must be observed, not dropped). The arena itself reclaims the
// discarded bytes lazily at the next compaction; Drop's only job is
// the substructural check and, for a stowed ObjPending value, nothing
// further (an unresolved stow is simply abandoned along with the rest
// of the graph).
func (cx *Context) Drop(w value.Word) ErrCode {
	attrs, err := cx.Attributes(w)
	if err != 0 {
		return err
	}
	if attrs.Relevant() {
		return ErrTypeError
	}
	return 0
}
