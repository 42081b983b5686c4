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

// Move implements cx_move (§4.8): transplants w, a value currently
// valid in cx, into dst so that the returned word is valid there
// instead. Forked siblings (cx.sharesArena(dst)) take the O(1) path —
// the same bytes are already reachable from both contexts, so the
// word itself needs no translation. Contexts backed by different
// arenas fall back to a full structural copy into dst's region,
// including cloning any block-table entries the moved value reaches,
// since a block index is only meaningful within the table it was
// allocated from.
//
// Move never drop-checks w: a moved value is still in use, simply
// from the other context, unlike Drop's discard of a value nobody
// will read again.
func (cx *Context) Move(dst *Context, w value.Word) (value.Word, ErrCode) {
	if cx == dst || cx.sharesArena(dst) {
		return w, 0
	}

	first, second := cx, dst
	if bytesLess(dst.id[:], cx.id[:]) {
		first, second = dst, cx
	}
	first.arenaLock.Lock()
	defer first.arenaLock.Unlock()
	if second != first {
		second.arenaLock.Lock()
		defer second.arenaLock.Unlock()
	}

	if cx.destroyed || dst.destroyed {
		return 0, ErrInvalidArg
	}

	need, err := cx.sizeOfMove(w)
	if err != 0 {
		return 0, err
	}
	if !dst.region.Reserve(need) {
		if !dst.compact(need) || !dst.region.Reserve(need) {
			return 0, ErrContextFull
		}
	}
	return cx.moveOne(dst, w)
}

// sizeOfMove is sizeOfDeepCopy's move-specific counterpart: unlike
// Copy (which shares a block's op list by reference through the block
// table and so only ever needs headerSize for an ObjBlock node),
// Move must clone the block-table entry itself into dst, so any
// operandValue operands the block's op list quotes (primQuote's
// output) are reachable arena values too and must be sized and
// eventually moved right along with it.
func (cx *Context) sizeOfMove(w value.Word) (uint32, ErrCode) {
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
			if h.Type() == value.ObjBlock {
				idx := h.Data() & 0x3fffff
				for _, op := range cx.blocks.get(idx).ops {
					if op.Kind == operandValue {
						stack = append(stack, op.Value)
					}
				}
			}
		}
	}
	return total, 0
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// moveOne duplicates w, read out of cx's arena, into dst's arena,
// assuming dst has already reserved sizeOfMove(w) bytes. It never
// triggers a compaction of either region itself.
func (cx *Context) moveOne(dst *Context, w value.Word) (value.Word, ErrCode) {
	switch w.Tag() {
	case value.TagSmallInt, value.TagUnit, value.TagUnitLeft, value.TagUnitRight:
		return w, 0
	case value.TagProduct, value.TagSumLeft, value.TagSumRight:
		a, b, err := cx.splitProduct(w)
		if err != 0 {
			return 0, err
		}
		na, err := cx.moveOne(dst, a)
		if err != 0 {
			return 0, err
		}
		nb, err := cx.moveOne(dst, b)
		if err != 0 {
			return 0, err
		}
		addr := dst.region.Alloc(cellSize)
		writeCellAt(dst.region.ActiveHalf(), addr, na, nb)
		cell := value.Ptr(value.TagProduct, uint64(addr))
		switch w.Tag() {
		case value.TagSumLeft:
			cell = cell.WithBranch(false)
		case value.TagSumRight:
			cell = cell.WithBranch(true)
		}
		return cell, 0
	case value.TagBoxed:
		return cx.moveBoxed(dst, w)
	default:
		return 0, ErrTypeError
	}
}

func (cx *Context) moveBoxed(dst *Context, w value.Word) (value.Word, ErrCode) {
	h, err := cx.boxedHeader(w)
	if err != 0 {
		return 0, err
	}
	srcHalf := cx.region.ActiveHalf()
	dstHalf := dst.region.ActiveHalf()
	addr := uint32(w.Addr())

	switch h.Type() {
	case value.ObjDeepSum, value.ObjPending:
		inner, err := cx.boxedInner(w, h)
		if err != 0 {
			return 0, err
		}
		ninner, err := cx.moveOne(dst, inner)
		if err != 0 {
			return 0, err
		}
		naddr := dst.region.Alloc(deepSumObjSize)
		writeHeader(dstHalf, naddr, h)
		writeWord(dstHalf, naddr+headerSize, ninner)
		return value.Ptr(value.TagBoxed, uint64(naddr)), 0

	case value.ObjSealSmall:
		inner, err := cx.boxedInner(w, h)
		if err != 0 {
			return 0, err
		}
		ninner, err := cx.moveOne(dst, inner)
		if err != 0 {
			return 0, err
		}
		naddr := dst.region.Alloc(sealSmallObjSize)
		copy(dstHalf[naddr:naddr+headerSize+sealSmallTokenBytes], srcHalf[addr:addr+headerSize+sealSmallTokenBytes])
		writeWord(dstHalf, naddr+headerSize+sealSmallTokenBytes, ninner)
		return value.Ptr(value.TagBoxed, uint64(naddr)), 0

	case value.ObjSeal:
		tokLen := h.Data()
		inner, err := cx.boxedInner(w, h)
		if err != 0 {
			return 0, err
		}
		ninner, err := cx.moveOne(dst, inner)
		if err != 0 {
			return 0, err
		}
		n := headerSize + wordSize + tokLen
		naddr := dst.region.Alloc(n)
		writeHeader(dstHalf, naddr, h)
		writeWord(dstHalf, naddr+headerSize, ninner)
		copy(dstHalf[naddr+headerSize+wordSize:naddr+n], srcHalf[addr+headerSize+wordSize:addr+n])
		return value.Ptr(value.TagBoxed, uint64(naddr)), 0

	case value.ObjBinary, value.ObjText, value.ObjBignum, value.ObjArray, value.ObjOpval:
		n := headerSize + h.Data()
		naddr := dst.region.Alloc(n)
		copy(dstHalf[naddr:naddr+n], srcHalf[addr:addr+n])
		return value.Ptr(value.TagBoxed, uint64(naddr)), 0

	case value.ObjTrash:
		naddr := dst.region.Alloc(headerSize)
		writeHeader(dstHalf, naddr, h)
		return value.Ptr(value.TagBoxed, uint64(naddr)), 0

	case value.ObjBlock:
		return cx.moveBlock(dst, h)

	default:
		return 0, ErrTypeError
	}
}

// moveBlock clones a block-table entry from cx's table into dst's,
// recursively moving any quoted value operands its op list carries
// (the Op.Value a primQuote-built block embeds was allocated in cx's
// arena, and is only valid there until it too is moved).
func (cx *Context) moveBlock(dst *Context, h value.Header) (value.Word, ErrCode) {
	idx := h.Data() & 0x3fffff
	b := cx.blocks.get(idx)

	ops := make(OpList, len(b.ops))
	for i, op := range b.ops {
		if op.Kind == operandValue {
			nv, err := cx.moveOne(dst, op.Value)
			if err != 0 {
				return 0, err
			}
			op.Value = nv
		}
		ops[i] = op
	}

	// A fresh dst.makeBlock call would re-Reserve off the arena's
	// current bump position, clobbering the slack sizeOfMove
	// pre-reserved for the rest of this traversal's still-unmoved
	// siblings (see reserveAlloc/Region.Reserve). So this replicates
	// makeBlock's header-building directly, allocating with the raw
	// Alloc that trusts the outer reservation instead.
	newIdx := dst.blocks.add(block{ops: ops, affine: b.affine, relevant: b.relevant})
	data := newIdx & 0x3fffff
	if b.affine {
		data |= 1 << 22
	}
	if b.relevant {
		data |= 1 << 23
	}
	nh := value.MakeHeader(value.ObjBlock, data)
	naddr := dst.region.Alloc(headerSize)
	writeHeader(dst.region.ActiveHalf(), naddr, nh)
	return value.Ptr(value.TagBoxed, uint64(naddr)), 0
}
