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

// Attributes computes the substructural attributes of w (§4.4): the
// union, over every block reachable from w, of that block's own
// affine/relevant flags, plus Pending if any reachable value is an
// ObjPending box. Substructure is reported by this traversal, never
// stored on non-block values, matching invariant 6 ("substructure is
// a property observed over a value's reachable blocks, not a bit
// carried by every cell").
//
// The traversal is iterative (an explicit worklist) rather than
// recursive so its stack usage is bounded independent of how deep a
// value's product/sum spine runs, matching the same non-recursive
// discipline as compact in gc.go.
func (cx *Context) Attributes(w value.Word) (value.Substructure, ErrCode) {
	var out value.Substructure
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
			stack = append(stack, a, b)
		case value.TagBoxed:
			h, err := cx.boxedHeader(v)
			if err != 0 {
				return 0, err
			}
			switch h.Type() {
			case value.ObjBlock:
				idx := h.Data() & 0x3fffff
				b := cx.blocks.get(idx)
				if b.affine {
					out |= value.Affine
				}
				if b.relevant {
					out |= value.Relevant
				}
			case value.ObjDeepSum, value.ObjSeal, value.ObjSealSmall:
				inner, err := cx.boxedInner(v, h)
				if err != 0 {
					return 0, err
				}
				stack = append(stack, inner)
			case value.ObjPending:
				out |= value.Pending
				inner, err := cx.boxedInner(v, h)
				if err != 0 {
					return 0, err
				}
				stack = append(stack, inner)
			case value.ObjBinary, value.ObjText, value.ObjBignum, value.ObjTrash, value.ObjArray, value.ObjOpval:
				// No embedded values to traverse further.
			}
		}
	}
	return out, 0
}

// boxedInner returns the single wrapped value.Word embedded in a
// boxed object whose layout is "header, then (optional fixed
// payload), then one inner word" — ObjDeepSum, ObjSeal, ObjSealSmall
// and ObjPending all share this shape, differing only in where the
// inner word sits relative to the header.
func (cx *Context) boxedInner(w value.Word, h value.Header) (value.Word, ErrCode) {
	addr := uint32(w.Addr())
	half := cx.region.ActiveHalf()
	switch h.Type() {
	case value.ObjDeepSum, value.ObjPending:
		return readWord(half, addr+headerSize), 0
	case value.ObjSealSmall:
		return readWord(half, addr+headerSize+sealSmallTokenBytes), 0
	case value.ObjSeal:
		return readWord(half, addr+headerSize), 0
	default:
		return 0, ErrTypeError
	}
}
