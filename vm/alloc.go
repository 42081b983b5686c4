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

// allocProduct reserves and writes a single product cell (a, b),
// returning a TagProduct word pointing at it. Callers must already
// hold cx.arenaLock.
func (cx *Context) allocProduct(a, b value.Word) (value.Word, ErrCode) {
	addr, err := cx.reserveAlloc(cellSize)
	if err != 0 {
		return 0, err
	}
	writeCellAt(cx.region.ActiveHalf(), addr, a, b)
	return value.Ptr(value.TagProduct, uint64(addr)), 0
}

// splitProduct reads the two fields of a product-shaped word (plain
// product or either sum branch — the cell layout is identical; only
// the tag differs).
func (cx *Context) splitProduct(w value.Word) (a, b value.Word, err ErrCode) {
	switch w.Tag() {
	case value.TagProduct, value.TagSumLeft, value.TagSumRight:
		a, b = cellAt(cx.region.ActiveHalf(), uint32(w.Addr()))
		return a, b, 0
	default:
		return 0, 0, ErrTypeError
	}
}

// splitVal destructures the primary value register as (head * tail),
// the shape every stack-manipulating primitive expects.
func (cx *Context) splitVal() (head, tail value.Word, err ErrCode) {
	return cx.splitProduct(cx.val)
}

func (cx *Context) allocBoxedFixed(h value.Header, n uint32) (value.Word, ErrCode) {
	addr, err := cx.reserveAlloc(n)
	if err != 0 {
		return 0, err
	}
	writeHeader(cx.region.ActiveHalf(), addr, h)
	return value.Ptr(value.TagBoxed, uint64(addr)), 0
}

func (cx *Context) boxedHeader(w value.Word) (value.Header, ErrCode) {
	if w.Tag() != value.TagBoxed {
		return 0, ErrTypeError
	}
	return readHeader(cx.region.ActiveHalf(), uint32(w.Addr())), 0
}

func (cx *Context) boxedPayload(w value.Word, off, n uint32) []byte {
	addr := uint32(w.Addr())
	return cx.region.ActiveHalf()[addr+off : addr+off+n]
}
