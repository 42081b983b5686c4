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
	"encoding/binary"

	"github.com/kodeflow/abcvm/value"
)

// cellSize is the size in bytes of a product cell: two consecutive
// tagged words, (a, b), both relative to the start of a Context's
// arena half.
const cellSize = 16

// wordSize is the wire size of a single value.Word.
const wordSize = 8

// deepSumObjSize is the wire size of an ObjDeepSum object: a header
// plus the single inner word it wraps.
const deepSumObjSize = headerSize + wordSize

// sealSmallTokenBytes is the fixed inline token capacity of an
// ObjSealSmall object: tokens of up to 4 bytes are stored directly in
// the object rather than requiring the general, variable-length
// ObjSeal layout (§8 boundary case: "sealed tag exactly 4 bytes uses
// the inline form, 5 bytes uses the boxed form").
const sealSmallTokenBytes = 4

// sealSmallObjSize is the wire size of an ObjSealSmall object: header
// + inline token bytes + the wrapped inner value word.
const sealSmallObjSize = headerSize + sealSmallTokenBytes + wordSize

// headerSize is the wire size of a boxed object's value.Header,
// stored as the first 4 bytes at the address a TagBoxed word points
// to; object payloads begin immediately after, at addr+headerSize
// (no padding is inserted, so a payload word may sit at any byte
// offset; readWord/writeWord go through encoding/binary and need no
// alignment).
const headerSize = 4

func readWord(half []byte, addr uint32) value.Word {
	return value.Word(binary.LittleEndian.Uint64(half[addr:]))
}

func writeWord(half []byte, addr uint32, w value.Word) {
	binary.LittleEndian.PutUint64(half[addr:], uint64(w))
}

func readHeader(half []byte, addr uint32) value.Header {
	return value.Header(binary.LittleEndian.Uint32(half[addr:]))
}

func writeHeader(half []byte, addr uint32, h value.Header) {
	binary.LittleEndian.PutUint32(half[addr:], uint32(h))
}

// cellAt returns the two words of the product cell at addr.
func cellAt(half []byte, addr uint32) (a, b value.Word) {
	return readWord(half, addr), readWord(half, addr+wordSize)
}

func writeCellAt(half []byte, addr uint32, a, b value.Word) {
	writeWord(half, addr, a)
	writeWord(half, addr+wordSize, b)
}
