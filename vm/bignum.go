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
	"strconv"
	"strings"

	"github.com/kodeflow/abcvm/value"
)

// bignumBase is the digit base used by the boxed bignum representation:
// 10^9, chosen (rather than a binary base) so decimal formatting and
// parsing never need a base conversion, only digit-group packing —
// per §4.1's explicit requirement that the interpreter not depend on
// math/big, the arbitrary-precision path here stays self-contained.
const bignumBase = 1_000_000_000

// bignumSignBit marks a negative magnitude in an ObjBignum header's
// data bits; the remaining bits are the digit-group count.
const bignumSignBit = 1 << 23

// An ObjBignum's payload is a little-endian array of uint32 digit
// groups, each in [0, bignumBase), most-significant group last omitted
// of leading zero groups (the top group is always nonzero).

// makeSmallOrBignum builds the most compact Word representing n:
// inline if it fits, else a boxed bignum of as many base-10^9 groups
// as |n| needs (int64's range never needs more than 3).
func (cx *Context) makeSmallOrBignum(n int64) (value.Word, ErrCode) {
	if value.FitsSmallInt(n) {
		return value.MakeSmallInt(n), 0
	}
	return cx.makeBignum(digitsOf(n), n < 0)
}

// digitsOf decomposes |n| into little-endian base-10^9 groups.
func digitsOf(n int64) []uint32 {
	if n < 0 {
		n = -n
	}
	if n == 0 {
		return []uint32{0}
	}
	var groups []uint32
	u := uint64(n)
	for u > 0 {
		groups = append(groups, uint32(u%bignumBase))
		u /= bignumBase
	}
	return groups
}

func (cx *Context) makeBignum(groups []uint32, neg bool) (value.Word, ErrCode) {
	data := uint32(len(groups))
	if neg {
		data |= bignumSignBit
	}
	h := value.MakeHeader(value.ObjBignum, data)
	n := headerSize + uint32(len(groups))*4
	addr, err := cx.reserveAlloc(n)
	if err != 0 {
		return 0, err
	}
	half := cx.region.ActiveHalf()
	writeHeader(half, addr, h)
	off := addr + headerSize
	for _, g := range groups {
		half[off] = byte(g)
		half[off+1] = byte(g >> 8)
		half[off+2] = byte(g >> 16)
		half[off+3] = byte(g >> 24)
		off += 4
	}
	return value.Ptr(value.TagBoxed, uint64(addr)), 0
}

func readBignumGroups(payload []byte, n uint32) []uint32 {
	groups := make([]uint32, n)
	for i := range groups {
		off := i * 4
		groups[i] = uint32(payload[off]) | uint32(payload[off+1])<<8 |
			uint32(payload[off+2])<<16 | uint32(payload[off+3])<<24
	}
	return groups
}

// intValue reads w as an int64, failing with ErrTypeError if w isn't
// an integer or the magnitude overflows int64 (callers that want
// arbitrary precision should use formatDecimal instead).
func (cx *Context) intValue(w value.Word) (int64, ErrCode) {
	switch w.Tag() {
	case value.TagSmallInt:
		return w.SmallInt(), 0
	case value.TagBoxed:
		h, err := cx.boxedHeader(w)
		if err != 0 || h.Type() != value.ObjBignum {
			return 0, ErrTypeError
		}
		n := h.Data() &^ bignumSignBit
		neg := h.Data()&bignumSignBit != 0
		payload := cx.boxedPayload(w, headerSize, n*4)
		groups := readBignumGroups(payload, n)
		var u uint64
		for i := len(groups) - 1; i >= 0; i-- {
			if u > (1<<64-1)/bignumBase {
				return 0, ErrTypeError
			}
			u = u*bignumBase + uint64(groups[i])
		}
		if neg {
			if u > 1<<63 {
				return 0, ErrTypeError
			}
			return -int64(u), 0
		}
		if u > uint64(1<<63-1) {
			return 0, ErrTypeError
		}
		return int64(u), 0
	default:
		return 0, ErrTypeError
	}
}

// formatDecimal renders w's integer value as canonical decimal text
// (no leading zeros, "-" prefix for negatives, "0" for zero).
func (cx *Context) formatDecimal(w value.Word) (string, ErrCode) {
	switch w.Tag() {
	case value.TagSmallInt:
		return strconv.FormatInt(w.SmallInt(), 10), 0
	case value.TagBoxed:
		h, err := cx.boxedHeader(w)
		if err != 0 || h.Type() != value.ObjBignum {
			return "", ErrTypeError
		}
		n := h.Data() &^ bignumSignBit
		neg := h.Data()&bignumSignBit != 0
		payload := cx.boxedPayload(w, headerSize, n*4)
		groups := readBignumGroups(payload, n)
		var b strings.Builder
		if neg {
			b.WriteByte('-')
		}
		b.WriteString(strconv.FormatUint(uint64(groups[len(groups)-1]), 10))
		for i := len(groups) - 2; i >= 0; i-- {
			s := strconv.FormatUint(uint64(groups[i]), 10)
			b.WriteString(strings.Repeat("0", 9-len(s)))
			b.WriteString(s)
		}
		return b.String(), 0
	default:
		return "", ErrTypeError
	}
}

// parseDecimal parses the canonical external decimal form (§3: an
// optional "-", then digits with no leading zero unless the value is
// exactly "0") into a small-int or boxed bignum Word.
func (cx *Context) parseDecimal(s string) (value.Word, ErrCode) {
	if s == "" {
		return 0, ErrInvalidArg
	}
	neg := false
	digits := s
	if digits[0] == '-' {
		neg = true
		digits = digits[1:]
	}
	if digits == "" {
		return 0, ErrInvalidArg
	}
	if len(digits) > 1 && digits[0] == '0' {
		return 0, ErrInvalidArg
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, ErrInvalidArg
		}
	}
	if neg && digits == "0" {
		return 0, ErrInvalidArg
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return cx.makeSmallOrBignum(n)
	}

	groups := make([]uint32, 0, (len(digits)+8)/9)
	for len(digits) > 0 {
		cut := len(digits) % 9
		if cut == 0 {
			cut = 9
		}
		chunk := digits[:cut]
		digits = digits[cut:]
		v, _ := strconv.ParseUint(chunk, 10, 32)
		groups = append(groups, uint32(v))
	}
	// groups was built most-significant-first above; reverse to
	// little-endian group order.
	for i, j := 0, len(groups)-1; i < j; i, j = i+1, j-1 {
		groups[i], groups[j] = groups[j], groups[i]
	}
	return cx.makeBignum(groups, neg)
}
