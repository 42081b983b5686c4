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

// Package vm is the evaluation engine: value constructors and
// deconstructors (§4.3), substructural tracking (§4.4), iterative
// copy/drop/size (§4.5), the 42 bytecode primitives and their
// accelerators (§4.6), the PC/continuation-stack evaluator with
// quota and pending values (§4.7), inter-context move (§4.8), and the
// Context/Environment types implementing the programmatic surface of
// §6.
//
// Every entry point is fail-safe: on error the primary value register
// is left unchanged and a nonzero ErrCode is both returned and
// latched on the context (Context.Err), matching §7's error-handling
// design.
package vm

import (
	"github.com/kodeflow/abcvm/utf8"
	"github.com/kodeflow/abcvm/value"
)

// withArena runs fn under the context's arena lock, short-circuiting
// with ErrInvalidArg if the context has already been destroyed.
func (cx *Context) withArena(fn func() ErrCode) ErrCode {
	if cx.destroyed {
		return cx.fail(ErrInvalidArg)
	}
	cx.arenaLock.Lock()
	defer cx.arenaLock.Unlock()
	e := fn()
	if e != 0 {
		return cx.fail(e)
	}
	return 0
}

// IntroUnitLeft implements intro_unit (left variant): e → (1*e).
func (cx *Context) IntroUnitLeft() ErrCode {
	return cx.withArena(func() ErrCode {
		cell, err := cx.allocProduct(value.Unit, cx.val)
		if err != 0 {
			return err
		}
		cx.val = cell
		return 0
	})
}

// IntroUnitRight implements intro_unit (right variant): (a*e) →
// ((a*1)*e).
func (cx *Context) IntroUnitRight() ErrCode {
	return cx.withArena(func() ErrCode {
		head, tail, err := cx.splitVal()
		if err != 0 {
			return err
		}
		newHead, err := cx.allocProduct(head, value.Unit)
		if err != 0 {
			return err
		}
		cell, err := cx.allocProduct(newHead, tail)
		if err != 0 {
			return err
		}
		cx.val = cell
		return 0
	})
}

// ElimUnitLeft implements elim_unit (left variant): (1*e) → e.
func (cx *Context) ElimUnitLeft() ErrCode {
	return cx.withArena(func() ErrCode {
		head, tail, err := cx.splitVal()
		if err != 0 {
			return err
		}
		if head != value.Unit {
			return ErrTypeError
		}
		cx.val = tail
		return 0
	})
}

// ElimUnitRight implements elim_unit (right variant): ((a*1)*e) →
// (a*e).
func (cx *Context) ElimUnitRight() ErrCode {
	return cx.withArena(func() ErrCode {
		head, tail, err := cx.splitVal()
		if err != 0 {
			return err
		}
		a, u, err := cx.splitProduct(head)
		if err != 0 {
			return err
		}
		if u != value.Unit {
			return ErrTypeError
		}
		cell, err := cx.allocProduct(a, tail)
		if err != 0 {
			return err
		}
		cx.val = cell
		return 0
	})
}

// wrapSumValue wraps a single value as a sum branch, taking the O(1)
// pointer-retag path whenever the shape permits it and falling back
// to an allocated ObjDeepSum header otherwise (§4.2: "collapse to a
// pointer-tag rewrite when the inner value is a product cell; else
// allocate/peel a deep-sum header").
// maxDeepSumLayers bounds how many wrap layers can be packed into one
// ObjDeepSum header's 19 branch bits (24 data bits minus the 5-bit
// layer count). Wrapping past this depth falls back to a fresh,
// separately-boxed ObjDeepSum rather than overflowing the packed bits.
const maxDeepSumLayers = 19

func (cx *Context) wrapSumValue(v value.Word, right bool) (value.Word, ErrCode) {
	switch v.Tag() {
	case value.TagProduct:
		return v.WithBranch(right), 0
	case value.TagUnit:
		if right {
			return value.UnitRight, 0
		}
		return value.UnitLeft, 0
	case value.TagBoxed:
		if h, err := cx.boxedHeader(v); err == 0 && h.Type() == value.ObjDeepSum {
			count, bits := unpackDeepSum(h.Data())
			if count < maxDeepSumLayers {
				newBits := bits | (boolBit(right) << count)
				newH := h.WithData(packDeepSum(count+1, newBits))
				writeHeader(cx.region.ActiveHalf(), uint32(v.Addr()), newH)
				return v, 0
			}
		}
		fallthrough
	default:
		data := packDeepSum(1, boolBit(right))
		h := value.MakeHeader(value.ObjDeepSum, data)
		boxed, err := cx.allocBoxedFixed(h, deepSumObjSize)
		if err != 0 {
			return 0, err
		}
		writeWord(cx.region.ActiveHalf(), uint32(boxed.Addr())+headerSize, v)
		return boxed, 0
	}
}

// unwrapSumValue is the inverse of wrapSumValue. Common cases (a
// pointer-tagged sum branch, or an ObjDeepSum with more than one
// wrapped layer) require no allocation at all: a pointer-tagged
// branch is resolved by a tag rewrite, and peeling one layer off an
// ObjDeepSum mutates its header's layer count in place.
func (cx *Context) unwrapSumValue(v value.Word) (inRight bool, inner value.Word, err ErrCode) {
	switch v.Tag() {
	case value.TagSumLeft:
		return false, v.AsProduct(), 0
	case value.TagSumRight:
		return true, v.AsProduct(), 0
	case value.TagUnitLeft:
		return false, value.Unit, 0
	case value.TagUnitRight:
		return true, value.Unit, 0
	case value.TagBoxed:
		h, e := cx.boxedHeader(v)
		if e != 0 {
			return false, 0, e
		}
		if h.Type() != value.ObjDeepSum {
			return false, 0, ErrTypeError
		}
		count, bits := unpackDeepSum(h.Data())
		top := bits&(1<<(count-1)) != 0
		addr := uint32(v.Addr())
		innerWord := readWord(cx.region.ActiveHalf(), addr+headerSize)
		if count == 1 {
			return top, innerWord, 0
		}
		newBits := bits &^ (1 << (count - 1))
		writeHeader(cx.region.ActiveHalf(), addr, h.WithData(packDeepSum(count-1, newBits)))
		return top, v, 0
	default:
		return false, 0, ErrTypeError
	}
}

func boolBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// packDeepSum/unpackDeepSum encode an ObjDeepSum header's 24 data bits
// as a 5-bit layer count followed by up to 19 branch bits (one per
// wrapped layer, bit i = the branch chosen at wrap depth i).
func packDeepSum(count uint32, bits uint32) uint32 {
	return count | (bits << 5)
}

func unpackDeepSum(data uint32) (count, bits uint32) {
	return data & 0x1f, data >> 5
}

// WrapSum implements wrap_sum(inRight): (a*e) → ((a+0)*e) or
// ((0+a)*e).
func (cx *Context) WrapSum(right bool) ErrCode {
	return cx.withArena(func() ErrCode {
		head, tail, err := cx.splitVal()
		if err != 0 {
			return err
		}
		newHead, err := cx.wrapSumValue(head, right)
		if err != 0 {
			return err
		}
		cell, err := cx.allocProduct(newHead, tail)
		if err != 0 {
			return err
		}
		cx.val = cell
		return 0
	})
}

// UnwrapSum implements unwrap_sum: ((a+b)*e) → (inRight, (a|b)*e).
func (cx *Context) UnwrapSum() (inRight bool, err ErrCode) {
	err = cx.withArena(func() ErrCode {
		head, tail, err := cx.splitVal()
		if err != 0 {
			return err
		}
		right, newHead, err := cx.unwrapSumValue(head)
		if err != 0 {
			return err
		}
		cell, err := cx.allocProduct(newHead, tail)
		if err != 0 {
			return err
		}
		cx.val = cell
		inRight = right
		return 0
	})
	return inRight, err
}

// IntroI32 implements intro_i32: e → (n*e).
func (cx *Context) IntroI32(n int32) ErrCode {
	return cx.introInt(int64(n))
}

// IntroI64 implements intro_i64: e → (n*e), boxing to a bignum when n
// falls outside the small-int range (the small-int payload is 61 bits,
// so int64 values beyond value.SmallIntMin/SmallIntMax are boxed).
func (cx *Context) IntroI64(n int64) ErrCode {
	return cx.introInt(n)
}

func (cx *Context) introInt(n int64) ErrCode {
	return cx.withArena(func() ErrCode {
		v, err := cx.makeSmallOrBignum(n)
		if err != 0 {
			return err
		}
		cell, err := cx.allocProduct(v, cx.val)
		if err != 0 {
			return err
		}
		cx.val = cell
		return 0
	})
}

// IntroIStr implements intro_istr(decimal string): the canonical
// external decimal form, parsed into a small-int or a boxed bignum.
func (cx *Context) IntroIStr(s string) ErrCode {
	return cx.withArena(func() ErrCode {
		v, err := cx.parseDecimal(s)
		if err != 0 {
			return err
		}
		cell, err := cx.allocProduct(v, cx.val)
		if err != 0 {
			return err
		}
		cx.val = cell
		return 0
	})
}

// PeekI32 implements peek_i32: non-destructively reads the head as an
// int32, failing with ErrTypeError if it doesn't fit.
func (cx *Context) PeekI32() (int32, ErrCode) {
	n, err := cx.PeekI64()
	if err != 0 {
		return 0, err
	}
	const maxI32 = int64(1)<<31 - 1
	const minI32 = -int64(1) << 31
	if n < minI32 || n > maxI32 {
		return 0, cx.fail(ErrTypeError)
	}
	return int32(n), 0
}

// PeekI64 implements peek_i64.
func (cx *Context) PeekI64() (int64, ErrCode) {
	var out int64
	err := cx.withArena(func() ErrCode {
		head, _, err := cx.splitVal()
		if err != 0 {
			return err
		}
		n, err := cx.intValue(head)
		if err != 0 {
			return err
		}
		out = n
		return 0
	})
	return out, err
}

// PeekIStr implements peek_istr(buffer,len): formats the head integer
// as decimal into buf, reporting the required length via
// ErrBufferTooSmall if buf is too small.
func (cx *Context) PeekIStr(buf []byte) (n int, err ErrCode) {
	err = cx.withArena(func() ErrCode {
		head, _, err := cx.splitVal()
		if err != 0 {
			return err
		}
		s, err := cx.formatDecimal(head)
		if err != 0 {
			return err
		}
		if len(s) > len(buf) {
			n = len(s)
			return ErrBufferTooSmall
		}
		n = copy(buf, s)
		return 0
	})
	return n, err
}

// IntroBinary implements intro_binary(bytes): e → (bin*e).
func (cx *Context) IntroBinary(data []byte) ErrCode {
	return cx.withArena(func() ErrCode {
		v, err := cx.allocBytes(value.ObjBinary, data)
		if err != 0 {
			return err
		}
		cell, err := cx.allocProduct(v, cx.val)
		if err != 0 {
			return err
		}
		cx.val = cell
		return 0
	})
}

// ReadBinary implements read_binary(buffer) → count: destructively
// reads and drops a prefix of the head binary value into buf.
func (cx *Context) ReadBinary(buf []byte) (int, ErrCode) {
	var n int
	err := cx.withArena(func() ErrCode {
		head, tail, err := cx.splitVal()
		if err != 0 {
			return err
		}
		h, err := cx.boxedHeader(head)
		if err != 0 || h.Type() != value.ObjBinary {
			return ErrTypeError
		}
		total := h.Data()
		payload := cx.boxedPayload(head, headerSize, total)
		n = copy(buf, payload)
		remaining := payload[n:]
		newHead, err := cx.allocBytes(value.ObjBinary, remaining)
		if err != 0 {
			return err
		}
		cell, err := cx.allocProduct(newHead, tail)
		if err != 0 {
			return err
		}
		cx.val = cell
		return 0
	})
	return n, err
}

// IntroText implements intro_text(utf8): e → (text*e). s must be
// valid text per §3 (excludes surrogates, the replacement character,
// and the C0/DEL/C1 controls other than LF).
func (cx *Context) IntroText(s []byte) ErrCode {
	if !utf8.ValidText(s) {
		return cx.fail(ErrInvalidArg)
	}
	return cx.withArena(func() ErrCode {
		v, err := cx.allocBytes(value.ObjText, s)
		if err != 0 {
			return err
		}
		cell, err := cx.allocProduct(v, cx.val)
		if err != 0 {
			return err
		}
		cx.val = cell
		return 0
	})
}

// ReadText implements read_text(buffer) → (bytes, chars): like
// ReadBinary, but never splits a multi-byte rune across the buffer
// boundary.
func (cx *Context) ReadText(buf []byte) (nbytes, nchars int, err ErrCode) {
	err = cx.withArena(func() ErrCode {
		head, tail, err := cx.splitVal()
		if err != 0 {
			return err
		}
		h, err := cx.boxedHeader(head)
		if err != 0 || h.Type() != value.ObjText {
			return ErrTypeError
		}
		total := h.Data()
		payload := cx.boxedPayload(head, headerSize, total)
		n := len(buf)
		if n > len(payload) {
			n = len(payload)
		}
		for n > 0 && n < len(payload) && isUTF8Continuation(payload[n]) {
			n--
		}
		copy(buf, payload[:n])
		nbytes = n
		nchars = utf8.ValidStringLength(payload[:n])
		remaining := payload[n:]
		newHead, err := cx.allocBytes(value.ObjText, remaining)
		if err != 0 {
			return err
		}
		cell, err := cx.allocProduct(newHead, tail)
		if err != 0 {
			return err
		}
		cx.val = cell
		return 0
	})
	return nbytes, nchars, err
}

func isUTF8Continuation(b byte) bool { return b&0xc0 == 0x80 }

func (cx *Context) allocBytes(t value.ObjType, data []byte) (value.Word, ErrCode) {
	n := uint32(headerSize + len(data))
	h := value.MakeHeader(t, uint32(len(data)))
	addr, err := cx.reserveAlloc(n)
	if err != 0 {
		return 0, err
	}
	half := cx.region.ActiveHalf()
	writeHeader(half, addr, h)
	copy(half[addr+headerSize:addr+n], data)
	return value.Ptr(value.TagBoxed, uint64(addr)), 0
}

// IntroBlock implements intro_block(source, options): parsing
// bytecode source text is the external parser's job (§3 Non-goals),
// so this always fails with ErrUnimplemented. Internal callers that
// need a Block value (Quote, Compose, block_aff/block_rel) go through
// makeBlock directly with an already-parsed OpList.
func (cx *Context) IntroBlock(source []byte, options uint32) ErrCode {
	return cx.fail(ErrUnimplemented)
}

// makeBlock allocates a Block value wrapping ops, recording the
// affine/relevant flags in both the block table entry and the boxed
// header's substructure bits (read back by Attributes without needing
// to walk ops).
func (cx *Context) makeBlock(ops OpList, affine, relevant bool) (value.Word, ErrCode) {
	idx := cx.blocks.add(block{ops: ops, affine: affine, relevant: relevant})
	data := idx & 0x3fffff
	if affine {
		data |= 1 << 22
	}
	if relevant {
		data |= 1 << 23
	}
	h := value.MakeHeader(value.ObjBlock, data)
	return cx.allocBoxedFixed(h, headerSize)
}

func (cx *Context) blockInfo(w value.Word) (block, uint32, ErrCode) {
	h, err := cx.boxedHeader(w)
	if err != 0 || h.Type() != value.ObjBlock {
		return block{}, 0, ErrTypeError
	}
	idx := h.Data() & 0x3fffff
	return cx.blocks.get(idx), idx, 0
}

// WrapSeal implements wrap_seal(token): (a*e) → (sealed*e). token
// must satisfy the shared token-validity rule (§4.3).
func (cx *Context) WrapSeal(token string) ErrCode {
	if !utf8.ValidToken([]byte(token)) {
		return cx.fail(ErrInvalidArg)
	}
	return cx.withArena(func() ErrCode {
		head, tail, err := cx.splitVal()
		if err != 0 {
			return err
		}
		sealed, err := cx.allocSeal(token, head)
		if err != 0 {
			return err
		}
		cell, err := cx.allocProduct(sealed, tail)
		if err != 0 {
			return err
		}
		cx.val = cell
		return 0
	})
}

func (cx *Context) allocSeal(token string, inner value.Word) (value.Word, ErrCode) {
	tb := []byte(token)
	if len(tb) <= sealSmallTokenBytes {
		var tok [sealSmallTokenBytes]byte
		copy(tok[:], tb)
		h := value.MakeHeader(value.ObjSealSmall, uint32(len(tb)))
		n := uint32(sealSmallObjSize)
		addr, err := cx.reserveAlloc(n)
		if err != 0 {
			return 0, err
		}
		half := cx.region.ActiveHalf()
		writeHeader(half, addr, h)
		copy(half[addr+headerSize:addr+headerSize+sealSmallTokenBytes], tok[:])
		writeWord(half, addr+headerSize+sealSmallTokenBytes, inner)
		return value.Ptr(value.TagBoxed, uint64(addr)), 0
	}
	h := value.MakeHeader(value.ObjSeal, uint32(len(tb)))
	n := uint32(headerSize) + wordSize + uint32(len(tb))
	addr, err := cx.reserveAlloc(n)
	if err != 0 {
		return 0, err
	}
	half := cx.region.ActiveHalf()
	writeHeader(half, addr, h)
	writeWord(half, addr+headerSize, inner)
	copy(half[addr+headerSize+wordSize:addr+n], tb)
	return value.Ptr(value.TagBoxed, uint64(addr)), 0
}

// UnwrapSeal implements unwrap_seal(out_token): (sealed*e) →
// (a*e), reporting the token that sealed it.
func (cx *Context) UnwrapSeal() (token string, err ErrCode) {
	err = cx.withArena(func() ErrCode {
		head, tail, err := cx.splitVal()
		if err != 0 {
			return err
		}
		h, err := cx.boxedHeader(head)
		if err != 0 {
			return ErrTypeError
		}
		var inner value.Word
		addr := uint32(head.Addr())
		half := cx.region.ActiveHalf()
		switch h.Type() {
		case value.ObjSealSmall:
			tokLen := h.Data()
			token = string(half[addr+headerSize : addr+headerSize+tokLen])
			inner = readWord(half, addr+headerSize+sealSmallTokenBytes)
		case value.ObjSeal:
			tokLen := h.Data()
			token = string(half[addr+headerSize+wordSize : addr+headerSize+wordSize+tokLen])
			inner = readWord(half, addr+headerSize)
		default:
			return ErrTypeError
		}
		cell, err := cx.allocProduct(inner, tail)
		if err != 0 {
			return err
		}
		cx.val = cell
		return 0
	})
	return token, err
}

// Stow implements stow: marks the head value for lazy migration to
// the environment's external store (§6). Like the {&stow} annotation
// handler in eval.go, it only boxes the head as a stowed ObjPending
// value; neither writes anything to package store. Without a store it
// fails with ErrUnimplemented.
func (cx *Context) Stow() ErrCode {
	return cx.withArena(func() ErrCode {
		return cx.stowHead()
	})
}
