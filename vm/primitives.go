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

// primFunc is the shape of every primitive's implementation: a pure
// transform of the context's primary value register. Structural
// primitives never themselves need to Apply a block (that is eval.go's
// job, driven by Apply/CondApply returning a block to push onto the
// continuation stack); everything in this file is a single allocating
// step against cx.val.
type primFunc func(cx *Context) ErrCode

// primTable is indexed by the same dispatch the opcode carries;
// accelerators are handled separately in eval.go since they fold
// several of these steps into one without the intermediate
// allocations a literal expansion would perform.
var primTable = map[Opcode]primFunc{
	OpAssocl:    primAssocl,
	OpAssocr:    primAssocr,
	OpSwap:      primSwap,
	OpZSwap:     primZSwap,
	OpIntro1:    primIntro1,
	OpElim1:     primElim1,
	OpSumAssocl: primSumAssocl,
	OpSumAssocr: primSumAssocr,
	OpSumSwap:   primSumSwap,
	OpSumZSwap:  primSumZSwap,
	OpSumIntro0: primSumIntro0,
	OpSumElim0:  primSumElim0,
	OpDrop:      primDrop,
	OpCopy:      primCopy,
	OpCompose:   primCompose,
	OpQuote:     primQuote,
	OpRelevant:  primMarkRelevant,
	OpAffine:    primMarkAffine,
	OpIntro0:    primIntroInt0,
	OpDigit0:    primDigit(0),
	OpDigit1:    primDigit(1),
	OpDigit2:    primDigit(2),
	OpDigit3:    primDigit(3),
	OpDigit4:    primDigit(4),
	OpDigit5:    primDigit(5),
	OpDigit6:    primDigit(6),
	OpDigit7:    primDigit(7),
	OpDigit8:    primDigit(8),
	OpDigit9:    primDigit(9),
	OpAdd:       primAdd,
	OpMul:       primMul,
	OpNeg:       primNeg,
	OpDivMod:    primDivMod,
	OpGreater:   primGreater,
	OpDistrib:   primDistrib,
	OpFactor:    primFactor,
	OpMerge:     primMerge,
	OpAssert:    primAssert,
	OpNewline:   primNoop,
	OpSpace:     primNoop,
	// OpApply and OpCondApply are dispatched by eval.go directly: both
	// can push a new frame onto the continuation stack, which is state
	// this file's pure cx.val-only primitives never touch.
}

func primNoop(cx *Context) ErrCode { return 0 }

// primAssocl implements assocl: ((a*b)*c) -> (a*(b*c)).
func primAssocl(cx *Context) ErrCode {
	ab, c, err := cx.splitVal()
	if err != 0 {
		return err
	}
	a, b, err := cx.splitProduct(ab)
	if err != 0 {
		return err
	}
	bc, err := cx.allocProduct(b, c)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(a, bc)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primAssocr implements assocr: (a*(b*c)) -> ((a*b)*c).
func primAssocr(cx *Context) ErrCode {
	a, bc, err := cx.splitVal()
	if err != 0 {
		return err
	}
	b, c, err := cx.splitProduct(bc)
	if err != 0 {
		return err
	}
	ab, err := cx.allocProduct(a, b)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(ab, c)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primSwap implements swap: (a*(b*c)) -> (b*(a*c)).
func primSwap(cx *Context) ErrCode {
	a, bc, err := cx.splitVal()
	if err != 0 {
		return err
	}
	b, c, err := cx.splitProduct(bc)
	if err != 0 {
		return err
	}
	ac, err := cx.allocProduct(a, c)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(b, ac)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primZSwap implements zswap: (a*(b*(c*d))) -> (a*(c*(b*d))), i.e.
// swap applied one level deeper.
func primZSwap(cx *Context) ErrCode {
	a, rest, err := cx.splitVal()
	if err != 0 {
		return err
	}
	b, cd, err := cx.splitProduct(rest)
	if err != 0 {
		return err
	}
	c, d, err := cx.splitProduct(cd)
	if err != 0 {
		return err
	}
	bd, err := cx.allocProduct(b, d)
	if err != 0 {
		return err
	}
	cbd, err := cx.allocProduct(c, bd)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(a, cbd)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primIntro1 implements intro1: a -> (a*1).
func primIntro1(cx *Context) ErrCode {
	cell, err := cx.allocProduct(cx.val, value.Unit)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primElim1 implements elim1: (a*1) -> a.
func primElim1(cx *Context) ErrCode {
	a, u, err := cx.splitVal()
	if err != 0 {
		return err
	}
	if u != value.Unit {
		return ErrTypeError
	}
	cx.val = a
	return 0
}

// primSumAssocl implements sum-assocl: ((a+(b+c))*e) -> (((a+b)+c)*e).
func primSumAssocl(cx *Context) ErrCode {
	head, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	r1, v1, err := cx.unwrapSumValue(head)
	if err != 0 {
		return err
	}
	var newHead value.Word
	if !r1 {
		inner, e3 := cx.wrapSumValue(v1, false)
		if e3 != 0 {
			return e3
		}
		newHead, err = cx.wrapSumValue(inner, false)
	} else {
		r2, v2, e2 := cx.unwrapSumValue(v1)
		if e2 != 0 {
			return e2
		}
		if !r2 {
			inner, e3 := cx.wrapSumValue(v2, true)
			if e3 != 0 {
				return e3
			}
			newHead, err = cx.wrapSumValue(inner, false)
		} else {
			newHead, err = cx.wrapSumValue(v2, true)
		}
	}
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(newHead, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primSumAssocr implements sum-assocr: (((a+b)+c)*e) -> ((a+(b+c))*e),
// the inverse regrouping of primSumAssocl.
func primSumAssocr(cx *Context) ErrCode {
	head, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	r1, v1, err := cx.unwrapSumValue(head)
	if err != 0 {
		return err
	}
	var newHead value.Word
	if r1 {
		inner, e3 := cx.wrapSumValue(v1, true)
		if e3 != 0 {
			return e3
		}
		newHead, err = cx.wrapSumValue(inner, true)
	} else {
		r2, v2, e2 := cx.unwrapSumValue(v1)
		if e2 != 0 {
			return e2
		}
		if r2 {
			inner, e3 := cx.wrapSumValue(v2, false)
			if e3 != 0 {
				return e3
			}
			newHead, err = cx.wrapSumValue(inner, true)
		} else {
			newHead, err = cx.wrapSumValue(v2, false)
		}
	}
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(newHead, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primSumSwap implements sum-swap: ((a+(b+c))*e) -> ((b+(a+c))*e).
func primSumSwap(cx *Context) ErrCode {
	head, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	newHead, err := cx.sumSwap(head)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(newHead, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

func (cx *Context) sumSwap(head value.Word) (value.Word, ErrCode) {
	r1, v1, err := cx.unwrapSumValue(head)
	if err != 0 {
		return 0, err
	}
	if !r1 {
		inner, err := cx.wrapSumValue(v1, false)
		if err != 0 {
			return 0, err
		}
		return cx.wrapSumValue(inner, true)
	}
	r2, v2, err := cx.unwrapSumValue(v1)
	if err != 0 {
		return 0, err
	}
	if !r2 {
		return cx.wrapSumValue(v2, false)
	}
	return head, 0
}

// primSumZSwap implements sum-zswap: swap applied to the second level
// of a three-deep sum, mirroring primZSwap's product-side analogue.
func primSumZSwap(cx *Context) ErrCode {
	head, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	r1, v1, err := cx.unwrapSumValue(head)
	if err != 0 {
		return err
	}
	var newHead value.Word
	if !r1 {
		newHead, err = cx.wrapSumValue(v1, false)
	} else {
		swapped, e := cx.sumSwap(v1)
		if e != 0 {
			return e
		}
		newHead, err = cx.wrapSumValue(swapped, true)
	}
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(newHead, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primSumIntro0 implements sum-intro0: (a*e) -> ((a+0)*e).
func primSumIntro0(cx *Context) ErrCode {
	return cx.WrapSum(false)
}

// primSumElim0 implements sum-elim0: ((a+0)*e) -> (a*e), failing if
// the value is actually in the right (uninhabited-by-convention)
// branch.
func primSumElim0(cx *Context) ErrCode {
	head, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	right, inner, err := cx.unwrapSumValue(head)
	if err != 0 {
		return err
	}
	if right {
		return ErrTypeError
	}
	cell, err := cx.allocProduct(inner, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primDrop implements drop: (a*e) -> e.
func primDrop(cx *Context) ErrCode {
	head, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	if err := cx.Drop(head); err != 0 {
		return err
	}
	cx.val = tail
	return 0
}

// primCopy implements copy: (a*e) -> (a*(a*e)).
func primCopy(cx *Context) ErrCode {
	head, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	attrs, err := cx.Attributes(head)
	if err != 0 {
		return err
	}
	if attrs.Affine() {
		return ErrTypeError
	}
	dup, err := cx.Copy(head)
	if err != 0 {
		return err
	}
	rest, err := cx.allocProduct(head, tail)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(dup, rest)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primCompose implements compose: ((block a)*((block b)*e)) ->
// ((block a;b)*e), building one block whose operation list runs a
// then b.
func primCompose(cx *Context) ErrCode {
	wa, rest, err := cx.splitVal()
	if err != 0 {
		return err
	}
	wb, tail, err := cx.splitProduct(rest)
	if err != 0 {
		return err
	}
	ba, _, err := cx.blockInfo(wa)
	if err != 0 {
		return err
	}
	bb, _, err := cx.blockInfo(wb)
	if err != 0 {
		return err
	}
	ops := make(OpList, 0, len(ba.ops)+len(bb.ops))
	ops = append(ops, ba.ops...)
	ops = append(ops, bb.ops...)
	composed, err := cx.makeBlock(ops, ba.affine || bb.affine, ba.relevant || bb.relevant)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(composed, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primQuote implements quote: (a*e) -> (block*e), where the block,
// applied to any input s, produces (a*s). Quote's block is "push the
// constant a", represented here as a single operandValue Op that
// eval.go's stepper (pushQuoted) pairs with the applied-to argument.
func primQuote(cx *Context) ErrCode {
	head, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	attrs, err := cx.Attributes(head)
	if err != 0 {
		return err
	}
	ops := OpList{{Kind: operandValue, Value: head}}
	b, err := cx.makeBlock(ops, attrs.Affine(), attrs.Relevant())
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(b, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primMarkRelevant implements the 'k' annotation-like primitive:
// marks the head block as relevant (undroppable).
func primMarkRelevant(cx *Context) ErrCode {
	return cx.markBlock(false, true)
}

// primMarkAffine implements the 'f' annotation-like primitive: marks
// the head block as affine (uncopyable).
func primMarkAffine(cx *Context) ErrCode {
	return cx.markBlock(true, false)
}

func (cx *Context) markBlock(affine, relevant bool) ErrCode {
	head, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	b, idx, err := cx.blockInfo(head)
	if err != 0 {
		return err
	}
	b.affine = b.affine || affine
	b.relevant = b.relevant || relevant
	cx.blocks.set(idx, b)
	cell, err := cx.allocProduct(head, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primIntroInt0 implements intro-int0: e -> (0*e).
func primIntroInt0(cx *Context) ErrCode {
	cell, err := cx.allocProduct(value.MakeSmallInt(0), cx.val)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primDigit returns the primitive for appending decimal digit d to
// the head integer: (N*e) -> (N*10+d * e).
func primDigit(d int64) primFunc {
	return func(cx *Context) ErrCode {
		head, tail, err := cx.splitVal()
		if err != 0 {
			return err
		}
		n, err := cx.intValue(head)
		if err != 0 {
			return err
		}
		v, err := cx.makeSmallOrBignum(n*10 + d)
		if err != 0 {
			return err
		}
		cell, err := cx.allocProduct(v, tail)
		if err != 0 {
			return err
		}
		cx.val = cell
		return 0
	}
}

func (cx *Context) popTwoInts() (a, b int64, tail value.Word, err ErrCode) {
	h1, rest, err := cx.splitVal()
	if err != 0 {
		return 0, 0, 0, err
	}
	h2, tail, err := cx.splitProduct(rest)
	if err != 0 {
		return 0, 0, 0, err
	}
	a, err = cx.intValue(h1)
	if err != 0 {
		return 0, 0, 0, err
	}
	b, err = cx.intValue(h2)
	if err != 0 {
		return 0, 0, 0, err
	}
	return a, b, tail, 0
}

// primAdd implements add: (N1*(N2*e)) -> ((N1+N2)*e).
func primAdd(cx *Context) ErrCode {
	a, b, tail, err := cx.popTwoInts()
	if err != 0 {
		return err
	}
	v, err := cx.makeSmallOrBignum(a + b)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(v, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primMul implements mul: (N1*(N2*e)) -> ((N1*N2)*e).
func primMul(cx *Context) ErrCode {
	a, b, tail, err := cx.popTwoInts()
	if err != 0 {
		return err
	}
	v, err := cx.makeSmallOrBignum(a * b)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(v, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primNeg implements neg: (N*e) -> (-N*e).
func primNeg(cx *Context) ErrCode {
	head, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	n, err := cx.intValue(head)
	if err != 0 {
		return err
	}
	v, err := cx.makeSmallOrBignum(-n)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(v, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primDivMod implements divmod: (divisor*(dividend*e)) ->
// (remainder*(quotient*e)), failing with ErrTypeError on division by
// zero.
func primDivMod(cx *Context) ErrCode {
	divisor, dividend, tail, err := cx.popTwoInts()
	if err != 0 {
		return err
	}
	if divisor == 0 {
		return ErrTypeError
	}
	q := dividend / divisor
	r := dividend % divisor
	if (r < 0 && divisor > 0) || (r > 0 && divisor < 0) {
		q--
		r += divisor
	}
	qv, err := cx.makeSmallOrBignum(q)
	if err != 0 {
		return err
	}
	rv, err := cx.makeSmallOrBignum(r)
	if err != 0 {
		return err
	}
	qr, err := cx.allocProduct(qv, tail)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(rv, qr)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primGreater implements compare-greater: (N1*(N2*e)) ->
// (((N2*N1)+(N1*N2))*e), a sum choosing the left branch when N1 > N2.
func primGreater(cx *Context) ErrCode {
	h1, rest, err := cx.splitVal()
	if err != 0 {
		return err
	}
	h2, tail, err := cx.splitProduct(rest)
	if err != 0 {
		return err
	}
	n1, err := cx.intValue(h1)
	if err != 0 {
		return err
	}
	n2, err := cx.intValue(h2)
	if err != 0 {
		return err
	}
	n2n1, err := cx.allocProduct(h2, h1)
	if err != 0 {
		return err
	}
	n1n2, err := cx.allocProduct(h1, h2)
	if err != 0 {
		return err
	}
	var sum value.Word
	if n1 > n2 {
		sum, err = cx.wrapSumValue(n2n1, false)
	} else {
		sum, err = cx.wrapSumValue(n1n2, true)
	}
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(sum, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primDistrib implements sum-distrib: (a*((b+c)*e)) ->
// (((a*b)+(a*c))*e).
func primDistrib(cx *Context) ErrCode {
	a, rest, err := cx.splitVal()
	if err != 0 {
		return err
	}
	bc, tail, err := cx.splitProduct(rest)
	if err != 0 {
		return err
	}
	right, v, err := cx.unwrapSumValue(bc)
	if err != 0 {
		return err
	}
	prod, err := cx.allocProduct(a, v)
	if err != 0 {
		return err
	}
	sum, err := cx.wrapSumValue(prod, right)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(sum, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primFactor implements sum-factor: (((a*b)+(c*d))*e) ->
// ((a+c)*((b+d)*e)), the inverse of sum-distrib.
func primFactor(cx *Context) ErrCode {
	head, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	right, inner, err := cx.unwrapSumValue(head)
	if err != 0 {
		return err
	}
	a, b, err := cx.splitProduct(inner)
	if err != 0 {
		return err
	}
	sa, err := cx.wrapSumValue(a, right)
	if err != 0 {
		return err
	}
	sb, err := cx.wrapSumValue(b, right)
	if err != 0 {
		return err
	}
	rest, err := cx.allocProduct(sb, tail)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(sa, rest)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primMerge implements sum-merge: ((a+a')*e) -> (a|a' * e): the
// untyped runtime has no way to unify a and a', so it simply keeps
// whichever branch is actually present.
func primMerge(cx *Context) ErrCode {
	head, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	_, inner, err := cx.unwrapSumValue(head)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(inner, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// primAssert implements assert: ((a+b)*e) -> (b*e), failing the
// computation (ErrTypeError) if the value is actually in the left
// (asserted-impossible) branch.
func primAssert(cx *Context) ErrCode {
	head, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	right, inner, err := cx.unwrapSumValue(head)
	if err != 0 {
		return err
	}
	if !right {
		return ErrTypeError
	}
	cell, err := cx.allocProduct(inner, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}
