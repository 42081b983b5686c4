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

// frame is one entry of the continuation stack (§4.7): the remaining
// ops of a block whose evaluation was suspended by an Apply, together
// with the hidden environment (tail) that was set aside at the call
// site and must be re-paired with the callee's result once its own op
// list runs dry.
type frame struct {
	ops  OpList
	pc   int
	tail value.Word
}

// resumeState is the residual state of a Run call interrupted by an
// exhausted quota: the in-flight op list and pc, the continuation
// stack of still-suspended callers, and the register value at the
// instant of interruption. It lives in the context's pending table
// (see pendingTable in context.go) and is referenced from an
// ObjPending value by table index, the same way a boxed ObjBlock value
// refers back to the block table instead of encoding its op list into
// arena bytes.
type resumeState struct {
	ops   OpList
	pc    int
	stack []frame
	val   value.Word
}

// pendingFlagSuspended marks an ObjPending header as a quota-suspended
// Run call, as opposed to pendingFlagStowed (stow.go) marking one
// wanting migration to the external store. The payload word is an
// index into the context's pending table rather than a value.
const pendingFlagSuspended = 1 << 1

// Quota bounds a single Run call in units of compaction cycles: the
// evaluator checks the context's arena compaction counter whenever
// its own continuation stack would otherwise go idle-empty, matching
// §4.7's "quota measured in compaction cycles, checked whenever the
// call stack is consulted" rather than a per-opcode counter.
type Quota struct {
	MaxCompactions uint64
}

// runState resolves b into the op list, pc and continuation stack a
// Run call should start executing from. An ordinary block starts
// fresh at pc 0 with an empty stack; a quota-suspended ObjPending
// value produced by a prior suspend (see below) resumes exactly where
// it left off, including restoring the register it was interrupted
// with.
func (cx *Context) runState(b value.Word) (ops OpList, pc int, stack []frame, err ErrCode) {
	if h, e := cx.boxedHeader(b); e == 0 && h.Type() == value.ObjPending && h.Data() == pendingFlagSuspended {
		half := cx.region.ActiveHalf()
		idx := readWord(half, uint32(b.Addr())+headerSize).SmallInt()
		rs := cx.pending.get(uint32(idx))
		cx.val = rs.val
		return rs.ops, rs.pc, rs.stack, 0
	}
	bi, _, e := cx.blockInfo(b)
	if e != 0 {
		return nil, 0, nil, e
	}
	return bi.ops, 0, nil, 0
}

// Run evaluates block against the current primary value register
// until the block's op list (and every frame pushed by an Apply
// inside it) is exhausted, the quota is exhausted (in which case the
// unfinished computation is suspended into an ObjPending value), or a
// primitive fails. block may also be a value previously returned by a
// quota-exhausted Run call, in which case evaluation resumes exactly
// where it was interrupted rather than starting over.
//
// On ErrQuotaExhausted, cx.val becomes a pending value the caller may
// later pass back into Run (with a fresh Quota) to resume it, matching
// the resumable-computation model of §4.7. The pending value is only
// resumable within the context's own fork family: it indexes a
// Go-level side table, not arena bytes, so Move-ing it to an unrelated
// context carries the handle across without the state it names.
func (cx *Context) Run(b value.Word, q Quota) ErrCode {
	ops, pc, stack, err := cx.runState(b)
	if err != 0 {
		return cx.fail(err)
	}
	startCompactions, _ := cx.region.Stats()

	for {
		if pc >= len(ops) {
			if len(stack) == 0 {
				return 0
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cell, err := cx.allocProduct(cx.val, top.tail)
			if err != 0 {
				return cx.fail(err)
			}
			cx.val = cell
			ops, pc = top.ops, top.pc

			compactions, _ := cx.region.Stats()
			if q.MaxCompactions != 0 && compactions-startCompactions >= q.MaxCompactions {
				return cx.suspend(ops, pc, stack)
			}
			continue
		}

		op := ops[pc]
		pc++

		switch op.Kind {
		case operandValue:
			if err := cx.pushQuoted(op.Value); err != 0 {
				return cx.fail(err)
			}
			continue
		case operandSealer, operandToken:
			// Annotations and bare sealer tokens that survive into an
			// already-compiled op list are handled by the annotation
			// dispatcher; a seal/unseal pair always compiles down to
			// WrapSeal/UnwrapSeal calls made directly against the
			// context rather than appearing in a Run'd op list.
			if err := cx.annotate(op.Token); err != 0 {
				return cx.fail(err)
			}
			continue
		}

		switch op.Code {
		case OpApply:
			next, a, tail, err := cx.apply()
			if err != 0 {
				return cx.fail(err)
			}
			cx.val = a
			stack = append(stack, frame{ops, pc, tail})
			ops, pc = next, 0
		case OpCondApply:
			if _, err := cx.condApply(); err != 0 {
				return cx.fail(err)
			}
		case OpAccelTailcall:
			next, a, tail, err := cx.apply()
			if err != 0 {
				return cx.fail(err)
			}
			// $c is "apply, then eliminate a trailing unit": the
			// hidden environment at a tailcall site is required to be
			// Unit, so there is nothing to hold aside and reattach —
			// the current frame is simply replaced rather than grown,
			// which is exactly what keeps a tail-recursive loop's
			// continuation stack from growing without bound.
			if tail != value.Unit {
				return cx.fail(ErrTypeError)
			}
			cx.val = a
			ops, pc = next, 0
		case OpAccelSwap:
			if err := cx.accelSwap(); err != 0 {
				return cx.fail(err)
			}
		case OpAccelInline:
			if err := cx.accelInline(); err != 0 {
				return cx.fail(err)
			}
		case OpAccelSumSwap:
			head, tail, err := cx.splitVal()
			right, inner := false, value.Word(0)
			if err == 0 {
				right, inner, err = cx.unwrapSumValue(head)
			}
			if err == 0 {
				head, err = cx.wrapSumValue(inner, !right)
			}
			if err == 0 {
				head, err = cx.allocProduct(head, tail)
			}
			if err != 0 {
				return cx.fail(err)
			}
			cx.val = head
		default:
			fn, ok := primTable[op.Code]
			if !ok {
				return cx.fail(ErrUnimplemented)
			}
			if err := fn(cx); err != 0 {
				return cx.fail(err)
			}
		}
	}
}

// pushQuoted implements a quoted-value Op: (e) -> (v*e), the
// expansion of a block built by primQuote.
func (cx *Context) pushQuoted(v value.Word) ErrCode {
	cell, err := cx.allocProduct(v, cx.val)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// apply implements the shared first half of $ and the $c tailcall
// accelerator: (block * (a * e)) -> the block's op list to start
// executing at pc 0, a to become the caller's new register, and the
// held-aside e so the caller can re-pair it with the block's eventual
// result. It leaves cx.val untouched rather than committing a itself,
// so a caller that still needs to validate e (as $c does) can fail
// without having already mutated the register. Whether the reattach
// happens via a grown continuation-stack frame ($) or immediately in
// place ($c) is the caller's decision, not this helper's — that is
// exactly the distinction between the two opcodes.
func (cx *Context) apply() (next OpList, a, tail value.Word, err ErrCode) {
	wb, rest, e := cx.splitVal()
	if e != 0 {
		return nil, 0, 0, e
	}
	bi, _, e := cx.blockInfo(wb)
	if e != 0 {
		return nil, 0, 0, e
	}
	a, tail, e = cx.splitProduct(rest)
	if e != 0 {
		return nil, 0, 0, e
	}
	return bi.ops, a, tail, 0
}

// condApply implements ? : ((block a)*((b+c)*e)) -> if in the left
// (b) branch, apply block to b and rewrap left; if in the right (c)
// branch, leave c untouched. In the right branch the unused block is
// discarded through Drop, exactly as primDrop does, so a relevant
// block fails there with ErrTypeError.
func (cx *Context) condApply() (bool, ErrCode) {
	wb, rest, err := cx.splitVal()
	if err != 0 {
		return false, err
	}
	sum, tail, err := cx.splitProduct(rest)
	if err != 0 {
		return false, err
	}
	right, inner, err := cx.unwrapSumValue(sum)
	if err != 0 {
		return false, err
	}
	if right {
		if err := cx.Drop(wb); err != 0 {
			return false, err
		}
		newSum, err := cx.wrapSumValue(inner, true)
		if err != 0 {
			return false, err
		}
		cell, err := cx.allocProduct(newSum, tail)
		if err != 0 {
			return false, err
		}
		cx.val = cell
		return true, 0
	}

	cx.val = inner
	if err := cx.Run(wb, Quota{}); err != 0 {
		return false, err
	}
	newSum, err := cx.wrapSumValue(cx.val, false)
	if err != 0 {
		return false, err
	}
	cell, err := cx.allocProduct(newSum, tail)
	if err != 0 {
		return false, err
	}
	cx.val = cell
	return true, 0
}

// accelSwap implements the vrwlc accelerator: equivalent to intro1;
// assocr; swap; assocl; elim1, but recognized and executed as one
// step rather than five allocating ones. Its net effect on a pair
// (a*b) is (b*a), without any of the intermediate unit-wrapping
// allocations the literal expansion would perform.
func (cx *Context) accelSwap() ErrCode {
	a, b, err := cx.splitVal()
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(b, a)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// accelInline implements the vr$c accelerator: equivalent to intro1;
// assocr; apply; elim1, i.e. "apply the head block to a alone, running
// it to completion here rather than pushing a continuation frame for
// the caller's own remaining ops, then re-pair the result with the
// held-aside e." A direct recursive Run call captures the inlining:
// the block's evaluation happens inside this Go call, and control
// returns to the caller's loop only once it has fully finished, at
// which point e is reattached exactly as apply's caller would do.
func (cx *Context) accelInline() ErrCode {
	wb, rest, err := cx.splitVal()
	if err != 0 {
		return err
	}
	a, env, err := cx.splitProduct(rest)
	if err != 0 {
		return err
	}
	cx.val = a
	if err := cx.Run(wb, Quota{}); err != 0 {
		return err
	}
	cell, err := cx.allocProduct(cx.val, env)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// annotate implements the {&name} annotation family (§4.7): trash and
// stow are handled here; trace reports the context id and the raw
// register word through errorf; parallel/lazy/asynch/join and the
// text/binary hints have no required observable effect on a
// single-threaded interpreter and are accepted as no-ops.
func (cx *Context) annotate(name string) ErrCode {
	switch name {
	case "trash":
		return cx.trashHead()
	case "stow":
		return cx.stowHead()
	case "trace":
		errorf("vm: {&trace} context %s register %#x", cx.id, uint64(cx.val))
		return 0
	case "parallel", "lazy", "asynch", "join", "text", "binary":
		return 0
	default:
		return ErrUnimplemented
	}
}

// trashHead implements {&trash}: replaces the head value with an
// opaque ObjTrash marker, dropping its contents without requiring it
// to be droppable (trash is a deliberate escape hatch from the
// relevant/affine discipline for values the program asserts it will
// never need again).
func (cx *Context) trashHead() ErrCode {
	_, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	h := value.MakeHeader(value.ObjTrash, 0)
	trash, err := cx.allocBoxedFixed(h, headerSize)
	if err != 0 {
		return err
	}
	cell, err := cx.allocProduct(trash, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}

// suspend is reached when a quota expires mid-evaluation. It captures
// the in-flight op list/pc, the still-pending continuation stack and
// the register at the moment of interruption into the context's
// pending table, then rewrites cx.val to a freshly boxed ObjPending
// value referencing that entry by index — the same "Go-level side
// table plus small integer handle" trick makeBlock already uses for
// ObjBlock, since neither an op list nor a continuation stack is
// representable as arena bytes without a bytecode-level encoding that
// belongs to the external parser/compiler, not this package. A caller
// resumes the computation by passing this value back into Run with a
// fresh quota; runState unwraps it instead of treating it as a block
// to apply.
func (cx *Context) suspend(ops OpList, pc int, stack []frame) ErrCode {
	idx := cx.pending.add(resumeState{ops: ops, pc: pc, stack: stack, val: cx.val})
	h := value.MakeHeader(value.ObjPending, pendingFlagSuspended)
	addr, err := cx.reserveAlloc(headerSize + wordSize)
	if err != 0 {
		return cx.fail(err)
	}
	half := cx.region.ActiveHalf()
	writeHeader(half, addr, h)
	writeWord(half, addr+headerSize, value.MakeSmallInt(int64(idx)))
	cx.val = value.Ptr(value.TagBoxed, uint64(addr))
	return cx.fail(ErrQuotaExhausted)
}
