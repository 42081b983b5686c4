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

// pendingFlagStowed marks an ObjPending header as "wants migration to
// the external store", as opposed to "pending on an unresolved quota
// interruption" (eval.go sets the latter kind when a step runs out of
// gas mid-computation).
const pendingFlagStowed = 1 << 0

// stowHead wraps the head value in an ObjPending box flagged for
// stowage. Serializing the wrapped value graph to the external store's
// wire format is the stowage collaborator's job (§3 Non-goals: the
// on-disk KV/blob format is specified only as an interface boundary
// here); eval.go's {&stow} annotation handler is where a real
// deployment would hand the marked subgraph to Environment.Store()
// ahead of a transaction commit. Marking pending here is enough to
// make the value's substructure observably Pending (§4.4) and to let
// Move (§4.8) and compaction treat it like any other boxed object in
// the meantime.
func (cx *Context) stowHead() ErrCode {
	if cx.env.Store() == nil {
		return ErrUnimplemented
	}
	head, tail, err := cx.splitVal()
	if err != 0 {
		return err
	}
	h := value.MakeHeader(value.ObjPending, pendingFlagStowed)
	addr, err := cx.reserveAlloc(headerSize + wordSize)
	if err != 0 {
		return err
	}
	half := cx.region.ActiveHalf()
	writeHeader(half, addr, h)
	writeWord(half, addr+headerSize, head)
	boxed := value.Ptr(value.TagBoxed, uint64(addr))
	cell, err := cx.allocProduct(boxed, tail)
	if err != 0 {
		return err
	}
	cx.val = cell
	return 0
}
