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

// operandKind distinguishes the non-primitive entries that can appear
// in an operation list: a boxed extended op is either a quoted value,
// a sealer token to re-apply, or an annotation/sealed-value-check
// token (§4.7 step 1).
type operandKind uint8

const (
	operandNone operandKind = iota
	operandValue
	operandSealer
	operandToken
)

// Op is one entry of an operation list (pc). A primitive opcode has
// Kind == operandNone and Code set; anything else is a boxed extended
// op carrying an operand.
type Op struct {
	Code    Opcode
	Kind    operandKind
	Value   value.Word // operandValue: the quoted value
	Token   string      // operandSealer / operandToken: the token text
}

func opPrim(c Opcode) Op { return Op{Code: c} }

// OpList is an operation list: the external parser's output, and the
// unit of value the block constructors/deconstructors work with. It
// is owned at the Go level (not encoded into arena bytes) — see
// block.go for why, and blockTable for how a boxed ObjBlock value
// refers back to one.
type OpList []Op

// block is one entry of a Context's block table: the operation list a
// boxed ObjBlock value's header.Data indexes into, plus the
// substructural flags recorded on intro_block/block_aff/block_rel.
type block struct {
	ops     OpList
	affine  bool
	relevant bool
}
