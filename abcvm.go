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

// Package abcvm is the glue above the evaluation engine (package vm)
// and its optional store: Config/LoadConfig plus thin constructors so
// a caller need only import this one package for the common path.
package abcvm

import "github.com/kodeflow/abcvm/vm"

// ErrCode re-exports vm.ErrCode so callers never need to import vm
// directly just to test a returned error's bits.
type ErrCode = vm.ErrCode

const (
	ErrInvalidArg     = vm.ErrInvalidArg
	ErrUnimplemented  = vm.ErrUnimplemented
	ErrDBError        = vm.ErrDBError
	ErrOutOfMemory    = vm.ErrOutOfMemory
	ErrContextFull    = vm.ErrContextFull
	ErrBufferTooSmall = vm.ErrBufferTooSmall
	ErrTxnConflict    = vm.ErrTxnConflict
	ErrQuotaExhausted = vm.ErrQuotaExhausted
	ErrTypeError      = vm.ErrTypeError
)

// Environment and Context re-export the vm package's evaluation types,
// so a caller that only needs Create/LoadConfig never has to import vm
// for the types those return.
type (
	Environment = vm.Environment
	Context     = vm.Context
	Quota       = vm.Quota
)

// Create opens an Environment from cfg, wiring store.Open when
// cfg.Dir is non-empty and leaving the environment store-less
// otherwise (stow/txn_* then fail with ErrUnimplemented at that seam).
func Create(cfg Config) (*Environment, ErrCode) {
	return vm.CreateEnvironment(vm.EnvConfig{
		Dir:              cfg.StoreDir,
		MaxStoreMB:       cfg.MaxStoreMB,
		DefaultContextMB: cfg.DefaultContextMB,
	})
}
