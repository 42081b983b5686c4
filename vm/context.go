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
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kodeflow/abcvm/arena"
	"github.com/kodeflow/abcvm/store"
	"github.com/kodeflow/abcvm/value"
)

// MinContextMB and MaxContextMB bound cx_create's size_MB parameter
// (programmatic surface, §6: "3 ≤ size ≤ 4092").
const (
	MinContextMB = 3
	MaxContextMB = 4092
)

// Environment owns zero or more sibling Contexts and the optional
// external store (§3, §6). It is the env_create/env_destroy/env_sync
// trio's receiver.
type Environment struct {
	mu    sync.Mutex
	store *store.Store
	id    uuid.UUID

	defaultContextMB int
	contexts         map[uuid.UUID]*Context
}

// EnvConfig collects env_create's parameters along with the ambient
// defaults abcvm.Config threads through (see abcvm/config.go).
type EnvConfig struct {
	Dir              string // store directory; "" disables the external store
	MaxStoreMB       int
	DefaultContextMB int
}

// CreateEnvironment implements env_create(dir, max_store_MB). An empty
// Dir creates a store-less environment (stow/txn_* then fail with
// ErrUnimplemented at the seam, matching stowage being an optional
// collaborator).
func CreateEnvironment(cfg EnvConfig) (*Environment, ErrCode) {
	e := &Environment{
		id:               uuid.New(),
		defaultContextMB: cfg.DefaultContextMB,
		contexts:         make(map[uuid.UUID]*Context),
	}
	if cfg.Dir != "" {
		s, err := store.Open(cfg.Dir, cfg.MaxStoreMB)
		if err != nil {
			return nil, wrapStoreError(err)
		}
		e.store = s
	}
	return e, 0
}

// ID identifies this Environment for diagnostics.
func (e *Environment) ID() uuid.UUID { return e.id }

// Store exposes the environment's external collaborator, or nil if
// none was configured.
func (e *Environment) Store() *store.Store { return e.store }

// Destroy implements env_destroy: it destroys every context still
// open under this environment and closes the store.
func (e *Environment) Destroy() ErrCode {
	e.mu.Lock()
	cxs := make([]*Context, 0, len(e.contexts))
	for _, cx := range e.contexts {
		cxs = append(cxs, cx)
	}
	e.mu.Unlock()
	for _, cx := range cxs {
		cx.Destroy()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			return wrapStoreError(err)
		}
	}
	return 0
}

// Sync implements env_sync: flushes the external store's durable
// state. It is a no-op on a store-less environment.
func (e *Environment) Sync() ErrCode {
	if e.store == nil {
		return 0
	}
	if err := e.store.Sync(); err != nil {
		return wrapStoreError(err)
	}
	return 0
}

func (e *Environment) register(cx *Context) {
	e.mu.Lock()
	e.contexts[cx.id] = cx
	e.mu.Unlock()
}

func (e *Environment) unregister(cx *Context) {
	e.mu.Lock()
	delete(e.contexts, cx.id)
	e.mu.Unlock()
}

// blockTable is the Go-level side table a Context's boxed ObjBlock
// values index into (see op.go): the arena stores only a small
// integer handle, not a serialized operation list. Forked sibling
// contexts share one blockTable (see Fork), matching their sharing of
// one arena region; root contexts each own theirs outright.
type blockTable struct {
	mu      sync.Mutex
	entries []block
}

func newBlockTable() *blockTable { return &blockTable{} }

func (t *blockTable) add(b block) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, b)
	return uint32(len(t.entries) - 1)
}

func (t *blockTable) get(idx uint32) block {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[idx]
}

func (t *blockTable) set(idx uint32, b block) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[idx] = b
}

// pendingTable is the Go-level side table a Context's boxed
// quota-suspended ObjPending values index into, exactly mirroring
// blockTable: the arena stores only a small integer handle, and the
// residual (ops, pc, continuation stack, register) state a suspended
// Run call needs to resume lives here instead, since it isn't
// representable as arena bytes without a bytecode-level continuation
// encoding. Shared across a fork family the same way blockTable is.
type pendingTable struct {
	mu      sync.Mutex
	entries []resumeState
}

func newPendingTable() *pendingTable { return &pendingTable{} }

func (t *pendingTable) add(rs resumeState) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, rs)
	return uint32(len(t.entries) - 1)
}

func (t *pendingTable) get(idx uint32) resumeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[idx]
}

// Context is one evaluation context (§3): one arena, the primary
// value register, an optional open transaction, and a latched error
// field. Its zero value is not usable; construct one via
// Environment.CreateContext or (*Context).Fork.
type Context struct {
	env    *Environment
	id     uuid.UUID
	region *arena.Region

	// arenaLock serializes every allocating/compacting operation
	// across a fork family: forked siblings share one *arena.Region
	// and therefore must coordinate compaction; a sibling simply
	// blocks on this mutex while another allocates or compacts.
	arenaLock *sync.Mutex

	blocks  *blockTable
	pending *pendingTable

	val value.Word
	err ErrCode
	txn *store.Txn

	destroyed bool
}

// CreateContext implements cx_create(env, size_MB).
func (e *Environment) CreateContext(sizeMB int) (*Context, ErrCode) {
	if sizeMB == 0 {
		sizeMB = e.defaultContextMB
	}
	if sizeMB < MinContextMB || sizeMB > MaxContextMB {
		return nil, ErrInvalidArg
	}
	region, err := arena.New(sizeMB << 20)
	if err != nil {
		return nil, ErrOutOfMemory
	}
	cx := &Context{
		env:       e,
		id:        uuid.New(),
		region:    region,
		arenaLock: &sync.Mutex{},
		blocks:    newBlockTable(),
		pending:   newPendingTable(),
		val:       value.Unit,
	}
	e.register(cx)
	leakCheck(cx)
	return cx, 0
}

// ID identifies this context for diagnostics and lock-conflict
// reporting.
func (cx *Context) ID() uuid.UUID { return cx.id }

// Env implements cx_env: the owning Environment.
func (cx *Context) Env() *Environment { return cx.env }

// Fork implements cx_fork: creates a sibling context sharing this
// context's arena region, block table and compaction lock. The
// sibling starts with the unit value; the two contexts are
// conceptually independent evaluators that happen to share one
// backing allocation, matching §4.8's "sibling contexts sharing one
// parent arena".
func (cx *Context) Fork() (*Context, ErrCode) {
	if cx.destroyed {
		return nil, ErrInvalidArg
	}
	sib := &Context{
		env:       cx.env,
		id:        uuid.New(),
		region:    cx.region,
		arenaLock: cx.arenaLock,
		blocks:    cx.blocks,
		pending:   cx.pending,
		val:       value.Unit,
	}
	cx.env.register(sib)
	leakCheck(sib)
	return sib, 0
}

// sharesArena reports whether cx and other are part of the same fork
// family, the condition under which Move (§4.8) may take its O(1)
// path.
func (cx *Context) sharesArena(other *Context) bool {
	return cx.region == other.region
}

// Reset implements cx_reset: drops the primary value, rewinds the
// arena to empty and clears the latched error, without destroying the
// context. Idempotent (§8 property 6).
func (cx *Context) Reset() ErrCode {
	if cx.destroyed {
		return ErrInvalidArg
	}
	cx.arenaLock.Lock()
	defer cx.arenaLock.Unlock()
	cx.region.Reset()
	cx.val = value.Unit
	cx.err = 0
	return 0
}

// Destroy implements cx_destroy. Destroying the last context sharing
// an arena unmaps it; destroying one of several forked siblings only
// removes it from the environment's bookkeeping; the region itself is
// released once every sibling referencing it has been destroyed, so
// Destroy tracks that via the environment's registry rather than a
// naive refcount, since forked siblings are not otherwise linked to
// each other.
func (cx *Context) Destroy() ErrCode {
	if cx.destroyed {
		return 0
	}
	cx.destroyed = true
	cx.env.unregister(cx)
	noLeakCheck(cx)

	cx.env.mu.Lock()
	stillShared := false
	for _, other := range cx.env.contexts {
		if other.region == cx.region {
			stillShared = true
			break
		}
	}
	cx.env.mu.Unlock()

	if !stillShared {
		if err := cx.region.Close(); err != nil {
			return wrapStoreError(err)
		}
	}
	return 0
}

// Err returns the context's latched error field, set by a failing
// step and cleared only by Reset.
func (cx *Context) Err() ErrCode { return cx.err }

func (cx *Context) fail(e ErrCode) ErrCode {
	cx.err = e
	return e
}

func (cx *Context) checkDestroyed() ErrCode {
	if cx.destroyed {
		return cx.fail(ErrInvalidArg)
	}
	return 0
}

func (cx *Context) String() string {
	return fmt.Sprintf("Context{%s}", cx.id)
}
