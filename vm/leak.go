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

import "runtime"

// LeakCheckHook is a hook test code can set to detect Contexts that
// were never destroyed before being garbage collected. It should not
// be set in production code.
var LeakCheckHook func(stack []byte, obj any)

// leakCheck arms a finalizer on cx that reports through LeakCheckHook
// if cx is collected while still holding its arena region open. It is
// a no-op unless a test has set LeakCheckHook.
func leakCheck(cx *Context) {
	if LeakCheckHook == nil {
		return
	}
	hook := LeakCheckHook
	stk := make([]byte, 1024)
	n := runtime.Stack(stk, false)
	stk = stk[:n]
	runtime.SetFinalizer(cx, func(cx *Context) {
		hook(stk, cx)
	})
}

// noLeakCheck disarms the finalizer armed by leakCheck, called once cx
// has been destroyed cleanly.
func noLeakCheck(cx *Context) {
	if LeakCheckHook == nil {
		return
	}
	runtime.SetFinalizer(cx, nil)
}
