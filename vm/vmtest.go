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

import "testing"

// newTestContext returns a fresh Context backed by a minimum-sized
// environment, torn down via t.Cleanup once the test completes.
func newTestContext(t *testing.T) *Context {
	t.Helper()
	env, err := CreateEnvironment(EnvConfig{DefaultContextMB: MinContextMB})
	if err != 0 {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	t.Cleanup(func() { env.Destroy() })
	cx, err := env.CreateContext(0)
	if err != 0 {
		t.Fatalf("CreateContext: %v", err)
	}
	return cx
}

// requireI32 asserts that cx's primary value register currently holds
// the given integer, failing the test with PeekI32's error otherwise.
func requireI32(t *testing.T, cx *Context, want int32) {
	t.Helper()
	got, err := cx.PeekI32()
	if err != 0 {
		t.Fatalf("PeekI32: %v", err)
	}
	if got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}
