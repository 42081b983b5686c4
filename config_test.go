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

package abcvm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abcvm.yaml")
	contents := "storeDir: " + dir + "\nmaxStoreMB: 64\ndefaultContextMB: 8\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StoreDir != dir {
		t.Fatalf("got StoreDir %q, want %q", cfg.StoreDir, dir)
	}
	if cfg.MaxStoreMB != 64 {
		t.Fatalf("got MaxStoreMB %d, want 64", cfg.MaxStoreMB)
	}
	if cfg.DefaultContextMB != 8 {
		t.Fatalf("got DefaultContextMB %d, want 8", cfg.DefaultContextMB)
	}
}

func TestCreateStoreLessEnvironment(t *testing.T) {
	env, err := Create(DefaultConfig())
	if err != 0 {
		t.Fatalf("Create: %v", err)
	}
	defer env.Destroy()
	if env.Store() != nil {
		t.Fatalf("expected a store-less environment")
	}
	cx, err := env.CreateContext(0)
	if err != 0 {
		t.Fatalf("CreateContext: %v", err)
	}
	if err := cx.Stow(); err != ErrUnimplemented {
		t.Fatalf("got %v, want ErrUnimplemented stowing without a store", err)
	}
}
