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
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/kodeflow/abcvm/vm"
)

// Config describes how to construct an Environment: store location
// and size, default per-context arena size, and GC tuning. It is the
// YAML-decodable counterpart of vm.EnvConfig plus the knobs that only
// matter once a store is attached.
type Config struct {
	// StoreDir is the directory backing the external KV/blob store.
	// Empty disables the store: stow and every txn_* operation then
	// fail with ErrUnimplemented at that seam.
	StoreDir string `json:"storeDir,omitempty"`

	// MaxStoreMB caps the store's total on-disk size.
	MaxStoreMB int `json:"maxStoreMB,omitempty"`

	// DefaultContextMB is the arena size CreateContext(0) picks when
	// the caller doesn't request a specific size.
	DefaultContextMB int `json:"defaultContextMB,omitempty"`

	// StowMinAgeSeconds names a minimum age for stowed blobs before
	// the store's lazy GC may reclaim them. It is decoded from YAML
	// only: Create does not pass it to the environment or the store.
	StowMinAgeSeconds int `json:"stowMinAgeSeconds,omitempty"`

	// MaxGCPauseMillis names a soft time bound for a single store GC
	// sweep or vm compaction. It is decoded from YAML only: Create
	// does not pass it to the environment or the store.
	MaxGCPauseMillis int `json:"maxGCPauseMillis,omitempty"`
}

// DefaultConfig returns a store-less Config sized for interactive use.
func DefaultConfig() Config {
	return Config{
		DefaultContextMB: vm.MinContextMB,
	}
}

// LoadConfig reads a YAML file at path into a Config, applying
// DefaultConfig's zero values first so a partial file only overrides
// what it mentions.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("abcvm: reading config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("abcvm: parsing config %s: %w", path, err)
	}
	return &cfg, nil
}
