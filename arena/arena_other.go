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

//go:build !linux && !darwin

package arena

// newRegion falls back to a plain heap allocation on platforms
// without a dedicated mmap path. The semantics (two fixed-size
// semispaces, downward bump allocation) are identical; only the
// source of the backing memory differs.
func newRegion(size int) (*Region, error) {
	return newFromBuf(make([]byte, size), nil), nil
}

func madviseFree(mem []byte) {}
