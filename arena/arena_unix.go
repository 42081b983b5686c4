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

//go:build linux || darwin

package arena

import (
	"golang.org/x/sys/unix"
)

// newRegion maps a fresh anonymous, private region of the requested
// size for a context's arena. This mirrors the teacher's own
// vm.Malloc: a single mmap call sized for the whole region up front,
// so the two semispaces are contiguous and offsets into either half
// are stable for the Region's lifetime.
func newRegion(size int) (*Region, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return newFromBuf(buf, func() error {
		return unix.Munmap(buf)
	}), nil
}

// madviseFree hints that mem is no longer needed and its physical
// pages may be reclaimed by the OS without the virtual mapping being
// torn down; used after a compaction frees an entire semispace.
func madviseFree(mem []byte) {
	if len(mem) == 0 {
		return
	}
	_ = unix.Madvise(mem, unix.MADV_FREE)
}
