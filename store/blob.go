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

package store

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/kodeflow/abcvm/compr"
)

// BlobKey is a content-address: the blake2b-256 hash of a blob's
// uncompressed bytes. It doubles as the key of the content-addressed
// blob table and as the key of the pending refcount-delta table.
type BlobKey [blake2b.Size256]byte

func (k BlobKey) String() string { return hex.EncodeToString(k[:]) }

// ErrBlobNotFound is returned by Get when no blob with that key exists.
var ErrBlobNotFound = errors.New("store: blob not found")

// compressThreshold is the minimum payload size, in bytes, for Put to
// bother zstd-compressing a blob rather than storing it raw; small
// stows rarely compress well enough to be worth the CPU.
const compressThreshold = 256

// blob file layout: a one-byte format tag, an 8-byte little-endian
// uncompressed length, then the (possibly compressed) payload.
const (
	formatRaw  byte = 0
	formatZstd byte = 1
)

// HashBlob computes the content address of data without storing it,
// so callers can check whether a value is
// already present before paying the write cost.
func HashBlob(data []byte) BlobKey {
	return blake2b.Sum256(data)
}

func (s *Store) blobPath(key BlobKey) string {
	hexKey := key.String()
	// two-level fan-out so a single directory never holds more than a
	// few thousand entries on stores with many distinct blobs
	return filepath.Join(s.dir, blobsDir, hexKey[:2], hexKey[2:])
}

// Put stores data under its content address and returns the key. If a
// blob with that key already exists, Put is a no-op (content-addressed
// writes are idempotent) beyond recording the new reference.
func (s *Store) Put(data []byte) (BlobKey, error) {
	key := HashBlob(data)
	path := s.blobPath(key)
	if _, cached := s.cache.get(key); cached {
		s.addDelta(key, 1)
		return key, nil
	}
	if _, err := os.Stat(path); err == nil {
		s.addDelta(key, 1)
		s.cache.put(key, data)
		return key, nil
	}

	payload := data
	format := formatRaw
	if len(data) >= compressThreshold {
		if c := compr.Compression("zstd"); c != nil {
			compressed := c.Compress(data, nil)
			if len(compressed) < len(data) {
				payload = compressed
				format = formatZstd
			}
		}
	}

	if s.maxSize > 0 {
		used, err := s.du()
		if err == nil && used+int64(len(payload)) > s.maxSize {
			return BlobKey{}, fmt.Errorf("store: blob table full (%d + %d > %d bytes)", used, len(payload), s.maxSize)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return BlobKey{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return BlobKey{}, err
	}
	defer os.Remove(tmp.Name())

	var header [9]byte
	header[0] = format
	binary.LittleEndian.PutUint64(header[1:], uint64(len(data)))
	if _, err := tmp.Write(header[:]); err != nil {
		tmp.Close()
		return BlobKey{}, err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return BlobKey{}, err
	}
	if err := tmp.Close(); err != nil {
		return BlobKey{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return BlobKey{}, err
	}
	s.addDelta(key, 1)
	s.cache.put(key, data)
	return key, nil
}

// Get retrieves and, if necessary, decompresses the blob stored under
// key.
func (s *Store) Get(key BlobKey) ([]byte, error) {
	if v, ok := s.cache.get(key); ok {
		return v, nil
	}
	raw, err := os.ReadFile(s.blobPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	if len(raw) < 9 {
		return nil, fmt.Errorf("store: corrupt blob %s: truncated header", key)
	}
	format := raw[0]
	origLen := binary.LittleEndian.Uint64(raw[1:9])
	payload := raw[9:]
	switch format {
	case formatRaw:
		s.cache.put(key, payload)
		return payload, nil
	case formatZstd:
		d := compr.Decompression("zstd")
		out := make([]byte, origLen)
		if err := d.Decompress(payload, out); err != nil {
			return nil, fmt.Errorf("store: decompressing blob %s: %w", key, err)
		}
		s.cache.put(key, out)
		return out, nil
	default:
		return nil, fmt.Errorf("store: corrupt blob %s: unknown format %d", key, format)
	}
}

// Delete physically removes a blob. Called only by GC once a pending
// refcount delta has driven a blob's reference count to zero.
func (s *Store) Delete(key BlobKey) error {
	s.cache.remove(key)
	err := os.Remove(s.blobPath(key))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
