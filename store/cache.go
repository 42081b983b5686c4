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
	"sync"

	"github.com/dchest/siphash"
)

// cacheShards is the number of independent locked buckets in the
// write-behind blob cache; spreading blobs across several mutexes
// keeps concurrent stow-heavy workloads from serializing on one lock.
const cacheShards = 16

// cacheShardCap bounds the number of blobs held per shard before the
// oldest entry (by insertion, not access) is evicted; this is a
// write-behind cache for avoiding a redundant disk read immediately
// after a Put; it is not a durability mechanism.
const cacheShardCap = 256

var cacheKey0, cacheKey1 = uint64(0x9e3779b97f4a7c15), uint64(0xc2b2ae3d27d4eb4f)

// blobCache is a small in-process read cache in front of the blob
// table's disk files, sharded by a keyed siphash of the content
// address so lookups never need a secure hash (blake2b is already the
// content address; siphash here only picks a shard, it is not used
// for content-addressing itself).
type blobCache struct {
	shards [cacheShards]cacheShard
}

type cacheShard struct {
	mu      sync.Mutex
	entries map[BlobKey][]byte
	order   []BlobKey
}

func newBlobCache() *blobCache {
	c := &blobCache{}
	for i := range c.shards {
		c.shards[i].entries = make(map[BlobKey][]byte)
	}
	return c
}

func shardFor(key BlobKey) int {
	h := siphash.Hash(cacheKey0, cacheKey1, key[:])
	return int(h % cacheShards)
}

func (c *blobCache) get(key BlobKey) ([]byte, bool) {
	sh := &c.shards[shardFor(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.entries[key]
	return v, ok
}

func (c *blobCache) put(key BlobKey, value []byte) {
	sh := &c.shards[shardFor(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.entries[key]; !exists {
		if len(sh.order) >= cacheShardCap {
			oldest := sh.order[0]
			sh.order = sh.order[1:]
			delete(sh.entries, oldest)
		}
		sh.order = append(sh.order, key)
	}
	sh.entries[key] = value
}

func (c *blobCache) remove(key BlobKey) {
	sh := &c.shards[shardFor(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, key)
}
