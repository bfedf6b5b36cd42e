//  Copyright (c) 2017-2018 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scan

import (
	"sync"

	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/colcache"
	"github.com/uber/gpuscan/diskstore"
	"github.com/uber/gpuscan/utils"
)

// PagePool is the set of storage pages currently host resident. Block
// chunks built over bulk capable storage only reference pages found
// here; everything else stays on storage until the executor transfers
// it device side, or until a fallback forces it into the pool.
type PagePool struct {
	mu    sync.RWMutex
	pages map[uint32]*chunk.Page
}

// NewPagePool creates an empty pool.
func NewPagePool() *PagePool {
	return &PagePool{pages: make(map[uint32]*chunk.Page)}
}

// Get returns the host resident page for a block, if any.
func (p *PagePool) Get(block uint32) (*chunk.Page, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	page, ok := p.pages[block]
	return page, ok
}

// Put makes a page host resident.
func (p *PagePool) Put(block uint32, page *chunk.Page) {
	p.mu.Lock()
	p.pages[block] = page
	p.mu.Unlock()
}

// Len returns the number of host resident pages.
func (p *PagePool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pages)
}

// ChunkReader produces successive chunks of source tuples, reserving
// disjoint block ranges from the shared cursor and substituting cached
// columnar chunks for ranges the cache covers.
type ChunkReader struct {
	schema *chunk.Schema
	store  diskstore.BlockStore
	cache  colcache.ChunkCache
	pool   *PagePool
	state  *SharedScanState

	// blocks reserved per cursor grab; halved when the storage cannot
	// feed the device directly, since wide ranges only pay off there
	blocksPerChunk uint32
	rowFormat      bool
}

// NewChunkReader creates a reader over one table. cache and pool may be
// nil; rowFormat selects row chunks decoded host side over raw block
// chunks.
func NewChunkReader(schema *chunk.Schema, store diskstore.BlockStore, cache colcache.ChunkCache,
	pool *PagePool, state *SharedScanState, blocksPerChunk int, rowFormat bool) *ChunkReader {
	if blocksPerChunk <= 0 {
		blocksPerChunk = 8
	}
	if pool == nil {
		pool = NewPagePool()
	}
	return &ChunkReader{
		schema:         schema,
		store:          store,
		cache:          cache,
		pool:           pool,
		state:          state,
		blocksPerChunk: uint32(blocksPerChunk),
		rowFormat:      rowFormat,
	}
}

// Pool returns the host resident page pool.
func (r *ChunkReader) Pool() *PagePool {
	return r.pool
}

func (r *ChunkReader) maxBlocks() uint32 {
	if r.store.BulkTransferCapable() {
		return r.blocksPerChunk
	}
	if r.blocksPerChunk > 1 {
		return r.blocksPerChunk / 2
	}
	return 1
}

// NextChunk returns the next chunk of this scan, or nil once the cursor
// has wrapped around to the start position. Ranges covered by an empty
// cache entry are skipped without touching storage.
func (r *ChunkReader) NextChunk() (*chunk.Chunk, error) {
	for {
		start, count, ok := r.state.ReserveRange(r.maxBlocks(), r.store.SegmentSize())
		if !ok {
			return nil, nil
		}
		if r.cache != nil {
			if c, empty, hit := r.cache.TryGetChunk(start, count); hit {
				if empty {
					continue
				}
				r.state.AddCacheHit()
				return c, nil
			}
		}
		if r.rowFormat {
			return r.readRowChunk(start, count)
		}
		return r.readBlockChunk(start, count)
	}
}

func (r *ChunkReader) readRowChunk(start, count uint32) (*chunk.Chunk, error) {
	pages, err := r.store.ReadBlocks(start, count)
	if err != nil {
		return nil, utils.StackError(err, "reading blocks [%d,%d)", start, start+count)
	}
	total := 0
	for _, p := range pages {
		total += p.NumTuples()
	}
	c := chunk.NewRowChunk(r.schema, total)
	for _, p := range pages {
		for i := 0; i < p.NumTuples(); i++ {
			if err := c.AppendRawTuple(p.Tuple(i)); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// readBlockChunk builds a raw page chunk. Over bulk capable storage
// only pages already host resident are attached; the rest stay pending
// for a storage direct transfer. The block index is compacted so the
// resident entries form one contiguous prefix.
func (r *ChunkReader) readBlockChunk(start, count uint32) (*chunk.Chunk, error) {
	c := chunk.NewBlockChunk(r.schema, int(count))
	if r.store.BulkTransferCapable() {
		for b := start; b < start+count; b++ {
			if page, ok := r.pool.Get(b); ok {
				if err := c.AddPage(b, page); err != nil {
					return nil, err
				}
			} else if err := c.AddPendingBlock(b); err != nil {
				return nil, err
			}
		}
		c.CompactBlockIndex()
		return c, nil
	}

	pages, err := r.store.ReadBlocks(start, count)
	if err != nil {
		return nil, utils.StackError(err, "reading blocks [%d,%d)", start, start+count)
	}
	for i, page := range pages {
		if err := c.AddPage(start+uint32(i), page); err != nil {
			return nil, err
		}
	}
	return c, nil
}
