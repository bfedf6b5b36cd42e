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

// Package colcache holds column format chunk images keyed by block
// ranges, so readers can substitute a decoded columnar chunk for the
// block pages a range would otherwise load from storage. Images are
// lz4 compressed at rest.
package colcache

import (
	"bytes"
	"io/ioutil"
	"sync"

	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
	"github.com/uber/gpuscan/chunk"
)

type rangeKey struct {
	start uint32
	count uint32
}

// entry holds either a compressed column chunk image, or nothing at
// all for ranges known to contain no live rows.
type entry struct {
	empty      bool
	compressed []byte
	rawSize    int
}

// ChunkCache is the lookup surface readers consult before touching
// storage for a block range.
type ChunkCache interface {
	// TryGetChunk looks up a block range. ok reports whether the
	// range is cached at all. When ok is true and empty is true the
	// range holds no rows and can be skipped outright; otherwise c
	// is the decoded column chunk covering the range.
	TryGetChunk(startBlock, numBlocks uint32) (c *chunk.Chunk, empty bool, ok bool)
}

// ColumnCache is an in memory ChunkCache. Entries are only accepted
// on ranges aligned to the cache granularity, which matches the
// alignment readers use when reserving ranges.
type ColumnCache struct {
	schema      *chunk.Schema
	granularity uint32

	mu      sync.RWMutex
	entries map[rangeKey]*entry
}

// NewColumnCache creates a cache for chunks of the given schema.
// Ranges must start on a multiple of granularity.
func NewColumnCache(schema *chunk.Schema, granularity uint32) *ColumnCache {
	if granularity == 0 {
		granularity = 1
	}
	return &ColumnCache{
		schema:      schema,
		granularity: granularity,
		entries:     make(map[rangeKey]*entry),
	}
}

// Granularity returns the range alignment entries are keyed on.
func (cc *ColumnCache) Granularity() uint32 {
	return cc.granularity
}

func (cc *ColumnCache) checkAligned(start, count uint32) error {
	if start%cc.granularity != 0 {
		return errors.Errorf("range start %d not aligned to granularity %d", start, cc.granularity)
	}
	if count == 0 || count > cc.granularity {
		return errors.Errorf("range length %d outside (0,%d]", count, cc.granularity)
	}
	return nil
}

// Put stores a column chunk image for the range. The chunk must be in
// column format and belong to the cache's table.
func (cc *ColumnCache) Put(start, count uint32, c *chunk.Chunk) error {
	if err := cc.checkAligned(start, count); err != nil {
		return err
	}
	if c.Format() != chunk.FormatColumn {
		return errors.Errorf("cannot cache %s format chunk", c.Format())
	}
	if c.Schema().TableID != cc.schema.TableID {
		return errors.Errorf("chunk belongs to table %d, cache to table %d",
			c.Schema().TableID, cc.schema.TableID)
	}
	raw := c.Marshal()
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return errors.Wrap(err, "compressing chunk image")
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "compressing chunk image")
	}
	cc.mu.Lock()
	cc.entries[rangeKey{start, count}] = &entry{compressed: buf.Bytes(), rawSize: len(raw)}
	cc.mu.Unlock()
	return nil
}

// PutEmpty records that the range contains no live rows.
func (cc *ColumnCache) PutEmpty(start, count uint32) error {
	if err := cc.checkAligned(start, count); err != nil {
		return err
	}
	cc.mu.Lock()
	cc.entries[rangeKey{start, count}] = &entry{empty: true}
	cc.mu.Unlock()
	return nil
}

// Invalidate drops the entry for the range if present.
func (cc *ColumnCache) Invalidate(start, count uint32) {
	cc.mu.Lock()
	delete(cc.entries, rangeKey{start, count})
	cc.mu.Unlock()
}

// TryGetChunk implements ChunkCache. A decode failure is treated as a
// miss so readers fall through to storage.
func (cc *ColumnCache) TryGetChunk(start, count uint32) (*chunk.Chunk, bool, bool) {
	cc.mu.RLock()
	e := cc.entries[rangeKey{start, count}]
	cc.mu.RUnlock()
	if e == nil {
		return nil, false, false
	}
	if e.empty {
		return nil, true, true
	}
	zr := lz4.NewReader(bytes.NewReader(e.compressed))
	raw, err := ioutil.ReadAll(zr)
	if err != nil {
		return nil, false, false
	}
	c, err := chunk.UnmarshalChunk(cc.schema, raw)
	if err != nil {
		return nil, false, false
	}
	return c, false, true
}

// CompressedBytes returns the total compressed payload held, for
// stats reporting.
func (cc *ColumnCache) CompressedBytes() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	total := 0
	for _, e := range cc.entries {
		total += len(e.compressed)
	}
	return total
}

// Len returns the number of cached ranges, empty markers included.
func (cc *ColumnCache) Len() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.entries)
}
