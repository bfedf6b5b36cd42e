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

package diskstore

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/devicemem"
)

// MemBlockStore is an in memory BlockStore. Bulk transfer capability
// and read faults are injectable so callers' downgrade paths can be
// exercised.
type MemBlockStore struct {
	pages       []*chunk.Page
	segmentSize uint32
	bulkCapable bool

	mu     sync.Mutex
	faults map[uint32]error
	reads  int
}

// NewMemBlockStore creates a store over pre built pages.
func NewMemBlockStore(pages []*chunk.Page, segmentSize uint32, bulkCapable bool) *MemBlockStore {
	if segmentSize == 0 {
		segmentSize = 1
	}
	return &MemBlockStore{
		pages:       pages,
		segmentSize: segmentSize,
		bulkCapable: bulkCapable,
		faults:      make(map[uint32]error),
	}
}

// NumBlocks returns the number of blocks held.
func (m *MemBlockStore) NumBlocks() uint32 {
	return uint32(len(m.pages))
}

// SegmentSize returns the injected segment size.
func (m *MemBlockStore) SegmentSize() uint32 {
	return m.segmentSize
}

// BulkTransferCapable reports the injected capability.
func (m *MemBlockStore) BulkTransferCapable() bool {
	return m.bulkCapable
}

// FailBlock makes every read covering the block return err.
func (m *MemBlockStore) FailBlock(block uint32, err error) {
	m.mu.Lock()
	m.faults[block] = err
	m.mu.Unlock()
}

// Reads returns the number of batched read requests served, for
// asserting on I/O request counts.
func (m *MemBlockStore) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *MemBlockStore) checkRange(start, count uint32) error {
	if count == 0 {
		return errors.Errorf("empty block range at %d", start)
	}
	if start+count > uint32(len(m.pages)) {
		return errors.Errorf("block range [%d,%d) past end of table (%d blocks)",
			start, start+count, len(m.pages))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	for b := start; b < start+count; b++ {
		if err := m.faults[b]; err != nil {
			return errors.Wrapf(err, "reading block %d", b)
		}
	}
	return nil
}

// ReadBlocks returns the requested pages in one batched read.
func (m *MemBlockStore) ReadBlocks(start, count uint32) ([]*chunk.Page, error) {
	if err := m.checkRange(start, count); err != nil {
		return nil, err
	}
	return m.pages[start : start+count], nil
}

// ReadBlocksDevice queues a direct transfer of the requested pages into
// the device buffer at dst, one page slot after another.
func (m *MemBlockStore) ReadBlocksDevice(start, count uint32, mgr *devicemem.Manager, dst devicemem.DevicePointer, s *devicemem.Stream) error {
	if !m.bulkCapable {
		return errors.New("store is not bulk transfer capable")
	}
	if err := m.checkRange(start, count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		mgr.AsyncCopyHostToDevice(dst.WithOffset(int(i)*chunk.PageSize), m.pages[start+i].Bytes(), s)
	}
	return nil
}
