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
	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/devicemem"
)

// BlockStore defines the interface for reading a table's storage blocks.
// The chunk reader batches multiple blocks per call to keep I/O requests
// from fragmenting.
type BlockStore interface {
	// NumBlocks returns the total number of storage blocks of the table.
	NumBlocks() uint32

	// SegmentSize returns the number of consecutive blocks per storage
	// segment. Batched reads never span a segment boundary.
	SegmentSize() uint32

	// ReadBlocks reads count consecutive blocks starting at start in one
	// batched request.
	ReadBlocks(start, count uint32) ([]*chunk.Page, error)

	// BulkTransferCapable reports whether the store can move blocks
	// directly into device memory without staging them in host memory.
	BulkTransferCapable() bool

	// ReadBlocksDevice transfers count consecutive blocks starting at
	// start directly into the device buffer at dst, queued on the
	// stream. Only valid when BulkTransferCapable returns true.
	ReadBlocksDevice(start, count uint32, m *devicemem.Manager, dst devicemem.DevicePointer, s *devicemem.Stream) error
}
