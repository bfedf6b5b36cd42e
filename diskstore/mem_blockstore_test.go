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
	"encoding/binary"
	"errors"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/devicemem"
)

// testPages builds n pages each holding a single tuple carrying the
// block number, so round trips are verifiable.
func testPages(n int) []*chunk.Page {
	pages := make([]*chunk.Page, n)
	for i := range pages {
		p := chunk.NewPage()
		tuple := make([]byte, 4)
		binary.LittleEndian.PutUint32(tuple, uint32(i))
		if !p.AddTuple(tuple) {
			panic("page full")
		}
		pages[i] = p
	}
	return pages
}

var _ = ginkgo.Describe("MemBlockStore", func() {
	ginkgo.It("serves batched reads and counts requests", func() {
		store := NewMemBlockStore(testPages(10), 4, false)
		Ω(store.NumBlocks()).Should(Equal(uint32(10)))
		Ω(store.SegmentSize()).Should(Equal(uint32(4)))
		Ω(store.BulkTransferCapable()).Should(BeFalse())

		pages, err := store.ReadBlocks(2, 3)
		Ω(err).Should(BeNil())
		Ω(pages).Should(HaveLen(3))
		for i, p := range pages {
			got := binary.LittleEndian.Uint32(p.Tuple(0))
			Ω(got).Should(Equal(uint32(2 + i)))
		}
		Ω(store.Reads()).Should(Equal(1))
	})

	ginkgo.It("rejects ranges past the end and empty ranges", func() {
		store := NewMemBlockStore(testPages(4), 4, false)
		_, err := store.ReadBlocks(3, 2)
		Ω(err).ShouldNot(BeNil())
		_, err = store.ReadBlocks(0, 0)
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("surfaces injected faults with the block number", func() {
		store := NewMemBlockStore(testPages(6), 4, false)
		cause := errors.New("checksum mismatch")
		store.FailBlock(4, cause)

		_, err := store.ReadBlocks(0, 3)
		Ω(err).Should(BeNil())
		_, err = store.ReadBlocks(3, 3)
		Ω(err).ShouldNot(BeNil())
		Ω(err.Error()).Should(ContainSubstring("block 4"))
	})

	ginkgo.It("transfers pages directly into device memory when bulk capable", func() {
		store := NewMemBlockStore(testPages(3), 4, true)
		m := devicemem.NewManager(devicemem.Config{
			NumDevices:     1,
			DeviceCapacity: 16 << 20,
			BulkCapacity:   16 << 20,
		})
		s := m.CreateStream(0)
		defer m.DestroyStream(s)

		dst, err := m.AllocateBulk(3*chunk.PageSize, 0)
		Ω(err).Should(BeNil())
		defer m.Free(dst)

		Ω(store.ReadBlocksDevice(0, 3, m, dst, s)).Should(BeNil())
		Ω(m.WaitForStream(s)).Should(BeNil())

		for i := 0; i < 3; i++ {
			buf, err := m.Bytes(dst.WithOffset(i*chunk.PageSize), chunk.PageSize)
			Ω(err).Should(BeNil())
			page, err := chunk.PageFromBytes(buf)
			Ω(err).Should(BeNil())
			Ω(binary.LittleEndian.Uint32(page.Tuple(0))).Should(Equal(uint32(i)))
		}
	})

	ginkgo.It("refuses device transfers when not bulk capable", func() {
		store := NewMemBlockStore(testPages(1), 4, false)
		err := store.ReadBlocksDevice(0, 1, nil, devicemem.NullDevicePointer, nil)
		Ω(err).ShouldNot(BeNil())
	})
})
