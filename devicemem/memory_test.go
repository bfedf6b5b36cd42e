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

package devicemem

import (
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("device memory", func() {

	ginkgo.It("tracks usage per device and pool", func() {
		m := NewManager(Config{NumDevices: 2, DeviceCapacity: 1024, BulkCapacity: 256})

		p0, err := m.Allocate(512, 0)
		Ω(err).Should(BeNil())
		Ω(p0.IsNull()).Should(BeFalse())
		Ω(m.AllocatedBytes(0)).Should(Equal(int64(512)))
		Ω(m.AllocatedBytes(1)).Should(Equal(int64(0)))

		b0, err := m.AllocateBulk(128, 0)
		Ω(err).Should(BeNil())
		Ω(m.AllocatedBulkBytes(0)).Should(Equal(int64(128)))
		// Bulk does not charge the regular pool.
		Ω(m.AllocatedBytes(0)).Should(Equal(int64(512)))

		m.Free(p0)
		m.Free(b0)
		Ω(m.AllocatedBytes(0)).Should(Equal(int64(0)))
		Ω(m.AllocatedBulkBytes(0)).Should(Equal(int64(0)))
	})

	ginkgo.It("exhausts the pools independently", func() {
		m := NewManager(Config{NumDevices: 1, DeviceCapacity: 1024, BulkCapacity: 256})

		_, err := m.Allocate(2048, 0)
		Ω(err).Should(Equal(ErrOutOfDeviceMemory))

		_, err = m.AllocateBulk(512, 0)
		Ω(err).Should(Equal(ErrOutOfDeviceMemory))

		// The regular pool still has room after bulk is exhausted.
		p, err := m.Allocate(1024, 0)
		Ω(err).Should(BeNil())
		Ω(p.IsNull()).Should(BeFalse())
	})

	ginkgo.It("rejects bad devices and sizes", func() {
		m := NewManager(Config{NumDevices: 1, DeviceCapacity: 1024})
		_, err := m.Allocate(16, 3)
		Ω(err).ShouldNot(BeNil())
		_, err = m.Allocate(0, 0)
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("bounds checks buffer access", func() {
		m := NewManager(Config{NumDevices: 1, DeviceCapacity: 1024})
		p, err := m.Allocate(64, 0)
		Ω(err).Should(BeNil())

		buf, err := m.Bytes(p, 64)
		Ω(err).Should(BeNil())
		Ω(len(buf)).Should(Equal(64))

		_, err = m.Bytes(p.WithOffset(32), 64)
		Ω(err).ShouldNot(BeNil())
		_, err = m.Bytes(DevicePointer{Handle: 999}, 1)
		Ω(err).ShouldNot(BeNil())

		size, err := m.AllocationSize(p)
		Ω(err).Should(BeNil())
		Ω(size).Should(Equal(64))
	})

	ginkgo.It("frees through FreeAndSetNil exactly once", func() {
		m := NewManager(Config{NumDevices: 1, DeviceCapacity: 1024})
		p, err := m.Allocate(100, 0)
		Ω(err).Should(BeNil())

		m.FreeAndSetNil(&p)
		Ω(p.IsNull()).Should(BeTrue())
		Ω(m.AllocatedBytes(0)).Should(Equal(int64(0)))

		// Double free of the nulled pointer is harmless.
		m.FreeAndSetNil(&p)
		Ω(m.AllocatedBytes(0)).Should(Equal(int64(0)))
	})
})
