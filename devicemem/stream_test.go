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

var _ = ginkgo.Describe("stream", func() {

	ginkgo.It("round trips host to device to host", func() {
		m := NewManager(Config{NumDevices: 1, DeviceCapacity: 4096})
		s := m.CreateStream(0)
		defer m.DestroyStream(s)

		p, err := m.Allocate(16, 0)
		Ω(err).Should(BeNil())

		src := []byte("hello, device!!!")
		dst := make([]byte, 16)
		m.AsyncCopyHostToDevice(p, src, s)
		m.AsyncCopyDeviceToHost(dst, p, s)
		Ω(m.WaitForStream(s)).Should(BeNil())
		Ω(dst).Should(Equal(src))
	})

	ginkgo.It("runs ops in FIFO order with one sync point", func() {
		m := NewManager(Config{NumDevices: 1, DeviceCapacity: 4096})
		s := m.CreateStream(0)
		defer m.DestroyStream(s)

		p, err := m.Allocate(4, 0)
		Ω(err).Should(BeNil())

		// Each copy overwrites the previous one; only the last survives.
		m.AsyncCopyHostToDevice(p, []byte("aaaa"), s)
		m.AsyncCopyHostToDevice(p, []byte("bbbb"), s)
		m.AsyncCopyHostToDevice(p, []byte("cccc"), s)
		dst := make([]byte, 4)
		m.AsyncCopyDeviceToHost(dst, p, s)
		Ω(m.WaitForStream(s)).Should(BeNil())
		Ω(string(dst)).Should(Equal("cccc"))
	})

	ginkgo.It("reports a failed op at the sync point and skips the rest", func() {
		m := NewManager(Config{NumDevices: 1, DeviceCapacity: 4096})
		s := m.CreateStream(0)
		defer m.DestroyStream(s)

		p, err := m.Allocate(4, 0)
		Ω(err).Should(BeNil())

		dst := []byte("keep")
		m.AsyncCopyHostToDevice(p.WithOffset(100), []byte("oops"), s)
		m.AsyncCopyDeviceToHost(dst, p, s)
		Ω(m.WaitForStream(s)).ShouldNot(BeNil())
		// The copy after the failure never ran.
		Ω(string(dst)).Should(Equal("keep"))

		// The error was consumed by the sync; the stream is usable again.
		m.Prefetch(p, 4, s)
		Ω(m.WaitForStream(s)).Should(BeNil())
	})

	ginkgo.It("delivers kernel status after the sync", func() {
		m := NewManager(Config{NumDevices: 1, DeviceCapacity: 4096})
		s := m.CreateStream(0)
		defer m.DestroyStream(s)

		var status Status
		kernel := func(g Grid) Status {
			if g.Blocks*g.ThreadsPerBlock < 1000 {
				return StatusInvalidAccess
			}
			return StatusNoSpace
		}
		m.LaunchKernel(kernel, ComputeGrid(1000, 256), &status, s)
		Ω(m.WaitForStream(s)).Should(BeNil())
		Ω(status).Should(Equal(StatusNoSpace))
		Ω(status.Recoverable()).Should(BeTrue())
		Ω(StatusInvalidAccess.Recoverable()).Should(BeFalse())
	})

	ginkgo.It("computes grids that cover the item count", func() {
		Ω(ComputeGrid(1000, 256)).Should(Equal(Grid{Blocks: 4, ThreadsPerBlock: 256}))
		Ω(ComputeGrid(0, 256)).Should(Equal(Grid{Blocks: 1, ThreadsPerBlock: 256}))
		Ω(ComputeGrid(10, 0)).Should(Equal(Grid{Blocks: 1, ThreadsPerBlock: defaultThreadsPerBlock}))
	})
})
