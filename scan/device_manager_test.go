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
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/uber/gpuscan/common"
	"github.com/uber/gpuscan/devicemem"
)

var _ = ginkgo.Describe("DeviceManager", func() {
	newManager := func() *DeviceManager {
		mem := devicemem.NewManager(devicemem.Config{NumDevices: 2, DeviceCapacity: 1 << 20})
		return NewDeviceManager(mem, common.DeviceConfig{
			DeviceMemoryUtilization: 0.5,
			DeviceChoosingTimeout:   1,
		})
	}

	ginkgo.It("applies the memory utilization cap", func() {
		d := newManager()
		Ω(d.MaxAvailableMemory).Should(Equal(1 << 19))
		Ω(d.DeviceInfos[0].FreeMemory).Should(Equal(1 << 19))
	})

	ginkgo.It("spreads scans across devices by scan count", func() {
		d := newManager()
		first := d.FindDevice("scan-a", 100, -1, 1)
		second := d.FindDevice("scan-b", 100, -1, 1)
		Ω(first).Should(BeNumerically(">=", 0))
		Ω(second).Should(BeNumerically(">=", 0))
		Ω(first).ShouldNot(Equal(second))
	})

	ginkgo.It("honors the preferred device when it has room", func() {
		d := newManager()
		Ω(d.FindDevice("scan-a", 100, 1, 1)).Should(Equal(1))
		Ω(d.DeviceInfos[1].ScanCount).Should(Equal(1))
	})

	ginkgo.It("falls back off a full preferred device", func() {
		d := newManager()
		Ω(d.FindDevice("scan-a", d.MaxAvailableMemory, 1, 1)).Should(Equal(1))
		Ω(d.FindDevice("scan-b", 100, 1, 1)).Should(Equal(0))
	})

	ginkgo.It("rejects scans no device could ever hold", func() {
		d := newManager()
		Ω(d.FindDevice("scan-a", d.MaxAvailableMemory+1, -1, 1)).Should(Equal(-1))
	})

	ginkgo.It("returns reservations on release", func() {
		d := newManager()
		device := d.FindDevice("scan-a", 1000, -1, 1)
		before := d.DeviceInfos[device].FreeMemory
		d.ReleaseReservedMemory(device, "scan-a")
		Ω(d.DeviceInfos[device].FreeMemory).Should(Equal(before + 1000))
		Ω(d.DeviceInfos[device].ScanCount).Should(Equal(0))
	})

	ginkgo.It("ignores a release for an unknown scan", func() {
		d := newManager()
		device := d.FindDevice("scan-a", 1000, -1, 1)
		before := d.DeviceInfos[device].FreeMemory
		d.ReleaseReservedMemory(device, "scan-zzz")
		d.ReleaseReservedMemory(-1, "scan-a")
		Ω(d.DeviceInfos[device].FreeMemory).Should(Equal(before))
	})

	ginkgo.It("unblocks a waiting scan when memory frees up", func() {
		d := newManager()
		Ω(d.FindDevice("scan-a", d.MaxAvailableMemory, 0, 1)).Should(Equal(0))
		Ω(d.FindDevice("scan-b", d.MaxAvailableMemory, 1, 1)).Should(Equal(1))

		got := make(chan int)
		go func() {
			got <- d.FindDevice("scan-c", 1000, -1, 30)
		}()
		d.ReleaseReservedMemory(0, "scan-a")
		Ω(<-got).Should(Equal(0))
	})
})
