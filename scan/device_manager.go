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
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/uber/gpuscan/common"
	"github.com/uber/gpuscan/devicemem"
	"github.com/uber/gpuscan/utils"
)

const (
	defaultDeviceUtilization = 1
	defaultChoosingTimeout   = 10
)

// DeviceInfo stores scan count and memory information for one device.
type DeviceInfo struct {
	DeviceID             int            `json:"deviceID"`
	ScanCount            int            `json:"scanCount"`
	TotalAvailableMemory int            `json:"totalAvailableMemory"`
	FreeMemory           int            `json:"totalFreeMemory"`
	ScanMemoryUsageMap   map[string]int `json:"-"`
}

// DeviceManager tracks how many scans each device serves and how much
// memory they reserved, and assigns new scans to devices according to
// the configured strategy. Callers that cannot be placed wait until a
// device frees up or the timeout passes.
type DeviceManager struct {
	sync.RWMutex `json:"-"`

	DeviceInfos        []*DeviceInfo `json:"deviceInfos"`
	Timeout            int           `json:"timeout"`
	MaxAvailableMemory int           `json:"maxAvailableMemory"`

	deviceAvailable *sync.Cond
	strategy        deviceChooseStrategy
}

// NewDeviceManager initializes device accounting over the simulated
// devices.
func NewDeviceManager(mem *devicemem.Manager, cfg common.DeviceConfig) *DeviceManager {
	utilization := cfg.DeviceMemoryUtilization
	if utilization <= 0 || utilization > 1 {
		utils.GetLogger().Errorf("invalid device_memory_utilization %v, using default", utilization)
		utilization = defaultDeviceUtilization
	}
	timeout := cfg.DeviceChoosingTimeout
	if timeout <= 0 {
		timeout = defaultChoosingTimeout
	}

	deviceInfos := make([]*DeviceInfo, mem.NumDevices())
	maxAvailableMem := 0
	for device := range deviceInfos {
		available := int(float32(mem.DeviceCapacity()) * utilization)
		deviceInfos[device] = &DeviceInfo{
			DeviceID:             device,
			TotalAvailableMemory: available,
			FreeMemory:           available,
			ScanMemoryUsageMap:   make(map[string]int),
		}
		if available > maxAvailableMem {
			maxAvailableMem = available
		}
	}

	d := &DeviceManager{
		DeviceInfos:        deviceInfos,
		Timeout:            timeout,
		MaxAvailableMemory: maxAvailableMem,
	}
	d.strategy = leastScanCountAndMemoryStrategy{deviceManager: d}
	d.deviceAvailable = sync.NewCond(d)
	utils.GetLogger().Infof("initialized device manager: %d devices, utilization %v, timeout %ds",
		len(deviceInfos), utilization, timeout)
	return d
}

// FindDevice chooses a device for a scan needing requiredMem bytes,
// waiting up to timeout seconds for one to free up. Returns -1 when no
// device can serve the scan.
func (d *DeviceManager) FindDevice(scanID string, requiredMem, preferredDevice, timeout int) int {
	if requiredMem > d.MaxAvailableMemory {
		utils.GetScanLogger().Warnf("scan %s needs %d bytes, above device maximum %d",
			scanID, requiredMem, d.MaxAvailableMemory)
		return -1
	}
	if timeout <= 0 {
		timeout = d.Timeout
	}
	timeoutDuration := time.Duration(timeout) * time.Second

	start := utils.Now()
	d.Lock()
	device := -1
	for {
		if utils.Now().Sub(start) >= timeoutDuration {
			utils.GetScanLogger().Errorf("timed out choosing a device for scan %s after %ds", scanID, timeout)
			break
		}
		if device = d.findDevice(scanID, requiredMem, preferredDevice); device >= 0 {
			break
		}
		d.deviceAvailable.Wait()
	}
	d.Unlock()
	utils.GetRootReporter().GetTimer(utils.ScanWaitForMemoryDuration).Record(utils.Now().Sub(start))
	return device
}

// findDevice picks a device under the write lock, preferring the
// caller's choice when it has room.
func (d *DeviceManager) findDevice(scanID string, requiredMem, preferredDevice int) int {
	candidate := -1
	if preferredDevice >= 0 && preferredDevice < len(d.DeviceInfos) &&
		d.DeviceInfos[preferredDevice].FreeMemory >= requiredMem {
		candidate = preferredDevice
	}
	if candidate < 0 {
		candidate = d.strategy.chooseDevice(requiredMem)
	}
	if candidate < 0 {
		return candidate
	}

	info := d.DeviceInfos[candidate]
	info.ScanCount++
	info.ScanMemoryUsageMap[scanID] = requiredMem
	info.FreeMemory -= requiredMem
	info.reportMemoryUsage()
	utils.GetScanLogger().Debugf("assigned device %d to scan %s (%d bytes reserved)",
		candidate, scanID, requiredMem)
	return candidate
}

// ReleaseReservedMemory returns a scan's reservation to its device.
func (d *DeviceManager) ReleaseReservedMemory(device int, scanID string) {
	if device < 0 || device >= len(d.DeviceInfos) {
		return
	}
	d.Lock()
	defer d.Unlock()
	info := d.DeviceInfos[device]
	if usage, ok := info.ScanMemoryUsageMap[scanID]; ok {
		info.FreeMemory += usage
		info.reportMemoryUsage()
		delete(info.ScanMemoryUsageMap, scanID)
		info.ScanCount--
		d.deviceAvailable.Broadcast()
	}
}

// reportMemoryUsage reports the reserved memory of one device. Caller
// holds the lock.
func (info *DeviceInfo) reportMemoryUsage() {
	utils.GetRootReporter().GetChildGauge(map[string]string{
		"device": strconv.Itoa(info.DeviceID),
	}, utils.EstimatedDeviceMemory).Update(
		float64(info.TotalAvailableMemory - info.FreeMemory))
}

// deviceChooseStrategy picks an available device for a scan.
type deviceChooseStrategy interface {
	chooseDevice(requiredMem int) int
}

// leastScanCountAndMemoryStrategy picks the device with the fewest
// scans, breaking ties toward the tightest fitting free memory.
type leastScanCountAndMemoryStrategy struct {
	deviceManager *DeviceManager
}

func (s leastScanCountAndMemoryStrategy) chooseDevice(requiredMem int) int {
	candidate := -1
	leastMemory := int(math.MaxInt64)
	leastScanCount := int(math.MaxInt32)
	for device, info := range s.deviceManager.DeviceInfos {
		if info.FreeMemory >= requiredMem && (info.ScanCount < leastScanCount ||
			(info.ScanCount == leastScanCount && info.FreeMemory <= leastMemory)) {
			candidate = device
			leastScanCount = info.ScanCount
			leastMemory = info.FreeMemory
		}
	}
	return candidate
}
