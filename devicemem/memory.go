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
	"errors"
	"strconv"
	"sync"

	"github.com/uber/gpuscan/utils"
)

// ErrOutOfDeviceMemory reports that a device's memory pool (regular or
// bulk) cannot satisfy an allocation.
var ErrOutOfDeviceMemory = errors.New("out of device memory")

// NullDevicePointer is the zero device pointer.
var NullDevicePointer = DevicePointer{}

// DevicePointer addresses device resident memory by allocation handle
// plus a byte offset. Handles survive host garbage collection and never
// alias a host address.
type DevicePointer struct {
	Device int
	Handle int
	Offset int
}

// IsNull reports whether the pointer refers to no allocation.
func (p DevicePointer) IsNull() bool {
	return p.Handle == 0
}

// WithOffset returns a pointer into the same allocation, advanced by
// offset bytes.
func (p DevicePointer) WithOffset(offset int) DevicePointer {
	return DevicePointer{Device: p.Device, Handle: p.Handle, Offset: p.Offset + offset}
}

// Config sizes the simulated devices.
type Config struct {
	NumDevices     int   `yaml:"num_devices"`
	DeviceCapacity int64 `yaml:"device_capacity"`
	// BulkCapacity is the per device budget for storage direct transfer
	// buffers. It is exhausted independently of the regular pool.
	BulkCapacity int64 `yaml:"bulk_capacity"`
}

type allocation struct {
	buf    []byte
	device int
	bulk   bool
}

// Manager owns all simulated device memory. All allocation and buffer
// access goes through the manager so usage accounting stays exact.
type Manager struct {
	cfg Config

	mu          sync.Mutex
	nextHandle  int
	allocations map[int]*allocation
	usage       []int64
	bulkUsage   []int64
}

// NewManager creates the device memory manager.
func NewManager(cfg Config) *Manager {
	if cfg.NumDevices <= 0 {
		cfg.NumDevices = 1
	}
	return &Manager{
		cfg:         cfg,
		nextHandle:  1,
		allocations: make(map[int]*allocation),
		usage:       make([]int64, cfg.NumDevices),
		bulkUsage:   make([]int64, cfg.NumDevices),
	}
}

// NumDevices returns the number of simulated devices.
func (m *Manager) NumDevices() int {
	return m.cfg.NumDevices
}

// DeviceCapacity returns the regular pool size of one device.
func (m *Manager) DeviceCapacity() int64 {
	return m.cfg.DeviceCapacity
}

// Allocate claims bytes from a device's regular pool.
func (m *Manager) Allocate(bytes, device int) (DevicePointer, error) {
	return m.allocate(bytes, device, false)
}

// AllocateBulk claims bytes from a device's bulk transfer pool. Bulk
// buffers are the landing area for storage direct reads.
func (m *Manager) AllocateBulk(bytes, device int) (DevicePointer, error) {
	return m.allocate(bytes, device, true)
}

func (m *Manager) allocate(bytes, device int, bulk bool) (DevicePointer, error) {
	if device < 0 || device >= m.cfg.NumDevices {
		return NullDevicePointer, utils.StackError(nil, "no such device %d", device)
	}
	if bytes <= 0 {
		return NullDevicePointer, utils.StackError(nil, "invalid allocation size %d", bytes)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	usage, capacity := &m.usage[device], m.cfg.DeviceCapacity
	if bulk {
		usage, capacity = &m.bulkUsage[device], m.cfg.BulkCapacity
	}
	if capacity > 0 && *usage+int64(bytes) > capacity {
		return NullDevicePointer, ErrOutOfDeviceMemory
	}
	*usage += int64(bytes)

	handle := m.nextHandle
	m.nextHandle++
	m.allocations[handle] = &allocation{
		buf:    make([]byte, bytes),
		device: device,
		bulk:   bulk,
	}
	m.reportUsage(device, bulk, *usage)
	return DevicePointer{Device: device, Handle: handle}, nil
}

// Free releases an allocation. Freeing the null pointer is a no-op.
func (m *Manager) Free(p DevicePointer) {
	if p.IsNull() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.allocations[p.Handle]
	if !ok {
		return
	}
	delete(m.allocations, p.Handle)
	usage := &m.usage[a.device]
	if a.bulk {
		usage = &m.bulkUsage[a.device]
	}
	*usage -= int64(len(a.buf))
	m.reportUsage(a.device, a.bulk, *usage)
}

// FreeAndSetNil frees the pointed-to allocation and nulls the pointer.
func (m *Manager) FreeAndSetNil(p *DevicePointer) {
	if p == nil || p.IsNull() {
		return
	}
	m.Free(*p)
	*p = NullDevicePointer
}

func (m *Manager) reportUsage(device int, bulk bool, usage int64) {
	name := utils.AllocatedDeviceMemory
	if bulk {
		name = utils.AllocatedBulkBufferMemory
	}
	utils.GetRootReporter().GetChildGauge(map[string]string{
		"device": strconv.Itoa(device),
	}, name).Update(float64(usage))
}

// AllocatedBytes returns a device's regular pool usage.
func (m *Manager) AllocatedBytes(device int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[device]
}

// AllocatedBulkBytes returns a device's bulk pool usage.
func (m *Manager) AllocatedBulkBytes(device int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bulkUsage[device]
}

// Bytes returns the device resident slice [p.Offset, p.Offset+bytes) of
// an allocation. Kernels run against these slices; host code must only
// touch them through stream copies.
func (m *Manager) Bytes(p DevicePointer, bytes int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.allocations[p.Handle]
	if !ok {
		return nil, utils.StackError(nil, "invalid device pointer: handle %d", p.Handle)
	}
	if p.Offset < 0 || p.Offset+bytes > len(a.buf) {
		return nil, utils.StackError(nil, "device access out of bounds: offset %d size %d, allocation %d",
			p.Offset, bytes, len(a.buf))
	}
	return a.buf[p.Offset : p.Offset+bytes], nil
}

// AllocationSize returns the total byte size of the pointed-to
// allocation.
func (m *Manager) AllocationSize(p DevicePointer) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocations[p.Handle]
	if !ok {
		return 0, utils.StackError(nil, "invalid device pointer: handle %d", p.Handle)
	}
	return len(a.buf), nil
}
