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

import "sync"

const defaultThreadsPerBlock = 256

// Grid is the launch geometry of one kernel invocation.
type Grid struct {
	Blocks          int
	ThreadsPerBlock int
}

// ComputeGrid sizes a grid so that blocks*threads covers items.
func ComputeGrid(items, threadsPerBlock int) Grid {
	if threadsPerBlock <= 0 {
		threadsPerBlock = defaultThreadsPerBlock
	}
	blocks := (items + threadsPerBlock - 1) / threadsPerBlock
	if blocks < 1 {
		blocks = 1
	}
	return Grid{Blocks: blocks, ThreadsPerBlock: threadsPerBlock}
}

// Kernel is a compiled device function. It runs entirely against device
// resident buffers and reports its outcome through a status code.
type Kernel func(g Grid) Status

type streamOp struct {
	run  func() error
	done chan struct{}
}

// Stream is an ordered queue of device operations. Operations are
// asynchronous to the host; errors surface at the next sync point.
type Stream struct {
	m      *Manager
	device int
	ops    chan streamOp

	mu  sync.Mutex
	err error
}

// CreateStream creates a stream bound to one device.
func (m *Manager) CreateStream(device int) *Stream {
	s := &Stream{m: m, device: device, ops: make(chan streamOp, 64)}
	go s.loop()
	return s
}

func (s *Stream) loop() {
	for op := range s.ops {
		if op.run != nil && s.Err() == nil {
			if err := op.run(); err != nil {
				s.setErr(err)
			}
		}
		if op.done != nil {
			close(op.done)
		}
	}
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Err returns the sticky stream error without synchronizing.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Device returns the device the stream is bound to.
func (s *Stream) Device() int {
	return s.device
}

func (s *Stream) enqueue(run func() error) {
	s.ops <- streamOp{run: run}
}

// WaitForStream blocks until every operation queued on the stream so
// far has finished, then returns and clears the stream's error.
func (m *Manager) WaitForStream(s *Stream) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	s.ops <- streamOp{done: done}
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.err
	s.err = nil
	return err
}

// DestroyStream synchronizes and shuts down the stream's worker.
func (m *Manager) DestroyStream(s *Stream) {
	if s == nil {
		return
	}
	m.WaitForStream(s)
	close(s.ops)
}

// AsyncCopyHostToDevice queues a copy of src into device memory at dst.
// src must stay untouched until the next sync point.
func (m *Manager) AsyncCopyHostToDevice(dst DevicePointer, src []byte, s *Stream) {
	s.enqueue(func() error {
		buf, err := m.Bytes(dst, len(src))
		if err != nil {
			return err
		}
		copy(buf, src)
		return nil
	})
}

// AsyncCopyDeviceToHost queues a copy of device memory at src into dst.
func (m *Manager) AsyncCopyDeviceToHost(dst []byte, src DevicePointer, s *Stream) {
	s.enqueue(func() error {
		buf, err := m.Bytes(src, len(dst))
		if err != nil {
			return err
		}
		copy(dst, buf)
		return nil
	})
}

// Prefetch queues a touch of the device range so the data is staged
// before the kernel that reads it.
func (m *Manager) Prefetch(p DevicePointer, bytes int, s *Stream) {
	s.enqueue(func() error {
		_, err := m.Bytes(p, bytes)
		return err
	})
}

// LaunchKernel queues a kernel on the stream. The kernel's completion
// status is written to statusOut before the next sync point wakes up.
func (m *Manager) LaunchKernel(k Kernel, g Grid, statusOut *Status, s *Stream) {
	s.enqueue(func() error {
		*statusOut = k(g)
		return nil
	})
}
