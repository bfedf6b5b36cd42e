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

// Status is the completion code a kernel leaves behind for the host to
// interpret after the stream sync point.
type Status int

const (
	// StatusSuccess means the kernel ran to completion.
	StatusSuccess Status = iota
	// StatusCPUReCheck asks the host to re evaluate the task on the CPU,
	// for example when an expression cannot be decided on the device.
	StatusCPUReCheck
	// StatusNoSpace means the destination buffer ran out of room before
	// all qualifying tuples were written.
	StatusNoSpace
	// StatusOutOfMemory means the kernel failed to claim scratch memory.
	StatusOutOfMemory
	// StatusInvalidAccess means the kernel touched memory outside its
	// buffers. Always fatal.
	StatusInvalidAccess
)

var statusNames = map[Status]string{
	StatusSuccess:       "success",
	StatusCPUReCheck:    "cpu_recheck",
	StatusNoSpace:       "no_space",
	StatusOutOfMemory:   "out_of_memory",
	StatusInvalidAccess: "invalid_access",
}

func (s Status) String() string {
	return statusNames[s]
}

// Recoverable reports whether the host can recover from the status by
// re running the task on the CPU.
func (s Status) Recoverable() bool {
	return s == StatusCPUReCheck || s == StatusNoSpace
}
