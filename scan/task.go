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

	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/codegen"
	"github.com/uber/gpuscan/common"
	"github.com/uber/gpuscan/devicemem"
	"github.com/uber/gpuscan/expr"
	"github.com/uber/gpuscan/utils"
)

// avgVarLenEstimate is the assumed width of a variable length output
// value when sizing destination buffers.
const avgVarLenEstimate = 16

// Task is one unit of accelerator work: a source chunk, the device
// buffers the launch needs, and after execution either decoded results
// or a fallback cursor. A task is submitted exactly once and drained
// via Next until exhausted.
type Task struct {
	src     *chunk.Chunk
	program *codegen.Program
	device  int
	mem     *devicemem.Manager

	paramImage []byte
	params     devicemem.DevicePointer
	result     devicemem.DevicePointer
	resultSize int

	indexOnly     bool
	destCapacity  int
	destByteLimit int

	submitted bool
	fallback  bool
	header    codegen.ResultHeader
	indexes   []uint32
	dest      *chunk.Chunk
	fb        *fallbackCursor
	cursor    int
}

// TaskFactory builds tasks for one scan from scan wide sizing
// parameters. The factory owns the device buffer allocations it makes;
// Task.Release returns them.
type TaskFactory struct {
	program *codegen.Program
	params  map[string]expr.Value
	mem     *devicemem.Manager
	device  int
	cfg     common.ScanConfig
}

// NewTaskFactory creates a factory serving tasks on one device.
func NewTaskFactory(program *codegen.Program, params map[string]expr.Value,
	mem *devicemem.Manager, device int, cfg common.ScanConfig) *TaskFactory {
	return &TaskFactory{
		program: program,
		params:  params,
		mem:     mem,
		device:  device,
		cfg:     common.DefaultScanConfig(cfg),
	}
}

// expectedRows estimates how many rows a chunk can produce. Row and
// column chunks carry an exact count; block chunks may still have
// pending pages, so the configured per block density is used instead.
func (f *TaskFactory) expectedRows(src *chunk.Chunk) int {
	if src.Format() == chunk.FormatBlock {
		return f.cfg.RowsPerBlock * src.NumBlocks()
	}
	return src.Items()
}

// NewTask builds a task for one chunk. When the program materializes a
// projection, the destination is sized at slack times the estimated
// output; otherwise the result is an index array into the source chunk.
// Device allocation failure here is resource exhaustion, not a data
// error.
func (f *TaskFactory) NewTask(src *chunk.Chunk) (*Task, error) {
	t := &Task{
		src:     src,
		program: f.program,
		device:  f.device,
		mem:     f.mem,
	}

	expected := f.expectedRows(src)
	padded := int(math.Ceil(f.cfg.DestinationSlack * float64(expected)))

	srcGen := f.program.Source()
	if srcGen.HasProjection() {
		t.destCapacity = padded
		tupleSize := srcGen.ProjectionSchema().MaxTupleSize(avgVarLenEstimate)
		t.destByteLimit = padded * tupleSize
		// header, row count and per row length prefixes of the
		// marshaled destination image
		t.resultSize = codegen.ResultHeaderSize + 24 + padded*4 + t.destByteLimit
	} else {
		t.indexOnly = true
		t.resultSize = codegen.ResultHeaderSize + padded*4
	}

	t.paramImage = codegen.MarshalParams(srcGen.ParamNames, f.params)

	var err error
	if t.params, err = f.mem.Allocate(len(t.paramImage), f.device); err != nil {
		return nil, utils.StackError(err, "allocating %d byte parameter buffer", len(t.paramImage))
	}
	if t.result, err = f.mem.Allocate(t.resultSize, f.device); err != nil {
		f.mem.FreeAndSetNil(&t.params)
		return nil, utils.StackError(err, "allocating %d byte result buffer", t.resultSize)
	}
	return t, nil
}

// Src returns the task's source chunk.
func (t *Task) Src() *chunk.Chunk {
	return t.src
}

// IndexOnly reports whether the task produces index results instead of
// a materialized destination chunk.
func (t *Task) IndexOnly() bool {
	return t.indexOnly
}

// FellBack reports whether the task was re-evaluated on the host.
func (t *Task) FellBack() bool {
	return t.fallback
}

// Header returns the device side counters, valid after execution on
// the accelerated path.
func (t *Task) Header() codegen.ResultHeader {
	return t.header
}

// Next pulls the next result tuple. ok is false once the task is
// drained. The caller cannot tell whether the row came off the device
// or the host re-evaluator.
func (t *Task) Next() ([]expr.Value, bool, error) {
	if t.fb != nil {
		return t.fb.Next()
	}
	if t.indexOnly {
		if t.cursor >= len(t.indexes) {
			return nil, false, nil
		}
		row := int(t.indexes[t.cursor])
		t.cursor++
		vals, err := t.src.TupleValues(row)
		return vals, err == nil, err
	}
	if t.dest == nil || t.cursor >= t.dest.Items() {
		return nil, false, nil
	}
	vals, err := t.dest.TupleValues(t.cursor)
	t.cursor++
	return vals, err == nil, err
}

// Release frees the task's device allocations. Safe to call more than
// once.
func (t *Task) Release() {
	t.mem.FreeAndSetNil(&t.params)
	t.mem.FreeAndSetNil(&t.result)
}
