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
	"encoding/binary"

	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/codegen"
	"github.com/uber/gpuscan/devicemem"
	"github.com/uber/gpuscan/diskstore"
	"github.com/uber/gpuscan/utils"
)

// TaskExecutor runs tasks on the accelerator: stages inputs, launches
// the program, and interprets the per task status. Recoverable device
// failures are resolved here by flagging the task for host fallback;
// the caller only ever sees result tuples or a fatal error.
type TaskExecutor struct {
	mem   *devicemem.Manager
	store diskstore.BlockStore
	state *SharedScanState
	pool  *PagePool
	fb    *Fallback
	stats *ScanStats
}

// NewTaskExecutor creates an executor for one scan.
func NewTaskExecutor(mem *devicemem.Manager, store diskstore.BlockStore, pool *PagePool,
	state *SharedScanState, fb *Fallback, stats *ScanStats) *TaskExecutor {
	return &TaskExecutor{
		mem:   mem,
		store: store,
		state: state,
		pool:  pool,
		fb:    fb,
		stats: stats,
	}
}

// forceResident reads every pending page of a block chunk into host
// memory, so an ordinary host to device copy can carry the whole chunk.
func (e *TaskExecutor) forceResident(src *chunk.Chunk) error {
	for i := 0; i < src.NumBlocks(); i++ {
		if src.PageAt(i) != nil {
			continue
		}
		block := src.BlockNumber(i)
		pages, err := e.store.ReadBlocks(block, 1)
		if err != nil {
			return utils.StackError(err, "reading block %d for host transfer", block)
		}
		src.SetPage(i, pages[0])
		e.pool.Put(block, pages[0])
	}
	src.CompactBlockIndex()
	return nil
}

// Execute runs one task to completion. On return the task either holds
// decoded device results or a host fallback cursor; the single stream
// synchronization point sits between launch and status interpretation.
func (e *TaskExecutor) Execute(t *Task, stream *devicemem.Stream) error {
	if t.submitted {
		return utils.StackError(nil, "task resubmitted")
	}
	t.submitted = true

	ts := newTaskStats()
	start := utils.Now()

	// Stage one: make the input chunk accelerator addressable. Block
	// chunks with pending pages go through the bulk transfer pool so
	// storage feeds the device directly; when that pool is exhausted
	// the task downgrades to a plain copy after forcing the pages host
	// resident.
	nBlocks := 0
	resident := 0
	bulk := false
	if t.src.Format() == chunk.FormatBlock {
		resident = t.src.CompactBlockIndex()
		nBlocks = t.src.NumBlocks()
		if resident < nBlocks {
			if e.store.BulkTransferCapable() {
				bulk = true
			} else if err := e.forceResident(t.src); err != nil {
				return err
			}
		}
	}

	img := t.src.Marshal()
	var srcPtr devicemem.DevicePointer
	var err error
	if bulk {
		if srcPtr, err = e.mem.AllocateBulk(len(img), t.device); err == devicemem.ErrOutOfDeviceMemory {
			utils.GetRootReporter().GetCounter(utils.ScanBulkTransferDowngrade).Inc(1)
			if err = e.forceResident(t.src); err != nil {
				return err
			}
			bulk = false
			resident = nBlocks
			img = t.src.Marshal()
			srcPtr, err = e.mem.Allocate(len(img), t.device)
		}
	} else {
		srcPtr, err = e.mem.Allocate(len(img), t.device)
	}
	if err != nil {
		return utils.StackError(err, "allocating %d byte source buffer", len(img))
	}
	defer e.mem.FreeAndSetNil(&srcPtr)

	// Stage two: asynchronous staging, with the result area prefetched
	// ahead of the launch it serves.
	e.mem.AsyncCopyHostToDevice(srcPtr, img, stream)
	if bulk {
		for i := resident; i < nBlocks; i++ {
			off := chunk.BlockImagePageOffset(nBlocks, i)
			if err = e.store.ReadBlocksDevice(t.src.BlockNumber(i), 1, e.mem, srcPtr.WithOffset(off), stream); err != nil {
				return utils.StackError(err, "storage direct read of block %d", t.src.BlockNumber(i))
			}
		}
		// every page slot is now filled device side
		var patched [4]byte
		binary.LittleEndian.PutUint32(patched[:], uint32(nBlocks))
		e.mem.AsyncCopyHostToDevice(srcPtr.WithOffset(chunk.BlockImageResidentOffset()), patched[:], stream)
	}
	e.mem.AsyncCopyHostToDevice(t.params, t.paramImage, stream)
	e.mem.Prefetch(srcPtr, len(img), stream)
	e.mem.Prefetch(t.result, t.resultSize, stream)
	ts.reportTiming(&start, transferTiming)

	// Stage three: launch.
	buffers := codegen.KernelBuffers{
		Manager:       e.mem,
		Source:        srcPtr,
		SourceSize:    len(img),
		Params:        t.params,
		ParamsSize:    len(t.paramImage),
		Result:        t.result,
		ResultSize:    t.resultSize,
		DestCapacity:  t.destCapacity,
		DestByteLimit: t.destByteLimit,
	}
	var launchStatus devicemem.Status
	grid := devicemem.ComputeGrid(t.src.Items(), 0)
	e.mem.LaunchKernel(t.program.ScanKernel(t.src.Format(), buffers), grid, &launchStatus, stream)
	resBuf := make([]byte, t.resultSize)
	e.mem.AsyncCopyDeviceToHost(resBuf, t.result, stream)
	ts.reportTiming(&start, launchTiming)

	// Stage four: the single synchronization point.
	if err = e.mem.WaitForStream(stream); err != nil {
		return utils.StackError(err, "device stream failed")
	}
	ts.reportTiming(&start, syncTiming)

	// Stage five: interpret status and counters.
	header, err := codegen.ParseResultHeader(resBuf)
	if err != nil {
		return err
	}
	t.header = header
	ts.batchSize = int(header.RowsIn)
	ts.bytesTransferred = len(img) + len(t.paramImage) + t.resultSize
	defer e.stats.applyTaskStats(ts)

	switch {
	case header.Status == devicemem.StatusSuccess:
		if t.indexOnly {
			if t.indexes, err = codegen.ResultIndexes(resBuf, header.RowsOut); err != nil {
				return err
			}
			// Index results are drained from the source chunk, so any
			// page a bulk transfer left device resident only comes
			// back now.
			if bulk && resident < nBlocks {
				if err = e.copyPagesBack(t.src, srcPtr, resident, nBlocks, stream); err != nil {
					return err
				}
			}
		} else {
			t.dest, err = codegen.ResultDestination(t.program.Source().ProjectionSchema(), resBuf)
		}
		if err != nil {
			return err
		}
		e.state.AddRowsFiltered(int64(header.RowsIn - header.RowsOut))
		ts.reportTiming(&start, resultTiming)
		return nil

	case header.Status.Recoverable():
		// Clear the device error and hand the original input chunk to
		// the host re-evaluator. Pages a bulk transfer left device
		// resident only must come back first so the fallback can read
		// them.
		t.fallback = true
		e.state.AddFallbackTask()
		if bulk && resident < nBlocks {
			if err = e.copyPagesBack(t.src, srcPtr, resident, nBlocks, stream); err != nil {
				return err
			}
		}
		t.fb = e.fb.cursor(t.src)
		ts.reportTiming(&start, fallbackTiming)
		return nil
	}
	return utils.StackError(nil, "fatal device error: %s", header.Status)
}

// copyPagesBack synchronously copies device only page slots back into
// the source chunk and the host page pool.
func (e *TaskExecutor) copyPagesBack(src *chunk.Chunk, srcPtr devicemem.DevicePointer,
	from, nBlocks int, stream *devicemem.Stream) error {
	bufs := make([][]byte, nBlocks-from)
	for i := from; i < nBlocks; i++ {
		bufs[i-from] = make([]byte, chunk.PageSize)
		off := chunk.BlockImagePageOffset(nBlocks, i)
		e.mem.AsyncCopyDeviceToHost(bufs[i-from], srcPtr.WithOffset(off), stream)
	}
	if err := e.mem.WaitForStream(stream); err != nil {
		return utils.StackError(err, "copying device resident pages back")
	}
	for i := from; i < nBlocks; i++ {
		page, err := chunk.PageFromBytes(bufs[i-from])
		if err != nil {
			return err
		}
		src.SetPage(i, page)
		e.pool.Put(src.BlockNumber(i), page)
	}
	return nil
}
