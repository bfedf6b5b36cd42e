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
	"sync"
	"sync/atomic"

	"github.com/uber/gpuscan/utils"
)

// SharedScanState is the cross worker coordination block: the block
// cursor workers reserve ranges from, plus the atomically updated
// runtime counters. The mutex guards only the cursor arithmetic, never
// I/O or device work.
type SharedScanState struct {
	mu         sync.Mutex
	numBlocks  uint32
	startBlock uint32
	cursor     uint32
	remaining  uint32

	rowsFiltered  int64
	cacheHits     int64
	fallbackTasks int64
}

// Stats is a point in time snapshot of the scan counters.
type Stats struct {
	RowsFiltered  int64 `json:"rowsFiltered"`
	CacheHits     int64 `json:"cacheHits"`
	FallbackTasks int64 `json:"fallbackTasks"`
}

// NewSharedScanState creates coordination state for a table of
// numBlocks blocks, starting the scan at startBlock.
func NewSharedScanState(numBlocks, startBlock uint32) *SharedScanState {
	if numBlocks > 0 {
		startBlock %= numBlocks
	}
	return &SharedScanState{
		numBlocks:  numBlocks,
		startBlock: startBlock,
		cursor:     startBlock,
		remaining:  numBlocks,
	}
}

// ReserveRange grabs the next range of consecutive blocks for one
// worker. The range never crosses a storage segment boundary, never
// overlaps blocks already handed out, and wraps around the table end;
// once the cursor comes back to the recorded start position the scan
// is over and ok is false. Every block is handed out exactly once.
func (s *SharedScanState) ReserveRange(maxBlocks, segmentSize uint32) (start, count uint32, ok bool) {
	if maxBlocks == 0 {
		maxBlocks = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remaining == 0 {
		return 0, 0, false
	}
	count = maxBlocks
	if count > s.remaining {
		count = s.remaining
	}
	if toEnd := s.numBlocks - s.cursor; count > toEnd {
		count = toEnd
	}
	if segmentSize > 0 {
		if toSeg := segmentSize - s.cursor%segmentSize; count > toSeg {
			count = toSeg
		}
	}
	start = s.cursor
	s.cursor = (s.cursor + count) % s.numBlocks
	s.remaining -= count
	return start, count, true
}

// Reset rewinds the cursor to the recorded start position.
func (s *SharedScanState) Reset() {
	s.mu.Lock()
	s.cursor = s.startBlock
	s.remaining = s.numBlocks
	s.mu.Unlock()
}

// StartBlock returns the recorded scan start position.
func (s *SharedScanState) StartBlock() uint32 {
	return s.startBlock
}

// AddRowsFiltered adds the rows a predicate rejected, on either
// execution path.
func (s *SharedScanState) AddRowsFiltered(n int64) {
	atomic.AddInt64(&s.rowsFiltered, n)
	utils.GetRootReporter().GetCounter(utils.ScanRowsFiltered).Inc(n)
}

// AddCacheHit records one columnar cache substitution.
func (s *SharedScanState) AddCacheHit() {
	atomic.AddInt64(&s.cacheHits, 1)
	utils.GetRootReporter().GetCounter(utils.ScanCacheHit).Inc(1)
}

// AddFallbackTask records one task handed to the host re-evaluator.
func (s *SharedScanState) AddFallbackTask() {
	atomic.AddInt64(&s.fallbackTasks, 1)
	utils.GetRootReporter().GetCounter(utils.ScanFallbackTasks).Inc(1)
}

// Snapshot reads the counters atomically.
func (s *SharedScanState) Snapshot() Stats {
	return Stats{
		RowsFiltered:  atomic.LoadInt64(&s.rowsFiltered),
		CacheHits:     atomic.LoadInt64(&s.cacheHits),
		FallbackTasks: atomic.LoadInt64(&s.fallbackTasks),
	}
}
