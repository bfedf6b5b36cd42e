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
	"sort"
	"sync"
	"time"

	"github.com/uber/gpuscan/utils"
)

// stageName identifies one stage of a task's execution.
type stageName string

const (
	transferTiming stageName = "transfer"
	launchTiming             = "launch"
	syncTiming               = "sync"
	resultTiming             = "result"
	fallbackTiming           = "fallback"
)

// taskStats stores per stage timings for a single task, in
// milliseconds.
type taskStats struct {
	timings          map[stageName]float64
	batchSize        int
	bytesTransferred int
}

func newTaskStats() *taskStats {
	return &taskStats{timings: make(map[stageName]float64)}
}

// reportTiming records the time elapsed since start for one stage and
// moves start forward, so consecutive calls chain.
func (s *taskStats) reportTiming(start *time.Time, name stageName) {
	now := utils.Now()
	s.timings[name] += now.Sub(*start).Seconds() * 1000
	*start = now
}

// stageSummaryStats stores running aggregates for one stage across all
// tasks of a scan.
type stageSummaryStats struct {
	name  stageName
	max   float64
	min   float64
	count int
	total float64
}

// ScanStats aggregates task stats over a whole scan.
type ScanStats struct {
	mu         sync.Mutex
	name2Stage map[stageName]*stageSummaryStats

	totalTiming      float64
	numTasks         int
	numRecords       int
	bytesTransferred int
}

// NewScanStats creates an empty aggregate.
func NewScanStats() *ScanStats {
	return &ScanStats{name2Stage: make(map[stageName]*stageSummaryStats)}
}

// applyTaskStats folds one finished task into the scan aggregate.
func (s *ScanStats) applyTaskStats(ts *taskStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, value := range ts.timings {
		stage, ok := s.name2Stage[name]
		if !ok {
			stage = &stageSummaryStats{name: name, max: -1, min: math.MaxFloat64}
			s.name2Stage[name] = stage
		}
		stage.max = math.Max(stage.max, value)
		stage.min = math.Min(stage.min, value)
		stage.count++
		stage.total += value
		s.totalTiming += value
	}
	s.numTasks++
	s.numRecords += ts.batchSize
	s.bytesTransferred += ts.bytesTransferred
}

// NumTasks returns how many tasks have been folded in.
func (s *ScanStats) NumTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numTasks
}

// WriteToLog dumps the per stage breakdown, slowest stage first.
func (s *ScanStats) WriteToLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.numTasks == 0 {
		return
	}
	stages := make([]*stageSummaryStats, 0, len(s.name2Stage))
	for _, stage := range s.name2Stage {
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool {
		return stages[i].total > stages[j].total
	})

	logger := utils.GetScanLogger()
	logger.Infof("total timing: %.3fms over %d tasks, %d records, %d bytes transferred",
		s.totalTiming, s.numTasks, s.numRecords, s.bytesTransferred)
	for _, stage := range stages {
		logger.Infof("stage %-10s total=%.3fms avg=%.3fms max=%.3fms min=%.3fms count=%d",
			stage.name, stage.total, stage.total/float64(stage.count), stage.max, stage.min, stage.count)
	}
}
