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

// Package scan drives the chunked task pipeline: chunk acquisition,
// task construction, asynchronous device execution and host fallback,
// behind a pull protocol that hides which path produced each tuple.
package scan

import (
	"sync"

	"github.com/getlantern/deepcopy"
	uuid "github.com/satori/go.uuid"
	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/codegen"
	"github.com/uber/gpuscan/colcache"
	"github.com/uber/gpuscan/common"
	"github.com/uber/gpuscan/devicemem"
	"github.com/uber/gpuscan/diskstore"
	"github.com/uber/gpuscan/expr"
	"github.com/uber/gpuscan/utils"
	"golang.org/x/sync/errgroup"
)

// Config describes one scan.
type Config struct {
	Schema     *chunk.Schema
	Predicate  expr.Expr
	Projection []codegen.OutputColumn
	Params     map[string]expr.Value

	Store diskstore.BlockStore
	Cache colcache.ChunkCache
	Mem   *devicemem.Manager

	// optional: cross scan device placement and a shared program cache
	Devices  *DeviceManager
	Programs *codegen.ProgramCache

	Scan common.ScanConfig
	// decode pages into row chunks host side instead of shipping raw
	// block chunks
	RowFormat bool
	// block the scan starts at, wrapping around the table end
	StartBlock uint32
	// preferred device, -1 for no preference
	PreferredDevice int
}

// Scanner executes one scan. The program is generated and compiled
// once up front; every chunk then flows through the factory and the
// executor, and NextTuple pulls result tuples without exposing whether
// the device or the host produced them.
type Scanner struct {
	id      string
	cfg     Config
	program *codegen.Program
	state   *SharedScanState
	reader  *ChunkReader
	factory *TaskFactory
	exec    *TaskExecutor
	stats   *ScanStats

	device      int
	reservedMem int

	stream *devicemem.Stream
	cur    *Task
	done   bool
}

// NewScanner generates and compiles the scan program, places the scan
// on a device and wires the pipeline. Offering a predicate or output
// expression the device cannot evaluate is a contract violation, not a
// runtime condition.
func NewScanner(cfg Config) (*Scanner, error) {
	if cfg.Predicate != nil && !expr.IsDeviceEvaluable(cfg.Predicate, cfg.Schema) {
		return nil, utils.StackError(nil, "predicate %s is not device evaluable", cfg.Predicate.String())
	}
	for _, out := range cfg.Projection {
		if !expr.IsDeviceEvaluable(out.Expr, cfg.Schema) {
			return nil, utils.StackError(nil, "output %s is not device evaluable", out.Name)
		}
	}
	cfg.Scan = common.DefaultScanConfig(cfg.Scan)

	// Private copies of the predicate, projection and parameters taken
	// before code generation. The fallback path re-evaluates against
	// these originals, so a later device layout rewrite or caller
	// mutation cannot skew the re-evaluation.
	var origPred expr.Expr
	if cfg.Predicate != nil {
		origPred = expr.CloneExpr(cfg.Predicate)
	}
	origProj := make([]codegen.OutputColumn, len(cfg.Projection))
	for i, out := range cfg.Projection {
		origProj[i] = codegen.OutputColumn{Name: out.Name, Expr: expr.CloneExpr(out.Expr)}
	}
	params := make(map[string]expr.Value, len(cfg.Params))
	if len(cfg.Params) > 0 {
		if err := deepcopy.Copy(&params, &cfg.Params); err != nil {
			return nil, utils.StackError(err, "copying scan parameters")
		}
	}

	src, err := codegen.Generate(cfg.Predicate, cfg.Projection, cfg.Schema, codegen.Options{Params: params})
	if err != nil {
		return nil, err
	}
	programs := cfg.Programs
	if programs == nil {
		programs = codegen.NewProgramCache()
	}
	program := programs.Get(src, "")

	id, _ := uuid.NewV4()
	s := &Scanner{
		id:      id.String(),
		cfg:     cfg,
		program: program,
		stats:   NewScanStats(),
	}

	// Reserve device memory covering one in flight task per worker.
	s.reservedMem = cfg.Scan.Workers * taskMemoryEstimate(cfg.Scan)
	s.device = 0
	if cfg.Devices != nil {
		if s.device = cfg.Devices.FindDevice(s.id, s.reservedMem, cfg.PreferredDevice, 0); s.device < 0 {
			return nil, utils.StackError(nil, "no device can serve scan %s (%d bytes)", s.id, s.reservedMem)
		}
	}

	s.state = NewSharedScanState(cfg.Store.NumBlocks(), cfg.StartBlock)
	pool := NewPagePool()
	s.reader = NewChunkReader(cfg.Schema, cfg.Store, cfg.Cache, pool, s.state, cfg.Scan.BlocksPerChunk, cfg.RowFormat)
	s.factory = NewTaskFactory(program, params, cfg.Mem, s.device, cfg.Scan)
	fb := NewFallback(cfg.Schema, origPred, origProj, params, s.state)
	s.exec = NewTaskExecutor(cfg.Mem, cfg.Store, pool, s.state, fb, s.stats)
	s.stream = cfg.Mem.CreateStream(s.device)

	utils.GetScanLogger().With("scan", s.id).Infof("scan starts on device %d over %d blocks",
		s.device, cfg.Store.NumBlocks())
	return s, nil
}

// taskMemoryEstimate sizes the device reservation for one in flight
// task: source image, result area and parameters, with headroom.
func taskMemoryEstimate(cfg common.ScanConfig) int {
	return cfg.BlocksPerChunk * (chunk.PageSize + 4) * 2
}

// ID returns the scan identifier used in logs and device accounting.
func (s *Scanner) ID() string {
	return s.id
}

// Stats snapshots the shared runtime counters.
func (s *Scanner) Stats() Stats {
	return s.state.Snapshot()
}

// StageStats returns the per stage timing aggregate.
func (s *Scanner) StageStats() *ScanStats {
	return s.stats
}

// NextTuple pulls the next result tuple of the scan. ok is false at
// end of scan.
func (s *Scanner) NextTuple() ([]expr.Value, bool, error) {
	for {
		if s.cur != nil {
			vals, ok, err := s.cur.Next()
			if err != nil {
				return nil, false, err
			}
			if ok {
				return vals, true, nil
			}
			s.cur.Release()
			s.cur = nil
		}
		if s.done {
			return nil, false, nil
		}

		c, err := s.reader.NextChunk()
		if err != nil {
			return nil, false, err
		}
		if c == nil {
			s.done = true
			return nil, false, nil
		}
		t, err := s.factory.NewTask(c)
		if err != nil {
			return nil, false, err
		}
		if err = s.exec.Execute(t, s.stream); err != nil {
			t.Release()
			return nil, false, err
		}
		s.cur = t
	}
}

// Rewind restarts the scan from its recorded start position. It waits
// only for this scanner's own in flight work, never for other workers.
func (s *Scanner) Rewind() error {
	if err := s.cfg.Mem.WaitForStream(s.stream); err != nil {
		return err
	}
	if s.cur != nil {
		s.cur.Release()
		s.cur = nil
	}
	s.state.Reset()
	s.done = false
	return nil
}

// RunParallel scans with nWorkers cooperating workers, each reserving
// disjoint block ranges and owning one in flight task at a time. Rows
// are delivered to sink serially but in no particular cross chunk
// order.
func (s *Scanner) RunParallel(nWorkers int, sink func(row []expr.Value) error) error {
	if nWorkers <= 0 {
		nWorkers = s.cfg.Scan.Workers
	}
	var sinkMu sync.Mutex
	var g errgroup.Group
	for w := 0; w < nWorkers; w++ {
		g.Go(func() error {
			stream := s.cfg.Mem.CreateStream(s.device)
			defer s.cfg.Mem.DestroyStream(stream)
			for {
				c, err := s.reader.NextChunk()
				if err != nil {
					return err
				}
				if c == nil {
					return nil
				}
				t, err := s.factory.NewTask(c)
				if err != nil {
					return err
				}
				if err = s.drainTask(t, stream, sink, &sinkMu); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

func (s *Scanner) drainTask(t *Task, stream *devicemem.Stream,
	sink func(row []expr.Value) error, sinkMu *sync.Mutex) error {
	defer t.Release()
	if err := s.exec.Execute(t, stream); err != nil {
		return err
	}
	for {
		vals, ok, err := t.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		sinkMu.Lock()
		err = sink(vals)
		sinkMu.Unlock()
		if err != nil {
			return err
		}
	}
}

// Close releases the scanner's device resources and dumps the stage
// timing breakdown.
func (s *Scanner) Close() {
	if s.cur != nil {
		s.cur.Release()
		s.cur = nil
	}
	s.cfg.Mem.DestroyStream(s.stream)
	s.stream = nil
	if s.cfg.Devices != nil {
		s.cfg.Devices.ReleaseReservedMemory(s.device, s.id)
	}
	s.stats.WriteToLog()
}
