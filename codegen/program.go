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

package codegen

import (
	"sync"
	"time"

	"github.com/uber/gpuscan/utils"
)

// Program is the compiled form of one KernelSource: the IR lowered into
// closures, one evaluation per tuple with no further dispatch. Programs
// are immutable and shared read-only by every task of a scan.
type Program struct {
	src  *KernelSource
	pred evalFunc
	outs []compiledOutput
}

type compiledOutput struct {
	direct bool
	varIdx int
	eval   evalFunc
	out    outputIR
}

func buildProgram(src *KernelSource) *Program {
	p := &Program{src: src}
	if src.pred != nil {
		p.pred = compileNode(src.pred)
	}
	for _, out := range src.outputs {
		co := compiledOutput{direct: out.direct, varIdx: out.varIdx, out: out}
		if !out.direct {
			co.eval = compileNode(out.node)
		}
		p.outs = append(p.outs, co)
	}
	return p
}

// Source returns the kernel source the program was compiled from.
func (p *Program) Source() *KernelSource {
	return p.src
}

type cacheKey struct {
	source     string
	buildFlags string
}

// ProgramCache maps (kernel source text, build flags) to a compiled
// Program. Compilation happens once; concurrent lookups of the same key
// during compilation deduplicate on the cache lock.
type ProgramCache struct {
	mu       sync.Mutex
	programs map[cacheKey]*Program
}

// NewProgramCache creates an empty program cache.
func NewProgramCache() *ProgramCache {
	return &ProgramCache{programs: make(map[cacheKey]*Program)}
}

// Get returns the compiled program for the source, compiling it if this
// is the first time the (source, buildFlags) pair is seen.
func (c *ProgramCache) Get(src *KernelSource, buildFlags string) *Program {
	key := cacheKey{source: src.Text, buildFlags: buildFlags}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.programs[key]; ok {
		utils.GetRootReporter().GetCounter(utils.KernelProgramCacheHit).Inc(1)
		return p
	}
	utils.GetRootReporter().GetCounter(utils.KernelProgramCacheMiss).Inc(1)

	start := time.Now()
	p := buildProgram(src)
	utils.GetRootReporter().GetTimer(utils.KernelCompilationLatency).Record(time.Since(start))
	c.programs[key] = p
	return p
}

// Size returns the number of compiled programs held.
func (c *ProgramCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.programs)
}
