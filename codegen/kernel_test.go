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
	"fmt"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/devicemem"
	"github.com/uber/gpuscan/expr"
)

// launchOnce stages one source chunk, launches the program and stages
// the result buffer back, the way the task executor does.
func launchOnce(p *Program, src *chunk.Chunk, params map[string]expr.Value,
	resultSize, destCap, destLimit int) (ResultHeader, []byte) {

	m := devicemem.NewManager(devicemem.Config{NumDevices: 1, DeviceCapacity: 64 << 20})
	s := m.CreateStream(0)
	defer m.DestroyStream(s)

	img := src.Marshal()
	srcPtr, err := m.Allocate(len(img), 0)
	Ω(err).Should(BeNil())
	resPtr, err := m.Allocate(resultSize, 0)
	Ω(err).Should(BeNil())

	buffers := KernelBuffers{
		Manager:       m,
		Source:        srcPtr,
		SourceSize:    len(img),
		Result:        resPtr,
		ResultSize:    resultSize,
		DestCapacity:  destCap,
		DestByteLimit: destLimit,
	}
	m.AsyncCopyHostToDevice(srcPtr, img, s)

	if len(p.Source().ParamNames) > 0 {
		paramBytes := MarshalParams(p.Source().ParamNames, params)
		paramPtr, err := m.Allocate(len(paramBytes), 0)
		Ω(err).Should(BeNil())
		m.AsyncCopyHostToDevice(paramPtr, paramBytes, s)
		buffers.Params = paramPtr
		buffers.ParamsSize = len(paramBytes)
	}

	var status devicemem.Status
	m.LaunchKernel(p.ScanKernel(src.Format(), buffers), devicemem.ComputeGrid(src.Items(), 0), &status, s)

	hostResult := make([]byte, resultSize)
	m.AsyncCopyDeviceToHost(hostResult, resPtr, s)
	Ω(m.WaitForStream(s)).Should(BeNil())

	header, err := ParseResultHeader(hostResult)
	Ω(err).Should(BeNil())
	Ω(header.Status).Should(Equal(status))
	return header, hostResult
}

func rowChunkOfAges(s *chunk.Schema, ages ...int64) *chunk.Chunk {
	c := chunk.NewRowChunk(s, len(ages)+1)
	for i, age := range ages {
		err := c.AppendTuple([]expr.Value{
			expr.IntValue(int64(i + 1)),
			expr.IntValue(age),
			expr.FloatValue(float64(age) / 2),
			expr.StringValue(fmt.Sprintf("p%d", i)),
		})
		Ω(err).Should(BeNil())
	}
	return c
}

var _ = ginkgo.Describe("compiled kernel", func() {

	ginkgo.It("produces index results in source order", func() {
		schema := scanSchema()
		src, err := Generate(mustParse("age > 30"), nil, schema, Options{})
		Ω(err).Should(BeNil())
		p := NewProgramCache().Get(src, "")

		in := rowChunkOfAges(schema, 10, 40, 31, 30, 99)
		header, buf := launchOnce(p, in, nil, 4096, 0, 0)

		Ω(header.Status).Should(Equal(devicemem.StatusSuccess))
		Ω(header.RowsIn).Should(Equal(uint32(5)))
		Ω(header.RowsOut).Should(Equal(uint32(3)))

		indexes, err := ResultIndexes(buf, header.RowsOut)
		Ω(err).Should(BeNil())
		Ω(indexes).Should(Equal([]uint32{1, 2, 4}))
	})

	ginkgo.It("evaluates an absent predicate as always true", func() {
		schema := scanSchema()
		src, err := Generate(nil, nil, schema, Options{})
		Ω(err).Should(BeNil())
		p := NewProgramCache().Get(src, "")

		in := rowChunkOfAges(schema, 1, 2, 3)
		header, _ := launchOnce(p, in, nil, 4096, 0, 0)
		Ω(header.RowsOut).Should(Equal(uint32(3)))
	})

	ginkgo.It("handles an empty chunk", func() {
		schema := scanSchema()
		src, err := Generate(mustParse("age > 30"), nil, schema, Options{})
		Ω(err).Should(BeNil())
		p := NewProgramCache().Get(src, "")

		header, _ := launchOnce(p, chunk.NewRowChunk(schema, 4), nil, 4096, 0, 0)
		Ω(header.Status).Should(Equal(devicemem.StatusSuccess))
		Ω(header.RowsIn).Should(Equal(uint32(0)))
		Ω(header.RowsOut).Should(Equal(uint32(0)))
	})

	ginkgo.It("resolves parameters from the task's parameter buffer", func() {
		schema := scanSchema()
		params := map[string]expr.Value{"min_age": expr.IntValue(50)}
		src, err := Generate(mustParse("age > min_age"), nil, schema, Options{Params: params})
		Ω(err).Should(BeNil())
		p := NewProgramCache().Get(src, "")

		in := rowChunkOfAges(schema, 10, 60, 49, 51)
		header, buf := launchOnce(p, in, params, 4096, 0, 0)
		Ω(header.RowsOut).Should(Equal(uint32(2)))
		indexes, err := ResultIndexes(buf, header.RowsOut)
		Ω(err).Should(BeNil())
		Ω(indexes).Should(Equal([]uint32{1, 3}))
	})

	ginkgo.It("materializes a destination chunk with counters", func() {
		schema := scanSchema()
		src, err := Generate(mustParse("age > 30"), []OutputColumn{
			{Name: "name", Expr: mustParse("name")},
			{Name: "double_age", Expr: mustParse("age * 2")},
		}, schema, Options{})
		Ω(err).Should(BeNil())
		p := NewProgramCache().Get(src, "")

		in := rowChunkOfAges(schema, 10, 40, 99)
		header, buf := launchOnce(p, in, nil, 8192, 8, 4096)
		Ω(header.Status).Should(Equal(devicemem.StatusSuccess))
		Ω(header.RowsOut).Should(Equal(uint32(2)))
		// "p1" and "p2" were the two passing names.
		Ω(header.ExtraBytes).Should(Equal(uint32(4)))

		dest, err := ResultDestination(src.ProjectionSchema(), buf)
		Ω(err).Should(BeNil())
		Ω(dest.Items()).Should(Equal(2))
		vals, err := dest.TupleValues(0)
		Ω(err).Should(BeNil())
		Ω(vals[0]).Should(Equal(expr.StringValue("p1")))
		Ω(vals[1]).Should(Equal(expr.IntValue(80)))
	})

	ginkgo.It("reports no space when the destination estimate was too small", func() {
		schema := scanSchema()
		src, err := Generate(nil, []OutputColumn{
			{Name: "name", Expr: mustParse("name")},
		}, schema, Options{})
		Ω(err).Should(BeNil())
		p := NewProgramCache().Get(src, "")

		in := rowChunkOfAges(schema, 1, 2, 3, 4, 5, 6, 7, 8)
		header, _ := launchOnce(p, in, nil, 8192, 2, 4096)
		Ω(header.Status).Should(Equal(devicemem.StatusNoSpace))
		Ω(header.Status.Recoverable()).Should(BeTrue())
	})

	ginkgo.It("reports no space when the index area overflows", func() {
		schema := scanSchema()
		src, err := Generate(nil, nil, schema, Options{})
		Ω(err).Should(BeNil())
		p := NewProgramCache().Get(src, "")

		in := rowChunkOfAges(schema, 1, 2, 3, 4)
		header, _ := launchOnce(p, in, nil, ResultHeaderSize+2*4, 0, 0)
		Ω(header.Status).Should(Equal(devicemem.StatusNoSpace))
	})

	ginkgo.It("asks for a CPU re check on a zero divisor", func() {
		schema := scanSchema()
		src, err := Generate(mustParse("100 / (age - 31) > 2"), nil, schema, Options{})
		Ω(err).Should(BeNil())
		p := NewProgramCache().Get(src, "")

		in := rowChunkOfAges(schema, 40, 31, 50)
		header, _ := launchOnce(p, in, nil, 4096, 0, 0)
		Ω(header.Status).Should(Equal(devicemem.StatusCPUReCheck))
		Ω(header.Status.Recoverable()).Should(BeTrue())
	})

	ginkgo.It("evaluates against column format chunks", func() {
		schema := scanSchema()
		src, err := Generate(mustParse("age > 30 AND score < 40.0"), nil, schema, Options{})
		Ω(err).Should(BeNil())
		p := NewProgramCache().Get(src, "")

		in := chunk.NewColumnChunk(schema, 4)
		for i, age := range []int64{20, 50, 90} {
			err := in.AppendRow([]expr.Value{
				expr.IntValue(int64(i)),
				expr.IntValue(age),
				expr.FloatValue(float64(age) / 2),
				expr.StringValue("x"),
			})
			Ω(err).Should(BeNil())
		}
		header, buf := launchOnce(p, in, nil, 4096, 0, 0)
		Ω(header.RowsOut).Should(Equal(uint32(1)))
		indexes, err := ResultIndexes(buf, header.RowsOut)
		Ω(err).Should(BeNil())
		Ω(indexes).Should(Equal([]uint32{1}))
	})

	ginkgo.It("compiles a source once and shares it across lookups", func() {
		schema := scanSchema()
		cache := NewProgramCache()

		src1, err := Generate(mustParse("age > 30"), nil, schema, Options{})
		Ω(err).Should(BeNil())
		src2, err := Generate(mustParse("age > 30"), nil, schema, Options{})
		Ω(err).Should(BeNil())

		p1 := cache.Get(src1, "-O2")
		p2 := cache.Get(src2, "-O2")
		Ω(p1).Should(BeIdenticalTo(p2))
		Ω(cache.Size()).Should(Equal(1))

		// Different build flags compile separately.
		p3 := cache.Get(src1, "-O0")
		Ω(p3).ShouldNot(BeIdenticalTo(p1))
		Ω(cache.Size()).Should(Equal(2))
	})
})
