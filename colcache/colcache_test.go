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

package colcache

import (
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/expr"
)

func cacheSchema() *chunk.Schema {
	return chunk.NewSchema(3, []chunk.Column{
		{Name: "id", Type: chunk.Int64},
		{Name: "score", Type: chunk.Float64, Nullable: true},
	})
}

func columnChunkOf(s *chunk.Schema, n int) *chunk.Chunk {
	c := chunk.NewColumnChunk(s, n)
	for i := 0; i < n; i++ {
		err := c.AppendRow([]expr.Value{
			expr.IntValue(int64(i)),
			expr.FloatValue(float64(i) / 2),
		})
		if err != nil {
			panic(err)
		}
	}
	return c
}

var _ = ginkgo.Describe("ColumnCache", func() {
	schema := cacheSchema()

	ginkgo.It("round trips a column chunk through compression", func() {
		cc := NewColumnCache(schema, 8)
		Ω(cc.Put(8, 8, columnChunkOf(schema, 100))).Should(BeNil())

		got, empty, ok := cc.TryGetChunk(8, 8)
		Ω(ok).Should(BeTrue())
		Ω(empty).Should(BeFalse())
		Ω(got.Format()).Should(Equal(chunk.FormatColumn))
		Ω(got.Items()).Should(Equal(100))
		Ω(got.ColumnValue(0, 42)).Should(Equal(expr.IntValue(42)))
		Ω(got.ColumnValue(1, 42)).Should(Equal(expr.FloatValue(21)))
	})

	ginkgo.It("misses on uncached ranges", func() {
		cc := NewColumnCache(schema, 8)
		_, _, ok := cc.TryGetChunk(0, 8)
		Ω(ok).Should(BeFalse())
	})

	ginkgo.It("serves empty markers without a chunk", func() {
		cc := NewColumnCache(schema, 8)
		Ω(cc.PutEmpty(16, 8)).Should(BeNil())

		got, empty, ok := cc.TryGetChunk(16, 8)
		Ω(ok).Should(BeTrue())
		Ω(empty).Should(BeTrue())
		Ω(got).Should(BeNil())
	})

	ginkgo.It("rejects unaligned or oversized ranges", func() {
		cc := NewColumnCache(schema, 8)
		Ω(cc.Put(3, 8, columnChunkOf(schema, 1))).ShouldNot(BeNil())
		Ω(cc.Put(8, 9, columnChunkOf(schema, 1))).ShouldNot(BeNil())
		Ω(cc.PutEmpty(8, 0)).ShouldNot(BeNil())
	})

	ginkgo.It("rejects chunks of the wrong format or table", func() {
		cc := NewColumnCache(schema, 8)
		row := chunk.NewRowChunk(schema, 4)
		Ω(cc.Put(0, 8, row)).ShouldNot(BeNil())

		other := chunk.NewSchema(9, []chunk.Column{{Name: "id", Type: chunk.Int64}})
		Ω(cc.Put(0, 8, chunk.NewColumnChunk(other, 4))).ShouldNot(BeNil())
	})

	ginkgo.It("invalidates entries and tracks compressed size", func() {
		cc := NewColumnCache(schema, 8)
		Ω(cc.Put(0, 8, columnChunkOf(schema, 50))).Should(BeNil())
		Ω(cc.Len()).Should(Equal(1))
		Ω(cc.CompressedBytes()).Should(BeNumerically(">", 0))

		cc.Invalidate(0, 8)
		Ω(cc.Len()).Should(Equal(0))
		_, _, ok := cc.TryGetChunk(0, 8)
		Ω(ok).Should(BeFalse())
	})

	ginkgo.It("keeps distinct entries for distinct tail lengths", func() {
		cc := NewColumnCache(schema, 8)
		Ω(cc.Put(0, 8, columnChunkOf(schema, 80))).Should(BeNil())
		Ω(cc.Put(0, 5, columnChunkOf(schema, 50))).Should(BeNil())

		full, _, ok := cc.TryGetChunk(0, 8)
		Ω(ok).Should(BeTrue())
		Ω(full.Items()).Should(Equal(80))
		tail, _, ok := cc.TryGetChunk(0, 5)
		Ω(ok).Should(BeTrue())
		Ω(tail.Items()).Should(Equal(50))
	})
})
