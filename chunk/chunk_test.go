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

package chunk

import (
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/uber/gpuscan/expr"
)

var _ = ginkgo.Describe("row chunk", func() {

	ginkgo.It("appends tuples up to capacity", func() {
		s := personSchema()
		c := NewRowChunk(s, 2)
		Ω(c.Format()).Should(Equal(FormatRow))

		Ω(c.AppendTuple(personTuple(1, 20, 1.5, "a", true))).Should(BeNil())
		Ω(c.AppendTuple(personTuple(2, 30, 2.5, "b", false))).Should(BeNil())
		Ω(c.Items()).Should(Equal(2))

		err := c.AppendTuple(personTuple(3, 40, 3.5, "c", true))
		Ω(err).Should(Equal(ErrChunkFull))
		Ω(c.Items()).Should(Equal(2))
	})

	ginkgo.It("enforces the byte budget of a destination chunk", func() {
		s := personSchema()
		raw, err := EncodeTuple(s, personTuple(1, 20, 1.5, "a", true))
		Ω(err).Should(BeNil())

		// Room for exactly two encoded tuples, far below the row capacity.
		c := NewDestinationChunk(s, 100, 2*len(raw))
		Ω(c.AppendRawTuple(raw)).Should(BeNil())
		Ω(c.AppendRawTuple(raw)).Should(BeNil())
		Ω(c.AppendRawTuple(raw)).Should(Equal(ErrChunkFull))
		Ω(c.Items()).Should(Equal(2))
		Ω(c.BytesUsed()).Should(Equal(2 * len(raw)))
	})

	ginkgo.It("decodes tuples back out", func() {
		s := personSchema()
		c := NewRowChunk(s, 4)
		want := personTuple(11, 22, 33.5, "dd", false)
		Ω(c.AppendTuple(want)).Should(BeNil())

		got, err := c.TupleValues(0)
		Ω(err).Should(BeNil())
		Ω(got).Should(Equal(want))

		_, err = c.TupleValues(1)
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("round trips through a flat image", func() {
		s := personSchema()
		c := NewRowChunk(s, 4)
		Ω(c.AppendTuple(personTuple(1, 20, 1.5, "a", true))).Should(BeNil())
		Ω(c.AppendTuple(personTuple(2, 30, 2.5, "b", false))).Should(BeNil())

		clone, err := UnmarshalChunk(s, c.Marshal())
		Ω(err).Should(BeNil())
		Ω(clone.Format()).Should(Equal(FormatRow))
		Ω(clone.Items()).Should(Equal(2))
		for i := 0; i < 2; i++ {
			want, _ := c.TupleValues(i)
			got, err := clone.TupleValues(i)
			Ω(err).Should(BeNil())
			Ω(got).Should(Equal(want))
		}
	})
})

var _ = ginkgo.Describe("block chunk", func() {

	pageWithTuples := func(s *Schema, ids ...int64) *Page {
		p := NewPage()
		for _, id := range ids {
			raw, err := EncodeTuple(s, personTuple(id, 20, 0, "", true))
			Ω(err).Should(BeNil())
			Ω(p.AddTuple(raw)).Should(BeTrue())
		}
		return p
	}

	ginkgo.It("counts items across resident pages only", func() {
		s := personSchema()
		c := NewBlockChunk(s, 4)
		Ω(c.AddPage(10, pageWithTuples(s, 1, 2))).Should(BeNil())
		Ω(c.AddPendingBlock(11)).Should(BeNil())
		Ω(c.AddPage(12, pageWithTuples(s, 3))).Should(BeNil())

		Ω(c.NumBlocks()).Should(Equal(3))
		Ω(c.NumResidentBlocks()).Should(Equal(2))
		Ω(c.Items()).Should(Equal(3))
	})

	ginkgo.It("moves resident blocks to the front of the index", func() {
		s := personSchema()
		c := NewBlockChunk(s, 5)
		Ω(c.AddPendingBlock(20)).Should(BeNil())
		Ω(c.AddPage(21, pageWithTuples(s, 1))).Should(BeNil())
		Ω(c.AddPendingBlock(22)).Should(BeNil())
		Ω(c.AddPage(23, pageWithTuples(s, 2))).Should(BeNil())

		Ω(c.CompactBlockIndex()).Should(Equal(2))
		Ω(c.BlockNumber(0)).Should(Equal(uint32(21)))
		Ω(c.BlockNumber(1)).Should(Equal(uint32(23)))
		Ω(c.BlockNumber(2)).Should(Equal(uint32(20)))
		Ω(c.BlockNumber(3)).Should(Equal(uint32(22)))
		Ω(c.PageAt(0)).ShouldNot(BeNil())
		Ω(c.PageAt(2)).Should(BeNil())
	})

	ginkgo.It("makes pending blocks visible once their page arrives", func() {
		s := personSchema()
		c := NewBlockChunk(s, 2)
		Ω(c.AddPendingBlock(5)).Should(BeNil())
		Ω(c.Items()).Should(Equal(0))

		c.SetPage(0, pageWithTuples(s, 7, 8))
		Ω(c.NumResidentBlocks()).Should(Equal(1))
		Ω(c.Items()).Should(Equal(2))

		vals, err := c.TupleValues(1)
		Ω(err).Should(BeNil())
		Ω(vals[0]).Should(Equal(expr.IntValue(8)))
	})

	ginkgo.It("maps flat positions to block locators", func() {
		s := personSchema()
		c := NewBlockChunk(s, 3)
		Ω(c.AddPage(30, pageWithTuples(s, 1, 2))).Should(BeNil())
		Ω(c.AddPendingBlock(31)).Should(BeNil())
		Ω(c.AddPage(32, pageWithTuples(s, 3))).Should(BeNil())

		loc, ok := c.Locate(2)
		Ω(ok).Should(BeTrue())
		Ω(loc).Should(Equal(Locator{Block: 32, Offset: 0}))

		_, ok = c.Locate(3)
		Ω(ok).Should(BeFalse())
	})

	ginkgo.It("round trips through a flat image, pending blocks included", func() {
		s := personSchema()
		c := NewBlockChunk(s, 3)
		Ω(c.AddPage(40, pageWithTuples(s, 1, 2))).Should(BeNil())
		Ω(c.AddPendingBlock(41)).Should(BeNil())

		clone, err := UnmarshalChunk(s, c.Marshal())
		Ω(err).Should(BeNil())
		Ω(clone.NumBlocks()).Should(Equal(2))
		Ω(clone.NumResidentBlocks()).Should(Equal(1))
		Ω(clone.Items()).Should(Equal(2))
		Ω(clone.BlockNumber(1)).Should(Equal(uint32(41)))
		Ω(clone.PageAt(1)).Should(BeNil())

		vals, err := clone.TupleValues(0)
		Ω(err).Should(BeNil())
		Ω(vals[0]).Should(Equal(expr.IntValue(1)))
	})
})

var _ = ginkgo.Describe("column chunk", func() {

	ginkgo.It("stores values per column", func() {
		s := personSchema()
		c := NewColumnChunk(s, 3)
		Ω(c.Format()).Should(Equal(FormatColumn))

		Ω(c.AppendRow(personTuple(1, 20, 1.5, "a", true))).Should(BeNil())
		Ω(c.AppendRow([]expr.Value{
			expr.IntValue(2), expr.IntValue(30), expr.NullValue(), expr.NullValue(), expr.BoolValue(false),
		})).Should(BeNil())

		Ω(c.Items()).Should(Equal(2))
		Ω(c.ColumnValue(0, 1)).Should(Equal(expr.IntValue(2)))
		Ω(c.ColumnValue(3, 0)).Should(Equal(expr.StringValue("a")))
		Ω(c.ColumnValue(2, 1).Null).Should(BeTrue())
		Ω(c.Column(3).IsNull(1)).Should(BeTrue())
	})

	ginkgo.It("rejects rows past capacity and bad arity", func() {
		s := personSchema()
		c := NewColumnChunk(s, 1)
		Ω(c.AppendRow(personTuple(1, 20, 1.5, "a", true))).Should(BeNil())
		Ω(c.AppendRow(personTuple(2, 30, 2.5, "b", true))).Should(Equal(ErrChunkFull))

		c = NewColumnChunk(s, 2)
		Ω(c.AppendRow([]expr.Value{expr.IntValue(1)})).ShouldNot(BeNil())
	})

	ginkgo.It("rejects null for a non nullable column", func() {
		s := personSchema()
		c := NewColumnChunk(s, 1)
		row := personTuple(1, 20, 1.5, "a", true)
		row[1] = expr.NullValue()
		Ω(c.AppendRow(row)).ShouldNot(BeNil())
		Ω(c.Items()).Should(Equal(0))
	})

	ginkgo.It("round trips through a flat image", func() {
		s := personSchema()
		c := NewColumnChunk(s, 4)
		Ω(c.AppendRow(personTuple(1, 20, 1.5, "aa", true))).Should(BeNil())
		Ω(c.AppendRow([]expr.Value{
			expr.IntValue(2), expr.IntValue(30), expr.NullValue(), expr.StringValue("bbb"), expr.BoolValue(false),
		})).Should(BeNil())

		clone, err := UnmarshalChunk(s, c.Marshal())
		Ω(err).Should(BeNil())
		Ω(clone.Items()).Should(Equal(2))
		for i := 0; i < 2; i++ {
			want, _ := c.TupleValues(i)
			got, err := clone.TupleValues(i)
			Ω(err).Should(BeNil())
			Ω(got).Should(Equal(want))
		}
	})

	ginkgo.It("rejects an image for a different table", func() {
		s := personSchema()
		c := NewRowChunk(s, 1)
		other := NewSchema(2, s.Columns)
		_, err := UnmarshalChunk(other, c.Marshal())
		Ω(err).ShouldNot(BeNil())
	})
})
