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

func personSchema() *Schema {
	return NewSchema(1, []Column{
		{Name: "id", Type: Int64},
		{Name: "age", Type: Int32},
		{Name: "score", Type: Float64, Nullable: true},
		{Name: "name", Type: Text, Nullable: true},
		{Name: "active", Type: Bool},
	})
}

func personTuple(id, age int64, score float64, name string, active bool) []expr.Value {
	return []expr.Value{
		expr.IntValue(id),
		expr.IntValue(age),
		expr.FloatValue(score),
		expr.StringValue(name),
		expr.BoolValue(active),
	}
}

var _ = ginkgo.Describe("tuple codec", func() {

	ginkgo.It("round trips a full tuple", func() {
		s := personSchema()
		vals := personTuple(42, 31, 87.5, "alice", true)
		raw, err := EncodeTuple(s, vals)
		Ω(err).Should(BeNil())

		decoded, err := DecodeTuple(s, raw)
		Ω(err).Should(BeNil())
		Ω(decoded).Should(Equal(vals))
	})

	ginkgo.It("round trips nulls in nullable columns", func() {
		s := personSchema()
		vals := []expr.Value{
			expr.IntValue(7),
			expr.IntValue(64),
			expr.NullValue(),
			expr.NullValue(),
			expr.BoolValue(false),
		}
		raw, err := EncodeTuple(s, vals)
		Ω(err).Should(BeNil())

		decoded, err := DecodeTuple(s, raw)
		Ω(err).Should(BeNil())
		Ω(decoded[2].Null).Should(BeTrue())
		Ω(decoded[3].Null).Should(BeTrue())
		Ω(decoded[0]).Should(Equal(vals[0]))
		Ω(decoded[4]).Should(Equal(vals[4]))
	})

	ginkgo.It("rejects null in a non nullable column", func() {
		s := personSchema()
		vals := personTuple(1, 1, 0, "", true)
		vals[0] = expr.NullValue()
		_, err := EncodeTuple(s, vals)
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("decodes single columns the same as a full decode", func() {
		s := personSchema()
		vals := personTuple(9, 45, -3.25, "bob", false)
		raw, err := EncodeTuple(s, vals)
		Ω(err).Should(BeNil())

		full, err := DecodeTuple(s, raw)
		Ω(err).Should(BeNil())
		for colID := range s.Columns {
			v, err := DecodeColumn(s, raw, colID)
			Ω(err).Should(BeNil())
			Ω(v).Should(Equal(full[colID]))
		}
	})

	ginkgo.It("uses direct offsets only up to the first nullable column", func() {
		s := personSchema()
		_, ok := s.FixedOffset(0)
		Ω(ok).Should(BeTrue())
		_, ok = s.FixedOffset(1)
		Ω(ok).Should(BeTrue())
		// score is nullable, so it and everything after it need a scan.
		_, ok = s.FixedOffset(3)
		Ω(ok).Should(BeFalse())
		_, ok = s.FixedOffset(4)
		Ω(ok).Should(BeFalse())
	})

	ginkgo.It("fails on a truncated buffer", func() {
		s := personSchema()
		raw, err := EncodeTuple(s, personTuple(1, 2, 3, "four", true))
		Ω(err).Should(BeNil())
		_, err = DecodeTuple(s, raw[:len(raw)-3])
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("coerces integer values into float columns", func() {
		s := personSchema()
		vals := personTuple(1, 2, 0, "", true)
		vals[2] = expr.IntValue(10)
		raw, err := EncodeTuple(s, vals)
		Ω(err).Should(BeNil())

		v, err := DecodeColumn(s, raw, 2)
		Ω(err).Should(BeNil())
		Ω(v).Should(Equal(expr.FloatValue(10)))
	})
})
