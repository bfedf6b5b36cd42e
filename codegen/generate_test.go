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
	"strings"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/expr"
)

func scanSchema() *chunk.Schema {
	return chunk.NewSchema(7, []chunk.Column{
		{Name: "id", Type: chunk.Int64},
		{Name: "age", Type: chunk.Int32},
		{Name: "score", Type: chunk.Float64, Nullable: true},
		{Name: "name", Type: chunk.Text, Nullable: true},
	})
}

func mustParse(s string) expr.Expr {
	e, err := expr.ParseExpr(s)
	Ω(err).Should(BeNil())
	return e
}

var _ = ginkgo.Describe("code generation", func() {

	ginkgo.It("emits a direct offset seek for a single referenced attribute", func() {
		src, err := Generate(mustParse("age > 30"), nil, scanSchema(), Options{})
		Ω(err).Should(BeNil())

		Ω(src.Text).Should(ContainSubstring("gpuscan_quals_row"))
		Ω(src.Text).Should(ContainSubstring("gpuscan_quals_block"))
		Ω(src.Text).Should(ContainSubstring("gpuscan_quals_column"))
		Ω(src.Text).Should(ContainSubstring("kern_get_datum_tuple(kds->colmeta,htup,1)"))
		Ω(src.Text).ShouldNot(ContainSubstring("EXTRACT_HEAP_TUPLE_BEGIN"))
		Ω(src.Text).Should(ContainSubstring("EVAL((KVAR_2 > 30))"))

		Ω(src.Bindings).Should(HaveLen(1))
		Ω(src.Bindings[0]).Should(Equal(Binding{Name: "age", AttrNo: 2, Type: chunk.Int32, KVar: "KVAR_2"}))
		Ω(src.HasProjection()).Should(BeFalse())
	})

	ginkgo.It("emits one forward pass over ascending attributes for multiple references", func() {
		src, err := Generate(mustParse("score > 1.5 AND age > 30"), nil, scanSchema(), Options{})
		Ω(err).Should(BeNil())

		Ω(src.Text).Should(ContainSubstring("EXTRACT_HEAP_TUPLE_BEGIN"))
		Ω(src.Text).Should(ContainSubstring("EXTRACT_HEAP_TUPLE_NEXT"))
		Ω(src.Text).Should(ContainSubstring("EXTRACT_HEAP_TUPLE_END"))
		// age (attr 2) is declared and loaded before score (attr 3)
		// even though score appears first in the predicate.
		ageDecl := "pg_int4_t KVAR_2"
		scoreDecl := "pg_float8_t KVAR_3"
		Ω(src.Text).Should(ContainSubstring(ageDecl))
		Ω(src.Text).Should(ContainSubstring(scoreDecl))
		Ω(strings.Index(src.Text, ageDecl)).Should(BeNumerically("<", strings.Index(src.Text, scoreDecl)))
	})

	ginkgo.It("generates a constant true predicate when no predicate is given", func() {
		src, err := Generate(nil, nil, scanSchema(), Options{})
		Ω(err).Should(BeNil())
		Ω(src.Text).Should(ContainSubstring("return true;"))
		Ω(src.Bindings).Should(BeEmpty())
		Ω(src.HasProjection()).Should(BeFalse())
	})

	ginkgo.It("binds query parameters in first use order", func() {
		src, err := Generate(mustParse("age > min_age AND score < max_score"), nil, scanSchema(), Options{
			Params: map[string]expr.Value{
				"min_age":   expr.IntValue(30),
				"max_score": expr.FloatValue(9.5),
			},
		})
		Ω(err).Should(BeNil())
		Ω(src.ParamNames).Should(Equal([]string{"min_age", "max_score"}))
		Ω(src.Text).Should(ContainSubstring("KPARAM_0 = pg_int8_param(kcxt,0)"))
		Ω(src.Text).Should(ContainSubstring("KPARAM_1 = pg_float8_param(kcxt,1)"))
	})

	ginkgo.It("generates projection functions for all three layouts", func() {
		src, err := Generate(mustParse("age > 30"), []OutputColumn{
			{Name: "name", Expr: mustParse("name")},
			{Name: "double_score", Expr: mustParse("score * 2")},
		}, scanSchema(), Options{})
		Ω(err).Should(BeNil())

		Ω(src.Text).Should(ContainSubstring("gpuscan_proj_row"))
		Ω(src.Text).Should(ContainSubstring("gpuscan_proj_block"))
		Ω(src.Text).Should(ContainSubstring("gpuscan_proj_column"))
		Ω(src.Text).Should(ContainSubstring("tup_values[0]"))
		Ω(src.Text).Should(ContainSubstring("TEMP_1"))
		Ω(src.Text).Should(ContainSubstring("tup_extra"))

		Ω(src.HasProjection()).Should(BeTrue())
		proj := src.ProjectionSchema()
		Ω(proj.Columns).Should(HaveLen(2))
		Ω(proj.Columns[0]).Should(Equal(chunk.Column{Name: "name", Type: chunk.Text, Nullable: true}))
		Ω(proj.Columns[1]).Should(Equal(chunk.Column{Name: "double_score", Type: chunk.Float64, Nullable: true}))
	})

	ginkgo.It("special cases system columns in projections", func() {
		src, err := Generate(nil, []OutputColumn{
			{Name: "rowid", Expr: mustParse("rowid")},
			{Name: "id", Expr: mustParse("id")},
		}, scanSchema(), Options{})
		Ω(err).Should(BeNil())
		Ω(src.Text).Should(ContainSubstring("PointerGetDatum(t_self)"))
	})

	ginkgo.It("rejects system columns in a predicate", func() {
		_, err := Generate(mustParse("rowid > 10"), nil, scanSchema(), Options{})
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("fails generation on expressions the device cannot evaluate", func() {
		// String ordering needs host collation.
		_, err := Generate(mustParse("name < 'bob'"), nil, scanSchema(), Options{})
		Ω(err).ShouldNot(BeNil())

		// Unknown function.
		_, err = Generate(mustParse("substr(name, 1) = 'b'"), nil, scanSchema(), Options{})
		Ω(err).ShouldNot(BeNil())

		// Unknown column.
		_, err = Generate(mustParse("salary > 10"), nil, scanSchema(), Options{})
		Ω(err).ShouldNot(BeNil())

		// Unsupported projection expression fails the whole generation.
		_, err = Generate(mustParse("age > 30"), []OutputColumn{
			{Name: "u", Expr: mustParse("upper(name)")},
		}, scanSchema(), Options{})
		Ω(err).ShouldNot(BeNil())
	})
})
