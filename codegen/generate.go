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
	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/expr"
	"github.com/uber/gpuscan/utils"
)

// OutputColumn is one projected destination column.
type OutputColumn struct {
	Name string
	Expr expr.Expr
}

// Options carries the per scan session inputs of code generation.
type Options struct {
	// Params maps parameter names appearing in the predicate or
	// projection to the query constants bound at plan time.
	Params map[string]expr.Value
}

// Binding is one referenced variable, as exposed to callers inspecting
// the generated program.
type Binding struct {
	Name   string
	AttrNo int
	Type   chunk.DataType
	KVar   string
}

// outputIR is one projection column after lowering: either a direct
// copy of a source attribute or a computed expression with its own
// typed temporary.
type outputIR struct {
	name     string
	direct   bool
	varIdx   int
	node     *irNode
	typ      chunk.DataType
	nullable bool
}

// KernelSource is the output of code generation: the kernel text, the
// variable binding table, and the lowered IR the program compiler and
// the text emitter both consumed.
type KernelSource struct {
	Text       string
	Bindings   []Binding
	ParamNames []string

	schema     *chunk.Schema
	projSchema *chunk.Schema
	pred       *irNode
	outputs    []outputIR
	st         *symbolTable
}

// HasProjection reports whether the program materializes a destination
// chunk. Without one the scan is a pure filter over source tuples.
func (s *KernelSource) HasProjection() bool {
	return s.projSchema != nil
}

// ProjectionSchema returns the destination tuple layout, or nil for
// passthrough.
func (s *KernelSource) ProjectionSchema() *chunk.Schema {
	return s.projSchema
}

// SourceSchema returns the source tuple layout the program was
// generated against.
func (s *KernelSource) SourceSchema() *chunk.Schema {
	return s.schema
}

// Generate lowers a predicate and projection into kernel source. A nil
// predicate always evaluates true; an empty projection list means the
// tuple is emitted unchanged and no projection body is generated.
// Offering an expression the device cannot evaluate is a caller bug and
// fails generation outright.
func Generate(pred expr.Expr, proj []OutputColumn, schema *chunk.Schema, opts Options) (*KernelSource, error) {
	st := newSymbolTable()
	src := &KernelSource{schema: schema, st: st}

	if pred != nil {
		b := &irBuilder{schema: schema, params: opts.Params, st: st}
		node, err := b.build(pred)
		if err != nil {
			return nil, utils.StackError(err, "predicate not device evaluable")
		}
		src.pred = node
	}

	if len(proj) > 0 {
		b := &irBuilder{schema: schema, params: opts.Params, st: st, allowSystem: true}
		cols := make([]chunk.Column, 0, len(proj))
		for _, out := range proj {
			o, err := lowerOutput(out, b)
			if err != nil {
				return nil, err
			}
			src.outputs = append(src.outputs, o)
			cols = append(cols, chunk.Column{Name: o.name, Type: o.typ, Nullable: o.nullable})
		}
		src.projSchema = chunk.NewSchema(schema.TableID, cols)
	}

	for _, v := range st.vars {
		src.Bindings = append(src.Bindings, Binding{
			Name: v.Name, AttrNo: v.AttrNo, Type: v.Type, KVar: v.KVar,
		})
	}
	src.ParamNames = append(src.ParamNames, st.params...)
	src.Text = emitSource(src)
	return src, nil
}

func lowerOutput(out OutputColumn, b *irBuilder) (outputIR, error) {
	// A bare column reference is a direct load into the destination
	// slot; anything else evaluates into a typed temporary.
	if ref, ok := out.Expr.(*expr.VarRef); ok {
		if _, isParam := b.params[ref.Val]; !isParam {
			node, err := b.buildVarRef(ref)
			if err != nil {
				return outputIR{}, err
			}
			v := b.st.vars[node.sym]
			nullable := false
			if v.ColumnID >= 0 {
				nullable = b.schema.Columns[v.ColumnID].Nullable
			}
			return outputIR{
				name:     out.Name,
				direct:   true,
				varIdx:   node.sym,
				typ:      v.Type,
				nullable: nullable,
			}, nil
		}
	}

	node, err := b.build(out.Expr)
	if err != nil {
		return outputIR{}, utils.StackError(err, "projection %s not device evaluable", out.Name)
	}
	typ, err := outputType(node.typ)
	if err != nil {
		return outputIR{}, utils.StackError(err, "projection %s", out.Name)
	}
	return outputIR{name: out.Name, node: node, typ: typ, nullable: true}, nil
}
