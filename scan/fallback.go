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
	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/codegen"
	"github.com/uber/gpuscan/expr"
	"github.com/uber/gpuscan/utils"
)

// Fallback re-evaluates predicate and projection on the host, against
// the original tuple representation of a task's input chunk. Rows it
// rejects are counted into the shared rows filtered statistic exactly
// like rows the device rejected.
type Fallback struct {
	schema *chunk.Schema
	pred   expr.Expr
	// the projection as the caller wrote it, before any device layout
	// rewrite
	proj   []codegen.OutputColumn
	params map[string]expr.Value
	state  *SharedScanState
}

// NewFallback creates the host re-evaluator for one scan.
func NewFallback(schema *chunk.Schema, pred expr.Expr, proj []codegen.OutputColumn,
	params map[string]expr.Value, state *SharedScanState) *Fallback {
	return &Fallback{
		schema: schema,
		pred:   pred,
		proj:   proj,
		params: params,
		state:  state,
	}
}

// cursor starts a pull over one input chunk.
func (f *Fallback) cursor(src *chunk.Chunk) *fallbackCursor {
	return &fallbackCursor{f: f, src: src}
}

type fallbackCursor struct {
	f   *Fallback
	src *chunk.Chunk
	row int
}

// rowResolver resolves column references for one tuple: user columns
// first, then bound parameters, then system columns.
type rowResolver struct {
	schema *chunk.Schema
	vals   []expr.Value
	params map[string]expr.Value
	row    int
}

func (r *rowResolver) ColumnValue(name string) (expr.Value, bool) {
	if colID, ok := r.schema.ColumnID(name); ok {
		return r.vals[colID], true
	}
	if v, ok := r.params[name]; ok {
		return v, true
	}
	if sysID, ok := chunk.SystemColumnID(name); ok {
		switch sysID {
		case chunk.SysColRowID:
			return expr.IntValue(int64(r.row)), true
		case chunk.SysColTableID:
			return expr.IntValue(int64(r.schema.TableID)), true
		}
	}
	return expr.NullValue(), false
}

// Next re-evaluates tuples until one passes the predicate, then applies
// the projection and returns the output tuple. ok is false once the
// input chunk is exhausted.
func (c *fallbackCursor) Next() ([]expr.Value, bool, error) {
	for c.row < c.src.Items() {
		row := c.row
		c.row++

		vals, err := c.src.TupleValues(row)
		if err != nil {
			return nil, false, err
		}
		res := &rowResolver{schema: c.f.schema, vals: vals, params: c.f.params, row: row}

		if c.f.pred != nil {
			pass, err := expr.EvaluateBool(c.f.pred, res)
			if err != nil {
				return nil, false, utils.StackError(err, "re-evaluating predicate on row %d", row)
			}
			if !pass {
				c.f.state.AddRowsFiltered(1)
				continue
			}
		}

		if len(c.f.proj) == 0 {
			return vals, true, nil
		}
		out := make([]expr.Value, len(c.f.proj))
		for j, oc := range c.f.proj {
			if out[j], err = expr.Evaluate(oc.Expr, res); err != nil {
				return nil, false, utils.StackError(err, "re-evaluating output %s on row %d", oc.Name, row)
			}
		}
		return out, true, nil
	}
	return nil, false, nil
}
