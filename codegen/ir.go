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

// Package codegen turns a device evaluable predicate and projection into
// kernel source text plus an executable program. The expression tree is
// first lowered into a typed intermediate representation with an explicit
// symbol table; text emission and closure compilation are both
// serializations of that IR, never of the raw tree.
package codegen

import (
	"fmt"
	"sort"

	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/expr"
	"github.com/uber/gpuscan/utils"
)

// Variable is one referenced source attribute. AttrNo is 1 based;
// system columns carry their negative attribute number and no column id.
type Variable struct {
	Name     string
	AttrNo   int
	ColumnID int
	Type     chunk.DataType
	KVar     string
}

// symbolTable collects the variables and parameters a predicate and
// projection reference. IR nodes point at entries by index, so entries
// keep their insertion order; emission sorts its own view by attribute.
type symbolTable struct {
	vars       []Variable
	varIdx     map[string]int
	params     []string
	paramTypes []expr.Type
	paramIdx   map[string]int
}

func newSymbolTable() *symbolTable {
	return &symbolTable{
		varIdx:   make(map[string]int),
		paramIdx: make(map[string]int),
	}
}

func (st *symbolTable) addVar(name string, s *chunk.Schema) (int, error) {
	if idx, ok := st.varIdx[name]; ok {
		return idx, nil
	}
	v := Variable{Name: name}
	if colID, ok := s.ColumnID(name); ok {
		v.ColumnID = colID
		v.AttrNo = colID + 1
		v.Type = s.Columns[colID].Type
	} else if sysNo, ok := chunk.SystemColumnID(name); ok {
		v.ColumnID = -1
		v.AttrNo = sysNo
		v.Type = chunk.Int64
	} else {
		return 0, utils.StackError(nil, "unknown column %s", name)
	}
	v.KVar = fmt.Sprintf("KVAR_%d", v.AttrNo)
	idx := len(st.vars)
	st.vars = append(st.vars, v)
	st.varIdx[name] = idx
	return idx, nil
}

func (st *symbolTable) addParam(name string, t expr.Type) int {
	if idx, ok := st.paramIdx[name]; ok {
		return idx
	}
	idx := len(st.params)
	st.params = append(st.params, name)
	st.paramTypes = append(st.paramTypes, t)
	st.paramIdx[name] = idx
	return idx
}

// sortedUserVars returns the referenced non system variables in
// ascending attribute order, for the emitted forward pass.
func (st *symbolTable) sortedUserVars() []Variable {
	vars := st.userVars()
	sort.Slice(vars, func(i, j int) bool {
		return vars[i].AttrNo < vars[j].AttrNo
	})
	return vars
}

// userVars returns the referenced non system variables.
func (st *symbolTable) userVars() []Variable {
	vars := make([]Variable, 0, len(st.vars))
	for _, v := range st.vars {
		if v.AttrNo > 0 {
			vars = append(vars, v)
		}
	}
	return vars
}

type irOp int

const (
	irConst irOp = iota
	irVar
	irParam
	irUnary
	irBinary
	irCall
	irCastFloat
)

// irNode is one typed IR node. The static type drives both the emitted
// temporary's device type and the operator specialization picked at
// closure compile time.
type irNode struct {
	op    irOp
	token expr.Token
	typ   expr.Type
	val   expr.Value
	sym   int
	fn    string
	args  []*irNode
}

type irBuilder struct {
	schema *chunk.Schema
	params map[string]expr.Value
	st     *symbolTable
	// system columns are legal in projections but never in a predicate.
	allowSystem bool
}

func (b *irBuilder) build(e expr.Expr) (*irNode, error) {
	switch n := e.(type) {
	case *expr.NumberLiteral:
		if n.ExprType == expr.Float {
			return &irNode{op: irConst, typ: expr.Float, val: expr.FloatValue(n.Val)}, nil
		}
		return &irNode{op: irConst, typ: expr.Signed, val: expr.IntValue(int64(n.Int))}, nil
	case *expr.StringLiteral:
		return &irNode{op: irConst, typ: expr.Str, val: expr.StringValue(n.Val)}, nil
	case *expr.BooleanLiteral:
		return &irNode{op: irConst, typ: expr.Boolean, val: expr.BoolValue(n.Val)}, nil
	case *expr.NullLiteral:
		return &irNode{op: irConst, typ: expr.UnknownType, val: expr.NullValue()}, nil
	case *expr.VarRef:
		return b.buildVarRef(n)
	case *expr.ParenExpr:
		inner, err := b.build(n.Expr)
		if err != nil {
			return nil, err
		}
		if n.ExprType == expr.Float && inner.typ != expr.Float {
			if !isNumericType(inner.typ) {
				return nil, utils.StackError(nil, "cannot cast %s to float", inner.typ)
			}
			return &irNode{op: irCastFloat, typ: expr.Float, args: []*irNode{inner}}, nil
		}
		return inner, nil
	case *expr.UnaryExpr:
		return b.buildUnary(n)
	case *expr.BinaryExpr:
		return b.buildBinary(n)
	case *expr.Call:
		return b.buildCall(n)
	}
	return nil, utils.StackError(nil, "expression node %T not supported on device", e)
}

func (b *irBuilder) buildVarRef(n *expr.VarRef) (*irNode, error) {
	if v, ok := b.params[n.Val]; ok {
		if _, isColumn := b.schema.ColumnID(n.Val); !isColumn {
			return &irNode{op: irParam, typ: v.Kind, sym: b.st.addParam(n.Val, v.Kind)}, nil
		}
	}
	if sysNo, ok := chunk.SystemColumnID(n.Val); ok && !b.allowSystem {
		return nil, utils.StackError(nil, "system column %s (attr %d) not allowed in a device predicate", n.Val, sysNo)
	}
	idx, err := b.st.addVar(n.Val, b.schema)
	if err != nil {
		return nil, err
	}
	return &irNode{op: irVar, typ: chunk.ToExprType(b.st.vars[idx].Type), sym: idx}, nil
}

func (b *irBuilder) buildUnary(n *expr.UnaryExpr) (*irNode, error) {
	arg, err := b.build(n.Expr)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case expr.NOT, expr.EXCLAMATION:
		if arg.typ != expr.Boolean && arg.typ != expr.UnknownType {
			return nil, utils.StackError(nil, "operator %s requires a boolean operand", n.Op)
		}
		return &irNode{op: irUnary, token: n.Op, typ: expr.Boolean, args: []*irNode{arg}}, nil
	case expr.UNARY_MINUS:
		if !isNumericType(arg.typ) {
			return nil, utils.StackError(nil, "operator - requires a numeric operand")
		}
		return &irNode{op: irUnary, token: n.Op, typ: arg.typ, args: []*irNode{arg}}, nil
	case expr.IS_NULL, expr.IS_NOT_NULL, expr.IS_TRUE, expr.IS_FALSE:
		return &irNode{op: irUnary, token: n.Op, typ: expr.Boolean, args: []*irNode{arg}}, nil
	}
	return nil, utils.StackError(nil, "unary operator %s not supported on device", n.Op)
}

func (b *irBuilder) buildBinary(n *expr.BinaryExpr) (*irNode, error) {
	lhs, err := b.build(n.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := b.build(n.RHS)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case expr.AND, expr.OR:
		return &irNode{op: irBinary, token: n.Op, typ: expr.Boolean, args: []*irNode{lhs, rhs}}, nil
	case expr.EQ, expr.NEQ:
		return &irNode{op: irBinary, token: n.Op, typ: expr.Boolean, args: []*irNode{lhs, rhs}}, nil
	case expr.LT, expr.LTE, expr.GT, expr.GTE:
		// String ordering depends on host collation rules; only
		// equality is decided on device.
		if lhs.typ == expr.Str || rhs.typ == expr.Str {
			return nil, utils.StackError(nil, "string comparison %s not supported on device", n.Op)
		}
		return &irNode{op: irBinary, token: n.Op, typ: expr.Boolean, args: []*irNode{lhs, rhs}}, nil
	case expr.ADD, expr.SUB, expr.MUL, expr.DIV:
		if !isNumericType(lhs.typ) || !isNumericType(rhs.typ) {
			return nil, utils.StackError(nil, "operator %s requires numeric operands", n.Op)
		}
		return &irNode{op: irBinary, token: n.Op, typ: arithType(lhs.typ, rhs.typ), args: []*irNode{lhs, rhs}}, nil
	case expr.MOD:
		if lhs.typ == expr.Float || rhs.typ == expr.Float {
			return nil, utils.StackError(nil, "float modulo not supported on device")
		}
		if !isNumericType(lhs.typ) || !isNumericType(rhs.typ) {
			return nil, utils.StackError(nil, "operator %% requires integer operands")
		}
		return &irNode{op: irBinary, token: n.Op, typ: expr.Signed, args: []*irNode{lhs, rhs}}, nil
	}
	return nil, utils.StackError(nil, "binary operator %s not supported on device", n.Op)
}

func (b *irBuilder) buildCall(n *expr.Call) (*irNode, error) {
	if len(n.Args) != 1 {
		return nil, utils.StackError(nil, "function %s with %d args not supported on device", n.Name, len(n.Args))
	}
	arg, err := b.build(n.Args[0])
	if err != nil {
		return nil, err
	}
	switch n.Name {
	case expr.AbsCallName:
		if !isNumericType(arg.typ) {
			return nil, utils.StackError(nil, "abs requires a numeric operand")
		}
		return &irNode{op: irCall, fn: n.Name, typ: arg.typ, args: []*irNode{arg}}, nil
	case expr.LengthCallName:
		if arg.typ != expr.Str {
			return nil, utils.StackError(nil, "length requires a string operand")
		}
		return &irNode{op: irCall, fn: n.Name, typ: expr.Signed, args: []*irNode{arg}}, nil
	}
	return nil, utils.StackError(nil, "function %s not supported on device", n.Name)
}

func isNumericType(t expr.Type) bool {
	return t == expr.Signed || t == expr.Unsigned || t == expr.Float || t == expr.UnknownType
}

func arithType(a, b expr.Type) expr.Type {
	if a == expr.Float || b == expr.Float {
		return expr.Float
	}
	return expr.Signed
}

// outputType maps an IR result type to the physical type of a computed
// destination column.
func outputType(t expr.Type) (chunk.DataType, error) {
	switch t {
	case expr.Boolean:
		return chunk.Bool, nil
	case expr.Signed, expr.Unsigned:
		return chunk.Int64, nil
	case expr.Float:
		return chunk.Float64, nil
	case expr.Str:
		return chunk.Text, nil
	}
	return chunk.Unknown, utils.StackError(nil, "cannot materialize a column of type %s", t)
}
