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

package expr

import (
	"fmt"
	"strings"
)

// Value is the result of evaluating an expression on the host against a
// single row. A Value with Null set carries no payload.
type Value struct {
	Null     bool
	Kind     Type
	BoolVal  bool
	IntVal   int64
	FloatVal float64
	StrVal   string
}

// NullValue returns the SQL NULL value.
func NullValue() Value {
	return Value{Null: true}
}

// BoolValue returns a boolean value.
func BoolValue(v bool) Value {
	return Value{Kind: Boolean, BoolVal: v}
}

// IntValue returns a signed integer value.
func IntValue(v int64) Value {
	return Value{Kind: Signed, IntVal: v}
}

// FloatValue returns a floating point value.
func FloatValue(v float64) Value {
	return Value{Kind: Float, FloatVal: v}
}

// StringValue returns a string value.
func StringValue(v string) Value {
	return Value{Kind: Str, StrVal: v}
}

// IsTrue returns whether the value is a non-null boolean true.
func (v Value) IsTrue() bool {
	return !v.Null && v.Kind == Boolean && v.BoolVal
}

// isFalse returns whether the value is a non-null boolean false.
func (v Value) isFalse() bool {
	return !v.Null && v.Kind == Boolean && !v.BoolVal
}

// isNumeric returns whether the value carries a numeric payload.
func (v Value) isNumeric() bool {
	return v.Kind == Signed || v.Kind == Unsigned || v.Kind == Float
}

// float64 coerces a numeric payload to float64.
func (v Value) float64() float64 {
	if v.Kind == Float {
		return v.FloatVal
	}
	return float64(v.IntVal)
}

// ColumnResolver resolves a column reference against the current row.
type ColumnResolver interface {
	ColumnValue(name string) (Value, bool)
}

// ColumnValueMap is a map based ColumnResolver for tests and small scans.
type ColumnValueMap map[string]Value

// ColumnValue returns the value bound to a column name.
func (m ColumnValueMap) ColumnValue(name string) (Value, bool) {
	v, ok := m[name]
	return v, ok
}

// Evaluate evaluates an expression against a single row on the host with
// SQL three-valued logic. A zero divisor yields NULL rather than an error.
func Evaluate(e Expr, row ColumnResolver) (Value, error) {
	switch e := e.(type) {
	case *NumberLiteral:
		if e.ExprType == Float {
			return FloatValue(e.Val), nil
		}
		return IntValue(int64(e.Int)), nil
	case *StringLiteral:
		return StringValue(e.Val), nil
	case *BooleanLiteral:
		return BoolValue(e.Val), nil
	case *NullLiteral:
		return NullValue(), nil
	case *UnknownLiteral:
		return NullValue(), nil
	case *VarRef:
		v, ok := row.ColumnValue(e.Val)
		if !ok {
			return NullValue(), fmt.Errorf("unknown column %s", e.Val)
		}
		return v, nil
	case *ParenExpr:
		return Evaluate(e.Expr, row)
	case *UnaryExpr:
		return evaluateUnary(e, row)
	case *BinaryExpr:
		return evaluateBinary(e, row)
	case *Call:
		return evaluateCall(e, row)
	}
	return NullValue(), fmt.Errorf("cannot evaluate expression %s", e.String())
}

// EvaluateBool evaluates a predicate expression against a single row.
// A NULL predicate result does not qualify the row.
func EvaluateBool(e Expr, row ColumnResolver) (bool, error) {
	if isTrueLiteral(e) {
		return true, nil
	}
	if isFalseLiteral(e) {
		return false, nil
	}
	v, err := Evaluate(e, row)
	if err != nil {
		return false, err
	}
	if v.Null {
		return false, nil
	}
	if v.Kind != Boolean {
		return false, fmt.Errorf("predicate %s is not boolean", e.String())
	}
	return v.BoolVal, nil
}

func evaluateUnary(e *UnaryExpr, row ColumnResolver) (Value, error) {
	v, err := Evaluate(e.Expr, row)
	if err != nil {
		return NullValue(), err
	}

	switch e.Op {
	case IS_NULL:
		return BoolValue(v.Null), nil
	case IS_NOT_NULL:
		return BoolValue(!v.Null), nil
	case IS_TRUE:
		return BoolValue(v.IsTrue()), nil
	case IS_FALSE:
		return BoolValue(v.isFalse()), nil
	}

	// The remaining unary operators propagate NULL.
	if v.Null {
		return NullValue(), nil
	}

	switch e.Op {
	case NOT, EXCLAMATION:
		if v.Kind != Boolean {
			return NullValue(), fmt.Errorf("cannot negate non-boolean %s", e.Expr.String())
		}
		return BoolValue(!v.BoolVal), nil
	case UNARY_MINUS:
		if v.Kind == Float {
			return FloatValue(-v.FloatVal), nil
		}
		if v.isNumeric() {
			return IntValue(-v.IntVal), nil
		}
		return NullValue(), fmt.Errorf("cannot negate non-numeric %s", e.Expr.String())
	}
	return NullValue(), fmt.Errorf("unsupported unary operator %s", e.Op.String())
}

func evaluateBinary(e *BinaryExpr, row ColumnResolver) (Value, error) {
	// AND and OR need three-valued logic instead of plain NULL propagation.
	if e.Op == AND || e.Op == OR {
		return evaluateLogical(e, row)
	}

	l, err := Evaluate(e.LHS, row)
	if err != nil {
		return NullValue(), err
	}
	r, err := Evaluate(e.RHS, row)
	if err != nil {
		return NullValue(), err
	}
	if l.Null || r.Null {
		return NullValue(), nil
	}

	switch e.Op {
	case EQ, NEQ, LT, LTE, GT, GTE:
		cmp, err := compareValues(l, r)
		if err != nil {
			return NullValue(), fmt.Errorf("%v in %s", err, e.String())
		}
		switch e.Op {
		case EQ:
			return BoolValue(cmp == 0), nil
		case NEQ:
			return BoolValue(cmp != 0), nil
		case LT:
			return BoolValue(cmp < 0), nil
		case LTE:
			return BoolValue(cmp <= 0), nil
		case GT:
			return BoolValue(cmp > 0), nil
		case GTE:
			return BoolValue(cmp >= 0), nil
		}
	case ADD, SUB, MUL, DIV, MOD:
		if !l.isNumeric() || !r.isNumeric() {
			return NullValue(), fmt.Errorf("non-numeric operand in %s", e.String())
		}
		if l.Kind == Float || r.Kind == Float {
			return evaluateFloatArith(e.Op, l.float64(), r.float64())
		}
		return evaluateIntArith(e.Op, l.IntVal, r.IntVal)
	}
	return NullValue(), fmt.Errorf("unsupported binary operator %s", e.Op.String())
}

func evaluateLogical(e *BinaryExpr, row ColumnResolver) (Value, error) {
	l, err := Evaluate(e.LHS, row)
	if err != nil {
		return NullValue(), err
	}
	r, err := Evaluate(e.RHS, row)
	if err != nil {
		return NullValue(), err
	}

	if e.Op == AND {
		if l.isFalse() || r.isFalse() {
			return BoolValue(false), nil
		}
		if l.Null || r.Null {
			return NullValue(), nil
		}
		return BoolValue(l.BoolVal && r.BoolVal), nil
	}

	if l.IsTrue() || r.IsTrue() {
		return BoolValue(true), nil
	}
	if l.Null || r.Null {
		return NullValue(), nil
	}
	return BoolValue(l.BoolVal || r.BoolVal), nil
}

// compareValues compares two non-null values.
// Returns a negative, zero or positive int like strings.Compare.
func compareValues(l, r Value) (int, error) {
	if l.Kind == Str && r.Kind == Str {
		return strings.Compare(l.StrVal, r.StrVal), nil
	}
	if l.Kind == Boolean && r.Kind == Boolean {
		lv, rv := 0, 0
		if l.BoolVal {
			lv = 1
		}
		if r.BoolVal {
			rv = 1
		}
		return lv - rv, nil
	}
	if l.isNumeric() && r.isNumeric() {
		if l.Kind != Float && r.Kind != Float {
			switch {
			case l.IntVal < r.IntVal:
				return -1, nil
			case l.IntVal > r.IntVal:
				return 1, nil
			}
			return 0, nil
		}
		lf, rf := l.float64(), r.float64()
		switch {
		case lf < rf:
			return -1, nil
		case lf > rf:
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("mismatched operand types %s and %s", l.Kind, r.Kind)
}

func evaluateIntArith(op Token, l, r int64) (Value, error) {
	switch op {
	case ADD:
		return IntValue(l + r), nil
	case SUB:
		return IntValue(l - r), nil
	case MUL:
		return IntValue(l * r), nil
	case DIV:
		if r == 0 {
			return NullValue(), nil
		}
		return IntValue(l / r), nil
	case MOD:
		if r == 0 {
			return NullValue(), nil
		}
		return IntValue(l % r), nil
	}
	return NullValue(), fmt.Errorf("unsupported arithmetic operator %s", op.String())
}

func evaluateFloatArith(op Token, l, r float64) (Value, error) {
	switch op {
	case ADD:
		return FloatValue(l + r), nil
	case SUB:
		return FloatValue(l - r), nil
	case MUL:
		return FloatValue(l * r), nil
	case DIV:
		if r == 0 {
			return NullValue(), nil
		}
		return FloatValue(l / r), nil
	case MOD:
		return NullValue(), fmt.Errorf("modulo requires integer operands")
	}
	return NullValue(), fmt.Errorf("unsupported arithmetic operator %s", op.String())
}

func evaluateCall(e *Call, row ColumnResolver) (Value, error) {
	if len(e.Args) != 1 {
		return NullValue(), fmt.Errorf("%s takes exactly one argument", e.Name)
	}
	v, err := Evaluate(e.Args[0], row)
	if err != nil {
		return NullValue(), err
	}
	if v.Null {
		return NullValue(), nil
	}

	switch e.Name {
	case AbsCallName:
		if v.Kind == Float {
			if v.FloatVal < 0 {
				return FloatValue(-v.FloatVal), nil
			}
			return FloatValue(v.FloatVal), nil
		}
		if v.isNumeric() {
			if v.IntVal < 0 {
				return IntValue(-v.IntVal), nil
			}
			return IntValue(v.IntVal), nil
		}
		return NullValue(), fmt.Errorf("abs requires a numeric argument")
	case LengthCallName:
		if v.Kind != Str {
			return NullValue(), fmt.Errorf("length requires a string argument")
		}
		return IntValue(int64(len(v.StrVal))), nil
	}
	return NullValue(), fmt.Errorf("unsupported function %s", e.Name)
}

// ColumnTypeResolver resolves a referenced column name to its value type.
// Unknown names resolve to UnknownType.
type ColumnTypeResolver interface {
	ColumnType(name string) Type
}

// ColumnTypes is a map backed ColumnTypeResolver.
type ColumnTypes map[string]Type

// ColumnType returns the type bound to a column name.
func (m ColumnTypes) ColumnType(name string) Type {
	return m[name]
}

// IsDeviceEvaluable reports whether an expression can run inside a generated
// kernel against the given column types. Function calls outside the device
// allow list and string comparisons other than equality must take the host
// path.
func IsDeviceEvaluable(e Expr, types ColumnTypeResolver) bool {
	ok := true
	WalkFunc(e, func(n Expr) {
		switch n := n.(type) {
		case *Call:
			switch n.Name {
			case AbsCallName, LengthCallName:
			default:
				ok = false
			}
		case *BinaryExpr:
			switch n.Op {
			case LT, LTE, GT, GTE:
				if isStringOperand(n.LHS, types) || isStringOperand(n.RHS, types) {
					ok = false
				}
			}
		}
	})
	return ok
}

// isStringOperand resolves an operand's type through the column types when
// the expression node itself carries none.
func isStringOperand(e Expr, types ColumnTypeResolver) bool {
	if e.Type() == Str {
		return true
	}
	switch e := e.(type) {
	case *VarRef:
		return types != nil && types.ColumnType(e.Val) == Str
	case *ParenExpr:
		return isStringOperand(e.Expr, types)
	}
	return false
}
