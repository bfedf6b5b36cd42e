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
	"math"

	"github.com/uber/gpuscan/expr"
)

// evalEnv holds one tuple's variable and parameter slots, indexed by
// symbol table position.
type evalEnv struct {
	vars   []expr.Value
	params []expr.Value
}

// evalFunc is one compiled IR node. The boolean is false when the device
// path cannot safely decide the value and the tuple must be re checked
// on the CPU.
type evalFunc func(env *evalEnv) (expr.Value, bool)

// compileNode lowers one IR node into a closure. Operator and numeric
// specialization happens here, once, using the IR's static types; the
// returned closure does no dispatch of its own.
func compileNode(n *irNode) evalFunc {
	switch n.op {
	case irConst:
		v := n.val
		return func(env *evalEnv) (expr.Value, bool) { return v, true }
	case irVar:
		idx := n.sym
		return func(env *evalEnv) (expr.Value, bool) { return env.vars[idx], true }
	case irParam:
		idx := n.sym
		return func(env *evalEnv) (expr.Value, bool) { return env.params[idx], true }
	case irCastFloat:
		arg := compileNode(n.args[0])
		return func(env *evalEnv) (expr.Value, bool) {
			v, ok := arg(env)
			if !ok || v.Null {
				return v, ok
			}
			return expr.FloatValue(numFloat(v)), true
		}
	case irUnary:
		return compileUnary(n)
	case irBinary:
		return compileBinary(n)
	case irCall:
		return compileCall(n)
	}
	panic("unreachable IR op")
}

func compileUnary(n *irNode) evalFunc {
	arg := compileNode(n.args[0])
	switch n.token {
	case expr.NOT, expr.EXCLAMATION:
		return func(env *evalEnv) (expr.Value, bool) {
			v, ok := arg(env)
			if !ok || v.Null {
				return v, ok
			}
			return expr.BoolValue(!v.BoolVal), true
		}
	case expr.UNARY_MINUS:
		if n.typ == expr.Float {
			return func(env *evalEnv) (expr.Value, bool) {
				v, ok := arg(env)
				if !ok || v.Null {
					return v, ok
				}
				return expr.FloatValue(-numFloat(v)), true
			}
		}
		return func(env *evalEnv) (expr.Value, bool) {
			v, ok := arg(env)
			if !ok || v.Null {
				return v, ok
			}
			return expr.IntValue(-v.IntVal), true
		}
	case expr.IS_NULL:
		return func(env *evalEnv) (expr.Value, bool) {
			v, ok := arg(env)
			if !ok {
				return v, false
			}
			return expr.BoolValue(v.Null), true
		}
	case expr.IS_NOT_NULL:
		return func(env *evalEnv) (expr.Value, bool) {
			v, ok := arg(env)
			if !ok {
				return v, false
			}
			return expr.BoolValue(!v.Null), true
		}
	case expr.IS_TRUE:
		return func(env *evalEnv) (expr.Value, bool) {
			v, ok := arg(env)
			if !ok {
				return v, false
			}
			return expr.BoolValue(!v.Null && v.BoolVal), true
		}
	case expr.IS_FALSE:
		return func(env *evalEnv) (expr.Value, bool) {
			v, ok := arg(env)
			if !ok {
				return v, false
			}
			return expr.BoolValue(!v.Null && !v.BoolVal), true
		}
	}
	panic("unreachable unary operator")
}

func compileBinary(n *irNode) evalFunc {
	lhs := compileNode(n.args[0])
	rhs := compileNode(n.args[1])
	switch n.token {
	case expr.AND:
		return func(env *evalEnv) (expr.Value, bool) {
			l, ok := lhs(env)
			if !ok {
				return l, false
			}
			if !l.Null && !l.BoolVal {
				return expr.BoolValue(false), true
			}
			r, ok := rhs(env)
			if !ok {
				return r, false
			}
			if !r.Null && !r.BoolVal {
				return expr.BoolValue(false), true
			}
			if l.Null || r.Null {
				return expr.NullValue(), true
			}
			return expr.BoolValue(true), true
		}
	case expr.OR:
		return func(env *evalEnv) (expr.Value, bool) {
			l, ok := lhs(env)
			if !ok {
				return l, false
			}
			if !l.Null && l.BoolVal {
				return expr.BoolValue(true), true
			}
			r, ok := rhs(env)
			if !ok {
				return r, false
			}
			if !r.Null && r.BoolVal {
				return expr.BoolValue(true), true
			}
			if l.Null || r.Null {
				return expr.NullValue(), true
			}
			return expr.BoolValue(false), true
		}
	case expr.EQ, expr.NEQ, expr.LT, expr.LTE, expr.GT, expr.GTE:
		return compileComparison(n, lhs, rhs)
	default:
		return compileArith(n, lhs, rhs)
	}
}

func compileComparison(n *irNode, lhs, rhs evalFunc) evalFunc {
	ltyp, rtyp := n.args[0].typ, n.args[1].typ
	var cmp func(l, r expr.Value) int
	switch {
	case ltyp == expr.Str && rtyp == expr.Str:
		cmp = func(l, r expr.Value) int {
			switch {
			case l.StrVal < r.StrVal:
				return -1
			case l.StrVal > r.StrVal:
				return 1
			}
			return 0
		}
	case ltyp == expr.Boolean || rtyp == expr.Boolean:
		cmp = func(l, r expr.Value) int {
			li, ri := 0, 0
			if l.BoolVal {
				li = 1
			}
			if r.BoolVal {
				ri = 1
			}
			return li - ri
		}
	case ltyp != expr.Float && rtyp != expr.Float:
		cmp = func(l, r expr.Value) int {
			switch {
			case l.IntVal < r.IntVal:
				return -1
			case l.IntVal > r.IntVal:
				return 1
			}
			return 0
		}
	default:
		cmp = func(l, r expr.Value) int {
			lf, rf := numFloat(l), numFloat(r)
			switch {
			case lf < rf:
				return -1
			case lf > rf:
				return 1
			}
			return 0
		}
	}

	var test func(c int) bool
	switch n.token {
	case expr.EQ:
		test = func(c int) bool { return c == 0 }
	case expr.NEQ:
		test = func(c int) bool { return c != 0 }
	case expr.LT:
		test = func(c int) bool { return c < 0 }
	case expr.LTE:
		test = func(c int) bool { return c <= 0 }
	case expr.GT:
		test = func(c int) bool { return c > 0 }
	default:
		test = func(c int) bool { return c >= 0 }
	}

	return func(env *evalEnv) (expr.Value, bool) {
		l, ok := lhs(env)
		if !ok {
			return l, false
		}
		r, ok := rhs(env)
		if !ok {
			return r, false
		}
		if l.Null || r.Null {
			return expr.NullValue(), true
		}
		return expr.BoolValue(test(cmp(l, r))), true
	}
}

func compileArith(n *irNode, lhs, rhs evalFunc) evalFunc {
	if n.typ == expr.Float {
		var op func(l, r float64) (float64, bool)
		switch n.token {
		case expr.ADD:
			op = func(l, r float64) (float64, bool) { return l + r, true }
		case expr.SUB:
			op = func(l, r float64) (float64, bool) { return l - r, true }
		case expr.MUL:
			op = func(l, r float64) (float64, bool) { return l * r, true }
		default: // DIV
			// A zero divisor is not decided on device; the tuple goes
			// back to the host, whose evaluator yields NULL.
			op = func(l, r float64) (float64, bool) {
				if r == 0 {
					return 0, false
				}
				return l / r, true
			}
		}
		return func(env *evalEnv) (expr.Value, bool) {
			l, ok := lhs(env)
			if !ok {
				return l, false
			}
			r, ok := rhs(env)
			if !ok {
				return r, false
			}
			if l.Null || r.Null {
				return expr.NullValue(), true
			}
			f, ok := op(numFloat(l), numFloat(r))
			if !ok {
				return expr.NullValue(), false
			}
			return expr.FloatValue(f), true
		}
	}

	var op func(l, r int64) (int64, bool)
	switch n.token {
	case expr.ADD:
		op = func(l, r int64) (int64, bool) { return l + r, true }
	case expr.SUB:
		op = func(l, r int64) (int64, bool) { return l - r, true }
	case expr.MUL:
		op = func(l, r int64) (int64, bool) { return l * r, true }
	case expr.DIV:
		op = func(l, r int64) (int64, bool) {
			if r == 0 {
				return 0, false
			}
			return l / r, true
		}
	default: // MOD
		op = func(l, r int64) (int64, bool) {
			if r == 0 {
				return 0, false
			}
			return l % r, true
		}
	}
	return func(env *evalEnv) (expr.Value, bool) {
		l, ok := lhs(env)
		if !ok {
			return l, false
		}
		r, ok := rhs(env)
		if !ok {
			return r, false
		}
		if l.Null || r.Null {
			return expr.NullValue(), true
		}
		v, ok := op(l.IntVal, r.IntVal)
		if !ok {
			return expr.NullValue(), false
		}
		return expr.IntValue(v), true
	}
}

func compileCall(n *irNode) evalFunc {
	arg := compileNode(n.args[0])
	switch n.fn {
	case expr.AbsCallName:
		if n.typ == expr.Float {
			return func(env *evalEnv) (expr.Value, bool) {
				v, ok := arg(env)
				if !ok || v.Null {
					return v, ok
				}
				return expr.FloatValue(math.Abs(numFloat(v))), true
			}
		}
		return func(env *evalEnv) (expr.Value, bool) {
			v, ok := arg(env)
			if !ok || v.Null {
				return v, ok
			}
			if v.IntVal < 0 {
				return expr.IntValue(-v.IntVal), true
			}
			return v, true
		}
	default: // length
		return func(env *evalEnv) (expr.Value, bool) {
			v, ok := arg(env)
			if !ok || v.Null {
				return v, ok
			}
			return expr.IntValue(int64(len(v.StrVal))), true
		}
	}
}

func numFloat(v expr.Value) float64 {
	if v.Kind == expr.Float {
		return v.FloatVal
	}
	return float64(v.IntVal)
}
