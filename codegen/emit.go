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
	"strconv"
	"strings"

	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/expr"
)

func devTypeName(t chunk.DataType) string {
	switch t {
	case chunk.Bool:
		return "bool"
	case chunk.Int32:
		return "int4"
	case chunk.Int64:
		return "int8"
	case chunk.Float64:
		return "float8"
	case chunk.Text:
		return "text"
	}
	return "varlena"
}

func devTypeNameOf(t expr.Type) string {
	switch t {
	case expr.Boolean:
		return "bool"
	case expr.Float:
		return "float8"
	case expr.Str:
		return "text"
	}
	return "int8"
}

// emitSource serializes the IR into kernel text: a predicate and a
// projection function for each of the three chunk layouts, in the fixed
// calling convention the executor launches against.
func emitSource(src *KernelSource) string {
	var kern strings.Builder
	kern.WriteString("#include \"cuda_common.h\"\n\n")
	emitQuals(&kern, src)
	if len(src.outputs) > 0 {
		emitProjection(&kern, src)
	}
	return kern.String()
}

func emitQuals(kern *strings.Builder, src *KernelSource) {
	exprCode := ""
	if src.pred != nil {
		exprCode = fmt.Sprintf("EVAL(%s)", irText(src.pred, src.st))
	}

	var tbody, cbody strings.Builder
	emitParamDecls(&tbody, src.st)
	emitParamDecls(&cbody, src.st)
	emitTupleVarLoads(&tbody, src.st)
	emitColumnVarLoads(&cbody, src.st)

	retval := "true"
	if exprCode != "" {
		retval = exprCode
	}

	fmt.Fprintf(kern,
		"STATIC_FUNCTION(cl_bool)\n"+
			"gpuscan_quals_row(kern_context *kcxt,\n"+
			"                  kern_data_store *kds,\n"+
			"                  ItemPointerData *t_self,\n"+
			"                  HeapTupleHeaderData *htup)\n"+
			"{\n"+
			"  void *addr __attribute__((unused));\n"+
			"%s"+
			"  return %s;\n"+
			"}\n\n",
		tbody.String(), retval)

	fmt.Fprintf(kern,
		"STATIC_FUNCTION(cl_bool)\n"+
			"gpuscan_quals_block(kern_context *kcxt,\n"+
			"                    kern_data_store *kds,\n"+
			"                    BlockNumber block_nr,\n"+
			"                    HeapTupleHeaderData *htup)\n"+
			"{\n"+
			"  void *addr __attribute__((unused));\n"+
			"%s"+
			"  return %s;\n"+
			"}\n\n",
		tbody.String(), retval)

	fmt.Fprintf(kern,
		"STATIC_FUNCTION(cl_bool)\n"+
			"gpuscan_quals_column(kern_context *kcxt,\n"+
			"                     kern_data_store *kds,\n"+
			"                     cl_uint row_index)\n"+
			"{\n"+
			"  void *addr __attribute__((unused));\n"+
			"%s"+
			"  return %s;\n"+
			"}\n\n",
		cbody.String(), retval)
}

func emitParamDecls(body *strings.Builder, st *symbolTable) {
	for i, t := range st.paramTypes {
		fmt.Fprintf(body, "  pg_%s_t KPARAM_%d = pg_%s_param(kcxt,%d);\n",
			devTypeNameOf(t), i, devTypeNameOf(t), i)
	}
}

// emitTupleVarLoads writes the variable loads of the tuple based
// layouts. With a single referenced attribute a direct offset seek is
// cheaper; otherwise one forward pass visits attributes in ascending
// order, reading each used one as it goes by.
func emitTupleVarLoads(body *strings.Builder, st *symbolTable) {
	vars := st.sortedUserVars()
	if len(vars) == 0 {
		return
	}
	if len(vars) == 1 {
		v := vars[0]
		fmt.Fprintf(body,
			"  pg_%s_t %s;\n\n"+
				"  addr = kern_get_datum_tuple(kds->colmeta,htup,%d);\n"+
				"  %s = pg_%s_datum_ref(kcxt,addr);\n",
			devTypeName(v.Type), v.KVar,
			v.AttrNo-1,
			v.KVar, devTypeName(v.Type))
		return
	}

	for _, v := range vars {
		fmt.Fprintf(body, "  pg_%s_t %s;\n", devTypeName(v.Type), v.KVar)
	}
	body.WriteString("\n  assert(htup != NULL);\n")
	body.WriteString("  EXTRACT_HEAP_TUPLE_BEGIN(addr, kds, htup);\n")
	maxAttr := vars[len(vars)-1].AttrNo
	for anum := 1; anum <= maxAttr; anum++ {
		for _, v := range vars {
			if v.AttrNo == anum {
				fmt.Fprintf(body, "  %s = pg_%s_datum_ref(kcxt,addr);\n",
					v.KVar, devTypeName(v.Type))
				break
			}
		}
		if anum < maxAttr {
			body.WriteString("  EXTRACT_HEAP_TUPLE_NEXT(addr);\n")
		}
	}
	body.WriteString("  EXTRACT_HEAP_TUPLE_END();\n")
}

func emitColumnVarLoads(body *strings.Builder, st *symbolTable) {
	vars := st.sortedUserVars()
	if len(vars) == 0 {
		return
	}
	for _, v := range vars {
		fmt.Fprintf(body, "  pg_%s_t %s;\n", devTypeName(v.Type), v.KVar)
	}
	body.WriteString("\n")
	for _, v := range vars {
		fmt.Fprintf(body,
			"  addr = kern_get_datum_column(kds,%d,row_index);\n"+
				"  %s = pg_%s_datum_ref(kcxt,addr);\n",
			v.AttrNo-1, v.KVar, devTypeName(v.Type))
	}
}

func emitProjection(kern *strings.Builder, src *KernelSource) {
	var tbody, cbody strings.Builder
	emitParamDecls(&tbody, src.st)
	emitParamDecls(&cbody, src.st)
	emitTupleVarLoads(&tbody, src.st)
	emitColumnVarLoads(&cbody, src.st)
	emitOutputStores(&tbody, src)
	emitOutputStores(&cbody, src)

	fmt.Fprintf(kern,
		"STATIC_FUNCTION(void)\n"+
			"gpuscan_proj_row(kern_context *kcxt,\n"+
			"                 kern_data_store *kds_src,\n"+
			"                 HeapTupleHeaderData *htup,\n"+
			"                 ItemPointerData *t_self,\n"+
			"                 Datum *tup_values,\n"+
			"                 cl_bool *tup_isnull,\n"+
			"                 char *tup_extra)\n"+
			"{\n"+
			"  void    *addr __attribute__((unused));\n"+
			"  cl_int   len  __attribute__((unused));\n"+
			"%s"+
			"}\n\n",
		tbody.String())

	fmt.Fprintf(kern,
		"STATIC_FUNCTION(void)\n"+
			"gpuscan_proj_block(kern_context *kcxt,\n"+
			"                   kern_data_store *kds_src,\n"+
			"                   BlockNumber block_nr,\n"+
			"                   HeapTupleHeaderData *htup,\n"+
			"                   Datum *tup_values,\n"+
			"                   cl_bool *tup_isnull,\n"+
			"                   char *tup_extra)\n"+
			"{\n"+
			"  void    *addr __attribute__((unused));\n"+
			"  cl_int   len  __attribute__((unused));\n"+
			"%s"+
			"}\n\n",
		tbody.String())

	fmt.Fprintf(kern,
		"STATIC_FUNCTION(void)\n"+
			"gpuscan_proj_column(kern_context *kcxt,\n"+
			"                    kern_data_store *kds_src,\n"+
			"                    size_t src_index,\n"+
			"                    Datum *tup_values,\n"+
			"                    cl_bool *tup_isnull,\n"+
			"                    char *tup_extra)\n"+
			"{\n"+
			"  void    *addr __attribute__((unused));\n"+
			"  cl_uint  len  __attribute__((unused));\n"+
			"%s"+
			"}\n\n",
		cbody.String())
}

func emitOutputStores(body *strings.Builder, src *KernelSource) {
	body.WriteString("\n")
	for j, out := range src.outputs {
		if out.direct {
			v := src.st.vars[out.varIdx]
			if v.ColumnID < 0 {
				emitSystemStore(body, j, v)
				continue
			}
			fmt.Fprintf(body,
				"  tup_isnull[%d] = %s.isnull;\n"+
					"  tup_values[%d] = pg_%s_as_datum(&%s.value);\n",
				j, v.KVar, j, devTypeName(v.Type), v.KVar)
			if !chunk.IsFixedWidth(v.Type) {
				emitExtraAdvance(body, j)
			}
			continue
		}
		temp := fmt.Sprintf("TEMP_%d", j)
		fmt.Fprintf(body,
			"  pg_%s_t %s = %s;\n"+
				"  tup_isnull[%d] = %s.isnull;\n"+
				"  tup_values[%d] = pg_%s_as_datum(&%s.value);\n",
			devTypeName(out.typ), temp, irText(out.node, src.st),
			j, temp,
			j, devTypeName(out.typ), temp)
		if !chunk.IsFixedWidth(out.typ) {
			emitExtraAdvance(body, j)
		}
	}
}

// Variable length outputs are copied into the extra storage area; the
// cursor must advance exactly by the bytes written.
func emitExtraAdvance(body *strings.Builder, j int) {
	fmt.Fprintf(body,
		"  if (!tup_isnull[%d])\n"+
			"  {\n"+
			"    len = VARSIZE_ANY(tup_values[%d]);\n"+
			"    memcpy(tup_extra, DatumGetPointer(tup_values[%d]), len);\n"+
			"    tup_values[%d] = PointerGetDatum(tup_extra);\n"+
			"    tup_extra += MAXALIGN(len);\n"+
			"  }\n",
		j, j, j, j)
}

func emitSystemStore(body *strings.Builder, j int, v Variable) {
	switch v.AttrNo {
	case chunk.SysColRowID:
		fmt.Fprintf(body,
			"  tup_isnull[%d] = false;\n"+
				"  tup_values[%d] = PointerGetDatum(t_self);\n", j, j)
	case chunk.SysColTableID:
		fmt.Fprintf(body,
			"  tup_isnull[%d] = false;\n"+
				"  tup_values[%d] = ObjectIdGetDatum(kds_src->table_oid);\n", j, j)
	}
}

// irText serializes one IR node to device expression text.
func irText(n *irNode, st *symbolTable) string {
	switch n.op {
	case irConst:
		return constText(n.val)
	case irVar:
		return st.vars[n.sym].KVar
	case irParam:
		return fmt.Sprintf("KPARAM_%d", n.sym)
	case irCastFloat:
		return fmt.Sprintf("to_float8(%s)", irText(n.args[0], st))
	case irUnary:
		return unaryText(n, st)
	case irBinary:
		return fmt.Sprintf("(%s %s %s)",
			irText(n.args[0], st), binOpText(n.token), irText(n.args[1], st))
	case irCall:
		return fmt.Sprintf("pgfn_%s(kcxt, %s)", n.fn, irText(n.args[0], st))
	}
	return ""
}

func constText(v expr.Value) string {
	if v.Null {
		return "NULL"
	}
	switch v.Kind {
	case expr.Boolean:
		return strconv.FormatBool(v.BoolVal)
	case expr.Float:
		return strconv.FormatFloat(v.FloatVal, 'g', -1, 64)
	case expr.Str:
		return "'" + strings.Replace(v.StrVal, "'", "\\'", -1) + "'"
	}
	return strconv.FormatInt(v.IntVal, 10)
}

func unaryText(n *irNode, st *symbolTable) string {
	arg := irText(n.args[0], st)
	switch n.token {
	case expr.NOT, expr.EXCLAMATION:
		return fmt.Sprintf("!%s", arg)
	case expr.UNARY_MINUS:
		return fmt.Sprintf("-%s", arg)
	case expr.IS_NULL:
		return fmt.Sprintf("pg_is_null(%s)", arg)
	case expr.IS_NOT_NULL:
		return fmt.Sprintf("!pg_is_null(%s)", arg)
	case expr.IS_TRUE:
		return fmt.Sprintf("pg_is_true(%s)", arg)
	case expr.IS_FALSE:
		return fmt.Sprintf("pg_is_false(%s)", arg)
	}
	return arg
}

func binOpText(t expr.Token) string {
	switch t {
	case expr.AND:
		return "&&"
	case expr.OR:
		return "||"
	case expr.EQ:
		return "=="
	case expr.NEQ:
		return "!="
	case expr.LT:
		return "<"
	case expr.LTE:
		return "<="
	case expr.GT:
		return ">"
	case expr.GTE:
		return ">="
	case expr.MOD:
		return "%"
	default:
		return t.String()
	}
}
