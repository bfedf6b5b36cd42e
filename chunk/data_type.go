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
	"github.com/uber/gpuscan/expr"
)

// DataType is the physical type of a column value.
type DataType uint32

// The list of supported DataTypes.
// DataType & 0x0000FFFF: the width of the data type in bits, 0 for variable width.
// DataType & 0x00FF0000 >> 16: the base type of the data.
const (
	Unknown DataType = 0x00000000
	Bool    DataType = 0x00010001
	Int32   DataType = 0x00020020
	Int64   DataType = 0x00030040
	Float64 DataType = 0x00040040
	Text    DataType = 0x00050000
)

// DataTypeName returns the literal name of the data type.
var DataTypeName = map[DataType]string{
	Unknown: "Unknown",
	Bool:    "Bool",
	Int32:   "Int32",
	Int64:   "Int64",
	Float64: "Float64",
	Text:    "Text",
}

// StringToDataType maps string representation to DataType.
var StringToDataType = map[string]DataType{
	"Bool":    Bool,
	"Int32":   Int32,
	"Int64":   Int64,
	"Float64": Float64,
	"Text":    Text,
}

func (t DataType) String() string {
	return DataTypeName[t]
}

// DataTypeBits returns the number of bits of a data type, 0 for variable width.
func DataTypeBits(t DataType) int {
	return int(t & 0x0000FFFF)
}

// DataTypeBytes returns the byte width of a fixed width data type.
// Bool values occupy one byte when stored.
func DataTypeBytes(t DataType) int {
	if t == Bool {
		return 1
	}
	return DataTypeBits(t) / 8
}

// IsFixedWidth returns whether values of the type have a fixed byte width.
func IsFixedWidth(t DataType) bool {
	return DataTypeBits(t) != 0
}

// ToExprType maps a physical column type to its expression type.
func ToExprType(t DataType) expr.Type {
	switch t {
	case Bool:
		return expr.Boolean
	case Int32, Int64:
		return expr.Signed
	case Float64:
		return expr.Float
	case Text:
		return expr.Str
	}
	return expr.UnknownType
}
