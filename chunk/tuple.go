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
	"encoding/binary"
	"math"

	"github.com/uber/gpuscan/expr"
	"github.com/uber/gpuscan/utils"
)

// Tuple encoding:
//   uint16 attribute count
//   null bitmap, one bit per attribute, bit set marks the attribute null
//   padding to a 4 byte boundary
//   per non-null attribute, in attribute order, each padded to a 4 byte
//   boundary: fixed width values in their declared width, variable width
//   values as uint32 length plus bytes.
// Null attributes store no bytes at all.

func tupleHeaderSize(numCols int) int {
	return 2 + (numCols+7)/8
}

func align4(n int) int {
	return (n + 3) &^ 3
}

// EncodeTuple encodes one row of values into the self-describing tuple form.
func EncodeTuple(s *Schema, vals []expr.Value) ([]byte, error) {
	if len(vals) != len(s.Columns) {
		return nil, utils.StackError(nil, "tuple has %d values, schema has %d columns",
			len(vals), len(s.Columns))
	}

	buf := make([]byte, tupleHeaderSize(len(s.Columns)), s.MaxTupleSize(16))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(s.Columns)))

	for i, val := range vals {
		col := s.Columns[i]
		if val.Null {
			if !col.Nullable {
				return nil, utils.StackError(nil, "null value for non-nullable column %s", col.Name)
			}
			buf[2+i/8] |= 1 << uint(i%8)
			continue
		}

		for len(buf) < align4(len(buf)) {
			buf = append(buf, 0)
		}

		switch col.Type {
		case Bool:
			b := byte(0)
			if val.BoolVal {
				b = 1
			}
			buf = append(buf, b)
		case Int32:
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], uint32(int32(val.IntVal)))
			buf = append(buf, tmp[:]...)
		case Int64:
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], uint64(val.IntVal))
			buf = append(buf, tmp[:]...)
		case Float64:
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(floatPayload(val)))
			buf = append(buf, tmp[:]...)
		case Text:
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], uint32(len(val.StrVal)))
			buf = append(buf, tmp[:]...)
			buf = append(buf, val.StrVal...)
		default:
			return nil, utils.StackError(nil, "unsupported column type %s", col.Type)
		}
	}
	return buf, nil
}

// floatPayload accepts integer payloads for float columns.
func floatPayload(v expr.Value) float64 {
	if v.Kind == expr.Float {
		return v.FloatVal
	}
	return float64(v.IntVal)
}

// DecodeTuple decodes all values of an encoded tuple with one forward pass.
func DecodeTuple(s *Schema, buf []byte) ([]expr.Value, error) {
	vals := make([]expr.Value, len(s.Columns))
	offset := tupleHeaderSize(len(s.Columns))
	for i := range s.Columns {
		var err error
		vals[i], offset, err = decodeAttr(s, buf, i, offset)
		if err != nil {
			return nil, err
		}
	}
	return vals, nil
}

// DecodeColumn decodes a single column of an encoded tuple. When every
// preceding column is fixed width and non-nullable the value is read at its
// precomputed offset, otherwise a forward pass locates it.
func DecodeColumn(s *Schema, buf []byte, colID int) (expr.Value, error) {
	if tupleAttrIsNull(buf, colID) {
		return expr.NullValue(), nil
	}
	if off, ok := s.FixedOffset(colID); ok {
		val, _, err := readAttr(s.Columns[colID].Type, buf, off)
		return val, err
	}

	offset := tupleHeaderSize(len(s.Columns))
	for i := 0; i <= colID; i++ {
		val, next, err := decodeAttr(s, buf, i, offset)
		if err != nil {
			return expr.NullValue(), err
		}
		if i == colID {
			return val, nil
		}
		offset = next
	}
	return expr.NullValue(), utils.StackError(nil, "column %d out of range", colID)
}

func tupleAttrIsNull(buf []byte, colID int) bool {
	return buf[2+colID/8]&(1<<uint(colID%8)) != 0
}

// decodeAttr decodes the attribute at colID assuming offset points at the
// first byte after the previous attribute, and returns the next offset.
func decodeAttr(s *Schema, buf []byte, colID, offset int) (expr.Value, int, error) {
	if tupleAttrIsNull(buf, colID) {
		return expr.NullValue(), offset, nil
	}
	offset = align4(offset)
	val, next, err := readAttr(s.Columns[colID].Type, buf, offset)
	return val, next, err
}

func readAttr(t DataType, buf []byte, offset int) (expr.Value, int, error) {
	switch t {
	case Bool:
		if offset+1 > len(buf) {
			return expr.NullValue(), 0, errTupleTruncated(offset, len(buf))
		}
		return expr.BoolValue(buf[offset] != 0), offset + 1, nil
	case Int32:
		if offset+4 > len(buf) {
			return expr.NullValue(), 0, errTupleTruncated(offset, len(buf))
		}
		v := int32(binary.LittleEndian.Uint32(buf[offset:]))
		return expr.IntValue(int64(v)), offset + 4, nil
	case Int64:
		if offset+8 > len(buf) {
			return expr.NullValue(), 0, errTupleTruncated(offset, len(buf))
		}
		v := int64(binary.LittleEndian.Uint64(buf[offset:]))
		return expr.IntValue(v), offset + 8, nil
	case Float64:
		if offset+8 > len(buf) {
			return expr.NullValue(), 0, errTupleTruncated(offset, len(buf))
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(buf[offset:]))
		return expr.FloatValue(v), offset + 8, nil
	case Text:
		if offset+4 > len(buf) {
			return expr.NullValue(), 0, errTupleTruncated(offset, len(buf))
		}
		n := int(binary.LittleEndian.Uint32(buf[offset:]))
		offset += 4
		if offset+n > len(buf) {
			return expr.NullValue(), 0, errTupleTruncated(offset, len(buf))
		}
		return expr.StringValue(string(buf[offset : offset+n])), offset + n, nil
	}
	return expr.NullValue(), 0, utils.StackError(nil, "unsupported column type %s", t)
}

func errTupleTruncated(offset, size int) error {
	return utils.StackError(nil, "tuple truncated at offset %d, size %d", offset, size)
}
