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

import "github.com/uber/gpuscan/expr"

// System columns are addressed by negative attribute numbers.
// They are never stored in tuples; their values derive from the tuple
// location within the scan.
const (
	// SysColRowID is the row identity column (block number, in-block offset).
	SysColRowID = -1
	// SysColTableID is the owning table identifier column.
	SysColTableID = -2
)

// SystemColumnID maps a system column name to its attribute number.
func SystemColumnID(name string) (int, bool) {
	switch name {
	case "rowid":
		return SysColRowID, true
	case "tableid":
		return SysColTableID, true
	}
	return 0, false
}

// Column describes one attribute of a table.
type Column struct {
	Name     string
	Type     DataType
	Nullable bool
}

// Schema describes the physical tuple layout of one table.
type Schema struct {
	TableID int32
	Columns []Column

	colIDs map[string]int
	// fixedOffsets[i] is the byte offset of column i within an encoded
	// tuple when every preceding column is fixed width and non-nullable,
	// or -1 when the offset must be found with a forward scan.
	fixedOffsets []int
}

// NewSchema builds a schema and precomputes per-column direct offsets.
func NewSchema(tableID int32, columns []Column) *Schema {
	s := &Schema{
		TableID:      tableID,
		Columns:      columns,
		colIDs:       make(map[string]int, len(columns)),
		fixedOffsets: make([]int, len(columns)),
	}
	for i, col := range columns {
		s.colIDs[col.Name] = i
	}

	// A direct offset stays valid until the first nullable or variable
	// width column; everything after it needs the forward scan.
	offset := tupleHeaderSize(len(columns))
	deterministic := true
	for i, col := range columns {
		offset = align4(offset)
		if deterministic {
			s.fixedOffsets[i] = offset
		} else {
			s.fixedOffsets[i] = -1
		}
		if col.Nullable || !IsFixedWidth(col.Type) {
			deterministic = false
		} else {
			offset += DataTypeBytes(col.Type)
		}
	}
	return s
}

// NumColumns returns the number of user columns.
func (s *Schema) NumColumns() int {
	return len(s.Columns)
}

// ColumnType resolves a named column to its expression type, satisfying
// expr.ColumnTypeResolver. Unknown names resolve to UnknownType.
func (s *Schema) ColumnType(name string) expr.Type {
	if id, ok := s.colIDs[name]; ok {
		return ToExprType(s.Columns[id].Type)
	}
	return expr.UnknownType
}

// ColumnID returns the position of a named column.
func (s *Schema) ColumnID(name string) (int, bool) {
	id, ok := s.colIDs[name]
	return id, ok
}

// FixedOffset returns the fixed byte offset of a column within an encoded
// tuple, when one exists. The caller must still check the column's null bit.
func (s *Schema) FixedOffset(colID int) (int, bool) {
	off := s.fixedOffsets[colID]
	return off, off >= 0
}

// MaxTupleSize returns the worst case encoded size of one tuple,
// estimating variable width columns at avgVarLen bytes.
func (s *Schema) MaxTupleSize(avgVarLen int) int {
	size := tupleHeaderSize(len(s.Columns))
	for _, col := range s.Columns {
		size = align4(size)
		if IsFixedWidth(col.Type) {
			size += DataTypeBytes(col.Type)
		} else {
			size += 4 + avgVarLen
		}
	}
	return align4(size)
}
