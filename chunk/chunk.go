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
	"errors"
	"math"

	"github.com/uber/gpuscan/expr"
	"github.com/uber/gpuscan/utils"
)

// Format is the physical layout of one chunk. The format is fixed at
// creation and never changes for the lifetime of the chunk.
type Format int

const (
	// FormatRow holds self describing tuples, each with its own null bitmap.
	FormatRow Format = iota
	// FormatBlock holds raw storage pages plus a block number index.
	// Some pages may not be host resident yet.
	FormatBlock
	// FormatColumn holds values pre decoded into per column vectors.
	FormatColumn
)

var formatNames = map[Format]string{
	FormatRow:    "row",
	FormatBlock:  "block",
	FormatColumn: "column",
}

func (f Format) String() string {
	return formatNames[f]
}

// ErrChunkFull reports that a chunk has no room for one more tuple,
// either by item capacity or by byte budget.
var ErrChunkFull = errors.New("chunk full")

// Locator addresses one tuple inside a block format chunk.
type Locator struct {
	Block  uint32
	Offset uint32
}

// Chunk is one batch of tuples in exactly one format. A chunk always
// has capacity for at least as many items as it currently holds.
type Chunk struct {
	format   Format
	schema   *Schema
	capacity int
	items    int

	// byteLimit caps the total encoded tuple bytes of a row format
	// destination. Zero means no byte budget.
	byteLimit int
	bytesUsed int

	// FormatRow.
	rows [][]byte

	// FormatBlock. pages and blockIndex are parallel; a nil page means
	// the block is not host resident yet.
	pages      []*Page
	blockIndex []uint32
	resident   int

	// FormatColumn.
	cols []*ColumnVector
}

// NewRowChunk creates an empty row format chunk.
func NewRowChunk(s *Schema, capacity int) *Chunk {
	return &Chunk{
		format:   FormatRow,
		schema:   s,
		capacity: capacity,
		rows:     make([][]byte, 0, capacity),
	}
}

// NewDestinationChunk creates a row format chunk that also enforces a
// byte budget, for holding projected tuples whose total size was only
// estimated.
func NewDestinationChunk(s *Schema, capacity, byteLimit int) *Chunk {
	c := NewRowChunk(s, capacity)
	c.byteLimit = byteLimit
	return c
}

// NewBlockChunk creates an empty block format chunk with room for
// capacity storage blocks.
func NewBlockChunk(s *Schema, capacity int) *Chunk {
	return &Chunk{
		format:     FormatBlock,
		schema:     s,
		capacity:   capacity,
		pages:      make([]*Page, 0, capacity),
		blockIndex: make([]uint32, 0, capacity),
	}
}

// NewColumnChunk creates an empty column format chunk.
func NewColumnChunk(s *Schema, capacity int) *Chunk {
	c := &Chunk{
		format:   FormatColumn,
		schema:   s,
		capacity: capacity,
		cols:     make([]*ColumnVector, len(s.Columns)),
	}
	for i, col := range s.Columns {
		c.cols[i] = NewColumnVector(col.Type, capacity)
	}
	return c
}

// Format returns the chunk's physical layout.
func (c *Chunk) Format() Format {
	return c.format
}

// Schema returns the tuple layout the chunk was created with.
func (c *Chunk) Schema() *Schema {
	return c.schema
}

// Items returns the number of tuples currently held.
func (c *Chunk) Items() int {
	return c.items
}

// Capacity returns the item capacity for row and column chunks, and the
// block capacity for block chunks.
func (c *Chunk) Capacity() int {
	return c.capacity
}

// BytesUsed returns the encoded tuple bytes held by a row format chunk.
func (c *Chunk) BytesUsed() int {
	return c.bytesUsed
}

// AppendTuple encodes and appends one tuple to a row format chunk.
// Returns ErrChunkFull when the chunk is out of capacity or byte budget.
func (c *Chunk) AppendTuple(vals []expr.Value) error {
	raw, err := EncodeTuple(c.schema, vals)
	if err != nil {
		return err
	}
	return c.AppendRawTuple(raw)
}

// AppendRawTuple appends an already encoded tuple to a row format chunk.
func (c *Chunk) AppendRawTuple(raw []byte) error {
	if c.format != FormatRow {
		return utils.StackError(nil, "cannot append tuples to a %s chunk", c.format)
	}
	if c.items >= c.capacity {
		return ErrChunkFull
	}
	if c.byteLimit > 0 && c.bytesUsed+len(raw) > c.byteLimit {
		return ErrChunkFull
	}
	c.rows = append(c.rows, raw)
	c.bytesUsed += len(raw)
	c.items++
	return nil
}

// RawTuple returns the encoded bytes of the i-th tuple of a row or
// block chunk. For block chunks only resident pages are visible.
func (c *Chunk) RawTuple(i int) []byte {
	if c.format == FormatBlock {
		for _, p := range c.pages {
			if p == nil {
				continue
			}
			n := p.NumTuples()
			if i < n {
				return p.Tuple(i)
			}
			i -= n
		}
		return nil
	}
	return c.rows[i]
}

// AddPage appends a host resident storage block to a block format chunk.
func (c *Chunk) AddPage(blockNumber uint32, p *Page) error {
	if c.format != FormatBlock {
		return utils.StackError(nil, "cannot add pages to a %s chunk", c.format)
	}
	if len(c.blockIndex) >= c.capacity {
		return ErrChunkFull
	}
	c.pages = append(c.pages, p)
	c.blockIndex = append(c.blockIndex, blockNumber)
	c.resident++
	c.items += p.NumTuples()
	return nil
}

// AddPendingBlock records a block that belongs to the chunk but whose
// page is not host resident yet.
func (c *Chunk) AddPendingBlock(blockNumber uint32) error {
	if c.format != FormatBlock {
		return utils.StackError(nil, "cannot add blocks to a %s chunk", c.format)
	}
	if len(c.blockIndex) >= c.capacity {
		return ErrChunkFull
	}
	c.pages = append(c.pages, nil)
	c.blockIndex = append(c.blockIndex, blockNumber)
	return nil
}

// NumBlocks returns the number of blocks recorded in a block chunk.
func (c *Chunk) NumBlocks() int {
	return len(c.blockIndex)
}

// NumResidentBlocks returns how many of the recorded blocks have a host
// resident page.
func (c *Chunk) NumResidentBlocks() int {
	return c.resident
}

// BlockNumber returns the storage block number at index position i.
func (c *Chunk) BlockNumber(i int) uint32 {
	return c.blockIndex[i]
}

// PageAt returns the page at index position i, or nil when the block is
// not host resident.
func (c *Chunk) PageAt(i int) *Page {
	return c.pages[i]
}

// SetPage installs the page of a previously pending block.
func (c *Chunk) SetPage(i int, p *Page) {
	if c.pages[i] == nil && p != nil {
		c.resident++
		c.items += p.NumTuples()
	}
	c.pages[i] = p
}

// CompactBlockIndex reorders the block index so that all host resident
// blocks come first and all pending blocks follow, preserving the
// relative order within each group. Returns the resident count.
func (c *Chunk) CompactBlockIndex() int {
	if c.format != FormatBlock || c.resident == len(c.blockIndex) {
		return c.resident
	}
	pages := make([]*Page, 0, len(c.pages))
	index := make([]uint32, 0, len(c.blockIndex))
	for i, p := range c.pages {
		if p != nil {
			pages = append(pages, p)
			index = append(index, c.blockIndex[i])
		}
	}
	for i, p := range c.pages {
		if p == nil {
			pages = append(pages, p)
			index = append(index, c.blockIndex[i])
		}
	}
	c.pages = pages
	c.blockIndex = index
	return c.resident
}

// Locate maps a flat tuple position to its block and in block offset.
// Only resident pages are counted, in index order.
func (c *Chunk) Locate(i int) (Locator, bool) {
	for b, p := range c.pages {
		if p == nil {
			continue
		}
		n := p.NumTuples()
		if i < n {
			return Locator{Block: c.blockIndex[b], Offset: uint32(i)}, true
		}
		i -= n
	}
	return Locator{}, false
}

// AppendRow appends one tuple's values to a column format chunk.
func (c *Chunk) AppendRow(vals []expr.Value) error {
	if c.format != FormatColumn {
		return utils.StackError(nil, "cannot append rows to a %s chunk", c.format)
	}
	if c.items >= c.capacity {
		return ErrChunkFull
	}
	if len(vals) != len(c.cols) {
		return utils.StackError(nil, "expected %d values, got %d", len(c.cols), len(vals))
	}
	for i, v := range vals {
		if v.Null && !c.schema.Columns[i].Nullable {
			return utils.StackError(nil, "null value for non nullable column %s", c.schema.Columns[i].Name)
		}
	}
	for i, v := range vals {
		c.cols[i].Append(v)
	}
	c.items++
	return nil
}

// Column returns the vector of column colID in a column format chunk.
func (c *Chunk) Column(colID int) *ColumnVector {
	return c.cols[colID]
}

// ColumnValue returns one value from a column format chunk.
func (c *Chunk) ColumnValue(colID, row int) expr.Value {
	return c.cols[colID].Value(row)
}

// TupleValues decodes the i-th tuple of the chunk regardless of format.
// For block chunks only resident pages are visible.
func (c *Chunk) TupleValues(i int) ([]expr.Value, error) {
	switch c.format {
	case FormatRow:
		if i >= len(c.rows) {
			return nil, utils.StackError(nil, "tuple %d out of range, chunk holds %d", i, len(c.rows))
		}
		return DecodeTuple(c.schema, c.rows[i])
	case FormatBlock:
		for _, p := range c.pages {
			if p == nil {
				continue
			}
			n := p.NumTuples()
			if i < n {
				return DecodeTuple(c.schema, p.Tuple(i))
			}
			i -= n
		}
		return nil, utils.StackError(nil, "tuple %d out of range", i)
	default:
		if i >= c.items {
			return nil, utils.StackError(nil, "tuple %d out of range, chunk holds %d", i, c.items)
		}
		vals := make([]expr.Value, len(c.cols))
		for colID, vec := range c.cols {
			vals[colID] = vec.Value(i)
		}
		return vals, nil
	}
}

// ColumnVector holds the decoded values of one column. Fixed width
// values live in data at a constant stride; text values live in heap
// addressed by prefix sum offsets.
type ColumnVector struct {
	Type DataType

	nulls   []byte
	data    []byte
	offsets []uint32
	heap    []byte
	length  int
}

// NewColumnVector creates an empty vector for one column.
func NewColumnVector(t DataType, capacity int) *ColumnVector {
	v := &ColumnVector{Type: t}
	if IsFixedWidth(t) {
		v.data = make([]byte, 0, capacity*DataTypeBytes(t))
	} else {
		v.offsets = append(make([]uint32, 0, capacity+1), 0)
	}
	return v
}

// Length returns the number of values appended so far.
func (v *ColumnVector) Length() int {
	return v.length
}

// Append adds one value to the vector. Nulls occupy a zeroed slot so
// positions stay aligned across columns.
func (v *ColumnVector) Append(val expr.Value) {
	if val.Null {
		v.setNull(v.length)
	}
	switch v.Type {
	case Bool:
		b := byte(0)
		if !val.Null && val.BoolVal {
			b = 1
		}
		v.data = append(v.data, b)
	case Int32:
		var buf [4]byte
		if !val.Null {
			binary.LittleEndian.PutUint32(buf[:], uint32(int32(val.IntVal)))
		}
		v.data = append(v.data, buf[:]...)
	case Int64:
		var buf [8]byte
		if !val.Null {
			binary.LittleEndian.PutUint64(buf[:], uint64(val.IntVal))
		}
		v.data = append(v.data, buf[:]...)
	case Float64:
		var buf [8]byte
		if !val.Null {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(floatPayload(val)))
		}
		v.data = append(v.data, buf[:]...)
	default:
		if !val.Null {
			v.heap = append(v.heap, val.StrVal...)
		}
		v.offsets = append(v.offsets, uint32(len(v.heap)))
	}
	v.length++
}

func (v *ColumnVector) setNull(i int) {
	byteIdx := i / 8
	for len(v.nulls) <= byteIdx {
		v.nulls = append(v.nulls, 0)
	}
	v.nulls[byteIdx] |= 1 << uint(i%8)
}

// IsNull reports whether the i-th value is null.
func (v *ColumnVector) IsNull(i int) bool {
	byteIdx := i / 8
	return byteIdx < len(v.nulls) && v.nulls[byteIdx]&(1<<uint(i%8)) != 0
}

// Value returns the i-th value.
func (v *ColumnVector) Value(i int) expr.Value {
	if v.IsNull(i) {
		return expr.NullValue()
	}
	switch v.Type {
	case Bool:
		return expr.BoolValue(v.data[i] != 0)
	case Int32:
		return expr.IntValue(int64(int32(binary.LittleEndian.Uint32(v.data[i*4:]))))
	case Int64:
		return expr.IntValue(int64(binary.LittleEndian.Uint64(v.data[i*8:])))
	case Float64:
		return expr.FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(v.data[i*8:])))
	default:
		return expr.StringValue(string(v.heap[v.offsets[i]:v.offsets[i+1]]))
	}
}
