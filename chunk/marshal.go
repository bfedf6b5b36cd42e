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

	"github.com/uber/gpuscan/utils"
)

// The flat chunk image is what gets copied between host and device
// buffers. Header: format, table id, items, capacity, byte limit, all
// little endian uint32, followed by a per format payload.
const chunkHeaderSize = 20

// Marshal serializes the chunk into a flat byte image.
func (c *Chunk) Marshal() []byte {
	buf := make([]byte, chunkHeaderSize, chunkHeaderSize+c.payloadSize())
	binary.LittleEndian.PutUint32(buf[0:], uint32(c.format))
	binary.LittleEndian.PutUint32(buf[4:], uint32(c.schema.TableID))
	binary.LittleEndian.PutUint32(buf[8:], uint32(c.items))
	binary.LittleEndian.PutUint32(buf[12:], uint32(c.capacity))
	binary.LittleEndian.PutUint32(buf[16:], uint32(c.byteLimit))

	switch c.format {
	case FormatRow:
		buf = appendUint32(buf, uint32(len(c.rows)))
		for _, raw := range c.rows {
			buf = appendUint32(buf, uint32(len(raw)))
			buf = append(buf, raw...)
		}
	case FormatBlock:
		// Block images always reserve one page slot per block so that a
		// storage-direct transfer can fill pending slots in place later.
		// Slots are written in compacted order, resident pages first,
		// without reordering the chunk itself.
		residentBlocks := make([]uint32, 0, c.resident)
		residentPages := make([]*Page, 0, c.resident)
		pendingBlocks := make([]uint32, 0, len(c.blockIndex)-c.resident)
		for i, p := range c.pages {
			if p != nil {
				residentBlocks = append(residentBlocks, c.blockIndex[i])
				residentPages = append(residentPages, p)
			} else {
				pendingBlocks = append(pendingBlocks, c.blockIndex[i])
			}
		}
		buf = appendUint32(buf, uint32(len(c.blockIndex)))
		buf = appendUint32(buf, uint32(len(residentPages)))
		for _, blockNumber := range residentBlocks {
			buf = appendUint32(buf, blockNumber)
		}
		for _, blockNumber := range pendingBlocks {
			buf = appendUint32(buf, blockNumber)
		}
		for _, p := range residentPages {
			buf = append(buf, p.Bytes()...)
		}
		buf = append(buf, make([]byte, len(pendingBlocks)*PageSize)...)
	case FormatColumn:
		for _, vec := range c.cols {
			buf = appendBytes(buf, vec.nulls)
			buf = appendBytes(buf, vec.data)
			buf = appendUint32(buf, uint32(len(vec.offsets)))
			for _, off := range vec.offsets {
				buf = appendUint32(buf, off)
			}
			buf = appendBytes(buf, vec.heap)
		}
	}
	return buf
}

// BlockImageResidentOffset is the byte offset of the resident block
// count within a block chunk image. A transfer that fills pending page
// slots in place patches this word afterwards.
func BlockImageResidentOffset() int {
	return chunkHeaderSize + 4
}

// BlockImagePageOffset is the byte offset of page slot i within a block
// chunk image holding nBlocks blocks.
func BlockImagePageOffset(nBlocks, i int) int {
	return chunkHeaderSize + 8 + nBlocks*4 + i*PageSize
}

func (c *Chunk) payloadSize() int {
	switch c.format {
	case FormatRow:
		return 4 + len(c.rows)*4 + c.bytesUsed
	case FormatBlock:
		return 8 + len(c.blockIndex)*4 + len(c.blockIndex)*PageSize
	default:
		size := 0
		for _, vec := range c.cols {
			size += 16 + len(vec.nulls) + len(vec.data) + len(vec.offsets)*4 + len(vec.heap)
		}
		return size
	}
}

// UnmarshalChunk rebuilds a chunk from a flat image produced by Marshal.
// The schema is not part of the image and must match the one the chunk
// was created with.
func UnmarshalChunk(s *Schema, buf []byte) (*Chunk, error) {
	if len(buf) < chunkHeaderSize {
		return nil, utils.StackError(nil, "chunk image truncated: %d bytes", len(buf))
	}
	format := Format(binary.LittleEndian.Uint32(buf[0:]))
	tableID := int32(binary.LittleEndian.Uint32(buf[4:]))
	if tableID != s.TableID {
		return nil, utils.StackError(nil, "chunk image is for table %d, schema is for table %d", tableID, s.TableID)
	}
	items := int(binary.LittleEndian.Uint32(buf[8:]))
	capacity := int(binary.LittleEndian.Uint32(buf[12:]))
	byteLimit := int(binary.LittleEndian.Uint32(buf[16:]))

	r := &imageReader{buf: buf, pos: chunkHeaderSize}
	switch format {
	case FormatRow:
		c := NewDestinationChunk(s, capacity, byteLimit)
		nRows, err := r.uint32()
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(nRows); i++ {
			raw, err := r.bytes()
			if err != nil {
				return nil, err
			}
			if err = c.AppendRawTuple(raw); err != nil {
				return nil, err
			}
		}
		return c, nil
	case FormatBlock:
		c := NewBlockChunk(s, capacity)
		nBlocks, err := r.uint32()
		if err != nil {
			return nil, err
		}
		resident, err := r.uint32()
		if err != nil {
			return nil, err
		}
		if resident > nBlocks {
			return nil, utils.StackError(nil, "chunk image has %d resident of %d blocks", resident, nBlocks)
		}
		index := make([]uint32, nBlocks)
		for i := range index {
			if index[i], err = r.uint32(); err != nil {
				return nil, err
			}
		}
		for i, blockNumber := range index {
			raw, err := r.take(PageSize)
			if err != nil {
				return nil, err
			}
			if uint32(i) >= resident {
				if err = c.AddPendingBlock(blockNumber); err != nil {
					return nil, err
				}
				continue
			}
			p, err := PageFromBytes(raw)
			if err != nil {
				return nil, err
			}
			if err = c.AddPage(blockNumber, p); err != nil {
				return nil, err
			}
		}
		return c, nil
	case FormatColumn:
		c := NewColumnChunk(s, capacity)
		for _, vec := range c.cols {
			var err error
			if vec.nulls, err = r.bytes(); err != nil {
				return nil, err
			}
			if vec.data, err = r.bytes(); err != nil {
				return nil, err
			}
			nOffsets, err := r.uint32()
			if err != nil {
				return nil, err
			}
			if nOffsets > 0 {
				vec.offsets = make([]uint32, nOffsets)
				for i := range vec.offsets {
					if vec.offsets[i], err = r.uint32(); err != nil {
						return nil, err
					}
				}
			}
			if vec.heap, err = r.bytes(); err != nil {
				return nil, err
			}
			vec.length = items
		}
		c.items = items
		return c, nil
	}
	return nil, utils.StackError(nil, "unknown chunk format %d", format)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendBytes(buf, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

type imageReader struct {
	buf []byte
	pos int
}

func (r *imageReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, utils.StackError(nil, "chunk image truncated at offset %d", r.pos)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *imageReader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *imageReader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}
