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

// PageSize is the raw storage page size in bytes.
const PageSize = 8192

const (
	pageHeaderSize   = 4
	pageSlotSize     = 4
	maxTuplesPerPage = (PageSize - pageHeaderSize) / pageSlotSize
)

// Page is one raw storage page. Layout: a header holding the tuple count
// and the start of tuple data, a slot directory growing from the front
// (uint16 offset, uint16 length per tuple), and tuple data filled from
// the back. The raw bytes are what travels to and from the device.
type Page struct {
	buf []byte
}

// NewPage returns an empty page.
func NewPage() *Page {
	p := &Page{buf: make([]byte, PageSize)}
	binary.LittleEndian.PutUint16(p.buf[2:4], uint16(PageSize))
	return p
}

// PageFromBytes wraps raw page bytes without copying.
func PageFromBytes(buf []byte) (*Page, error) {
	if len(buf) != PageSize {
		return nil, utils.StackError(nil, "page must be %d bytes, got %d", PageSize, len(buf))
	}
	p := &Page{buf: buf}
	if p.NumTuples() > maxTuplesPerPage {
		return nil, utils.StackError(nil, "corrupt page header: %d tuples", p.NumTuples())
	}
	return p, nil
}

// Bytes returns the raw page bytes.
func (p *Page) Bytes() []byte {
	return p.buf
}

// NumTuples returns the number of tuples on the page.
func (p *Page) NumTuples() int {
	return int(binary.LittleEndian.Uint16(p.buf[0:2]))
}

func (p *Page) dataStart() int {
	return int(binary.LittleEndian.Uint16(p.buf[2:4]))
}

// FreeSpace returns the bytes available for one more tuple and its slot.
func (p *Page) FreeSpace() int {
	free := p.dataStart() - (pageHeaderSize + p.NumTuples()*pageSlotSize)
	if free < pageSlotSize {
		return 0
	}
	return free - pageSlotSize
}

// AddTuple appends an encoded tuple to the page.
// Returns false when the page has no room for it.
func (p *Page) AddTuple(raw []byte) bool {
	n := p.NumTuples()
	if n >= maxTuplesPerPage || len(raw) > p.FreeSpace() {
		return false
	}

	start := p.dataStart() - len(raw)
	copy(p.buf[start:], raw)

	slot := pageHeaderSize + n*pageSlotSize
	binary.LittleEndian.PutUint16(p.buf[slot:], uint16(start))
	binary.LittleEndian.PutUint16(p.buf[slot+2:], uint16(len(raw)))

	binary.LittleEndian.PutUint16(p.buf[0:2], uint16(n+1))
	binary.LittleEndian.PutUint16(p.buf[2:4], uint16(start))
	return true
}

// Tuple returns the raw bytes of the i-th tuple on the page.
func (p *Page) Tuple(i int) []byte {
	slot := pageHeaderSize + i*pageSlotSize
	start := int(binary.LittleEndian.Uint16(p.buf[slot:]))
	length := int(binary.LittleEndian.Uint16(p.buf[slot+2:]))
	return p.buf[start : start+length]
}
