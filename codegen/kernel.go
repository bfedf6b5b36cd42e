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
	"encoding/binary"
	"math"

	"github.com/uber/gpuscan/chunk"
	"github.com/uber/gpuscan/devicemem"
	"github.com/uber/gpuscan/expr"
	"github.com/uber/gpuscan/utils"
)

// ResultHeaderSize is the fixed prefix of every result buffer: status,
// rows in, rows out and extra bytes consumed, little endian uint32 each.
// An index array or a marshaled destination chunk image follows.
const ResultHeaderSize = 16

// ResultHeader is the per task outcome a kernel leaves at the front of
// the result buffer.
type ResultHeader struct {
	Status     devicemem.Status
	RowsIn     uint32
	RowsOut    uint32
	ExtraBytes uint32
}

// ParseResultHeader decodes the header from a result buffer staged back
// to the host.
func ParseResultHeader(buf []byte) (ResultHeader, error) {
	if len(buf) < ResultHeaderSize {
		return ResultHeader{}, utils.StackError(nil, "result buffer truncated: %d bytes", len(buf))
	}
	return ResultHeader{
		Status:     devicemem.Status(binary.LittleEndian.Uint32(buf[0:])),
		RowsIn:     binary.LittleEndian.Uint32(buf[4:]),
		RowsOut:    binary.LittleEndian.Uint32(buf[8:]),
		ExtraBytes: binary.LittleEndian.Uint32(buf[12:]),
	}, nil
}

func writeResultHeader(buf []byte, h ResultHeader) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(h.Status))
	binary.LittleEndian.PutUint32(buf[4:], h.RowsIn)
	binary.LittleEndian.PutUint32(buf[8:], h.RowsOut)
	binary.LittleEndian.PutUint32(buf[12:], h.ExtraBytes)
}

// ResultIndexes decodes an index mode result: the source row positions
// the predicate accepted, in source order.
func ResultIndexes(buf []byte, rowsOut uint32) ([]uint32, error) {
	if len(buf) < ResultHeaderSize+int(rowsOut)*4 {
		return nil, utils.StackError(nil, "result buffer truncated: %d bytes for %d indexes", len(buf), rowsOut)
	}
	indexes := make([]uint32, rowsOut)
	for i := range indexes {
		indexes[i] = binary.LittleEndian.Uint32(buf[ResultHeaderSize+i*4:])
	}
	return indexes, nil
}

// ResultDestination decodes a materialized mode result into the
// destination chunk the kernel built.
func ResultDestination(projSchema *chunk.Schema, buf []byte) (*chunk.Chunk, error) {
	return chunk.UnmarshalChunk(projSchema, buf[ResultHeaderSize:])
}

// MarshalParams encodes the bound query constants in binding order for
// upload into the task's parameter buffer.
func MarshalParams(names []string, params map[string]expr.Value) []byte {
	buf := make([]byte, 4, 4+len(names)*10)
	binary.LittleEndian.PutUint32(buf, uint32(len(names)))
	for _, name := range names {
		v := params[name]
		buf = append(buf, byte(v.Kind))
		if v.Null {
			buf = append(buf, 1)
			continue
		}
		buf = append(buf, 0)
		switch v.Kind {
		case expr.Str:
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], uint32(len(v.StrVal)))
			buf = append(buf, tmp[:]...)
			buf = append(buf, v.StrVal...)
		case expr.Boolean:
			b := byte(0)
			if v.BoolVal {
				b = 1
			}
			buf = append(buf, b)
		case expr.Float:
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v.FloatVal))
			buf = append(buf, tmp[:]...)
		default:
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], uint64(v.IntVal))
			buf = append(buf, tmp[:]...)
		}
	}
	return buf
}

// UnmarshalParams decodes a parameter buffer back into values.
func UnmarshalParams(buf []byte) ([]expr.Value, error) {
	if len(buf) < 4 {
		return nil, utils.StackError(nil, "parameter buffer truncated")
	}
	n := int(binary.LittleEndian.Uint32(buf))
	pos := 4
	vals := make([]expr.Value, 0, n)
	for i := 0; i < n; i++ {
		if pos+2 > len(buf) {
			return nil, utils.StackError(nil, "parameter buffer truncated at %d", pos)
		}
		kind := expr.Type(buf[pos])
		null := buf[pos+1] == 1
		pos += 2
		if null {
			vals = append(vals, expr.NullValue())
			continue
		}
		switch kind {
		case expr.Str:
			if pos+4 > len(buf) {
				return nil, utils.StackError(nil, "parameter buffer truncated at %d", pos)
			}
			l := int(binary.LittleEndian.Uint32(buf[pos:]))
			pos += 4
			if pos+l > len(buf) {
				return nil, utils.StackError(nil, "parameter buffer truncated at %d", pos)
			}
			vals = append(vals, expr.StringValue(string(buf[pos:pos+l])))
			pos += l
		case expr.Boolean:
			vals = append(vals, expr.BoolValue(buf[pos] == 1))
			pos++
		case expr.Float:
			if pos+8 > len(buf) {
				return nil, utils.StackError(nil, "parameter buffer truncated at %d", pos)
			}
			vals = append(vals, expr.FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(buf[pos:]))))
			pos += 8
		default:
			if pos+8 > len(buf) {
				return nil, utils.StackError(nil, "parameter buffer truncated at %d", pos)
			}
			vals = append(vals, expr.IntValue(int64(binary.LittleEndian.Uint64(buf[pos:]))))
			pos += 8
		}
	}
	return vals, nil
}

// KernelBuffers wires one task's device allocations into a launch.
type KernelBuffers struct {
	Manager    *devicemem.Manager
	Source     devicemem.DevicePointer
	SourceSize int
	Params     devicemem.DevicePointer
	ParamsSize int
	Result     devicemem.DevicePointer
	ResultSize int

	// Destination sizing, used only when the program materializes.
	DestCapacity  int
	DestByteLimit int
}

// ScanKernel builds the device function for one task. The kernel runs
// entirely against device resident buffers: it decodes the source chunk
// image, evaluates the predicate per tuple, and produces either an index
// list or a marshaled destination chunk, leaving status and counters in
// the result header.
func (p *Program) ScanKernel(format chunk.Format, b KernelBuffers) devicemem.Kernel {
	return func(g devicemem.Grid) devicemem.Status {
		return p.run(format, b)
	}
}

func (p *Program) run(format chunk.Format, b KernelBuffers) devicemem.Status {
	resBytes, err := b.Manager.Bytes(b.Result, b.ResultSize)
	if err != nil || b.ResultSize < ResultHeaderSize {
		return devicemem.StatusInvalidAccess
	}
	header := ResultHeader{Status: devicemem.StatusSuccess}
	finish := func(s devicemem.Status) devicemem.Status {
		header.Status = s
		writeResultHeader(resBytes, header)
		return s
	}

	srcBytes, err := b.Manager.Bytes(b.Source, b.SourceSize)
	if err != nil {
		return finish(devicemem.StatusInvalidAccess)
	}
	src, err := chunk.UnmarshalChunk(p.src.schema, srcBytes)
	if err != nil || src.Format() != format {
		return finish(devicemem.StatusInvalidAccess)
	}

	var params []expr.Value
	if b.ParamsSize > 0 {
		paramBytes, err := b.Manager.Bytes(b.Params, b.ParamsSize)
		if err != nil {
			return finish(devicemem.StatusInvalidAccess)
		}
		if params, err = UnmarshalParams(paramBytes); err != nil {
			return finish(devicemem.StatusInvalidAccess)
		}
	}
	if len(params) != len(p.src.ParamNames) {
		return finish(devicemem.StatusInvalidAccess)
	}

	var dest *chunk.Chunk
	indexCap := 0
	if p.src.HasProjection() {
		dest = chunk.NewDestinationChunk(p.src.projSchema, b.DestCapacity, b.DestByteLimit)
	} else {
		indexCap = (b.ResultSize - ResultHeaderSize) / 4
	}

	env := &evalEnv{vars: make([]expr.Value, len(p.src.st.vars)), params: params}
	load := p.varLoader(format, src)

	items := src.Items()
	for i := 0; i < items; i++ {
		header.RowsIn++
		if err := load(i, env); err != nil {
			return finish(devicemem.StatusInvalidAccess)
		}

		if p.pred != nil {
			v, ok := p.pred(env)
			if !ok {
				return finish(devicemem.StatusCPUReCheck)
			}
			if v.Null || !v.BoolVal {
				continue
			}
		}

		if dest != nil {
			vals, extra, ok := p.project(env)
			if !ok {
				return finish(devicemem.StatusCPUReCheck)
			}
			if err := dest.AppendTuple(vals); err != nil {
				if err == chunk.ErrChunkFull {
					return finish(devicemem.StatusNoSpace)
				}
				return finish(devicemem.StatusInvalidAccess)
			}
			header.ExtraBytes += extra
		} else {
			if int(header.RowsOut) >= indexCap {
				return finish(devicemem.StatusNoSpace)
			}
			binary.LittleEndian.PutUint32(resBytes[ResultHeaderSize+int(header.RowsOut)*4:], uint32(i))
		}
		header.RowsOut++
	}

	if dest != nil {
		img := dest.Marshal()
		if ResultHeaderSize+len(img) > b.ResultSize {
			return finish(devicemem.StatusNoSpace)
		}
		copy(resBytes[ResultHeaderSize:], img)
	}
	return finish(devicemem.StatusSuccess)
}

// varLoader builds the per layout variable load path. Tuple based
// layouts use a direct offset seek when exactly one attribute is
// referenced and otherwise one forward decode pass per tuple; the
// column layout reads the pre decoded vectors directly.
func (p *Program) varLoader(format chunk.Format, src *chunk.Chunk) func(row int, env *evalEnv) error {
	st := p.src.st
	userVars := 0
	for _, v := range st.vars {
		if v.AttrNo > 0 {
			userVars++
		}
	}

	loadSystem := func(row int, env *evalEnv) {
		for idx, v := range st.vars {
			switch v.AttrNo {
			case chunk.SysColRowID:
				env.vars[idx] = expr.IntValue(int64(row))
			case chunk.SysColTableID:
				env.vars[idx] = expr.IntValue(int64(p.src.schema.TableID))
			}
		}
	}

	if format == chunk.FormatColumn {
		return func(row int, env *evalEnv) error {
			for idx, v := range st.vars {
				if v.AttrNo > 0 {
					env.vars[idx] = src.ColumnValue(v.ColumnID, row)
				}
			}
			loadSystem(row, env)
			return nil
		}
	}

	if userVars == 1 {
		return func(row int, env *evalEnv) error {
			raw := src.RawTuple(row)
			for idx, v := range st.vars {
				if v.AttrNo > 0 {
					val, err := chunk.DecodeColumn(p.src.schema, raw, v.ColumnID)
					if err != nil {
						return err
					}
					env.vars[idx] = val
				}
			}
			loadSystem(row, env)
			return nil
		}
	}

	return func(row int, env *evalEnv) error {
		if userVars > 0 {
			vals, err := chunk.DecodeTuple(p.src.schema, src.RawTuple(row))
			if err != nil {
				return err
			}
			for idx, v := range st.vars {
				if v.AttrNo > 0 {
					env.vars[idx] = vals[v.ColumnID]
				}
			}
		}
		loadSystem(row, env)
		return nil
	}
}

func (p *Program) project(env *evalEnv) ([]expr.Value, uint32, bool) {
	vals := make([]expr.Value, len(p.outs))
	var extra uint32
	for j, co := range p.outs {
		var v expr.Value
		if co.direct {
			v = env.vars[co.varIdx]
		} else {
			var ok bool
			if v, ok = co.eval(env); !ok {
				return nil, 0, false
			}
		}
		if !v.Null && co.out.typ == chunk.Text {
			extra += uint32(len(v.StrVal))
		}
		vals[j] = v
	}
	return vals, extra, true
}
