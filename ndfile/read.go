// Copyright (C) 2023 NDTS Labs, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package ndfile

import (
	"encoding/binary"
	"hash/crc32"
	"math"

	"github.com/ndtslab/ndts"
)

// chunkMeta locates one chunk inside the file.
type chunkMeta struct {
	index int
	off   int64 // offset of row_count
	rows  int
	segs  []int64 // absolute offset of each column segment
	sizes []int   // stored size of each column segment
	size  int64   // total size including row_count and crc
}

// walkChunks traverses chunk metadata from the first chunk
// to EOF without reading column payloads (beyond the u32
// length prefix of compressed segments). fn may return
// errStopWalk to end the traversal early.
func (f *File) walkChunks(fn func(c *chunkMeta) error) error {
	cols := f.schema.Columns()
	off := headerEnd(f.hlen)
	index := 0
	var lead [4]byte
	for off < f.eof {
		if f.eof-off < 4 {
			return &ndts.Error{Kind: ndts.KindCorruption, Ident: f.path, Offset: off, Err: ErrTruncated}
		}
		if _, err := f.f.ReadAt(lead[:], off); err != nil {
			return ndts.WrapIO(f.path, err)
		}
		rows := int(binary.LittleEndian.Uint32(lead[:]))
		if rows == 0 {
			return ndts.ErrorAt(ndts.KindCorruption, f.path, off, "chunk %d has zero rows", index)
		}
		c := chunkMeta{
			index: index,
			off:   off,
			rows:  rows,
			segs:  make([]int64, len(cols)),
			sizes: make([]int, len(cols)),
		}
		cur := off + 4
		for i := range cols {
			var segLead []byte
			if f.cc.algo(cols[i].Name) != "" {
				if f.eof-cur < 4 {
					return &ndts.Error{Kind: ndts.KindCorruption, Ident: f.path, Offset: cur, Err: ErrTruncated}
				}
				if _, err := f.f.ReadAt(lead[:], cur); err != nil {
					return ndts.WrapIO(f.path, err)
				}
				segLead = lead[:]
			}
			n, err := f.cc.segmentSize(cols[i], rows, segLead)
			if err != nil {
				return &ndts.Error{Kind: ndts.KindCorruption, Ident: f.path, Offset: cur, Err: err}
			}
			c.segs[i] = cur
			c.sizes[i] = n
			cur += int64(n)
		}
		cur += 4 // chunk crc
		if cur > f.eof {
			return &ndts.Error{Kind: ndts.KindCorruption, Ident: f.path, Offset: off, Err: ErrTruncated}
		}
		c.size = cur - off
		if err := fn(&c); err != nil {
			if err == errStopWalk {
				return nil
			}
			return err
		}
		off = cur
		index++
	}
	return nil
}

var errStopWalk = ndts.Errorf(ndts.KindState, "", "stop walk")

// readChunk reads the full stored bytes of c and verifies
// its CRC.
func (f *File) readChunk(c *chunkMeta) ([]byte, error) {
	buf := make([]byte, c.size)
	if _, err := f.f.ReadAt(buf, c.off); err != nil {
		return nil, ndts.WrapIO(f.path, err)
	}
	want := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	got := crc32.ChecksumIEEE(buf[:len(buf)-4])
	if want != got {
		return nil, &ndts.Error{Kind: ndts.KindCorruption, Ident: f.path, Offset: c.off + c.size - 4, Err: ErrChunkCRC}
	}
	return buf, nil
}

// Columns is the fully-assembled column data of a file.
type Columns struct {
	sch  *ndts.Schema
	bufs [][]byte
	rows int64
}

// Schema returns the schema the columns belong to.
func (c *Columns) Schema() *ndts.Schema { return c.sch }

// Rows returns the number of rows.
func (c *Columns) Rows() int64 { return c.rows }

// Bytes returns the raw little-endian buffer of the named
// column, or nil when absent.
func (c *Columns) Bytes(name string) []byte {
	i, ok := c.sch.Lookup(name)
	if !ok {
		return nil
	}
	return c.bufs[i]
}

// Int64s returns the named column as []int64.
func (c *Columns) Int64s(name string) []int64 { return ndts.Int64View(c.Bytes(name)) }

// Int32s returns the named column as []int32.
func (c *Columns) Int32s(name string) []int32 { return ndts.Int32View(c.Bytes(name)) }

// Int16s returns the named column as []int16.
func (c *Columns) Int16s(name string) []int16 { return ndts.Int16View(c.Bytes(name)) }

// Float64s returns the named column as []float64.
func (c *Columns) Float64s(name string) []float64 { return ndts.Float64View(c.Bytes(name)) }

// Slice returns a window [lo, hi) of the columns without
// copying.
func (c *Columns) Slice(lo, hi int64) *Columns {
	out := &Columns{sch: c.sch, bufs: make([][]byte, len(c.bufs)), rows: hi - lo}
	for i, col := range c.sch.Columns() {
		w := int64(col.Type.Width())
		out.bufs[i] = c.bufs[i][lo*w : hi*w]
	}
	return out
}

// RowMap materializes row i as a column-name-keyed map,
// suitable for feeding back through a Batch.
func (c *Columns) RowMap(i int64) map[string]interface{} {
	cols := c.sch.Columns()
	out := make(map[string]interface{}, len(cols))
	for j := range cols {
		switch cols[j].Type {
		case ndts.Int16:
			out[cols[j].Name] = int64(ndts.Int16View(c.bufs[j])[i])
		case ndts.Int32:
			out[cols[j].Name] = int64(ndts.Int32View(c.bufs[j])[i])
		case ndts.Int64:
			out[cols[j].Name] = ndts.Int64View(c.bufs[j])[i]
		default:
			out[cols[j].Name] = ndts.Float64View(c.bufs[j])[i]
		}
	}
	return out
}

// ReadAll streams every chunk and concatenates the column
// data into per-column buffers of totalRows values.
func (f *File) ReadAll() (*Columns, error) {
	if err := f.stateErr(); err != nil {
		return nil, err
	}
	cols := f.schema.Columns()
	out := &Columns{
		sch:  f.schema,
		bufs: make([][]byte, len(cols)),
	}
	for i := range cols {
		out.bufs[i] = make([]byte, 0, int(f.hdr.TotalRows)*cols[i].Type.Width())
	}
	err := f.walkChunks(func(c *chunkMeta) error {
		buf, err := f.readChunk(c)
		if err != nil {
			return err
		}
		for i := range cols {
			seg := buf[c.segs[i]-c.off : c.segs[i]-c.off+int64(c.sizes[i])]
			out.bufs[i], err = f.cc.decodeSegment(out.bufs[i], cols[i], c.rows, seg)
			if err != nil {
				return &ndts.Error{Kind: ndts.KindCorruption, Ident: f.path, Offset: c.segs[i], Err: err}
			}
		}
		out.rows += int64(c.rows)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Row is one decoded row.
type Row struct {
	sch *ndts.Schema
	raw []uint64
}

// Int64 returns the named column as an int64.
func (r Row) Int64(name string) int64 {
	i, _ := r.sch.Lookup(name)
	return int64(r.raw[i])
}

// Float64 returns the named column as a float64.
func (r Row) Float64(name string) float64 {
	i, ok := r.sch.Lookup(name)
	if !ok {
		return 0
	}
	if r.sch.Columns()[i].Type == ndts.Float64 {
		return math.Float64frombits(r.raw[i])
	}
	return float64(int64(r.raw[i]))
}

// Map materializes the row as a column-name-keyed map.
func (r Row) Map() map[string]interface{} {
	cols := r.sch.Columns()
	out := make(map[string]interface{}, len(cols))
	for i := range cols {
		if cols[i].Type == ndts.Float64 {
			out[cols[i].Name] = math.Float64frombits(r.raw[i])
		} else {
			out[cols[i].Name] = int64(r.raw[i])
		}
	}
	return out
}

// ReadLastRow walks the chunk headers to the final chunk,
// reads and decodes only that chunk, and returns its last
// row; earlier chunk payloads are never read.
func (f *File) ReadLastRow() (Row, error) {
	if err := f.stateErr(); err != nil {
		return Row{}, err
	}
	if f.hdr.TotalRows == 0 {
		return Row{}, ndts.Errorf(ndts.KindRange, f.path, "file has no rows")
	}
	var last chunkMeta
	found := false
	err := f.walkChunks(func(c *chunkMeta) error {
		last = *c
		found = true
		return nil
	})
	if err != nil {
		return Row{}, err
	}
	if !found {
		return Row{}, ndts.ErrorAt(ndts.KindCorruption, f.path, headerEnd(f.hlen), "header counts %d rows but the file has no chunks", f.hdr.TotalRows)
	}
	buf, err := f.readChunk(&last)
	if err != nil {
		return Row{}, err
	}
	cols := f.schema.Columns()
	row := Row{sch: f.schema, raw: make([]uint64, len(cols))}
	for i := range cols {
		seg := buf[last.segs[i]-last.off : last.segs[i]-last.off+int64(last.sizes[i])]
		raw, err := f.cc.decodeSegment(nil, cols[i], last.rows, seg)
		if err != nil {
			return Row{}, &ndts.Error{Kind: ndts.KindCorruption, Ident: f.path, Offset: last.segs[i], Err: err}
		}
		w := cols[i].Type.Width()
		tail := raw[(last.rows-1)*w:]
		switch cols[i].Type {
		case ndts.Int16:
			row.raw[i] = uint64(ndts.Int16View(tail)[0])
		case ndts.Int32:
			row.raw[i] = uint64(ndts.Int32View(tail)[0])
		default:
			row.raw[i] = binary.LittleEndian.Uint64(tail)
		}
	}
	return row, nil
}
