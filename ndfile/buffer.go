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

	"github.com/ndtslab/ndts"
)

// Meta is the parsed header of a file held in memory, as
// used by read-only consumers (the mmap pool) that do not
// go through an open File.
type Meta struct {
	Schema      *ndts.Schema
	TotalRows   int64
	ChunkCount  int64
	Compression map[string]string
	// DataStart is the offset of the first chunk.
	DataStart int64
}

// ReadMeta parses and validates the header region at the
// start of buf. path is used only for error reporting.
func ReadMeta(path string, buf []byte) (*Meta, error) {
	hdr, hlen, err := decodeHeader(path, buf)
	if err != nil {
		return nil, err
	}
	sch, err := hdr.schema()
	if err != nil {
		return nil, err
	}
	return &Meta{
		Schema:      sch,
		TotalRows:   hdr.TotalRows,
		ChunkCount:  hdr.ChunkCount,
		Compression: hdr.Compression,
		DataStart:   headerEnd(hlen),
	}, nil
}

// WalkBuffer traverses the chunk stream of a whole file
// image, handing fn the row count and the stored segment
// bytes of every column, per chunk. Chunk CRCs are
// verified along the way.
func WalkBuffer(path string, m *Meta, buf []byte, fn func(rows int, segs [][]byte) error) error {
	cc := newColcodec(m.Compression)
	cols := m.Schema.Columns()
	off := m.DataStart
	segs := make([][]byte, len(cols))
	for off < int64(len(buf)) {
		if int64(len(buf))-off < 4 {
			return &ndts.Error{Kind: ndts.KindCorruption, Ident: path, Offset: off, Err: ErrTruncated}
		}
		start := off
		rows := int(binary.LittleEndian.Uint32(buf[off:]))
		if rows == 0 {
			return ndts.ErrorAt(ndts.KindCorruption, path, off, "chunk has zero rows")
		}
		off += 4
		for i := range cols {
			var lead []byte
			if int64(len(buf)) > off {
				end := off + 4
				if end > int64(len(buf)) {
					end = int64(len(buf))
				}
				lead = buf[off:end]
			}
			n, err := cc.segmentSize(cols[i], rows, lead)
			if err != nil {
				return &ndts.Error{Kind: ndts.KindCorruption, Ident: path, Offset: off, Err: err}
			}
			if off+int64(n) > int64(len(buf)) {
				return &ndts.Error{Kind: ndts.KindCorruption, Ident: path, Offset: off, Err: ErrTruncated}
			}
			segs[i] = buf[off : off+int64(n)]
			off += int64(n)
		}
		if off+4 > int64(len(buf)) {
			return &ndts.Error{Kind: ndts.KindCorruption, Ident: path, Offset: start, Err: ErrTruncated}
		}
		want := binary.LittleEndian.Uint32(buf[off:])
		if got := crc32.ChecksumIEEE(buf[start:off]); got != want {
			return &ndts.Error{Kind: ndts.KindCorruption, Ident: path, Offset: off, Err: ErrChunkCRC}
		}
		off += 4
		if err := fn(rows, segs); err != nil {
			return err
		}
	}
	return nil
}

// DecodeSegment recovers raw little-endian column bytes
// from one stored segment, appending to dst. algo is the
// column's entry in the compression plan ("" for raw).
func DecodeSegment(dst []byte, algo string, col ndts.Column, rows int, seg []byte) ([]byte, error) {
	cc := newColcodec(map[string]string{col.Name: algo})
	if algo == "" {
		cc = newColcodec(nil)
	}
	return cc.decodeSegment(dst, col, rows, seg)
}
