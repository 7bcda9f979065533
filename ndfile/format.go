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

// Package ndfile implements the NDTS append-only column
// container: a JSON header protected by a CRC32, followed
// by CRC-framed chunks of little-endian column data.
//
// On-disk layout:
//
//	magic "NDTS"                4 bytes
//	header_len (u32)            4 bytes
//	header_json                 header_len bytes
//	padding to 8-byte boundary  0..7 bytes
//	header_crc32 (u32)          4 bytes
//	chunk*:
//	  row_count (u32)           4 bytes
//	  col_0 .. col_n segments
//	  chunk_crc32 (u32)         4 bytes
//
// The header is the only mutable region; it is rewritten in
// place on every append and is padded at creation so that
// counter growth never changes its length. Everything after
// it is append-only.
package ndfile

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/ndtslab/ndts"
)

var magic = []byte{0x4e, 0x44, 0x54, 0x53} // "NDTS"

const (
	// maximum tolerated header_len; anything larger is
	// rejected as corrupt before allocation
	maxHeaderLen = 16 << 20

	// slack appended to the header JSON at creation so
	// that the counters can grow to full u64 width
	// without moving the chunk region
	headerSlack = 64
)

// Sentinel corruption causes; every instance is wrapped in
// an *ndts.Error carrying the path and byte offset.
var (
	ErrBadMagic  = errors.New("bad magic")
	ErrHeaderCRC = errors.New("header checksum mismatch")
	ErrChunkCRC  = errors.New("chunk checksum mismatch")
	ErrTruncated = errors.New("truncated chunk tail")
)

// header is the JSON document at the start of every file.
type header struct {
	Columns     []headerColumn    `json:"columns"`
	TotalRows   int64             `json:"totalRows"`
	ChunkCount  int64             `json:"chunkCount"`
	Compression map[string]string `json:"compression,omitempty"`
}

type headerColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func headerFromSchema(s *ndts.Schema, compression map[string]string) *header {
	h := &header{Compression: compression}
	for _, c := range s.Columns() {
		h.Columns = append(h.Columns, headerColumn{Name: c.Name, Type: c.Type.String()})
	}
	return h
}

func (h *header) schema() (*ndts.Schema, error) {
	cols := make([]ndts.Column, 0, len(h.Columns))
	for i := range h.Columns {
		t, ok := ndts.ParseType(h.Columns[i].Type)
		if !ok {
			return nil, ndts.Errorf(ndts.KindSchema, h.Columns[i].Name,
				"unknown column type %q", h.Columns[i].Type)
		}
		cols = append(cols, ndts.Column{Name: h.Columns[i].Name, Type: t})
	}
	return ndts.NewSchema(cols...)
}

// pad8 returns n rounded up to the next multiple of 8.
func pad8(n int) int { return (n + 7) &^ 7 }

// headerEnd returns the offset of the first chunk given
// the stored header_len.
func headerEnd(headerLen int) int64 {
	return int64(pad8(8+headerLen)) + 4
}

// encodeHeader produces the full mutable region
// (magic .. header_crc32). jsonLen fixes the size of the
// JSON area; the marshaled document is padded with spaces,
// which the JSON reader ignores.
func encodeHeader(h *header, jsonLen int) ([]byte, error) {
	doc, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	if jsonLen == 0 {
		jsonLen = len(doc) + headerSlack
	}
	if len(doc) > jsonLen {
		return nil, fmt.Errorf("header grew to %d bytes past its %d-byte reservation", len(doc), jsonLen)
	}
	region := make([]byte, pad8(8+jsonLen)+4)
	copy(region, magic)
	binary.LittleEndian.PutUint32(region[4:], uint32(jsonLen))
	copy(region[8:], doc)
	for i := 8 + len(doc); i < 8+jsonLen; i++ {
		region[i] = ' '
	}
	crc := crc32.ChecksumIEEE(region[:len(region)-4])
	binary.LittleEndian.PutUint32(region[len(region)-4:], crc)
	return region, nil
}

// decodeHeader parses the mutable region from the start of
// buf, returning the header and the stored header_len.
func decodeHeader(path string, buf []byte) (*header, int, error) {
	if len(buf) < 8 {
		return nil, 0, &ndts.Error{Kind: ndts.KindCorruption, Ident: path, Offset: 0, Err: ErrTruncated}
	}
	if string(buf[:4]) != string(magic) {
		return nil, 0, &ndts.Error{Kind: ndts.KindCorruption, Ident: path, Offset: 0, Err: ErrBadMagic}
	}
	hlen := int(binary.LittleEndian.Uint32(buf[4:]))
	if hlen > maxHeaderLen {
		return nil, 0, ndts.ErrorAt(ndts.KindCorruption, path, 4, "header length %d exceeds %d", hlen, maxHeaderLen)
	}
	end := headerEnd(hlen)
	if int64(len(buf)) < end {
		return nil, 0, &ndts.Error{Kind: ndts.KindCorruption, Ident: path, Offset: int64(len(buf)), Err: ErrTruncated}
	}
	want := binary.LittleEndian.Uint32(buf[end-4:])
	got := crc32.ChecksumIEEE(buf[:end-4])
	if want != got {
		return nil, 0, &ndts.Error{Kind: ndts.KindCorruption, Ident: path, Offset: end - 4, Err: ErrHeaderCRC}
	}
	h := new(header)
	if err := json.Unmarshal(buf[8:8+hlen], h); err != nil {
		return nil, 0, ndts.ErrorAt(ndts.KindCorruption, path, 8, "header json: %s", err)
	}
	if h.Columns == nil {
		return nil, 0, ndts.ErrorAt(ndts.KindCorruption, path, 8, "header json missing columns")
	}
	return h, hlen, nil
}
