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
	"math"

	"github.com/ndtslab/ndts"
	"github.com/ndtslab/ndts/codec"
	"github.com/ndtslab/ndts/compr"
)

// The compression plan maps column names to one of:
//
//	zstd, s2, snappy  byte-level block compression
//	gorilla           float64 columns only
//	delta             int64 columns only
//
// A compressed column segment is stored as a u32 encoded
// length followed by the encoded bytes; uncompressed
// segments are the raw rows*width bytes. The plan is fixed
// when the file is created.

func validatePlan(s *ndts.Schema, plan map[string]string) error {
	for name, algo := range plan {
		i, ok := s.Lookup(name)
		if !ok {
			return ndts.Errorf(ndts.KindSchema, name, "compression plan names unknown column %q", name)
		}
		typ := s.Columns()[i].Type
		switch algo {
		case "zstd", "zstd-better", "s2", "snappy":
		case "gorilla":
			if typ != ndts.Float64 {
				return ndts.Errorf(ndts.KindSchema, name, "gorilla compression requires float64, not %s", typ)
			}
		case "delta":
			if typ != ndts.Int64 {
				return ndts.Errorf(ndts.KindSchema, name, "delta compression requires int64, not %s", typ)
			}
		default:
			return ndts.Errorf(ndts.KindSchema, name, "unknown compression %q", algo)
		}
	}
	return nil
}

// colcodec encodes and decodes column segments according
// to one file's compression plan.
type colcodec struct {
	plan map[string]string
	comp map[string]compr.Compressor
}

func newColcodec(plan map[string]string) *colcodec {
	return &colcodec{plan: plan}
}

func (c *colcodec) algo(col string) string {
	if c == nil || c.plan == nil {
		return ""
	}
	return c.plan[col]
}

func (c *colcodec) compressor(algo string) compr.Compressor {
	if cc := c.comp[algo]; cc != nil {
		return cc
	}
	if c.comp == nil {
		c.comp = make(map[string]compr.Compressor)
	}
	cc := compr.Compression(algo)
	c.comp[algo] = cc
	return cc
}

// appendSegment appends the stored form of one column of
// one chunk to dst.
func (c *colcodec) appendSegment(dst []byte, col ndts.Column, raw []byte) ([]byte, error) {
	algo := c.algo(col.Name)
	if algo == "" {
		return append(dst, raw...), nil
	}
	var enc []byte
	switch algo {
	case "gorilla":
		enc = codec.GorillaCompress(nil, ndts.Float64View(raw))
	case "delta":
		enc = codec.DeltaCompress(nil, ndts.Int64View(raw))
	default:
		enc = c.compressor(algo).Compress(raw, nil)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(enc)))
	dst = append(dst, hdr[:]...)
	return append(dst, enc...), nil
}

// segmentSize returns the stored size of the next segment
// of column col, given the chunk's row count and the
// leading bytes of the segment (at least 4 when the column
// is compressed).
func (c *colcodec) segmentSize(col ndts.Column, rows int, lead []byte) (int, error) {
	if c.algo(col.Name) == "" {
		return rows * col.Type.Width(), nil
	}
	if len(lead) < 4 {
		return 0, ErrTruncated
	}
	return 4 + int(binary.LittleEndian.Uint32(lead)), nil
}

// decodeSegment recovers the raw little-endian column bytes
// from the stored form seg.
func (c *colcodec) decodeSegment(dst []byte, col ndts.Column, rows int, seg []byte) ([]byte, error) {
	algo := c.algo(col.Name)
	if algo == "" {
		return append(dst, seg...), nil
	}
	if len(seg) < 4 {
		return nil, ErrTruncated
	}
	payload := seg[4:]
	switch algo {
	case "gorilla":
		vals, err := codec.GorillaDecompress(nil, payload)
		if err != nil {
			return nil, err
		}
		if len(vals) != rows {
			return nil, ErrTruncated
		}
		for _, v := range vals {
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
			dst = append(dst, tmp[:]...)
		}
		return dst, nil
	case "delta":
		vals, err := codec.DeltaDecompress(nil, payload)
		if err != nil {
			return nil, err
		}
		if len(vals) != rows {
			return nil, ErrTruncated
		}
		for _, v := range vals {
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], uint64(v))
			dst = append(dst, tmp[:]...)
		}
		return dst, nil
	default:
		dec := compr.Decompression(algo)
		raw := make([]byte, rows*col.Type.Width())
		if err := dec.Decompress(payload, raw); err != nil {
			return nil, err
		}
		return append(dst, raw...), nil
	}
}
