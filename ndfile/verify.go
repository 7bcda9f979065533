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
	"strconv"

	"github.com/ndtslab/ndts"
)

// Report is the result of Verify: every problem found, not
// just the first.
type Report struct {
	Path   string
	Rows   int64 // rows observed in the chunk stream
	Chunks int64 // chunks observed in the chunk stream
	Errs   []error
}

// OK reports whether verification found no errors.
func (r *Report) OK() bool { return len(r.Errs) == 0 }

// Verify recomputes the header CRC and every chunk CRC,
// reporting all mismatches with their offsets. Counter
// disagreement between the header and the chunk stream is
// reported as well.
func (f *File) Verify() *Report {
	rpt := &Report{Path: f.path}
	if err := f.stateErr(); err != nil {
		rpt.Errs = append(rpt.Errs, err)
		return rpt
	}
	// re-read the header region from disk; the in-memory
	// copy is not evidence of what the file holds
	region := make([]byte, headerEnd(f.hlen))
	if _, err := f.f.ReadAt(region, 0); err != nil {
		rpt.Errs = append(rpt.Errs, ndts.WrapIO(f.path, err))
		return rpt
	}
	if _, _, err := decodeHeader(f.path, region); err != nil {
		rpt.Errs = append(rpt.Errs, err)
	}
	err := f.walkChunks(func(c *chunkMeta) error {
		buf := make([]byte, c.size)
		if _, err := f.f.ReadAt(buf, c.off); err != nil {
			return ndts.WrapIO(f.path, err)
		}
		want := binary.LittleEndian.Uint32(buf[len(buf)-4:])
		got := crc32.ChecksumIEEE(buf[:len(buf)-4])
		if want != got {
			rpt.Errs = append(rpt.Errs, &ndts.Error{
				Kind:   ndts.KindCorruption,
				Ident:  f.path,
				Offset: c.off + c.size - 4,
				Msg:    "chunk " + strconv.Itoa(c.index),
				Err:    ErrChunkCRC,
			})
		}
		rpt.Rows += int64(c.rows)
		rpt.Chunks++
		return nil
	})
	if err != nil {
		// structural damage; the walk cannot continue past it
		rpt.Errs = append(rpt.Errs, err)
		return rpt
	}
	if rpt.Rows != f.hdr.TotalRows {
		rpt.Errs = append(rpt.Errs, ndts.Errorf(ndts.KindCorruption, f.path,
			"header counts %d rows but the chunk stream holds %d", f.hdr.TotalRows, rpt.Rows))
	}
	if rpt.Chunks != f.hdr.ChunkCount {
		rpt.Errs = append(rpt.Errs, ndts.Errorf(ndts.KindCorruption, f.path,
			"header counts %d chunks but the chunk stream holds %d", f.hdr.ChunkCount, rpt.Chunks))
	}
	return rpt
}

// RecoverStats summarizes a RecoverCounters pass.
type RecoverStats struct {
	Rows           int64
	Chunks         int64
	TruncatedBytes int64
}

// RecoverCounters rescans the chunk stream, truncates the
// file after the last chunk whose CRC verifies, and
// rewrites the header counters to match. It is the opt-in
// repair for a crash between the chunk write and the
// header rewrite.
func (f *File) RecoverCounters() (RecoverStats, error) {
	var st RecoverStats
	if err := f.stateErr(); err != nil {
		return st, err
	}
	valid := headerEnd(f.hlen)
	err := f.walkChunks(func(c *chunkMeta) error {
		if _, err := f.readChunk(c); err != nil {
			return errStopWalk
		}
		st.Rows += int64(c.rows)
		st.Chunks++
		valid = c.off + c.size
		return nil
	})
	if err != nil && !ndts.IsKind(err, ndts.KindCorruption) {
		return st, err
	}
	st.TruncatedBytes = f.eof - valid
	if st.TruncatedBytes > 0 {
		if err := f.f.Truncate(valid); err != nil {
			return st, ndts.WrapIO(f.path, err)
		}
		f.eof = valid
	}
	f.hdr.TotalRows = st.Rows
	f.hdr.ChunkCount = st.Chunks
	if err := f.rewriteHeader(); err != nil {
		return st, err
	}
	if err := f.f.Sync(); err != nil {
		return st, ndts.WrapIO(f.path, err)
	}
	return st, nil
}

