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
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/ndtslab/ndts"
)

// CompactOptions configures Compact and Rewrite.
type CompactOptions struct {
	// KeepBackup preserves the previous file contents
	// at path+".bak".
	KeepBackup bool
}

// CompactStats summarizes a compaction.
type CompactStats struct {
	BeforeRows    int64
	AfterRows     int64
	DeletedRows   int64
	ChunksWritten int64
}

// Transform maps one row during Rewrite. Returning
// keep=false drops the row; otherwise the returned map is
// coerced through the file schema and written out.
type Transform func(row map[string]interface{}, index int64) (out map[string]interface{}, keep bool)

// Compact streams the file chunk-by-chunk into a fresh
// file at a temporary path, omitting tombstoned rows, then
// atomically renames it over the original. The tombstone
// set is consumed and cleared. On error or cancellation
// the original file is left in its committed state.
func (f *File) Compact(ctx context.Context, opts *CompactOptions) (CompactStats, error) {
	return f.rewriteFile(ctx, nil, opts)
}

// Rewrite is Compact with a per-row transform: tombstoned
// rows are dropped, every surviving row passes through tr,
// and the result replaces the file. The table is never
// materialized whole; one chunk is in memory at a time.
func (f *File) Rewrite(ctx context.Context, tr Transform, opts *CompactOptions) (CompactStats, error) {
	if tr == nil {
		return CompactStats{}, ndts.Errorf(ndts.KindState, f.path, "nil transform")
	}
	return f.rewriteFile(ctx, tr, opts)
}

func (f *File) rewriteFile(ctx context.Context, tr Transform, opts *CompactOptions) (CompactStats, error) {
	var st CompactStats
	if err := f.stateErr(); err != nil {
		return st, err
	}
	if opts == nil {
		opts = &CompactOptions{}
	}
	st.BeforeRows = f.hdr.TotalRows
	tmp := f.path + ".tmp-" + uuid.NewString()[:8]
	dst, err := create(tmp, f.schema, &Options{Compression: f.hdr.Compression})
	if err != nil {
		return st, err
	}
	fail := func(err error) (CompactStats, error) {
		dst.Close()
		os.Remove(tmp)
		return st, err
	}
	base := int64(0)
	batch := ndts.NewBatch(f.schema)
	cols := f.schema.Columns()
	err = f.walkChunks(func(c *chunkMeta) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf, err := f.readChunk(c)
		if err != nil {
			return err
		}
		decoded := make([][]byte, len(cols))
		for i := range cols {
			seg := buf[c.segs[i]-c.off : c.segs[i]-c.off+int64(c.sizes[i])]
			decoded[i], err = f.cc.decodeSegment(nil, cols[i], c.rows, seg)
			if err != nil {
				return &ndts.Error{Kind: ndts.KindCorruption, Ident: f.path, Offset: c.segs[i], Err: err}
			}
		}
		view := &Columns{sch: f.schema, bufs: decoded, rows: int64(c.rows)}
		batch.Reset()
		for r := 0; r < c.rows; r++ {
			global := base + int64(r)
			if f.tombs.Has(uint32(global)) {
				continue
			}
			row := view.RowMap(int64(r))
			if tr != nil {
				out, keep := tr(row, global)
				if !keep {
					continue
				}
				row = out
			}
			if err := batch.AppendRow(row); err != nil {
				return err
			}
		}
		base += int64(c.rows)
		if batch.Len() == 0 {
			return nil
		}
		if err := dst.Append(batch); err != nil {
			return err
		}
		st.ChunksWritten++
		return nil
	})
	if err != nil {
		return fail(err)
	}
	st.AfterRows = dst.hdr.TotalRows
	st.DeletedRows = st.BeforeRows - st.AfterRows
	if err := dst.Sync(); err != nil {
		return fail(err)
	}
	if err := dst.Close(); err != nil {
		return fail(err)
	}
	// swap the new file in; rename is atomic on the same volume
	if err := f.f.Close(); err != nil {
		os.Remove(tmp)
		return st, ndts.WrapIO(f.path, err)
	}
	if opts.KeepBackup {
		if err := os.Rename(f.path, f.path+".bak"); err != nil {
			os.Remove(tmp)
			return st, ndts.WrapIO(f.path, err)
		}
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return st, ndts.WrapIO(f.path, err)
	}
	f.tombs.Clear()
	if err := f.tombs.Save(tombstonePath(f.path)); err != nil {
		return st, ndts.WrapIO(tombstonePath(f.path), err)
	}
	// adopt the new file in place
	nf, err := os.OpenFile(f.path, os.O_RDWR, 0644)
	if err != nil {
		f.closed = true
		return st, ndts.WrapIO(f.path, err)
	}
	info, err := nf.Stat()
	if err != nil {
		nf.Close()
		f.closed = true
		return st, ndts.WrapIO(f.path, err)
	}
	f.f = nf
	f.eof = info.Size()
	f.hdr.TotalRows = st.AfterRows
	f.hdr.ChunkCount = st.ChunksWritten
	return st, nil
}
