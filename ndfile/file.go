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
	"io"
	"os"

	"github.com/ndtslab/ndts"
)

// Options configures Open.
type Options struct {
	// Compression is the per-column compression plan.
	// It only applies when the file is created; opening
	// an existing file adopts the plan in its header.
	Compression map[string]string
	// Sync forces an fsync after every append.
	Sync bool
	// Logf, if set, receives diagnostic messages.
	Logf func(f string, args ...interface{})
}

func (o *Options) logf(f string, args ...interface{}) {
	if o != nil && o.Logf != nil {
		o.Logf(f, args...)
	}
}

// File is an open append-only column file. A File is owned
// by a single writer; concurrent readers should go through
// the mmap pool instead.
type File struct {
	path   string
	f      *os.File
	schema *ndts.Schema
	hdr    *header
	hlen   int
	cc     *colcodec
	eof    int64
	tombs  *Tombstones
	opts   Options
	closed bool
}

// Open opens the file at path, creating it when absent.
// For an existing file the stored schema must match s
// (pass nil to adopt the stored schema). For a new file s
// is required and opts.Compression fixes the compression
// plan for the file's lifetime.
func Open(path string, s *ndts.Schema, opts *Options) (*File, error) {
	if opts == nil {
		opts = &Options{}
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if os.IsNotExist(err) {
		return create(path, s, opts)
	}
	if err != nil {
		return nil, ndts.WrapIO(path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ndts.WrapIO(path, err)
	}
	// the mutable region is small; read it in one go
	pre := make([]byte, 8)
	if _, err := io.ReadFull(f, pre); err != nil {
		f.Close()
		return nil, &ndts.Error{Kind: ndts.KindCorruption, Ident: path, Offset: 0, Err: ErrTruncated}
	}
	hlen := int(binary.LittleEndian.Uint32(pre[4:]))
	if hlen > maxHeaderLen {
		f.Close()
		return nil, ndts.ErrorAt(ndts.KindCorruption, path, 4, "header length %d exceeds %d", hlen, maxHeaderLen)
	}
	region := make([]byte, headerEnd(hlen))
	if _, err := f.ReadAt(region, 0); err != nil {
		f.Close()
		return nil, &ndts.Error{Kind: ndts.KindCorruption, Ident: path, Offset: 0, Err: ErrTruncated}
	}
	hdr, hlen, err := decodeHeader(path, region)
	if err != nil {
		f.Close()
		return nil, err
	}
	stored, err := hdr.schema()
	if err != nil {
		f.Close()
		return nil, err
	}
	if s != nil && !stored.Equal(s) {
		f.Close()
		return nil, ndts.Errorf(ndts.KindSchema, path, "stored schema %s does not match %s", stored, s)
	}
	out := &File{
		path:   path,
		f:      f,
		schema: stored,
		hdr:    hdr,
		hlen:   hlen,
		cc:     newColcodec(hdr.Compression),
		eof:    info.Size(),
		opts:   *opts,
	}
	out.tombs = new(Tombstones)
	if err := out.tombs.Load(tombstonePath(path)); err != nil {
		f.Close()
		return nil, ndts.WrapIO(tombstonePath(path), err)
	}
	return out, nil
}

func create(path string, s *ndts.Schema, opts *Options) (*File, error) {
	if s == nil {
		return nil, ndts.Errorf(ndts.KindSchema, path, "creating a file requires a schema")
	}
	if err := validatePlan(s, opts.Compression); err != nil {
		return nil, err
	}
	hdr := headerFromSchema(s, opts.Compression)
	region, err := encodeHeader(hdr, 0)
	if err != nil {
		return nil, ndts.WrapIO(path, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, ndts.WrapIO(path, err)
	}
	if _, err := f.Write(region); err != nil {
		f.Close()
		os.Remove(path)
		return nil, ndts.WrapIO(path, err)
	}
	hlen := int(binary.LittleEndian.Uint32(region[4:]))
	opts.logf("created %s with schema %s", path, s)
	return &File{
		path:   path,
		f:      f,
		schema: s,
		hdr:    hdr,
		hlen:   hlen,
		cc:     newColcodec(hdr.Compression),
		eof:    int64(len(region)),
		tombs:  new(Tombstones),
		opts:   *opts,
	}, nil
}

// Remove deletes the file at path along with its sidecars.
func Remove(path string) error {
	err := os.Remove(path)
	if serr := os.Remove(tombstonePath(path)); err == nil && serr != nil && !os.IsNotExist(serr) {
		err = serr
	}
	return err
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Schema returns the file schema.
func (f *File) Schema() *ndts.Schema { return f.schema }

// TotalRows returns the row counter from the header.
func (f *File) TotalRows() int64 { return f.hdr.TotalRows }

// ChunkCount returns the chunk counter from the header.
func (f *File) ChunkCount() int64 { return f.hdr.ChunkCount }

// Compression returns the file's compression plan
// (nil when the file is uncompressed).
func (f *File) Compression() map[string]string { return f.hdr.Compression }

// Tombstones returns the file's tombstone set.
func (f *File) Tombstones() *Tombstones { return f.tombs }

func (f *File) stateErr() error {
	if f.closed {
		return ndts.Errorf(ndts.KindState, f.path, "file is closed")
	}
	return nil
}

// Append writes one chunk holding the rows of b, then
// rewrites the header counters in place. Appending an
// empty batch is a no-op. The batch schema must match the
// file schema exactly.
func (f *File) Append(b *ndts.Batch) error {
	if err := f.stateErr(); err != nil {
		return err
	}
	if !b.Schema().Equal(f.schema) {
		return ndts.Errorf(ndts.KindSchema, f.path, "batch schema %s does not match %s", b.Schema(), f.schema)
	}
	if b.Len() == 0 {
		return nil
	}
	chunk, err := f.encodeChunk(b)
	if err != nil {
		return err
	}
	if _, err := f.f.WriteAt(chunk, f.eof); err != nil {
		return ndts.WrapIO(f.path, err)
	}
	if f.opts.Sync {
		if err := f.f.Sync(); err != nil {
			return ndts.WrapIO(f.path, err)
		}
	}
	f.eof += int64(len(chunk))
	f.hdr.TotalRows += int64(b.Len())
	f.hdr.ChunkCount++
	if err := f.rewriteHeader(); err != nil {
		return err
	}
	if f.opts.Sync {
		if err := f.f.Sync(); err != nil {
			return ndts.WrapIO(f.path, err)
		}
	}
	return nil
}

func (f *File) encodeChunk(b *ndts.Batch) ([]byte, error) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(b.Len()))
	chunk := append([]byte(nil), hdr[:]...)
	cols := f.schema.Columns()
	var err error
	for i := range cols {
		chunk, err = f.cc.appendSegment(chunk, cols[i], b.Column(i))
		if err != nil {
			return nil, ndts.Errorf(ndts.KindIO, f.path, "encoding column %s: %s", cols[i].Name, err)
		}
	}
	crc := crc32.ChecksumIEEE(chunk)
	binary.LittleEndian.PutUint32(hdr[:], crc)
	return append(chunk, hdr[:]...), nil
}

// rewriteHeader re-emits the mutable region in place.
// The region is fixed-size, so this never moves the chunks.
func (f *File) rewriteHeader() error {
	region, err := encodeHeader(f.hdr, f.hlen)
	if err != nil {
		return ndts.WrapIO(f.path, err)
	}
	if _, err := f.f.WriteAt(region, 0); err != nil {
		return ndts.WrapIO(f.path, err)
	}
	return nil
}

// Sync flushes file contents to stable storage.
func (f *File) Sync() error {
	if err := f.stateErr(); err != nil {
		return err
	}
	if err := f.f.Sync(); err != nil {
		return ndts.WrapIO(f.path, err)
	}
	return nil
}

// MarkDeleted tombstones global row index i.
// Marking an already-marked row is idempotent.
func (f *File) MarkDeleted(i uint32) error {
	if err := f.stateErr(); err != nil {
		return err
	}
	if int64(i) >= f.hdr.TotalRows {
		return ndts.Errorf(ndts.KindRange, f.path, "row %d out of range (%d rows)", i, f.hdr.TotalRows)
	}
	f.tombs.Add(i)
	return nil
}

// MarkDeletedBatch tombstones every index in xs.
// The whole batch is validated before any index is marked.
func (f *File) MarkDeletedBatch(xs []uint32) error {
	if err := f.stateErr(); err != nil {
		return err
	}
	for _, i := range xs {
		if int64(i) >= f.hdr.TotalRows {
			return ndts.Errorf(ndts.KindRange, f.path, "row %d out of range (%d rows)", i, f.hdr.TotalRows)
		}
	}
	for _, i := range xs {
		f.tombs.Add(i)
	}
	return nil
}

// SaveTombstones persists the tombstone sidecar.
func (f *File) SaveTombstones() error {
	if err := f.stateErr(); err != nil {
		return err
	}
	return f.tombs.Save(tombstonePath(f.path))
}

// Stats summarizes the open file.
type Stats struct {
	Rows       int64
	Chunks     int64
	Bytes      int64
	Tombstoned int
}

// Stats returns current counters.
func (f *File) Stats() Stats {
	return Stats{
		Rows:       f.hdr.TotalRows,
		Chunks:     f.hdr.ChunkCount,
		Bytes:      f.eof,
		Tombstoned: f.tombs.Count(),
	}
}

// Close releases the descriptor. Further operations fail
// with a state error.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if err := f.f.Close(); err != nil {
		return ndts.WrapIO(f.path, err)
	}
	return nil
}
