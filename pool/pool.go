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

// Package pool memory-maps column files read-only and
// exposes each column as a typed zero-copy view.
//
// Views borrow from the pool: two requests for the same
// (name, column) share one underlying allocation, and every
// view is invalidated when the pool is closed. Views must
// not outlive the pool that produced them.
package pool

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ndtslab/ndts"
	"github.com/ndtslab/ndts/ndfile"
)

// Pool is a set of memory-mapped column files keyed by
// logical name.
type Pool struct {
	mu     sync.Mutex
	files  map[string]*Mapped
	closed bool
}

// Mapped is one opened file inside a pool.
type Mapped struct {
	pool *Pool
	name string
	path string
	meta *ndfile.Meta
	mem  []byte // whole-file mapping; nil after close

	mu   sync.Mutex
	cols map[string]View
	refs int
}

// View is a typed window over one column of one file.
type View struct {
	bytes []byte
	typ   ndts.Type
	rows  int64
}

// Rows returns the number of rows in the view.
func (v View) Rows() int64 { return v.rows }

// Type returns the column type.
func (v View) Type() ndts.Type { return v.typ }

// Bytes returns the raw little-endian column bytes.
func (v View) Bytes() []byte { return v.bytes }

// Int64s aliases the view as []int64.
func (v View) Int64s() []int64 { return ndts.Int64View(v.bytes) }

// Int32s aliases the view as []int32.
func (v View) Int32s() []int32 { return ndts.Int32View(v.bytes) }

// Int16s aliases the view as []int16.
func (v View) Int16s() []int16 { return ndts.Int16View(v.bytes) }

// Float64s aliases the view as []float64.
func (v View) Float64s() []float64 { return ndts.Float64View(v.bytes) }

// Index decodes element i as a float64.
func (v View) Index(i int64) float64 {
	return ndts.ValueAt(v.bytes, v.typ, int(i))
}

// Init maps baseDir/<name>.ndts for every name.
// Any failure unmaps everything already opened.
func Init(baseDir string, names []string) (*Pool, error) {
	paths := make(map[string]string, len(names))
	for _, name := range names {
		paths[name] = filepath.Join(baseDir, name+".ndts")
	}
	return InitPaths(paths)
}

// InitPaths maps an explicit name -> path set.
func InitPaths(paths map[string]string) (*Pool, error) {
	p := &Pool{files: make(map[string]*Mapped, len(paths))}
	for name, path := range paths {
		mem, err := mmapFile(path)
		if err != nil {
			p.Close()
			return nil, ndts.WrapIO(path, err)
		}
		meta, err := ndfile.ReadMeta(path, mem)
		if err != nil {
			unmapFile(mem)
			p.Close()
			return nil, err
		}
		p.files[name] = &Mapped{
			pool: p,
			name: name,
			path: path,
			meta: meta,
			mem:  mem,
			cols: make(map[string]View),
		}
	}
	return p, nil
}

// Names returns the logical names in the pool.
func (p *Pool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.files))
	for name := range p.files {
		out = append(out, name)
	}
	return out
}

// File returns the mapped file for name and bumps its
// reference count. Callers release with Mapped.Close.
func (p *Pool) File(name string) (*Mapped, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ndts.Errorf(ndts.KindState, name, "pool is closed")
	}
	m := p.files[name]
	if m == nil {
		return nil, ndts.Errorf(ndts.KindRange, name, "no file named %q in the pool", name)
	}
	m.mu.Lock()
	m.refs++
	m.mu.Unlock()
	return m, nil
}

// Column returns the typed view of one column of the named
// file. The view borrows from the pool without a reference
// count; it is valid until the pool closes.
func (p *Pool) Column(name, col string) (View, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return View{}, ndts.Errorf(ndts.KindState, name, "pool is closed")
	}
	m := p.files[name]
	p.mu.Unlock()
	if m == nil {
		return View{}, ndts.Errorf(ndts.KindRange, name, "no file named %q in the pool", name)
	}
	return m.Column(col)
}

// Schema returns the schema of the named file.
func (m *Mapped) Schema() *ndts.Schema { return m.meta.Schema }

// Rows returns the stored row counter.
func (m *Mapped) Rows() int64 { return m.meta.TotalRows }

// Name returns the logical name.
func (m *Mapped) Name() string { return m.name }

// Close releases one reference taken by Pool.File.
func (m *Mapped) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs == 0 {
		return ndts.Errorf(ndts.KindState, m.name, "release without acquire")
	}
	m.refs--
	return nil
}

// Column returns the typed view of one column.
//
// A single-chunk uncompressed file aliases the mapping
// directly; otherwise the column is assembled into a
// contiguous buffer once, on first access, and cached so
// that repeated requests share the same memory.
func (m *Mapped) Column(col string) (View, error) {
	i, ok := m.meta.Schema.Lookup(col)
	if !ok {
		return View{}, ndts.Errorf(ndts.KindRange, m.path, "no column %q", col)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mem == nil {
		return View{}, ndts.Errorf(ndts.KindState, m.path, "pool is closed")
	}
	if v, ok := m.cols[col]; ok {
		return v, nil
	}
	cols := m.meta.Schema.Columns()
	typ := cols[i].Type
	var v View
	if m.meta.ChunkCount == 1 && len(m.meta.Compression) == 0 {
		// zero copy: the column is one contiguous run
		off := m.meta.DataStart + 4
		for j := 0; j < i; j++ {
			off += m.meta.TotalRows * int64(cols[j].Type.Width())
		}
		n := m.meta.TotalRows * int64(typ.Width())
		if off+n > int64(len(m.mem)) {
			return View{}, &ndts.Error{Kind: ndts.KindCorruption, Ident: m.path, Offset: off, Err: ndfile.ErrTruncated}
		}
		v = View{bytes: m.mem[off : off+n], typ: typ, rows: m.meta.TotalRows}
	} else {
		buf := make([]byte, 0, m.meta.TotalRows*int64(typ.Width()))
		algo := m.meta.Compression[col]
		err := ndfile.WalkBuffer(m.path, m.meta, m.mem, func(rows int, segs [][]byte) error {
			var err error
			buf, err = ndfile.DecodeSegment(buf, algo, cols[i], rows, segs[i])
			return err
		})
		if err != nil {
			return View{}, err
		}
		v = View{bytes: buf, typ: typ, rows: int64(len(buf) / typ.Width())}
	}
	m.cols[col] = v
	return v, nil
}

// Close unmaps every file. Outstanding references make
// Close fail with a state error; views obtained without a
// reference must simply not be used afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	for _, m := range p.files {
		m.mu.Lock()
		if m.refs != 0 {
			m.mu.Unlock()
			return ndts.Errorf(ndts.KindState, m.name, "%d outstanding references", m.refs)
		}
		m.mu.Unlock()
	}
	var first error
	for _, m := range p.files {
		m.mu.Lock()
		if m.mem != nil {
			if err := unmapFile(m.mem); err != nil && first == nil {
				first = fmt.Errorf("unmapping %s: %w", m.path, err)
			}
			m.mem = nil
			m.cols = nil
		}
		m.mu.Unlock()
	}
	p.closed = true
	return first
}
