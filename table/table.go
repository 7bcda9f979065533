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

package table

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio"
	"github.com/ndtslab/ndts"
	"github.com/ndtslab/ndts/ndfile"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

const (
	specFile = "partition.json"
	dataFile = "part.ndts"
	metaFile = "meta.json"
)

// Meta is the per-partition metadata sidecar.
type Meta struct {
	Rows      int64 `json:"rows"`
	MinKey    int64 `json:"minKey"`
	MaxKey    int64 `json:"maxKey"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Options configures a table.
type Options struct {
	// File is passed through to every partition file.
	File ndfile.Options
	// Now supplies wall time for metadata stamps;
	// defaults to time.Now. Injectable for tests.
	Now func() time.Time
	// Logf, if set, receives diagnostic messages.
	Logf func(f string, args ...interface{})
}

func (o *Options) now() int64 {
	if o != nil && o.Now != nil {
		return o.Now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

// Table is a partitioned logical table rooted at a
// directory. Every row lives in exactly one partition,
// selected by the spec from the partition column.
type Table struct {
	dir    string
	spec   Spec
	schema *ndts.Schema
	opts   *Options
	keyCol int

	mu    sync.Mutex
	parts map[string]*partition
}

type partition struct {
	name string
	file *ndfile.File
	meta Meta
}

// Open opens or creates the table rooted at dir. For an
// existing table the stored partition spec must match
// spec; the bucket count and granularity are immutable
// after the first write.
func Open(dir string, sch *ndts.Schema, spec Spec, opts *Options) (*Table, error) {
	if err := spec.Validate(sch); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &Options{}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ndts.WrapIO(dir, err)
	}
	specPath := filepath.Join(dir, specFile)
	if data, err := os.ReadFile(specPath); err == nil {
		var stored Spec
		if err := json.Unmarshal(data, &stored); err != nil {
			return nil, ndts.ErrorAt(ndts.KindCorruption, specPath, 0, "partition spec: %s", err)
		}
		if !stored.equal(&spec) {
			return nil, ndts.Errorf(ndts.KindSchema, specPath, "stored partition spec %+v does not match %+v", stored, spec)
		}
	} else if os.IsNotExist(err) {
		data, err := json.Marshal(&spec)
		if err != nil {
			return nil, ndts.WrapIO(specPath, err)
		}
		if err := renameio.WriteFile(specPath, data, 0644); err != nil {
			return nil, ndts.WrapIO(specPath, err)
		}
	} else {
		return nil, ndts.WrapIO(specPath, err)
	}
	keyCol, _ := sch.Lookup(spec.Column)
	t := &Table{
		dir:    dir,
		spec:   spec,
		schema: sch,
		opts:   opts,
		keyCol: keyCol,
		parts:  make(map[string]*partition),
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ndts.WrapIO(dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := t.load(e.Name()); err != nil {
			t.Close()
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) load(name string) error {
	pdir := filepath.Join(t.dir, name)
	f, err := ndfile.Open(filepath.Join(pdir, dataFile), t.schema, &t.opts.File)
	if err != nil {
		return err
	}
	p := &partition{name: name, file: f}
	data, err := os.ReadFile(filepath.Join(pdir, metaFile))
	if err == nil {
		if err := json.Unmarshal(data, &p.meta); err != nil {
			f.Close()
			return ndts.ErrorAt(ndts.KindCorruption, filepath.Join(pdir, metaFile), 0, "metadata: %s", err)
		}
	} else if !os.IsNotExist(err) {
		f.Close()
		return ndts.WrapIO(filepath.Join(pdir, metaFile), err)
	}
	t.parts[name] = p
	return nil
}

// Schema returns the table schema.
func (t *Table) Schema() *ndts.Schema { return t.schema }

// Spec returns the partition spec.
func (t *Table) Spec() Spec { return t.spec }

// Partitions returns the current partition names, sorted.
func (t *Table) Partitions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.parts))
	for name := range t.parts {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (t *Table) partitionFor(name string) (*partition, error) {
	if p := t.parts[name]; p != nil {
		return p, nil
	}
	pdir := filepath.Join(t.dir, name)
	if err := os.MkdirAll(pdir, 0755); err != nil {
		return nil, ndts.WrapIO(pdir, err)
	}
	f, err := ndfile.Open(filepath.Join(pdir, dataFile), t.schema, &t.opts.File)
	if err != nil {
		return nil, err
	}
	t.opts.logf("created partition %s", name)
	p := &partition{name: name, file: f}
	t.parts[name] = p
	return p, nil
}

func (o *Options) logf(f string, args ...interface{}) {
	if o != nil && o.Logf != nil {
		o.Logf(f, args...)
	}
}

// Append routes each row of b to its partition and writes
// one chunk per touched partition. Partition metadata is
// updated and persisted afterwards.
func (t *Table) Append(b *ndts.Batch) error {
	if !b.Schema().Equal(t.schema) {
		return ndts.Errorf(ndts.KindSchema, t.dir, "batch schema %s does not match %s", b.Schema(), t.schema)
	}
	if b.Len() == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	// group rows by destination, preserving row order
	// within each partition
	routed := make(map[string]*ndts.Batch)
	keys := make(map[string][2]int64) // min, max key per destination
	for i := 0; i < b.Len(); i++ {
		key := b.Int64At(t.keyCol, i)
		name := t.spec.Partition(key)
		sub := routed[name]
		if sub == nil {
			sub = ndts.NewBatch(t.schema)
			routed[name] = sub
			keys[name] = [2]int64{key, key}
		} else {
			mm := keys[name]
			if key < mm[0] {
				mm[0] = key
			}
			if key > mm[1] {
				mm[1] = key
			}
			keys[name] = mm
		}
		sub.AppendFrom(b, i)
	}
	names := make([]string, 0, len(routed))
	for name := range routed {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		p, err := t.partitionFor(name)
		if err != nil {
			return err
		}
		if err := p.file.Append(routed[name]); err != nil {
			return err
		}
		mm := keys[name]
		if p.meta.Rows == 0 {
			p.meta.MinKey, p.meta.MaxKey = mm[0], mm[1]
		} else {
			if mm[0] < p.meta.MinKey {
				p.meta.MinKey = mm[0]
			}
			if mm[1] > p.meta.MaxKey {
				p.meta.MaxKey = mm[1]
			}
		}
		p.meta.Rows = p.file.TotalRows()
		p.meta.UpdatedAt = t.opts.now()
		if err := t.saveMeta(p); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) saveMeta(p *partition) error {
	data, err := json.Marshal(&p.meta)
	if err != nil {
		return ndts.WrapIO(p.name, err)
	}
	path := filepath.Join(t.dir, p.name, metaFile)
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return ndts.WrapIO(path, err)
	}
	return nil
}

// Hint prunes a scan to a subset of partitions. For hash
// tables a concrete Key selects one bucket; for time
// tables [Min, Max] keeps partitions whose key range
// intersects it. A nil hint scans everything.
type Hint struct {
	Key      *int64
	Min, Max *int64
}

// prune returns the partitions selected by hint, sorted by
// name for deterministic scan order.
func (t *Table) prune(hint *Hint) []*partition {
	var out []*partition
	for _, p := range t.parts {
		if p.meta.Rows == 0 {
			continue
		}
		out = append(out, p)
	}
	if hint != nil {
		keep := out[:0]
		for _, p := range out {
			switch {
			case t.spec.Kind == "hash" && hint.Key != nil:
				if p.name == t.spec.Partition(*hint.Key) {
					keep = append(keep, p)
				}
			case t.spec.Kind == "time":
				if (hint.Min == nil || *hint.Min <= p.meta.MaxKey) &&
					(hint.Max == nil || *hint.Max >= p.meta.MinKey) {
					keep = append(keep, p)
				}
			default:
				keep = append(keep, p)
			}
		}
		out = keep
	}
	slices.SortFunc(out, func(a, b *partition) bool { return a.name < b.name })
	return out
}

// Filter restricts rows during scans and aggregations.
type Filter func(cols *ndfile.Columns, row int64) bool

// Scan reads the pruned partitions in name order and hands
// each partition's assembled columns to fn.
func (t *Table) Scan(ctx context.Context, hint *Hint, fn func(part string, cols *ndfile.Columns) error) error {
	t.mu.Lock()
	parts := t.prune(hint)
	t.mu.Unlock()
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		cols, err := p.file.ReadAll()
		if err != nil {
			return err
		}
		if err := fn(p.name, cols); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of rows in the pruned
// partitions that pass filter (all rows when filter is
// nil).
func (t *Table) Count(ctx context.Context, filter Filter, hint *Hint) (int64, error) {
	t.mu.Lock()
	parts := t.prune(hint)
	t.mu.Unlock()
	if filter == nil {
		var n int64
		for _, p := range parts {
			n += p.meta.Rows
		}
		return n, nil
	}
	var mu sync.Mutex
	var total int64
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range parts {
		p := p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cols, err := p.file.ReadAll()
			if err != nil {
				return err
			}
			var n int64
			for i := int64(0); i < cols.Rows(); i++ {
				if filter(cols, i) {
					n++
				}
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// GetMax returns the maximum of column over the pruned,
// filtered rows; ok is false when no row qualifies.
func (t *Table) GetMax(ctx context.Context, column string, filter Filter, hint *Hint) (float64, bool, error) {
	return t.extremum(ctx, column, filter, hint, func(a, b float64) bool { return a > b })
}

// GetMin returns the minimum of column over the pruned,
// filtered rows; ok is false when no row qualifies.
func (t *Table) GetMin(ctx context.Context, column string, filter Filter, hint *Hint) (float64, bool, error) {
	return t.extremum(ctx, column, filter, hint, func(a, b float64) bool { return a < b })
}

// extremum runs per partition concurrently and combines
// the partial results at the end.
func (t *Table) extremum(ctx context.Context, column string, filter Filter, hint *Hint, better func(a, b float64) bool) (float64, bool, error) {
	if _, ok := t.schema.Lookup(column); !ok {
		return 0, false, ndts.Errorf(ndts.KindRange, t.dir, "no column %q", column)
	}
	t.mu.Lock()
	parts := t.prune(hint)
	t.mu.Unlock()
	var mu sync.Mutex
	var best float64
	found := false
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range parts {
		p := p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cols, err := p.file.ReadAll()
			if err != nil {
				return err
			}
			bytes := cols.Bytes(column)
			i, _ := t.schema.Lookup(column)
			typ := t.schema.Columns()[i].Type
			var local float64
			any := false
			for r := int64(0); r < cols.Rows(); r++ {
				if filter != nil && !filter(cols, r) {
					continue
				}
				v := ndts.ValueAt(bytes, typ, int(r))
				if !any || better(v, local) {
					local, any = v, true
				}
			}
			if !any {
				return nil
			}
			mu.Lock()
			if !found || better(local, best) {
				best, found = local, true
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, false, err
	}
	return best, found, nil
}

// Partition exposes one partition's file for maintenance
// (compaction, verification).
func (t *Table) Partition(name string) (*ndfile.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.parts[name]
	if p == nil {
		return nil, ndts.Errorf(ndts.KindRange, t.dir, "no partition %q", name)
	}
	return p.file, nil
}

// Close closes every partition file.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var first error
	for _, p := range t.parts {
		if err := p.file.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
