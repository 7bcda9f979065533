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

package db

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/google/renameio"
	"github.com/ndtslab/ndts"
	"github.com/ndtslab/ndts/ndfile"
	"github.com/ndtslab/ndts/symtab"
	"github.com/ndtslab/ndts/window"
	"golang.org/x/exp/slices"
)

const (
	defFile = "definition.json"
	symFile = "symbols.json"
)

// Options configures a store.
type Options struct {
	// File is passed through to every data file.
	File ndfile.Options
	// Logf, if set, receives diagnostic messages.
	Logf func(f string, args ...interface{})
}

func (o *Options) logf(f string, args ...interface{}) {
	if o != nil && o.Logf != nil {
		o.Logf(f, args...)
	}
}

// Store is the query facade. One file per
// (symbol, interval) pair lives under
// dir/<interval>/<symbol id>.ndts; symbol strings resolve
// through the dictionary at dir/symbols.json.
type Store struct {
	dir    string
	def    *Definition
	schema *ndts.Schema
	opts   *Options

	mu    sync.Mutex
	syms  symtab.Symtab
	files map[string]*ndfile.File // interval/id key
}

// OpenStore opens or creates the store rooted at dir. def
// may be nil for an existing store; when both are present
// the stored definition wins and def is ignored without
// being compared to it.
func OpenStore(dir string, def *Definition, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ndts.WrapIO(dir, err)
	}
	defPath := filepath.Join(dir, defFile)
	data, err := os.ReadFile(defPath)
	switch {
	case err == nil:
		stored := new(Definition)
		if err := json.Unmarshal(data, stored); err != nil {
			return nil, ndts.ErrorAt(ndts.KindCorruption, defPath, 0, "definition: %s", err)
		}
		def = stored
	case os.IsNotExist(err):
		if def == nil {
			return nil, ndts.Errorf(ndts.KindSchema, dir, "new store needs a definition")
		}
		data, err := json.Marshal(def)
		if err != nil {
			return nil, ndts.WrapIO(defPath, err)
		}
		if err := renameio.WriteFile(defPath, data, 0644); err != nil {
			return nil, ndts.WrapIO(defPath, err)
		}
	default:
		return nil, ndts.WrapIO(defPath, err)
	}
	sch, err := def.Schema()
	if err != nil {
		return nil, err
	}
	s := &Store{
		dir:    dir,
		def:    def,
		schema: sch,
		opts:   opts,
		files:  make(map[string]*ndfile.File),
	}
	if err := s.syms.Load(filepath.Join(dir, symFile)); err != nil {
		return nil, ndts.WrapIO(filepath.Join(dir, symFile), err)
	}
	return s, nil
}

// Schema returns the store schema.
func (s *Store) Schema() *ndts.Schema { return s.schema }

// Symbols returns the symbol dictionary.
func (s *Store) Symbols() *symtab.Symtab { return &s.syms }

func (s *Store) filePath(interval string, id uint32) string {
	return filepath.Join(s.dir, interval, strconv.FormatUint(uint64(id), 10)+".ndts")
}

// file returns the open file for (symbol, interval),
// creating it (and interning the symbol) when create is
// set. The caller holds s.mu.
func (s *Store) file(symbol, interval string, create bool) (*ndfile.File, error) {
	if interval == "" || filepath.Base(interval) != interval {
		return nil, ndts.Errorf(ndts.KindRange, interval, "bad interval %q", interval)
	}
	var id uint32
	if create {
		before := s.syms.Len()
		id = s.syms.Intern(symbol)
		if s.syms.Len() != before {
			if err := s.syms.Save(filepath.Join(s.dir, symFile)); err != nil {
				return nil, ndts.WrapIO(filepath.Join(s.dir, symFile), err)
			}
		}
	} else {
		var ok bool
		id, ok = s.syms.Lookup(symbol)
		if !ok {
			return nil, ndts.Errorf(ndts.KindRange, symbol, "unknown symbol %q", symbol)
		}
	}
	key := interval + "/" + strconv.FormatUint(uint64(id), 10)
	if f := s.files[key]; f != nil {
		return f, nil
	}
	path := s.filePath(interval, id)
	if !create {
		if _, err := os.Stat(path); err != nil {
			return nil, ndts.WrapIO(path, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, ndts.WrapIO(path, err)
	}
	fopts := s.opts.File
	fopts.Compression = s.def.Compression
	f, err := ndfile.Open(path, s.schema, &fopts)
	if err != nil {
		return nil, err
	}
	s.files[key] = f
	return f, nil
}

func (s *Store) batch(rows []map[string]interface{}) (*ndts.Batch, error) {
	b := ndts.NewBatch(s.schema)
	for _, row := range rows {
		if err := b.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Insert appends rows to the (symbol, interval) file in
// the order given.
func (s *Store) Insert(symbol, interval string, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	b, err := s.batch(rows)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.file(symbol, interval, true)
	if err != nil {
		return err
	}
	return f.Append(b)
}

// UpsertByTimestamp merges rows into the file keyed by the
// time column: when the input overlaps existing
// timestamps, the whole file is rewritten as a sorted
// merge with input rows winning on equal keys; otherwise
// it degenerates to a plain append.
func (s *Store) UpsertByTimestamp(symbol, interval string, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	tcol := s.def.TimeCol()
	sorted := make([]map[string]interface{}, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return tsOf(sorted[i], tcol) < tsOf(sorted[j], tcol)
	})
	// last write wins within the batch
	dedup := sorted[:0]
	for i := range sorted {
		if len(dedup) > 0 && tsOf(dedup[len(dedup)-1], tcol) == tsOf(sorted[i], tcol) {
			dedup[len(dedup)-1] = sorted[i]
			continue
		}
		dedup = append(dedup, sorted[i])
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.file(symbol, interval, true)
	if err != nil {
		return err
	}
	if f.TotalRows() == 0 {
		b, err := s.batch(dedup)
		if err != nil {
			return err
		}
		return f.Append(b)
	}
	last, err := f.ReadLastRow()
	if err != nil {
		return err
	}
	if tsOf(dedup[0], tcol) > last.Int64(tcol) {
		// strictly past the end: append only
		b, err := s.batch(dedup)
		if err != nil {
			return err
		}
		return f.Append(b)
	}
	return s.mergeRewrite(f, dedup, tcol)
}

// mergeRewrite streams the existing file and the sorted
// input into a fresh file and swaps it in atomically.
func (s *Store) mergeRewrite(f *ndfile.File, input []map[string]interface{}, tcol string) error {
	cols, err := f.ReadAll()
	if err != nil {
		return err
	}
	old := cols.Int64s(tcol)
	merged := ndts.NewBatch(s.schema)
	i, j := int64(0), 0
	for i < cols.Rows() || j < len(input) {
		var takeNew bool
		switch {
		case i >= cols.Rows():
			takeNew = true
		case j >= len(input):
			takeNew = false
		default:
			nt := tsOf(input[j], tcol)
			if nt < old[i] {
				takeNew = true
			} else if nt > old[i] {
				takeNew = false
			} else {
				// equal key: input replaces the stored row
				i++
				takeNew = true
			}
		}
		if takeNew {
			if err := merged.AppendRow(input[j]); err != nil {
				return err
			}
			j++
		} else {
			if err := merged.AppendRow(cols.RowMap(i)); err != nil {
				return err
			}
			i++
		}
	}
	path := f.Path()
	tmp := path + ".merge"
	os.Remove(tmp)
	fopts := s.opts.File
	fopts.Compression = s.def.Compression
	nf, err := ndfile.Open(tmp, s.schema, &fopts)
	if err != nil {
		return err
	}
	if err := nf.Append(merged); err != nil {
		nf.Close()
		os.Remove(tmp)
		return err
	}
	if err := nf.Sync(); err != nil {
		nf.Close()
		os.Remove(tmp)
		return err
	}
	if err := nf.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return ndts.WrapIO(path, err)
	}
	// drop the stale handle; the next access reopens
	for key, open := range s.files {
		if open == f {
			delete(s.files, key)
		}
	}
	return nil
}

func tsOf(row map[string]interface{}, tcol string) int64 {
	switch v := row[tcol].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// RangeQuery selects rows of one (symbol, interval) file.
type RangeQuery struct {
	Symbol   string
	Interval string
	StartTs  int64 // inclusive
	EndTs    int64 // inclusive; 0 means no upper bound
	Limit    int   // 0 means no limit
}

// QueryRange returns the rows whose time column lies in
// [StartTs, EndTs], capped at Limit.
func (s *Store) QueryRange(q RangeQuery) (*ndfile.Columns, error) {
	s.mu.Lock()
	f, err := s.file(q.Symbol, q.Interval, false)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	cols, err := f.ReadAll()
	if err != nil {
		return nil, err
	}
	ts := cols.Int64s(s.def.TimeCol())
	lo, _ := slices.BinarySearch(ts, q.StartTs)
	hi := len(ts)
	if q.EndTs != 0 {
		if q.EndTs == maxInt64 {
			hi = len(ts)
		} else {
			hi, _ = slices.BinarySearch(ts, q.EndTs+1)
		}
	}
	if hi < lo {
		hi = lo
	}
	if q.Limit > 0 && hi-lo > q.Limit {
		hi = lo + q.Limit
	}
	return cols.Slice(int64(lo), int64(hi)), nil
}

const maxInt64 = 1<<63 - 1

// LatestRow returns the last row of the
// (symbol, interval) file.
func (s *Store) LatestRow(symbol, interval string) (ndfile.Row, error) {
	s.mu.Lock()
	f, err := s.file(symbol, interval, false)
	s.mu.Unlock()
	if err != nil {
		return ndfile.Row{}, err
	}
	return f.ReadLastRow()
}

// SampleBy resamples [StartTs, EndTs] of one symbol into
// OHLCV bars of the given bucket size. priceCol names the
// price column; volCol may be empty for price-only data.
func (s *Store) SampleBy(q RangeQuery, bucket int64, priceCol, volCol string) ([]window.Bar, error) {
	if _, ok := s.schema.Lookup(priceCol); !ok {
		return nil, ndts.Errorf(ndts.KindRange, priceCol, "no column %q", priceCol)
	}
	cols, err := s.QueryRange(q)
	if err != nil {
		return nil, err
	}
	var vol []float64
	if volCol != "" {
		if _, ok := s.schema.Lookup(volCol); !ok {
			return nil, ndts.Errorf(ndts.KindRange, volCol, "no column %q", volCol)
		}
		vol = cols.Float64s(volCol)
	}
	return window.Bucket(cols.Int64s(s.def.TimeCol()), cols.Float64s(priceCol), vol, bucket), nil
}

// Verify runs the file verifier over every file of the
// store and returns the reports of the ones with errors.
func (s *Store) Verify() ([]*ndfile.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var bad []*ndfile.Report
	err := filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != ".ndts" {
			return err
		}
		f, err := ndfile.Open(path, nil, nil)
		if err != nil {
			bad = append(bad, &ndfile.Report{Path: path, Errs: []error{err}})
			return nil
		}
		defer f.Close()
		if rpt := f.Verify(); !rpt.OK() {
			bad = append(bad, rpt)
		}
		return nil
	})
	if err != nil {
		return nil, ndts.WrapIO(s.dir, err)
	}
	return bad, nil
}

// Close closes every open file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.files = make(map[string]*ndfile.File)
	return first
}

// String describes the store.
func (s *Store) String() string {
	return fmt.Sprintf("store %q at %s (%d symbols)", s.def.Name, s.dir, s.syms.Len())
}
