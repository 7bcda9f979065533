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

package index

import (
	"fmt"

	"github.com/ndtslab/ndts"
	"golang.org/x/exp/slices"
)

// Composite indexes columns c_1 .. c_{N-1}, c_N where the
// prefix columns are chained hash maps keyed by the
// stringified value and the final numeric column is a
// B-tree.
type Composite struct {
	prefix []string
	last   string
	order  int
	root   *clevel
}

type clevel struct {
	next map[string]*clevel // prefix levels
	tree *BTree[int64]      // final level
}

// Filter is one column constraint in a composite query.
// Prefix columns accept only Eq (or no filter at all,
// meaning wildcard); the final column also accepts the
// range bounds.
type Filter struct {
	Eq               *int64
	Gt, Gte, Lt, Lte *int64
}

func (f Filter) ranged() bool {
	return f.Gt != nil || f.Gte != nil || f.Lt != nil || f.Lte != nil
}

// NewComposite builds an index over the given column
// names; the final name is the B-tree column. order
// configures the B-tree (<=1 selects DefaultOrder).
func NewComposite(columns []string, order int) (*Composite, error) {
	if len(columns) < 2 {
		return nil, ndts.Errorf(ndts.KindSchema, "", "composite index needs at least 2 columns, got %d", len(columns))
	}
	return &Composite{
		prefix: columns[:len(columns)-1],
		last:   columns[len(columns)-1],
		order:  order,
		root:   &clevel{},
	}, nil
}

// Columns returns the indexed column names in order.
func (c *Composite) Columns() []string {
	return append(append([]string(nil), c.prefix...), c.last)
}

// Add records one row. vals holds one value per indexed
// column, in index column order; the final value must be
// the int64 key for the B-tree.
func (c *Composite) Add(vals []interface{}, row uint32) error {
	if len(vals) != len(c.prefix)+1 {
		return ndts.Errorf(ndts.KindSchema, c.last, "composite insert carries %d values; want %d", len(vals), len(c.prefix)+1)
	}
	lvl := c.root
	for i := range c.prefix {
		key := stringify(vals[i])
		if lvl.next == nil {
			lvl.next = make(map[string]*clevel)
		}
		nxt := lvl.next[key]
		if nxt == nil {
			nxt = &clevel{}
			lvl.next[key] = nxt
		}
		lvl = nxt
	}
	last, ok := vals[len(vals)-1].(int64)
	if !ok {
		return ndts.Errorf(ndts.KindSchema, c.last, "composite key column must be int64, got %T", vals[len(vals)-1])
	}
	if lvl.tree == nil {
		lvl.tree = NewBTree[int64](c.order)
	}
	lvl.tree.Insert(last, row)
	return nil
}

// Query evaluates filters keyed by column name. A missing
// prefix filter is a wildcard; a range on any column but
// the last is an error. The result is deduplicated and
// ascending.
func (c *Composite) Query(filters map[string]Filter) ([]uint32, error) {
	for name, f := range filters {
		known := name == c.last
		for _, p := range c.prefix {
			if p == name {
				known = true
			}
		}
		if !known {
			return nil, ndts.Errorf(ndts.KindRange, name, "column %q is not part of the index", name)
		}
		if name != c.last && f.ranged() {
			return nil, ndts.Errorf(ndts.KindRange, name, "range filter on non-final column %q", name)
		}
	}
	levels := []*clevel{c.root}
	for _, p := range c.prefix {
		var next []*clevel
		f, ok := filters[p]
		switch {
		case ok && f.Eq != nil:
			key := stringify(*f.Eq)
			for _, lvl := range levels {
				if nxt := lvl.next[key]; nxt != nil {
					next = append(next, nxt)
				}
			}
		default:
			// wildcard
			for _, lvl := range levels {
				for _, nxt := range lvl.next {
					next = append(next, nxt)
				}
			}
		}
		levels = next
	}
	var out []uint32
	last := filters[c.last]
	for _, lvl := range levels {
		if lvl.tree == nil {
			continue
		}
		out = append(out, queryTree(lvl.tree, last)...)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func queryTree(t *BTree[int64], f Filter) []uint32 {
	if f.Eq != nil {
		return t.Query(*f.Eq)
	}
	if !f.ranged() {
		return t.AllRows()
	}
	if (f.Gt != nil && *f.Gt == maxInt64) || (f.Lt != nil && *f.Lt == minInt64) {
		return nil
	}
	lo, hi := int64(minInt64), int64(maxInt64)
	if f.Gte != nil {
		lo = *f.Gte
	}
	if f.Gt != nil && *f.Gt+1 > lo {
		lo = *f.Gt + 1
	}
	if f.Lte != nil {
		hi = *f.Lte
	}
	if f.Lt != nil && *f.Lt-1 < hi {
		hi = *f.Lt - 1
	}
	return t.RangeQuery(lo, hi)
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)

// stringify renders a prefix key the way the on-disk
// values print; ids and enum columns are integers in
// practice.
func stringify(v interface{}) string {
	return fmt.Sprint(v)
}
