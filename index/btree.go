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

// Package index implements the secondary indexes layered
// over column files: a B-tree for point and range lookups,
// a composite index chaining hash maps over a B-tree, and
// a roaring bitmap for low-cardinality columns.
//
// Indexes are caches: they are rebuildable from the file
// and never the source of truth.
package index

import (
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// DefaultOrder is the default minimum degree of a B-tree
// node: nodes hold at most 2*order-1 keys.
const DefaultOrder = 32

// BTree maps keys of a numeric column to the sorted,
// unique row indices holding that key.
type BTree[K constraints.Ordered] struct {
	order int
	root  *btnode[K]
}

type btnode[K constraints.Ordered] struct {
	keys []K
	rows [][]uint32
	kids []*btnode[K] // nil for leaves
}

func (n *btnode[K]) leaf() bool { return n.kids == nil }

// NewBTree returns an empty tree of the given minimum
// degree; order <= 1 selects DefaultOrder.
func NewBTree[K constraints.Ordered](order int) *BTree[K] {
	if order <= 1 {
		order = DefaultOrder
	}
	return &BTree[K]{order: order, root: &btnode[K]{}}
}

func (t *BTree[K]) maxKeys() int { return 2*t.order - 1 }

// Insert records that row holds key k. Inserting the same
// (k, row) twice is idempotent; within one key, rows are
// kept ascending, which is insertion order when rows arrive
// in row order as in BuildBTree.
func (t *BTree[K]) Insert(k K, row uint32) {
	if len(t.root.keys) == t.maxKeys() {
		old := t.root
		t.root = &btnode[K]{kids: []*btnode[K]{old}}
		t.split(t.root, 0)
	}
	t.insertNonFull(t.root, k, row)
}

func (t *BTree[K]) split(parent *btnode[K], i int) {
	child := parent.kids[i]
	mid := t.order - 1
	right := &btnode[K]{
		keys: append([]K(nil), child.keys[mid+1:]...),
		rows: append([][]uint32(nil), child.rows[mid+1:]...),
	}
	if !child.leaf() {
		right.kids = append([]*btnode[K](nil), child.kids[mid+1:]...)
	}
	upKey, upRows := child.keys[mid], child.rows[mid]
	child.keys = child.keys[:mid]
	child.rows = child.rows[:mid]
	if !child.leaf() {
		child.kids = child.kids[:mid+1]
	}
	parent.keys = slices.Insert(parent.keys, i, upKey)
	parent.rows = slices.Insert(parent.rows, i, upRows)
	parent.kids = slices.Insert(parent.kids, i+1, right)
}

func (t *BTree[K]) insertNonFull(n *btnode[K], k K, row uint32) {
	for {
		i, found := slices.BinarySearch(n.keys, k)
		if found {
			if j, dup := slices.BinarySearch(n.rows[i], row); !dup {
				n.rows[i] = slices.Insert(n.rows[i], j, row)
			}
			return
		}
		if n.leaf() {
			n.keys = slices.Insert(n.keys, i, k)
			n.rows = slices.Insert(n.rows, i, []uint32{row})
			return
		}
		if len(n.kids[i].keys) == t.maxKeys() {
			t.split(n, i)
			if k == n.keys[i] {
				if j, dup := slices.BinarySearch(n.rows[i], row); !dup {
					n.rows[i] = slices.Insert(n.rows[i], j, row)
				}
				return
			}
			if k > n.keys[i] {
				i++
			}
		}
		n = n.kids[i]
	}
}

// Query returns the row indices whose column value equals
// k, in ascending order.
func (t *BTree[K]) Query(k K) []uint32 {
	n := t.root
	for {
		i, found := slices.BinarySearch(n.keys, k)
		if found {
			return append([]uint32(nil), n.rows[i]...)
		}
		if n.leaf() {
			return nil
		}
		n = n.kids[i]
	}
}

// visitRange walks keys in [lo, hi] in key order.
func (n *btnode[K]) visitRange(lo, hi K, fn func(rows []uint32)) {
	i, _ := slices.BinarySearch(n.keys, lo)
	for ; i <= len(n.keys); i++ {
		if !n.leaf() {
			n.kids[i].visitRange(lo, hi, fn)
		}
		if i == len(n.keys) || n.keys[i] > hi {
			return
		}
		if n.keys[i] >= lo {
			fn(n.rows[i])
		}
	}
}

func collect(fn func(emit func(rows []uint32))) []uint32 {
	var out []uint32
	fn(func(rows []uint32) { out = append(out, rows...) })
	slices.Sort(out)
	return slices.Compact(out)
}

// RangeQuery returns the ascending row indices whose value
// lies in [lo, hi], bounds inclusive.
func (t *BTree[K]) RangeQuery(lo, hi K) []uint32 {
	if lo > hi {
		return nil
	}
	return collect(func(emit func([]uint32)) {
		t.root.visitRange(lo, hi, emit)
	})
}

// visitAll walks every key in order.
func (n *btnode[K]) visitAll(fn func(k K, rows []uint32)) {
	for i := 0; i <= len(n.keys); i++ {
		if !n.leaf() {
			n.kids[i].visitAll(fn)
		}
		if i < len(n.keys) {
			fn(n.keys[i], n.rows[i])
		}
	}
}

// GreaterThan returns the ascending row indices with
// value > k.
func (t *BTree[K]) GreaterThan(k K) []uint32 {
	return collect(func(emit func([]uint32)) {
		t.root.visitAll(func(key K, rows []uint32) {
			if key > k {
				emit(rows)
			}
		})
	})
}

// GreaterThanOrEqual returns the ascending row indices
// with value >= k.
func (t *BTree[K]) GreaterThanOrEqual(k K) []uint32 {
	return collect(func(emit func([]uint32)) {
		t.root.visitAll(func(key K, rows []uint32) {
			if key >= k {
				emit(rows)
			}
		})
	})
}

// LessThan returns the ascending row indices with
// value < k.
func (t *BTree[K]) LessThan(k K) []uint32 {
	return collect(func(emit func([]uint32)) {
		t.root.visitAll(func(key K, rows []uint32) {
			if key < k {
				emit(rows)
			}
		})
	})
}

// AllRows returns every indexed row in ascending order.
func (t *BTree[K]) AllRows() []uint32 {
	return collect(func(emit func([]uint32)) {
		t.root.visitAll(func(_ K, rows []uint32) { emit(rows) })
	})
}

// BuildBTree indexes every element of the column view.
func BuildBTree[K constraints.Ordered](column []K, order int) *BTree[K] {
	t := NewBTree[K](order)
	for i, k := range column {
		t.Insert(k, uint32(i))
	}
	return t
}
