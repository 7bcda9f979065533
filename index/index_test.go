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
	"math/rand"
	"sort"
	"testing"

	"github.com/ndtslab/ndts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBTreeBasics(t *testing.T) {
	col := []int64{10, 20, 30, 40, 50}
	bt := BuildBTree(col, 0)
	assert.Equal(t, []uint32{1, 2, 3}, bt.RangeQuery(20, 40))
	assert.Equal(t, []uint32{3, 4}, bt.GreaterThan(30))
	assert.Equal(t, []uint32{3, 4}, bt.GreaterThanOrEqual(40))
	assert.Equal(t, []uint32{0, 1}, bt.LessThan(30))
	assert.Equal(t, []uint32{2}, bt.Query(30))
	assert.Empty(t, bt.Query(35))
	assert.Empty(t, bt.RangeQuery(60, 70))
	assert.Empty(t, bt.RangeQuery(40, 20))
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, bt.AllRows())
}

func TestBTreeEquivalence(t *testing.T) {
	// query(k) must equal the scan of the column
	rng := rand.New(rand.NewSource(11))
	col := make([]int64, 5000)
	for i := range col {
		col[i] = int64(rng.Intn(97))
	}
	bt := BuildBTree(col, 4) // tiny order forces deep splits
	for k := int64(0); k < 97; k++ {
		var want []uint32
		for i, v := range col {
			if v == k {
				want = append(want, uint32(i))
			}
		}
		assert.Equal(t, want, bt.Query(k), "key %d", k)
	}
	var want []uint32
	for i, v := range col {
		if v >= 20 && v <= 40 {
			want = append(want, uint32(i))
		}
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	assert.Equal(t, want, bt.RangeQuery(20, 40))
}

func TestBTreeDuplicateInsert(t *testing.T) {
	bt := NewBTree[int64](0)
	bt.Insert(5, 1)
	bt.Insert(5, 1)
	bt.Insert(5, 2)
	assert.Equal(t, []uint32{1, 2}, bt.Query(5))
}

func TestCompositeQuery(t *testing.T) {
	ix, err := NewComposite([]string{"sym", "side", "ts"}, 0)
	require.NoError(t, err)
	rows := []struct {
		sym  int64
		side int64
		ts   int64
	}{
		{1, 0, 100}, // row 0
		{1, 1, 110}, // row 1
		{2, 0, 105}, // row 2
		{1, 0, 120}, // row 3
		{2, 1, 100}, // row 4
	}
	for i, r := range rows {
		require.NoError(t, ix.Add([]interface{}{r.sym, r.side, r.ts}, uint32(i)))
	}
	eq := func(v int64) *int64 { return &v }

	// full prefix + range
	got, err := ix.Query(map[string]Filter{
		"sym":  {Eq: eq(1)},
		"side": {Eq: eq(0)},
		"ts":   {Gte: eq(100), Lte: eq(115)},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, got)

	// wildcard prefix
	got, err = ix.Query(map[string]Filter{
		"ts": {Eq: eq(100)},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 4}, got)

	// every filter omitted returns everything
	got, err = ix.Query(nil)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, got)

	// exclusive bounds
	got, err = ix.Query(map[string]Filter{
		"sym": {Eq: eq(1)},
		"ts":  {Gt: eq(100), Lt: eq(120)},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, got)

	// range on a prefix column is an error
	_, err = ix.Query(map[string]Filter{
		"sym": {Gt: eq(0)},
	})
	require.Error(t, err)
	assert.True(t, ndts.IsKind(err, ndts.KindRange))

	// unknown column is an error
	_, err = ix.Query(map[string]Filter{"qty": {Eq: eq(1)}})
	require.Error(t, err)
}

func TestCompositeValidation(t *testing.T) {
	_, err := NewComposite([]string{"ts"}, 0)
	require.Error(t, err)
	ix, err := NewComposite([]string{"sym", "ts"}, 0)
	require.NoError(t, err)
	require.Error(t, ix.Add([]interface{}{int64(1)}, 0))
	require.Error(t, ix.Add([]interface{}{int64(1), "not-numeric"}, 0))
}

func TestBitmapBasics(t *testing.T) {
	var bm Bitmap
	vals := []uint32{3, 70000, 3, 0, 1 << 20}
	for _, v := range vals {
		bm.Add(v)
	}
	assert.Equal(t, 4, bm.Cardinality())
	assert.True(t, bm.Contains(70000))
	assert.False(t, bm.Contains(4))
	assert.Equal(t, []uint32{0, 3, 70000, 1 << 20}, bm.ToArray())
}

func TestBitmapSetOps(t *testing.T) {
	var a, b Bitmap
	for _, v := range []uint32{1, 2, 3, 100000} {
		a.Add(v)
	}
	for _, v := range []uint32{2, 3, 4, 200000} {
		b.Add(v)
	}
	assert.Equal(t, []uint32{2, 3}, And(&a, &b).ToArray())
	assert.Equal(t, []uint32{1, 2, 3, 4, 100000, 200000}, Or(&a, &b).ToArray())
}

func TestBitmapPromotion(t *testing.T) {
	var bm Bitmap
	// exceed arrayMax within one container to force the
	// dense form, spread over two containers
	for i := uint32(0); i < 5000; i++ {
		bm.Add(i * 2)
	}
	for i := uint32(0); i < 10; i++ {
		bm.Add(1<<16 + i)
	}
	assert.Equal(t, 5010, bm.Cardinality())
	assert.True(t, bm.Contains(4998*2))
	assert.False(t, bm.Contains(4999*2+1))

	// round-trip through the wire form
	data := bm.Serialize(nil)
	var got Bitmap
	require.NoError(t, got.Deserialize(data))
	assert.Equal(t, bm.ToArray(), got.ToArray())
}

func TestBitmapDeserializeErrors(t *testing.T) {
	var bm Bitmap
	require.Error(t, bm.Deserialize([]byte{1, 2}))
	// container count says one, no payload
	require.Error(t, bm.Deserialize([]byte{1, 0, 0, 0}))
}

func TestBitmapIndex(t *testing.T) {
	col := []int64{7, 7, 3, 7, 3, 9}
	ix := BuildBitmapIndex(col)
	assert.Equal(t, []int64{3, 7, 9}, ix.Values())
	assert.Equal(t, []uint32{0, 1, 3}, ix.Rows(7))
	assert.Equal(t, []uint32{2, 4}, ix.Rows(3))
	assert.Nil(t, ix.Rows(42))

	// index equivalence: and() of two values' bitmaps is
	// their array intersection (empty for distinct values)
	assert.Empty(t, And(ix.Bitmap(3), ix.Bitmap(7)).ToArray())
}
