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
	"testing"
	"time"

	"github.com/ndtslab/ndts"
	"github.com/ndtslab/ndts/ndfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tradeSchema = ndts.MustSchema(
	ndts.Column{Name: "ts", Type: ndts.Int64},
	ndts.Column{Name: "sym", Type: ndts.Int32},
	ndts.Column{Name: "px", Type: ndts.Float64},
)

func fixedClock() time.Time {
	return time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
}

func appendTrades(t *testing.T, tbl *Table, rows [][3]interface{}) {
	t.Helper()
	b := ndts.NewBatch(tradeSchema)
	for _, r := range rows {
		require.NoError(t, b.AppendRow(map[string]interface{}{
			"ts": r[0], "sym": r[1], "px": r[2],
		}))
	}
	require.NoError(t, tbl.Append(b))
}

func TestHashRouting(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{Kind: "hash", Column: "sym", Buckets: 4}
	tbl, err := Open(dir, tradeSchema, spec, &Options{Now: fixedClock})
	require.NoError(t, err)
	defer tbl.Close()

	appendTrades(t, tbl, [][3]interface{}{
		{int64(1), int64(7), 1.0},
		{int64(2), int64(8), 2.0},
		{int64(3), int64(7), 3.0},
		{int64(4), int64(9), 4.0},
	})
	// a hint with a concrete key scans exactly one bucket
	key := int64(7)
	var got []int64
	err = tbl.Scan(context.Background(), &Hint{Key: &key}, func(part string, cols *ndfile.Columns) error {
		require.Equal(t, spec.Partition(7), part)
		got = append(got, cols.Int64s("ts")...)
		return nil
	})
	require.NoError(t, err)
	// rows of symbol 7 must both be here, in append order;
	// other symbols may share the bucket
	assert.Subset(t, got, []int64{1, 3})
	assert.IsIncreasing(t, got)

	n, err := tbl.Count(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestHashSpecImmutable(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{Kind: "hash", Column: "sym", Buckets: 4}
	tbl, err := Open(dir, tradeSchema, spec, nil)
	require.NoError(t, err)
	tbl.Close()
	spec.Buckets = 8
	_, err = Open(dir, tradeSchema, spec, nil)
	require.Error(t, err)
	assert.True(t, ndts.IsKind(err, ndts.KindSchema))
}

func TestTimePartitioning(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{Kind: "time", Column: "ts", Granularity: "day"}
	tbl, err := Open(dir, tradeSchema, spec, &Options{Now: fixedClock})
	require.NoError(t, err)
	defer tbl.Close()

	day1 := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	day2 := time.Date(2023, 5, 2, 10, 0, 0, 0, time.UTC).UnixMilli()
	day3 := time.Date(2023, 5, 3, 10, 0, 0, 0, time.UTC).UnixMilli()
	appendTrades(t, tbl, [][3]interface{}{
		{day1, int64(1), 10.0},
		{day1 + 1000, int64(1), 11.0},
		{day2, int64(1), 12.0},
		{day3, int64(1), 13.0},
	})
	assert.Equal(t, []string{"2023-05-01", "2023-05-02", "2023-05-03"}, tbl.Partitions())

	// prune to [day1, day2)
	max := day2 - 1
	var parts []string
	err = tbl.Scan(context.Background(), &Hint{Min: &day1, Max: &max}, func(part string, cols *ndfile.Columns) error {
		parts = append(parts, part)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2023-05-01"}, parts)

	n, err := tbl.Count(context.Background(), nil, &Hint{Min: &day2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAggregations(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{Kind: "time", Column: "ts", Granularity: "month"}
	tbl, err := Open(dir, tradeSchema, spec, nil)
	require.NoError(t, err)
	defer tbl.Close()

	jan := time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC).UnixMilli()
	feb := time.Date(2023, 2, 5, 0, 0, 0, 0, time.UTC).UnixMilli()
	appendTrades(t, tbl, [][3]interface{}{
		{jan, int64(1), 10.5},
		{jan + 1, int64(2), 99.5},
		{feb, int64(1), 20.0},
		{feb + 1, int64(2), 5.0},
	})
	max, ok, err := tbl.GetMax(context.Background(), "px", nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 99.5, max)

	min, ok, err := tbl.GetMin(context.Background(), "px", nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5.0, min)

	// filtered to symbol 1 only
	sym1 := func(cols *ndfile.Columns, row int64) bool {
		return cols.Int32s("sym")[row] == 1
	}
	max, ok, err = tbl.GetMax(context.Background(), "px", sym1, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 20.0, max)

	n, err := tbl.Count(context.Background(), sym1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// nothing qualifies
	_, ok, err = tbl.GetMax(context.Background(), "px",
		func(*ndfile.Columns, int64) bool { return false }, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// unknown column
	_, _, err = tbl.GetMax(context.Background(), "qty", nil, nil)
	require.Error(t, err)
	assert.True(t, ndts.IsKind(err, ndts.KindRange))
}

func TestReopenKeepsMetadata(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{Kind: "time", Column: "ts", Granularity: "day"}
	tbl, err := Open(dir, tradeSchema, spec, &Options{Now: fixedClock})
	require.NoError(t, err)
	day := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	appendTrades(t, tbl, [][3]interface{}{
		{day, int64(1), 1.0},
		{day + 5000, int64(1), 2.0},
	})
	require.NoError(t, tbl.Close())

	tbl, err = Open(dir, tradeSchema, spec, &Options{Now: fixedClock})
	require.NoError(t, err)
	defer tbl.Close()
	n, err := tbl.Count(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// min/max keys survived the reopen: a disjoint hint
	// prunes the partition away
	lo := day + 10000
	n, err = tbl.Count(context.Background(), nil, &Hint{Min: &lo})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSpecValidation(t *testing.T) {
	cases := []Spec{
		{Kind: "hash", Column: "nope", Buckets: 4},
		{Kind: "hash", Column: "sym", Buckets: 0},
		{Kind: "hash", Column: "px", Buckets: 4},
		{Kind: "time", Column: "ts", Granularity: "week"},
		{Kind: "range", Column: "ts"},
	}
	for i, spec := range cases {
		_, err := Open(t.TempDir(), tradeSchema, spec, nil)
		require.Error(t, err, "case %d", i)
		assert.True(t, ndts.IsKind(err, ndts.KindSchema), "case %d", i)
	}
}

func TestPartitionNames(t *testing.T) {
	hourly := Spec{Kind: "time", Column: "ts", Granularity: "hour"}
	monthly := Spec{Kind: "time", Column: "ts", Granularity: "month"}
	ts := time.Date(2023, 5, 1, 13, 30, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, "2023-05-01T13", hourly.Partition(ts))
	assert.Equal(t, "2023-05", monthly.Partition(ts))

	hashed := Spec{Kind: "hash", Column: "sym", Buckets: 16}
	seen := map[string]bool{}
	for k := int64(0); k < 256; k++ {
		name := hashed.Partition(k)
		seen[name] = true
		// routing is deterministic
		assert.Equal(t, name, hashed.Partition(k))
	}
	assert.LessOrEqual(t, len(seen), 16)
	assert.Greater(t, len(seen), 8)
}
