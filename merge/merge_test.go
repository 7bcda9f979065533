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

package merge

import (
	"path/filepath"
	"testing"

	"github.com/ndtslab/ndts"
	"github.com/ndtslab/ndts/ndfile"
	"github.com/ndtslab/ndts/pool"
)

var tickSchema = ndts.MustSchema(
	ndts.Column{Name: "ts", Type: ndts.Int64},
	ndts.Column{Name: "px", Type: ndts.Float64},
	ndts.Column{Name: "qty", Type: ndts.Float64},
)

// three sources with 100 interleaved rows each at
// timestamps s + 3i
func interleavedPool(t *testing.T) *pool.Pool {
	t.Helper()
	dir := t.TempDir()
	for s, name := range []string{"A", "B", "C"} {
		f, err := ndfile.Open(filepath.Join(dir, name+".ndts"), tickSchema, nil)
		if err != nil {
			t.Fatal(err)
		}
		b := ndts.NewBatch(tickSchema)
		for i := 0; i < 100; i++ {
			err := b.AppendRow(map[string]interface{}{
				"ts":  int64(s + 3*i),
				"px":  float64(100*s) + float64(i),
				"qty": 1.0,
			})
			if err != nil {
				t.Fatal(err)
			}
		}
		if err := f.Append(b); err != nil {
			t.Fatal(err)
		}
		if err := f.Close(); err != nil {
			t.Fatal(err)
		}
	}
	p, err := pool.Init(dir, []string{"A", "B", "C"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func newStream(t *testing.T, p *pool.Pool, opts *Options) *Stream {
	t.Helper()
	s, err := New(p, []string{"A", "B", "C"}, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testReplayOrder(t *testing.T, s *Stream) {
	t.Helper()
	it := s.Ticks()
	var got []int64
	prev := int64(-1 << 62)
	n := 0
	for {
		tk, ok := it.Next()
		if !ok {
			break
		}
		if tk.Ts < prev {
			t.Fatalf("timestamp %d after %d", tk.Ts, prev)
		}
		prev = tk.Ts
		if n < 10 {
			got = append(got, tk.Ts)
		}
		n++
	}
	if n != 300 {
		t.Fatalf("replayed %d ticks; want 300", n)
	}
	for i, want := range []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9} {
		if got[i] != want {
			t.Fatalf("tick %d at ts %d; want %d", i, got[i], want)
		}
	}
	// restartable
	it.Reset()
	if tk, ok := it.Next(); !ok || tk.Ts != 0 {
		t.Fatalf("after reset: (%v, %v)", tk, ok)
	}
}

func TestReplayTicks(t *testing.T) {
	p := interleavedPool(t)
	testReplayOrder(t, newStream(t, p, nil))
}

func TestReplayTicksHeap(t *testing.T) {
	p := interleavedPool(t)
	s := newStream(t, p, &Options{HeapThreshold: 10})
	if s.sorted != nil {
		t.Fatal("expected heap mode")
	}
	testReplayOrder(t, s)
}

func TestAsOf(t *testing.T) {
	p := interleavedPool(t)
	for _, s := range []*Stream{
		newStream(t, p, nil),
		newStream(t, p, &Options{HeapThreshold: 10}),
	} {
		rows := s.AsOf(50)
		if len(rows) != 3 {
			t.Fatalf("%d entries; want 3", len(rows))
		}
		for src, row := range rows {
			if row < 0 {
				t.Fatalf("source %d unobserved at t=50", src)
			}
			ts := s.ts[src][row]
			if ts > 50 || 50-ts >= 3 {
				t.Fatalf("source %d as-of ts %d not within (47, 50]", src, ts)
			}
			// the next row, if any, must be past t
			if int(row+1) < len(s.ts[src]) && s.ts[src][row+1] <= 50 {
				t.Fatalf("source %d row %d is not the latest <= 50", src, row)
			}
		}
		// before any data: source B (ts starts at 1) and C
		// (ts starts at 2) are unobserved at t=0
		rows = s.AsOf(0)
		if rows[0] != 0 || rows[1] != -1 || rows[2] != -1 {
			t.Fatalf("as-of 0: %v", rows)
		}
		// past the end: every source at its last row
		rows = s.AsOf(1 << 40)
		for src, row := range rows {
			if row != 99 {
				t.Fatalf("source %d as-of +inf at row %d", src, row)
			}
		}
	}
}

func TestSnapshots(t *testing.T) {
	p := interleavedPool(t)
	s := newStream(t, p, nil)
	if s.SnapshotCount() != 300 {
		// all timestamps are distinct in this layout
		t.Fatalf("%d snapshots; want 300", s.SnapshotCount())
	}
	it := s.Snapshots()
	n := 0
	var ts3 Snapshot
	for {
		snap, ok := it.Next()
		if !ok {
			break
		}
		if n == 3 {
			ts3 = Snapshot{Ts: snap.Ts, Rows: append([]int64(nil), snap.Rows...)}
		}
		n++
	}
	if n != 300 {
		t.Fatalf("%d snapshots emitted; want 300", n)
	}
	// at ts=3 (4th distinct timestamp) each source has
	// been seen exactly once except A (ts 0 and 3)
	if ts3.Ts != 3 {
		t.Fatalf("4th snapshot at ts %d", ts3.Ts)
	}
	want := []int64{1, 0, 0}
	for i := range want {
		if ts3.Rows[i] != want[i] {
			t.Fatalf("snapshot rows %v; want %v", ts3.Rows, want)
		}
	}
}

func TestSnapshotTies(t *testing.T) {
	dir := t.TempDir()
	// two sources sharing timestamps
	for _, src := range []struct {
		name string
		ts   []int64
	}{
		{"A", []int64{10, 20, 20, 30}},
		{"B", []int64{20, 30, 40}},
	} {
		f, err := ndfile.Open(filepath.Join(dir, src.name+".ndts"), tickSchema, nil)
		if err != nil {
			t.Fatal(err)
		}
		b := ndts.NewBatch(tickSchema)
		for _, ts := range src.ts {
			if err := b.AppendRow(map[string]interface{}{"ts": ts, "px": 1.0, "qty": 1.0}); err != nil {
				t.Fatal(err)
			}
		}
		if err := f.Append(b); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	p, err := pool.Init(dir, []string{"A", "B"})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	s, err := New(p, []string{"A", "B"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if s.Len() != 7 || s.SnapshotCount() != 4 {
		t.Fatalf("len=%d snapshots=%d; want 7, 4", s.Len(), s.SnapshotCount())
	}
	// ties replay source A before source B, rows in order
	it := s.Ticks()
	var order []Tick
	for {
		tk, ok := it.Next()
		if !ok {
			break
		}
		order = append(order, tk)
	}
	want := []Tick{
		{10, 0, 0},
		{20, 0, 1}, {20, 0, 2}, {20, 1, 0},
		{30, 0, 3}, {30, 1, 1},
		{40, 1, 2},
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("tick %d = %+v; want %+v", i, order[i], want[i])
		}
	}
	// snapshot at ts=20 holds the last tied row per source
	snaps := s.Snapshots()
	snaps.Next() // ts=10
	snap, ok := snaps.Next()
	if !ok || snap.Ts != 20 || snap.Rows[0] != 2 || snap.Rows[1] != 0 {
		t.Fatalf("snapshot at 20: %+v", snap)
	}
}

func TestReplayBars(t *testing.T) {
	p := interleavedPool(t)
	s := newStream(t, p, nil)
	bars, err := s.ReplayBars("px", "qty", 100)
	if err != nil {
		t.Fatal(err)
	}
	// 300 ticks at ts 0..299, bucket 100 -> 3 bars of 100
	if len(bars) != 3 {
		t.Fatalf("%d bars; want 3", len(bars))
	}
	for i, b := range bars {
		if b.Count != 100 || b.Volume != 100 {
			t.Fatalf("bar %d: %+v", i, b)
		}
		if b.Start != int64(i*100) {
			t.Fatalf("bar %d starts at %d", i, b.Start)
		}
	}
}

func TestEmptySource(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"A", "EMPTY"} {
		f, err := ndfile.Open(filepath.Join(dir, name+".ndts"), tickSchema, nil)
		if err != nil {
			t.Fatal(err)
		}
		if name == "A" {
			b := ndts.NewBatch(tickSchema)
			b.AppendRow(map[string]interface{}{"ts": int64(5), "px": 1.0, "qty": 1.0})
			if err := f.Append(b); err != nil {
				t.Fatal(err)
			}
		}
		f.Close()
	}
	p, err := pool.Init(dir, []string{"A", "EMPTY"})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	s, err := New(p, []string{"A", "EMPTY"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	it := s.Ticks()
	n := 0
	for {
		if _, ok := it.Next(); !ok {
			break
		}
		n++
	}
	if n != 1 {
		t.Fatalf("%d ticks; want 1", n)
	}
	rows := s.AsOf(10)
	if rows[0] != 0 || rows[1] != -1 {
		t.Fatalf("as-of: %v", rows)
	}
}
