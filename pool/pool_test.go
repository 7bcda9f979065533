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

package pool

import (
	"path/filepath"
	"testing"

	"github.com/ndtslab/ndts"
	"github.com/ndtslab/ndts/ndfile"
)

var tickSchema = ndts.MustSchema(
	ndts.Column{Name: "ts", Type: ndts.Int64},
	ndts.Column{Name: "px", Type: ndts.Float64},
)

func writeTicks(t *testing.T, path string, chunks [][]int64, plan map[string]string) {
	t.Helper()
	f, err := ndfile.Open(path, tickSchema, &ndfile.Options{Compression: plan})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, ck := range chunks {
		b := ndts.NewBatch(tickSchema)
		for _, ts := range ck {
			if err := b.AppendRow(map[string]interface{}{"ts": ts, "px": float64(ts) / 2}); err != nil {
				t.Fatal(err)
			}
		}
		if err := f.Append(b); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSingleChunkZeroCopy(t *testing.T) {
	dir := t.TempDir()
	writeTicks(t, filepath.Join(dir, "AAPL.ndts"), [][]int64{{10, 20, 30}}, nil)
	p, err := Init(dir, []string{"AAPL"})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	v, err := p.Column("AAPL", "ts")
	if err != nil {
		t.Fatal(err)
	}
	if v.Rows() != 3 {
		t.Fatalf("%d rows; want 3", v.Rows())
	}
	ts := v.Int64s()
	if ts[0] != 10 || ts[2] != 30 {
		t.Fatalf("bad ts %v", ts)
	}
	// same (name, column) shares the same memory
	again, err := p.Column("AAPL", "ts")
	if err != nil {
		t.Fatal(err)
	}
	if &again.Bytes()[0] != &v.Bytes()[0] {
		t.Fatal("views do not share memory")
	}
	px, err := p.Column("AAPL", "px")
	if err != nil {
		t.Fatal(err)
	}
	if px.Float64s()[1] != 10 {
		t.Fatalf("bad px %v", px.Float64s())
	}
}

func TestMultiChunkAssembly(t *testing.T) {
	dir := t.TempDir()
	writeTicks(t, filepath.Join(dir, "MSFT.ndts"), [][]int64{{1, 2}, {3}, {4, 5}}, nil)
	p, err := Init(dir, []string{"MSFT"})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	v, err := p.Column("MSFT", "ts")
	if err != nil {
		t.Fatal(err)
	}
	ts := v.Int64s()
	if len(ts) != 5 {
		t.Fatalf("%d values; want 5", len(ts))
	}
	for i, want := range []int64{1, 2, 3, 4, 5} {
		if ts[i] != want {
			t.Fatalf("ts[%d] = %d; want %d", i, ts[i], want)
		}
	}
	again, _ := p.Column("MSFT", "ts")
	if &again.Bytes()[0] != &v.Bytes()[0] {
		t.Fatal("assembled views do not share memory")
	}
}

func TestCompressedColumns(t *testing.T) {
	dir := t.TempDir()
	plan := map[string]string{"ts": "delta", "px": "gorilla"}
	writeTicks(t, filepath.Join(dir, "TSLA.ndts"), [][]int64{{100, 200}, {300}}, plan)
	p, err := Init(dir, []string{"TSLA"})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	ts, err := p.Column("TSLA", "ts")
	if err != nil {
		t.Fatal(err)
	}
	px, err := p.Column("TSLA", "px")
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []int64{100, 200, 300} {
		if ts.Int64s()[i] != want {
			t.Fatalf("ts[%d] = %d; want %d", i, ts.Int64s()[i], want)
		}
		if px.Float64s()[i] != float64(want)/2 {
			t.Fatalf("px[%d] = %v", i, px.Float64s()[i])
		}
	}
}

func TestPoolLifecycle(t *testing.T) {
	dir := t.TempDir()
	writeTicks(t, filepath.Join(dir, "AAPL.ndts"), [][]int64{{1}}, nil)
	p, err := Init(dir, []string{"AAPL"})
	if err != nil {
		t.Fatal(err)
	}
	m, err := p.File("AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); !ndts.IsKind(err, ndts.KindState) {
		t.Fatalf("close with outstanding reference: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Column("AAPL", "ts"); !ndts.IsKind(err, ndts.KindState) {
		t.Fatalf("column after close: %v", err)
	}
	if _, err := p.File("AAPL"); !ndts.IsKind(err, ndts.KindState) {
		t.Fatalf("file after close: %v", err)
	}
	// double close is fine
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestUnknownNames(t *testing.T) {
	dir := t.TempDir()
	writeTicks(t, filepath.Join(dir, "AAPL.ndts"), [][]int64{{1}}, nil)
	if _, err := Init(dir, []string{"GONE"}); !ndts.IsKind(err, ndts.KindIO) {
		t.Fatalf("missing file: %v", err)
	}
	p, err := Init(dir, []string{"AAPL"})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if _, err := p.Column("AAPL", "qty"); !ndts.IsKind(err, ndts.KindRange) {
		t.Fatalf("unknown column: %v", err)
	}
	if _, err := p.Column("MSFT", "ts"); !ndts.IsKind(err, ndts.KindRange) {
		t.Fatalf("unknown name: %v", err)
	}
}
