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

package window

import (
	"math"
	"math/rand"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	s := NewSMA(3)
	if _, ok := s.Add(1); ok {
		t.Fatal("warm after 1 observation")
	}
	if _, ok := s.Add(2); ok {
		t.Fatal("warm after 2 observations")
	}
	v, ok := s.Add(3)
	if !ok || !approx(v, 2) {
		t.Fatalf("got (%v, %v); want (2, true)", v, ok)
	}
	v, _ = s.Add(7)
	if !approx(v, 4) {
		t.Fatalf("sliding average %v; want 4", v)
	}
	s.Reset()
	if _, ok := s.Add(5); ok {
		t.Fatal("warm right after Reset")
	}
}

func TestEMASeed(t *testing.T) {
	e := NewEMA(4)
	for _, x := range []float64{1, 2, 3} {
		if _, ok := e.Add(x); ok {
			t.Fatal("warm before period observations")
		}
	}
	v, ok := e.Add(6)
	if !ok || !approx(v, 3) {
		t.Fatalf("seed %v; want simple average 3", v)
	}
	// alpha = 2/5
	v, _ = e.Add(8)
	if !approx(v, 0.4*8+0.6*3) {
		t.Fatalf("ema %v; want %v", v, 0.4*8+0.6*3)
	}
}

func TestStddev(t *testing.T) {
	s := NewStddev(4)
	var v float64
	var ok bool
	for _, x := range []float64{2, 4, 4, 4} {
		v, ok = s.Add(x)
	}
	if !ok {
		t.Fatal("not warm after period observations")
	}
	// mean 3.5, E[x^2]=13, var=0.75
	if !approx(v, math.Sqrt(0.75)) {
		t.Fatalf("stddev %v; want %v", v, math.Sqrt(0.75))
	}
	// slide: window becomes 4,4,4,4 -> 0
	v, _ = s.Add(4)
	if !approx(v, 0) {
		t.Fatalf("stddev %v; want 0", v)
	}
}

func TestMinMaxDeque(t *testing.T) {
	lo := NewMin(3)
	hi := NewMax(3)
	xs := []float64{5, 1, 4, 2, 8, 0, 3}
	wantMin := []float64{1, 1, 2, 0, 0}
	wantMax := []float64{5, 4, 8, 8, 8}
	j := 0
	for i, x := range xs {
		lv, lok := lo.Add(x)
		hv, hok := hi.Add(x)
		if i < 2 {
			if lok || hok {
				t.Fatal("warm before period observations")
			}
			continue
		}
		if !lok || !hok {
			t.Fatalf("observation %d not warm", i)
		}
		if lv != wantMin[j] || hv != wantMax[j] {
			t.Fatalf("observation %d: (%v, %v); want (%v, %v)", i, lv, hv, wantMin[j], wantMax[j])
		}
		j++
	}
}

func TestMinMaxAgainstNaive(t *testing.T) {
	const period = 16
	rng := rand.New(rand.NewSource(3))
	lo := NewMin(period)
	var xs []float64
	for i := 0; i < 2000; i++ {
		x := rng.Float64() * 100
		xs = append(xs, x)
		v, ok := lo.Add(x)
		if i < period-1 {
			if ok {
				t.Fatal("warm too early")
			}
			continue
		}
		want := xs[i-period+1]
		for _, y := range xs[i-period+1 : i+1] {
			if y < want {
				want = y
			}
		}
		if !ok || v != want {
			t.Fatalf("observation %d: %v; want %v", i, v, want)
		}
	}
}

func TestAggregator(t *testing.T) {
	a := NewAggregator().
		With("sma", NewSMA(2)).
		With("max", NewMax(2))
	if got := a.Add(1); len(got) != 0 {
		t.Fatalf("unexpected warm values %v", got)
	}
	got := a.Add(3)
	if !approx(got["sma"], 2) || got["max"] != 3 {
		t.Fatalf("bad record %v", got)
	}
	a.Reset()
	if got := a.Add(9); len(got) != 0 {
		t.Fatalf("values survived Reset: %v", got)
	}
}

func TestBucket(t *testing.T) {
	ts := []int64{0, 10, 59, 60, 61, 179}
	px := []float64{10, 12, 9, 20, 18, 7}
	vol := []float64{1, 1, 1, 2, 2, 5}
	bars := Bucket(ts, px, vol, 60)
	if len(bars) != 3 {
		t.Fatalf("%d bars; want 3", len(bars))
	}
	b := bars[0]
	if b.Start != 0 || b.Open != 10 || b.High != 12 || b.Low != 9 || b.Close != 9 || b.Volume != 3 {
		t.Fatalf("bad bar 0: %+v", b)
	}
	b = bars[1]
	if b.Start != 60 || b.Open != 20 || b.High != 20 || b.Low != 18 || b.Close != 18 || b.Volume != 4 {
		t.Fatalf("bad bar 1: %+v", b)
	}
	b = bars[2]
	if b.Start != 120 || b.Open != 7 || b.Close != 7 || b.Volume != 5 || b.Count != 1 {
		t.Fatalf("bad bar 2: %+v", b)
	}
	if Bucket(nil, nil, nil, 60) != nil {
		t.Fatal("empty input should produce no bars")
	}
}
