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

package sorting

import (
	"math"
	"math/rand"
	"testing"
)

func checkStableAscending(t *testing.T, keys []int64, idx []uint32) {
	t.Helper()
	if len(idx) != len(keys) {
		t.Fatalf("permutation has %d entries; want %d", len(idx), len(keys))
	}
	seen := make([]bool, len(keys))
	for _, i := range idx {
		if seen[i] {
			t.Fatalf("index %d appears twice", i)
		}
		seen[i] = true
	}
	for i := 1; i < len(idx); i++ {
		a, b := keys[idx[i-1]], keys[idx[i]]
		if a > b {
			t.Fatalf("position %d: %d > %d", i, a, b)
		}
		if a == b && idx[i-1] > idx[i] {
			t.Fatalf("position %d: unstable tie (%d before %d)", i, idx[i-1], idx[i])
		}
	}
}

func TestCountingArgsort(t *testing.T) {
	keys := []int64{5, 3, 5, 1, 3, 5, 0}
	idx, ok := CountingArgsort(keys)
	if !ok {
		t.Fatal("counting sort refused a tiny range")
	}
	checkStableAscending(t, keys, idx)

	// dense random
	rng := rand.New(rand.NewSource(7))
	keys = keys[:0]
	for i := 0; i < 10000; i++ {
		keys = append(keys, int64(rng.Intn(512)))
	}
	idx, ok = CountingArgsort(keys)
	if !ok {
		t.Fatal("counting sort refused a dense range")
	}
	checkStableAscending(t, keys, idx)

	// range too wide for counting
	if _, ok := CountingArgsort([]int64{0, math.MaxInt64}); ok {
		t.Fatal("counting sort accepted a 2^63 range")
	}
}

func TestArgsortFallback(t *testing.T) {
	keys := []int64{math.MaxInt64, 0, math.MinInt64, 0, math.MaxInt64}
	checkStableAscending(t, keys, Argsort(keys))

	if got := Argsort(nil); len(got) != 0 {
		t.Fatalf("argsort(nil) returned %d entries", len(got))
	}
}

func TestGather(t *testing.T) {
	src := []float64{10.5, 20.5, 30.5}
	got := Gather(nil, src, []uint32{2, 0, 0, 1})
	want := []float64{30.5, 10.5, 10.5, 20.5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("element %d: %v != %v", i, got[i], want[i])
		}
	}
}

func TestPrefixSum(t *testing.T) {
	xs := []int64{1, 2, 3, 4}
	PrefixSum(xs)
	for i, want := range []int64{1, 3, 6, 10} {
		if xs[i] != want {
			t.Fatalf("element %d: %d != %d", i, xs[i], want)
		}
	}
	ex := ExclusiveSum(nil, []int64{1, 2, 3, 4})
	for i, want := range []int64{0, 1, 3, 6} {
		if ex[i] != want {
			t.Fatalf("element %d: %d != %d", i, ex[i], want)
		}
	}
}
