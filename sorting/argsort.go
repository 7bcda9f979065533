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

// Package sorting implements the batch numeric kernels used
// by the scan and merge layers: stable argsort, gather, and
// prefix sums.
package sorting

import (
	"sort"
)

// maxCountingRange bounds the bucket allocation for the
// counting-sort path; above this the comparison path wins.
const maxCountingRange = 1 << 26

// CountingArgsort computes a stable ascending permutation of
// keys using a two-pass counting sort over the observed
// [min, max] range. It returns ok=false (and no permutation)
// when the range is too wide for counting to be profitable.
func CountingArgsort(keys []int64) ([]uint32, bool) {
	if len(keys) == 0 {
		return nil, true
	}
	min, max := keys[0], keys[0]
	for _, k := range keys[1:] {
		if k < min {
			min = k
		}
		if k > max {
			max = k
		}
	}
	// the subtraction is performed unsigned so that a
	// full-width int64 range cannot wrap the comparison
	if uint64(max)-uint64(min) >= maxCountingRange {
		return nil, false
	}
	width := uint64(max-min) + 1
	counts := make([]uint32, width+1)
	for _, k := range keys {
		counts[uint64(k-min)+1]++
	}
	for i := 1; i < len(counts); i++ {
		counts[i] += counts[i-1]
	}
	out := make([]uint32, len(keys))
	for i, k := range keys {
		b := uint64(k - min)
		out[counts[b]] = uint32(i)
		counts[b]++
	}
	return out, true
}

// Argsort computes a stable ascending permutation of keys,
// using counting sort when the key range is dense enough and
// a stable comparison sort otherwise. Equal keys keep their
// original relative order.
func Argsort(keys []int64) []uint32 {
	if out, ok := CountingArgsort(keys); ok {
		return out
	}
	out := make([]uint32, len(keys))
	for i := range out {
		out[i] = uint32(i)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return keys[out[i]] < keys[out[j]]
	})
	return out
}
