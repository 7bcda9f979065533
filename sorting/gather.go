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
	"golang.org/x/exp/constraints"
)

// Number is any type a column can hold.
type Number interface {
	constraints.Integer | constraints.Float
}

// Gather appends src[idx[i]] for each i to dst and
// returns the result.
func Gather[T any](dst, src []T, idx []uint32) []T {
	for _, i := range idx {
		dst = append(dst, src[i])
	}
	return dst
}

// PrefixSum computes the inclusive prefix sum of src
// in place: src[i] becomes the sum of src[0..i].
func PrefixSum[T Number](src []T) {
	var sum T
	for i := range src {
		sum += src[i]
		src[i] = sum
	}
}

// ExclusiveSum appends the exclusive prefix sum of src to
// dst: element i is the sum of src[0..i-1], so element 0 is
// always zero and the total is not included.
func ExclusiveSum[T Number](dst, src []T) []T {
	var sum T
	for i := range src {
		dst = append(dst, sum)
		sum += src[i]
	}
	return dst
}
