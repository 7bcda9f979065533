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

// min-heap over per-source cursors, used when the input is
// too large for the sort-then-scan path.

const maxInt64 = 1<<63 - 1

// cursor tracks the next unconsumed row of one source.
type cursor struct {
	ts  int64
	src int
	row int64
}

// less orders by timestamp, then source ordinal; rows of
// one source enter the heap in order, so this matches the
// sorted path's stable tie-break.
func (c cursor) less(o cursor) bool {
	if c.ts != o.ts {
		return c.ts < o.ts
	}
	return c.src < o.src
}

func heapPush(h *[]cursor, c cursor) {
	*h = append(*h, c)
	siftUp(*h, len(*h)-1)
}

func heapPop(h *[]cursor) cursor {
	ret := (*h)[0]
	(*h)[0], *h = (*h)[len(*h)-1], (*h)[:len(*h)-1]
	if len(*h) > 0 {
		siftDown(*h, 0)
	}
	return ret
}

func siftUp(h []cursor, i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h[i].less(h[parent]) {
			return
		}
		h[i], h[parent] = h[parent], h[i]
		i = parent
	}
}

func siftDown(h []cursor, i int) {
	for {
		least := i
		if l := 2*i + 1; l < len(h) && h[l].less(h[least]) {
			least = l
		}
		if r := 2*i + 2; r < len(h) && h[r].less(h[least]) {
			least = r
		}
		if least == i {
			return
		}
		h[i], h[least] = h[least], h[i]
		i = least
	}
}
