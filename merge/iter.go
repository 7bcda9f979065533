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
	"github.com/ndtslab/ndts/window"
	"golang.org/x/exp/slices"
)

// Tick is one element of the merged sequence.
type Tick struct {
	Ts     int64
	Source int   // source ordinal
	Row    int64 // row within the source
}

// TickIter replays the merged sequence in timestamp order,
// at O(1) per element in sort-then-scan mode and O(log K)
// per element in heap mode. It is restartable via Reset.
type TickIter struct {
	s   *Stream
	pos int      // sorted mode
	h   []cursor // heap mode
}

// Ticks returns a fresh iterator over the merged sequence.
func (s *Stream) Ticks() *TickIter {
	it := &TickIter{s: s}
	it.Reset()
	return it
}

// Reset restarts the iterator.
func (it *TickIter) Reset() {
	it.pos = 0
	if it.s.sorted != nil {
		return
	}
	it.h = it.h[:0]
	for i, ts := range it.s.ts {
		if len(ts) > 0 {
			heapPush(&it.h, cursor{ts: ts[0], src: i, row: 0})
		}
	}
}

// Next returns the next tick in order.
func (it *TickIter) Next() (Tick, bool) {
	if it.s.sorted != nil {
		if it.pos >= len(it.s.sorted) {
			return Tick{}, false
		}
		g := it.s.sorted[it.pos]
		it.pos++
		return Tick{
			Ts:     it.s.allTS[g],
			Source: int(it.s.allSrc[g]),
			Row:    int64(it.s.allRow[g]),
		}, true
	}
	if len(it.h) == 0 {
		return Tick{}, false
	}
	c := heapPop(&it.h)
	src := it.s.ts[c.src]
	if next := c.row + 1; next < int64(len(src)) {
		heapPush(&it.h, cursor{ts: src[next], src: c.src, row: next})
	}
	return Tick{Ts: c.ts, Source: c.src, Row: c.row}, true
}

// Snapshot is the per-source state at one distinct
// timestamp: for each source, the row index of the most
// recent row at or before the timestamp, or -1 when the
// source has not been observed yet.
type Snapshot struct {
	Ts   int64
	Rows []int64
}

// SnapshotIter emits one Snapshot per distinct timestamp.
// The Rows slice is reused between calls; callers that
// retain it must copy.
type SnapshotIter struct {
	ticks *TickIter
	cur   []int64
	next  Tick
	have  bool
}

// Snapshots returns a fresh snapshot iterator.
func (s *Stream) Snapshots() *SnapshotIter {
	it := &SnapshotIter{ticks: s.Ticks(), cur: make([]int64, len(s.ts))}
	for i := range it.cur {
		it.cur[i] = -1
	}
	it.next, it.have = it.ticks.Next()
	return it
}

// Next advances to the next distinct timestamp.
func (it *SnapshotIter) Next() (Snapshot, bool) {
	if !it.have {
		return Snapshot{}, false
	}
	ts := it.next.Ts
	for it.have && it.next.Ts == ts {
		it.cur[it.next.Source] = it.next.Row
		it.next, it.have = it.ticks.Next()
	}
	return Snapshot{Ts: ts, Rows: it.cur}, true
}

// AsOf returns, for each source, the row with the greatest
// timestamp <= t, or -1 when the source has no such row.
func (s *Stream) AsOf(t int64) []int64 {
	out := make([]int64, len(s.ts))
	for i, ts := range s.ts {
		if t == maxInt64 {
			out[i] = int64(len(ts)) - 1
			continue
		}
		// first position with ts > t
		pos, _ := slices.BinarySearch(ts, t+1)
		out[i] = int64(pos) - 1
	}
	return out
}

// ReplayBars resamples the merged stream into OHLCV bars
// of the given bucket size, reading prices (and volumes,
// when volCol is non-empty) across every source.
func (s *Stream) ReplayBars(priceCol, volCol string, bucket int64) ([]window.Bar, error) {
	px := make([][]float64, len(s.ts))
	var vol [][]float64
	if volCol != "" {
		vol = make([][]float64, len(s.ts))
	}
	for i := range s.ts {
		v, err := s.Column(i, priceCol)
		if err != nil {
			return nil, err
		}
		px[i] = v.Float64s()
		if vol != nil {
			v, err := s.Column(i, volCol)
			if err != nil {
				return nil, err
			}
			vol[i] = v.Float64s()
		}
	}
	ts := make([]int64, 0, s.total)
	ps := make([]float64, 0, s.total)
	var vs []float64
	if vol != nil {
		vs = make([]float64, 0, s.total)
	}
	it := s.Ticks()
	for {
		tk, ok := it.Next()
		if !ok {
			break
		}
		ts = append(ts, tk.Ts)
		ps = append(ps, px[tk.Source][tk.Row])
		if vol != nil {
			vs = append(vs, vol[tk.Source][tk.Row])
		}
	}
	return window.Bucket(ts, ps, vs, bucket), nil
}
