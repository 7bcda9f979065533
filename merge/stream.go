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

// Package merge interleaves many per-symbol column files
// into one globally time-ordered stream, with snapshot and
// as-of queries across all sources.
//
// The default strategy concatenates every source's
// timestamps, argsorts once, and then replays the
// permutation; a k-way cursor heap takes over for inputs
// past HeapThreshold, trading per-element log K for the
// big up-front sort allocation.
package merge

import (
	"github.com/ndtslab/ndts/pool"
	"github.com/ndtslab/ndts/sorting"
)

// DefaultHeapThreshold is the total row count past which
// the cursor-heap strategy replaces sort-then-scan.
const DefaultHeapThreshold = 64 << 20

// Options configures a Stream.
type Options struct {
	// TimeColumn is the timestamp column; "ts" if empty.
	TimeColumn string
	// HeapThreshold overrides DefaultHeapThreshold;
	// negative disables the heap fallback entirely.
	HeapThreshold int
}

func (o *Options) timeColumn() string {
	if o == nil || o.TimeColumn == "" {
		return "ts"
	}
	return o.TimeColumn
}

func (o *Options) threshold() int {
	if o == nil || o.HeapThreshold == 0 {
		return DefaultHeapThreshold
	}
	return o.HeapThreshold
}

// Stream is an initialized merge over a fixed set of
// sources. It borrows views from the pool that built it;
// the pool must outlive the stream.
type Stream struct {
	names []string
	ts    [][]int64 // per-source timestamp views
	files []*pool.Mapped
	total int

	// sort-then-scan state (nil in heap mode)
	allTS  []int64
	allSrc []uint32
	allRow []uint32
	sorted []uint32
	// snapshotStarts[k] is the position in sorted where
	// the k-th distinct timestamp begins; a final entry
	// holds len(sorted)
	snapshotStarts []int
}

// New builds a merge over the named files of p. Sources
// keep the given order; ties in timestamp resolve by that
// ordinal, then by row within the source.
func New(p *pool.Pool, names []string, opts *Options) (*Stream, error) {
	s := &Stream{names: append([]string(nil), names...)}
	tcol := opts.timeColumn()
	for _, name := range names {
		m, err := p.File(name)
		if err != nil {
			s.release()
			return nil, err
		}
		s.files = append(s.files, m)
		v, err := m.Column(tcol)
		if err != nil {
			s.release()
			return nil, err
		}
		ts := v.Int64s()
		s.ts = append(s.ts, ts)
		s.total += len(ts)
	}
	if thr := opts.threshold(); thr < 0 || s.total <= thr {
		s.buildSorted()
	}
	return s, nil
}

func (s *Stream) release() {
	for _, m := range s.files {
		m.Close()
	}
	s.files = nil
}

// Close releases the pool references held by the stream.
func (s *Stream) Close() error {
	s.release()
	return nil
}

// buildSorted materializes the global
// (timestamp, source, row) order.
func (s *Stream) buildSorted() {
	s.allTS = make([]int64, 0, s.total)
	s.allSrc = make([]uint32, 0, s.total)
	s.allRow = make([]uint32, 0, s.total)
	for i, ts := range s.ts {
		for r, t := range ts {
			s.allTS = append(s.allTS, t)
			s.allSrc = append(s.allSrc, uint32(i))
			s.allRow = append(s.allRow, uint32(r))
		}
	}
	// stable, so equal timestamps keep concatenation
	// order: source ordinal, then row within source
	s.sorted = sorting.Argsort(s.allTS)
	s.snapshotStarts = s.snapshotStarts[:0]
	for i := range s.sorted {
		if i == 0 || s.allTS[s.sorted[i]] != s.allTS[s.sorted[i-1]] {
			s.snapshotStarts = append(s.snapshotStarts, i)
		}
	}
	s.snapshotStarts = append(s.snapshotStarts, len(s.sorted))
}

// Sources returns the source names in ordinal order.
func (s *Stream) Sources() []string { return s.names }

// Len returns the total row count across sources.
func (s *Stream) Len() int { return s.total }

// SnapshotCount returns the number of distinct timestamps.
// It is only available in sort-then-scan mode; heap mode
// returns -1.
func (s *Stream) SnapshotCount() int {
	if s.sorted == nil {
		return -1
	}
	return len(s.snapshotStarts) - 1
}

// Column returns a column view of source ordinal src.
func (s *Stream) Column(src int, name string) (pool.View, error) {
	return s.files[src].Column(name)
}
