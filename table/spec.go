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

// Package table implements a logical table partitioned
// over many append-only column files, either by hash of a
// key column or by time bucket. Scans prune partitions by
// key metadata; aggregations run per partition and combine.
package table

import (
	"fmt"
	"time"

	"github.com/dchest/siphash"
	"github.com/ndtslab/ndts"
)

// Spec describes how rows route to partitions. The spec is
// immutable after the table's first write.
type Spec struct {
	// Kind is "hash" or "time".
	Kind string `json:"kind"`
	// Column is the partition key column; its value must
	// be a pure function of the row.
	Column string `json:"column"`
	// Buckets is the hash bucket count (hash only).
	Buckets int `json:"buckets,omitempty"`
	// Granularity is "hour", "day", or "month" (time
	// only). Time keys are Unix milliseconds.
	Granularity string `json:"granularity,omitempty"`
}

// Validate checks the spec against the table schema.
func (s *Spec) Validate(sch *ndts.Schema) error {
	i, ok := sch.Lookup(s.Column)
	if !ok {
		return ndts.Errorf(ndts.KindSchema, s.Column, "partition column %q not in schema", s.Column)
	}
	if sch.Columns()[i].Type == ndts.Float64 {
		return ndts.Errorf(ndts.KindSchema, s.Column, "partition column %q must be an integer column", s.Column)
	}
	switch s.Kind {
	case "hash":
		if s.Buckets <= 0 {
			return ndts.Errorf(ndts.KindSchema, s.Column, "hash partitioning needs buckets > 0")
		}
	case "time":
		switch s.Granularity {
		case "hour", "day", "month":
		default:
			return ndts.Errorf(ndts.KindSchema, s.Column, "unknown granularity %q", s.Granularity)
		}
	default:
		return ndts.Errorf(ndts.KindSchema, s.Column, "unknown partition kind %q", s.Kind)
	}
	return nil
}

func (s *Spec) equal(o *Spec) bool {
	return s.Kind == o.Kind && s.Column == o.Column &&
		s.Buckets == o.Buckets && s.Granularity == o.Granularity
}

// siphash key for hash routing; fixed forever, since
// changing it would orphan every existing bucket.
const hashK0, hashK1 = 0, 0

// Partition returns the directory name for key.
func (s *Spec) Partition(key int64) string {
	if s.Kind == "hash" {
		var kb [8]byte
		putLE64(kb[:], uint64(key))
		h := siphash.Hash(hashK0, hashK1, kb[:])
		return fmt.Sprintf("hash-%04d", h%uint64(s.Buckets))
	}
	t := time.UnixMilli(key).UTC()
	switch s.Granularity {
	case "hour":
		return t.Format("2006-01-02T15")
	case "day":
		return t.Format("2006-01-02")
	default:
		return t.Format("2006-01")
	}
}

func putLE64(b []byte, u uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}
