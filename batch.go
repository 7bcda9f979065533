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

package ndts

import (
	"encoding/binary"
	"math"
)

// Batch is a column-oriented builder for rows that share
// one schema. Values are validated and coerced once at the
// boundary; the storage layers below operate on the raw
// little-endian column buffers.
type Batch struct {
	sch  *Schema
	n    int
	cols [][]byte
}

// NewBatch returns an empty batch for schema s.
func NewBatch(s *Schema) *Batch {
	return &Batch{
		sch:  s,
		cols: make([][]byte, s.NumColumns()),
	}
}

// Schema returns the batch schema.
func (b *Batch) Schema() *Schema { return b.sch }

// Len returns the number of rows appended so far.
func (b *Batch) Len() int { return b.n }

// Column returns the raw little-endian buffer for column i.
func (b *Batch) Column(i int) []byte { return b.cols[i] }

// Reset drops all rows but keeps the allocated buffers.
func (b *Batch) Reset() {
	b.n = 0
	for i := range b.cols {
		b.cols[i] = b.cols[i][:0]
	}
}

// AppendRow validates vals against the schema and appends
// one row. The value set must match the schema exactly:
// a missing column or an unknown extra fails the whole call
// before anything is written.
func (b *Batch) AppendRow(vals map[string]interface{}) error {
	for name := range vals {
		if _, ok := b.sch.Lookup(name); !ok {
			return Errorf(KindSchema, name, "unknown column %q", name)
		}
	}
	cols := b.sch.Columns()
	// validate and coerce everything up front so that a
	// failure leaves the batch untouched
	var scratch [64]uint64
	raw := scratch[:0]
	for i := range cols {
		v, ok := vals[cols[i].Name]
		if !ok {
			return Errorf(KindSchema, cols[i].Name, "missing column %q", cols[i].Name)
		}
		u, err := coerce(v, cols[i].Type, cols[i].Name)
		if err != nil {
			return err
		}
		raw = append(raw, u)
	}
	for i := range cols {
		b.cols[i] = appendRaw(b.cols[i], raw[i], cols[i].Type)
	}
	b.n++
	return nil
}

// AppendInt64 appends v to column i without going through
// interface coercion. The column must be int64.
func (b *Batch) AppendInt64(i int, v int64) {
	b.cols[i] = appendRaw(b.cols[i], uint64(v), Int64)
}

// AppendFloat64 appends v to column i. The column must be float64.
func (b *Batch) AppendFloat64(i int, v float64) {
	b.cols[i] = appendRaw(b.cols[i], math.Float64bits(v), Float64)
}

// FinishRow bumps the row count after a sequence of typed
// appends. The caller is responsible for having appended
// exactly one value to every column.
func (b *Batch) FinishRow() { b.n++ }

// AppendFrom copies row i of src, which must share the
// schema, without re-coercing values.
func (b *Batch) AppendFrom(src *Batch, i int) {
	for c := range b.cols {
		w := b.sch.cols[c].Type.Width()
		b.cols[c] = append(b.cols[c], src.cols[c][i*w:(i+1)*w]...)
	}
	b.n++
}

// Int64At returns row i of column c as an int64.
// The column must be an integer or float64 column; floats
// are truncated.
func (b *Batch) Int64At(c, i int) int64 {
	w := b.sch.cols[c].Type.Width()
	return IntAt(b.cols[c][i*w:(i+1)*w], b.sch.cols[c].Type, 0)
}

// appendRaw appends the low Width bytes of u, little-endian.
func appendRaw(dst []byte, u uint64, t Type) []byte {
	switch t {
	case Int16:
		return append(dst, byte(u), byte(u>>8))
	case Int32:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(u))
		return append(dst, tmp[:]...)
	default:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], u)
		return append(dst, tmp[:]...)
	}
}

// coerce converts v to the bit pattern of column type t.
// Integer columns accept int, int32, int64, uint32, and
// float64 values that convert exactly; anything else is a
// schema error.
func coerce(v interface{}, t Type, name string) (uint64, error) {
	var i int64
	switch x := v.(type) {
	case int:
		i = int64(x)
	case int32:
		i = int64(x)
	case int64:
		i = x
	case uint32:
		i = int64(x)
	case float64:
		if t == Float64 {
			return math.Float64bits(x), nil
		}
		// exact conversion only
		if x != math.Trunc(x) || x < -9.007199254740992e15 || x > 9.007199254740992e15 {
			return 0, Errorf(KindSchema, name, "value %v not exactly representable as %s", x, t)
		}
		i = int64(x)
	default:
		return 0, Errorf(KindSchema, name, "cannot coerce %T to %s", v, t)
	}
	switch t {
	case Int16:
		if i < math.MinInt16 || i > math.MaxInt16 {
			return 0, Errorf(KindSchema, name, "value %d out of int16 range", i)
		}
	case Int32:
		if i < math.MinInt32 || i > math.MaxInt32 {
			return 0, Errorf(KindSchema, name, "value %d out of int32 range", i)
		}
	case Float64:
		return math.Float64bits(float64(i)), nil
	}
	return uint64(i), nil
}
