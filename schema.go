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
	"fmt"
)

// Type is the physical type of a column.
// All types are fixed-width and little-endian on disk.
type Type uint8

const (
	Int16 Type = iota
	Int32
	Int64
	Float64
)

// Width returns the number of bytes one value occupies.
func (t Type) Width() int {
	switch t {
	case Int16:
		return 2
	case Int32:
		return 4
	case Int64, Float64:
		return 8
	}
	return 0
}

func (t Type) String() string {
	switch t {
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType converts the textual form used in file headers
// back into a Type.
func ParseType(s string) (Type, bool) {
	switch s {
	case "int16":
		return Int16, true
	case "int32":
		return Int32, true
	case "int64":
		return Int64, true
	case "float64":
		return Float64, true
	}
	return 0, false
}

// Column is one (name, type) pair of a schema.
type Column struct {
	Name string
	Type Type
}

// Schema is an ordered sequence of columns.
// A Schema is immutable for the lifetime of a file;
// callers must not mutate the slice returned by Columns.
type Schema struct {
	cols []Column
	pos  map[string]int
}

// NewSchema builds a schema from cols.
// Column names must be non-empty and unique.
func NewSchema(cols ...Column) (*Schema, error) {
	if len(cols) == 0 {
		return nil, Errorf(KindSchema, "", "schema has no columns")
	}
	s := &Schema{
		cols: make([]Column, len(cols)),
		pos:  make(map[string]int, len(cols)),
	}
	copy(s.cols, cols)
	for i := range s.cols {
		name := s.cols[i].Name
		if name == "" {
			return nil, Errorf(KindSchema, "", "column %d has an empty name", i)
		}
		if s.cols[i].Type.Width() == 0 {
			return nil, Errorf(KindSchema, name, "unsupported column type %d", int(s.cols[i].Type))
		}
		if _, ok := s.pos[name]; ok {
			return nil, Errorf(KindSchema, name, "duplicate column %q", name)
		}
		s.pos[name] = i
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error.
// Intended for statically-known schemas.
func MustSchema(cols ...Column) *Schema {
	s, err := NewSchema(cols...)
	if err != nil {
		panic(err)
	}
	return s
}

// Columns returns the ordered column list.
func (s *Schema) Columns() []Column { return s.cols }

// NumColumns returns the number of columns.
func (s *Schema) NumColumns() int { return len(s.cols) }

// Lookup returns the position of the named column.
func (s *Schema) Lookup(name string) (int, bool) {
	i, ok := s.pos[name]
	return i, ok
}

// RowWidth returns the total byte width of one row.
func (s *Schema) RowWidth() int {
	w := 0
	for i := range s.cols {
		w += s.cols[i].Type.Width()
	}
	return w
}

// Equal reports whether s and o have identical columns
// in identical order.
func (s *Schema) Equal(o *Schema) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil || len(s.cols) != len(o.cols) {
		return false
	}
	for i := range s.cols {
		if s.cols[i] != o.cols[i] {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	out := "["
	for i := range s.cols {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s %s", s.cols[i].Name, s.cols[i].Type)
	}
	return out + "]"
}
