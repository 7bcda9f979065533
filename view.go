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
	"unsafe"
)

// Typed views alias column bytes in place; they are only
// valid on little-endian hosts, which is the only byte
// order the engine targets.

// Int16View aliases b as []int16.
func Int16View(b []byte) []int16 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int16)(unsafe.Pointer(&b[0])), len(b)/2)
}

// Int32View aliases b as []int32.
func Int32View(b []byte) []int32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Int64View aliases b as []int64.
func Int64View(b []byte) []int64 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&b[0])), len(b)/8)
}

// Float64View aliases b as []float64.
func Float64View(b []byte) []float64 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&b[0])), len(b)/8)
}

// ValueAt decodes element i of a column buffer as a float64
// for aggregation, regardless of the physical type.
func ValueAt(b []byte, t Type, i int) float64 {
	switch t {
	case Int16:
		return float64(Int16View(b)[i])
	case Int32:
		return float64(Int32View(b)[i])
	case Int64:
		return float64(Int64View(b)[i])
	default:
		return Float64View(b)[i]
	}
}

// IntAt decodes element i of a column buffer as an int64.
// Float columns are truncated.
func IntAt(b []byte, t Type, i int) int64 {
	switch t {
	case Int16:
		return int64(Int16View(b)[i])
	case Int32:
		return int64(Int32View(b)[i])
	case Int64:
		return Int64View(b)[i]
	default:
		return int64(Float64View(b)[i])
	}
}
