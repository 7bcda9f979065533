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

package index

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ndtslab/ndts/ints"
	"golang.org/x/exp/slices"
)

// Bitmap is a two-level compressed bitset over u32 values:
// the high 16 bits select a container, the low 16 bits live
// either in a sorted u16 array or, above arrayMax entries,
// in a dense 65536-bit bitmap.
type Bitmap struct {
	high []uint16
	cts  []*container
}

// arrayMax is the cardinality at which an array container
// is promoted to dense form.
const arrayMax = 4096

const denseWords = 65536 / 64

type container struct {
	// exactly one of arr/dense is non-nil
	arr   []uint16
	dense []uint64
	n     int // cardinality of dense; len(arr) otherwise
}

func (c *container) cardinality() int {
	if c.dense != nil {
		return c.n
	}
	return len(c.arr)
}

func (c *container) add(low uint16) {
	if c.dense != nil {
		if !ints.TestBit(c.dense, low) {
			ints.SetBit(c.dense, low)
			c.n++
		}
		return
	}
	i, found := slices.BinarySearch(c.arr, low)
	if found {
		return
	}
	c.arr = slices.Insert(c.arr, i, low)
	if len(c.arr) > arrayMax {
		c.promote()
	}
}

func (c *container) promote() {
	dense := make([]uint64, denseWords)
	for _, v := range c.arr {
		ints.SetBit(dense, v)
	}
	c.n = len(c.arr)
	c.arr = nil
	c.dense = dense
}

func (c *container) contains(low uint16) bool {
	if c.dense != nil {
		return ints.TestBit(c.dense, low)
	}
	_, found := slices.BinarySearch(c.arr, low)
	return found
}

func (c *container) visit(fn func(low uint16)) {
	if c.dense != nil {
		ints.VisitBits(c.dense, func(k int) { fn(uint16(k)) })
		return
	}
	for _, v := range c.arr {
		fn(v)
	}
}

// Add inserts v.
func (b *Bitmap) Add(v uint32) {
	hi := uint16(v >> 16)
	i, found := slices.BinarySearch(b.high, hi)
	if !found {
		b.high = slices.Insert(b.high, i, hi)
		b.cts = slices.Insert(b.cts, i, &container{})
	}
	b.cts[i].add(uint16(v))
}

// Contains reports whether v is present.
func (b *Bitmap) Contains(v uint32) bool {
	i, found := slices.BinarySearch(b.high, uint16(v>>16))
	return found && b.cts[i].contains(uint16(v))
}

// Cardinality returns the number of values present.
func (b *Bitmap) Cardinality() int {
	n := 0
	for _, c := range b.cts {
		n += c.cardinality()
	}
	return n
}

// ToArray returns every value in ascending order.
func (b *Bitmap) ToArray() []uint32 {
	out := make([]uint32, 0, b.Cardinality())
	for i, c := range b.cts {
		base := uint32(b.high[i]) << 16
		c.visit(func(low uint16) {
			out = append(out, base|uint32(low))
		})
	}
	return out
}

// And returns the intersection of a and b.
func And(a, b *Bitmap) *Bitmap {
	out := new(Bitmap)
	for i, hi := range a.high {
		j, found := slices.BinarySearch(b.high, hi)
		if !found {
			continue
		}
		base := uint32(hi) << 16
		other := b.cts[j]
		a.cts[i].visit(func(low uint16) {
			if other.contains(low) {
				out.Add(base | uint32(low))
			}
		})
	}
	return out
}

// Or returns the union of a and b.
func Or(a, b *Bitmap) *Bitmap {
	out := new(Bitmap)
	for i, hi := range a.high {
		base := uint32(hi) << 16
		a.cts[i].visit(func(low uint16) { out.Add(base | uint32(low)) })
	}
	for i, hi := range b.high {
		base := uint32(hi) << 16
		b.cts[i].visit(func(low uint16) { out.Add(base | uint32(low)) })
	}
	return out
}

// Serialized layout (little-endian):
//
//	u32 container count
//	per container:
//	  u16 high bits
//	  u8  kind (0 = array, 1 = dense)
//	  u32 cardinality
//	  payload: u16 values (array) or 1024 u64 words (dense)

// Serialize appends the wire form of b to dst.
func (b *Bitmap) Serialize(dst []byte) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(b.cts)))
	dst = append(dst, tmp[:4]...)
	for i, c := range b.cts {
		binary.LittleEndian.PutUint16(tmp[:2], b.high[i])
		dst = append(dst, tmp[:2]...)
		if c.dense != nil {
			dst = append(dst, 1)
			binary.LittleEndian.PutUint32(tmp[:4], uint32(c.n))
			dst = append(dst, tmp[:4]...)
			for _, w := range c.dense {
				binary.LittleEndian.PutUint64(tmp[:], w)
				dst = append(dst, tmp[:]...)
			}
		} else {
			dst = append(dst, 0)
			binary.LittleEndian.PutUint32(tmp[:4], uint32(len(c.arr)))
			dst = append(dst, tmp[:4]...)
			for _, v := range c.arr {
				binary.LittleEndian.PutUint16(tmp[:2], v)
				dst = append(dst, tmp[:2]...)
			}
		}
	}
	return dst
}

// Deserialize replaces b with the wire form in src.
func (b *Bitmap) Deserialize(src []byte) error {
	if len(src) < 4 {
		return fmt.Errorf("bitmap: short input (%d bytes)", len(src))
	}
	count := int(binary.LittleEndian.Uint32(src))
	src = src[4:]
	high := make([]uint16, 0, count)
	cts := make([]*container, 0, count)
	for i := 0; i < count; i++ {
		if len(src) < 7 {
			return fmt.Errorf("bitmap: truncated container %d", i)
		}
		hi := binary.LittleEndian.Uint16(src)
		kind := src[2]
		n := int(binary.LittleEndian.Uint32(src[3:]))
		src = src[7:]
		if len(high) > 0 && hi <= high[len(high)-1] {
			return fmt.Errorf("bitmap: container %d out of order", i)
		}
		c := &container{}
		switch kind {
		case 0:
			if n > arrayMax || len(src) < 2*n {
				return fmt.Errorf("bitmap: bad array container %d (n=%d)", i, n)
			}
			c.arr = make([]uint16, n)
			for j := 0; j < n; j++ {
				c.arr[j] = binary.LittleEndian.Uint16(src[2*j:])
			}
			if !sort.SliceIsSorted(c.arr, func(x, y int) bool { return c.arr[x] < c.arr[y] }) {
				return fmt.Errorf("bitmap: array container %d not sorted", i)
			}
			src = src[2*n:]
		case 1:
			if len(src) < 8*denseWords {
				return fmt.Errorf("bitmap: truncated dense container %d", i)
			}
			c.dense = make([]uint64, denseWords)
			for j := range c.dense {
				c.dense[j] = binary.LittleEndian.Uint64(src[8*j:])
			}
			src = src[8*denseWords:]
			if got := ints.OnesCount(c.dense); got != n {
				return fmt.Errorf("bitmap: dense container %d cardinality %d != %d", i, got, n)
			}
			c.n = n
		default:
			return fmt.Errorf("bitmap: unknown container kind %d", kind)
		}
		high = append(high, hi)
		cts = append(cts, c)
	}
	b.high = high
	b.cts = cts
	return nil
}

// BitmapIndex maps each distinct value of a low-cardinality
// column to the bitmap of rows holding it.
type BitmapIndex struct {
	m map[int64]*Bitmap
}

// BuildBitmapIndex indexes every element of the column view.
func BuildBitmapIndex(column []int64) *BitmapIndex {
	ix := &BitmapIndex{m: make(map[int64]*Bitmap)}
	for i, v := range column {
		bm := ix.m[v]
		if bm == nil {
			bm = new(Bitmap)
			ix.m[v] = bm
		}
		bm.Add(uint32(i))
	}
	return ix
}

// Bitmap returns the bitmap for value v, or nil.
func (ix *BitmapIndex) Bitmap(v int64) *Bitmap { return ix.m[v] }

// Values returns the distinct indexed values in ascending
// order.
func (ix *BitmapIndex) Values() []int64 {
	out := make([]int64, 0, len(ix.m))
	for v := range ix.m {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Rows returns the ascending rows holding value v.
func (ix *BitmapIndex) Rows(v int64) []uint32 {
	bm := ix.m[v]
	if bm == nil {
		return nil
	}
	return bm.ToArray()
}
