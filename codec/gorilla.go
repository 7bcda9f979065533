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

package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
)

// Gorilla XOR compression for float64 sequences.
//
// The first value is written verbatim. Every subsequent value
// is XORed against its predecessor: a zero XOR emits a single
// 0 bit; otherwise a 1 bit is emitted and the nonzero bits are
// packed either inside the previous leading/trailing window
// (control bit 0) or inside a new window described by a 6-bit
// leading-zero count and a 6-bit meaningful-bit count (control
// bit 1). A meaningful-bit count of 0 encodes 64.
//
// The encoding is lossless on finite IEEE-754 doubles.

// leadingUnset marks that no XOR window has been
// established yet; the first nonzero XOR always takes
// the new-window branch.
const leadingUnset = 0xff

// GorillaCompress appends the compressed form of src to dst
// and returns the result. The output begins with a u32
// little-endian value count.
func GorillaCompress(dst []byte, src []float64) []byte {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(src)))
	dst = append(dst, hdr[:]...)
	if len(src) == 0 {
		return dst
	}
	w := bitWriter{buf: dst}
	w.writeBits(math.Float64bits(src[0]), 64)
	prev := math.Float64bits(src[0])
	leading := uint8(leadingUnset)
	trailing := uint8(0)
	for _, v := range src[1:] {
		cur := math.Float64bits(v)
		x := cur ^ prev
		prev = cur
		if x == 0 {
			w.writeBit(false)
			continue
		}
		w.writeBit(true)
		lz := uint8(bits.LeadingZeros64(x))
		tz := uint8(bits.TrailingZeros64(x))
		if leading != leadingUnset && lz >= leading && tz >= trailing {
			// fits in the previous window
			w.writeBit(false)
			w.writeBits(x>>trailing, 64-int(leading)-int(trailing))
			continue
		}
		leading, trailing = lz, tz
		sig := 64 - int(leading) - int(trailing)
		w.writeBit(true)
		w.writeBits(uint64(leading), 6)
		// sig is in 1..64; 64 is encoded as 0
		w.writeBits(uint64(sig&0x3f), 6)
		w.writeBits(x>>trailing, sig)
	}
	return w.bytes()
}

// GorillaDecompress appends the values encoded in src to dst
// and returns the result.
func GorillaDecompress(dst []float64, src []byte) ([]float64, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("gorilla: short input (%d bytes)", len(src))
	}
	count := int(binary.LittleEndian.Uint32(src))
	if count == 0 {
		return dst, nil
	}
	r := bitReader{buf: src[4:]}
	first, err := r.readBits(64)
	if err != nil {
		return nil, fmt.Errorf("gorilla: reading first value: %w", err)
	}
	prev := first
	dst = append(dst, math.Float64frombits(first))
	var leading, trailing uint8
	for i := 1; i < count; i++ {
		bit, err := r.readBit()
		if err != nil {
			return nil, fmt.Errorf("gorilla: value %d: %w", i, err)
		}
		if !bit {
			dst = append(dst, math.Float64frombits(prev))
			continue
		}
		newWindow, err := r.readBit()
		if err != nil {
			return nil, fmt.Errorf("gorilla: value %d: %w", i, err)
		}
		if newWindow {
			l, err := r.readBits(6)
			if err != nil {
				return nil, fmt.Errorf("gorilla: value %d: %w", i, err)
			}
			s, err := r.readBits(6)
			if err != nil {
				return nil, fmt.Errorf("gorilla: value %d: %w", i, err)
			}
			leading = uint8(l)
			sig := int(s)
			if sig == 0 {
				sig = 64
			}
			trailing = uint8(64 - int(leading) - sig)
		}
		sig := 64 - int(leading) - int(trailing)
		mant, err := r.readBits(sig)
		if err != nil {
			return nil, fmt.Errorf("gorilla: value %d: %w", i, err)
		}
		prev ^= mant << trailing
		dst = append(dst, math.Float64frombits(prev))
	}
	return dst, nil
}
