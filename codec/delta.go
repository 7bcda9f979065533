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
)

// DeltaCompress appends the delta-encoded form of src to dst.
// The first value is stored verbatim (little-endian); each
// subsequent value is stored as a zigzag varint difference
// from its predecessor. Intended for monotonic sequences
// such as timestamps, where the differences are small.
func DeltaCompress(dst []byte, src []int64) []byte {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(src)))
	dst = append(dst, hdr[:]...)
	if len(src) == 0 {
		return dst
	}
	var tmp [binary.MaxVarintLen64]byte
	binary.LittleEndian.PutUint64(tmp[:8], uint64(src[0]))
	dst = append(dst, tmp[:8]...)
	prev := src[0]
	for _, v := range src[1:] {
		n := binary.PutUvarint(tmp[:], zigzag(v-prev))
		dst = append(dst, tmp[:n]...)
		prev = v
	}
	return dst
}

// DeltaDecompress appends the values encoded in src to dst.
func DeltaDecompress(dst []int64, src []byte) ([]int64, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("delta: short input (%d bytes)", len(src))
	}
	count := int(binary.LittleEndian.Uint32(src))
	src = src[4:]
	if count == 0 {
		return dst, nil
	}
	if len(src) < 8 {
		return nil, fmt.Errorf("delta: truncated first value")
	}
	prev := int64(binary.LittleEndian.Uint64(src))
	src = src[8:]
	dst = append(dst, prev)
	for i := 1; i < count; i++ {
		u, n := binary.Uvarint(src)
		if n <= 0 {
			return nil, fmt.Errorf("delta: truncated varint at value %d", i)
		}
		src = src[n:]
		prev += unzigzag(u)
		dst = append(dst, prev)
	}
	return dst, nil
}

// RLECompress appends the run-length-encoded form of src to
// dst as (varint runLength, zigzag varint value) pairs.
// Intended for low-cardinality integer columns.
func RLECompress(dst []byte, src []int64) []byte {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(src)))
	dst = append(dst, hdr[:]...)
	var tmp [binary.MaxVarintLen64]byte
	for i := 0; i < len(src); {
		j := i + 1
		for j < len(src) && src[j] == src[i] {
			j++
		}
		n := binary.PutUvarint(tmp[:], uint64(j-i))
		dst = append(dst, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], zigzag(src[i]))
		dst = append(dst, tmp[:n]...)
		i = j
	}
	return dst
}

// RLEDecompress appends the values encoded in src to dst.
func RLEDecompress(dst []int64, src []byte) ([]int64, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("rle: short input (%d bytes)", len(src))
	}
	count := int(binary.LittleEndian.Uint32(src))
	src = src[4:]
	total := 0
	for total < count {
		run, n := binary.Uvarint(src)
		if n <= 0 {
			return nil, fmt.Errorf("rle: truncated run length at value %d", total)
		}
		src = src[n:]
		u, n := binary.Uvarint(src)
		if n <= 0 {
			return nil, fmt.Errorf("rle: truncated value at value %d", total)
		}
		src = src[n:]
		v := unzigzag(u)
		if run == 0 || int(run) > count-total {
			return nil, fmt.Errorf("rle: bad run length %d (%d/%d values)", run, total, count)
		}
		for k := uint64(0); k < run; k++ {
			dst = append(dst, v)
		}
		total += int(run)
	}
	return dst, nil
}

func zigzag(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}
