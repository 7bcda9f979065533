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

package window

// Bar is one OHLCV bucket.
type Bar struct {
	Start  int64 // bucket start timestamp (k*size)
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Count  int // observations in the bucket
}

// Bucket resamples ticks into bars of the given size.
// ts must be sorted ascending; px and vol are parallel to
// ts (vol may be nil for price-only data). Each bar k
// covers [k*size, (k+1)*size); empty buckets produce no
// bar. Negative timestamps bucket toward -inf.
func Bucket(ts []int64, px, vol []float64, size int64) []Bar {
	if len(ts) == 0 || size <= 0 {
		return nil
	}
	var out []Bar
	cur := bucketOf(ts[0], size)
	bar := Bar{Start: cur * size, Open: px[0], High: px[0], Low: px[0]}
	for i := range ts {
		if b := bucketOf(ts[i], size); b != cur {
			out = append(out, bar)
			cur = b
			bar = Bar{Start: cur * size, Open: px[i], High: px[i], Low: px[i]}
		}
		p := px[i]
		if p > bar.High {
			bar.High = p
		}
		if p < bar.Low {
			bar.Low = p
		}
		bar.Close = p
		if vol != nil {
			bar.Volume += vol[i]
		}
		bar.Count++
	}
	return append(out, bar)
}

// bucketOf floors toward negative infinity.
func bucketOf(ts, size int64) int64 {
	b := ts / size
	if ts%size < 0 {
		b--
	}
	return b
}
