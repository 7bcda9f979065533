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

// Streaming is the interface shared by every online
// aggregate in this package.
type Streaming interface {
	// Add observes x and returns the current value of the
	// aggregate. ok is false until enough observations
	// have accumulated.
	Add(x float64) (value float64, ok bool)
	// Reset returns the aggregate to its initial state.
	Reset()
}

// Aggregator composes named sub-aggregates fed from the
// same observation stream.
type Aggregator struct {
	names []string
	subs  []Streaming
}

// NewAggregator returns an empty composite aggregator.
func NewAggregator() *Aggregator { return &Aggregator{} }

// With registers sub under name and returns the aggregator
// for chaining. Registration order is preserved.
func (a *Aggregator) With(name string, sub Streaming) *Aggregator {
	a.names = append(a.names, name)
	a.subs = append(a.subs, sub)
	return a
}

// Add feeds x to every sub-aggregate and returns a record
// of the current values. Sub-aggregates that are not warm
// yet are absent from the record.
func (a *Aggregator) Add(x float64) map[string]float64 {
	out := make(map[string]float64, len(a.subs))
	for i := range a.subs {
		if v, ok := a.subs[i].Add(x); ok {
			out[a.names[i]] = v
		}
	}
	return out
}

// Reset resets every sub-aggregate.
func (a *Aggregator) Reset() {
	for i := range a.subs {
		a.subs[i].Reset()
	}
}
