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

package ndfile

import (
	"encoding/json"
	"os"

	"github.com/google/renameio"
	"golang.org/x/exp/slices"
)

// tombstonePath returns the sidecar path for a data file.
func tombstonePath(path string) string { return path + ".tombstones" }

// Tombstones is the set of global row indices logically
// deleted from one file. The sidecar form is a sorted JSON
// array of u32 indices. Compact consumes and clears the set.
type Tombstones struct {
	set map[uint32]struct{}
}

// Add marks index i; marking twice is idempotent.
func (t *Tombstones) Add(i uint32) {
	if t.set == nil {
		t.set = make(map[uint32]struct{})
	}
	t.set[i] = struct{}{}
}

// Has reports whether index i is marked.
func (t *Tombstones) Has(i uint32) bool {
	_, ok := t.set[i]
	return ok
}

// Count returns the number of marked indices.
func (t *Tombstones) Count() int { return len(t.set) }

// Clear unmarks everything.
func (t *Tombstones) Clear() { t.set = nil }

// Sorted returns the marked indices in ascending order.
func (t *Tombstones) Sorted() []uint32 {
	out := make([]uint32, 0, len(t.set))
	for i := range t.set {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

// Save atomically writes the sidecar. An empty set removes
// the sidecar instead.
func (t *Tombstones) Save(path string) error {
	if len(t.set) == 0 {
		err := os.Remove(path)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	data, err := json.Marshal(t.Sorted())
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0644)
}

// Load replaces the set with the sidecar contents.
// A missing sidecar loads as empty.
func (t *Tombstones) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		t.set = nil
		return nil
	}
	if err != nil {
		return err
	}
	var xs []uint32
	if err := json.Unmarshal(data, &xs); err != nil {
		return err
	}
	t.set = make(map[uint32]struct{}, len(xs))
	for _, i := range xs {
		t.set[i] = struct{}{}
	}
	return nil
}
