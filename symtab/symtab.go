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

// Package symtab maintains the bidirectional mapping
// between symbol strings and the dense 32-bit ids stored
// in column files. Ids are assigned in insertion order and
// never reused.
package symtab

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio"
)

// Symtab is a symbol dictionary. The zero value is empty
// and ready to use. Symtab is not safe for concurrent
// mutation; see ndfile.File regarding the single-writer
// model.
type Symtab struct {
	byName map[string]uint32
	byID   []string
}

// Intern returns the id for name, assigning the next dense
// id when name has not been seen before.
func (s *Symtab) Intern(name string) uint32 {
	if id, ok := s.byName[name]; ok {
		return id
	}
	if s.byName == nil {
		s.byName = make(map[string]uint32)
	}
	id := uint32(len(s.byID))
	s.byName[name] = id
	s.byID = append(s.byID, name)
	return id
}

// Lookup returns the id for name without interning.
func (s *Symtab) Lookup(name string) (uint32, bool) {
	id, ok := s.byName[name]
	return id, ok
}

// Name returns the symbol string for id.
func (s *Symtab) Name(id uint32) (string, bool) {
	if int(id) >= len(s.byID) {
		return "", false
	}
	return s.byID[id], true
}

// Len returns the number of interned symbols.
func (s *Symtab) Len() int { return len(s.byID) }

// entry is the serialized form of one symbol.
type entry struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

type document struct {
	Next    uint32  `json:"next"`
	Entries []entry `json:"entries"`
}

// MarshalJSON emits the sidecar document
// { "next": u32, "entries": [{"id","name"}...] }
// with entries sorted by id.
func (s *Symtab) MarshalJSON() ([]byte, error) {
	doc := document{
		Next:    uint32(len(s.byID)),
		Entries: make([]entry, len(s.byID)),
	}
	for i, name := range s.byID {
		doc.Entries[i] = entry{ID: uint32(i), Name: name}
	}
	return json.Marshal(&doc)
}

// UnmarshalJSON loads a sidecar document, validating that
// ids are dense and in insertion order.
func (s *Symtab) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	byName := make(map[string]uint32, len(doc.Entries))
	byID := make([]string, 0, len(doc.Entries))
	for i := range doc.Entries {
		e := &doc.Entries[i]
		if e.ID != uint32(i) {
			return fmt.Errorf("symtab: entry %d has id %d; ids must be dense", i, e.ID)
		}
		if _, ok := byName[e.Name]; ok {
			return fmt.Errorf("symtab: duplicate symbol %q", e.Name)
		}
		byName[e.Name] = e.ID
		byID = append(byID, e.Name)
	}
	if doc.Next != uint32(len(byID)) {
		return fmt.Errorf("symtab: next=%d disagrees with %d entries", doc.Next, len(byID))
	}
	s.byName = byName
	s.byID = byID
	return nil
}

// Save atomically writes the dictionary to path.
func (s *Symtab) Save(path string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0644)
}

// Load replaces the dictionary contents from path.
// A missing file loads as an empty dictionary.
func (s *Symtab) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.byName = nil
		s.byID = nil
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, s)
}
