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

package symtab

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestIntern(t *testing.T) {
	var s Symtab
	a := s.Intern("AAPL")
	b := s.Intern("MSFT")
	if a != 0 || b != 1 {
		t.Fatalf("ids (%d, %d); want (0, 1)", a, b)
	}
	if again := s.Intern("AAPL"); again != a {
		t.Fatalf("re-intern returned %d; want %d", again, a)
	}
	if id, ok := s.Lookup("MSFT"); !ok || id != b {
		t.Fatalf("lookup (%d, %v)", id, ok)
	}
	if _, ok := s.Lookup("TSLA"); ok {
		t.Fatal("lookup of unseen symbol succeeded")
	}
	if name, ok := s.Name(1); !ok || name != "MSFT" {
		t.Fatalf("name(1) = (%q, %v)", name, ok)
	}
	if _, ok := s.Name(99); ok {
		t.Fatal("name of unknown id succeeded")
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.json")
	var s Symtab
	for _, name := range []string{"AAPL", "MSFT", "TSLA"} {
		s.Intern(name)
	}
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	var got Symtab
	if err := got.Load(path); err != nil {
		t.Fatal(err)
	}
	if got.Len() != 3 {
		t.Fatalf("%d symbols; want 3", got.Len())
	}
	if id, _ := got.Lookup("TSLA"); id != 2 {
		t.Fatalf("TSLA id %d; want 2", id)
	}
	// ids keep growing after reload
	if id := got.Intern("NVDA"); id != 3 {
		t.Fatalf("NVDA id %d; want 3", id)
	}
}

func TestLoadMissing(t *testing.T) {
	var s Symtab
	if err := s.Load(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 {
		t.Fatalf("%d symbols from a missing file", s.Len())
	}
}

func TestRejectSparseIDs(t *testing.T) {
	var s Symtab
	bad := []string{
		`{"next":2,"entries":[{"id":0,"name":"A"},{"id":2,"name":"B"}]}`,
		`{"next":1,"entries":[{"id":0,"name":"A"},{"id":1,"name":"A"}]}`,
		`{"next":5,"entries":[{"id":0,"name":"A"}]}`,
	}
	for _, doc := range bad {
		if err := json.Unmarshal([]byte(doc), &s); err == nil {
			t.Fatalf("accepted %s", doc)
		}
	}
}
