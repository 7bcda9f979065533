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

//go:build !linux

package pool

import (
	"os"
)

// Portable fallback: read the file into memory instead of
// mapping it. The view semantics are unchanged; only the
// sharing with the page cache is lost.

func mmapFile(fp string) ([]byte, error) {
	return os.ReadFile(fp)
}

func unmapFile(mem []byte) error { return nil }
