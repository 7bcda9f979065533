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

// Package ndts defines the core data model shared by the
// ndts storage engine: fixed-width column types, immutable
// column schemas, typed row batches, and the error taxonomy
// used across the module.
//
// The storage layers live in sub-packages:
//
//	ndfile   append-only chunked column files
//	pool     memory-mapped column views
//	table    partitioned logical tables
//	merge    time-ordered multi-file replay
//	index    secondary indexes
//	db       the query facade
package ndts
