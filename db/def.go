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

// Package db is the thin query facade over the storage
// engine: symbol resolution, per-symbol interval files,
// inserts, timestamp upserts, range queries, and
// resampling.
package db

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ndtslab/ndts"
	"sigs.k8s.io/yaml"
)

// ColumnDef is one column in a store definition.
type ColumnDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Definition describes a store: its column schema and the
// optional per-column compression plan applied to new
// files.
type Definition struct {
	// Name is the store name, for display only.
	Name string `json:"name"`
	// Columns is the schema of every file in the store.
	Columns []ColumnDef `json:"columns"`
	// TimeColumn orders rows; "ts" when empty.
	TimeColumn string `json:"timeColumn,omitempty"`
	// Compression is the per-column compression plan.
	Compression map[string]string `json:"compression,omitempty"`
}

// just pick an upper limit to prevent DoS
const maxDefSize = 1024 * 1024

// DecodeDefinition decodes a definition document. ext
// selects the format: ".json" or ".yaml"/".yml".
func DecodeDefinition(src io.Reader, ext string) (*Definition, error) {
	data, err := io.ReadAll(io.LimitReader(src, maxDefSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDefSize {
		return nil, fmt.Errorf("definition beyond limit %d", maxDefSize)
	}
	d := new(Definition)
	switch ext {
	case ".json":
		err = json.Unmarshal(data, d)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, d)
	default:
		return nil, fmt.Errorf("unknown definition format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// TimeCol returns the configured time column name.
func (d *Definition) TimeCol() string {
	if d.TimeColumn == "" {
		return "ts"
	}
	return d.TimeColumn
}

// Schema materializes the column schema, validating
// types and the presence of the time column.
func (d *Definition) Schema() (*ndts.Schema, error) {
	cols := make([]ndts.Column, 0, len(d.Columns))
	for i := range d.Columns {
		t, ok := ndts.ParseType(d.Columns[i].Type)
		if !ok {
			return nil, ndts.Errorf(ndts.KindSchema, d.Columns[i].Name,
				"unknown column type %q", d.Columns[i].Type)
		}
		cols = append(cols, ndts.Column{Name: d.Columns[i].Name, Type: t})
	}
	sch, err := ndts.NewSchema(cols...)
	if err != nil {
		return nil, err
	}
	i, ok := sch.Lookup(d.TimeCol())
	if !ok {
		return nil, ndts.Errorf(ndts.KindSchema, d.TimeCol(), "missing time column %q", d.TimeCol())
	}
	if sch.Columns()[i].Type != ndts.Int64 {
		return nil, ndts.Errorf(ndts.KindSchema, d.TimeCol(), "time column must be int64")
	}
	return sch, nil
}
