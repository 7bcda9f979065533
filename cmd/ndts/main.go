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

// ndts is the maintenance tool for ndts column files:
//
//	ndts verify <file>...     check header and chunk CRCs
//	ndts describe <file>...   print schema and counters
//	ndts compact <file>...    drop tombstoned rows
//	ndts recover <file>...    truncate to the last valid chunk
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ndtslab/ndts/ndfile"
)

var (
	dashv   bool
	dashbak bool
)

func init() {
	flag.BoolVar(&dashv, "v", false, "verbose")
	flag.BoolVar(&dashbak, "bak", false, "keep a .bak of compacted files")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f, args...)
	os.Exit(1)
}

func logf(f string, args ...interface{}) {
	if dashv {
		fmt.Fprintf(os.Stderr, f+"\n", args...)
	}
}

func openFile(path string) *ndfile.File {
	f, err := ndfile.Open(path, nil, &ndfile.Options{Logf: logf})
	if err != nil {
		exitf("%s\n", err)
	}
	return f
}

// entry point for 'ndts verify ...'
func verify(paths []string) {
	bad := false
	for _, path := range paths {
		f := openFile(path)
		rpt := f.Verify()
		if rpt.OK() {
			logf("%s: ok (%d rows, %d chunks)", path, rpt.Rows, rpt.Chunks)
		} else {
			bad = true
			for _, err := range rpt.Errs {
				fmt.Fprintf(os.Stderr, "%s\n", err)
			}
		}
		f.Close()
	}
	if bad {
		os.Exit(2)
	}
}

// entry point for 'ndts describe ...'
func describe(paths []string) {
	for _, path := range paths {
		f := openFile(path)
		st := f.Stats()
		fmt.Printf("%s:\n", path)
		fmt.Printf("  schema:     %s\n", f.Schema())
		fmt.Printf("  rows:       %d\n", st.Rows)
		fmt.Printf("  chunks:     %d\n", st.Chunks)
		fmt.Printf("  bytes:      %d\n", st.Bytes)
		fmt.Printf("  tombstoned: %d\n", st.Tombstoned)
		if plan := f.Compression(); len(plan) > 0 {
			fmt.Printf("  compression: %v\n", plan)
		}
		f.Close()
	}
}

// entry point for 'ndts compact ...'
func compact(paths []string) {
	for _, path := range paths {
		f := openFile(path)
		st, err := f.Compact(context.Background(), &ndfile.CompactOptions{KeepBackup: dashbak})
		if err != nil {
			exitf("compacting %s: %s\n", path, err)
		}
		fmt.Printf("%s: beforeRows=%d afterRows=%d deletedRows=%d chunksWritten=%d\n",
			path, st.BeforeRows, st.AfterRows, st.DeletedRows, st.ChunksWritten)
		f.Close()
	}
}

// entry point for 'ndts recover ...'
func recoverFiles(paths []string) {
	for _, path := range paths {
		f := openFile(path)
		st, err := f.RecoverCounters()
		if err != nil {
			exitf("recovering %s: %s\n", path, err)
		}
		fmt.Printf("%s: rows=%d chunks=%d truncated=%d bytes\n",
			path, st.Rows, st.Chunks, st.TruncatedBytes)
		f.Close()
	}
}

func usage() {
	exitf(`usage: ndts [-v] [-bak] <command> <file>...
commands:
  verify    check header and chunk CRCs; exit 2 on mismatch
  describe  print schema, counters, and compression plan
  compact   rewrite files without tombstoned rows
  recover   truncate to the last valid chunk and fix counters
`)
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 2 {
		usage()
	}
	cmd, paths := args[0], args[1:]
	switch cmd {
	case "verify":
		verify(paths)
	case "describe":
		describe(paths)
	case "compact":
		compact(paths)
	case "recover":
		recoverFiles(paths)
	default:
		usage()
	}
}
