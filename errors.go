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

package ndts

import (
	"errors"
	"fmt"
)

// Kind partitions errors produced by the storage engine.
//
// Schema and Range errors are programmer errors: fail fast,
// never retry. Corruption errors carry the offset of the
// offending region. IO errors may be retried by the caller;
// the engine itself never retries. State errors are fatal.
type Kind uint8

const (
	KindSchema Kind = iota + 1
	KindCorruption
	KindRange
	KindIO
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "schema"
	case KindCorruption:
		return "corruption"
	case KindRange:
		return "range"
	case KindIO:
		return "io"
	case KindState:
		return "state"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the concrete error type produced by the engine.
// Ident names the offending object (a path, column, or
// partition key); Offset is a byte offset into the file
// when the error is positional, or -1 otherwise.
type Error struct {
	Kind   Kind
	Ident  string
	Offset int64
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Ident != "" {
		s += " " + e.Ident
	}
	if e.Offset >= 0 {
		s += fmt.Sprintf(" @%d", e.Offset)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error with no position.
func Errorf(kind Kind, ident, f string, args ...interface{}) *Error {
	return &Error{Kind: kind, Ident: ident, Offset: -1, Msg: fmt.Sprintf(f, args...)}
}

// ErrorAt builds an *Error at a byte offset.
func ErrorAt(kind Kind, ident string, off int64, f string, args ...interface{}) *Error {
	return &Error{Kind: kind, Ident: ident, Offset: off, Msg: fmt.Sprintf(f, args...)}
}

// WrapIO wraps an underlying filesystem error.
func WrapIO(ident string, err error) *Error {
	return &Error{Kind: KindIO, Ident: ident, Offset: -1, Err: err}
}

// IsKind reports whether any error in err's chain
// is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		err = e.Err
		if err == nil {
			return false
		}
	}
	return false
}
