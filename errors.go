/*
Copyright © 2023 the civicgrid authors.
This file is part of civicgrid.

civicgrid is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

civicgrid is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with civicgrid.  If not, see <http://www.gnu.org/licenses/>.
*/

package civicgrid

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind int

// Kinds of errors. Any of them stops the processor that raises it, and
// the processors depending on it, but other processors in the same
// pipeline keep running. Configuration errors found while setting up a
// pipeline, and a state missing from the state table, stop the run.
const (
	Other Kind = iota
	Configuration
	DataIntegrity
	IO
	StateMachine
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration error"
	case DataIntegrity:
		return "data integrity error"
	case IO:
		return "i/o error"
	case StateMachine:
		return "state machine error"
	default:
		return "error"
	}
}

// Error is an error with a Kind, the operation that failed, and the
// file path, URL or key the operation was working on.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// E creates a new error. err may be nil, in which case
// the Kind is used as the message.
func E(kind Kind, op, path string, err error) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Errorf is like E but formats the cause.
func Errorf(kind Kind, op, path, format string, args ...interface{}) error {
	return E(kind, op, path, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Path != "" {
		parts = append(parts, e.Path)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	} else {
		parts = append(parts, e.Kind.String())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether any error in err's chain is an *Error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain,
// or Other if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}
