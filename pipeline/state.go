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

// Package pipeline drives dataset processors through the validation,
// loading, transformation and aggregation stages.
package pipeline

import "fmt"

// State is a stage of processing.
type State int

// The processing states, in order. Completed is terminal.
const (
	Validation State = iota
	Loading
	Transformation
	Aggregation
	Completed
)

// States lists every state in processing order.
var States = []State{Validation, Loading, Transformation, Aggregation, Completed}

// String returns the name of the working subdirectory of the state.
func (s State) String() string {
	switch s {
	case Validation:
		return "validated"
	case Loading:
		return "loaded"
	case Transformation:
		return "transformed"
	case Aggregation:
		return "aggregated"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
