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

// Command civicgrid aggregates municipal open data onto a regular grid.
package main

import (
	"os"

	"github.com/mkrvjl/civicgrid/civicutil"
)

func main() {
	if err := civicutil.Root.Execute(); err != nil {
		os.Exit(1)
	}
}
