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

// Package civicgrid aligns civic open datasets (administrative boundaries,
// crime records, fire incidents, property assessments and tax rolls) onto a
// common regular grid and produces per-cell aggregate tables.
//
// The work is split into sub-packages: dataset holds data source
// descriptors and in-memory tables, remote keeps local copies of remote
// files current, grid builds and caches the spatial grid, pipeline drives
// dataset processors through their stages, and processor holds the
// dataset-specific processors themselves.
package civicgrid

// Version gives the version number.
const Version = "0.3.0"
