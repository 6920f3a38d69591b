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

// Package dataset describes where civic data sources live and holds
// their contents in memory as tables of records.
package dataset

import (
	"fmt"
	"strings"

	"github.com/mkrvjl/civicgrid"
)

// Format is a file format a data source can be published in.
type Format string

// The supported formats.
const (
	Shapefile Format = "shp"
	GeoJSON   Format = "geojson"
	CSV       Format = "csv"
)

// Formats lists the supported formats in order of preference.
var Formats = []Format{Shapefile, GeoJSON, CSV}

// ParseFormat returns the format named by s.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case Shapefile:
		return Shapefile, nil
	case GeoJSON, "json":
		return GeoJSON, nil
	case CSV:
		return CSV, nil
	}
	return "", civicgrid.E(civicgrid.Configuration, "dataset: parsing format", s,
		fmt.Errorf("unknown format; valid formats are %v", Formats))
}
