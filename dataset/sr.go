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

package dataset

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/ctessum/geom/proj"
	"github.com/mkrvjl/civicgrid"
)

// Definitions of the spatial references the data sources use.
const (
	// WGS84 is EPSG:4326, the default for GeoJSON.
	WGS84 = "+proj=longlat +datum=WGS84 +no_defs"
	// NAD83 is EPSG:4269, used for census boundary layers.
	NAD83 = "+proj=longlat +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +no_defs"
	// WebMercator is EPSG:3857.
	WebMercator = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +wktext +no_defs"
	// MTM8 is EPSG:32188 (NAD83 / MTM zone 8), used by Montréal.
	MTM8 = "+proj=tmerc +lat_0=0 +lon_0=-73.5 +k=0.9999 +x_0=304800 +y_0=0 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs"
)

var epsgDefs = map[int]string{
	4326:  WGS84,
	4269:  NAD83,
	3857:  WebMercator,
	32188: MTM8,
}

// EPSG returns the spatial reference and its definition for one of
// the supported EPSG codes.
func EPSG(code int) (*proj.SR, string, error) {
	def, ok := epsgDefs[code]
	if !ok {
		return nil, "", civicgrid.E(civicgrid.DataIntegrity, "dataset: spatial reference",
			fmt.Sprintf("EPSG:%d", code), fmt.Errorf("unsupported spatial reference"))
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, "", fmt.Errorf("dataset: parsing EPSG:%d: %v", code, err)
	}
	return sr, def, nil
}

var epsgCode = regexp.MustCompile(`EPSG:+(\d+)$`)

// parseCRSName returns the EPSG code of a GeoJSON named CRS such as
// "urn:ogc:def:crs:EPSG::4269" or "EPSG:4269". The OGC CRS84 name is
// the same as EPSG:4326.
func parseCRSName(name string) (int, error) {
	if name == "urn:ogc:def:crs:OGC:1.3:CRS84" || name == "urn:ogc:def:crs:OGC::CRS84" {
		return 4326, nil
	}
	m := epsgCode.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("unsupported crs name %q", name)
	}
	return strconv.Atoi(m[1])
}
