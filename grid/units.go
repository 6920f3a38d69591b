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

package grid

import (
	"fmt"
	"math"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/unit"
	"github.com/mkrvjl/civicgrid"
)

// Unit is the unit a grid cell size is given in.
type Unit string

// Supported units. Raw means the distance is in the units of the
// reference layer's coordinate system and is used without conversion.
const (
	Raw           Unit = ""
	Meters        Unit = "m"
	Kilometers    Unit = "km"
	Miles         Unit = "mi"
	NauticalMiles Unit = "nmi"
	Feet          Unit = "ft"
	Inches        Unit = "in"
	Radians       Unit = "rad"
	Degrees       Unit = "deg"
)

// EarthRadius is the mean radius of the earth [m].
const EarthRadius = 6371008.8

var metersPer = map[Unit]float64{
	Meters:        1,
	Kilometers:    1000,
	Miles:         1609.344,
	NauticalMiles: 1852,
	Feet:          0.3048,
	Inches:        0.0254,
}

// ParseUnit returns the unit with symbol s. The empty string and "raw"
// give Raw.
func ParseUnit(s string) (Unit, error) {
	u := Unit(strings.ToLower(strings.TrimSpace(s)))
	if u == "raw" || u == Raw {
		return Raw, nil
	}
	if _, ok := metersPer[u]; ok || u == Radians || u == Degrees {
		return u, nil
	}
	return "", civicgrid.E(civicgrid.Configuration, "grid: parsing unit", s,
		fmt.Errorf("valid units are m, km, mi, nmi, ft, in, rad, deg or raw"))
}

// Angle converts distance d along the surface of the earth into the
// angle it subtends at the centre of the earth.
func Angle(d float64, u Unit) (*unit.Unit, error) {
	switch u {
	case Radians:
		return unit.New(d, unit.Dimless), nil
	case Degrees:
		return unit.New(d*math.Pi/180, unit.Dimless), nil
	}
	f, ok := metersPer[u]
	if !ok {
		return nil, fmt.Errorf("grid: no angle for unit %q", u)
	}
	a := unit.Div(unit.New(d*f, unit.Meter), unit.New(EarthRadius, unit.Meter))
	if err := a.Check(unit.Dimless); err != nil {
		return nil, err
	}
	return a, nil
}

// Destination returns the point reached by travelling along a great
// circle from p (longitude and latitude in degrees) through angle delta
// [radians] on the given bearing [radians clockwise from north].
func Destination(p geom.Point, delta, bearing float64) geom.Point {
	lat1 := p.Y * math.Pi / 180
	lon1 := p.X * math.Pi / 180
	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(bearing))
	lon2 := lon1 + math.Atan2(math.Sin(bearing)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2))
	return geom.Point{X: lon2 * 180 / math.Pi, Y: lat2 * 180 / math.Pi}
}

// CellSize returns the edge length of grid cells, in coordinate units,
// for cells d units wide over extent b. For Raw, d is returned as is.
// Otherwise the destination reached from the minimum corner of b on a
// bearing of 0 is computed, and the resulting change in latitude is
// used. This assumes the degree-to-distance scale is uniform across the
// extent, which holds at city scale.
func CellSize(b *geom.Bounds, d float64, u Unit) (float64, error) {
	if d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, civicgrid.E(civicgrid.Configuration, "grid: cell size", "",
			fmt.Errorf("distance must be positive, got %g", d))
	}
	if u == Raw {
		return d, nil
	}
	a, err := Angle(d, u)
	if err != nil {
		return 0, civicgrid.E(civicgrid.Configuration, "grid: cell size", string(u), err)
	}
	end := Destination(b.Min, a.Value(), 0)
	return end.Y - b.Min.Y, nil
}
