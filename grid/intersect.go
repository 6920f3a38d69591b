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
	"github.com/ctessum/geom"
)

// Intersects reports whether geometry g shares at least one point with
// polygonal area a. Points on an edge of a count as shared. Supported
// geometries are points, multipoints, linestrings, multilinestrings,
// polygons and multipolygons; anything else never intersects.
func Intersects(a geom.Polygonal, g geom.Geom) bool {
	if g == nil || !a.Bounds().Overlaps(g.Bounds()) {
		return false
	}
	switch t := g.(type) {
	case geom.Point:
		return t.Within(a) != geom.Outside
	case geom.MultiPoint:
		for _, p := range t {
			if p.Within(a) != geom.Outside {
				return true
			}
		}
		return false
	case geom.LineString:
		return lineIntersects(a, t)
	case geom.MultiLineString:
		for _, l := range t {
			if lineIntersects(a, l) {
				return true
			}
		}
		return false
	case geom.Polygonal:
		for _, pb := range t.Polygons() {
			for _, pa := range a.Polygons() {
				if polygonsIntersect(pa, pb) {
					return true
				}
			}
		}
		return false
	}
	return false
}

func lineIntersects(a geom.Polygonal, l geom.LineString) bool {
	for _, p := range l {
		if p.Within(a) != geom.Outside {
			return true
		}
	}
	for _, pa := range a.Polygons() {
		for _, ring := range pa {
			if pathsCross(ring, geom.Path(l), false) {
				return true
			}
		}
	}
	return false
}

// polygonsIntersect handles every arrangement of two polygons: one
// holding a vertex of the other, or their rings crossing without any
// vertex inside. A polygon lying wholly inside a hole of the other has
// its vertices outside and no crossing edges.
func polygonsIntersect(a, b geom.Polygon) bool {
	if !a.Bounds().Overlaps(b.Bounds()) {
		return false
	}
	for _, ring := range a {
		for _, p := range ring {
			if p.Within(b) != geom.Outside {
				return true
			}
		}
	}
	for _, ring := range b {
		for _, p := range ring {
			if p.Within(a) != geom.Outside {
				return true
			}
		}
	}
	for _, ra := range a {
		for _, rb := range b {
			if pathsCross(ra, rb, true) {
				return true
			}
		}
	}
	return false
}

// pathsCross reports whether any segment of p crosses or touches any
// segment of q. If closed is true the paths are treated as rings.
func pathsCross(p, q geom.Path, closed bool) bool {
	qs := segments(q, closed)
	for _, s := range segments(p, closed) {
		for _, r := range qs {
			if segmentsIntersect(s[0], s[1], r[0], r[1]) {
				return true
			}
		}
	}
	return false
}

func segments(p geom.Path, closed bool) [][2]geom.Point {
	var o [][2]geom.Point
	for i := 1; i < len(p); i++ {
		o = append(o, [2]geom.Point{p[i-1], p[i]})
	}
	if closed && len(p) > 2 && !p[0].Equals(p[len(p)-1]) {
		o = append(o, [2]geom.Point{p[len(p)-1], p[0]})
	}
	return o
}

func orientation(a, b, c geom.Point) int {
	v := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func onSegment(a, b, p geom.Point) bool {
	return p.X >= min(a.X, b.X) && p.X <= max(a.X, b.X) &&
		p.Y >= min(a.Y, b.Y) && p.Y <= max(a.Y, b.Y)
}

func segmentsIntersect(p1, p2, q1, q2 geom.Point) bool {
	o1 := orientation(p1, p2, q1)
	o2 := orientation(p1, p2, q2)
	o3 := orientation(q1, q2, p1)
	o4 := orientation(q1, q2, p2)
	if o1 != o2 && o3 != o4 {
		return true
	}
	return (o1 == 0 && onSegment(p1, p2, q1)) ||
		(o2 == 0 && onSegment(p1, p2, q2)) ||
		(o3 == 0 && onSegment(q1, q2, p1)) ||
		(o4 == 0 && onSegment(q1, q2, p2))
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
