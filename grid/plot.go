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
	"image/color"
	"io"

	"github.com/ctessum/geom"
	"github.com/mkrvjl/civicgrid"
	"github.com/mkrvjl/civicgrid/dataset"
	"github.com/mkrvjl/civicgrid/internal/fsutil"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	refColor    = color.Gray{Y: 160}
	secondColor = color.RGBA{R: 220, A: 255}
	gridColor   = color.RGBA{B: 220, A: 255}
)

// Plot writes a PNG image of the grid to path. The reference layer is
// drawn in gray, the features of the second layer that intersect the
// reference layer in red, and the grid cell outlines in blue. ref and
// second may be nil.
func (g *Grid) Plot(path string, ref, second *dataset.Table) error {
	const op = "grid: plotting"
	p, err := plot.New()
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	p.Title.Text = fmt.Sprintf("%d grid cells", len(g.Cells))
	p.HideAxes()

	var refGeoms []geom.Geom
	if ref != nil {
		refGeoms = ref.Geometries()
		if err := addOutlines(p, refGeoms, refColor); err != nil {
			return fmt.Errorf("%s: %v", op, err)
		}
	}
	if second != nil && second.SR != nil && g.SR != nil {
		layer := second.Clone()
		if err := layer.Transform(g.SR, g.PRJ); err != nil {
			return err
		}
		var hits []geom.Geom
		for _, f := range layer.Geometries() {
			for _, r := range refGeoms {
				if pg, ok := r.(geom.Polygonal); ok && Intersects(pg, f) {
					hits = append(hits, f)
					break
				}
			}
		}
		if err := addOutlines(p, hits, secondColor); err != nil {
			return fmt.Errorf("%s: %v", op, err)
		}
	}
	cells := make([]geom.Geom, len(g.Cells))
	for i, c := range g.Cells {
		cells[i] = c.Polygon
	}
	if err := addOutlines(p, cells, gridColor); err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	if err := fsutil.WriteFile(path, func(w io.Writer) error {
		_, err := wt.WriteTo(w)
		return err
	}); err != nil {
		return civicgrid.E(civicgrid.IO, op, path, err)
	}
	return nil
}

// addOutlines draws the rings of polygonal geometries and the paths of
// linestrings. Points are skipped.
func addOutlines(p *plot.Plot, geoms []geom.Geom, c color.Color) error {
	for _, g := range geoms {
		var paths []geom.Path
		switch t := g.(type) {
		case geom.Polygonal:
			for _, pg := range t.Polygons() {
				paths = append(paths, pg...)
			}
		case geom.LineString:
			paths = append(paths, geom.Path(t))
		}
		for _, path := range paths {
			xy := make(plotter.XYs, len(path))
			for i, pt := range path {
				xy[i].X, xy[i].Y = pt.X, pt.Y
			}
			l, err := plotter.NewLine(xy)
			if err != nil {
				return err
			}
			l.Color = c
			l.Width = vg.Points(0.5)
			p.Add(l)
		}
	}
	return nil
}
