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

// Package grid builds square fishnet grids over reference boundary
// layers and assigns features to grid cells.
package grid

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"
	"github.com/mkrvjl/civicgrid"
	"github.com/mkrvjl/civicgrid/dataset"
	"github.com/sirupsen/logrus"
)

// IDColumn is the column Join writes cell ids into.
const IDColumn = "grid_id"

// Cell is a square grid cell. Row counts from the south edge of the
// grid and Col from the west edge.
type Cell struct {
	geom.Polygon
	ID, Row, Col int
}

// Grid is a set of cells sharing a spatial reference.
type Grid struct {
	Cells []*Cell

	// Size is the cell edge length in the units of SR.
	Size float64

	SR  *proj.SR
	PRJ string

	index *rtree.Rtree
}

// Options holds the parameters of Build.
type Options struct {
	// Distance is the cell edge length in Units.
	Distance float64
	Units    Unit

	// FilterFirstLayer keeps only cells that intersect the reference
	// layer.
	FilterFirstLayer bool

	// SecondLayer, if set, keeps only cells that intersect it.
	SecondLayer *dataset.Table

	// ImagePath, if set, is where a PNG rendering of the grid and its
	// layers is written.
	ImagePath string

	Log logrus.FieldLogger
}

// indexed lets cells be returned from the spatial index in grid order.
type indexed struct {
	*Cell
	i int
}

// New returns a grid holding cells, with ids assigned by position.
func New(cells []*Cell, size float64, sr *proj.SR, prj string) *Grid {
	g := &Grid{Cells: cells, Size: size, SR: sr, PRJ: prj}
	g.reindex()
	return g
}

func (g *Grid) reindex() {
	g.index = rtree.NewTree(25, 50)
	for i, c := range g.Cells {
		g.index.Insert(indexed{Cell: c, i: i})
	}
}

// Fishnet covers b with square cells of edge size, starting at the
// minimum corner. Cells are created row by row from the south, and
// within a row from the west, with dense ids from 0. A column or row
// is only created if it starts strictly below the maximum extent, so
// an extent exactly n cells wide gives n columns.
func Fishnet(b *geom.Bounds, size float64) []*Cell {
	nx := count(b.Max.X-b.Min.X, size)
	ny := count(b.Max.Y-b.Min.Y, size)
	cells := make([]*Cell, 0, nx*ny)
	for iy := 0; iy < ny; iy++ {
		y := b.Min.Y + float64(iy)*size
		for ix := 0; ix < nx; ix++ {
			x := b.Min.X + float64(ix)*size
			cells = append(cells, &Cell{
				ID: len(cells), Row: iy, Col: ix,
				Polygon: geom.Polygon{{
					{X: x, Y: y}, {X: x + size, Y: y},
					{X: x + size, Y: y + size}, {X: x, Y: y + size}, {X: x, Y: y}}},
			})
		}
	}
	return cells
}

// count returns the number of cells of edge size that start strictly
// within extent. Float error smaller than a millionth of a cell is
// ignored.
func count(extent, size float64) int {
	n := extent / size
	r := math.Round(n)
	if math.Abs(n-r) < 1e-6 {
		n = r
	} else {
		n = math.Ceil(n)
	}
	if n < 1 {
		return 1
	}
	return int(n)
}

// Build creates a grid covering the extent of the reference layer ref.
// Cells are filtered by o.SecondLayer and o.FilterFirstLayer when set,
// ordered by descending id after filtering, and never repeated.
func Build(ref *dataset.Table, o *Options) (*Grid, error) {
	const op = "grid: building"
	if ref == nil || !ref.HasGeometry() {
		return nil, civicgrid.E(civicgrid.DataIntegrity, op, "",
			fmt.Errorf("reference layer has no geometry"))
	}
	if o == nil {
		o = new(Options)
	}
	log := o.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := ref.Bounds()
	w, h := b.Max.X-b.Min.X, b.Max.Y-b.Min.Y
	if !(w > 0 && h > 0) || math.IsInf(w, 0) || math.IsInf(h, 0) {
		return nil, civicgrid.E(civicgrid.DataIntegrity, op, "",
			fmt.Errorf("reference extent %+v has no area", *b))
	}
	size, err := CellSize(b, o.Distance, o.Units)
	if err != nil {
		return nil, err
	}
	if size <= 0 || math.IsNaN(size) {
		return nil, civicgrid.E(civicgrid.Configuration, op, "",
			fmt.Errorf("cell size %g is not positive", size))
	}
	cells := Fishnet(b, size)
	log.WithFields(logrus.Fields{
		"distance": o.Distance, "units": o.Units, "size": size, "cells": len(cells),
	}).Debug("created fishnet")

	if o.SecondLayer != nil {
		cells, err = filterSecondLayer(cells, ref, o.SecondLayer)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(cells, func(i, j int) bool { return cells[i].ID > cells[j].ID })
		log.WithField("cells", len(cells)).Debug("filtered by second layer")
	}
	if o.FilterFirstLayer {
		cells = filterLayer(cells, ref.Geometries())
		log.WithField("cells", len(cells)).Debug("filtered by reference layer")
	}
	g := New(dedupe(cells), size, ref.SR, ref.PRJ)

	if o.ImagePath != "" {
		if err := g.Plot(o.ImagePath, ref, o.SecondLayer); err != nil {
			return nil, err
		}
		log.WithField("path", o.ImagePath).Info("wrote grid image")
	}
	return g, nil
}

func dedupe(cells []*Cell) []*Cell {
	seen := make(map[int]bool, len(cells))
	o := cells[:0]
	for _, c := range cells {
		if !seen[c.ID] {
			seen[c.ID] = true
			o = append(o, c)
		}
	}
	return o
}

// filterLayer returns the cells intersecting any of layer, which must
// be in the same spatial reference as the cells.
func filterLayer(cells []*Cell, layer []geom.Geom) []*Cell {
	idx := rtree.NewTree(25, 50)
	for _, g := range layer {
		idx.Insert(g)
	}
	var o []*Cell
	for _, c := range cells {
		for _, f := range idx.SearchIntersect(c.Bounds()) {
			if Intersects(c.Polygon, f.(geom.Geom)) {
				o = append(o, c)
				break
			}
		}
	}
	return o
}

// filterSecondLayer compares the cells with the second layer in
// geographic NAD83 coordinates, which census layers are published in.
// Both the cells and a copy of the second layer are reprojected; the
// returned cells keep the reference coordinates.
func filterSecondLayer(cells []*Cell, ref, second *dataset.Table) ([]*Cell, error) {
	const op = "grid: filtering by second layer"
	if ref.SR == nil || second.SR == nil {
		return nil, civicgrid.E(civicgrid.DataIntegrity, op, "",
			fmt.Errorf("both layers need a spatial reference"))
	}
	nad83, prj, err := dataset.EPSG(4269)
	if err != nil {
		return nil, err
	}
	layer := second.Clone()
	if err := layer.Transform(nad83, prj); err != nil {
		return nil, err
	}
	ct, err := ref.SR.NewTransform(nad83)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	projected := make([]*Cell, len(cells))
	byID := make(map[int]*Cell, len(cells))
	for i, c := range cells {
		pg, err := c.Polygon.Transform(ct)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", op, err)
		}
		projected[i] = &Cell{Polygon: pg.(geom.Polygon), ID: c.ID}
		byID[c.ID] = c
	}
	kept := filterLayer(projected, layer.Geometries())
	o := make([]*Cell, len(kept))
	for i, c := range kept {
		o[i] = byID[c.ID]
	}
	return o, nil
}

// Locate returns the cells that g intersects, in grid order.
func (g *Grid) Locate(gg geom.Geom) []*Cell {
	if gg == nil {
		return nil
	}
	var hits []indexed
	for _, item := range g.index.SearchIntersect(gg.Bounds()) {
		c := item.(indexed)
		if Intersects(c.Polygon, gg) {
			hits = append(hits, c)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].i < hits[j].i })
	o := make([]*Cell, len(hits))
	for i, h := range hits {
		o[i] = h.Cell
	}
	return o
}

// Join sets column IDColumn of every record in t to the id of the first
// cell, in grid order, that the record's geometry intersects. Records
// without geometry or outside the grid get an empty id. It returns the
// number of records that were matched. t must have a spatial reference;
// its geometries are left in their own coordinates.
func (g *Grid) Join(t *dataset.Table) (int, error) {
	const op = "grid: joining"
	if t.SR == nil {
		return 0, civicgrid.E(civicgrid.DataIntegrity, op, "",
			fmt.Errorf("table has no spatial reference"))
	}
	var ct proj.Transformer
	if g.SR != nil && g.SR != t.SR {
		var err error
		ct, err = t.SR.NewTransform(g.SR)
		if err != nil {
			return 0, fmt.Errorf("%s: %v", op, err)
		}
	}
	t.AddColumn(IDColumn)
	n := 0
	for _, r := range t.Records {
		r.Set(IDColumn, "")
		if r.Geom == nil {
			continue
		}
		gg := r.Geom
		if ct != nil {
			var err error
			if gg, err = gg.Transform(ct); err != nil {
				return 0, fmt.Errorf("%s: %v", op, err)
			}
		}
		if cells := g.Locate(gg); len(cells) > 0 {
			r.Set(IDColumn, strconv.Itoa(cells[0].ID))
			n++
		}
	}
	return n, nil
}

// Table returns the grid as a table with one polygon record per cell.
func (g *Grid) Table() *dataset.Table {
	t := dataset.NewTable(IDColumn, "row", "col")
	t.SR, t.PRJ = g.SR, g.PRJ
	for _, c := range g.Cells {
		r := dataset.NewRecord(c.Polygon)
		r.Set(IDColumn, strconv.Itoa(c.ID))
		r.Set("row", strconv.Itoa(c.Row))
		r.Set("col", strconv.Itoa(c.Col))
		t.Records = append(t.Records, r)
	}
	return t
}

// Bounds returns the extent of the grid.
func (g *Grid) Bounds() *geom.Bounds {
	b := geom.NewBounds()
	for _, c := range g.Cells {
		b.Extend(c.Bounds())
	}
	return b
}
