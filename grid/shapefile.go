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
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	goshp "github.com/jonas-p/go-shp"
	"github.com/mkrvjl/civicgrid"
	"github.com/mkrvjl/civicgrid/dataset"
)

var shpExts = []string{".dbf", ".shx", ".prj", ".shp"}

// WriteShapefile writes the grid to the shapefile at path, with fields
// grid_id, row and col and a .prj file when the projection is known.
// The files are written to a temporary directory next to path and then
// moved into place, the .shp file last, so a reader that finds the .shp
// file finds a complete grid.
func (g *Grid) WriteShapefile(path string) error {
	const op = "grid: writing shapefile"
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return civicgrid.E(civicgrid.IO, op, path, err)
	}
	tmp, err := ioutil.TempDir(dir, ".grid")
	if err != nil {
		return civicgrid.E(civicgrid.IO, op, path, err)
	}
	defer os.RemoveAll(tmp)

	base := strings.TrimSuffix(filepath.Base(path), ".shp")
	tmpShp := filepath.Join(tmp, base+".shp")
	e, err := shp.NewEncoderFromFields(tmpShp, goshp.POLYGON,
		goshp.NumberField(IDColumn, 10),
		goshp.NumberField("row", 10),
		goshp.NumberField("col", 10))
	if err != nil {
		return civicgrid.E(civicgrid.IO, op, path, err)
	}
	for _, c := range g.Cells {
		if err := e.EncodeFields(c.Polygon, c.ID, c.Row, c.Col); err != nil {
			e.Close()
			return civicgrid.E(civicgrid.IO, op, path, err)
		}
	}
	e.Close()
	if g.PRJ != "" {
		if err := ioutil.WriteFile(filepath.Join(tmp, base+".prj"), []byte(g.PRJ), 0644); err != nil {
			return civicgrid.E(civicgrid.IO, op, path, err)
		}
	}

	dest := strings.TrimSuffix(path, ".shp")
	for _, ext := range shpExts {
		src := filepath.Join(tmp, base+ext)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			os.Remove(dest + ext)
			continue
		}
		if err := os.Rename(src, dest+ext); err != nil {
			return civicgrid.E(civicgrid.IO, op, path, err)
		}
	}
	return nil
}

// ReadShapefile reads a grid written by WriteShapefile.
func ReadShapefile(path string) (*Grid, error) {
	const op = "grid: reading shapefile"
	t, err := dataset.ReadShapefile(path)
	if err != nil {
		return nil, err
	}
	if err := t.Require(IDColumn, "row", "col"); err != nil {
		return nil, err
	}
	cells := make([]*Cell, 0, t.Len())
	for i, r := range t.Records {
		var c Cell
		switch pg := r.Geom.(type) {
		case geom.Polygon:
			c.Polygon = pg
		case geom.MultiPolygon:
			if len(pg) != 1 {
				return nil, civicgrid.E(civicgrid.DataIntegrity, op, path,
					fmt.Errorf("record %d has %d polygons", i, len(pg)))
			}
			c.Polygon = pg[0]
		default:
			return nil, civicgrid.E(civicgrid.DataIntegrity, op, path,
				fmt.Errorf("record %d is %T, not a polygon", i, r.Geom))
		}
		for col, v := range map[string]*int{IDColumn: &c.ID, "row": &c.Row, "col": &c.Col} {
			n, err := strconv.Atoi(r.Get(col))
			if err != nil {
				return nil, civicgrid.E(civicgrid.DataIntegrity, op, path,
					fmt.Errorf("record %d: %s: %v", i, col, err))
			}
			*v = n
		}
		cells = append(cells, &c)
	}
	var size float64
	if len(cells) > 0 {
		b := cells[0].Bounds()
		size = b.Max.X - b.Min.X
	}
	return New(cells, size, t.SR, t.PRJ), nil
}
