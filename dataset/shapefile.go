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
	"io/ioutil"
	"os"
	"strings"

	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
	"github.com/mkrvjl/civicgrid"
)

// ReadShapefile reads every record and attribute field of the
// shapefile at filename. The spatial reference is read from the
// accompanying .prj file; if there is none, the table SR is nil.
func ReadShapefile(filename string) (*Table, error) {
	const op = "dataset: reading shapefile"
	d, err := shp.NewDecoder(filename)
	if err != nil {
		return nil, civicgrid.E(civicgrid.DataIntegrity, op, filename, err)
	}
	defer d.Close()

	fields := d.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}
	t := NewTable(names...)

	prjPath := strings.TrimSuffix(filename, ".shp") + ".prj"
	if b, err := ioutil.ReadFile(prjPath); err == nil {
		t.PRJ = strings.TrimSpace(string(b))
		if t.SR, err = proj.Parse(t.PRJ); err != nil {
			return nil, civicgrid.E(civicgrid.DataIntegrity, op, prjPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, civicgrid.E(civicgrid.IO, op, prjPath, err)
	}

	for {
		g, vals, more := d.DecodeRowFields(names...)
		if !more {
			break
		}
		rec := NewRecord(g)
		for k, v := range vals {
			rec.Values[k] = strings.Trim(v, " \x00")
		}
		t.Records = append(t.Records, rec)
	}
	if err := d.Error(); err != nil {
		return nil, civicgrid.E(civicgrid.DataIntegrity, op, filename, fmt.Errorf("decoding: %v", err))
	}
	return t, nil
}
