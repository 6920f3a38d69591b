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
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/mkrvjl/civicgrid"
	"github.com/mkrvjl/civicgrid/internal/fsutil"
	"github.com/mkrvjl/civicgrid/internal/hash"
)

// Kind is the variant of a Dataset.
type Kind int

// Dataset variants. Geospatial datasets are saved with their geometry
// (GeoJSON); tabular datasets are saved as plain attribute tables.
const (
	Geospatial Kind = iota
	Tabular
)

func (k Kind) String() string {
	if k == Geospatial {
		return "geospatial"
	}
	return "tabular"
}

// Dataset holds the contents of a data file together with the hash of
// the bytes it was loaded from. The hash is not updated when Data is
// modified. A Dataset belongs to the processor that created it.
type Dataset struct {
	Kind   Kind
	Data   *Table
	Hash   string
	Source string
}

// NewGeospatial returns an empty geospatial dataset.
func NewGeospatial() *Dataset { return &Dataset{Kind: Geospatial} }

// NewTabular returns an empty tabular dataset.
func NewTabular() *Dataset { return &Dataset{Kind: Tabular} }

// Loaded reports whether the dataset holds data.
func (d *Dataset) Loaded() bool { return d.Data != nil }

// LoadFromPath reads the file at path, choosing the decoder by file
// extension (.shp, .geojson, .json or .csv). A missing file is a data
// integrity error.
func (d *Dataset) LoadFromPath(path string) error {
	const op = "dataset: load"
	b, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return civicgrid.E(civicgrid.DataIntegrity, op, path, fmt.Errorf("file not found"))
		}
		return civicgrid.E(civicgrid.IO, op, path, err)
	}
	var t *Table
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		t, err = ReadShapefile(path)
	case ".geojson", ".json":
		t, err = ReadGeoJSON(bytes.NewReader(b))
	case ".csv":
		t, err = ReadCSV(bytes.NewReader(b))
	default:
		return civicgrid.E(civicgrid.Configuration, op, path, fmt.Errorf("unsupported file type"))
	}
	if err != nil {
		if civicgrid.KindOf(err) != civicgrid.Other {
			return fmt.Errorf("%s: %w", path, err)
		}
		return civicgrid.E(civicgrid.DataIntegrity, op, path, err)
	}
	d.Data = t
	d.Hash = hash.Bytes(b)
	d.Source = path
	return nil
}

// Save writes the dataset to path, choosing the encoder by file
// extension. Geospatial datasets can be saved as GeoJSON (.geojson or
// .json); both kinds can be saved as CSV (.csv) or Excel (.xlsx), in
// which case geometry is dropped. The file is replaced atomically.
func (d *Dataset) Save(path string) error {
	const op = "dataset: save"
	if d.Data == nil {
		return civicgrid.E(civicgrid.DataIntegrity, op, path, fmt.Errorf("no data has been loaded"))
	}
	var write func(w io.Writer) error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".geojson", ".json":
		if d.Kind != Geospatial {
			return civicgrid.E(civicgrid.Configuration, op, path,
				fmt.Errorf("tabular datasets cannot be saved as GeoJSON"))
		}
		write = func(w io.Writer) error { return WriteGeoJSON(w, d.Data) }
	case ".csv":
		write = func(w io.Writer) error { return WriteCSV(w, d.Data) }
	case ".xlsx":
		sheet := strings.TrimSuffix(filepath.Base(path), ext)
		write = func(w io.Writer) error { return WriteXLSX(w, d.Data, sheet) }
	default:
		return civicgrid.E(civicgrid.Configuration, op, path, fmt.Errorf("unsupported file type"))
	}
	if err := fsutil.WriteFile(path, write); err != nil {
		return civicgrid.E(civicgrid.IO, op, path, err)
	}
	return nil
}
