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
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mkrvjl/civicgrid"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	if err := ioutil.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDescriptor(t *testing.T) {
	dir, err := ioutil.TempDir("", "civicgrid_descriptor")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	tomlPath := writeTemp(t, dir, "crime.toml", `
name = "actes-criminels"
url = "https://donnees.montreal.ca/dataset/actes-criminels"
directory = "data/raw/crime"
working_db_format = "csv"

[remote]
csv = "https://donnees.montreal.ca/dataset/actes-criminels/resource/c6f482bf/download/actes-criminels.csv"
geojson = "https://donnees.montreal.ca/dataset/actes-criminels/resource/c6f482bf/download/actes-criminels.geojson"
`)
	jsonPath := writeTemp(t, dir, "crime.json", `{
	"name": "actes-criminels",
	"url": "https://donnees.montreal.ca/dataset/actes-criminels",
	"directory": "data/raw/crime",
	"working_db_format": "csv",
	"remote": {
		"csv": "https://donnees.montreal.ca/dataset/actes-criminels/resource/c6f482bf/download/actes-criminels.csv",
		"geojson": "https://donnees.montreal.ca/dataset/actes-criminels/resource/c6f482bf/download/actes-criminels.geojson",
		"shp": null
	}
}`)
	for _, path := range []string{tomlPath, jsonPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			d, err := LoadDescriptor(path)
			if err != nil {
				t.Fatal(err)
			}
			if d.Name() != "actes-criminels" {
				t.Errorf("name = %q", d.Name())
			}
			if d.WorkingFormat() != CSV {
				t.Errorf("working format = %q", d.WorkingFormat())
			}
			want := map[Format]string{
				CSV:     filepath.Join("data/raw/crime", "actes-criminels.csv"),
				GeoJSON: filepath.Join("data/raw/crime", "actes-criminels.geojson"),
			}
			if have := d.LocalPaths(); !reflect.DeepEqual(have, want) {
				t.Errorf("local paths: have %v, want %v", have, want)
			}
			if d.WorkingPath() != want[CSV] {
				t.Errorf("working path = %q", d.WorkingPath())
			}
			if _, ok := d.LocalPath(Shapefile); ok {
				t.Errorf("shapefile should not be available")
			}
		})
	}
}

func TestLoadDescriptorErrors(t *testing.T) {
	dir, err := ioutil.TempDir("", "civicgrid_descriptor")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	tests := []struct {
		name, file, content string
	}{
		{
			name: "duplicate json key",
			file: "dup.json",
			content: `{"name": "x", "remote": {"csv": "http://a/x.csv", "csv": "http://b/x.csv"}}`,
		},
		{
			name: "duplicate toml key",
			file: "dup.toml",
			content: "name = \"x\"\n[remote]\ncsv = \"http://a/x.csv\"\ncsv = \"http://b/x.csv\"\n",
		},
		{
			name:    "no format",
			file:    "none.json",
			content: `{"name": "x", "remote": {"csv": null}}`,
		},
		{
			name:    "unknown format",
			file:    "unknown.toml",
			content: "name = \"x\"\n[remote]\nkml = \"http://a/x.kml\"\n",
		},
		{
			name:    "working format not available",
			file:    "working.json",
			content: `{"name": "x", "working_db_format": "shp", "remote": {"csv": "http://a/x.csv"}}`,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := writeTemp(t, dir, test.file, test.content)
			_, err := LoadDescriptor(path)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !civicgrid.IsKind(err, civicgrid.Configuration) {
				t.Errorf("expected a configuration error, got %v", err)
			}
		})
	}

	_, err = LoadDescriptor(filepath.Join(dir, "missing.toml"))
	if !civicgrid.IsKind(err, civicgrid.Configuration) {
		t.Errorf("missing file: expected a configuration error, got %v", err)
	}
}

func TestDescriptorDefaults(t *testing.T) {
	d, err := NewDescriptor(DescriptorConfig{
		Name: "limites",
		Remote: map[Format]string{
			GeoJSON:   "local/limites.geojson",
			Shapefile: "",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.WorkingFormat() != GeoJSON {
		t.Errorf("working format = %q", d.WorkingFormat())
	}
	// Without a directory the remote location is used directly.
	if d.WorkingPath() != "local/limites.geojson" {
		t.Errorf("working path = %q", d.WorkingPath())
	}
	r := d.Remote()
	r[CSV] = "http://example.com/changed.csv"
	if _, ok := d.LocalPath(CSV); ok {
		t.Errorf("descriptor was modified through Remote()")
	}
}
