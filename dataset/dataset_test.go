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
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ctessum/geom"
	"github.com/mkrvjl/civicgrid"
)

func TestTableOperations(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("\ufeffID,CATEGORIE,LONGITUDE,LATITUDE\n" +
		"1,Vol,-73.5,45.5\n" +
		",,,\n" +
		"2,Méfait,,\n" +
		"1,Vol,-73.5,45.5\n" +
		"3,Vol,-73.6,45.6\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tbl.Columns, []string{"ID", "CATEGORIE", "LONGITUDE", "LATITUDE"}) {
		t.Errorf("columns: %v", tbl.Columns)
	}
	tbl = tbl.DropEmpty()
	if tbl.Len() != 4 {
		t.Errorf("after DropEmpty: %d records", tbl.Len())
	}
	tbl = tbl.DropMissing("LONGITUDE", "LATITUDE")
	if tbl.Len() != 3 {
		t.Errorf("after DropMissing: %d records", tbl.Len())
	}
	tbl.PointsFromColumns("LONGITUDE", "LATITUDE")
	if p, ok := tbl.Records[0].Geom.(geom.Point); !ok || p.X != -73.5 || p.Y != 45.5 {
		t.Errorf("point geometry: %#v", tbl.Records[0].Geom)
	}
	u := tbl.UniqueBy("ID")
	var ids []string
	for _, r := range u.Records {
		ids = append(ids, r.Get("ID"))
	}
	if !reflect.DeepEqual(ids, []string{"1", "3"}) {
		t.Errorf("unique ids: %v", ids)
	}
	if tbl.Unique().Len() != 2 {
		t.Errorf("exact duplicates should be removed: %d", tbl.Unique().Len())
	}
	tbl.Drop("LONGITUDE", "LATITUDE", "NOT_A_COLUMN")
	if !reflect.DeepEqual(tbl.Columns, []string{"ID", "CATEGORIE"}) {
		t.Errorf("columns after drop: %v", tbl.Columns)
	}
	if _, ok := tbl.Records[0].Values["LONGITUDE"]; ok {
		t.Errorf("dropped value still present")
	}
	if err := tbl.Require("ID", "DATE"); !civicgrid.IsKind(err, civicgrid.DataIntegrity) {
		t.Errorf("missing column: %v", err)
	}

	other := NewTable("ID", "EXTRA")
	r := NewRecord(nil)
	r.Set("ID", "9")
	r.Set("EXTRA", "x")
	other.Append(r)
	c := tbl.Concat(other)
	if c.Len() != tbl.Len()+1 {
		t.Errorf("concat length %d", c.Len())
	}
	if !reflect.DeepEqual(c.Columns, []string{"ID", "CATEGORIE", "EXTRA"}) {
		t.Errorf("concat columns %v", c.Columns)
	}

	if v, err := c.Records[0].Float("ID"); err != nil || v != 1 {
		t.Errorf("Float: %v, %v", v, err)
	}
	if _, err := c.Records[0].Float("EXTRA"); err == nil {
		t.Errorf("empty value should not parse")
	}
}

func TestDatasetCSV(t *testing.T) {
	dir, err := ioutil.TempDir("", "civicgrid_dataset")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	src := "grid_id,CATEGORIE\n0,Vol\n1,Méfait\n"
	path := writeTemp(t, dir, "in.csv", src)
	d := NewTabular()
	if err := d.LoadFromPath(path); err != nil {
		t.Fatal(err)
	}
	hash := d.Hash
	if hash == "" {
		t.Fatal("no hash")
	}
	d.Data.Records[0].Set("CATEGORIE", "changed")
	if d.Hash != hash {
		t.Errorf("hash changed after mutation")
	}
	d.Data.Records[0].Geom = geom.Point{X: 1, Y: 2}

	out := filepath.Join(dir, "out", "nested", "out.csv")
	if err := d.Save(out); err != nil {
		t.Fatal(err)
	}
	b, err := ioutil.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	want := "grid_id,CATEGORIE\n0,changed\n1,Méfait\n"
	if string(b) != want {
		t.Errorf("have %q, want %q", b, want)
	}

	if err := NewTabular().Save(filepath.Join(dir, "empty.csv")); !civicgrid.IsKind(err, civicgrid.DataIntegrity) {
		t.Errorf("saving without data: %v", err)
	}
	if err := NewTabular().LoadFromPath(filepath.Join(dir, "missing.csv")); !civicgrid.IsKind(err, civicgrid.DataIntegrity) {
		t.Errorf("loading a missing file: %v", err)
	}
}

func TestDatasetGeoJSON(t *testing.T) {
	dir, err := ioutil.TempDir("", "civicgrid_dataset")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	src := `{"type": "FeatureCollection",
 "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::4269"}},
 "features": [
  {"type": "Feature", "properties": {"NOM": "Verdun", "CODEID": 12},
   "geometry": {"type": "MultiPolygon", "coordinates": [[[[0,0],[1,0],[1,1],[0,1],[0,0]]], [[[2,2],[3,2],[3,3],[2,3],[2,2]]]]}},
  {"type": "Feature", "properties": {"NOM": "Lachine", "CODEID": 1.5, "ACTIF": true},
   "geometry": {"type": "Point", "coordinates": [5, 6]}},
  {"type": "Feature", "properties": {"NOM": null}, "geometry": null}
 ]}`
	path := writeTemp(t, dir, "limites.geojson", src)
	d := NewGeospatial()
	if err := d.LoadFromPath(path); err != nil {
		t.Fatal(err)
	}
	tbl := d.Data
	if tbl.Len() != 3 {
		t.Fatalf("%d records", tbl.Len())
	}
	if tbl.PRJ != NAD83 || tbl.SR == nil {
		t.Errorf("spatial reference: %q", tbl.PRJ)
	}
	mp, ok := tbl.Records[0].Geom.(geom.MultiPolygon)
	if !ok || len(mp) != 2 {
		t.Fatalf("multipolygon: %#v", tbl.Records[0].Geom)
	}
	if tbl.Records[0].Get("CODEID") != "12" || tbl.Records[1].Get("CODEID") != "1.5" {
		t.Errorf("numbers should keep their text: %q %q", tbl.Records[0].Get("CODEID"), tbl.Records[1].Get("CODEID"))
	}
	if tbl.Records[1].Get("ACTIF") != "true" {
		t.Errorf("bool: %q", tbl.Records[1].Get("ACTIF"))
	}
	if tbl.Records[2].Geom != nil {
		t.Errorf("null geometry should decode to nil")
	}
	b := tbl.Bounds()
	if b.Min.X != 0 || b.Min.Y != 0 || b.Max.X != 5 || b.Max.Y != 6 {
		t.Errorf("bounds: %+v", b)
	}

	out := filepath.Join(dir, "out.geojson")
	if err := d.Save(out); err != nil {
		t.Fatal(err)
	}
	first, err := ioutil.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	d2 := NewGeospatial()
	if err := d2.LoadFromPath(out); err != nil {
		t.Fatal(err)
	}
	if err := d2.Save(out); err != nil {
		t.Fatal(err)
	}
	second, err := ioutil.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("saving the same data twice gave different files:\n%s\n%s", first, second)
	}

	if err := NewTabular().Save(filepath.Join(dir, "x.geojson")); err == nil {
		t.Errorf("tabular datasets should not save as GeoJSON")
	}
}

func TestDatasetXLSX(t *testing.T) {
	dir, err := ioutil.TempDir("", "civicgrid_dataset")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	tbl := NewTable("grid_id", "EVAL_SUM")
	r := NewRecord(nil)
	r.Set("grid_id", "4")
	r.Set("EVAL_SUM", "1250000.5")
	tbl.Append(r)
	d := &Dataset{Kind: Tabular, Data: tbl}
	path := filepath.Join(dir, "tax-rolls.xlsx")
	if err := d.Save(path); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() == 0 {
		t.Errorf("empty workbook")
	}
}
