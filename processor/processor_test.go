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

package processor

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/kr/pretty"
	"github.com/mkrvjl/civicgrid"
	"github.com/mkrvjl/civicgrid/dataset"
	"github.com/mkrvjl/civicgrid/grid"
	"github.com/mkrvjl/civicgrid/pipeline"
	"github.com/mkrvjl/civicgrid/remote"
)

const boundaryJSON = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"NAME":"city"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2],[0,0]]]}}]}`

const crimeCSV = `CATEGORIE,DATE,QUART,PDQ,X,Y,LONGITUDE,LATITUDE
Vol,2021-01-05,jour,1,,,0.5,0.5
Vol,2021-01-05,jour,1,,,0.6,0.4
Mefait,2021-01-05,nuit,1,,,0.5,0.5
Vol,2022-03-10,soir,2,,,1.5,0.5
Vol,2022-03-10,soir,2,,,5,5
Vol,2022-03-10,soir,2,,,,
,,,,,,,
Fraude,2023-01-01,jour,3,,,1,0.5
`

func pointFeature(x, y float64, props string) string {
	return fmt.Sprintf(`{"type":"Feature","properties":{%s},"geometry":{"type":"Point","coordinates":[%g,%g]}}`,
		props, x, y)
}

var fireJSON = `{"type":"FeatureCollection","features":[` +
	pointFeature(0.5, 0.5, `"INCIDENT_N":"1","DESCRIPTIO":"INCENDIE","CREATION_D":"2021-02-01T10:00:00","INCIDENT_T":"x","NOM_VILLE":"Montreal"`) + "," +
	pointFeature(1.5, 1.5, `"INCIDENT_N":"1","DESCRIPTIO":"INCENDIE","CREATION_D":"2021-02-01T10:00:00","INCIDENT_T":"x","NOM_VILLE":"Montreal"`) + "," +
	pointFeature(0.5, 0.5, `"INCIDENT_N":"2","DESCRIPTIO":"SANS FEU","CREATION_D":"2021-02-03T23:00:00","INCIDENT_T":"x","NOM_VILLE":"Montreal"`) + "," +
	pointFeature(0.5, 0.5, `"INCIDENT_N":"3","DESCRIPTIO":"INCONNU","CREATION_D":"2021-02-03T23:00:00","INCIDENT_T":"x","NOM_VILLE":"Montreal"`) + "," +
	pointFeature(1.5, 1.5, `"INCIDENT_N":"4","DESCRIPTIO":"AUTREFEU","CREATION_D":"2021-05-03T03:00:00","INCIDENT_T":"x","NOM_VILLE":"Montreal"`) +
	`]}`

var assessmentJSON = `{"type":"FeatureCollection","features":[` +
	pointFeature(0.5, 0.5, `"ID_UEV":"100","ANNEE_CONS":"1925","LIBELLE_UT":"Logement","CATEGORIE_":"Régulier","ETAGE_HORS":"2","NOMBRE_LOG":"1","SUPERFICIE":"300","SUPERFIC_1":"150"`) + "," +
	pointFeature(0.4, 0.6, `"ID_UEV":"101","ANNEE_CONS":"2010","LIBELLE_UT":"Logement","CATEGORIE_":"Condominium","ETAGE_HORS":"4","NOMBRE_LOG":"10","SUPERFICIE":"500","SUPERFIC_1":"2000"`) + "," +
	pointFeature(1.5, 0.5, `"ID_UEV":"102","ANNEE_CONS":"","LIBELLE_UT":"Stationnement","CATEGORIE_":"Régulier","ETAGE_HORS":"","NOMBRE_LOG":"","SUPERFICIE":"800","SUPERFIC_1":""`) + "," +
	pointFeature(3, 3, `"ID_UEV":"103","ANNEE_CONS":"1950","LIBELLE_UT":"Logement","CATEGORIE_":"Régulier","ETAGE_HORS":"1","NOMBRE_LOG":"1","SUPERFICIE":"100","SUPERFIC_1":"100"`) +
	`]}`

const taxRollCSV = `ID_CUM,VAL_IMPOSABLE,CODE_DESCR_LONGUE,ANNEE_EXERCICE,NO_COMPTE
100,200000,E00,2023,a
100,999,E01,2023,b
101,300000,E00,2023,c
102,50000,E00,2022,d
102,100000,E00,2023,e
103,70000,E00,2023,f
999,1,E00,2023,g
`

type fixtures struct {
	dir                                       string
	boundary, crime, fire, assessment, rolls *dataset.Descriptor
}

func writeFile(t *testing.T, path, content string) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func localDescriptor(t *testing.T, name string, f dataset.Format, path string) *dataset.Descriptor {
	d, err := dataset.NewDescriptor(dataset.DescriptorConfig{
		Name:   name,
		Remote: map[dataset.Format]string{f: path},
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// newFixtures writes the source files. The crime records are served by
// an HTTP server and mirrored into dir/raw.
func newFixtures(t *testing.T, serverURL string) (*fixtures, func()) {
	dir, err := ioutil.TempDir("", "civicgrid_processor")
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "limites.geojson"), boundaryJSON)
	writeFile(t, filepath.Join(src, "interventions.geojson"), fireJSON)
	writeFile(t, filepath.Join(src, "uniteevaluationfonciere.geojson"), assessmentJSON)
	writeFile(t, filepath.Join(src, "roles-2023.csv"), taxRollCSV)

	f := &fixtures{dir: dir}
	f.boundary = localDescriptor(t, "limites", dataset.GeoJSON, filepath.Join(src, "limites.geojson"))
	f.fire = localDescriptor(t, "fire-incidents", dataset.GeoJSON, filepath.Join(src, "interventions.geojson"))
	f.assessment = localDescriptor(t, PropertyAssessmentName, dataset.GeoJSON,
		filepath.Join(src, "uniteevaluationfonciere.geojson"))
	f.rolls = localDescriptor(t, "roles-2023", dataset.CSV, filepath.Join(src, "roles-2023.csv"))
	f.crime, err = dataset.NewDescriptor(dataset.DescriptorConfig{
		Name:      "crime",
		Directory: filepath.Join(dir, "raw"),
		Remote:    map[dataset.Format]string{dataset.CSV: serverURL + "/actes-criminels.csv"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return f, func() { os.RemoveAll(dir) }
}

func (f *fixtures) settings(root string) *pipeline.Settings {
	return &pipeline.Settings{
		Root:         root,
		GridDistance: 1,
		GridUnits:    grid.Raw,
		Grids:        &grid.Cache{Template: filepath.Join(root, "grid", "grid_{distance}_{units}.shp")},
	}
}

func crimeServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/actes-criminels.csv" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(crimeCSV))
	}))
}

// runPipeline runs every processor with state directories under root.
// The grid processor is added last so that the pipeline has to order
// the processors that read the grid after it.
func (f *fixtures) runPipeline(t *testing.T, root string) *pipeline.Settings {
	s := f.settings(root)
	sync := remote.New()
	assessment := NewPropertyAssessment(f.assessment, s, sync)
	assessment.GridProcessor = GridName
	rolls, err := NewTaxRoll([]*dataset.Descriptor{f.rolls}, assessment, "", s, sync)
	if err != nil {
		t.Fatal(err)
	}
	crime := NewCrime(f.crime, s, sync)
	crime.GridProcessor = GridName
	fire := NewFireIncidents(f.fire, s, sync)
	fire.GridProcessor = GridName
	pl := pipeline.New(nil,
		rolls,
		crime,
		fire,
		assessment,
		NewGrid(f.boundary, nil, s, sync),
	)
	if err := pl.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func readTable(t *testing.T, path string) *dataset.Table {
	d := dataset.NewTabular()
	if err := d.LoadFromPath(path); err != nil {
		t.Fatal(err)
	}
	return d.Data
}

// column returns the values of the given columns, one row per record.
func column(t *dataset.Table, cols ...string) [][]string {
	var o [][]string
	for _, r := range t.Records {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = r.Get(c)
		}
		o = append(o, row)
	}
	return o
}

func checkRows(t *testing.T, name string, got, want [][]string) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("%s: %v", name, pretty.Diff(got, want))
	}
}

func TestPipelineOutputs(t *testing.T) {
	ts := crimeServer()
	defer ts.Close()
	f, cleanup := newFixtures(t, ts.URL)
	defer cleanup()
	root := filepath.Join(f.dir, "out")
	f.runPipeline(t, root)

	agg := filepath.Join(root, pipeline.Aggregation.String())
	trans := filepath.Join(root, pipeline.Transformation.String())

	t.Run("grid", func(t *testing.T) {
		g := readTable(t, filepath.Join(trans, "grid_1.geojson"))
		checkRows(t, "cells", column(g, grid.IDColumn, "row", "col"), [][]string{
			{"0", "0", "0"}, {"1", "0", "1"}, {"2", "1", "0"}, {"3", "1", "1"},
		})
		if _, err := os.Stat(filepath.Join(root, "grid", "grid_1_raw.shp")); err != nil {
			t.Error(err)
		}
	})

	t.Run("crime", func(t *testing.T) {
		tr := readTable(t, filepath.Join(trans, "crime_1.csv"))
		checkRows(t, "transformed", column(tr, "index", grid.IDColumn, "CATEGORIE", "YEAR", "QUARTER"), [][]string{
			{"0", "0", "Vol", "2021", "1"},
			{"1", "0", "Vol", "2021", "1"},
			{"2", "0", "Mefait", "2021", "1"},
			{"3", "1", "Vol", "2022", "1"},
			{"7", "0", "Fraude", "2023", "1"},
		})
		for _, c := range crimeIrrelevant {
			if tr.HasColumn(c) {
				t.Errorf("column %s was not dropped", c)
			}
		}
		a := readTable(t, filepath.Join(agg, "crime_1.csv"))
		wantCols := []string{grid.IDColumn, "DATE", "Fraude", "Mefait", "Vol"}
		if !reflect.DeepEqual(a.Columns, wantCols) {
			t.Errorf("columns: got %v, want %v", a.Columns, wantCols)
		}
		checkRows(t, "aggregated", column(a, wantCols...), [][]string{
			{"0", "2021-01-05", "0", "0", "2"},
			{"0", "2021-01-05", "0", "1", "0"},
			{"0", "2023-01-01", "1", "0", "0"},
			{"1", "2022-03-10", "0", "0", "1"},
		})
	})

	t.Run("fire", func(t *testing.T) {
		tr := readTable(t, filepath.Join(trans, "fire-incidents_1.csv"))
		checkRows(t, "transformed", column(tr, "INCIDENT_N", grid.IDColumn, "GROUP", "TYPE", "SHIFT"), [][]string{
			{"1", "0", "fire", "A", "jour"},
			{"2", "0", "no_fire", "C", "soir"},
			{"4", "3", "other_fires", "B", "nuit"},
		})
		if tr.HasColumn("NOM_VILLE") || tr.HasColumn("DESCRIPTIO") {
			t.Errorf("irrelevant columns kept: %v", tr.Columns)
		}
		fires := readTable(t, filepath.Join(agg, "fire-incidents_1.csv"))
		checkRows(t, "fires", column(fires, grid.IDColumn, "YEAR", "QUARTER", "INCIDENT_COUNT"), [][]string{
			{"0", "2021", "1", "1"},
			{"3", "2021", "2", "1"},
		})
		others := readTable(t, filepath.Join(agg, "otherfire-incidents_1.csv"))
		checkRows(t, "others", column(others, grid.IDColumn, "YEAR", "QUARTER", "OTHER_FIRES_COUNT"), [][]string{
			{"0", "2021", "1", "1"},
		})
	})

	t.Run("property assessment", func(t *testing.T) {
		tr := readTable(t, filepath.Join(trans, "property-assessment_1.csv"))
		checkRows(t, "transformed", column(tr, "ID_UEV", grid.IDColumn, "ANNEE_CONS_CATEGORY",
			"IS_CONDOMINIUMS", "IS_LOGEMENT", "IS_OUTSIDE", "IS_MIXED"), [][]string{
			{"100", "0", "ANNEE_CONSTR_1920-1940", "False", "True", "False", "False"},
			{"101", "0", "ANNEE_CONSTR_2000-2020", "True", "False", "False", "False"},
			{"102", "1", "", "False", "False", "True", "False"},
			{"103", "", "ANNEE_CONSTR_1940-1960", "False", "True", "False", "False"},
		})
		a := readTable(t, filepath.Join(agg, "property-assessment_1.csv"))
		checkRows(t, "aggregated", column(a, grid.IDColumn, "ANNEE_CONSTR_1920-1940", "ANNEE_CONSTR_2000-2020",
			"N_FLOOR_AVG", "N_LOGEMENT_SUM", "N_BUILDINGS", "LAND_AREA_AVG", "BUILD_TOT_AREA_AVG",
			"BUILDING_CONDOMINIUM_COUNT", "BUILDING_LOGEMENTS_COUNT", "BUILDING_MIXED_COUNT",
			"BUILDING_OUTSIDE_COUNT"), [][]string{
			{"0", "1", "1", "3", "11", "2", "800", "2150", "1", "1", "0", "0"},
			{"1", "0", "0", "", "0", "1", "800", "0", "0", "0", "0", "1"},
		})
	})

	t.Run("tax rolls", func(t *testing.T) {
		perFile := readTable(t, filepath.Join(trans, "roles-2023_1.csv"))
		checkRows(t, "per file", column(perFile, "ID_CUM", "VAL_IMPOSABLE", grid.IDColumn), [][]string{
			{"100", "200000", "0"},
			{"101", "300000", "0"},
			{"102", "100000", "1"},
			{"103", "70000", ""},
		})
		for _, c := range append(taxRollDropped, assessmentDropped...) {
			if perFile.HasColumn(c) {
				t.Errorf("column %s was not dropped", c)
			}
		}
		if _, err := os.Stat(filepath.Join(trans, "tax-rolls_1.csv")); err != nil {
			t.Error(err)
		}
		a := readTable(t, filepath.Join(agg, "tax-rolls_1.csv"))
		checkRows(t, "aggregated", column(a, grid.IDColumn, "EVAL_SUM", "EVAL_MEAN", "NB_TAX_PARCELS"), [][]string{
			{"0", "500000", "250000", "2"},
			{"1", "100000", "100000", "1"},
		})
	})
}

func TestPipelineDeterministic(t *testing.T) {
	ts := crimeServer()
	defer ts.Close()
	f, cleanup := newFixtures(t, ts.URL)
	defer cleanup()

	roots := []string{filepath.Join(f.dir, "run1"), filepath.Join(f.dir, "run2")}
	for _, r := range roots {
		f.runPipeline(t, r)
	}
	for _, state := range []pipeline.State{pipeline.Transformation, pipeline.Aggregation} {
		dir := state.String()
		files, err := ioutil.ReadDir(filepath.Join(roots[0], dir))
		if err != nil {
			t.Fatal(err)
		}
		if len(files) == 0 {
			t.Fatalf("no files in %s", dir)
		}
		for _, fi := range files {
			a, err := ioutil.ReadFile(filepath.Join(roots[0], dir, fi.Name()))
			if err != nil {
				t.Fatal(err)
			}
			b, err := ioutil.ReadFile(filepath.Join(roots[1], dir, fi.Name()))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(a, b) {
				t.Errorf("%s/%s differs between runs", dir, fi.Name())
			}
		}
	}
}

func TestMissingGrid(t *testing.T) {
	ts := crimeServer()
	defer ts.Close()
	f, cleanup := newFixtures(t, ts.URL)
	defer cleanup()
	s := f.settings(filepath.Join(f.dir, "out"))
	p := NewCrime(f.crime, s, remote.New())
	err := pipeline.NewMachine().Run(context.Background(), p)
	if !civicgrid.IsKind(err, civicgrid.DataIntegrity) {
		t.Errorf("got %v, want a data integrity error", err)
	}
}

func TestTaxRollMissingAssessment(t *testing.T) {
	ts := crimeServer()
	defer ts.Close()
	f, cleanup := newFixtures(t, ts.URL)
	defer cleanup()
	s := f.settings(filepath.Join(f.dir, "out"))
	p, err := NewTaxRoll([]*dataset.Descriptor{f.rolls}, NewPropertyAssessment(f.assessment, s, nil), "", s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetWorkingDir(pipeline.Loading); err != nil {
		t.Fatal(err)
	}
	err = p.Load(context.Background())
	if !civicgrid.IsKind(err, civicgrid.DataIntegrity) {
		t.Errorf("got %v, want a data integrity error", err)
	}
}

func TestTaxRollFilter(t *testing.T) {
	s := &pipeline.Settings{}
	a := NewPropertyAssessment(localDescriptor(t, PropertyAssessmentName, dataset.GeoJSON, "a.geojson"), s, nil)
	if _, err := NewTaxRoll(nil, a, "CODE_DESCR_LONGUE ==", s, nil); !civicgrid.IsKind(err, civicgrid.Configuration) {
		t.Errorf("got %v, want a configuration error", err)
	}
	p, err := NewTaxRoll(nil, a, "contains(lower(CODE), 'e0') && ANNEE >= 2020", s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p.DependsOn(), []string{PropertyAssessmentName}) {
		t.Errorf("depends on %v", p.DependsOn())
	}
	for _, test := range []struct {
		code, year string
		want       bool
	}{
		{"E00", "2023", true},
		{"E00", "2019", false},
		{"F10", "2023", false},
		{"E00", "", false},
	} {
		r := dataset.NewRecord(nil)
		r.Set("CODE", test.code)
		if test.year != "" {
			r.Set("ANNEE", test.year)
		}
		got, err := p.keep(r)
		if test.year == "" {
			if err == nil {
				t.Errorf("%+v: expected an error comparing a missing year", test)
			}
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if got != test.want {
			t.Errorf("%+v: got %v", test, got)
		}
	}
}

func TestTaxRollAggregate(t *testing.T) {
	dir, err := ioutil.TempDir("", "civicgrid_taxroll")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	s := &pipeline.Settings{Root: dir, GridDistance: 1, GridUnits: grid.Raw}
	a := NewPropertyAssessment(localDescriptor(t, PropertyAssessmentName, dataset.GeoJSON, "a.geojson"), s, nil)
	p, err := NewTaxRoll(nil, a, "", s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetWorkingDir(pipeline.Aggregation); err != nil {
		t.Fatal(err)
	}
	curated := func(rows ...[2]string) *dataset.Dataset {
		tbl := dataset.NewTable(grid.IDColumn, "VAL_IMPOSABLE")
		for _, row := range rows {
			r := dataset.NewRecord(nil)
			r.Set(grid.IDColumn, row[0])
			r.Set("VAL_IMPOSABLE", row[1])
			tbl.Append(r)
		}
		d := dataset.NewTabular()
		d.Data = tbl
		return d
	}

	p.curated = curated([2]string{"0", "100"}, [2]string{"1", ""}, [2]string{"0", "300"})
	if err := p.Aggregate(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := column(readTable(t, p.OutputPath(pipeline.Aggregation)),
		grid.IDColumn, "EVAL_SUM", "EVAL_MEAN", "NB_TAX_PARCELS")
	checkRows(t, "aggregated", got, [][]string{
		{"0", "400", "200", "2"},
		{"1", "0", "", "0"},
	})

	p.curated = curated([2]string{"0", "100"}, [2]string{"0", "n/a"})
	if err := p.Aggregate(context.Background()); !civicgrid.IsKind(err, civicgrid.DataIntegrity) {
		t.Errorf("got %v, want a data integrity error", err)
	}
}

func TestShift(t *testing.T) {
	for _, test := range []struct {
		clock, want string
	}{
		{"00:00:00", "soir"},
		{"00:00:59", "soir"},
		{"00:01:00", "nuit"},
		{"08:00:59", "nuit"},
		{"08:01:00", "jour"},
		{"16:00:59", "jour"},
		{"16:01:00", "soir"},
		{"23:59:59", "soir"},
	} {
		tm, err := time.Parse("15:04:05", test.clock)
		if err != nil {
			t.Fatal(err)
		}
		if got := Shift(tm); got != test.want {
			t.Errorf("%s: got %s, want %s", test.clock, got, test.want)
		}
	}
}

func TestConstructionLabel(t *testing.T) {
	for _, test := range []struct {
		year float64
		want string
	}{
		{1850, "ANNEE_CONSTR_1900"},
		{1900, "ANNEE_CONSTR_1900-1920"},
		{1919, "ANNEE_CONSTR_1900-1920"},
		{2020, "ANNEE_CONSTR_2020-2023"},
		{2023, "ANNEE_CONSTR_2023"},
		{2999, "ANNEE_CONSTR_2023"},
	} {
		if got := ConstructionLabel(test.year); got != test.want {
			t.Errorf("%g: got %s, want %s", test.year, got, test.want)
		}
	}
}

func TestClassifyUse(t *testing.T) {
	for _, test := range []struct {
		label, category string
		want            UseFlags
	}{
		{"Logement", "Condominium", UseFlags{Condominium: true}},
		{"Logement", "Régulier", UseFlags{Logement: true}},
		{"Stationnement intérieur", "Régulier", UseFlags{Outside: true}},
		{"Parc pour la récréation", "Régulier", UseFlags{Outside: true}},
		{"Terrain non aménagé", "Régulier", UseFlags{Outside: true}},
		{"Immeuble commercial", "Régulier", UseFlags{Mixed: true}},
	} {
		if got := ClassifyUse(test.label, test.category); got != test.want {
			t.Errorf("%s/%s: %v", test.label, test.category, pretty.Diff(got, test.want))
		}
	}
}
