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
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/mkrvjl/civicgrid"
)

type featureCollection struct {
	Type     string     `json:"type"`
	CRS      *namedCRS  `json:"crs,omitempty"`
	Features []*feature `json:"features"`
}

type namedCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

type feature struct {
	Type       string                 `json:"type"`
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type outFeature struct {
	Type       string            `json:"type"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties map[string]string `json:"properties"`
}

type outCollection struct {
	Type     string        `json:"type"`
	CRS      *namedCRS     `json:"crs,omitempty"`
	Features []*outFeature `json:"features"`
}

// ReadGeoJSON reads a GeoJSON FeatureCollection. Property values are
// kept in their textual form. The spatial reference is taken from the
// "crs" member if there is one, and is EPSG:4326 otherwise.
func ReadGeoJSON(r io.Reader) (*Table, error) {
	const op = "dataset: reading geojson"
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var fc featureCollection
	if err := dec.Decode(&fc); err != nil {
		return nil, civicgrid.E(civicgrid.DataIntegrity, op, "", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, civicgrid.E(civicgrid.DataIntegrity, op, "",
			fmt.Errorf("expected a FeatureCollection, got %q", fc.Type))
	}
	code := 4326
	if fc.CRS != nil && fc.CRS.Properties.Name != "" {
		var err error
		if code, err = parseCRSName(fc.CRS.Properties.Name); err != nil {
			return nil, civicgrid.E(civicgrid.DataIntegrity, op, "", err)
		}
	}
	sr, def, err := EPSG(code)
	if err != nil {
		return nil, err
	}
	t := NewTable()
	t.SR, t.PRJ = sr, def
	for i, f := range fc.Features {
		g, err := decodeGeometry(f.Geometry)
		if err != nil {
			return nil, civicgrid.E(civicgrid.DataIntegrity, op, "", fmt.Errorf("feature %d: %v", i, err))
		}
		rec := NewRecord(g)
		keys := make([]string, 0, len(f.Properties))
		for k := range f.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rec.Values[k] = propertyString(f.Properties[k])
		}
		t.Append(rec)
	}
	return t, nil
}

func propertyString(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func decodeGeometry(raw json.RawMessage) (geom.Geom, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var typ struct {
		Type        string        `json:"type"`
		Coordinates []interface{} `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &typ); err != nil {
		return nil, err
	}
	if typ.Type != "MultiPolygon" {
		return geojson.Decode(raw)
	}
	mp := make(geom.MultiPolygon, 0, len(typ.Coordinates))
	for _, part := range typ.Coordinates {
		g, err := geojson.FromGeoJSON(&geojson.Geometry{Type: "Polygon", Coordinates: part})
		if err != nil {
			return nil, err
		}
		mp = append(mp, g.(geom.Polygon))
	}
	return mp, nil
}

func encodeGeometry(g geom.Geom) (*geojson.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	mp, ok := g.(geom.MultiPolygon)
	if !ok {
		return geojson.ToGeoJSON(g)
	}
	coords := make([]interface{}, len(mp))
	for i, p := range mp {
		pg, err := geojson.ToGeoJSON(p)
		if err != nil {
			return nil, err
		}
		coords[i] = pg.Coordinates
	}
	return &geojson.Geometry{Type: "MultiPolygon", Coordinates: coords}, nil
}

// WriteGeoJSON writes the table as a GeoJSON FeatureCollection. All
// property values are written as strings, and keys are sorted, so
// equal tables produce identical output.
func WriteGeoJSON(w io.Writer, t *Table) error {
	fc := outCollection{Type: "FeatureCollection", Features: make([]*outFeature, len(t.Records))}
	for code, def := range epsgDefs {
		if code != 4326 && def == t.PRJ {
			fc.CRS = &namedCRS{Type: "name"}
			fc.CRS.Properties.Name = fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", code)
		}
	}
	for i, r := range t.Records {
		g, err := encodeGeometry(r.Geom)
		if err != nil {
			return fmt.Errorf("dataset: writing geojson feature %d: %v", i, err)
		}
		props := make(map[string]string, len(t.Columns))
		for _, c := range t.Columns {
			props[c] = r.Values[c]
		}
		fc.Features[i] = &outFeature{Type: "Feature", Geometry: g, Properties: props}
	}
	e := json.NewEncoder(w)
	return e.Encode(fc)
}
