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
	"sort"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/mkrvjl/civicgrid"
)

// Record is a row of a Table. Geom is nil for rows without geometry.
// Values holds the attribute values by column name; absent values and
// empty strings are both treated as missing.
type Record struct {
	Geom   geom.Geom
	Values map[string]string
}

// NewRecord returns a record with the given geometry and no values.
func NewRecord(g geom.Geom) *Record {
	return &Record{Geom: g, Values: make(map[string]string)}
}

// Get returns the value in column col.
func (r *Record) Get(col string) string { return r.Values[col] }

// Set sets the value in column col.
func (r *Record) Set(col, val string) {
	if r.Values == nil {
		r.Values = make(map[string]string)
	}
	r.Values[col] = val
}

// Float parses the value in column col as a number.
func (r *Record) Float(col string) (float64, error) {
	v := strings.TrimSpace(r.Values[col])
	if v == "" {
		return 0, fmt.Errorf("column %q is empty", col)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("column %q: %v", col, err)
	}
	return f, nil
}

func (r *Record) clone() *Record {
	o := &Record{Geom: r.Geom, Values: make(map[string]string, len(r.Values))}
	for k, v := range r.Values {
		o.Values[k] = v
	}
	return o
}

// Table is an ordered collection of records sharing a set of columns.
// SR is the spatial reference of the record geometries, if known, and
// PRJ is its textual definition as read from the source.
type Table struct {
	Columns []string
	Records []*Record
	SR      *proj.SR
	PRJ     string
}

// NewTable returns an empty table with the given columns.
func NewTable(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of records.
func (t *Table) Len() int { return len(t.Records) }

// Append adds records to the end of the table. Columns of the records
// that the table does not have yet are added in lexical order.
func (t *Table) Append(recs ...*Record) {
	for _, r := range recs {
		var added []string
		for k := range r.Values {
			if !t.HasColumn(k) {
				added = append(added, k)
			}
		}
		sort.Strings(added)
		t.Columns = append(t.Columns, added...)
		t.Records = append(t.Records, r)
	}
}

// HasColumn reports whether the table has column col.
func (t *Table) HasColumn(col string) bool {
	return t.columnIndex(col) >= 0
}

func (t *Table) columnIndex(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// AddColumn adds col to the end of the column list if it is not
// already present.
func (t *Table) AddColumn(col string) {
	if !t.HasColumn(col) {
		t.Columns = append(t.Columns, col)
	}
}

// Require returns a data integrity error naming the first of cols that
// the table does not have.
func (t *Table) Require(cols ...string) error {
	for _, c := range cols {
		if !t.HasColumn(c) {
			return civicgrid.E(civicgrid.DataIntegrity, "dataset: checking columns", c,
				fmt.Errorf("required column is missing"))
		}
	}
	return nil
}

// Drop removes the given columns. Columns that do not exist are
// ignored.
func (t *Table) Drop(cols ...string) {
	drop := make(map[string]bool, len(cols))
	for _, c := range cols {
		drop[c] = true
	}
	kept := t.Columns[:0]
	for _, c := range t.Columns {
		if !drop[c] {
			kept = append(kept, c)
		}
	}
	t.Columns = kept
	for _, r := range t.Records {
		for _, c := range cols {
			delete(r.Values, c)
		}
	}
}

// Filter returns a table holding the records for which keep returns
// true, in their original order. Records are shared with t.
func (t *Table) Filter(keep func(*Record) bool) *Table {
	o := t.empty()
	for _, r := range t.Records {
		if keep(r) {
			o.Records = append(o.Records, r)
		}
	}
	return o
}

// DropEmpty removes records that have neither geometry nor any
// non-empty value.
func (t *Table) DropEmpty() *Table {
	return t.Filter(func(r *Record) bool {
		if r.Geom != nil {
			return true
		}
		for _, v := range r.Values {
			if strings.TrimSpace(v) != "" {
				return true
			}
		}
		return false
	})
}

// DropMissing removes records with an empty value in any of cols.
func (t *Table) DropMissing(cols ...string) *Table {
	return t.Filter(func(r *Record) bool {
		for _, c := range cols {
			if strings.TrimSpace(r.Values[c]) == "" {
				return false
			}
		}
		return true
	})
}

// UniqueBy removes records whose values in cols repeat those of an
// earlier record. The first occurrence is kept.
func (t *Table) UniqueBy(cols ...string) *Table {
	seen := make(map[string]bool)
	return t.Filter(func(r *Record) bool {
		k := r.key(cols)
		if seen[k] {
			return false
		}
		seen[k] = true
		return true
	})
}

// Unique removes records that duplicate an earlier record in every
// column and in geometry. The first occurrence is kept.
func (t *Table) Unique() *Table {
	seen := make(map[string]bool)
	return t.Filter(func(r *Record) bool {
		k := r.key(t.Columns)
		if r.Geom != nil {
			k += "\x00" + fmt.Sprint(r.Geom)
		}
		if seen[k] {
			return false
		}
		seen[k] = true
		return true
	})
}

func (r *Record) key(cols []string) string {
	vals := make([]string, len(cols))
	for i, c := range cols {
		vals[i] = r.Values[c]
	}
	return strings.Join(vals, "\x1f")
}

// Concat returns a table holding the records of t followed by those of
// the other tables. The column list is the union in first-seen order.
func (t *Table) Concat(others ...*Table) *Table {
	o := t.empty()
	o.Records = append(o.Records, t.Records...)
	for _, t2 := range others {
		for _, c := range t2.Columns {
			o.AddColumn(c)
		}
		o.Records = append(o.Records, t2.Records...)
	}
	return o
}

// Clone returns a deep copy of the table attributes. Geometries are
// shared.
func (t *Table) Clone() *Table {
	o := t.empty()
	o.Records = make([]*Record, len(t.Records))
	for i, r := range t.Records {
		o.Records[i] = r.clone()
	}
	return o
}

func (t *Table) empty() *Table {
	return &Table{
		Columns: append([]string(nil), t.Columns...),
		SR:      t.SR,
		PRJ:     t.PRJ,
	}
}

// HasGeometry reports whether any record has a geometry.
func (t *Table) HasGeometry() bool {
	for _, r := range t.Records {
		if r.Geom != nil {
			return true
		}
	}
	return false
}

// Geometries returns the non-nil record geometries.
func (t *Table) Geometries() []geom.Geom {
	var o []geom.Geom
	for _, r := range t.Records {
		if r.Geom != nil {
			o = append(o, r.Geom)
		}
	}
	return o
}

// Bounds returns the bounding box of all record geometries. The result
// is empty if no record has a geometry.
func (t *Table) Bounds() *geom.Bounds {
	b := geom.NewBounds()
	for _, r := range t.Records {
		if r.Geom != nil {
			b.Extend(r.Geom.Bounds())
		}
	}
	return b
}

// Transform reprojects every geometry into sr. The table must have a
// spatial reference.
func (t *Table) Transform(sr *proj.SR, prj string) error {
	if t.SR == nil {
		return civicgrid.E(civicgrid.DataIntegrity, "dataset: transforming table", "",
			fmt.Errorf("table has no spatial reference"))
	}
	ct, err := t.SR.NewTransform(sr)
	if err != nil {
		return fmt.Errorf("dataset: transforming table: %v", err)
	}
	for _, r := range t.Records {
		if r.Geom == nil {
			continue
		}
		g, err := r.Geom.Transform(ct)
		if err != nil {
			return fmt.Errorf("dataset: transforming table: %v", err)
		}
		r.Geom = g
	}
	t.SR = sr
	t.PRJ = prj
	return nil
}

// PointsFromColumns sets the geometry of every record without one to
// the point given by columns xcol and ycol. Records whose coordinates
// are missing or cannot be parsed are left without geometry.
func (t *Table) PointsFromColumns(xcol, ycol string) {
	for _, r := range t.Records {
		if r.Geom != nil {
			continue
		}
		x, errx := r.Float(xcol)
		y, erry := r.Float(ycol)
		if errx != nil || erry != nil {
			continue
		}
		r.Geom = geom.Point{X: x, Y: y}
	}
}
