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

// Package processor holds the dataset processors that the pipeline
// drives: the shared grid and the civic datasets that are aligned to
// it.
package processor

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mkrvjl/civicgrid"
	"github.com/mkrvjl/civicgrid/dataset"
	"github.com/mkrvjl/civicgrid/grid"
	"github.com/mkrvjl/civicgrid/internal/fsutil"
	"github.com/mkrvjl/civicgrid/pipeline"
	"github.com/mkrvjl/civicgrid/remote"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// validateSources synchronizes the descriptors with their remote
// sources. Without a synchronizer it only checks that the working
// files are present.
func validateSources(ctx context.Context, s *remote.Synchronizer, descriptors ...*dataset.Descriptor) error {
	if s != nil {
		return s.SyncDescriptors(ctx, descriptors)
	}
	for _, d := range descriptors {
		if p := d.WorkingPath(); !fsutil.Exists(p) {
			return civicgrid.Errorf(civicgrid.DataIntegrity, "processor: validating "+d.Name(), p,
				"file not found")
		}
	}
	return nil
}

// loadSource reads the working file of d into a dataset of kind k.
func loadSource(d *dataset.Descriptor, k dataset.Kind) (*dataset.Dataset, error) {
	ds := &dataset.Dataset{Kind: k}
	if err := ds.LoadFromPath(d.WorkingPath()); err != nil {
		return nil, err
	}
	return ds, nil
}

func gridDependency(name string) []string {
	if name == "" {
		return nil
	}
	return []string{name}
}

// loadGrid returns the grid that the grid processor cached.
func loadGrid(ctx context.Context, b *pipeline.Base) (*grid.Grid, error) {
	path := b.GridPath()
	if !fsutil.Exists(path) {
		return nil, civicgrid.Errorf(civicgrid.DataIntegrity, "processor: loading grid", path,
			"grid has not been built")
	}
	return b.Grids.Get(ctx, b.GridDistance, b.GridUnits, func(context.Context) (*grid.Grid, error) {
		return nil, civicgrid.Errorf(civicgrid.DataIntegrity, "processor: loading grid", path,
			"grid has not been built")
	})
}

// toWGS84 reprojects t into EPSG:4326 unless it already is.
func toWGS84(t *dataset.Table) error {
	if t.SR != nil && t.PRJ == dataset.WGS84 {
		return nil
	}
	sr, prj, err := dataset.EPSG(4326)
	if err != nil {
		return err
	}
	return t.Transform(sr, prj)
}

// joinGrid assigns every record of t the id of its grid cell and
// returns the matched records. Records outside the grid are dropped.
// A table without a spatial reference is taken to be in the grid's.
func joinGrid(g *grid.Grid, t *dataset.Table, log logrus.FieldLogger) (*dataset.Table, error) {
	if t.SR == nil {
		t.SR, t.PRJ = g.SR, g.PRJ
	}
	n, err := g.Join(t)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"matched": n, "unmatched": t.Len() - n}).Debug("joined to grid")
	return t.Filter(func(r *dataset.Record) bool { return r.Get(grid.IDColumn) != "" }), nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// addDateParts sets the YEAR, MONTH, QUARTER and DAY columns from the
// date in column col and returns the parsed dates in record order.
func addDateParts(t *dataset.Table, col string) ([]time.Time, error) {
	if err := t.Require(col); err != nil {
		return nil, err
	}
	dates := make([]time.Time, len(t.Records))
	for i, r := range t.Records {
		d, err := parseDate(r.Get(col))
		if err != nil {
			return nil, civicgrid.E(civicgrid.DataIntegrity, "processor: parsing dates", col,
				fmt.Errorf("record %d: %v", i, err))
		}
		r.Set("YEAR", strconv.Itoa(d.Year()))
		r.Set("MONTH", strconv.Itoa(int(d.Month())))
		r.Set("QUARTER", strconv.Itoa((int(d.Month())-1)/3+1))
		r.Set("DAY", strconv.Itoa(d.Day()))
		dates[i] = d
	}
	for _, c := range []string{"YEAR", "MONTH", "QUARTER", "DAY"} {
		t.AddColumn(c)
	}
	return dates, nil
}

// group is a set of records sharing the values of the grouping columns.
type group struct {
	Key     []string
	Records []*dataset.Record
}

// groupBy groups recs by the values in cols. Records with an empty
// value in any of cols are left out. Groups are sorted by key, numbers
// numerically.
func groupBy(recs []*dataset.Record, cols ...string) []*group {
	index := make(map[string]*group)
	var groups []*group
	for _, r := range recs {
		key := make([]string, len(cols))
		missing := false
		for i, c := range cols {
			key[i] = r.Get(c)
			if strings.TrimSpace(key[i]) == "" {
				missing = true
			}
		}
		if missing {
			continue
		}
		k := strings.Join(key, "\x1f")
		g, ok := index[k]
		if !ok {
			g = &group{Key: key}
			index[k] = g
			groups = append(groups, g)
		}
		g.Records = append(g.Records, r)
	}
	sort.SliceStable(groups, func(i, j int) bool { return lessKey(groups[i].Key, groups[j].Key) })
	return groups
}

func lessKey(a, b []string) bool {
	for i := range a {
		if c := compareValues(a[i], b[i]); c != 0 {
			return c < 0
		}
	}
	return false
}

func compareValues(a, b string) int {
	fa, erra := strconv.ParseFloat(a, 64)
	fb, errb := strconv.ParseFloat(b, 64)
	if erra == nil && errb == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// values returns the numbers in column col of recs. Empty values are
// skipped.
func values(recs []*dataset.Record, col string) ([]float64, error) {
	var o []float64
	for _, r := range recs {
		if strings.TrimSpace(r.Get(col)) == "" {
			continue
		}
		v, err := r.Float(col)
		if err != nil {
			return nil, civicgrid.E(civicgrid.DataIntegrity, "processor: reading numbers", col, err)
		}
		o = append(o, v)
	}
	return o, nil
}

func sum(recs []*dataset.Record, col string) (float64, error) {
	v, err := values(recs, col)
	if err != nil {
		return 0, err
	}
	return floats.Sum(v), nil
}

// mean returns the mean of column col and false if it has no values.
func mean(recs []*dataset.Record, col string) (float64, bool, error) {
	v, err := values(recs, col)
	if err != nil || len(v) == 0 {
		return 0, false, err
	}
	return stat.Mean(v, nil), true, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// normID normalizes a numeric identifier so that "42" and "42.0"
// compare equal.
func normID(s string) string {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return formatFloat(f)
	}
	return s
}
