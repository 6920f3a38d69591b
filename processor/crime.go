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
	"context"
	"sort"
	"strconv"

	"github.com/mkrvjl/civicgrid/dataset"
	"github.com/mkrvjl/civicgrid/grid"
	"github.com/mkrvjl/civicgrid/pipeline"
	"github.com/mkrvjl/civicgrid/remote"
)

// crimeIrrelevant are dropped from crime records once the point
// geometry is known.
var crimeIrrelevant = []string{"X", "Y", "PDQ", "LONGITUDE", "LATITUDE"}

// Crime assigns crime records to grid cells and counts them per cell,
// date and category.
type Crime struct {
	pipeline.Base
	Source *dataset.Descriptor
	Sync   *remote.Synchronizer

	// GridProcessor, if set, names the processor that builds the grid
	// and must complete before this one.
	GridProcessor string

	// RemoveIrrelevant drops the coordinate and police station columns.
	RemoveIrrelevant bool

	// DropMissing drops records without coordinates.
	DropMissing bool

	data, curated, aggregated *dataset.Dataset
}

// NewCrime returns a crime processor for the dataset described by d.
func NewCrime(d *dataset.Descriptor, s *pipeline.Settings, sync *remote.Synchronizer) *Crime {
	return &Crime{
		Base:             pipeline.NewBase(d.Name(), s),
		Source:           d,
		Sync:             sync,
		RemoveIrrelevant: true,
		DropMissing:      true,
	}
}

// DependsOn returns the grid processor, if any.
func (p *Crime) DependsOn() []string { return gridDependency(p.GridProcessor) }

// Validate synchronizes the source file.
func (p *Crime) Validate(ctx context.Context) error {
	return validateSources(ctx, p.Sync, p.Source)
}

// Load reads the records and drops the empty and incomplete ones. Each
// kept record remembers its position in the source in column "index".
func (p *Crime) Load(ctx context.Context) error {
	d, err := loadSource(p.Source, dataset.Geospatial)
	if err != nil {
		return err
	}
	t := d.Data
	pos := make(map[*dataset.Record]int, t.Len())
	for i, r := range t.Records {
		pos[r] = i
	}
	log := p.Logger()
	n := t.Len()
	t = t.DropEmpty()
	log.Debugf("dropped %d invalid records", n-t.Len())
	if p.DropMissing {
		if err := t.Require("LONGITUDE", "LATITUDE"); err != nil {
			return err
		}
		n = t.Len()
		t = t.DropMissing("LONGITUDE", "LATITUDE")
		log.Debugf("dropped %d incomplete records", n-t.Len())
	}
	if !t.HasGeometry() && t.HasColumn("LONGITUDE") && t.HasColumn("LATITUDE") {
		t.PointsFromColumns("LONGITUDE", "LATITUDE")
	}
	if p.RemoveIrrelevant {
		t.Drop(crimeIrrelevant...)
	}
	if !t.HasColumn("index") {
		t.Columns = append([]string{"index"}, t.Columns...)
	}
	for _, r := range t.Records {
		r.Set("index", strconv.Itoa(pos[r]))
	}
	d.Data = t
	p.data = d
	return nil
}

// Transform joins the records to the grid, first cell wins, and adds
// the date parts of DATE.
func (p *Crime) Transform(ctx context.Context) error {
	if err := p.RequireLoaded("transforming", p.data); err != nil {
		return err
	}
	log := p.Logger()
	log.Debugf("initial length: %d", p.data.Data.Len())
	g, err := loadGrid(ctx, &p.Base)
	if err != nil {
		return err
	}
	t, err := joinGrid(g, p.data.Data.Clone(), log)
	if err != nil {
		return err
	}
	t = t.UniqueBy("index")
	if _, err := addDateParts(t, "DATE"); err != nil {
		return err
	}
	p.curated = dataset.NewTabular()
	p.curated.Data = t
	if _, err := p.Save(p.Name, p.curated); err != nil {
		return err
	}
	log.Info("transformed data saved")
	return nil
}

// Aggregate counts records per grid cell, date and category. Each
// category gets a column holding the count for rows of that category
// and 0 otherwise. Rows are ordered by decreasing count.
func (p *Crime) Aggregate(ctx context.Context) error {
	if err := p.RequireLoaded("aggregating", p.curated); err != nil {
		return err
	}
	t := p.curated.Data
	if err := t.Require(grid.IDColumn, "DATE", "CATEGORIE"); err != nil {
		return err
	}
	groups := groupBy(t.Records, grid.IDColumn, "DATE", "CATEGORIE")
	catSet := make(map[string]bool)
	for _, g := range groups {
		catSet[g.Key[2]] = true
	}
	var cats []string
	for c := range catSet {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	sort.SliceStable(groups, func(i, j int) bool {
		return len(groups[i].Records) > len(groups[j].Records)
	})
	out := dataset.NewTable(append([]string{grid.IDColumn, "DATE"}, cats...)...)
	for _, g := range groups {
		r := dataset.NewRecord(nil)
		r.Set(grid.IDColumn, g.Key[0])
		r.Set("DATE", g.Key[1])
		for _, c := range cats {
			v := 0
			if c == g.Key[2] {
				v = len(g.Records)
			}
			r.Set(c, strconv.Itoa(v))
		}
		out.Records = append(out.Records, r)
	}
	p.aggregated = dataset.NewTabular()
	p.aggregated.Data = out
	if _, err := p.Save(p.Name, p.aggregated); err != nil {
		return err
	}
	p.Logger().Info("aggregated data saved")
	return nil
}
