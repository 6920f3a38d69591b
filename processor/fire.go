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
	"strconv"
	"strings"
	"time"

	"github.com/mkrvjl/civicgrid"
	"github.com/mkrvjl/civicgrid/dataset"
	"github.com/mkrvjl/civicgrid/grid"
	"github.com/mkrvjl/civicgrid/pipeline"
	"github.com/mkrvjl/civicgrid/remote"
)

var fireIrrelevant = []string{
	"NOM_VILLE", "NOM_ARROND", "MTM8_X", "MTM8_Y", "LATITUDE", "LONGITUDE", "DIVISION",
}

// IncidentCategory classifies an incident description. Type A is a
// fire, B another kind of fire and C anything else.
type IncidentCategory struct {
	Description string
	Group       string
	Type        string
}

// IncidentCategories maps incident descriptions to their category.
// Incidents without a description use the "nan" entry.
var IncidentCategories = []IncidentCategory{
	{"1-REPOND", "first_responder", "C"},
	{"SANS FEU", "no_fire", "C"},
	{"Alarmes-incendies", "fire_alarm", "C"},
	{"AUTREFEU", "other_fires", "B"},
	{"INCENDIE", "fire", "A"},
	{"nan", "n_a", "C"},
	{"FAU-ALER", "false_alarm_annulation", "C"},
	{"NOUVEAU", "new", "C"},
}

// Shift returns the fire department shift that time of day t falls in:
// nuit from 00:01 to 08:00, jour from 08:01 to 16:00 and soir
// otherwise.
func Shift(t time.Time) string {
	d := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond())
	switch {
	case d < time.Minute:
		return "soir"
	case d < 8*time.Hour+time.Minute:
		return "nuit"
	case d < 16*time.Hour+time.Minute:
		return "jour"
	}
	return "soir"
}

// FireIncidents assigns fire department interventions to grid cells and
// counts fires and other interventions per cell and quarter.
type FireIncidents struct {
	pipeline.Base
	Source *dataset.Descriptor
	Sync   *remote.Synchronizer

	// GridProcessor, if set, names the processor that builds the grid
	// and must complete before this one.
	GridProcessor string

	data, curated *dataset.Dataset
	grid          *grid.Grid
}

// NewFireIncidents returns a processor for the interventions described
// by d.
func NewFireIncidents(d *dataset.Descriptor, s *pipeline.Settings, sync *remote.Synchronizer) *FireIncidents {
	return &FireIncidents{Base: pipeline.NewBase(d.Name(), s), Source: d, Sync: sync}
}

func (p *FireIncidents) DependsOn() []string { return gridDependency(p.GridProcessor) }

// Validate synchronizes the source file.
func (p *FireIncidents) Validate(ctx context.Context) error {
	return validateSources(ctx, p.Sync, p.Source)
}

// Load reads the interventions and the grid.
func (p *FireIncidents) Load(ctx context.Context) error {
	d, err := loadSource(p.Source, dataset.Geospatial)
	if err != nil {
		return err
	}
	d.Data.Drop(fireIrrelevant...)
	g, err := loadGrid(ctx, &p.Base)
	if err != nil {
		return err
	}
	p.data, p.grid = d, g
	return nil
}

// Transform adds the date parts and shift of CREATION_D and the
// incident category, then joins the interventions to the grid.
func (p *FireIncidents) Transform(ctx context.Context) error {
	if err := p.RequireLoaded("transforming", p.data); err != nil {
		return err
	}
	log := p.Logger()
	t := p.data.Data.Clone()
	log.Debugf("initial length: %d", t.Len())
	if err := t.Require("CREATION_D", "DESCRIPTIO", "INCIDENT_N"); err != nil {
		return err
	}
	dates, err := addDateParts(t, "CREATION_D")
	if err != nil {
		return err
	}
	for i, r := range t.Records {
		r.Set("SHIFT", Shift(dates[i]))
	}
	t.AddColumn("SHIFT")

	cats := make(map[string]IncidentCategory, len(IncidentCategories))
	for _, c := range IncidentCategories {
		cats[c.Description] = c
	}
	t = t.Filter(func(r *dataset.Record) bool {
		desc := strings.TrimSpace(r.Get("DESCRIPTIO"))
		if desc == "" {
			desc = "nan"
		}
		c, ok := cats[desc]
		if !ok {
			return false
		}
		r.Set("DESCRIPTION_GROUPE", c.Description)
		r.Set("GROUP", c.Group)
		r.Set("TYPE", c.Type)
		return true
	})
	for _, c := range []string{"DESCRIPTION_GROUPE", "GROUP", "TYPE"} {
		t.AddColumn(c)
	}
	t.Drop("INCIDENT_T", "DESCRIPTIO")
	log.Debugf("length after categorizing: %d", t.Len())

	if t.SR == nil {
		return civicgrid.Errorf(civicgrid.DataIntegrity, "processor: transforming "+p.Name,
			p.Source.WorkingPath(), "interventions have no spatial reference")
	}
	if err := toWGS84(t); err != nil {
		return err
	}
	t = t.UniqueBy("INCIDENT_N")
	n := t.Len()
	if t, err = joinGrid(p.grid, t, log); err != nil {
		return err
	}
	log.Debugf("%d incidents were not located in the grid", n-t.Len())

	p.curated = dataset.NewTabular()
	p.curated.Data = t
	if _, err := p.Save(p.Name, p.curated); err != nil {
		return err
	}
	log.Info("transformed data saved")
	return nil
}

// Aggregate counts fires (types A and B) into INCIDENT_COUNT and other
// interventions into OTHER_FIRES_COUNT per grid cell, year and quarter.
// The second table is saved under the dataset name prefixed with
// "other".
func (p *FireIncidents) Aggregate(ctx context.Context) error {
	if err := p.RequireLoaded("aggregating", p.curated); err != nil {
		return err
	}
	t := p.curated.Data
	fires := t.Filter(func(r *dataset.Record) bool { return r.Get("TYPE") != "C" })
	others := t.Filter(func(r *dataset.Record) bool { return r.Get("TYPE") == "C" })
	for _, out := range []struct {
		name, col string
		t         *dataset.Table
	}{
		{p.Name, "INCIDENT_COUNT", fires},
		{"other" + p.Name, "OTHER_FIRES_COUNT", others},
	} {
		d := dataset.NewTabular()
		d.Data = countBy(out.t, out.col, grid.IDColumn, "YEAR", "QUARTER")
		if _, err := p.Save(out.name, d); err != nil {
			return err
		}
	}
	p.Logger().Info("aggregated data saved")
	return nil
}

// countBy returns a table with the columns cols and a column col
// holding the number of records of t in each group.
func countBy(t *dataset.Table, col string, cols ...string) *dataset.Table {
	out := dataset.NewTable(append(append([]string(nil), cols...), col)...)
	for _, g := range groupBy(t.Records, cols...) {
		r := dataset.NewRecord(nil)
		for i, c := range cols {
			r.Set(c, g.Key[i])
		}
		r.Set(col, strconv.Itoa(len(g.Records)))
		out.Records = append(out.Records, r)
	}
	return out
}
