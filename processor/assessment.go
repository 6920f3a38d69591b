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
	"math"
	"regexp"
	"strconv"

	"github.com/mkrvjl/civicgrid/dataset"
	"github.com/mkrvjl/civicgrid/grid"
	"github.com/mkrvjl/civicgrid/pipeline"
	"github.com/mkrvjl/civicgrid/remote"
)

// PropertyAssessmentName is the usual dataset name of the property
// assessment processor.
const PropertyAssessmentName = "property-assessment"

// ConstructionBins are the lower bounds of the construction year bins.
// Bin i holds years in [ConstructionBins[i], ConstructionBins[i+1]).
var ConstructionBins = []float64{math.Inf(-1), 1900, 1920, 1940, 1960, 1980, 2000, 2020, 2023, math.Inf(1)}

// ConstructionLabels names the construction year bins.
var ConstructionLabels = []string{
	"ANNEE_CONSTR_1900",
	"ANNEE_CONSTR_1900-1920",
	"ANNEE_CONSTR_1920-1940",
	"ANNEE_CONSTR_1940-1960",
	"ANNEE_CONSTR_1960-1980",
	"ANNEE_CONSTR_1980-2000",
	"ANNEE_CONSTR_2000-2020",
	"ANNEE_CONSTR_2020-2023",
	"ANNEE_CONSTR_2023",
}

// ConstructionLabel returns the label of the bin holding year, or ""
// if year is not a number.
func ConstructionLabel(year float64) string {
	if math.IsNaN(year) {
		return ""
	}
	for i := 0; i < len(ConstructionLabels); i++ {
		if year >= ConstructionBins[i] && year < ConstructionBins[i+1] {
			return ConstructionLabels[i]
		}
	}
	return ""
}

var (
	logementPattern    = regexp.MustCompile(`(?i)logement`)
	condominiumPattern = regexp.MustCompile(`(?i)condominium`)
	outsidePattern     = regexp.MustCompile(`(?i)parc|stationnement|non aménagé`)
)

// UseFlags are the building use flags. Exactly one is set.
type UseFlags struct {
	Condominium, Logement, Outside, Mixed bool
}

// ClassifyUse derives the use flags of a property from its use label
// and its category. The flags are evaluated in order: condominium,
// logement, outside, then mixed for anything else.
func ClassifyUse(label, category string) UseFlags {
	var f UseFlags
	logement := logementPattern.MatchString(label)
	condo := condominiumPattern.MatchString(category)
	f.Condominium = logement && condo
	f.Logement = logement && !condo && !f.Condominium
	f.Outside = outsidePattern.MatchString(label) && !f.Condominium && !f.Logement
	f.Mixed = !f.Condominium && !f.Logement && !f.Outside
	return f
}

// PropertyAssessment assigns property assessment units to grid cells
// and summarizes buildings per cell.
type PropertyAssessment struct {
	pipeline.Base
	Source *dataset.Descriptor
	Sync   *remote.Synchronizer

	// GridProcessor, if set, names the processor that builds the grid
	// and must complete before this one.
	GridProcessor string

	data, curated *dataset.Dataset
}

// NewPropertyAssessment returns a processor for the units described by
// d.
func NewPropertyAssessment(d *dataset.Descriptor, s *pipeline.Settings, sync *remote.Synchronizer) *PropertyAssessment {
	return &PropertyAssessment{Base: pipeline.NewBase(d.Name(), s), Source: d, Sync: sync}
}

// DependsOn returns the grid processor, if any.
func (p *PropertyAssessment) DependsOn() []string { return gridDependency(p.GridProcessor) }

// Validate synchronizes the source file.
func (p *PropertyAssessment) Validate(ctx context.Context) error {
	return validateSources(ctx, p.Sync, p.Source)
}

// Load reads the units.
func (p *PropertyAssessment) Load(ctx context.Context) error {
	d, err := loadSource(p.Source, dataset.Geospatial)
	if err != nil {
		return err
	}
	p.data = d
	return nil
}

// Transform joins the units to the grid and adds the construction year
// bin and the use flags. Geometry is dropped and duplicate rows are
// removed.
func (p *PropertyAssessment) Transform(ctx context.Context) error {
	if err := p.RequireLoaded("transforming", p.data); err != nil {
		return err
	}
	log := p.Logger()
	t := p.data.Data.Clone()
	log.Debugf("initial length: %d", t.Len())
	if err := t.Require("ANNEE_CONS", "LIBELLE_UT", "CATEGORIE_"); err != nil {
		return err
	}
	g, err := loadGrid(ctx, &p.Base)
	if err != nil {
		return err
	}
	if err := toWGS84(t); err != nil {
		return err
	}
	if _, err := g.Join(t); err != nil {
		return err
	}
	for _, r := range t.Records {
		r.Geom = nil
		year := math.NaN()
		if v, err := r.Float("ANNEE_CONS"); err == nil {
			year = v
		}
		r.Set("ANNEE_CONS_CATEGORY", ConstructionLabel(year))
		f := ClassifyUse(r.Get("LIBELLE_UT"), r.Get("CATEGORIE_"))
		r.Set("IS_CONDOMINIUMS", formatBool(f.Condominium))
		r.Set("IS_LOGEMENT", formatBool(f.Logement))
		r.Set("IS_OUTSIDE", formatBool(f.Outside))
		r.Set("IS_MIXED", formatBool(f.Mixed))
	}
	for _, c := range []string{"ANNEE_CONS_CATEGORY", "IS_CONDOMINIUMS", "IS_LOGEMENT", "IS_OUTSIDE", "IS_MIXED"} {
		t.AddColumn(c)
	}
	t = t.Unique()
	t.SR, t.PRJ = nil, ""

	p.curated = dataset.NewTabular()
	p.curated.Data = t
	if _, err := p.Save(p.Name, p.curated); err != nil {
		return err
	}
	log.Info("transformed data saved")
	return nil
}

// Aggregate summarizes the units of each grid cell.
func (p *PropertyAssessment) Aggregate(ctx context.Context) error {
	if err := p.RequireLoaded("aggregating", p.curated); err != nil {
		return err
	}
	t := p.curated.Data
	if err := t.Require(grid.IDColumn, "ETAGE_HORS", "NOMBRE_LOG", "ID_UEV", "SUPERFICIE", "SUPERFIC_1"); err != nil {
		return err
	}
	cols := append([]string{grid.IDColumn}, ConstructionLabels...)
	cols = append(cols, "N_FLOOR_AVG", "N_LOGEMENT_SUM", "N_BUILDINGS", "LAND_AREA_AVG",
		"BUILD_TOT_AREA_AVG", "BUILDING_CONDOMINIUM_COUNT", "BUILDING_LOGEMENTS_COUNT",
		"BUILDING_MIXED_COUNT", "BUILDING_OUTSIDE_COUNT")
	out := dataset.NewTable(cols...)
	for _, g := range groupBy(t.Records, grid.IDColumn) {
		r := dataset.NewRecord(nil)
		r.Set(grid.IDColumn, g.Key[0])
		bins := make(map[string]int)
		buildings := make(map[string]bool)
		var condo, logement, mixed, outside int
		for _, rec := range g.Records {
			bins[rec.Get("ANNEE_CONS_CATEGORY")]++
			if id := rec.Get("ID_UEV"); id != "" {
				buildings[id] = true
			}
			condo += count(rec.Get("IS_CONDOMINIUMS"))
			logement += count(rec.Get("IS_LOGEMENT"))
			mixed += count(rec.Get("IS_MIXED"))
			outside += count(rec.Get("IS_OUTSIDE"))
		}
		for _, l := range ConstructionLabels {
			r.Set(l, strconv.Itoa(bins[l]))
		}
		if avg, ok, err := mean(g.Records, "ETAGE_HORS"); err != nil {
			return err
		} else if ok {
			r.Set("N_FLOOR_AVG", formatFloat(avg))
		}
		for col, src := range map[string]string{
			"N_LOGEMENT_SUM":     "NOMBRE_LOG",
			"LAND_AREA_AVG":      "SUPERFICIE",
			"BUILD_TOT_AREA_AVG": "SUPERFIC_1",
		} {
			s, err := sum(g.Records, src)
			if err != nil {
				return err
			}
			r.Set(col, formatFloat(s))
		}
		r.Set("N_BUILDINGS", strconv.Itoa(len(buildings)))
		r.Set("BUILDING_CONDOMINIUM_COUNT", strconv.Itoa(condo))
		r.Set("BUILDING_LOGEMENTS_COUNT", strconv.Itoa(logement))
		r.Set("BUILDING_MIXED_COUNT", strconv.Itoa(mixed))
		r.Set("BUILDING_OUTSIDE_COUNT", strconv.Itoa(outside))
		out.Records = append(out.Records, r)
	}
	d := dataset.NewTabular()
	d.Data = out
	if _, err := p.Save(p.Name, d); err != nil {
		return err
	}
	p.Logger().Info("aggregated data saved")
	return nil
}

func count(flag string) int {
	if flag == "True" {
		return 1
	}
	return 0
}
