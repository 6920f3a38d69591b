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
	"fmt"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/mkrvjl/civicgrid"
	"github.com/mkrvjl/civicgrid/dataset"
	"github.com/mkrvjl/civicgrid/grid"
	"github.com/mkrvjl/civicgrid/internal/fsutil"
	"github.com/mkrvjl/civicgrid/pipeline"
	"github.com/mkrvjl/civicgrid/remote"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TaxRollName is the dataset name of the tax roll processor.
const TaxRollName = "tax-rolls"

// DefaultTaxRollFilter keeps the general property tax of fiscal year
// 2023.
const DefaultTaxRollFilter = "CODE_DESCR_LONGUE == 'E00' && ANNEE_EXERCICE == 2023"

// assessmentDropped are property assessment columns not carried into
// the tax roll join.
var assessmentDropped = []string{
	"SUITE_DEBU", "MUNICIPALI", "ETAGE_HORS", "NOMBRE_LOG", "ANNEE_CONS",
	"CODE_UTILI", "LETTRE_DEB", "LETTRE_FIN", "LIBELLE_UT", "CATEGORIE_",
	"MATRICULE8", "SUPERFIC_1", "SUPERFICIE", "NO_ARROND_",
}

var taxRollDropped = []string{
	"ARRONDISSEMENT", "NO_COMPTE", "NOM_ARRONDISSEMENT", "TAUX_IMPOSI",
	"MONTANT_DETAIL", "ANNEE_EXERCICE",
}

var filterFunctions = map[string]govaluate.ExpressionFunction{
	"contains": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("processor: got %d arguments for function 'contains', but needs 2", len(args))
		}
		return strings.Contains(fmt.Sprint(args[0]), fmt.Sprint(args[1])), nil
	},
	"lower": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("processor: got %d arguments for function 'lower', but needs 1", len(args))
		}
		return strings.ToLower(fmt.Sprint(args[0])), nil
	},
}

// TaxRoll joins tax roll records to grid cells through the transformed
// property assessment units and sums the taxable values per cell.
type TaxRoll struct {
	pipeline.Base

	// Rolls are the tax roll files, one per year or borough.
	Rolls []*dataset.Descriptor

	// Assessment names the property assessment processor and
	// AssessmentPath is its transformed output.
	Assessment     string
	AssessmentPath string

	Filter *govaluate.EvaluableExpression
	Sync   *remote.Synchronizer

	units, curated *dataset.Dataset
}

// NewTaxRoll returns a tax roll processor. assessment is the property
// assessment processor whose transformed output provides the grid id
// of every unit. filter is an expression over the tax roll columns
// selecting the records to keep; empty means DefaultTaxRollFilter.
func NewTaxRoll(rolls []*dataset.Descriptor, assessment pipeline.Processor, filter string,
	s *pipeline.Settings, sync *remote.Synchronizer) (*TaxRoll, error) {
	if filter == "" {
		filter = DefaultTaxRollFilter
	}
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(filter, filterFunctions)
	if err != nil {
		return nil, civicgrid.E(civicgrid.Configuration, "processor: parsing tax roll filter", filter, err)
	}
	p := &TaxRoll{
		Base:       pipeline.NewBase(TaxRollName, s),
		Rolls:      rolls,
		Assessment: assessment.DatasetName(),
		Filter:     expr,
		Sync:       sync,
	}
	if prod, ok := assessment.(pipeline.Producer); ok {
		p.AssessmentPath = prod.OutputPath(pipeline.Transformation)
	}
	return p, nil
}

// DependsOn returns the property assessment dataset name.
func (p *TaxRoll) DependsOn() []string { return []string{p.Assessment} }

// Validate synchronizes the tax roll files.
func (p *TaxRoll) Validate(ctx context.Context) error {
	return validateSources(ctx, p.Sync, p.Rolls...)
}

// Load reads the transformed property assessment units.
func (p *TaxRoll) Load(ctx context.Context) error {
	if !fsutil.Exists(p.AssessmentPath) {
		return civicgrid.Errorf(civicgrid.DataIntegrity, "processor: loading "+p.Name, p.AssessmentPath,
			"property assessment output not found")
	}
	d := dataset.NewTabular()
	if err := d.LoadFromPath(p.AssessmentPath); err != nil {
		return err
	}
	if err := d.Data.Require("ID_UEV", grid.IDColumn); err != nil {
		return err
	}
	d.Data.Drop(assessmentDropped...)
	p.units = d
	return nil
}

// Transform filters each tax roll, joins it to the assessment units on
// ID_CUM = ID_UEV, saves it, and concatenates the results.
func (p *TaxRoll) Transform(ctx context.Context) error {
	if err := p.RequireLoaded("transforming", p.units); err != nil {
		return err
	}
	lookup := make(map[string]*dataset.Record)
	for _, r := range p.units.Data.Records {
		id := normID(r.Get("ID_UEV"))
		if _, ok := lookup[id]; !ok && id != "" {
			lookup[id] = r
		}
	}
	var all *dataset.Table
	for _, roll := range p.Rolls {
		log := p.Logger().WithField("key", roll.Name())
		log.Debug("processing tax roll")
		t, err := p.cleanRoll(roll, lookup)
		if err != nil {
			return err
		}
		d := dataset.NewTabular()
		d.Data = t
		if _, err := p.Save(roll.Name(), d); err != nil {
			return err
		}
		if all == nil {
			all = t
		} else {
			all = all.Concat(t)
		}
	}
	if all == nil {
		all = dataset.NewTable()
	}
	p.curated = dataset.NewTabular()
	p.curated.Data = all
	if _, err := p.Save(p.Name, p.curated); err != nil {
		return err
	}
	p.Logger().Info("transformed data saved")
	return nil
}

func (p *TaxRoll) cleanRoll(roll *dataset.Descriptor, lookup map[string]*dataset.Record) (*dataset.Table, error) {
	src, err := loadSource(roll, dataset.Tabular)
	if err != nil {
		return nil, err
	}
	t := src.Data
	if err := t.Require(p.Filter.Vars()...); err != nil {
		return nil, err
	}
	if err := t.Require("ID_CUM", "VAL_IMPOSABLE"); err != nil {
		return nil, err
	}
	var ferr error
	t = t.Filter(func(r *dataset.Record) bool {
		if ferr != nil {
			return false
		}
		ok, err := p.keep(r)
		if err != nil {
			ferr = civicgrid.E(civicgrid.DataIntegrity, "processor: filtering tax roll", roll.WorkingPath(), err)
		}
		return ok
	})
	if ferr != nil {
		return nil, ferr
	}
	t.Drop(taxRollDropped...)

	out := dataset.NewTable(t.Columns...)
	for _, c := range p.units.Data.Columns {
		out.AddColumn(c)
	}
	for _, r := range t.Records {
		u, ok := lookup[normID(r.Get("ID_CUM"))]
		if !ok {
			continue
		}
		j := dataset.NewRecord(nil)
		for k, v := range r.Values {
			j.Values[k] = v
		}
		for k, v := range u.Values {
			if _, dup := j.Values[k]; !dup {
				j.Values[k] = v
			}
		}
		out.Records = append(out.Records, j)
	}
	return out, nil
}

// keep evaluates the filter on r. Numeric values are passed as numbers.
func (p *TaxRoll) keep(r *dataset.Record) (bool, error) {
	params := make(map[string]interface{}, len(r.Values))
	for _, k := range p.Filter.Vars() {
		params[k] = ""
	}
	for k, v := range r.Values {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			params[k] = f
		} else {
			params[k] = v
		}
	}
	res, err := p.Filter.Evaluate(params)
	if err != nil {
		return false, err
	}
	b, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("filter returned %v, not a boolean", res)
	}
	return b, nil
}

// Aggregate sums, averages and counts VAL_IMPOSABLE per grid cell.
func (p *TaxRoll) Aggregate(ctx context.Context) error {
	if err := p.RequireLoaded("aggregating", p.curated); err != nil {
		return err
	}
	out := dataset.NewTable(grid.IDColumn, "EVAL_SUM", "EVAL_MEAN", "NB_TAX_PARCELS")
	for _, g := range groupBy(p.curated.Data.Records, grid.IDColumn) {
		v, err := values(g.Records, "VAL_IMPOSABLE")
		if err != nil {
			return err
		}
		r := dataset.NewRecord(nil)
		r.Set(grid.IDColumn, g.Key[0])
		r.Set("EVAL_SUM", formatFloat(floats.Sum(v)))
		if len(v) > 0 {
			r.Set("EVAL_MEAN", formatFloat(stat.Mean(v, nil)))
		}
		r.Set("NB_TAX_PARCELS", strconv.Itoa(len(v)))
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
