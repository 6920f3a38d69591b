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
	"path/filepath"
	"strings"

	"github.com/mkrvjl/civicgrid"
	"github.com/mkrvjl/civicgrid/dataset"
	"github.com/mkrvjl/civicgrid/grid"
	"github.com/mkrvjl/civicgrid/internal/fsutil"
	"github.com/mkrvjl/civicgrid/pipeline"
	"github.com/mkrvjl/civicgrid/remote"
)

// GridName is the dataset name of the grid processor.
const GridName = "grid"

// Grid builds the grid shared by the other processors, or reuses the
// one cached at the grid path.
type Grid struct {
	pipeline.Base

	// FirstLayer is the reference layer whose extent the grid covers.
	FirstLayer *dataset.Descriptor

	// SecondLayer, if set, removes cells that do not intersect it.
	SecondLayer *dataset.Descriptor

	FilterFirstLayer bool

	// Image writes a PNG rendering next to the grid file.
	Image bool

	Sync *remote.Synchronizer

	first, second *dataset.Dataset
	grid          *grid.Grid
}

// NewGrid returns a grid processor over the given layers. second may
// be nil.
func NewGrid(first, second *dataset.Descriptor, s *pipeline.Settings, sync *remote.Synchronizer) *Grid {
	return &Grid{
		Base:             pipeline.NewBase(GridName, s),
		FirstLayer:       first,
		SecondLayer:      second,
		FilterFirstLayer: true,
		Sync:             sync,
	}
}

func (p *Grid) layers() []*dataset.Descriptor {
	if p.SecondLayer == nil {
		return []*dataset.Descriptor{p.FirstLayer}
	}
	return []*dataset.Descriptor{p.FirstLayer, p.SecondLayer}
}

// Validate synchronizes the layers.
func (p *Grid) Validate(ctx context.Context) error {
	if p.FirstLayer == nil {
		return civicgrid.Errorf(civicgrid.Configuration, "processor: validating grid", "", "no reference layer")
	}
	return validateSources(ctx, p.Sync, p.layers()...)
}

// Load reads the layers unless the grid is already cached.
func (p *Grid) Load(ctx context.Context) error {
	log := p.Logger()
	if path := p.GridPath(); fsutil.Exists(path) {
		log.WithField("path", path).Info("found cached grid")
		return nil
	}
	log.Debug("grid not found; loading layers")
	var err error
	if p.first, err = loadSource(p.FirstLayer, dataset.Geospatial); err != nil {
		return err
	}
	if p.SecondLayer != nil {
		if p.second, err = loadSource(p.SecondLayer, dataset.Geospatial); err != nil {
			return err
		}
	}
	return nil
}

// Transform builds the grid, or reads the cached one, and writes a
// GeoJSON copy of it to the working directory.
func (p *Grid) Transform(ctx context.Context) error {
	g, err := p.Grids.Get(ctx, p.GridDistance, p.GridUnits, p.build)
	if err != nil {
		return err
	}
	p.grid = g
	d := dataset.NewGeospatial()
	d.Data = g.Table()
	path := p.LocalFilePath(GridName)
	path = strings.TrimSuffix(path, filepath.Ext(path)) + ".geojson"
	if err := d.Save(path); err != nil {
		return err
	}
	p.Logger().WithField("cells", len(g.Cells)).Info("grid ready")
	return nil
}

func (p *Grid) build(ctx context.Context) (*grid.Grid, error) {
	if err := p.RequireLoaded("building grid", p.first); err != nil {
		return nil, err
	}
	o := &grid.Options{
		Distance:         p.GridDistance,
		Units:            p.GridUnits,
		FilterFirstLayer: p.FilterFirstLayer,
		Log:              p.Logger(),
	}
	if p.second != nil {
		o.SecondLayer = p.second.Data
	}
	if p.Image {
		o.ImagePath = strings.TrimSuffix(p.GridPath(), ".shp") + ".png"
	}
	return grid.Build(p.first.Data, o)
}

// Aggregate does nothing; the grid has no aggregate.
func (p *Grid) Aggregate(ctx context.Context) error { return nil }

// Result returns the grid after Transform.
func (p *Grid) Result() *grid.Grid { return p.grid }
