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

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mkrvjl/civicgrid"
	"github.com/mkrvjl/civicgrid/dataset"
	"github.com/mkrvjl/civicgrid/grid"
	"github.com/sirupsen/logrus"
)

// Processor is a dataset that can be driven through the processing
// states.
type Processor interface {
	// DatasetName identifies the processor in logs, file names and
	// dependency declarations.
	DatasetName() string

	// SetWorkingDir points the processor at the directory of state s,
	// creating it if needed.
	SetWorkingDir(s State) error

	Validate(ctx context.Context) error
	Load(ctx context.Context) error
	Transform(ctx context.Context) error
	Aggregate(ctx context.Context) error
}

// Dependent is a processor that needs the output of other processors.
type Dependent interface {
	DependsOn() []string
}

// Producer is a processor whose output files other processors read.
type Producer interface {
	OutputPath(s State) string
}

// DefaultFileTemplate is the default name of processed files.
const DefaultFileTemplate = "{dataset_name}_{grid_distance}{grid_units}.csv"

// Settings are shared by every processor of a pipeline.
type Settings struct {
	// Root holds one working subdirectory per state.
	Root string

	// FileTemplate names processed files. {dataset_name},
	// {grid_distance} and {grid_units} are replaced.
	FileTemplate string

	GridDistance float64
	GridUnits    grid.Unit

	// Grids is where processors find the shared grid.
	Grids *grid.Cache

	// ExportXLSX also writes aggregated tables as workbooks.
	ExportXLSX bool

	Log logrus.FieldLogger
}

// Base implements the working directory and file naming parts of
// Processor. Processors embed it.
type Base struct {
	Name string
	*Settings

	// Dir is the working directory of the current state.
	Dir string
}

// NewBase returns a Base for dataset name.
func NewBase(name string, s *Settings) Base {
	return Base{Name: name, Settings: s}
}

// DatasetName returns the dataset name.
func (b *Base) DatasetName() string { return b.Name }

// SetWorkingDir sets Dir to Root/<state> and creates it.
func (b *Base) SetWorkingDir(s State) error {
	dir := filepath.Join(b.Root, s.String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return civicgrid.E(civicgrid.IO, "pipeline: creating working directory", dir, err)
	}
	b.Dir = dir
	return nil
}

// FileName returns the processed file name for dataset name.
func (b *Base) FileName(name string) string {
	tmpl := b.FileTemplate
	if tmpl == "" {
		tmpl = DefaultFileTemplate
	}
	units := string(b.GridUnits)
	return strings.NewReplacer(
		"{dataset_name}", name,
		"{grid_distance}", strconv.FormatFloat(b.GridDistance, 'f', -1, 64),
		"{grid_units}", units,
	).Replace(tmpl)
}

// LocalFilePath returns the path of the processed file for dataset
// name in the current working directory.
func (b *Base) LocalFilePath(name string) string {
	return filepath.Join(b.Dir, b.FileName(name))
}

// OutputPath returns where the processor's file for state s is
// written.
func (b *Base) OutputPath(s State) string {
	return filepath.Join(b.Root, s.String(), b.FileName(b.Name))
}

// GridPath returns the path of the cached grid.
func (b *Base) GridPath() string {
	return b.Grids.Path(b.GridDistance, b.GridUnits)
}

// Logger returns the settings logger with the dataset field set.
func (b *Base) Logger() logrus.FieldLogger {
	var log logrus.FieldLogger = logrus.StandardLogger()
	if b.Settings != nil && b.Settings.Log != nil {
		log = b.Settings.Log
	}
	return log.WithField("dataset", b.Name)
}

// Save writes d to the processed file for dataset name in the current
// working directory and returns its path. When ExportXLSX is set and
// d is tabular, an .xlsx copy is written next to it.
func (b *Base) Save(name string, d *dataset.Dataset) (string, error) {
	path := b.LocalFilePath(name)
	if err := d.Save(path); err != nil {
		return "", err
	}
	b.Logger().WithField("path", path).Info("saved")
	if b.ExportXLSX && d.Kind == dataset.Tabular {
		xp := strings.TrimSuffix(path, filepath.Ext(path)) + ".xlsx"
		if err := d.Save(xp); err != nil {
			return "", err
		}
	}
	return path, nil
}

// RequireLoaded returns a data integrity error naming stage if d holds
// no data.
func (b *Base) RequireLoaded(stage string, d *dataset.Dataset) error {
	if d == nil || !d.Loaded() {
		return civicgrid.Errorf(civicgrid.DataIntegrity, "pipeline: "+stage, b.Name, "no data loaded")
	}
	return nil
}
