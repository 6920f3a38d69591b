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

package civicutil

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/mkrvjl/civicgrid"
	"github.com/mkrvjl/civicgrid/dataset"
	"github.com/mkrvjl/civicgrid/grid"
	"github.com/mkrvjl/civicgrid/pipeline"
	"github.com/mkrvjl/civicgrid/processor"
	"github.com/mkrvjl/civicgrid/remote"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Dataset names accepted in the datasets option.
const (
	GridDataset               = processor.GridName
	PropertyAssessmentDataset = processor.PropertyAssessmentName
	TaxRollDataset            = processor.TaxRollName
	CrimeDataset              = "crime"
	FireIncidentsDataset      = "fire-incidents"
)

// Setup is everything a command needs, created from a Config.
type Setup struct {
	Config   *Config
	Settings *pipeline.Settings
	Sync     *remote.Synchronizer

	// Processors are the selected processors, in configuration order.
	Processors []pipeline.Processor

	// Grid is the grid processor, which is always created.
	Grid *processor.Grid

	// Descriptors are all the descriptors that were loaded.
	Descriptors []*dataset.Descriptor
}

// NewSetup loads the descriptors and creates the processors selected
// in c.
func NewSetup(c *Config) (*Setup, error) {
	log := logrus.StandardLogger()
	s := &Setup{Config: c}

	s.Sync = remote.New()
	s.Sync.Window = c.SyncWindow
	s.Sync.MaxRetries = c.MaxRetries
	if c.UserAgent != "" {
		s.Sync.UserAgent = c.UserAgent
	}
	if c.RequestTimeout > 0 {
		s.Sync.Client = &http.Client{Timeout: c.RequestTimeout}
	}
	s.Sync.Log = log

	s.Settings = &pipeline.Settings{
		Root:         c.ProcessedRoot,
		FileTemplate: c.FileTemplate,
		GridDistance: c.GridDistance,
		GridUnits:    c.GridUnits,
		Grids:        &grid.Cache{Template: c.GridTemplate, Log: log},
		ExportXLSX:   c.ExportXLSX,
		Log:          log,
	}

	boundaries, err := s.descriptor("descriptors.boundaries", c.Descriptors.Boundaries, true)
	if err != nil {
		return nil, err
	}
	census, err := s.descriptor("descriptors.census", c.Descriptors.Census, false)
	if err != nil {
		return nil, err
	}
	s.Grid = processor.NewGrid(boundaries, census, s.Settings, s.Sync)
	s.Grid.Image = c.GridImage
	s.Grid.FilterFirstLayer = c.FilterFirstLayer

	var assessment *processor.PropertyAssessment
	newAssessment := func() error {
		if assessment != nil {
			return nil
		}
		d, err := s.descriptor("descriptors.property_assessment", c.Descriptors.PropertyAssessment, true)
		if err != nil {
			return err
		}
		assessment = processor.NewPropertyAssessment(d, s.Settings, s.Sync)
		return nil
	}

	seen := make(map[string]bool)
	for _, name := range c.Datasets {
		if seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case GridDataset:
			s.Processors = append(s.Processors, s.Grid)
		case CrimeDataset:
			d, err := s.descriptor("descriptors.crime", c.Descriptors.Crime, true)
			if err != nil {
				return nil, err
			}
			s.Processors = append(s.Processors, processor.NewCrime(d, s.Settings, s.Sync))
		case FireIncidentsDataset:
			d, err := s.descriptor("descriptors.fire_incidents", c.Descriptors.FireIncidents, true)
			if err != nil {
				return nil, err
			}
			s.Processors = append(s.Processors, processor.NewFireIncidents(d, s.Settings, s.Sync))
		case PropertyAssessmentDataset:
			if err := newAssessment(); err != nil {
				return nil, err
			}
			s.Processors = append(s.Processors, assessment)
		case TaxRollDataset:
			if err := newAssessment(); err != nil {
				return nil, err
			}
			if len(c.Descriptors.TaxRolls) == 0 {
				return nil, civicgrid.Errorf(civicgrid.Configuration, "civicutil: setting up "+name,
					"descriptors.tax_rolls", "no tax roll descriptors")
			}
			var rolls []*dataset.Descriptor
			for _, path := range c.Descriptors.TaxRolls {
				d, err := s.descriptor("descriptors.tax_rolls", path, true)
				if err != nil {
					return nil, err
				}
				rolls = append(rolls, d)
			}
			p, err := processor.NewTaxRoll(rolls, assessment, c.TaxRollFilter, s.Settings, s.Sync)
			if err != nil {
				return nil, err
			}
			s.Processors = append(s.Processors, p)
		default:
			return nil, civicgrid.Errorf(civicgrid.Configuration, "civicutil: setting up datasets", name,
				"unknown dataset; valid datasets are %s", strings.Join([]string{GridDataset,
					PropertyAssessmentDataset, TaxRollDataset, CrimeDataset, FireIncidentsDataset}, ", "))
		}
	}
	if seen[GridDataset] {
		for _, p := range s.Processors {
			switch p := p.(type) {
			case *processor.Crime:
				p.GridProcessor = processor.GridName
			case *processor.FireIncidents:
				p.GridProcessor = processor.GridName
			case *processor.PropertyAssessment:
				p.GridProcessor = processor.GridName
			}
		}
	}
	return s, nil
}

// descriptor loads the descriptor file at path, relative to the data
// directory. An empty path is an error if required is set and nil
// otherwise.
func (s *Setup) descriptor(key, path string, required bool) (*dataset.Descriptor, error) {
	if path == "" {
		if required {
			return nil, civicgrid.Errorf(civicgrid.Configuration, "civicutil: loading descriptor", key,
				"no descriptor file specified")
		}
		return nil, nil
	}
	if !filepath.IsAbs(path) && s.Config.DataDir != "" {
		path = filepath.Join(s.Config.DataDir, path)
	}
	d, err := dataset.LoadDescriptor(path)
	if err != nil {
		return nil, err
	}
	s.Descriptors = append(s.Descriptors, d)
	return d, nil
}

func (s *Setup) machine() *pipeline.Machine {
	m := pipeline.NewMachine()
	m.MaxSteps = s.Config.MaxSteps
	m.Log = s.Settings.Log
	return m
}

// Run runs every selected processor.
func (s *Setup) Run(ctx context.Context) error {
	pl := pipeline.New(s.machine(), s.Processors...)
	pl.Log = s.Settings.Log
	return pl.Run(ctx)
}

// BuildGrid runs the grid processor only.
func (s *Setup) BuildGrid(ctx context.Context) error {
	return s.machine().Run(ctx, s.Grid)
}

// SyncAll synchronizes every loaded descriptor.
func (s *Setup) SyncAll(ctx context.Context) error {
	return s.Sync.SyncDescriptors(ctx, s.Descriptors)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return civicgrid.E(civicgrid.Configuration, "civicutil: reading configuration file", cfgpath, err)
		}
	}
	return nil
}

// withSetup reads the configuration, sets up logging and calls f.
func withSetup(cmd *cobra.Command, f func(ctx context.Context, s *Setup) error) error {
	c, err := LoadConfig(Cfg)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(c)
	if err != nil {
		return err
	}
	defer closeLog()
	s, err := NewSetup(c)
	if err != nil {
		logrus.WithError(err).Error("setup failed")
		return err
	}
	if err := f(context.Background(), s); err != nil {
		logrus.WithError(err).Error(cmd.Name() + " failed")
		return err
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "civicgrid",
	Short: "Aggregate civic open data onto a regular grid.",
	Long: `civicgrid downloads municipal open datasets, assigns their records to the
cells of a regular grid covering the city and aggregates them per cell.
Use the subcommands specified below to access the functionality.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'CIVICGRID_var' where 'var'
is the name of the variable to be set, with dots replaced by underscores.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of civicgrid.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("civicgrid v%s\n", civicgrid.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the configured datasets.",
	Long: `run synchronizes the source files of the datasets selected by the
datasets option, builds the grid if it is not cached yet, and drives every
dataset through validation, loading, transformation and aggregation.
A dataset that fails does not stop the others, except for the datasets
depending on it. The command fails if any dataset failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSetup(cmd, func(ctx context.Context, s *Setup) error {
			return s.Run(ctx)
		})
	},
	DisableAutoGenTag: true,
}

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Build the grid.",
	Long: `grid builds the grid for the configured cell distance and units and
saves it to the grid path, or reuses the grid already saved there.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSetup(cmd, func(ctx context.Context, s *Setup) error {
			return s.BuildGrid(ctx)
		})
	},
	DisableAutoGenTag: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download the source files.",
	Long: `sync mirrors the remote files of every configured descriptor to the
local directories named in the descriptors. Files modified within the sync
window are left alone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSetup(cmd, func(ctx context.Context, s *Setup) error {
			return s.SyncAll(ctx)
		})
	},
	DisableAutoGenTag: true,
}

func init() {
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(gridCmd)
	Root.AddCommand(syncCmd)
}
