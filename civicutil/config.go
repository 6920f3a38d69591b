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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lnashier/viper"
	"github.com/mkrvjl/civicgrid"
	"github.com/mkrvjl/civicgrid/grid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// Config holds the settings of a run, read once from Cfg at start-up.
type Config struct {
	DataDir       string
	ProcessedRoot string
	FileTemplate  string
	GridTemplate  string

	GridDistance     float64
	GridUnits        grid.Unit
	GridImage        bool
	FilterFirstLayer bool

	// Descriptors are the paths of the descriptor files.
	Descriptors Descriptors

	// Datasets are the processors to run.
	Datasets []string

	SyncWindow     time.Duration
	UserAgent      string
	MaxRetries     uint64
	RequestTimeout time.Duration

	TaxRollFilter string
	ExportXLSX    bool
	MaxSteps      int

	LogLevel logrus.Level
	LogFile  string
}

// Descriptors holds descriptor file paths.
type Descriptors struct {
	Boundaries, Census, Crime, FireIncidents, PropertyAssessment string
	TaxRolls                                                     []string
}

// LoadConfig reads the configuration in cfg, expanding environment
// variables in paths.
func LoadConfig(cfg *viper.Viper) (*Config, error) {
	const op = "civicutil: reading configuration"
	c := new(Config)
	var err error
	fail := func(key string, err error) (*Config, error) {
		return nil, civicgrid.E(civicgrid.Configuration, op, key, err)
	}

	for key, dst := range map[string]*string{
		"data_dir":                        &c.DataDir,
		"processed_root":                  &c.ProcessedRoot,
		"processed_file_template":         &c.FileTemplate,
		"grid_path_template":              &c.GridTemplate,
		"descriptors.boundaries":          &c.Descriptors.Boundaries,
		"descriptors.census":              &c.Descriptors.Census,
		"descriptors.crime":               &c.Descriptors.Crime,
		"descriptors.fire_incidents":      &c.Descriptors.FireIncidents,
		"descriptors.property_assessment": &c.Descriptors.PropertyAssessment,
		"log_file":                        &c.LogFile,
	} {
		s, err := cast.ToStringE(cfg.Get(key))
		if err != nil {
			return fail(key, err)
		}
		*dst = os.ExpandEnv(s)
	}
	if c.TaxRollFilter, err = cast.ToStringE(cfg.Get("taxroll.filter")); err != nil {
		return fail("taxroll.filter", err)
	}
	if c.UserAgent, err = cast.ToStringE(cfg.Get("sync.user_agent")); err != nil {
		return fail("sync.user_agent", err)
	}

	if c.GridDistance, err = cast.ToFloat64E(cfg.Get("grid_distance")); err != nil {
		return fail("grid_distance", err)
	}
	units, err := cast.ToStringE(cfg.Get("grid_units"))
	if err != nil {
		return fail("grid_units", err)
	}
	if c.GridUnits, err = grid.ParseUnit(units); err != nil {
		return nil, err
	}
	if c.GridImage, err = cast.ToBoolE(cfg.Get("grid_image")); err != nil {
		return fail("grid_image", err)
	}
	if c.FilterFirstLayer, err = cast.ToBoolE(cfg.Get("grid_filter_first_layer")); err != nil {
		return fail("grid_filter_first_layer", err)
	}
	if c.ExportXLSX, err = cast.ToBoolE(cfg.Get("export_xlsx")); err != nil {
		return fail("export_xlsx", err)
	}

	if c.Descriptors.TaxRolls, err = stringSlice(cfg.Get("descriptors.tax_rolls")); err != nil {
		return fail("descriptors.tax_rolls", err)
	}
	for i, p := range c.Descriptors.TaxRolls {
		c.Descriptors.TaxRolls[i] = os.ExpandEnv(p)
	}
	if c.Datasets, err = stringSlice(cfg.Get("datasets")); err != nil {
		return fail("datasets", err)
	}
	if len(c.Datasets) == 0 {
		return fail("datasets", fmt.Errorf("no datasets selected"))
	}

	if c.SyncWindow, err = cast.ToDurationE(cfg.Get("sync.window")); err != nil {
		return fail("sync.window", err)
	}
	if c.RequestTimeout, err = cast.ToDurationE(cfg.Get("sync.timeout")); err != nil {
		return fail("sync.timeout", err)
	}
	retries, err := cast.ToIntE(cfg.Get("sync.max_retries"))
	if err != nil || retries < 0 {
		if err == nil {
			err = fmt.Errorf("negative value %d", retries)
		}
		return fail("sync.max_retries", err)
	}
	c.MaxRetries = uint64(retries)
	if c.MaxSteps, err = cast.ToIntE(cfg.Get("max_steps")); err != nil {
		return fail("max_steps", err)
	}

	level, err := cast.ToStringE(cfg.Get("log_level"))
	if err != nil {
		return fail("log_level", err)
	}
	if c.LogLevel, err = logrus.ParseLevel(level); err != nil {
		return fail("log_level", err)
	}
	return c, nil
}

// stringSlice accepts a list or a comma separated string, which is how
// lists arrive from flags and environment variables.
func stringSlice(v interface{}) ([]string, error) {
	if s, ok := v.(string); ok {
		v = strings.Split(s, ",")
	}
	ss, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, err
	}
	var o []string
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			o = append(o, s)
		}
	}
	return o, nil
}

// setupLogging configures the standard logger. The returned function
// closes the log file, if any.
func setupLogging(c *Config) (func() error, error) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	})
	logrus.SetLevel(c.LogLevel)
	if c.LogFile == "" {
		logrus.SetOutput(os.Stderr)
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, civicgrid.E(civicgrid.IO, "civicutil: opening log file", c.LogFile, err)
	}
	logrus.SetOutput(f)
	return f.Close, nil
}
