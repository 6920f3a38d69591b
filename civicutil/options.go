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
	"strings"
	"time"

	"github.com/lnashier/viper"
	"github.com/mkrvjl/civicgrid/grid"
	"github.com/mkrvjl/civicgrid/pipeline"
	"github.com/mkrvjl/civicgrid/processor"
	"github.com/mkrvjl/civicgrid/remote"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	all := []*pflag.FlagSet{Root.PersistentFlags()}
	processing := []*pflag.FlagSet{runCmd.Flags(), gridCmd.Flags()}

	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   all,
		},
		{
			name: "data_dir",
			usage: `
              data_dir is the directory that relative descriptor file
              paths are resolved against.`,
			defaultVal: "data",
			flagsets:   all,
		},
		{
			name: "processed_root",
			usage: `
              processed_root is the directory holding one subdirectory per
              processing state (validated, loaded, transformed, aggregated).`,
			defaultVal: "data/processed",
			flagsets:   processing,
		},
		{
			name: "processed_file_template",
			usage: `
              processed_file_template names processed files. {dataset_name},
              {grid_distance} and {grid_units} are replaced.`,
			defaultVal: pipeline.DefaultFileTemplate,
			flagsets:   processing,
		},
		{
			name: "grid_path_template",
			usage: `
              grid_path_template is where grids are cached. {distance} and
              {units} are replaced.`,
			defaultVal: grid.DefaultTemplate,
			flagsets:   processing,
		},
		{
			name: "grid_distance",
			usage: `
              grid_distance is the edge length of grid cells in grid_units.`,
			shorthand:  "d",
			defaultVal: 500.0,
			flagsets:   processing,
		},
		{
			name: "grid_units",
			usage: `
              grid_units are the units of grid_distance: m, km, mi, nmi, ft,
              in, rad, deg, or raw for the units of the reference layer.`,
			shorthand:  "u",
			defaultVal: string(grid.Meters),
			flagsets:   processing,
		},
		{
			name: "grid_image",
			usage: `
              grid_image specifies whether to save a PNG rendering of a newly
              built grid next to it.`,
			defaultVal: true,
			flagsets:   processing,
		},
		{
			name: "grid_filter_first_layer",
			usage: `
              grid_filter_first_layer specifies whether to remove cells that
              do not intersect the boundaries layer.`,
			defaultVal: true,
			flagsets:   processing,
		},
		{
			name: "descriptors.boundaries",
			usage: `
              descriptors.boundaries is the descriptor file of the city
              boundaries, which the grid covers.`,
			defaultVal: "limites.toml",
			flagsets:   all,
		},
		{
			name: "descriptors.census",
			usage: `
              descriptors.census is the descriptor file of an optional
              second layer. Cells that do not intersect it are removed.`,
			defaultVal: "",
			flagsets:   all,
		},
		{
			name: "descriptors.crime",
			usage: `
              descriptors.crime is the descriptor file of the crime records.`,
			defaultVal: "actes-criminels.toml",
			flagsets:   all,
		},
		{
			name: "descriptors.fire_incidents",
			usage: `
              descriptors.fire_incidents is the descriptor file of the fire
              department interventions.`,
			defaultVal: "interventions.toml",
			flagsets:   all,
		},
		{
			name: "descriptors.property_assessment",
			usage: `
              descriptors.property_assessment is the descriptor file of the
              property assessment units.`,
			defaultVal: "uniteevaluationfonciere.toml",
			flagsets:   all,
		},
		{
			name: "descriptors.tax_rolls",
			usage: `
              descriptors.tax_rolls are the descriptor files of the tax rolls.`,
			defaultVal: []string{"roles-taxation.toml"},
			flagsets:   all,
		},
		{
			name: "datasets",
			usage: `
              datasets are the datasets to process.`,
			defaultVal: []string{GridDataset, PropertyAssessmentDataset, TaxRollDataset,
				CrimeDataset, FireIncidentsDataset},
			flagsets: all,
		},
		{
			name: "sync.window",
			usage: `
              sync.window is how long a downloaded file is used before the
              remote copy is checked again.`,
			defaultVal: remote.DefaultWindow,
			flagsets:   all,
		},
		{
			name: "sync.user_agent",
			usage: `
              sync.user_agent is the User-Agent header of download requests.`,
			defaultVal: remote.DefaultUserAgent,
			flagsets:   all,
		},
		{
			name: "sync.max_retries",
			usage: `
              sync.max_retries is how many times a failed download is retried.`,
			defaultVal: 0,
			flagsets:   all,
		},
		{
			name: "sync.timeout",
			usage: `
              sync.timeout limits the duration of a single download.`,
			defaultVal: 10 * time.Minute,
			flagsets:   all,
		},
		{
			name: "taxroll.filter",
			usage: `
              taxroll.filter is an expression over tax roll columns selecting
              the records to keep, for example
              "CODE_DESCR_LONGUE == 'E00' && ANNEE_EXERCICE >= 2022".`,
			defaultVal: processor.DefaultTaxRollFilter,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "export_xlsx",
			usage: `
              export_xlsx specifies whether to also save processed tables as
              Excel workbooks.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "max_steps",
			usage: `
              max_steps limits the number of stage attempts per dataset.
              Zero means no limit.`,
			defaultVal: 0,
			flagsets:   processing,
		},
		{
			name: "log_level",
			usage: `
              log_level is one of panic, fatal, error, warn, info, debug.`,
			defaultVal: "info",
			flagsets:   all,
		},
		{
			name: "log_file",
			usage: `
              log_file is a file that log messages are appended to instead of
              being written to standard error.`,
			defaultVal: "",
			flagsets:   all,
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("CIVICGRID")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, v, option.usage)
			case time.Duration:
				set.DurationP(option.name, option.shorthand, v, option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}
