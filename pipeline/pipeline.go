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
	"errors"
	"fmt"
	"strings"

	"github.com/mkrvjl/civicgrid"
	"github.com/sirupsen/logrus"
)

// Pipeline runs a list of processors one after another through a
// shared Machine.
type Pipeline struct {
	Machine *Machine
	Log     logrus.FieldLogger

	processors []Processor
}

// New returns a pipeline that will run processors with m. If m is nil
// a standard machine is used.
func New(m *Machine, processors ...Processor) *Pipeline {
	if m == nil {
		m = NewMachine()
	}
	return &Pipeline{Machine: m, processors: processors}
}

// Add appends processors to the pipeline.
func (pl *Pipeline) Add(processors ...Processor) {
	pl.processors = append(pl.processors, processors...)
}

func (pl *Pipeline) log() logrus.FieldLogger {
	if pl.Log == nil {
		return logrus.StandardLogger()
	}
	return pl.Log
}

// Order returns the processors sorted so that every processor comes
// after the processors it depends on. Otherwise the order in which they
// were added is kept.
func (pl *Pipeline) Order() ([]Processor, error) {
	const op = "pipeline: ordering processors"
	byName := make(map[string]Processor, len(pl.processors))
	for _, p := range pl.processors {
		if _, ok := byName[p.DatasetName()]; ok {
			return nil, civicgrid.Errorf(civicgrid.Configuration, op, p.DatasetName(), "duplicate dataset name")
		}
		byName[p.DatasetName()] = p
	}
	for _, p := range pl.processors {
		for _, d := range dependencies(p) {
			if _, ok := byName[d]; !ok {
				return nil, civicgrid.Errorf(civicgrid.Configuration, op, p.DatasetName(),
					"depends on unknown dataset %q", d)
			}
		}
	}
	placed := make(map[string]bool, len(pl.processors))
	order := make([]Processor, 0, len(pl.processors))
	for len(order) < len(pl.processors) {
		progress := false
		for _, p := range pl.processors {
			if placed[p.DatasetName()] || !ready(p, placed) {
				continue
			}
			placed[p.DatasetName()] = true
			order = append(order, p)
			progress = true
			break
		}
		if !progress {
			var left []string
			for _, p := range pl.processors {
				if !placed[p.DatasetName()] {
					left = append(left, p.DatasetName())
				}
			}
			return nil, civicgrid.Errorf(civicgrid.Configuration, op, strings.Join(left, ","),
				"dependency cycle")
		}
	}
	return order, nil
}

func dependencies(p Processor) []string {
	if d, ok := p.(Dependent); ok {
		return d.DependsOn()
	}
	return nil
}

func ready(p Processor, placed map[string]bool) bool {
	for _, d := range dependencies(p) {
		if !placed[d] {
			return false
		}
	}
	return true
}

// Failure records a processor that did not complete.
type Failure struct {
	Dataset string
	State   State
	Err     error
}

// RunError lists the processors that failed during a run.
type RunError struct {
	Failures []Failure
	Total    int
}

func (e *RunError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = fmt.Sprintf("%s (%v): %v", f.Dataset, f.State, f.Err)
	}
	return fmt.Sprintf("pipeline: %d of %d processors failed: %s",
		len(e.Failures), e.Total, strings.Join(msgs, "; "))
}

// Run drives every processor to completion in dependency order. A
// processor that fails, for any reason including an exhausted step
// budget, is logged and skipped along with the processors that depend
// on it, and the rest keep running. Only an invalid processor order or
// a state missing from the machine's table stops the run. Files already
// written by a failed processor are left in place.
func (pl *Pipeline) Run(ctx context.Context) error {
	order, err := pl.Order()
	if err != nil {
		return err
	}
	failed := make(map[string]bool)
	runErr := &RunError{Total: len(order)}
	for _, p := range order {
		name := p.DatasetName()
		log := pl.log().WithField("dataset", name)
		if dep := failedDependency(p, failed); dep != "" {
			err := civicgrid.Errorf(civicgrid.DataIntegrity, "pipeline: running", name,
				"dependency %s failed", dep)
			log.WithError(err).Warn("skipping processor")
			failed[name] = true
			runErr.Failures = append(runErr.Failures, Failure{Dataset: name, State: Validation, Err: err})
			continue
		}
		log.Info("starting processor")
		pl.Machine.Reset()
		if err := pl.Machine.Run(ctx, p); err != nil {
			state := pl.Machine.State()
			if errors.Is(err, ErrUnknownState) {
				return err
			}
			log.WithError(err).WithField("state", state).Warn("processor failed")
			failed[name] = true
			runErr.Failures = append(runErr.Failures, Failure{Dataset: name, State: state, Err: err})
			continue
		}
		log.Info("processor completed")
	}
	if len(runErr.Failures) > 0 {
		return runErr
	}
	return nil
}

func failedDependency(p Processor, failed map[string]bool) string {
	for _, d := range dependencies(p) {
		if failed[d] {
			return d
		}
	}
	return ""
}
