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

	"github.com/mkrvjl/civicgrid"
	"github.com/sirupsen/logrus"
)

// ErrNotDone is returned by a stage that did not fail but is not ready
// to advance. The machine stays in the same state.
var ErrNotDone = errors.New("pipeline: stage not done")

// ErrUnknownState is the cause of the error returned by Step when the
// current state has no entry in the table.
var ErrUnknownState = errors.New("unknown state")

// Handler runs the capability of p that belongs to a state.
type Handler func(ctx context.Context, p Processor) error

// Transition is an entry of the state table: Handler is run in State,
// and the machine moves to Next when it succeeds.
type Transition struct {
	State, Next State
	Handler     Handler
}

// Machine advances processors through a table of states. A machine
// can be reused for several processors by calling Reset between runs.
type Machine struct {
	// MaxSteps, if positive, is the number of handler calls after which
	// Run gives up on a processor that has not reached Completed.
	MaxSteps int

	Log logrus.FieldLogger

	table       []Transition
	current     State
	steps       int
	transitions int
}

// NewMachine returns a machine holding the standard state table.
func NewMachine() *Machine {
	m := new(Machine)
	for _, t := range []Transition{
		{State: Validation, Next: Loading, Handler: func(ctx context.Context, p Processor) error { return p.Validate(ctx) }},
		{State: Loading, Next: Transformation, Handler: func(ctx context.Context, p Processor) error { return p.Load(ctx) }},
		{State: Transformation, Next: Aggregation, Handler: func(ctx context.Context, p Processor) error { return p.Transform(ctx) }},
		{State: Aggregation, Next: Completed, Handler: func(ctx context.Context, p Processor) error { return p.Aggregate(ctx) }},
	} {
		if err := m.Register(t); err != nil {
			panic(err)
		}
	}
	return m
}

// Register adds a transition to the table. A state may only be
// registered once, Completed may not be registered, and a state may
// not be its own successor.
func (m *Machine) Register(t Transition) error {
	const op = "pipeline: registering state"
	if t.State == Completed || t.State == t.Next || t.Handler == nil {
		return civicgrid.E(civicgrid.StateMachine, op, t.State.String(),
			fmt.Errorf("invalid transition to %v", t.Next))
	}
	if _, ok := m.lookup(t.State); ok {
		return civicgrid.E(civicgrid.StateMachine, op, t.State.String(),
			fmt.Errorf("state is already registered"))
	}
	m.table = append(m.table, t)
	return nil
}

func (m *Machine) lookup(s State) (Transition, bool) {
	for _, t := range m.table {
		if t.State == s {
			return t, true
		}
	}
	return Transition{}, false
}

// Reset returns the machine to Validation.
func (m *Machine) Reset() {
	m.current = Validation
	m.steps = 0
	m.transitions = 0
}

// State returns the current state.
func (m *Machine) State() State { return m.current }

// Transitions returns the number of state changes since the last Reset.
func (m *Machine) Transitions() int { return m.transitions }

func (m *Machine) log() logrus.FieldLogger {
	if m.Log == nil {
		return logrus.StandardLogger()
	}
	return m.Log
}

// Step runs the handler of the current state on p after pointing p at
// the working directory of the state. The machine advances if the
// handler succeeds and stays if it returns ErrNotDone; any other error
// is returned as is. Step does nothing once Completed is reached.
func (m *Machine) Step(ctx context.Context, p Processor) error {
	if m.current == Completed {
		return nil
	}
	t, ok := m.lookup(m.current)
	if !ok {
		return civicgrid.E(civicgrid.StateMachine, "pipeline: step", m.current.String(),
			ErrUnknownState)
	}
	if err := p.SetWorkingDir(t.State); err != nil {
		return err
	}
	m.steps++
	log := m.log().WithFields(logrus.Fields{"dataset": p.DatasetName(), "state": t.State})
	err := t.Handler(ctx, p)
	if errors.Is(err, ErrNotDone) {
		log.Debug("stage not done")
		return nil
	}
	if err != nil {
		return err
	}
	m.current = t.Next
	m.transitions++
	log.WithField("next", t.Next).Debug("stage done")
	return nil
}

// Run steps p until it reaches Completed.
func (m *Machine) Run(ctx context.Context, p Processor) error {
	for m.current != Completed {
		if m.MaxSteps > 0 && m.steps >= m.MaxSteps {
			return civicgrid.E(civicgrid.StateMachine, "pipeline: running "+p.DatasetName(), m.current.String(),
				fmt.Errorf("not completed after %d steps", m.steps))
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Step(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
