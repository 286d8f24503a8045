package orchestrator

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// Run states
const (
	StatePending     = "pending"
	StateRouting     = "routing"
	StateExecuting   = "executing"
	StateAggregating = "aggregating"
	StateDone        = "done"
	StateRejected    = "rejected"
)

// Run events
const (
	eventRoute     = "route"
	eventExecute   = "execute"
	eventAggregate = "aggregate"
	eventFinish    = "finish"
	eventReject    = "reject"
)

// runMachine tracks the lifecycle of one analysis run.
// Transitions outside the table below are programming errors.
type runMachine struct {
	fsm     *fsm.FSM
	session string
	history []string
}

func newRunMachine(session string) *runMachine {
	m := &runMachine{session: session, history: []string{StatePending}}
	m.fsm = fsm.NewFSM(
		StatePending,
		fsm.Events{
			{Name: eventRoute, Src: []string{StatePending}, Dst: StateRouting},
			{Name: eventExecute, Src: []string{StateRouting}, Dst: StateExecuting},
			{Name: eventAggregate, Src: []string{StateExecuting}, Dst: StateAggregating},
			{Name: eventFinish, Src: []string{StateAggregating}, Dst: StateDone},
			{Name: eventReject, Src: []string{StateRouting, StateExecuting}, Dst: StateRejected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.history = append(m.history, e.Dst)
			},
		},
	)
	return m
}

// fire applies event and returns an error naming the run on an illegal transition.
func (m *runMachine) fire(ctx context.Context, event string) error {
	if err := m.fsm.Event(ctx, event); err != nil {
		return fmt.Errorf("run %s: %s from %s: %w", m.session, event, m.fsm.Current(), err)
	}
	return nil
}

// Current returns the state the run is in.
func (m *runMachine) Current() string {
	return m.fsm.Current()
}

// History returns every state entered, starting with pending.
func (m *runMachine) History() []string {
	return append([]string(nil), m.history...)
}
