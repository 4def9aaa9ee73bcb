package sales

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// State is a settlement lifecycle stage.
type State string

const (
	StateOpened    State = "opened"
	StatePriced    State = "priced"
	StateDepleted  State = "depleted"
	StateCommitted State = "committed"
	StateAborted   State = "aborted"
)

var transitions = map[State][]State{
	StateOpened:   {StatePriced, StateAborted},
	StatePriced:   {StateDepleted, StateAborted},
	StateDepleted: {StateCommitted, StateAborted},
}

func (s State) String() string {
	return string(s)
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// lifecycle tracks one settlement. reached is the last non-aborted state,
// used to label where an abort happened.
type lifecycle struct {
	state   State
	reached State
	span    trace.Span
}

func newLifecycle(span trace.Span) *lifecycle {
	l := &lifecycle{state: StateOpened, reached: StateOpened, span: span}
	l.record(StateOpened)
	return l
}

func (l *lifecycle) advance(next State) error {
	if !l.state.CanTransition(next) {
		return fmt.Errorf("settlement cannot move from %s to %s", l.state, next)
	}
	l.state = next
	if next != StateAborted {
		l.reached = next
	}
	l.record(next)
	return nil
}

// abort moves to Aborted unless the lifecycle already ended.
func (l *lifecycle) abort() {
	if l.state.Terminal() {
		return
	}
	_ = l.advance(StateAborted)
}

func (l *lifecycle) record(state State) {
	if l.span == nil {
		return
	}
	l.span.AddEvent("settlement."+state.String(), trace.WithAttributes(attribute.String("settlement.state", state.String())))
}
