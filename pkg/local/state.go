package local

// State is the phase a run is in. A run moves through
// INIT, MAPPING, GROUPING, REDUCING, SORTING (only with a sort function),
// DRAINING and DONE. Cancellation jumps straight to DRAINING.
type State string

const (
	StateInit     State = "INIT"
	StateMapping  State = "MAPPING"
	StateGrouping State = "GROUPING"
	StateReducing State = "REDUCING"
	StateSorting  State = "SORTING"
	StateDraining State = "DRAINING"
	StateDone     State = "DONE"
)

// State returns the current state of the most recent run.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Transitions returns every state the most recent run has entered, in order.
func (e *Engine) Transitions() []State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]State(nil), e.transitions...)
}

func (e *Engine) resetState() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateInit
	e.transitions = []State{StateInit}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == s {
		return
	}
	e.state = s
	e.transitions = append(e.transitions, s)
	e.config.Logger.Debug("State changed", "state", s)
}
