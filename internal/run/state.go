package run

import "fmt"

// State is the lifecycle state of one train or evaluate run.
type State string

const (
	StateConfigured State = "configured"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// allowedTransition is the validated transition table:
// Configured -> Running -> {Completed, Failed}, plus Configured -> Failed for
// failures caught before the toolkit is started.
func allowedTransition(from, to State) bool {
	switch from {
	case StateConfigured:
		return to == StateRunning || to == StateFailed
	case StateRunning:
		return to == StateCompleted || to == StateFailed
	default:
		return false
	}
}

// transition validates and applies a state change.
func (m *Metadata) transition(to State) error {
	if !allowedTransition(m.State, to) {
		return fmt.Errorf("run %s: disallowed transition %s -> %s", m.ID, m.State, to)
	}
	m.State = to
	return nil
}

// Mode distinguishes the two orchestrator operations.
type Mode string

const (
	ModeTrain    Mode = "train"
	ModeEvaluate Mode = "evaluate"
)
