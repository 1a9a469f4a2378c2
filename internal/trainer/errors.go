package trainer

import (
	"errors"
	"fmt"
)

// Sentinel kinds for orchestration failures.
var (
	ErrTraining   = errors.New("training failed")
	ErrEvaluation = errors.New("evaluation failed")
)

// TrainingError wraps a toolkit or I/O failure during a training run. The
// run metadata is always finalized before this error surfaces; retrying is
// the caller's decision.
type TrainingError struct {
	RunID string
	Err   error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("%s: run %s: %v", ErrTraining, e.RunID, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

func (e *TrainingError) Is(target error) bool { return target == ErrTraining }

// EvaluationError wraps a failure during an evaluation run, including
// checkpoint/config incompatibilities detected before any inference.
type EvaluationError struct {
	RunID string
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%s: run %s: %v", ErrEvaluation, e.RunID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func (e *EvaluationError) Is(target error) bool { return target == ErrEvaluation }
