package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrCapture    = errors.New("pipeline: screen capture failed")
	ErrExtraction = errors.New("pipeline: text extraction failed")
	ErrDispatch   = errors.New("pipeline: dispatch failed")
	// ErrNoTapPoint means coordinate tapping is on but no point is
	// configured for the resolved letter.
	ErrNoTapPoint = errors.New("pipeline: no tap point configured")
)

// StageError records which stage failed. Kind is one of the package
// sentinels (or mcq.ErrNotParsable); Err is the underlying cause.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	case errors.Is(e.Err, e.Kind):
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
	}
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageErr(stage Stage, kind, cause error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: cause}
}
