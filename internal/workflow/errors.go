package workflow

import (
	"errors"
	"fmt"
)

// TransitionError reports a requested state change that is not in the
// allowed graph. The entity is left unmodified.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

// ValidationError reports malformed input, e.g. a rejection reason that is
// too short.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// UnknownStageError reports a pipeline stage name outside build/test/
// staging/production.
type UnknownStageError struct {
	Stage string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("unknown pipeline stage %q", e.Stage)
}

// PreconditionError reports an operation whose business precondition does
// not hold, e.g. rollback of a release that is not in production.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

var (
	// ErrAlreadyVoted guards double voting by the same voter id.
	ErrAlreadyVoted = errors.New("voter has already voted")
	// ErrNotVoted guards unvoting by a voter who never voted.
	ErrNotVoted = errors.New("voter has not voted")
)
