package engine

import (
	"errors"
	"fmt"
	"time"
)

// Ref pins an error to the session and step it occurred in.
type Ref struct {
	SessionID  string
	ScenarioID string
	StepID     string
}

func (r Ref) String() string {
	return fmt.Sprintf("session=%s scenario=%s step=%s", r.SessionID, r.ScenarioID, r.StepID)
}

// StepError wraps a fatal failure inside a step handler. The session stays
// in its last persisted state; the wrapped error keeps its identity for
// errors.As checks (e.g. *expression.EvaluationError).
type StepError struct {
	Ref
	StepType string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q (%s) failed [%s]: %v", e.StepID, e.StepType, e.Ref, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// CollaboratorError marks a failed call to an external system (channel or
// document store) after the engine's own timeout and context handling.
type CollaboratorError struct {
	Ref
	System string
	Op     string
	Err    error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s failed [%s]: %v", e.System, e.Op, e.Ref, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// UnmatchedInputError is returned when a suspended session receives an event
// that does not satisfy its wait and the unmatched-input policy is "error".
type UnmatchedInputError struct {
	Ref
	Kind    EventKind
	Payload string
}

func (e *UnmatchedInputError) Error() string {
	return fmt.Sprintf("unmatched %s input [%s]", e.Kind, e.Ref)
}

// TimeoutExpiryError reports a suspended session whose deadline passed with
// no timeout route configured on the waiting step.
type TimeoutExpiryError struct {
	Ref
	Deadline time.Time
}

func (e *TimeoutExpiryError) Error() string {
	return fmt.Sprintf("input wait expired at %s with no timeout route [%s]",
		e.Deadline.Format(time.RFC3339), e.Ref)
}

// StepBudgetError reports a pass that exceeded the configured step budget.
// The session is frozen at the step it reached when the budget ran out.
type StepBudgetError struct {
	Ref
	Budget int
}

func (e *StepBudgetError) Error() string {
	return fmt.Sprintf("step budget %d exceeded [%s]", e.Budget, e.Ref)
}

// ErrNoBranchMatched is returned by branch steps when no condition holds and
// no default route exists.
var ErrNoBranchMatched = errors.New("no branch condition matched and no default route")
