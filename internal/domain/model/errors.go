package model

import "fmt"

// ValidationError reports input that breaks a template or run invariant:
// empty names, duplicate section names, duplicate criterion text, writes to
// a frozen run.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NotFoundError reports a missing app, section, criterion, or run.
type NotFoundError struct {
	Kind string // "app", "section", "criterion", "run".
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// InvalidTransitionError reports an illegal workflow move. It names both the
// current and the requested status so the caller can see exactly which rule
// was violated.
type InvalidTransitionError struct {
	From RunStatus
	To   RunStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// IncompleteRunError reports a finish attempt while snapshot criteria are
// still unanswered under the strict completion policy.
type IncompleteRunError struct {
	RunID      int64
	Unanswered int
}

func (e *IncompleteRunError) Error() string {
	return fmt.Sprintf("run %d has %d unanswered criteria", e.RunID, e.Unanswered)
}
