package model

import "time"

// RunStatus represents where a review run sits in its workflow.
type RunStatus string

const (
	StatusDraft      RunStatus = "draft"
	StatusInProgress RunStatus = "in_progress"
	StatusFinished   RunStatus = "finished"
	StatusApproved   RunStatus = "approved"
	StatusRejected   RunStatus = "rejected"
	StatusArchived   RunStatus = "archived"
)

// validTransitions is the single source of truth for the workflow state
// machine. Every status change anywhere in the system goes through
// CanTransition; there is deliberately no other place that encodes what a
// legal move is. ARCHIVED has no successors. Re-review is not a transition,
// it creates a sibling run.
var validTransitions = map[RunStatus][]RunStatus{
	StatusDraft:      {StatusInProgress},
	StatusInProgress: {StatusFinished},
	StatusFinished:   {StatusApproved, StatusRejected},
	StatusApproved:   {StatusArchived},
	StatusRejected:   {StatusArchived},
	StatusArchived:   {},
}

// CanTransition reports whether moving from one status to another is a legal
// workflow step.
func CanTransition(from, to RunStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates returns the statuses reachable from the given status.
func NextStates(from RunStatus) []RunStatus {
	next := validTransitions[from]
	out := make([]RunStatus, len(next))
	copy(out, next)
	return out
}

// IsValidStatus reports whether s is one of the known run statuses.
func IsValidStatus(s RunStatus) bool {
	_, ok := validTransitions[s]
	return ok
}

// ResultsMutable reports whether result entries may still be changed. Results
// are only writable while a run is draft or in progress; finished and later
// states freeze them.
func (s RunStatus) ResultsMutable() bool {
	return s == StatusDraft || s == StatusInProgress
}

// ReviewRun is one complete pass through the checklist for a given app.
// Its criterion snapshot is fixed at creation and never changes, so later
// template edits cannot retroactively alter a historical run.
type ReviewRun struct {
	ID         int64
	Ref        string // Stable public reference (UUID), used in report filenames.
	AppID      int64
	Seq        int // Monotonic per app, starting at 1 ("Run 1", "Run 2").
	Status     RunStatus
	CreatedAt  time.Time
	FinishedAt *time.Time // Set when the run reaches finished.
}

// RunSummary is a run with the progress counts the overview list displays.
type RunSummary struct {
	ReviewRun
	AppName  string
	Answered int // Entries with an explicit outcome.
	Total    int // Snapshot size.
}

// CompletionPolicy decides what finish_run requires of a run's results.
type CompletionPolicy string

const (
	// PolicyStrict requires an explicit outcome on every snapshot criterion.
	PolicyStrict CompletionPolicy = "strict"
	// PolicyImplicitNA records NA for any still-unset entry at finish time.
	PolicyImplicitNA CompletionPolicy = "implicit-na"
)

// IsValidCompletionPolicy reports whether p is a known policy.
func IsValidCompletionPolicy(p CompletionPolicy) bool {
	return p == PolicyStrict || p == PolicyImplicitNA
}
