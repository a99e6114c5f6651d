package model

// Outcome is the recorded result for one criterion within one run.
// The zero value means the criterion has not been answered yet.
type Outcome string

const (
	OutcomeUnset   Outcome = ""
	OutcomePass    Outcome = "Pass"
	OutcomeFail    Outcome = "Fail"
	OutcomePartial Outcome = "Partial"
	OutcomeNA      Outcome = "NA"
)

// IsValidOutcome reports whether o is a recordable outcome. Unset is not
// recordable; clearing an answer is not an operation the workflow offers.
func IsValidOutcome(o Outcome) bool {
	switch o {
	case OutcomePass, OutcomeFail, OutcomePartial, OutcomeNA:
		return true
	}
	return false
}

// SnapshotItem is one frozen checklist entry captured into a run at creation
// time. Section name and criterion text are copied, not referenced, so the
// run keeps the wording it was reviewed against even after template edits
// or deletions.
type SnapshotItem struct {
	CriterionID int64
	SectionName string
	Text        string
	Position    int // Global display position within the run.
}

// ResultEntry is the outcome record for one snapshot criterion in one run.
// There is exactly one entry per (run, criterion) pair.
type ResultEntry struct {
	RunID       int64
	CriterionID int64
	Outcome     Outcome
	Attachment  string // Optional evidence reference or note.
}

// ResultUpdate is one (criterion, outcome, attachment) change in a progress
// save batch.
type ResultUpdate struct {
	CriterionID int64
	Outcome     Outcome
	Attachment  string
}
