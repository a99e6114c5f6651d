package model

import (
	"fmt"
	"strings"
)

// OutcomeCounts is the per-outcome tally for a run's results.
type OutcomeCounts struct {
	Pass    int
	Fail    int
	Partial int
	NA      int
	Unset   int
}

// Total returns the snapshot size the counts were taken over.
func (c OutcomeCounts) Total() int {
	return c.Pass + c.Fail + c.Partial + c.NA + c.Unset
}

// ReportItem is one checklist line in a run report: the frozen criterion
// text with its recorded outcome and attachment.
type ReportItem struct {
	CriterionID int64
	Text        string
	Outcome     Outcome
	Attachment  string
}

// ReportSection groups report items under the section name frozen into the
// run's snapshot, in snapshot order.
type ReportSection struct {
	Name  string
	Items []ReportItem
}

// RunReport is the read-only projection of a finished-or-later run that the
// document-rendering collaborator consumes. Building it has no side effects.
type RunReport struct {
	App      App
	Run      ReviewRun
	Sections []ReportSection
	Counts   OutcomeCounts
}

// SuggestedFilename returns the report file name convention:
// UAT_Report_<app name>_<run ref>.pdf with spaces collapsed to underscores.
func (r RunReport) SuggestedFilename() string {
	name := strings.ReplaceAll(strings.TrimSpace(r.App.Name), " ", "_")
	return fmt.Sprintf("UAT_Report_%s_%s.pdf", name, r.Run.Ref)
}

// RunDetail is a run with its app and full snapshot joined to current
// results, grouped by section. It backs both the run view and the report.
type RunDetail struct {
	Run      ReviewRun
	App      App
	Sections []ReportSection
}
