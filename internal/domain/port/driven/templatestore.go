// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"

	"github.com/jcnich/App-UAT-Tool/internal/domain/model"
)

// ImportRowResult is the per-row outcome of a CSV import merge.
// Exactly one of Added and Duplicate is true for a row that reached the
// store; SectionCreated may accompany Added.
type ImportRowResult struct {
	SectionCreated bool
	Added          bool
	Duplicate      bool
}

// TemplateStore defines the driven port for the checklist template: sections
// and criteria with stable display ordering. Implementations must enforce
// the uniqueness invariants atomically inside the mutating call:
// section names are unique case-insensitively, criterion text is unique
// case-sensitively within its section. Violations surface as
// *model.ValidationError; missing ids as *model.NotFoundError.
type TemplateStore interface {
	// AddSection appends a section with order = current max + 1.
	AddSection(ctx context.Context, name string) (model.Section, error)
	RenameSection(ctx context.Context, id int64, name string) error
	// RemoveSection deletes the section and cascades its criteria. Snapshots
	// already taken into runs are copies and are not touched.
	RemoveSection(ctx context.Context, id int64) error
	// MoveSection swaps display order with the neighbouring section.
	MoveSection(ctx context.Context, id int64, up bool) error

	// AddCriterion appends a criterion at the end of its section's order.
	AddCriterion(ctx context.Context, sectionID int64, text string) (model.Criterion, error)
	UpdateCriterionText(ctx context.Context, id int64, text string) error
	RemoveCriteria(ctx context.Context, ids []int64) error
	// MoveCriterion swaps display order with the neighbouring criterion
	// within the same section.
	MoveCriterion(ctx context.Context, id int64, up bool) error

	// ImportRow merges one (section name, criterion text) pair into the
	// template in a single transaction: find-or-create the section by exact
	// name, then append the criterion unless identical text already exists
	// in that section.
	ImportRow(ctx context.Context, sectionName, text string) (ImportRowResult, error)

	// Template returns all sections with their criteria in display order.
	Template(ctx context.Context) ([]model.TemplateSection, error)

	// Snapshot returns the current criteria as frozen snapshot items ordered
	// by (section order, criterion order). A nil or empty sectionIDs filter
	// means the full template.
	Snapshot(ctx context.Context, sectionIDs []int64) ([]model.SnapshotItem, error)
}
