// Package application contains the use-case services that enforce the
// review-workflow business rules over the store ports.
package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jcnich/App-UAT-Tool/internal/domain/model"
	"github.com/jcnich/App-UAT-Tool/internal/domain/port/driven"
)

// ImportRow is one (section name, criterion text) pair handed over by the
// CSV-import collaborator, tagged with its 1-based data row number.
type ImportRow struct {
	Line        int
	SectionName string
	Text        string
}

// RowError records why a single import row was rejected.
type RowError struct {
	Line   int
	Reason string
}

// ImportSummary is the per-batch outcome of a CSV import. Row-level problems
// are collected here instead of aborting the batch; partial success is the
// documented contract.
type ImportSummary struct {
	BatchID           string
	SectionsCreated   int
	CriteriaAdded     int
	DuplicatesSkipped int
	Rejected          []RowError
}

// TemplateService manages the mutable checklist template: sections, criteria,
// ordering, and bulk CSV import. Historical review runs are unaffected by any
// of these operations because runs hold frozen snapshot copies.
type TemplateService struct {
	store  driven.TemplateStore
	logger *slog.Logger
}

// NewTemplateService creates a TemplateService with the required dependencies.
func NewTemplateService(store driven.TemplateStore, logger *slog.Logger) *TemplateService {
	return &TemplateService{store: store, logger: logger}
}

// Template returns the current sections with their criteria in display order.
func (s *TemplateService) Template(ctx context.Context) ([]model.TemplateSection, error) {
	return s.store.Template(ctx)
}

// AddSection creates a section at the end of the display order.
func (s *TemplateService) AddSection(ctx context.Context, name string) (model.Section, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Section{}, &model.ValidationError{Field: "name", Reason: "section name must not be empty"}
	}

	sec, err := s.store.AddSection(ctx, name)
	if err != nil {
		return model.Section{}, err
	}

	s.logger.Info("section added", "section_id", sec.ID, "name", sec.Name)
	return sec, nil
}

// RenameSection changes a section's name.
func (s *TemplateService) RenameSection(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &model.ValidationError{Field: "name", Reason: "section name must not be empty"}
	}
	return s.store.RenameSection(ctx, id, name)
}

// RemoveSection deletes a section and its criteria from the live template.
// Runs that snapshotted those criteria keep their frozen copies.
func (s *TemplateService) RemoveSection(ctx context.Context, id int64) error {
	if err := s.store.RemoveSection(ctx, id); err != nil {
		return err
	}
	s.logger.Info("section removed", "section_id", id)
	return nil
}

// MoveSection moves a section one step up or down in display order.
func (s *TemplateService) MoveSection(ctx context.Context, id int64, up bool) error {
	return s.store.MoveSection(ctx, id, up)
}

// AddCriterion appends one criterion to a section.
func (s *TemplateService) AddCriterion(ctx context.Context, sectionID int64, text string) (model.Criterion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Criterion{}, &model.ValidationError{Field: "text", Reason: "criterion text must not be empty"}
	}
	return s.store.AddCriterion(ctx, sectionID, text)
}

// AddCriteria appends one criterion per non-blank line of the pasted block,
// skipping lines whose text already exists in the section. Returns the number
// added and the number skipped as duplicates.
func (s *TemplateService) AddCriteria(ctx context.Context, sectionID int64, block string) (added, skipped int, err error) {
	for _, line := range strings.Split(block, "\n") {
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		if _, err := s.store.AddCriterion(ctx, sectionID, text); err != nil {
			var verr *model.ValidationError
			if errors.As(err, &verr) {
				skipped++
				continue
			}
			return added, skipped, err
		}
		added++
	}

	s.logger.Info("criteria pasted", "section_id", sectionID, "added", added, "skipped", skipped)
	return added, skipped, nil
}

// UpdateCriterionText edits a criterion's text in place.
func (s *TemplateService) UpdateCriterionText(ctx context.Context, id int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return &model.ValidationError{Field: "text", Reason: "criterion text must not be empty"}
	}
	return s.store.UpdateCriterionText(ctx, id, text)
}

// RemoveCriteria deletes the given criteria from the live template.
func (s *TemplateService) RemoveCriteria(ctx context.Context, ids []int64) error {
	return s.store.RemoveCriteria(ctx, ids)
}

// MoveCriterion moves a criterion one step up or down within its section.
func (s *TemplateService) MoveCriterion(ctx context.Context, id int64, up bool) error {
	return s.store.MoveCriterion(ctx, id, up)
}

// ImportCSV merges the rows into the template: sections are found or created
// by exact name, duplicate criterion text within a section is skipped, and
// malformed rows are rejected with their row number. Each row is its own
// transaction, so one bad row never aborts the batch; re-importing an
// identical file adds nothing.
func (s *TemplateService) ImportCSV(ctx context.Context, rows []ImportRow) (ImportSummary, error) {
	summary := ImportSummary{BatchID: uuid.NewString()}

	for _, row := range rows {
		sectionName := strings.TrimSpace(row.SectionName)
		text := strings.TrimSpace(row.Text)

		if sectionName == "" {
			summary.Rejected = append(summary.Rejected, RowError{Line: row.Line, Reason: "empty section name"})
			continue
		}
		if text == "" {
			summary.Rejected = append(summary.Rejected, RowError{Line: row.Line, Reason: "empty criteria text"})
			continue
		}

		result, err := s.store.ImportRow(ctx, sectionName, text)
		if err != nil {
			return summary, err
		}

		if result.SectionCreated {
			summary.SectionsCreated++
		}
		switch {
		case result.Added:
			summary.CriteriaAdded++
		case result.Duplicate:
			summary.DuplicatesSkipped++
		}
	}

	s.logger.Info("csv import complete",
		"batch_id", summary.BatchID,
		"rows", len(rows),
		"sections_created", summary.SectionsCreated,
		"criteria_added", summary.CriteriaAdded,
		"duplicates_skipped", summary.DuplicatesSkipped,
		"rejected", len(summary.Rejected),
	)

	return summary, nil
}
