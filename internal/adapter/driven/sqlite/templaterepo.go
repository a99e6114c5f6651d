package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jcnich/App-UAT-Tool/internal/domain/model"
	"github.com/jcnich/App-UAT-Tool/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TemplateStore = (*TemplateRepo)(nil)

// TemplateRepo is the SQLite implementation of the TemplateStore port
// interface. Uniqueness invariants (section names case-insensitive, criterion
// text exact within a section) are checked inside each write transaction
// rather than as schema constraints.
type TemplateRepo struct {
	db *DB
}

// NewTemplateRepo creates a new TemplateRepo backed by the given DB.
func NewTemplateRepo(db *DB) *TemplateRepo {
	return &TemplateRepo{db: db}
}

// AddSection inserts a section at the end of the display order.
func (r *TemplateRepo) AddSection(ctx context.Context, name string) (model.Section, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.Section{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM sections WHERE name = ? COLLATE NOCASE`, name,
	).Scan(&exists)
	if err == nil {
		return model.Section{}, &model.ValidationError{Field: "name", Reason: fmt.Sprintf("section %q already exists", name)}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Section{}, fmt.Errorf("check section name %q: %w", name, err)
	}

	var order int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sort_order), -1) + 1 FROM sections`,
	).Scan(&order); err != nil {
		return model.Section{}, fmt.Errorf("next section order: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO sections (name, sort_order) VALUES (?, ?)`, name, order,
	)
	if err != nil {
		return model.Section{}, fmt.Errorf("insert section %q: %w", name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Section{}, fmt.Errorf("section insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Section{}, fmt.Errorf("commit section %q: %w", name, err)
	}

	return model.Section{ID: id, Name: name, SortOrder: order}, nil
}

// RenameSection updates a section's name, keeping the case-insensitive
// uniqueness invariant.
func (r *TemplateRepo) RenameSection(ctx context.Context, id int64, name string) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sections WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.NotFoundError{Kind: "section", ID: id}
	}
	if err != nil {
		return fmt.Errorf("check section %d: %w", id, err)
	}

	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM sections WHERE name = ? COLLATE NOCASE AND id != ?`, name, id,
	).Scan(&exists)
	if err == nil {
		return &model.ValidationError{Field: "name", Reason: fmt.Sprintf("section %q already exists", name)}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check section name %q: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sections SET name = ? WHERE id = ?`, name, id,
	); err != nil {
		return fmt.Errorf("rename section %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rename section %d: %w", id, err)
	}

	return nil
}

// RemoveSection deletes a section and all of its criteria. Criterion ids
// already snapshotted into runs stay valid through the runs' frozen copies.
func (r *TemplateRepo) RemoveSection(ctx context.Context, id int64) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sections WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.NotFoundError{Kind: "section", ID: id}
	}
	if err != nil {
		return fmt.Errorf("check section %d: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM criteria WHERE section_id = ?`, id); err != nil {
		return fmt.Errorf("delete criteria of section %d: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete section %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete section %d: %w", id, err)
	}

	return nil
}

// MoveSection swaps the section's sort order with its neighbour in the given
// direction. Moving past the edge is a no-op.
func (r *TemplateRepo) MoveSection(ctx context.Context, id int64, up bool) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var order int
	err = tx.QueryRowContext(ctx, `SELECT sort_order FROM sections WHERE id = ?`, id).Scan(&order)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.NotFoundError{Kind: "section", ID: id}
	}
	if err != nil {
		return fmt.Errorf("check section %d: %w", id, err)
	}

	var neighbourQuery string
	if up {
		neighbourQuery = `SELECT id, sort_order FROM sections WHERE sort_order < ? ORDER BY sort_order DESC, id DESC LIMIT 1`
	} else {
		neighbourQuery = `SELECT id, sort_order FROM sections WHERE sort_order > ? ORDER BY sort_order ASC, id ASC LIMIT 1`
	}

	var neighbourID int64
	var neighbourOrder int
	err = tx.QueryRowContext(ctx, neighbourQuery, order).Scan(&neighbourID, &neighbourOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil // already at the edge
	}
	if err != nil {
		return fmt.Errorf("find neighbour of section %d: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sections SET sort_order = ? WHERE id = ?`, neighbourOrder, id); err != nil {
		return fmt.Errorf("move section %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sections SET sort_order = ? WHERE id = ?`, order, neighbourID); err != nil {
		return fmt.Errorf("move section %d: %w", neighbourID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit move section %d: %w", id, err)
	}

	return nil
}

// AddCriterion appends a criterion at the end of its section's order,
// rejecting exact-text duplicates within the section.
func (r *TemplateRepo) AddCriterion(ctx context.Context, sectionID int64, text string) (model.Criterion, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.Criterion{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sections WHERE id = ?`, sectionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Criterion{}, &model.NotFoundError{Kind: "section", ID: sectionID}
	}
	if err != nil {
		return model.Criterion{}, fmt.Errorf("check section %d: %w", sectionID, err)
	}

	crit, err := insertCriterion(ctx, tx, sectionID, text)
	if err != nil {
		return model.Criterion{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.Criterion{}, fmt.Errorf("commit criterion: %w", err)
	}

	return crit, nil
}

// UpdateCriterionText changes a criterion's text in place, keeping the
// exact-text uniqueness invariant within its section.
func (r *TemplateRepo) UpdateCriterionText(ctx context.Context, id int64, text string) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var sectionID int64
	err = tx.QueryRowContext(ctx, `SELECT section_id FROM criteria WHERE id = ?`, id).Scan(&sectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.NotFoundError{Kind: "criterion", ID: id}
	}
	if err != nil {
		return fmt.Errorf("check criterion %d: %w", id, err)
	}

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM criteria WHERE section_id = ? AND text = ? AND id != ?`, sectionID, text, id,
	).Scan(&exists)
	if err == nil {
		return &model.ValidationError{Field: "text", Reason: "identical criterion already exists in this section"}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check criterion text: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE criteria SET text = ? WHERE id = ?`, text, id); err != nil {
		return fmt.Errorf("update criterion %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update criterion %d: %w", id, err)
	}

	return nil
}

// RemoveCriteria deletes the given criteria from the live template.
func (r *TemplateRepo) RemoveCriteria(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf(`DELETE FROM criteria WHERE id IN (%s)`, placeholders)
	if _, err := r.db.Writer.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete criteria: %w", err)
	}

	return nil
}

// MoveCriterion swaps the criterion's sort order with its neighbour within
// the same section. Ties on sort_order break by id, matching display order.
func (r *TemplateRepo) MoveCriterion(ctx context.Context, id int64, up bool) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var sectionID int64
	var order int
	err = tx.QueryRowContext(ctx, `SELECT section_id, sort_order FROM criteria WHERE id = ?`, id).Scan(&sectionID, &order)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.NotFoundError{Kind: "criterion", ID: id}
	}
	if err != nil {
		return fmt.Errorf("check criterion %d: %w", id, err)
	}

	var neighbourQuery string
	if up {
		neighbourQuery = `
			SELECT id, sort_order FROM criteria
			WHERE section_id = ? AND (sort_order < ? OR (sort_order = ? AND id < ?))
			ORDER BY sort_order DESC, id DESC LIMIT 1`
	} else {
		neighbourQuery = `
			SELECT id, sort_order FROM criteria
			WHERE section_id = ? AND (sort_order > ? OR (sort_order = ? AND id > ?))
			ORDER BY sort_order ASC, id ASC LIMIT 1`
	}

	var neighbourID int64
	var neighbourOrder int
	err = tx.QueryRowContext(ctx, neighbourQuery, sectionID, order, order, id).Scan(&neighbourID, &neighbourOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find neighbour of criterion %d: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE criteria SET sort_order = ? WHERE id = ?`, neighbourOrder, id); err != nil {
		return fmt.Errorf("move criterion %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE criteria SET sort_order = ? WHERE id = ?`, order, neighbourID); err != nil {
		return fmt.Errorf("move criterion %d: %w", neighbourID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit move criterion %d: %w", id, err)
	}

	return nil
}

// ImportRow merges one CSV row: find-or-create the section by exact name,
// then append the criterion unless identical text already exists in the
// section. One transaction per row; earlier rows of the same batch are
// visible to the duplicate check because they are already committed.
func (r *TemplateRepo) ImportRow(ctx context.Context, sectionName, text string) (driven.ImportRowResult, error) {
	var result driven.ImportRowResult

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var sectionID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM sections WHERE name = ?`, sectionName).Scan(&sectionID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		var order int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sort_order), -1) + 1 FROM sections`,
		).Scan(&order); err != nil {
			return result, fmt.Errorf("next section order: %w", err)
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO sections (name, sort_order) VALUES (?, ?)`, sectionName, order)
		if err != nil {
			return result, fmt.Errorf("create section %q: %w", sectionName, err)
		}
		sectionID, err = res.LastInsertId()
		if err != nil {
			return result, fmt.Errorf("section insert id: %w", err)
		}
		result.SectionCreated = true
	case err != nil:
		return result, fmt.Errorf("find section %q: %w", sectionName, err)
	}

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM criteria WHERE section_id = ? AND text = ?`, sectionID, text,
	).Scan(&exists)
	if err == nil {
		result.Duplicate = true
		if err := tx.Commit(); err != nil {
			return result, fmt.Errorf("commit import row: %w", err)
		}
		return result, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return result, fmt.Errorf("check criterion text: %w", err)
	}

	if _, err := insertCriterion(ctx, tx, sectionID, text); err != nil {
		return result, err
	}
	result.Added = true

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit import row: %w", err)
	}

	return result, nil
}

// Template returns all sections with their criteria in display order.
func (r *TemplateRepo) Template(ctx context.Context) ([]model.TemplateSection, error) {
	const sectionQuery = `SELECT id, name, sort_order FROM sections ORDER BY sort_order, id`

	rows, err := r.db.Reader.QueryContext(ctx, sectionQuery)
	if err != nil {
		return nil, fmt.Errorf("query sections: %w", err)
	}
	defer rows.Close()

	var sections []model.TemplateSection
	index := make(map[int64]int)
	for rows.Next() {
		var sec model.Section
		if err := rows.Scan(&sec.ID, &sec.Name, &sec.SortOrder); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		index[sec.ID] = len(sections)
		sections = append(sections, model.TemplateSection{Section: sec, Criteria: []model.Criterion{}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}

	const criteriaQuery = `SELECT id, section_id, text, sort_order FROM criteria ORDER BY sort_order, id`

	crows, err := r.db.Reader.QueryContext(ctx, criteriaQuery)
	if err != nil {
		return nil, fmt.Errorf("query criteria: %w", err)
	}
	defer crows.Close()

	for crows.Next() {
		var crit model.Criterion
		if err := crows.Scan(&crit.ID, &crit.SectionID, &crit.Text, &crit.SortOrder); err != nil {
			return nil, fmt.Errorf("scan criterion: %w", err)
		}
		if i, ok := index[crit.SectionID]; ok {
			sections[i].Criteria = append(sections[i].Criteria, crit)
		}
	}
	if err := crows.Err(); err != nil {
		return nil, fmt.Errorf("iterate criteria: %w", err)
	}

	return sections, nil
}

// Snapshot returns the current criteria as frozen snapshot items ordered by
// (section order, criterion order), optionally restricted to the given
// sections.
func (r *TemplateRepo) Snapshot(ctx context.Context, sectionIDs []int64) ([]model.SnapshotItem, error) {
	query := `
		SELECT c.id, s.name, c.text
		FROM criteria c
		JOIN sections s ON s.id = c.section_id`
	var args []any

	if len(sectionIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sectionIDs)), ",")
		query += fmt.Sprintf(` WHERE c.section_id IN (%s)`, placeholders)
		for _, id := range sectionIDs {
			args = append(args, id)
		}
	}

	query += ` ORDER BY s.sort_order, s.id, c.sort_order, c.id`

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	var items []model.SnapshotItem
	for rows.Next() {
		var item model.SnapshotItem
		if err := rows.Scan(&item.CriterionID, &item.SectionName, &item.Text); err != nil {
			return nil, fmt.Errorf("scan snapshot item: %w", err)
		}
		item.Position = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot: %w", err)
	}

	return items, nil
}

// insertCriterion appends a criterion at the end of the section's order
// within an open transaction, enforcing exact-text uniqueness in the section.
func insertCriterion(ctx context.Context, tx *sql.Tx, sectionID int64, text string) (model.Criterion, error) {
	var exists int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM criteria WHERE section_id = ? AND text = ?`, sectionID, text,
	).Scan(&exists)
	if err == nil {
		return model.Criterion{}, &model.ValidationError{Field: "text", Reason: "identical criterion already exists in this section"}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Criterion{}, fmt.Errorf("check criterion text: %w", err)
	}

	var order int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sort_order), -1) + 1 FROM criteria WHERE section_id = ?`, sectionID,
	).Scan(&order); err != nil {
		return model.Criterion{}, fmt.Errorf("next criterion order: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO criteria (section_id, text, sort_order) VALUES (?, ?, ?)`, sectionID, text, order,
	)
	if err != nil {
		return model.Criterion{}, fmt.Errorf("insert criterion: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Criterion{}, fmt.Errorf("criterion insert id: %w", err)
	}

	return model.Criterion{ID: id, SectionID: sectionID, Text: text, SortOrder: order}, nil
}
