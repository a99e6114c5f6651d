package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jcnich/App-UAT-Tool/internal/domain/model"
	"github.com/jcnich/App-UAT-Tool/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RunStore = (*RunRepo)(nil)

// RunRepo is the SQLite implementation of the RunStore port interface.
// Every mutating method runs one transaction on the single writer connection,
// so the status check and the write it guards can never interleave with
// another operation on the same run.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new RunRepo backed by the given DB.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// CreateRun inserts a draft run with the next per-app sequence number, stores
// the frozen snapshot, and seeds one unset result entry per criterion. When
// carryFromRunID is non-zero, outcomes and attachments are copied from that
// prior run for criteria present in both snapshots.
func (r *RunRepo) CreateRun(ctx context.Context, appID int64, snapshot []model.SnapshotItem, carryFromRunID int64) (model.ReviewRun, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.ReviewRun{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM apps WHERE id = ?`, appID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ReviewRun{}, &model.NotFoundError{Kind: "app", ID: appID}
	}
	if err != nil {
		return model.ReviewRun{}, fmt.Errorf("check app %d: %w", appID, err)
	}

	if carryFromRunID != 0 {
		var carryAppID int64
		err = tx.QueryRowContext(ctx, `SELECT app_id FROM runs WHERE id = ?`, carryFromRunID).Scan(&carryAppID)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ReviewRun{}, &model.NotFoundError{Kind: "run", ID: carryFromRunID}
		}
		if err != nil {
			return model.ReviewRun{}, fmt.Errorf("check carry-over run %d: %w", carryFromRunID, err)
		}
		if carryAppID != appID {
			return model.ReviewRun{}, &model.ValidationError{
				Field:  "carry_from_run_id",
				Reason: fmt.Sprintf("run %d belongs to a different app", carryFromRunID),
			}
		}
	}

	run := model.ReviewRun{
		Ref:       uuid.NewString(),
		AppID:     appID,
		Status:    model.StatusDraft,
		CreatedAt: time.Now().UTC(),
	}

	// Sequence numbers are monotonic per app; runs are never deleted, so the
	// count is stable.
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) + 1 FROM runs WHERE app_id = ?`, appID,
	).Scan(&run.Seq); err != nil {
		return model.ReviewRun{}, fmt.Errorf("next sequence number for app %d: %w", appID, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (ref, app_id, seq, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.Ref, run.AppID, run.Seq, string(run.Status), run.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return model.ReviewRun{}, fmt.Errorf("insert run for app %d: %w", appID, err)
	}

	run.ID, err = res.LastInsertId()
	if err != nil {
		return model.ReviewRun{}, fmt.Errorf("run insert id: %w", err)
	}

	const snapshotQuery = `
		INSERT INTO run_criteria (run_id, criterion_id, section_name, criterion_text, position)
		VALUES (?, ?, ?, ?, ?)
	`
	const resultQuery = `
		INSERT INTO run_results (run_id, criterion_id) VALUES (?, ?)
	`

	for _, item := range snapshot {
		if _, err := tx.ExecContext(ctx, snapshotQuery,
			run.ID, item.CriterionID, item.SectionName, item.Text, item.Position,
		); err != nil {
			return model.ReviewRun{}, fmt.Errorf("insert snapshot item %d: %w", item.CriterionID, err)
		}
		if _, err := tx.ExecContext(ctx, resultQuery, run.ID, item.CriterionID); err != nil {
			return model.ReviewRun{}, fmt.Errorf("seed result for criterion %d: %w", item.CriterionID, err)
		}
	}

	if carryFromRunID != 0 {
		const carryQuery = `
			UPDATE run_results SET
				outcome = (SELECT src.outcome FROM run_results src
					WHERE src.run_id = ? AND src.criterion_id = run_results.criterion_id),
				attachment = (SELECT src.attachment FROM run_results src
					WHERE src.run_id = ? AND src.criterion_id = run_results.criterion_id)
			WHERE run_id = ?
			  AND criterion_id IN (SELECT criterion_id FROM run_results WHERE run_id = ?)
		`
		if _, err := tx.ExecContext(ctx, carryQuery,
			carryFromRunID, carryFromRunID, run.ID, carryFromRunID,
		); err != nil {
			return model.ReviewRun{}, fmt.Errorf("carry over results from run %d: %w", carryFromRunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.ReviewRun{}, fmt.Errorf("commit run for app %d: %w", appID, err)
	}

	return run, nil
}

// GetRun returns the run with the given id, or (nil, nil) if it does not exist.
func (r *RunRepo) GetRun(ctx context.Context, id int64) (*model.ReviewRun, error) {
	const query = `
		SELECT id, ref, app_id, seq, status, created_at, finished_at
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", id, err)
	}

	return run, nil
}

// GetRunDetail returns the run with its app and the snapshot grouped by
// frozen section name in snapshot order, each item joined to its result.
func (r *RunRepo) GetRunDetail(ctx context.Context, id int64) (*model.RunDetail, error) {
	run, err := r.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}

	const appQuery = `
		SELECT id, name, external_id, owner_email, notes, created_at
		FROM apps
		WHERE id = ?
	`
	app, err := scanApp(r.db.Reader.QueryRowContext(ctx, appQuery, run.AppID))
	if err != nil {
		return nil, fmt.Errorf("get app %d for run %d: %w", run.AppID, id, err)
	}

	const itemQuery = `
		SELECT rc.criterion_id, rc.section_name, rc.criterion_text, rr.outcome, rr.attachment
		FROM run_criteria rc
		JOIN run_results rr ON rr.run_id = rc.run_id AND rr.criterion_id = rc.criterion_id
		WHERE rc.run_id = ?
		ORDER BY rc.position
	`

	rows, err := r.db.Reader.QueryContext(ctx, itemQuery, id)
	if err != nil {
		return nil, fmt.Errorf("query run %d items: %w", id, err)
	}
	defer rows.Close()

	detail := &model.RunDetail{Run: *run, App: *app}
	for rows.Next() {
		var item model.ReportItem
		var sectionName string
		var outcome sql.NullString

		if err := rows.Scan(&item.CriterionID, &sectionName, &item.Text, &outcome, &item.Attachment); err != nil {
			return nil, fmt.Errorf("scan run item: %w", err)
		}
		if outcome.Valid {
			item.Outcome = model.Outcome(outcome.String)
		}

		n := len(detail.Sections)
		if n == 0 || detail.Sections[n-1].Name != sectionName {
			detail.Sections = append(detail.Sections, model.ReportSection{Name: sectionName})
			n++
		}
		detail.Sections[n-1].Items = append(detail.Sections[n-1].Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run items: %w", err)
	}

	return detail, nil
}

// ListRuns returns run summaries with progress counts, newest first.
// archived=false is the Active view: every run whose status is not archived.
func (r *RunRepo) ListRuns(ctx context.Context, archived bool) ([]model.RunSummary, error) {
	cmp := "!="
	if archived {
		cmp = "="
	}

	query := fmt.Sprintf(`
		SELECT r.id, r.ref, r.app_id, r.seq, r.status, r.created_at, r.finished_at, a.name,
		       (SELECT COUNT(*) FROM run_results rr WHERE rr.run_id = r.id AND rr.outcome IS NOT NULL) AS answered,
		       (SELECT COUNT(*) FROM run_results rr WHERE rr.run_id = r.id) AS total
		FROM runs r
		JOIN apps a ON a.id = r.app_id
		WHERE r.status %s ?
		ORDER BY r.created_at DESC, r.id DESC
	`, cmp)

	rows, err := r.db.Reader.QueryContext(ctx, query, string(model.StatusArchived))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var summaries []model.RunSummary
	for rows.Next() {
		var s model.RunSummary
		var status string
		var createdAt string
		var finishedAt sql.NullString

		if err := rows.Scan(&s.ID, &s.Ref, &s.AppID, &s.Seq, &status, &createdAt, &finishedAt,
			&s.AppName, &s.Answered, &s.Total); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}

		s.Status = model.RunStatus(status)
		s.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if finishedAt.Valid {
			t, err := parseTime(finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at: %w", err)
			}
			s.FinishedAt = &t
		}

		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return summaries, nil
}

// ListRunsByApp returns the app's runs ordered by sequence number.
func (r *RunRepo) ListRunsByApp(ctx context.Context, appID int64) ([]model.ReviewRun, error) {
	const query = `
		SELECT id, ref, app_id, seq, status, created_at, finished_at
		FROM runs
		WHERE app_id = ?
		ORDER BY seq
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("query runs for app %d: %w", appID, err)
	}
	defer rows.Close()

	var runs []model.ReviewRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// SetResult upserts one result entry after checking the run is still
// writable and the criterion belongs to the run's snapshot. The first result
// on a draft run moves it to in progress.
func (r *RunRepo) SetResult(ctx context.Context, runID, criterionID int64, outcome model.Outcome, attachment string) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	status, err := lockRunForResults(ctx, tx, runID)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE run_results SET outcome = ?, attachment = ? WHERE run_id = ? AND criterion_id = ?`,
		string(outcome), attachment, runID, criterionID,
	)
	if err != nil {
		return fmt.Errorf("set result for run %d criterion %d: %w", runID, criterionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set result rows affected: %w", err)
	}
	if affected == 0 {
		return &model.NotFoundError{Kind: "criterion", ID: criterionID}
	}

	if err := markInProgress(ctx, tx, runID, status); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit result for run %d: %w", runID, err)
	}

	return nil
}

// SaveProgress applies a batch of result updates and performs the
// draft -> in progress transition, even when the batch is empty. Updates
// with an unset outcome change only the attachment.
func (r *RunRepo) SaveProgress(ctx context.Context, runID int64, updates []model.ResultUpdate) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	status, err := lockRunForResults(ctx, tx, runID)
	if err != nil {
		return err
	}

	for _, u := range updates {
		var res sql.Result
		if u.Outcome == model.OutcomeUnset {
			res, err = tx.ExecContext(ctx,
				`UPDATE run_results SET attachment = ? WHERE run_id = ? AND criterion_id = ?`,
				u.Attachment, runID, u.CriterionID,
			)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE run_results SET outcome = ?, attachment = ? WHERE run_id = ? AND criterion_id = ?`,
				string(u.Outcome), u.Attachment, runID, u.CriterionID,
			)
		}
		if err != nil {
			return fmt.Errorf("save result for run %d criterion %d: %w", runID, u.CriterionID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("save result rows affected: %w", err)
		}
		if affected == 0 {
			return &model.NotFoundError{Kind: "criterion", ID: u.CriterionID}
		}
	}

	if err := markInProgress(ctx, tx, runID, status); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit progress for run %d: %w", runID, err)
	}

	return nil
}

// FinishRun moves an in-progress run to finished after the completeness
// check, all inside one transaction.
func (r *RunRepo) FinishRun(ctx context.Context, runID int64, policy model.CompletionPolicy) (*model.ReviewRun, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	run, err := scanRun(tx.QueryRowContext(ctx,
		`SELECT id, ref, app_id, seq, status, created_at, finished_at FROM runs WHERE id = ?`, runID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "run", ID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", runID, err)
	}

	if !model.CanTransition(run.Status, model.StatusFinished) {
		return nil, &model.InvalidTransitionError{From: run.Status, To: model.StatusFinished}
	}

	var unanswered int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM run_results WHERE run_id = ? AND outcome IS NULL`, runID,
	).Scan(&unanswered); err != nil {
		return nil, fmt.Errorf("count unanswered for run %d: %w", runID, err)
	}

	if unanswered > 0 {
		switch policy {
		case model.PolicyImplicitNA:
			if _, err := tx.ExecContext(ctx,
				`UPDATE run_results SET outcome = ? WHERE run_id = ? AND outcome IS NULL`,
				string(model.OutcomeNA), runID,
			); err != nil {
				return nil, fmt.Errorf("fill NA for run %d: %w", runID, err)
			}
		default:
			return nil, &model.IncompleteRunError{RunID: runID, Unanswered: unanswered}
		}
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		string(model.StatusFinished), now.Format(time.RFC3339), runID,
	); err != nil {
		return nil, fmt.Errorf("finish run %d: %w", runID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finish run %d: %w", runID, err)
	}

	run.Status = model.StatusFinished
	run.FinishedAt = &now
	return run, nil
}

// TransitionStatus applies one workflow step (approve, reject, archive) after
// checking it against the central transition table. Finishing goes through
// FinishRun, which also owns the completeness check.
func (r *RunRepo) TransitionStatus(ctx context.Context, runID int64, to model.RunStatus) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var statusStr string
	err = tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, runID).Scan(&statusStr)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.NotFoundError{Kind: "run", ID: runID}
	}
	if err != nil {
		return fmt.Errorf("get run %d status: %w", runID, err)
	}

	from := model.RunStatus(statusStr)
	if !model.CanTransition(from, to) {
		return &model.InvalidTransitionError{From: from, To: to}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE id = ?`, string(to), runID,
	); err != nil {
		return fmt.Errorf("transition run %d to %s: %w", runID, to, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition run %d: %w", runID, err)
	}

	return nil
}

// lockRunForResults reads the run's status inside the transaction and checks
// that results are still writable.
func lockRunForResults(ctx context.Context, tx *sql.Tx, runID int64) (model.RunStatus, error) {
	var statusStr string
	err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, runID).Scan(&statusStr)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &model.NotFoundError{Kind: "run", ID: runID}
	}
	if err != nil {
		return "", fmt.Errorf("get run %d status: %w", runID, err)
	}

	status := model.RunStatus(statusStr)
	if !status.ResultsMutable() {
		return "", &model.ValidationError{
			Field:  "run",
			Reason: fmt.Sprintf("results are read-only in status %s", status),
		}
	}

	return status, nil
}

// markInProgress performs the first-save transition out of draft.
func markInProgress(ctx context.Context, tx *sql.Tx, runID int64, status model.RunStatus) error {
	if status != model.StatusDraft || !model.CanTransition(status, model.StatusInProgress) {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE id = ?`, string(model.StatusInProgress), runID,
	); err != nil {
		return fmt.Errorf("mark run %d in progress: %w", runID, err)
	}
	return nil
}

func scanRun(s scanner) (*model.ReviewRun, error) {
	var run model.ReviewRun
	var status string
	var createdAt string
	var finishedAt sql.NullString

	err := s.Scan(&run.ID, &run.Ref, &run.AppID, &run.Seq, &status, &createdAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.Status = model.RunStatus(status)

	run.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		run.FinishedAt = &t
	}

	return &run, nil
}
