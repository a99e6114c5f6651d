package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jcnich/App-UAT-Tool/internal/domain/model"
	"github.com/jcnich/App-UAT-Tool/internal/domain/port/driven"
)

// CreateRunOptions tunes run creation. SectionIDs restricts the snapshot to
// the given sections (nil means the full template). CarryFromRunID, honored
// only for re-reviews, copies outcomes from a prior run of the same app for
// criteria present in both snapshots.
type CreateRunOptions struct {
	SectionIDs     []int64
	CarryFromRunID int64
}

// ArchiveItemError records why one run in a bulk archive was not archived.
type ArchiveItemError struct {
	RunID  int64
	Reason string
}

// ArchiveSummary is the batch-with-per-item-result outcome of a bulk archive.
type ArchiveSummary struct {
	Archived int
	Failed   []ArchiveItemError
}

// RunService owns the review run lifecycle: creation and re-review, result
// entry, and the workflow transitions. All business rules live here and in
// the store transactions beneath; presentation code never re-checks them.
type RunService struct {
	apps     driven.AppStore
	runs     driven.RunStore
	template driven.TemplateStore
	policy   model.CompletionPolicy
	logger   *slog.Logger
}

// NewRunService creates a RunService. policy decides what FinishRun requires;
// it is fixed per deployment, not per call.
func NewRunService(
	apps driven.AppStore,
	runs driven.RunStore,
	template driven.TemplateStore,
	policy model.CompletionPolicy,
	logger *slog.Logger,
) *RunService {
	return &RunService{
		apps:     apps,
		runs:     runs,
		template: template,
		policy:   policy,
		logger:   logger,
	}
}

// CreateApp registers a new app under review.
func (s *RunService) CreateApp(ctx context.Context, app model.App) (model.App, error) {
	app.Name = strings.TrimSpace(app.Name)
	if app.Name == "" {
		return model.App{}, &model.ValidationError{Field: "name", Reason: "app name must not be empty"}
	}

	created, err := s.apps.Create(ctx, app)
	if err != nil {
		return model.App{}, err
	}

	s.logger.Info("app created", "app_id", created.ID, "name", created.Name)
	return created, nil
}

// GetApp returns the app with the given id.
func (s *RunService) GetApp(ctx context.Context, id int64) (model.App, error) {
	app, err := s.apps.Get(ctx, id)
	if err != nil {
		return model.App{}, err
	}
	if app == nil {
		return model.App{}, &model.NotFoundError{Kind: "app", ID: id}
	}
	return *app, nil
}

// ListApps returns all registered apps, newest first.
func (s *RunService) ListApps(ctx context.Context) ([]model.App, error) {
	return s.apps.List(ctx)
}

// CreateRun starts a fresh review run for the app: the current template
// criteria are frozen into the run's snapshot and every result starts unset.
func (s *RunService) CreateRun(ctx context.Context, appID int64, opts CreateRunOptions) (model.ReviewRun, error) {
	run, err := s.createRun(ctx, appID, opts.SectionIDs, 0)
	if err != nil {
		return model.ReviewRun{}, err
	}

	s.logger.Info("run created", "run_id", run.ID, "app_id", appID, "seq", run.Seq)
	return run, nil
}

// CreateRereview starts another run for an app that already has prior runs.
// It is always permitted regardless of the prior runs' statuses, takes a
// fresh snapshot of the current template, and never mutates prior runs.
func (s *RunService) CreateRereview(ctx context.Context, appID int64, opts CreateRunOptions) (model.ReviewRun, error) {
	run, err := s.createRun(ctx, appID, opts.SectionIDs, opts.CarryFromRunID)
	if err != nil {
		return model.ReviewRun{}, err
	}

	s.logger.Info("re-review created",
		"run_id", run.ID,
		"app_id", appID,
		"seq", run.Seq,
		"carry_from_run_id", opts.CarryFromRunID,
	)
	return run, nil
}

func (s *RunService) createRun(ctx context.Context, appID int64, sectionIDs []int64, carryFrom int64) (model.ReviewRun, error) {
	snapshot, err := s.template.Snapshot(ctx, sectionIDs)
	if err != nil {
		return model.ReviewRun{}, err
	}
	return s.runs.CreateRun(ctx, appID, snapshot, carryFrom)
}

// ListRunsByApp returns the app's runs ordered by sequence number.
func (s *RunService) ListRunsByApp(ctx context.Context, appID int64) ([]model.ReviewRun, error) {
	if _, err := s.GetApp(ctx, appID); err != nil {
		return nil, err
	}
	return s.runs.ListRunsByApp(ctx, appID)
}

// ListRuns returns the Active or Archived view with progress counts.
// The partition is purely by status: archived on one side, everything else
// on the other.
func (s *RunService) ListRuns(ctx context.Context, archived bool) ([]model.RunSummary, error) {
	return s.runs.ListRuns(ctx, archived)
}

// GetRun returns the run joined with its app and grouped snapshot results.
func (s *RunService) GetRun(ctx context.Context, id int64) (model.RunDetail, error) {
	detail, err := s.runs.GetRunDetail(ctx, id)
	if err != nil {
		return model.RunDetail{}, err
	}
	if detail == nil {
		return model.RunDetail{}, &model.NotFoundError{Kind: "run", ID: id}
	}
	return *detail, nil
}

// SetResult records one outcome. The run must still be draft or in progress
// and the criterion must belong to the run's snapshot.
func (s *RunService) SetResult(ctx context.Context, runID, criterionID int64, outcome model.Outcome, attachment string) error {
	if !model.IsValidOutcome(outcome) {
		return &model.ValidationError{Field: "outcome", Reason: "outcome must be Pass, Fail, Partial, or NA"}
	}
	return s.runs.SetResult(ctx, runID, criterionID, outcome, strings.TrimSpace(attachment))
}

// SaveProgress applies a batch of result updates. The first save moves a
// draft run to in progress, even when the batch is empty. Updates with an
// unset outcome touch only the attachment.
func (s *RunService) SaveProgress(ctx context.Context, runID int64, updates []model.ResultUpdate) error {
	for i := range updates {
		if updates[i].Outcome != model.OutcomeUnset && !model.IsValidOutcome(updates[i].Outcome) {
			return &model.ValidationError{Field: "outcome", Reason: "outcome must be Pass, Fail, Partial, or NA"}
		}
		updates[i].Attachment = strings.TrimSpace(updates[i].Attachment)
	}
	return s.runs.SaveProgress(ctx, runID, updates)
}

// FinishRun completes an in-progress run under the configured completion
// policy and stamps finished_at.
func (s *RunService) FinishRun(ctx context.Context, runID int64) (model.ReviewRun, error) {
	run, err := s.runs.FinishRun(ctx, runID, s.policy)
	if err != nil {
		return model.ReviewRun{}, err
	}

	s.logger.Info("run finished", "run_id", runID, "policy", string(s.policy))
	return *run, nil
}

// Approve marks a finished run approved.
func (s *RunService) Approve(ctx context.Context, runID int64) error {
	return s.transition(ctx, runID, model.StatusApproved)
}

// Reject marks a finished run rejected.
func (s *RunService) Reject(ctx context.Context, runID int64) error {
	return s.transition(ctx, runID, model.StatusRejected)
}

// Archive moves an approved or rejected run to the terminal archived state.
func (s *RunService) Archive(ctx context.Context, runID int64) error {
	return s.transition(ctx, runID, model.StatusArchived)
}

func (s *RunService) transition(ctx context.Context, runID int64, to model.RunStatus) error {
	if err := s.runs.TransitionStatus(ctx, runID, to); err != nil {
		return err
	}
	s.logger.Info("run status changed", "run_id", runID, "status", string(to))
	return nil
}

// ArchiveRuns archives each of the given runs, collecting per-run failures
// (wrong state, unknown id) instead of aborting the batch. Unexpected store
// errors still abort.
func (s *RunService) ArchiveRuns(ctx context.Context, ids []int64) (ArchiveSummary, error) {
	var summary ArchiveSummary

	for _, id := range ids {
		err := s.runs.TransitionStatus(ctx, id, model.StatusArchived)
		if err == nil {
			summary.Archived++
			continue
		}

		var terr *model.InvalidTransitionError
		var nerr *model.NotFoundError
		if errors.As(err, &terr) || errors.As(err, &nerr) {
			summary.Failed = append(summary.Failed, ArchiveItemError{RunID: id, Reason: err.Error()})
			continue
		}

		return summary, err
	}

	s.logger.Info("bulk archive", "archived", summary.Archived, "failed", len(summary.Failed))
	return summary, nil
}
