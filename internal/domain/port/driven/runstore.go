package driven

import (
	"context"

	"github.com/jcnich/App-UAT-Tool/internal/domain/model"
)

// RunStore defines the driven port for review runs, their frozen criterion
// snapshots, and result entries. Every mutating method is one transaction
// that reads current state, validates the workflow invariant, and writes;
// there is no interleaving window between check and update.
//
// Status checks surface as *model.InvalidTransitionError or
// *model.ValidationError, missing records as *model.NotFoundError, and a
// strict-policy finish with unanswered criteria as *model.IncompleteRunError.
type RunStore interface {
	// CreateRun inserts a new run for the app in status draft: assigns the
	// next per-app sequence number, stores the snapshot, and initializes one
	// unset result entry per snapshot criterion. When carryFromRunID is
	// non-zero, outcomes and attachments are copied from that prior run of
	// the same app for criteria present in both snapshots; the prior run is
	// never modified.
	CreateRun(ctx context.Context, appID int64, snapshot []model.SnapshotItem, carryFromRunID int64) (model.ReviewRun, error)

	// GetRun returns (nil, nil) when the run does not exist.
	GetRun(ctx context.Context, id int64) (*model.ReviewRun, error)

	// GetRunDetail returns the run joined with its app and its snapshot
	// grouped by frozen section name, each item carrying the current result.
	GetRunDetail(ctx context.Context, id int64) (*model.RunDetail, error)

	// ListRuns returns run summaries with progress counts, newest first.
	// archived=false is the Active view (every non-archived status).
	ListRuns(ctx context.Context, archived bool) ([]model.RunSummary, error)

	// ListRunsByApp returns the app's runs ordered by sequence number.
	ListRunsByApp(ctx context.Context, appID int64) ([]model.ReviewRun, error)

	// SetResult upserts one result entry. The criterion must belong to the
	// run's snapshot and the run must still be draft or in progress. The
	// first recorded result moves a draft run to in progress.
	SetResult(ctx context.Context, runID, criterionID int64, outcome model.Outcome, attachment string) error

	// SaveProgress applies a batch of result updates and performs the
	// draft -> in progress transition, even for an empty batch.
	SaveProgress(ctx context.Context, runID int64, updates []model.ResultUpdate) error

	// FinishRun moves an in-progress run to finished and stamps finished_at.
	// Under PolicyStrict every snapshot criterion must have an explicit
	// outcome; under PolicyImplicitNA unset entries are recorded as NA
	// within the same transaction.
	FinishRun(ctx context.Context, runID int64, policy model.CompletionPolicy) (*model.ReviewRun, error)

	// TransitionStatus applies one workflow step (approve, reject, archive)
	// after checking it against the central transition table.
	TransitionStatus(ctx context.Context, runID int64, to model.RunStatus) error
}
