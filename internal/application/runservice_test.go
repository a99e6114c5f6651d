package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcnich/App-UAT-Tool/internal/domain/model"
)

// --- Mock app store ---

type mockAppStore struct {
	apps   map[int64]model.App
	nextID int64
}

func newMockAppStore() *mockAppStore {
	return &mockAppStore{apps: make(map[int64]model.App)}
}

func (m *mockAppStore) Create(_ context.Context, app model.App) (model.App, error) {
	m.nextID++
	app.ID = m.nextID
	app.CreatedAt = time.Now().UTC()
	m.apps[app.ID] = app
	return app, nil
}

func (m *mockAppStore) Get(_ context.Context, id int64) (*model.App, error) {
	app, ok := m.apps[id]
	if !ok {
		return nil, nil
	}
	return &app, nil
}

func (m *mockAppStore) List(_ context.Context) ([]model.App, error) {
	out := make([]model.App, 0, len(m.apps))
	for _, app := range m.apps {
		out = append(out, app)
	}
	return out, nil
}

// --- Mock run store ---

// mockRunStore records the arguments of the last mutating call and returns
// canned values. Workflow rules live in the real store; here we only verify
// that the service routes and validates correctly.
type mockRunStore struct {
	createdSnapshots [][]model.SnapshotItem
	lastCarryFrom    int64
	lastOutcome      model.Outcome
	lastAttachment   string
	lastUpdates      []model.ResultUpdate
	lastPolicy       model.CompletionPolicy
	transitions      []model.RunStatus

	run            *model.ReviewRun
	detail         *model.RunDetail
	transitionErrs map[int64]error
}

func (m *mockRunStore) CreateRun(_ context.Context, appID int64, snapshot []model.SnapshotItem, carryFromRunID int64) (model.ReviewRun, error) {
	m.createdSnapshots = append(m.createdSnapshots, snapshot)
	m.lastCarryFrom = carryFromRunID
	return model.ReviewRun{ID: 1, AppID: appID, Seq: len(m.createdSnapshots), Status: model.StatusDraft}, nil
}

func (m *mockRunStore) GetRun(_ context.Context, _ int64) (*model.ReviewRun, error) {
	return m.run, nil
}

func (m *mockRunStore) GetRunDetail(_ context.Context, _ int64) (*model.RunDetail, error) {
	return m.detail, nil
}

func (m *mockRunStore) ListRuns(_ context.Context, _ bool) ([]model.RunSummary, error) {
	return nil, nil
}

func (m *mockRunStore) ListRunsByApp(_ context.Context, _ int64) ([]model.ReviewRun, error) {
	return nil, nil
}

func (m *mockRunStore) SetResult(_ context.Context, _, _ int64, outcome model.Outcome, attachment string) error {
	m.lastOutcome = outcome
	m.lastAttachment = attachment
	return nil
}

func (m *mockRunStore) SaveProgress(_ context.Context, _ int64, updates []model.ResultUpdate) error {
	m.lastUpdates = updates
	return nil
}

func (m *mockRunStore) FinishRun(_ context.Context, runID int64, policy model.CompletionPolicy) (*model.ReviewRun, error) {
	m.lastPolicy = policy
	return &model.ReviewRun{ID: runID, Status: model.StatusFinished}, nil
}

func (m *mockRunStore) TransitionStatus(_ context.Context, runID int64, to model.RunStatus) error {
	if err, ok := m.transitionErrs[runID]; ok {
		return err
	}
	m.transitions = append(m.transitions, to)
	return nil
}

func newRunService(apps *mockAppStore, runs *mockRunStore, template *mockTemplateStore) *RunService {
	return NewRunService(apps, runs, template, model.PolicyStrict, testLogger())
}

// --- Tests ---

func TestRunService_CreateApp(t *testing.T) {
	svc := newRunService(newMockAppStore(), &mockRunStore{}, &mockTemplateStore{})

	app, err := svc.CreateApp(context.Background(), model.App{Name: "  Payment Portal  "})
	require.NoError(t, err)
	assert.Equal(t, "Payment Portal", app.Name)
	assert.NotZero(t, app.ID)
}

func TestRunService_CreateApp_EmptyName(t *testing.T) {
	svc := newRunService(newMockAppStore(), &mockRunStore{}, &mockTemplateStore{})

	_, err := svc.CreateApp(context.Background(), model.App{Name: "   "})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
}

func TestRunService_GetApp_NotFound(t *testing.T) {
	svc := newRunService(newMockAppStore(), &mockRunStore{}, &mockTemplateStore{})

	_, err := svc.GetApp(context.Background(), 42)
	var nerr *model.NotFoundError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "app", nerr.Kind)
	assert.Equal(t, int64(42), nerr.ID)
}

func TestRunService_CreateRun_SnapshotsTemplate(t *testing.T) {
	apps := newMockAppStore()
	runs := &mockRunStore{}
	template := &mockTemplateStore{}
	svc := newRunService(apps, runs, template)
	ctx := context.Background()

	app, err := svc.CreateApp(ctx, model.App{Name: "App"})
	require.NoError(t, err)

	sec, err := template.AddSection(ctx, "Security")
	require.NoError(t, err)
	_, err = template.AddCriterion(ctx, sec.ID, "Passwords are hashed")
	require.NoError(t, err)

	_, err = svc.CreateRun(ctx, app.ID, CreateRunOptions{})
	require.NoError(t, err)

	require.Len(t, runs.createdSnapshots, 1)
	require.Len(t, runs.createdSnapshots[0], 1)
	assert.Equal(t, "Passwords are hashed", runs.createdSnapshots[0][0].Text)
	assert.Zero(t, runs.lastCarryFrom)
}

func TestRunService_CreateRereview_PassesCarryOver(t *testing.T) {
	apps := newMockAppStore()
	runs := &mockRunStore{}
	svc := newRunService(apps, runs, &mockTemplateStore{})
	ctx := context.Background()

	app, err := svc.CreateApp(ctx, model.App{Name: "App"})
	require.NoError(t, err)

	_, err = svc.CreateRereview(ctx, app.ID, CreateRunOptions{CarryFromRunID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(7), runs.lastCarryFrom)
}

func TestRunService_GetRun_NotFound(t *testing.T) {
	svc := newRunService(newMockAppStore(), &mockRunStore{}, &mockTemplateStore{})

	_, err := svc.GetRun(context.Background(), 5)
	var nerr *model.NotFoundError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "run", nerr.Kind)
}

func TestRunService_ListRunsByApp_UnknownApp(t *testing.T) {
	svc := newRunService(newMockAppStore(), &mockRunStore{}, &mockTemplateStore{})

	_, err := svc.ListRunsByApp(context.Background(), 5)
	var nerr *model.NotFoundError
	require.ErrorAs(t, err, &nerr)
}

func TestRunService_SetResult_ValidatesOutcome(t *testing.T) {
	runs := &mockRunStore{}
	svc := newRunService(newMockAppStore(), runs, &mockTemplateStore{})
	ctx := context.Background()

	err := svc.SetResult(ctx, 1, 2, "Maybe", "")
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)

	err = svc.SetResult(ctx, 1, 2, model.OutcomePass, "  note.png  ")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePass, runs.lastOutcome)
	assert.Equal(t, "note.png", runs.lastAttachment, "attachments are trimmed")
}

func TestRunService_SaveProgress_ValidatesBatch(t *testing.T) {
	runs := &mockRunStore{}
	svc := newRunService(newMockAppStore(), runs, &mockTemplateStore{})
	ctx := context.Background()

	err := svc.SaveProgress(ctx, 1, []model.ResultUpdate{
		{CriterionID: 1, Outcome: "Maybe"},
	})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)

	// Unset outcomes pass through untouched; they mean attachment-only.
	err = svc.SaveProgress(ctx, 1, []model.ResultUpdate{
		{CriterionID: 1, Outcome: model.OutcomeUnset, Attachment: " a.png "},
		{CriterionID: 2, Outcome: model.OutcomeFail},
	})
	require.NoError(t, err)
	require.Len(t, runs.lastUpdates, 2)
	assert.Equal(t, "a.png", runs.lastUpdates[0].Attachment)
}

func TestRunService_FinishRun_UsesConfiguredPolicy(t *testing.T) {
	runs := &mockRunStore{}
	svc := NewRunService(newMockAppStore(), runs, &mockTemplateStore{}, model.PolicyImplicitNA, testLogger())

	run, err := svc.FinishRun(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, run.Status)
	assert.Equal(t, model.PolicyImplicitNA, runs.lastPolicy)
}

func TestRunService_Transitions(t *testing.T) {
	runs := &mockRunStore{}
	svc := newRunService(newMockAppStore(), runs, &mockTemplateStore{})
	ctx := context.Background()

	require.NoError(t, svc.Approve(ctx, 1))
	require.NoError(t, svc.Reject(ctx, 2))
	require.NoError(t, svc.Archive(ctx, 3))

	assert.Equal(t, []model.RunStatus{
		model.StatusApproved, model.StatusRejected, model.StatusArchived,
	}, runs.transitions)
}

func TestRunService_ArchiveRuns_CollectsPerRunFailures(t *testing.T) {
	runs := &mockRunStore{
		transitionErrs: map[int64]error{
			2: &model.InvalidTransitionError{From: model.StatusDraft, To: model.StatusArchived},
			3: &model.NotFoundError{Kind: "run", ID: 3},
		},
	}
	svc := newRunService(newMockAppStore(), runs, &mockTemplateStore{})

	summary, err := svc.ArchiveRuns(context.Background(), []int64{1, 2, 3, 4})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Archived)
	require.Len(t, summary.Failed, 2)
	assert.Equal(t, int64(2), summary.Failed[0].RunID)
	assert.Equal(t, int64(3), summary.Failed[1].RunID)
}

func TestRunService_ArchiveRuns_AbortsOnUnexpectedError(t *testing.T) {
	boom := errors.New("disk on fire")
	runs := &mockRunStore{
		transitionErrs: map[int64]error{2: boom},
	}
	svc := newRunService(newMockAppStore(), runs, &mockTemplateStore{})

	summary, err := svc.ArchiveRuns(context.Background(), []int64{1, 2, 3})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, summary.Archived, "runs before the failure stay archived")
}
