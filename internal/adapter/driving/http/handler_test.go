package httphandler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/jcnich/App-UAT-Tool/internal/adapter/driving/http"
	"github.com/jcnich/App-UAT-Tool/internal/application"
	"github.com/jcnich/App-UAT-Tool/internal/domain/model"
	"github.com/jcnich/App-UAT-Tool/internal/domain/port/driven"
)

// --- Mock implementations ---

type mockTemplateStore struct {
	sections   []model.TemplateSection
	imported   []string // "section|text" in call order
	importDupe bool
}

func (m *mockTemplateStore) AddSection(_ context.Context, name string) (model.Section, error) {
	return model.Section{ID: 1, Name: name}, nil
}
func (m *mockTemplateStore) RenameSection(_ context.Context, id int64, _ string) error {
	if id == 404 {
		return &model.NotFoundError{Kind: "section", ID: id}
	}
	return nil
}
func (m *mockTemplateStore) RemoveSection(_ context.Context, _ int64) error       { return nil }
func (m *mockTemplateStore) MoveSection(_ context.Context, _ int64, _ bool) error { return nil }
func (m *mockTemplateStore) AddCriterion(_ context.Context, sectionID int64, text string) (model.Criterion, error) {
	if text == "duplicate" {
		return model.Criterion{}, &model.ValidationError{Field: "text", Reason: "duplicate criterion"}
	}
	return model.Criterion{ID: 2, SectionID: sectionID, Text: text}, nil
}
func (m *mockTemplateStore) UpdateCriterionText(_ context.Context, _ int64, _ string) error {
	return nil
}
func (m *mockTemplateStore) RemoveCriteria(_ context.Context, _ []int64) error      { return nil }
func (m *mockTemplateStore) MoveCriterion(_ context.Context, _ int64, _ bool) error { return nil }
func (m *mockTemplateStore) ImportRow(_ context.Context, sectionName, text string) (driven.ImportRowResult, error) {
	m.imported = append(m.imported, sectionName+"|"+text)
	if m.importDupe {
		return driven.ImportRowResult{Duplicate: true}, nil
	}
	return driven.ImportRowResult{Added: true}, nil
}
func (m *mockTemplateStore) Template(_ context.Context) ([]model.TemplateSection, error) {
	return m.sections, nil
}
func (m *mockTemplateStore) Snapshot(_ context.Context, _ []int64) ([]model.SnapshotItem, error) {
	return []model.SnapshotItem{{CriterionID: 1, SectionName: "Security", Text: "c1"}}, nil
}

type mockAppStore struct {
	app *model.App
}

func (m *mockAppStore) Create(_ context.Context, app model.App) (model.App, error) {
	app.ID = 1
	app.CreatedAt = time.Now().UTC()
	return app, nil
}
func (m *mockAppStore) Get(_ context.Context, _ int64) (*model.App, error) { return m.app, nil }
func (m *mockAppStore) List(_ context.Context) ([]model.App, error)        { return nil, nil }

type mockRunStore struct {
	run           *model.ReviewRun
	detail        *model.RunDetail
	setResultErr  error
	finishErr     error
	transitionErr error
}

func (m *mockRunStore) CreateRun(_ context.Context, appID int64, _ []model.SnapshotItem, _ int64) (model.ReviewRun, error) {
	return model.ReviewRun{ID: 10, Ref: "ref-10", AppID: appID, Seq: 1, Status: model.StatusDraft, CreatedAt: time.Now().UTC()}, nil
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
func (m *mockRunStore) SetResult(_ context.Context, _, _ int64, _ model.Outcome, _ string) error {
	return m.setResultErr
}
func (m *mockRunStore) SaveProgress(_ context.Context, _ int64, _ []model.ResultUpdate) error {
	return nil
}
func (m *mockRunStore) FinishRun(_ context.Context, runID int64, _ model.CompletionPolicy) (*model.ReviewRun, error) {
	if m.finishErr != nil {
		return nil, m.finishErr
	}
	now := time.Now().UTC()
	return &model.ReviewRun{ID: runID, Status: model.StatusFinished, FinishedAt: &now, CreatedAt: now}, nil
}
func (m *mockRunStore) TransitionStatus(_ context.Context, _ int64, _ model.RunStatus) error {
	return m.transitionErr
}

// --- Helpers ---

func newTestServer(template *mockTemplateStore, apps *mockAppStore, runs *mockRunStore) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	templateSvc := application.NewTemplateService(template, logger)
	runSvc := application.NewRunService(apps, runs, template, model.PolicyStrict, logger)
	reportSvc := application.NewReportService(runs, logger)
	h := httphandler.NewHandler(templateSvc, runSvc, reportSvc, logger)
	return httphandler.NewServeMux(h, logger)
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestHealth(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestAddSection(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/template/sections", `{"name":"Security"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Security", resp["name"])
}

func TestAddSection_EmptyName(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/template/sections", `{"name":"  "}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenameSection_NotFound(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/template/sections/404", `{"name":"New"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMoveSection_BadDirection(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/template/sections/1/move", `{"direction":"sideways"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPasteCriteria(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/template/sections/1/criteria/paste",
		`{"text":"one\nduplicate\ntwo"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp["added"])
	assert.Equal(t, 1, resp["skipped"])
}

func TestImportCSV_RawBody(t *testing.T) {
	store := &mockTemplateStore{}
	handler := newTestServer(store, &mockAppStore{}, &mockRunStore{})

	csvBody := "section_name,criteria\nSecurity,Passwords are hashed\nSecurity,Sessions expire\n"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/template/import", strings.NewReader(csvBody))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Security|Passwords are hashed", "Security|Sessions expire"}, store.imported)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["criteria_added"])
	assert.NotEmpty(t, resp["batch_id"])
}

func TestImportCSV_Multipart(t *testing.T) {
	store := &mockTemplateStore{}
	handler := newTestServer(store, &mockAppStore{}, &mockRunStore{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "checklist.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("criteria,section_name\nPasswords are hashed,Security\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/template/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	// Columns are matched by header name, not position.
	assert.Equal(t, []string{"Security|Passwords are hashed"}, store.imported)
}

func TestImportCSV_BOMHeader(t *testing.T) {
	store := &mockTemplateStore{}
	handler := newTestServer(store, &mockAppStore{}, &mockRunStore{})

	csvBody := "\uFEFFsection_name,criteria\nSecurity,One\n"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/template/import", strings.NewReader(csvBody))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestImportCSV_MissingColumns(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	csvBody := "name,text\nSecurity,One\n"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/template/import", strings.NewReader(csvBody))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportCSV_ShortRowRejected(t *testing.T) {
	store := &mockTemplateStore{}
	handler := newTestServer(store, &mockAppStore{}, &mockRunStore{})

	csvBody := "section_name,criteria\nSecurity\nSecurity,Two\n"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/template/import", strings.NewReader(csvBody))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		CriteriaAdded int `json:"criteria_added"`
		Rejected      []struct {
			Line int `json:"line"`
		} `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.CriteriaAdded)
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, 1, resp.Rejected[0].Line)
}

func TestCreateApp(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/apps",
		`{"name":"Payment Portal","external_id":"T-1","owner_email":"a@b.c"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Payment Portal", resp["name"])
	assert.Equal(t, "T-1", resp["external_id"])
}

func TestGetApp_NotFound(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/apps/7", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetApp_BadID(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/apps/abc", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRun_EmptyBody(t *testing.T) {
	apps := &mockAppStore{app: &model.App{ID: 1, Name: "App"}}
	handler := newTestServer(&mockTemplateStore{}, apps, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/apps/1/runs", "")

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "draft", resp["status"])
	assert.Equal(t, float64(1), resp["seq"])
}

func TestListRuns_BadView(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/runs?view=closed", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetResult_InvalidOutcome(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/runs/1/results/2", `{"outcome":"Maybe"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetResult_FrozenRun(t *testing.T) {
	runs := &mockRunStore{
		setResultErr: &model.ValidationError{Field: "run", Reason: "results are read-only in status finished"},
	}
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, runs)

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/runs/1/results/2", `{"outcome":"Pass"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFinishRun_Incomplete(t *testing.T) {
	runs := &mockRunStore{finishErr: &model.IncompleteRunError{RunID: 1, Unanswered: 3}}
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, runs)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/runs/1/finish", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApprove_InvalidTransition(t *testing.T) {
	runs := &mockRunStore{
		transitionErr: &model.InvalidTransitionError{From: model.StatusDraft, To: model.StatusApproved},
	}
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, runs)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/runs/1/approve", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestArchiveRuns_Bulk(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/runs/archive", `{"ids":[1,2,3]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(3), resp["archived"])
}

func TestArchiveRuns_EmptyIDs(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/runs/archive", `{"ids":[]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunReport(t *testing.T) {
	finished := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	runs := &mockRunStore{
		detail: &model.RunDetail{
			Run: model.ReviewRun{ID: 1, Ref: "r1", AppID: 1, Seq: 1,
				Status: model.StatusFinished, CreatedAt: finished, FinishedAt: &finished},
			App: model.App{ID: 1, Name: "My App", CreatedAt: finished},
			Sections: []model.ReportSection{
				{Name: "Security", Items: []model.ReportItem{
					{CriterionID: 1, Text: "c1", Outcome: model.OutcomePass},
					{CriterionID: 2, Text: "c2", Outcome: model.OutcomeFail},
				}},
			},
		},
	}
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, runs)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/runs/1/report", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Counts struct {
			Pass  int `json:"pass"`
			Fail  int `json:"fail"`
			Total int `json:"total"`
		} `json:"counts"`
		SuggestedFilename string `json:"suggested_filename"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Counts.Pass)
	assert.Equal(t, 1, resp.Counts.Fail)
	assert.Equal(t, 2, resp.Counts.Total)
	assert.Equal(t, "UAT_Report_My_App_r1.pdf", resp.SuggestedFilename)
}

func TestGetRunReport_RunStillOpen(t *testing.T) {
	runs := &mockRunStore{
		detail: &model.RunDetail{
			Run: model.ReviewRun{ID: 1, Status: model.StatusInProgress, CreatedAt: time.Now().UTC()},
			App: model.App{ID: 1, Name: "My App", CreatedAt: time.Now().UTC()},
		},
	}
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, runs)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/runs/1/report", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun_NotFound(t *testing.T) {
	handler := newTestServer(&mockTemplateStore{}, &mockAppStore{}, &mockRunStore{})

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/runs/9", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
