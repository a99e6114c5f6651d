// Package httphandler is the HTTP driving adapter that exposes the review
// workflow as a REST API.
package httphandler

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jcnich/App-UAT-Tool/internal/application"
	"github.com/jcnich/App-UAT-Tool/internal/domain/model"
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	templateSvc *application.TemplateService
	runSvc      *application.RunService
	reportSvc   *application.ReportService
	logger      *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	templateSvc *application.TemplateService,
	runSvc *application.RunService,
	reportSvc *application.ReportService,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		templateSvc: templateSvc,
		runSvc:      runSvc,
		reportSvc:   reportSvc,
		logger:      logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/template", h.GetTemplate)
	mux.HandleFunc("POST /api/v1/template/sections", h.AddSection)
	mux.HandleFunc("PUT /api/v1/template/sections/{id}", h.RenameSection)
	mux.HandleFunc("DELETE /api/v1/template/sections/{id}", h.RemoveSection)
	mux.HandleFunc("POST /api/v1/template/sections/{id}/move", h.MoveSection)
	mux.HandleFunc("POST /api/v1/template/sections/{id}/criteria", h.AddCriterion)
	mux.HandleFunc("POST /api/v1/template/sections/{id}/criteria/paste", h.PasteCriteria)
	mux.HandleFunc("PUT /api/v1/template/criteria/{id}", h.UpdateCriterion)
	mux.HandleFunc("DELETE /api/v1/template/criteria", h.RemoveCriteria)
	mux.HandleFunc("POST /api/v1/template/criteria/{id}/move", h.MoveCriterion)
	mux.HandleFunc("POST /api/v1/template/import", h.ImportCSV)

	mux.HandleFunc("GET /api/v1/apps", h.ListApps)
	mux.HandleFunc("POST /api/v1/apps", h.CreateApp)
	mux.HandleFunc("GET /api/v1/apps/{id}", h.GetApp)
	mux.HandleFunc("GET /api/v1/apps/{id}/runs", h.ListAppRuns)
	mux.HandleFunc("POST /api/v1/apps/{id}/runs", h.CreateRun)
	mux.HandleFunc("POST /api/v1/apps/{id}/rereviews", h.CreateRereview)

	mux.HandleFunc("GET /api/v1/runs", h.ListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.GetRun)
	mux.HandleFunc("PUT /api/v1/runs/{id}/results/{criterionID}", h.SetResult)
	mux.HandleFunc("POST /api/v1/runs/{id}/save", h.SaveProgress)
	mux.HandleFunc("POST /api/v1/runs/{id}/finish", h.FinishRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/approve", h.ApproveRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/reject", h.RejectRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/archive", h.ArchiveRun)
	mux.HandleFunc("POST /api/v1/runs/archive", h.ArchiveRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}/report", h.GetRunReport)

	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// GetTemplate returns the current checklist template.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	sections, err := h.templateSvc.Template(r.Context())
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	resp := make([]TemplateSectionResponse, 0, len(sections))
	for _, s := range sections {
		resp = append(resp, toTemplateSectionResponse(s))
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddSection creates a section at the end of the template.
func (h *Handler) AddSection(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sec, err := h.templateSvc.AddSection(r.Context(), req.Name)
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSectionResponse(sec))
}

// RenameSection changes a section's name.
func (h *Handler) RenameSection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req NameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.templateSvc.RenameSection(r.Context(), id, req.Name); err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveSection deletes a section and its criteria from the live template.
func (h *Handler) RemoveSection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.templateSvc.RemoveSection(r.Context(), id); err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MoveSection moves a section one step up or down.
func (h *Handler) MoveSection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	up, ok := parseDirection(w, r)
	if !ok {
		return
	}

	if err := h.templateSvc.MoveSection(r.Context(), id, up); err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AddCriterion appends one criterion to a section.
func (h *Handler) AddCriterion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req TextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	crit, err := h.templateSvc.AddCriterion(r.Context(), id, req.Text)
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCriterionResponse(crit))
}

// PasteCriteria appends one criterion per non-blank line of the pasted block.
func (h *Handler) PasteCriteria(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req TextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	added, skipped, err := h.templateSvc.AddCriteria(r.Context(), id, req.Text)
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, PasteResponse{Added: added, Skipped: skipped})
}

// UpdateCriterion edits a criterion's text.
func (h *Handler) UpdateCriterion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req TextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.templateSvc.UpdateCriterionText(r.Context(), id, req.Text); err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveCriteria deletes the given criteria from the live template.
func (h *Handler) RemoveCriteria(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids must not be empty")
		return
	}

	if err := h.templateSvc.RemoveCriteria(r.Context(), req.IDs); err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MoveCriterion moves a criterion one step up or down within its section.
func (h *Handler) MoveCriterion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	up, ok := parseDirection(w, r)
	if !ok {
		return
	}

	if err := h.templateSvc.MoveCriterion(r.Context(), id, up); err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ImportCSV merges an uploaded CSV file into the template. The body is either
// a multipart form with a "file" field or a raw CSV payload. The header row
// must name section_name and criteria columns; extra columns are ignored.
func (h *Handler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	body, err := importBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload: expected a CSV body or a multipart 'file' field")
		return
	}
	defer body.Close()

	rows, err := parseImportCSV(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.templateSvc.ImportCSV(r.Context(), rows)
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, toImportSummaryResponse(summary))
}

// ListApps returns all registered apps.
func (h *Handler) ListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.runSvc.ListApps(r.Context())
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	resp := make([]AppResponse, 0, len(apps))
	for _, a := range apps {
		resp = append(resp, toAppResponse(a))
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateApp registers a new app under review.
func (h *Handler) CreateApp(w http.ResponseWriter, r *http.Request) {
	var req CreateAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	app, err := h.runSvc.CreateApp(r.Context(), model.App{
		Name:       req.Name,
		ExternalID: req.ExternalID,
		OwnerEmail: req.OwnerEmail,
		Notes:      req.Notes,
	})
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppResponse(app))
}

// GetApp returns a single app by id.
func (h *Handler) GetApp(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	app, err := h.runSvc.GetApp(r.Context(), id)
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppResponse(app))
}

// ListAppRuns returns the app's runs ordered by sequence number.
func (h *Handler) ListAppRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	runs, err := h.runSvc.ListRunsByApp(r.Context(), id)
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(run))
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateRun starts a fresh review run for the app.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	h.createRun(w, r, false)
}

// CreateRereview starts another run for an app with prior runs, optionally
// carrying over outcomes from an earlier run.
func (h *Handler) CreateRereview(w http.ResponseWriter, r *http.Request) {
	h.createRun(w, r, true)
}

func (h *Handler) createRun(w http.ResponseWriter, r *http.Request, rereview bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	// An empty body means default options.
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := application.CreateRunOptions{
		SectionIDs:     req.SectionIDs,
		CarryFromRunID: req.CarryFromRunID,
	}

	var run model.ReviewRun
	var err error
	if rereview {
		run, err = h.runSvc.CreateRereview(r.Context(), id, opts)
	} else {
		run, err = h.runSvc.CreateRun(r.Context(), id, opts)
	}
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRunResponse(run))
}

// ListRuns returns the active view by default, or the archived view when
// the view query parameter says so.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	view := r.URL.Query().Get("view")
	if view == "" {
		view = "active"
	}
	if view != "active" && view != "archived" {
		writeError(w, http.StatusBadRequest, "view must be 'active' or 'archived'")
		return
	}

	runs, err := h.runSvc.ListRuns(r.Context(), view == "archived")
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	resp := make([]RunSummaryResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunSummaryResponse(run))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetRun returns a run with its app and grouped snapshot results.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.runSvc.GetRun(r.Context(), id)
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRunDetailResponse(detail))
}

// SetResult records one outcome on a run.
func (h *Handler) SetResult(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	criterionID, ok := pathID(w, r, "criterionID")
	if !ok {
		return
	}

	var req ResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.runSvc.SetResult(r.Context(), runID, criterionID, model.Outcome(req.Outcome), req.Attachment)
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SaveProgress applies a batch of result updates to a run.
func (h *Handler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req SaveProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updates := make([]model.ResultUpdate, 0, len(req.Results))
	for _, u := range req.Results {
		updates = append(updates, model.ResultUpdate{
			CriterionID: u.CriterionID,
			Outcome:     model.Outcome(u.Outcome),
			Attachment:  u.Attachment,
		})
	}

	if err := h.runSvc.SaveProgress(r.Context(), runID, updates); err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// FinishRun completes an in-progress run.
func (h *Handler) FinishRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	run, err := h.runSvc.FinishRun(r.Context(), id)
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// ApproveRun marks a finished run approved.
func (h *Handler) ApproveRun(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.runSvc.Approve)
}

// RejectRun marks a finished run rejected.
func (h *Handler) RejectRun(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.runSvc.Reject)
}

// ArchiveRun moves an approved or rejected run to archived.
func (h *Handler) ArchiveRun(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.runSvc.Archive)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, runID int64) error) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := fn(r.Context(), id); err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ArchiveRuns archives a batch of runs, reporting per-run failures.
func (h *Handler) ArchiveRuns(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids must not be empty")
		return
	}

	summary, err := h.runSvc.ArchiveRuns(r.Context(), req.IDs)
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, toArchiveSummaryResponse(summary))
}

// GetRunReport returns the report view of a finished-or-later run.
func (h *Handler) GetRunReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	report, err := h.reportSvc.BuildRunReport(r.Context(), id)
	if err != nil {
		writeDomainError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, toReportResponse(report))
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// pathID parses the named path segment as an int64 id, writing a 400 and
// returning false when it is not a number.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// parseDirection reads a MoveRequest body and maps it to the up flag.
func parseDirection(w http.ResponseWriter, r *http.Request) (up, ok bool) {
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false, false
	}

	switch req.Direction {
	case "up":
		return true, true
	case "down":
		return false, true
	default:
		writeError(w, http.StatusBadRequest, "direction must be 'up' or 'down'")
		return false, false
	}
}

// importBody returns the CSV payload of an import request: the "file" field
// when the request is a multipart form, otherwise the raw body.
func importBody(r *http.Request) (io.ReadCloser, error) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data") {
		return r.Body, nil
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	return file, nil
}

// parseImportCSV reads the CSV payload into import rows. The first record is
// the header and must contain section_name and criteria columns (any order,
// case-insensitive, UTF-8 BOM tolerated). Data rows keep their 1-based number
// so rejects can point at the offending line. Short records surface through
// the service's empty-field rejection rather than aborting the file.
func parseImportCSV(body io.Reader) ([]application.ImportRow, error) {
	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, &model.ValidationError{Field: "file", Reason: "empty or unreadable CSV"}
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	sectionIdx, textIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "section_name":
			sectionIdx = i
		case "criteria":
			textIdx = i
		}
	}
	if sectionIdx < 0 || textIdx < 0 {
		return nil, &model.ValidationError{Field: "file", Reason: "header must contain section_name and criteria columns"}
	}

	var rows []application.ImportRow
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &model.ValidationError{Field: "file", Reason: fmt.Sprintf("malformed CSV at data row %d", line)}
		}

		row := application.ImportRow{Line: line}
		if sectionIdx < len(record) {
			row.SectionName = record[sectionIdx]
		}
		if textIdx < len(record) {
			row.Text = record[textIdx]
		}
		rows = append(rows, row)
	}

	return rows, nil
}
